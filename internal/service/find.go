package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/keyword"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
)

var findOptions = &keyword.SearchOptions{
	SubjectBoost: 2,
	FuzzyEnabled: true,
	Fuzziness:    1,
}

// FindMails returns mails similar to the focus mail. With a keyword, only
// neighbours that also match the keyword are kept, still ordered by distance.
func (s *Service) FindMails(ctx context.Context, tenant string, req *models.FindMailsRequest) ([]models.SimilarityResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.mails.GetMail(ctx, tenant, req.ID); err != nil {
		return nil, err
	}
	if req.SearchKeywordSimilarMails == "" || s.index == nil {
		matches, err := s.store.Query(ctx, tenant, req.ID, s.cfg.ClosestK, nil)
		if err != nil {
			return nil, fmt.Errorf("similar mails of %s: %w", req.ID, err)
		}
		return s.withMails(ctx, tenant, matches)
	}

	var (
		hits    []*keyword.Result
		matches []vector.Match
		errChan = make(chan error, 2)
		wg      sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results, err := s.index.Search(ctx, tenant, req.SearchKeywordSimilarMails, s.cfg.FindCandidates, findOptions)
		if err != nil {
			errChan <- fmt.Errorf("keyword search failed: %w", err)
			return
		}
		hits = results
	}()
	go func() {
		defer wg.Done()
		results, err := s.store.Query(ctx, tenant, req.ID, s.cfg.FindCandidates, nil)
		if err != nil {
			errChan <- fmt.Errorf("similar mails of %s: %w", req.ID, err)
			return
		}
		matches = results
	}()
	wg.Wait()
	close(errChan)
	for err := range errChan {
		if err != nil {
			return nil, err
		}
	}
	return s.withMails(ctx, tenant, intersect(matches, hits))
}

// intersect keeps the matches that were also keyword hits, in match order.
func intersect(matches []vector.Match, hits []*keyword.Result) []vector.Match {
	found := make(map[string]bool, len(hits))
	for _, h := range hits {
		found[h.ID] = true
	}
	out := make([]vector.Match, 0, len(hits))
	for _, m := range matches {
		if found[m.Document.ID] {
			out = append(out, m)
		}
	}
	return out
}
