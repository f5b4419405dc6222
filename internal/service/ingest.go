package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/extract"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/insights"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// AddMails processes a batch, persists the records, embeds the bodies and
// indexes them for keyword search. It returns the records as re-read from
// storage. If the records were stored but embedding or keyword indexing
// failed, the records are returned together with a *PartialError; embedding
// failures take precedence. A mail whose id is already stored is processed
// again but keeps the response that was sent for it.
func (s *Service) AddMails(ctx context.Context, tenant string, req *models.AddMailsRequest) ([]*models.StoredMail, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	batch := make([]models.Mail, len(req.Mails))
	var explicit []string
	for i, m := range req.Mails {
		if m.ID == "" {
			m.ID = uuid.NewString()
		} else {
			explicit = append(explicit, m.ID)
		}
		m.Body = extract.NormalizeBody(m.Body)
		batch[i] = m
	}
	previous, err := s.mails.GetMails(ctx, tenant, explicit)
	if err != nil {
		return nil, err
	}
	defs, err := s.mails.GetAttributes(ctx, tenant)
	if err != nil {
		return nil, err
	}
	processed, err := s.orchestrator.Process(ctx, batch, insights.BatchOptions{
		Tenant:     tenant,
		Rag:        req.Rag,
		Attributes: defs,
	})
	if err != nil {
		return nil, fmt.Errorf("process mails: %w", err)
	}
	if len(previous) > 0 {
		byID := make(map[string]*models.StoredMail, len(previous))
		for _, m := range previous {
			byID[m.ID] = m
		}
		for _, m := range processed {
			if old, ok := byID[m.ID]; ok {
				keepSentResponse(m, old)
			}
		}
	}
	if err := s.mails.SaveMails(ctx, tenant, processed); err != nil {
		return nil, err
	}

	ids := make([]string, len(processed))
	for i, m := range processed {
		ids[i] = m.ID
	}
	embedErr := s.embed(ctx, tenant, processed)
	keywordErr := s.indexKeywords(ctx, tenant, processed)

	stored, err := s.mails.GetMails(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range stored {
		models.FillActionDescriptions(m.SuggestedActions)
	}
	s.logger.Info("mails added",
		zap.String("tenant", tenant),
		zap.Int("count", len(stored)),
		zap.Bool("rag", req.Rag))
	if embedErr != nil {
		s.logger.Error("embedding failed after records were stored",
			zap.String("tenant", tenant), zap.Strings("ids", ids), zap.Error(embedErr))
		return stored, &PartialError{Stage: StageEmbedding, IDs: ids, Err: embedErr}
	}
	if keywordErr != nil {
		return stored, keywordErr
	}
	return stored, nil
}

func (s *Service) embed(ctx context.Context, tenant string, mails []*models.StoredMail) error {
	docs := make([]vector.Document, len(mails))
	for i, m := range mails {
		docs[i] = vector.Document{
			ID:          m.ID,
			PageContent: m.Body,
			Metadata:    map[string]any{vector.MetaSubmitted: m.Responded},
		}
	}
	return s.store.AddDocuments(ctx, tenant, docs)
}

// indexKeywords indexes every mail it can and reports the ones it could not
// as a keyword stage *PartialError. A missing entry only narrows findMails.
func (s *Service) indexKeywords(ctx context.Context, tenant string, mails []*models.StoredMail) *PartialError {
	if s.index == nil {
		return nil
	}
	var (
		failed []string
		errs   []error
	)
	for _, m := range mails {
		if err := s.index.Index(ctx, tenant, m); err != nil {
			s.logger.Warn("keyword index failed", zap.String("tenant", tenant), zap.String("id", m.ID), zap.Error(err))
			failed = append(failed, m.ID)
			errs = append(errs, err)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &PartialError{Stage: StageKeyword, IDs: failed, Err: errors.Join(errs...)}
}

// RegenerateInsights reprocesses every mail of the tenant. Responded mails
// keep the response that was sent. Mails that were saved but not re-indexed
// for keyword search are reported with a *PartialError.
func (s *Service) RegenerateInsights(ctx context.Context, tenant string, req *models.RegenerateInsightsRequest) (bool, error) {
	existing, err := s.mails.ListMails(ctx, tenant)
	if err != nil {
		return false, err
	}
	defs, err := s.mails.GetAttributes(ctx, tenant)
	if err != nil {
		return false, err
	}
	var unindexed *PartialError
	for start := 0; start < len(existing); start += models.MaxBatchSize {
		end := min(start+models.MaxBatchSize, len(existing))
		chunk := existing[start:end]
		batch := make([]models.Mail, len(chunk))
		for i, m := range chunk {
			batch[i] = m.Mail
		}
		processed, err := s.orchestrator.Process(ctx, batch, insights.BatchOptions{
			Tenant:     tenant,
			Rag:        req.Rag,
			Attributes: defs,
		})
		if err != nil {
			return false, fmt.Errorf("regenerate insights: %w", err)
		}
		for i, m := range processed {
			keepSentResponse(m, chunk[i])
		}
		if err := s.mails.SaveMails(ctx, tenant, processed); err != nil {
			return false, err
		}
		if perr := s.indexKeywords(ctx, tenant, processed); perr != nil {
			if unindexed == nil {
				unindexed = perr
			} else {
				unindexed.IDs = append(unindexed.IDs, perr.IDs...)
				unindexed.Err = errors.Join(unindexed.Err, perr.Err)
			}
		}
	}
	s.logger.Info("insights regenerated", zap.String("tenant", tenant), zap.Int("count", len(existing)))
	if unindexed != nil {
		return true, unindexed
	}
	return true, nil
}

func keepSentResponse(fresh, old *models.StoredMail) {
	fresh.CreatedAt = old.CreatedAt
	if !old.Responded {
		return
	}
	fresh.Responded = true
	fresh.ResponseBody = old.ResponseBody
	if fresh.Translation != nil && old.Translation != nil {
		fresh.Translation.ResponseBody = old.Translation.ResponseBody
	}
}
