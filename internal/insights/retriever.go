package insights

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
)

// Retriever supplies past responses that ground a draft.
type Retriever interface {
	// SimilarResponses returns the responses sent to the k submitted mails
	// nearest to mail.
	SimilarResponses(ctx context.Context, tenant string, mail models.Mail, k int) ([]string, error)
	// Responses returns the responses stored for the given mail IDs.
	Responses(ctx context.Context, tenant string, ids []string) ([]string, error)
}

// StoreRetriever retrieves from the vector store and loads response bodies
// from mail storage.
type StoreRetriever struct {
	store    vector.Store
	embedder embedding.Embedder
	mails    storage.Storage
}

// NewStoreRetriever creates a retriever. The embedder is used for mails that
// are not yet in the store.
func NewStoreRetriever(store vector.Store, embedder embedding.Embedder, mails storage.Storage) *StoreRetriever {
	return &StoreRetriever{store: store, embedder: embedder, mails: mails}
}

var submittedFilter = map[string]any{vector.MetaSubmitted: true}

// SimilarResponses queries around the stored focus row. A mail being
// ingested has no row yet, so its body is embedded and queried directly.
func (r *StoreRetriever) SimilarResponses(ctx context.Context, tenant string, mail models.Mail, k int) ([]string, error) {
	matches, err := r.store.Query(ctx, tenant, mail.ID, k, submittedFilter)
	if err != nil {
		return nil, fmt.Errorf("query similar mails: %w", err)
	}
	if len(matches) == 0 {
		_, err := r.store.Get(ctx, tenant, mail.ID)
		switch {
		case errors.Is(err, vector.ErrNotFound):
			if matches, err = r.queryBody(ctx, tenant, mail, k); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("look up focus mail: %w", err)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Document.ID
	}
	return r.Responses(ctx, tenant, ids)
}

func (r *StoreRetriever) queryBody(ctx context.Context, tenant string, mail models.Mail, k int) ([]vector.Match, error) {
	vec, err := r.embedder.Embed(ctx, mail.Body)
	if err != nil {
		return nil, fmt.Errorf("embed mail body: %w", err)
	}
	found, err := r.store.QueryVector(ctx, tenant, vec, k+1, submittedFilter)
	if err != nil {
		return nil, fmt.Errorf("query similar mails: %w", err)
	}
	matches := found[:0]
	for _, m := range found {
		if m.Document.ID != mail.ID && len(matches) < k {
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// Responses loads the non-empty response bodies of ids.
func (r *StoreRetriever) Responses(ctx context.Context, tenant string, ids []string) ([]string, error) {
	stored, err := r.mails.GetMails(ctx, tenant, ids)
	if err != nil {
		return nil, fmt.Errorf("load responses: %w", err)
	}
	out := make([]string, 0, len(stored))
	for _, m := range stored {
		if strings.TrimSpace(m.ResponseBody) != "" {
			out = append(out, m.ResponseBody)
		}
	}
	return out, nil
}
