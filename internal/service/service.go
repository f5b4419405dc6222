// Package service implements the mail operations exposed to the front-end:
// ingestion, listing, similarity lookups, response handling and deletion.
// Every operation is scoped to a tenant.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/insights"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/keyword"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// Mailer delivers a submitted response to the customer.
type Mailer interface {
	SendReply(ctx context.Context, to, subject, body, inReplyTo string) error
}

// Service ties mail storage, the embedding store, the keyword index and the
// insight pipeline together.
type Service struct {
	mails        storage.Storage
	store        vector.Store
	index        keyword.MailIndex
	orchestrator *insights.Orchestrator
	mailer       Mailer
	cfg          config.InsightsConfig
	logger       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMailer enables delivery of submitted responses.
func WithMailer(m Mailer) Option {
	return func(s *Service) { s.mailer = m }
}

// New creates a service. index may be nil, in which case findMails ignores
// the keyword and answers with plain neighbours.
func New(
	mails storage.Storage,
	store vector.Store,
	index keyword.MailIndex,
	orchestrator *insights.Orchestrator,
	cfg config.InsightsConfig,
	opts ...Option,
) *Service {
	s := &Service{
		mails:        mails,
		store:        store,
		index:        index,
		orchestrator: orchestrator,
		cfg:          cfg,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ClosestK <= 0 {
		s.cfg.ClosestK = 5
	}
	if s.cfg.FindCandidates <= 0 {
		s.cfg.FindCandidates = 100
	}
	return s
}

// GetMails lists the tenant's mails, newest first.
func (s *Service) GetMails(ctx context.Context, tenant string) ([]models.MailSummary, error) {
	stored, err := s.mails.ListMails(ctx, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]models.MailSummary, len(stored))
	for i, m := range stored {
		out[i] = m.ListView()
	}
	return out, nil
}

// GetMail returns a mail with its closest neighbours.
func (s *Service) GetMail(ctx context.Context, tenant, id string) (*models.MailDetail, error) {
	mail, err := s.loadMail(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	matches, err := s.store.Query(ctx, tenant, id, s.cfg.ClosestK, nil)
	if err != nil {
		return nil, fmt.Errorf("closest mails of %s: %w", id, err)
	}
	closest, err := s.withMails(ctx, tenant, matches)
	if err != nil {
		return nil, err
	}
	return &models.MailDetail{Mail: mail, ClosestMails: closest}, nil
}

// DeleteMail removes the record, its embedding and its keyword entry. A
// missing mail yields storage.ErrNotFound. When the record is gone but the
// embedding or the keyword entry could not be removed the result is true with
// a *PartialError naming the embedding stage first.
func (s *Service) DeleteMail(ctx context.Context, tenant, id string) (bool, error) {
	if err := s.mails.DeleteMail(ctx, tenant, id); err != nil {
		return false, err
	}
	var keywordErr error
	if s.index != nil {
		if keywordErr = s.index.Delete(ctx, tenant, id); keywordErr != nil {
			s.logger.Warn("keyword delete failed", zap.String("tenant", tenant), zap.String("id", id), zap.Error(keywordErr))
		}
	}
	if err := s.store.DeleteByID(ctx, tenant, id); err != nil {
		s.logger.Error("embedding delete failed after record delete",
			zap.String("tenant", tenant), zap.String("id", id), zap.Error(err))
		return true, &PartialError{Stage: StageEmbedding, IDs: []string{id}, Err: err}
	}
	if keywordErr != nil {
		return true, &PartialError{Stage: StageKeyword, IDs: []string{id}, Err: keywordErr}
	}
	s.logger.Info("mail deleted", zap.String("tenant", tenant), zap.String("id", id))
	return true, nil
}

// GetAttributes returns the tenant's attribute definitions.
func (s *Service) GetAttributes(ctx context.Context, tenant string) ([]models.AttributeDefinition, error) {
	return s.mails.GetAttributes(ctx, tenant)
}

// SetAttributes replaces the tenant's attribute definitions.
func (s *Service) SetAttributes(ctx context.Context, tenant string, defs []models.AttributeDefinition) error {
	if err := models.ValidateAttributes(defs); err != nil {
		return err
	}
	return s.mails.SetAttributes(ctx, tenant, defs)
}

// Status summarises what is stored.
type Status struct {
	Mails        map[string]int64 `json:"mails"`
	KeywordDocs  uint64           `json:"keywordDocs"`
	TotalMails   int64            `json:"totalMails"`
	MailerActive bool             `json:"mailerActive"`
	// Disk is filled by callers that know where the stores live.
	Disk *storage.Footprint `json:"disk,omitempty"`
}

// Status counts mails per tenant and keyword documents.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	counts, err := s.mails.CountMails(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Mails: counts, MailerActive: s.mailer != nil}
	for _, n := range counts {
		st.TotalMails += n
	}
	if s.index != nil {
		if st.KeywordDocs, err = s.index.DocCount(); err != nil {
			return nil, fmt.Errorf("keyword doc count: %w", err)
		}
	}
	return st, nil
}

func (s *Service) loadMail(ctx context.Context, tenant, id string) (*models.StoredMail, error) {
	m, err := s.mails.GetMail(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	models.FillActionDescriptions(m.SuggestedActions)
	return m, nil
}

// withMails pairs matches with their records, keeping match order. Matches
// whose record vanished are skipped.
func (s *Service) withMails(ctx context.Context, tenant string, matches []vector.Match) ([]models.SimilarityResult, error) {
	if len(matches) == 0 {
		return []models.SimilarityResult{}, nil
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Document.ID
	}
	stored, err := s.mails.GetMails(ctx, tenant, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.StoredMail, len(stored))
	for _, m := range stored {
		models.FillActionDescriptions(m.SuggestedActions)
		byID[m.ID] = m
	}
	out := make([]models.SimilarityResult, 0, len(matches))
	for _, m := range matches {
		if mail, ok := byID[m.Document.ID]; ok {
			out = append(out, models.SimilarityResult{Similarity: m.Similarity(), Mail: mail})
		}
	}
	return out, nil
}

// IsNotFound reports whether err means the mail does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
