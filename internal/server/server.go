// Package server provides the HTTP API of the mail insights service.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"go.uber.org/zap"
)

// MailService is the set of operations the API exposes. *service.Service
// implements it.
type MailService interface {
	GetMails(ctx context.Context, tenant string) ([]models.MailSummary, error)
	GetMail(ctx context.Context, tenant, id string) (*models.MailDetail, error)
	AddMails(ctx context.Context, tenant string, req *models.AddMailsRequest) ([]*models.StoredMail, error)
	DeleteMail(ctx context.Context, tenant, id string) (bool, error)
	SubmitResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (bool, error)
	RevokeResponse(ctx context.Context, tenant, id string) (bool, error)
	RegenerateResponse(ctx context.Context, tenant string, req *models.RegenerateResponseRequest) (bool, error)
	RegenerateInsights(ctx context.Context, tenant string, req *models.RegenerateInsightsRequest) (bool, error)
	TranslateResponse(ctx context.Context, tenant string, req *models.ResponseRequest) (string, error)
	FindMails(ctx context.Context, tenant string, req *models.FindMailsRequest) ([]models.SimilarityResult, error)
	GetAttributes(ctx context.Context, tenant string) ([]models.AttributeDefinition, error)
	SetAttributes(ctx context.Context, tenant string, defs []models.AttributeDefinition) error
	Status(ctx context.Context) (*service.Status, error)
}

// Inbox reports the watched spool directories.
type Inbox interface {
	Directories() []string
}

// Server is the HTTP server for the mail API.
type Server struct {
	svc    MailService
	inbox  Inbox
	config *config.ServerConfig
	logger *zap.Logger
	server *http.Server
}

// NewServer creates a server. inbox may be nil when no spool is watched.
func NewServer(svc MailService, inbox Inbox, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:    svc,
		inbox:  inbox,
		config: cfg,
		logger: logger,
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(s.recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.tenant)
		r.Get("/status", s.handleStatus)
		r.Get("/inbox", s.handleInbox)
		r.Get("/attributes", s.handleGetAttributes)
		r.Put("/attributes", s.handleSetAttributes)

		r.Route("/mails", func(r chi.Router) {
			r.Get("/", s.handleGetMails)
			r.Post("/", s.handleAddMails)
			r.Post("/regenerate-insights", s.handleRegenerateInsights)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetMail)
				r.Delete("/", s.handleDeleteMail)
				r.Post("/submit", s.handleSubmitResponse)
				r.Post("/revoke", s.handleRevokeResponse)
				r.Post("/regenerate-response", s.handleRegenerateResponse)
				r.Post("/translate-response", s.handleTranslateResponse)
				r.Post("/similar", s.handleFindMails)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops. Generation runs
// synchronously, so the write timeout leaves room for slow models.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
