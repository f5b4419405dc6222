package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/extract"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/generate"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/indexer"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/insights"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/keyword"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/llm"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/mailer"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/storage"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Storage  storage.Storage
	Embedder embedding.Embedder
	Store    vector.Store
	Keyword  keyword.MailIndex
	Service  *service.Service
	Indexer  *indexer.Indexer
	logger   *zap.Logger
}

// Close snapshots an in-memory vector store and releases every backend.
func (c *Components) Close() {
	if ms, ok := c.Store.(*vector.MemoryStore); ok && c.Config.Vector.SnapshotPath != "" {
		if err := ms.Save(c.Config.Vector.SnapshotPath); err != nil {
			c.logger.Warn("vector snapshot save failed", zap.String("path", c.Config.Vector.SnapshotPath), zap.Error(err))
		}
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Components, err error) {
	c := &Components{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	httpClient := llm.NewHTTPClient(ctx, &cfg.LLM)
	if c.Embedder, err = embedding.NewFromConfig(ctx, cfg, httpClient, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	if c.Store, err = vector.NewStore(ctx, &cfg.Vector, c.Embedder, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize vector store: %w", err)
	}
	logger.Info("vector store initialized", zap.String("backend", cfg.Vector.Backend))

	mails, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = mails
	kw, err := keyword.NewBleveIndex(cfg.Keyword.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.Keyword = kw

	model, err := newChatModel(&cfg.LLM, httpClient, logger)
	if err != nil {
		return nil, err
	}
	gen := generate.New(model, generate.WithLogger(logger), generate.WithMaxRepairs(cfg.LLM.MaxRepairsOrDefault()))
	orchestrator := insights.NewOrchestrator(gen,
		insights.NewStoreRetriever(c.Store, c.Embedder, c.Storage),
		insights.WithLogger(logger),
		insights.WithWorkingLanguage(cfg.Insights.WorkingLanguage),
		insights.WithRagK(cfg.Insights.RagK),
		insights.WithConcurrency(cfg.Insights.Concurrency),
	)

	svcOpts := []service.Option{service.WithLogger(logger)}
	if cfg.SMTP.Enabled() {
		svcOpts = append(svcOpts, service.WithMailer(mailer.New(cfg.SMTP, logger)))
		logger.Info("reply delivery enabled", zap.String("smtp_host", cfg.SMTP.Host))
	}
	c.Service = service.New(c.Storage, c.Store, c.Keyword, orchestrator, cfg.Insights, svcOpts...)

	c.Indexer = indexer.NewIndexer(c.Service, c.Storage, extract.NewExtractor(), cfg.Inbox.DefaultTenant,
		indexer.WithLogger(logger),
		indexer.WithRoots(cfg.Inbox.Directories),
		indexer.WithRag(cfg.Inbox.Rag),
		indexer.WithExtensions(cfg.Inbox.Extensions),
	)
	return c, nil
}

func newChatModel(cfg *config.LLMConfig, httpClient *http.Client, logger *zap.Logger) (llm.ChatModel, error) {
	switch cfg.Provider {
	case "ollama":
		return llm.NewOllamaModel(cfg.URL, cfg.Model, httpClient,
			llm.WithLogger(logger),
			llm.WithTemperature(cfg.Temperature),
			llm.WithJSONFormat(),
		)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s (supported: ollama)", cfg.Provider)
	}
}
