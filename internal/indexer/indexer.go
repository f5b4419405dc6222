// Package indexer ingests mail files from the inbox spool or the command
// line: each file is parsed, given a deterministic ID and added through the
// mail service.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/extract"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/fileid"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/service"
	"go.uber.org/zap"
)

// MailAdder adds processed mails. service.Service satisfies it.
type MailAdder interface {
	AddMails(ctx context.Context, tenant string, req *models.AddMailsRequest) ([]*models.StoredMail, error)
}

// MailLookup reports stored mails. storage.Storage satisfies it.
type MailLookup interface {
	GetMail(ctx context.Context, tenant, id string) (*models.StoredMail, error)
}

// Indexer turns mail files into stored mails.
type Indexer struct {
	adder         MailAdder
	lookup        MailLookup
	extractor     *extract.Extractor
	roots         []string
	defaultTenant string
	rag           bool
	extensions    []string
	logger        *zap.Logger
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) { idx.logger = l }
}

// WithRoots sets the spool roots used to derive tenants from paths.
func WithRoots(roots []string) Option {
	return func(idx *Indexer) { idx.roots = roots }
}

// WithRag drafts responses of ingested mails with retrieval.
func WithRag(rag bool) Option {
	return func(idx *Indexer) { idx.rag = rag }
}

// WithExtensions restricts which files are accepted.
func WithExtensions(exts []string) Option {
	return func(idx *Indexer) { idx.extensions = exts }
}

// NewIndexer creates an indexer. Mails outside any root, or directly in a
// root, belong to defaultTenant.
func NewIndexer(adder MailAdder, lookup MailLookup, extractor *extract.Extractor, defaultTenant string, opts ...Option) *Indexer {
	idx := &Indexer{
		adder:         adder,
		lookup:        lookup,
		extractor:     extractor,
		defaultTenant: defaultTenant,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// TenantFor derives the tenant of a spooled file from the first directory
// below its root. Maildir's new and cur folders do not name a tenant.
func (idx *Indexer) TenantFor(path string) string {
	clean := filepath.Clean(path)
	for _, root := range idx.roots {
		rel, err := filepath.Rel(filepath.Clean(root), clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		parts := strings.Split(rel, string(filepath.Separator))
		if len(parts) < 2 {
			break
		}
		switch parts[0] {
		case "new", "cur":
		default:
			return parts[0]
		}
		break
	}
	return idx.defaultTenant
}

// Handle ingests one spooled file and logs the outcome. It matches
// watcher.Handler.
func (idx *Indexer) Handle(ctx context.Context, path string) {
	tenant := idx.TenantFor(path)
	stored, err := idx.IngestFiles(ctx, tenant, []string{path})
	var partial *service.PartialError
	switch {
	case err == nil:
		if len(stored) > 0 {
			idx.logger.Info("spooled mail ingested",
				zap.String("path", path), zap.String("tenant", tenant), zap.String("id", stored[0].ID))
		}
	case errors.As(err, &partial) && len(stored) > 0:
		idx.logger.Warn("spooled mail stored, index update incomplete",
			zap.String("path", path), zap.String("stage", partial.Stage), zap.Error(err))
	default:
		idx.logger.Error("spooled mail not ingested", zap.String("path", path), zap.String("tenant", tenant), zap.Error(err))
	}
}

// IngestFiles parses paths and adds the mails not yet stored, in batches.
// It returns the mails that were added.
func (idx *Indexer) IngestFiles(ctx context.Context, tenant string, paths []string) ([]*models.StoredMail, error) {
	var pending []models.Mail
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		mail, err := idx.read(ctx, tenant, path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if mail != nil && !seen[mail.ID] {
			seen[mail.ID] = true
			pending = append(pending, *mail)
		}
	}
	var added []*models.StoredMail
	for start := 0; start < len(pending); start += models.MaxBatchSize {
		end := min(start+models.MaxBatchSize, len(pending))
		stored, err := idx.adder.AddMails(ctx, tenant, &models.AddMailsRequest{Mails: pending[start:end], Rag: idx.rag})
		added = append(added, stored...)
		if err != nil {
			return added, err
		}
	}
	return added, nil
}

// read returns nil for a file whose mail is already stored.
func (idx *Indexer) read(ctx context.Context, tenant, path string) (*models.Mail, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	if len(idx.extensions) > 0 && !extensionAllowed(filepath.Ext(absPath), idx.extensions) {
		return nil, fmt.Errorf("extension %q not in allowed list", filepath.Ext(absPath))
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file")
	}
	mail, err := idx.extractor.Extract(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract mail: %w", err)
	}
	mail.ID = fileid.MailID(absPath, mail.MessageID)
	_, err = idx.lookup.GetMail(ctx, tenant, mail.ID)
	switch {
	case err == nil:
		idx.logger.Debug("mail already stored", zap.String("path", absPath), zap.String("id", mail.ID))
		return nil, nil
	case !service.IsNotFound(err):
		return nil, err
	}
	return mail, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
