// Package keyword provides the full-text side of mail lookup: a per-tenant
// keyword index over subject, body, summary, and sender.
package keyword

import (
	"context"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// SubjectBoost multiplies the score of subject matches. Use 1.0 for no boost.
	SubjectBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// MailIndex defines keyword indexing of processed mails.
type MailIndex interface {
	Index(ctx context.Context, tenant string, mail *models.StoredMail) error
	Search(ctx context.Context, tenant, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, tenant, id string) error
	// DocCount returns the number of indexed mails across tenants.
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword hit.
type Result struct {
	ID    string
	Score float64
}
