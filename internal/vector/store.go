// Package vector stores mail embeddings per tenant and answers nearest
// neighbour queries around a focus mail.
package vector

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks an unreachable backend or a failed query.
	ErrStoreUnavailable = errors.New("vector store unavailable")
	// ErrNotFound is returned when no row carries the requested id.
	ErrNotFound = errors.New("document not found")
)

// Metadata keys every document carries.
const (
	MetaID        = "id"
	MetaSubmitted = "submitted"
)

// Document is one embedded mail body.
type Document struct {
	ID          string
	PageContent string
	Metadata    map[string]any
}

// Match is a document returned by a similarity query.
type Match struct {
	Document Document
	// Distance is the cosine distance to the query vector, in [0, 2].
	Distance float64
}

// Similarity returns 1 - Distance. It is not clamped.
func (m Match) Similarity() float64 {
	return 1 - m.Distance
}

// Store is a per-tenant embedding index. Tables are created lazily on first
// use. Filters select rows whose metadata contains every key/value of the
// filter.
type Store interface {
	// AddDocuments embeds and upserts docs keyed by their id.
	AddDocuments(ctx context.Context, tenant string, docs []Document) error
	// Query returns the k rows nearest to the focus row, excluding the focus itself.
	// An unknown focus yields no rows.
	Query(ctx context.Context, tenant, focusID string, k int, filter map[string]any) ([]Match, error)
	// QueryVector ranks rows against a caller-supplied vector.
	QueryVector(ctx context.Context, tenant string, vector []float32, k int, filter map[string]any) ([]Match, error)
	// UpdateMetadata merges patch into the row's metadata.
	UpdateMetadata(ctx context.Context, tenant, id string, patch map[string]any) error
	// DeleteByID removes the row. Deleting an absent row is not an error.
	DeleteByID(ctx context.Context, tenant, id string) error
	// Get reads a row without ranking.
	Get(ctx context.Context, tenant, id string) (*Document, error)
	Close() error
}

// prepare copies the metadata and stamps the id and submitted keys.
func prepare(doc Document) (Document, error) {
	if doc.ID == "" {
		return doc, fmt.Errorf("document without id")
	}
	meta := make(map[string]any, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta[MetaID] = doc.ID
	if _, ok := meta[MetaSubmitted]; !ok {
		meta[MetaSubmitted] = false
	}
	doc.Metadata = meta
	return doc, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
