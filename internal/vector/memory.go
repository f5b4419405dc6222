package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
)

// MemoryStore keeps every tenant table in process and ranks by brute force.
// It can persist a snapshot to disk with Save and Load.
type MemoryStore struct {
	embedder embedding.Embedder
	router   *TableRouter
	tables   map[string]map[string]*memRow
	mu       sync.RWMutex
}

type memRow struct {
	doc    Document
	vector []float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(embedder embedding.Embedder) *MemoryStore {
	return &MemoryStore{
		embedder: embedder,
		router:   NewTableRouter(),
		tables:   make(map[string]map[string]*memRow),
	}
}

// AddDocuments embeds docs and upserts them by id.
func (s *MemoryStore) AddDocuments(ctx context.Context, tenant string, docs []Document) error {
	table, err := s.router.Table(tenant)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	prepared := make([]Document, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		p, err := prepare(d)
		if err != nil {
			return err
		}
		if p.Metadata, err = canonical(p.Metadata); err != nil {
			return err
		}
		prepared[i] = p
		texts[i] = p.PageContent
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	if rows == nil {
		rows = make(map[string]*memRow)
		s.tables[table] = rows
	}
	for i, d := range prepared {
		rows[d.ID] = &memRow{doc: d, vector: vectors[i]}
	}
	return nil
}

// Query ranks the tenant's rows by distance to the focus row.
func (s *MemoryStore) Query(ctx context.Context, tenant, focusID string, k int, filter map[string]any) ([]Match, error) {
	table, err := s.router.Table(tenant)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	focus, ok := s.tables[table][focusID]
	if !ok {
		return nil, nil
	}
	return guard(focusID, k, s.rank(table, focus.vector, k, filter, focusID)), nil
}

// QueryVector ranks the tenant's rows by distance to vector.
func (s *MemoryStore) QueryVector(ctx context.Context, tenant string, vector []float32, k int, filter map[string]any) ([]Match, error) {
	table, err := s.router.Table(tenant)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return guard("", k, s.rank(table, vector, k, filter, "")), nil
}

func (s *MemoryStore) rank(table string, query []float32, k int, filter map[string]any, exclude string) []Match {
	if k <= 0 {
		return nil
	}
	var out []Match
	for id, row := range s.tables[table] {
		if id == exclude || !matchesFilter(row.doc.Metadata, filter) {
			continue
		}
		out = append(out, Match{Document: cloneDoc(row.doc), Distance: CosineDistance(query, row.vector)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].Document.ID < out[j].Document.ID
	})
	return out
}

// UpdateMetadata merges patch into the row's metadata.
func (s *MemoryStore) UpdateMetadata(ctx context.Context, tenant, id string, patch map[string]any) error {
	table, err := s.router.Table(tenant)
	if err != nil {
		return err
	}
	patch, err = canonical(patch)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.tables[table][id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	for k, v := range patch {
		if k == MetaID {
			continue
		}
		row.doc.Metadata[k] = v
	}
	return nil
}

// DeleteByID removes the row if present.
func (s *MemoryStore) DeleteByID(ctx context.Context, tenant, id string) error {
	table, err := s.router.Table(tenant)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables[table], id)
	return nil
}

// Get returns a copy of the row.
func (s *MemoryStore) Get(ctx context.Context, tenant, id string) (*Document, error) {
	table, err := s.router.Table(tenant)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.tables[table][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	d := cloneDoc(row.doc)
	return &d, nil
}

// Size returns the number of rows across all tenants.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rows := range s.tables {
		n += len(rows)
	}
	return n
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

func cloneDoc(d Document) Document {
	meta := make(map[string]any, len(d.Metadata))
	for k, v := range d.Metadata {
		meta[k] = v
	}
	d.Metadata = meta
	return d
}

// canonical round-trips metadata through JSON so values have the same
// dynamic types a jsonb column would hand back.
func canonical(meta map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}
