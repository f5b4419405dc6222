package vector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmsrpp/btp-cap-genai-rag/internal/embedding"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const tenantRegistry = "mail_vector_tenants"

// PostgresStore keeps one pgvector table per tenant.
type PostgresStore struct {
	pool     *pgxpool.Pool
	embedder embedding.Embedder
	router   *TableRouter
	group    singleflight.Group
	ready    sync.Map
	logger   *zap.Logger
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresLogger sets the logger.
func WithPostgresLogger(logger *zap.Logger) PostgresOption {
	return func(s *PostgresStore) {
		s.logger = logger
	}
}

// NewPostgresStore connects to url, enables the vector extension and creates
// the tenant registry.
func NewPostgresStore(ctx context.Context, url string, embedder embedding.Embedder, opts ...PostgresOption) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	s := &PostgresStore{pool: pool, embedder: embedder, router: NewTableRouter(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	setup := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS ` + tenantRegistry + ` (
			table_name TEXT PRIMARY KEY,
			tenant TEXT NOT NULL
		)`,
	}
	for _, stmt := range setup {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, unavailable("setup", err)
		}
	}
	return s, nil
}

// ensureTable resolves the tenant's table and creates it once per process.
// Concurrent callers share one creation; concurrent processes serialise on
// an advisory lock keyed by the table name.
func (s *PostgresStore) ensureTable(ctx context.Context, tenant string) (string, error) {
	table, err := s.router.Table(tenant)
	if err != nil {
		return "", err
	}
	if _, ok := s.ready.Load(table); ok {
		return table, nil
	}
	_, err, _ = s.group.Do(table, func() (any, error) {
		if _, ok := s.ready.Load(table); ok {
			return nil, nil
		}
		if err := s.createTable(ctx, tenant, table); err != nil {
			return nil, err
		}
		s.ready.Store(table, struct{}{})
		s.logger.Info("vector table ready", zap.String("table", table))
		return nil, nil
	})
	return table, err
}

func (s *PostgresStore) createTable(ctx context.Context, tenant, table string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, table); err != nil {
		return unavailable("lock table", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+tenantRegistry+` (table_name, tenant) VALUES ($1, $2) ON CONFLICT (table_name) DO NOTHING`,
		table, tenant); err != nil {
		return unavailable("register tenant", err)
	}
	var owner string
	if err := tx.QueryRow(ctx, `SELECT tenant FROM `+tenantRegistry+` WHERE table_name = $1`, table).Scan(&owner); err != nil {
		return unavailable("read tenant", err)
	}
	if owner != tenant {
		return fmt.Errorf("%w: %q collides with tenant %q on table %s", ErrInvalidTenant, tenant, owner, table)
	}

	ident := pgx.Identifier{table}.Sanitize()
	index := pgx.Identifier{table + "_metadata_id"}.Sanitize()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			id UUID PRIMARY KEY,
			"pageContent" TEXT,
			metadata JSONB NOT NULL,
			embedding VECTOR
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ` + index + ` ON ` + ident + ` ((metadata->>'id'))`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return unavailable("create table", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit", err)
	}
	return nil
}

// AddDocuments embeds docs and upserts them on metadata id.
func (s *PostgresStore) AddDocuments(ctx context.Context, tenant string, docs []Document) error {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	prepared := make([]Document, len(docs))
	texts := make([]string, len(docs))
	for i, d := range docs {
		if prepared[i], err = prepare(d); err != nil {
			return err
		}
		texts[i] = prepared[i].PageContent
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}

	ident := pgx.Identifier{table}.Sanitize()
	query := `INSERT INTO ` + ident + ` (id, "pageContent", metadata, embedding)
		VALUES ($1, $2, $3, $4::vector)
		ON CONFLICT ((metadata->>'id')) DO UPDATE
		SET "pageContent" = EXCLUDED."pageContent", metadata = EXCLUDED.metadata, embedding = EXCLUDED.embedding`
	batch := &pgx.Batch{}
	for i, d := range prepared {
		batch.Queue(query, uuid.NewString(), d.PageContent, d.Metadata, vectorLiteral(vectors[i]))
	}
	br := s.pool.SendBatch(ctx, batch)
	for range prepared {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return unavailable("upsert", err)
		}
	}
	if err := br.Close(); err != nil {
		return unavailable("upsert", err)
	}
	return nil
}

// Query joins every row against the focus row and orders by cosine distance.
func (s *PostgresStore) Query(ctx context.Context, tenant, focusID string, k int, filter map[string]any) ([]Match, error) {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ident := pgx.Identifier{table}.Sanitize()
	query := `SELECT x.metadata->>'id', x."pageContent", x.metadata, x.embedding <=> focus.embedding AS _distance
		FROM ` + ident + ` x
		JOIN (SELECT * FROM ` + ident + ` WHERE metadata->>'id' = $1) focus ON focus.id != x.id
		WHERE x.metadata @> $2::jsonb AND x.metadata->>'id' != $1
		ORDER BY _distance
		LIMIT $3`
	matches, err := s.collect(ctx, query, focusID, filterOrEmpty(filter), k+1)
	if err != nil {
		return nil, err
	}
	return guard(focusID, k, matches), nil
}

// QueryVector orders rows by cosine distance to vector.
func (s *PostgresStore) QueryVector(ctx context.Context, tenant string, vector []float32, k int, filter map[string]any) ([]Match, error) {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	ident := pgx.Identifier{table}.Sanitize()
	query := `SELECT x.metadata->>'id', x."pageContent", x.metadata, x.embedding <=> $1::vector AS _distance
		FROM ` + ident + ` x
		WHERE x.metadata @> $2::jsonb
		ORDER BY _distance
		LIMIT $3`
	matches, err := s.collect(ctx, query, vectorLiteral(vector), filterOrEmpty(filter), k)
	if err != nil {
		return nil, err
	}
	return guard("", k, matches), nil
}

func (s *PostgresStore) collect(ctx context.Context, query string, args ...any) ([]Match, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query", err)
	}
	defer rows.Close()
	var out []Match
	for rows.Next() {
		var (
			m       Match
			content *string
		)
		if err := rows.Scan(&m.Document.ID, &content, &m.Document.Metadata, &m.Distance); err != nil {
			return nil, unavailable("scan", err)
		}
		if content != nil {
			m.Document.PageContent = *content
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query", err)
	}
	return out, nil
}

// UpdateMetadata merges patch into the row's metadata with jsonb concatenation.
func (s *PostgresStore) UpdateMetadata(ctx context.Context, tenant, id string, patch map[string]any) error {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return err
	}
	clean := make(map[string]any, len(patch))
	for k, v := range patch {
		if k != MetaID {
			clean[k] = v
		}
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgx.Identifier{table}.Sanitize()+` SET metadata = metadata || $2::jsonb WHERE metadata->>'id' = $1`,
		id, clean)
	if err != nil {
		return unavailable("update metadata", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// DeleteByID removes the row with the given metadata id.
func (s *PostgresStore) DeleteByID(ctx context.Context, tenant, id string) error {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM `+pgx.Identifier{table}.Sanitize()+` WHERE metadata->>'id' = $1`, id); err != nil {
		return unavailable("delete", err)
	}
	return nil
}

// Get reads one row by metadata id.
func (s *PostgresStore) Get(ctx context.Context, tenant, id string) (*Document, error) {
	table, err := s.ensureTable(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var (
		doc     Document
		content *string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT metadata->>'id', "pageContent", metadata FROM `+pgx.Identifier{table}.Sanitize()+` WHERE metadata->>'id' = $1`,
		id).Scan(&doc.ID, &content, &doc.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	if content != nil {
		doc.PageContent = *content
	}
	return &doc, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// vectorLiteral renders v in pgvector's text input format.
func vectorLiteral(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func filterOrEmpty(filter map[string]any) map[string]any {
	if filter == nil {
		return map[string]any{}
	}
	return filter
}
