package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist. ":memory:" opens a
// private in-memory database.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	inMemory := dbPath == ":memory:"
	if dir := filepath.Dir(dbPath); !inMemory && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, persistence("open", err)
	}
	if inMemory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, persistence("enable WAL", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, persistence("initialize schema", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS mails (
		tenant TEXT NOT NULL,
		id TEXT NOT NULL,
		subject TEXT,
		body TEXT NOT NULL,
		sender_email_address TEXT,
		sender TEXT,
		message_id TEXT,
		category TEXT,
		sentiment REAL,
		urgency REAL,
		summary TEXT,
		key_facts TEXT,
		suggested_actions TEXT,
		language_match INTEGER NOT NULL DEFAULT 1,
		language_name_determined TEXT,
		response_body TEXT,
		additional_attributes TEXT,
		responded INTEGER NOT NULL DEFAULT 0,
		missing TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tenant, id)
	);

	CREATE INDEX IF NOT EXISTS idx_mails_created_at ON mails(tenant, created_at);

	CREATE TABLE IF NOT EXISTS translations (
		tenant TEXT NOT NULL,
		mail_id TEXT NOT NULL,
		subject TEXT,
		body TEXT,
		sender TEXT,
		summary TEXT,
		key_facts TEXT,
		additional_attributes TEXT,
		response_body TEXT,
		PRIMARY KEY (tenant, mail_id)
	);

	CREATE TABLE IF NOT EXISTS attributes (
		tenant TEXT NOT NULL,
		position INTEGER NOT NULL,
		attribute TEXT NOT NULL,
		explanation TEXT,
		vals TEXT,
		PRIMARY KEY (tenant, position)
	);
	`
	_, err := db.Exec(schema)
	return err
}

const mailColumns = `m.id, m.subject, m.body, m.sender_email_address, m.sender, m.message_id,
	m.category, m.sentiment, m.urgency, m.summary, m.key_facts, m.suggested_actions,
	m.language_match, m.language_name_determined, m.response_body, m.additional_attributes,
	m.responded, m.missing, m.created_at, m.updated_at,
	t.mail_id, t.subject, t.body, t.sender, t.summary, t.key_facts, t.additional_attributes, t.response_body`

const mailFrom = ` FROM mails m LEFT JOIN translations t ON t.tenant = m.tenant AND t.mail_id = m.id`

// SaveMails upserts mails and their translations in one transaction.
func (s *SQLiteStorage) SaveMails(ctx context.Context, tenant string, mails []*models.StoredMail) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer tx.Rollback()

	mailStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO mails (tenant, id, subject, body, sender_email_address, sender, message_id,
			category, sentiment, urgency, summary, key_facts, suggested_actions,
			language_match, language_name_determined, response_body, additional_attributes,
			responded, missing, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant, id) DO UPDATE SET
			subject = excluded.subject, body = excluded.body,
			sender_email_address = excluded.sender_email_address, sender = excluded.sender,
			message_id = excluded.message_id, category = excluded.category,
			sentiment = excluded.sentiment, urgency = excluded.urgency, summary = excluded.summary,
			key_facts = excluded.key_facts, suggested_actions = excluded.suggested_actions,
			language_match = excluded.language_match,
			language_name_determined = excluded.language_name_determined,
			response_body = excluded.response_body,
			additional_attributes = excluded.additional_attributes,
			responded = excluded.responded, missing = excluded.missing,
			updated_at = excluded.updated_at`,
	)
	if err != nil {
		return persistence("prepare mail insert", err)
	}
	defer mailStmt.Close()

	now := time.Now()
	for _, m := range mails {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		args, err := mailArgs(tenant, m)
		if err != nil {
			return err
		}
		if _, err := mailStmt.ExecContext(ctx, args...); err != nil {
			return persistence("insert mail "+m.ID, err)
		}
		if err := writeTranslation(ctx, tx, tenant, m); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// UpdateMail rewrites an existing mail and its translation.
func (s *SQLiteStorage) UpdateMail(ctx context.Context, tenant string, m *models.StoredMail) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer tx.Rollback()

	m.UpdatedAt = time.Now()
	args, err := mailArgs(tenant, m)
	if err != nil {
		return err
	}
	// mailArgs leads with tenant and id; the UPDATE wants them last.
	result, err := tx.ExecContext(ctx,
		`UPDATE mails SET subject = ?, body = ?, sender_email_address = ?, sender = ?, message_id = ?,
			category = ?, sentiment = ?, urgency = ?, summary = ?, key_facts = ?, suggested_actions = ?,
			language_match = ?, language_name_determined = ?, response_body = ?, additional_attributes = ?,
			responded = ?, missing = ?, updated_at = ?
		 WHERE tenant = ? AND id = ?`,
		append(append(args[2:19:19], m.UpdatedAt), tenant, m.ID)...,
	)
	if err != nil {
		return persistence("update mail "+m.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mail %s: %w", m.ID, ErrNotFound)
	}
	if err := writeTranslation(ctx, tx, tenant, m); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

func mailArgs(tenant string, m *models.StoredMail) ([]any, error) {
	keyFacts, err := marshalColumn(m.KeyFacts)
	if err != nil {
		return nil, err
	}
	actions, err := marshalColumn(m.SuggestedActions)
	if err != nil {
		return nil, err
	}
	attrs, err := marshalColumn(m.MyAdditionalAttributes)
	if err != nil {
		return nil, err
	}
	missing, err := marshalColumn(m.Missing)
	if err != nil {
		return nil, err
	}
	return []any{
		tenant, m.ID, m.Subject, m.Body, m.SenderEmailAddress, m.Sender, m.MessageID,
		m.Category, m.Sentiment, m.Urgency, m.Summary, keyFacts, actions,
		m.LanguageMatch, m.LanguageNameDetermined, m.ResponseBody, attrs,
		m.Responded, missing, m.CreatedAt, m.UpdatedAt,
	}, nil
}

func writeTranslation(ctx context.Context, tx *sql.Tx, tenant string, m *models.StoredMail) error {
	if m.Translation == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM translations WHERE tenant = ? AND mail_id = ?`, tenant, m.ID); err != nil {
			return persistence("delete translation "+m.ID, err)
		}
		return nil
	}
	tr := m.Translation
	keyFacts, err := marshalColumn(tr.KeyFacts)
	if err != nil {
		return err
	}
	attrs, err := marshalColumn(tr.MyAdditionalAttributes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO translations
			(tenant, mail_id, subject, body, sender, summary, key_facts, additional_attributes, response_body)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tenant, m.ID, tr.Subject, tr.Body, tr.Sender, tr.Summary, keyFacts, attrs, tr.ResponseBody,
	)
	if err != nil {
		return persistence("write translation "+m.ID, err)
	}
	return nil
}

// GetMail returns a mail by ID.
func (s *SQLiteStorage) GetMail(ctx context.Context, tenant, id string) (*models.StoredMail, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+mailColumns+mailFrom+` WHERE m.tenant = ? AND m.id = ?`, tenant, id)
	m, err := scanMail(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mail %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMails returns the existing mails among ids, preserving the order of ids.
func (s *SQLiteStorage) GetMails(ctx context.Context, tenant string, ids []string) ([]*models.StoredMail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, tenant)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	found, err := s.queryMails(ctx,
		`SELECT `+mailColumns+mailFrom+` WHERE m.tenant = ? AND m.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.StoredMail, len(found))
	for _, m := range found {
		byID[m.ID] = m
	}
	out := make([]*models.StoredMail, 0, len(found))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			delete(byID, id)
		}
	}
	return out, nil
}

// ListMails returns every mail of the tenant, newest first.
func (s *SQLiteStorage) ListMails(ctx context.Context, tenant string) ([]*models.StoredMail, error) {
	return s.queryMails(ctx,
		`SELECT `+mailColumns+mailFrom+` WHERE m.tenant = ? ORDER BY m.created_at DESC, m.id`, tenant)
}

func (s *SQLiteStorage) queryMails(ctx context.Context, query string, args ...any) ([]*models.StoredMail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("query mails", err)
	}
	defer rows.Close()

	var mails []*models.StoredMail
	for rows.Next() {
		m, err := scanMail(rows)
		if err != nil {
			return nil, err
		}
		mails = append(mails, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("query mails", err)
	}
	return mails, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMail(row scanner) (*models.StoredMail, error) {
	var (
		m                                          models.StoredMail
		subject, senderAddr, sender, messageID     sql.NullString
		category, summary, language, response      sql.NullString
		keyFacts, actions, attrs, missing          sql.NullString
		sentiment, urgency                         sql.NullFloat64
		trID, trSubject, trBody, trSender          sql.NullString
		trSummary, trKeyFacts, trAttrs, trResponse sql.NullString
	)
	err := row.Scan(&m.ID, &subject, &m.Body, &senderAddr, &sender, &messageID,
		&category, &sentiment, &urgency, &summary, &keyFacts, &actions,
		&m.LanguageMatch, &language, &response, &attrs,
		&m.Responded, &missing, &m.CreatedAt, &m.UpdatedAt,
		&trID, &trSubject, &trBody, &trSender, &trSummary, &trKeyFacts, &trAttrs, &trResponse)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, persistence("scan mail", err)
	}
	m.Subject = subject.String
	m.SenderEmailAddress = senderAddr.String
	m.Sender = sender.String
	m.MessageID = messageID.String
	m.Category = category.String
	m.Sentiment = sentiment.Float64
	m.Urgency = urgency.Float64
	m.Summary = summary.String
	m.LanguageNameDetermined = language.String
	m.ResponseBody = response.String
	for _, c := range []struct {
		raw sql.NullString
		dst any
	}{
		{keyFacts, &m.KeyFacts},
		{actions, &m.SuggestedActions},
		{attrs, &m.MyAdditionalAttributes},
		{missing, &m.Missing},
	} {
		if err := unmarshalColumn(c.raw, c.dst); err != nil {
			return nil, err
		}
	}

	if trID.Valid {
		tr := &models.Translation{
			Subject:      trSubject.String,
			Body:         trBody.String,
			Sender:       trSender.String,
			Summary:      trSummary.String,
			ResponseBody: trResponse.String,
		}
		if err := unmarshalColumn(trKeyFacts, &tr.KeyFacts); err != nil {
			return nil, err
		}
		if err := unmarshalColumn(trAttrs, &tr.MyAdditionalAttributes); err != nil {
			return nil, err
		}
		m.Translation = tr
	}
	return &m, nil
}

// DeleteMail removes a mail and its translation.
func (s *SQLiteStorage) DeleteMail(ctx context.Context, tenant, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM mails WHERE tenant = ? AND id = ?`, tenant, id)
	if err != nil {
		return persistence("delete mail "+id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("mail %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM translations WHERE tenant = ? AND mail_id = ?`, tenant, id); err != nil {
		return persistence("delete translation "+id, err)
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// GetAttributes returns the tenant's attribute definitions in their defined order.
func (s *SQLiteStorage) GetAttributes(ctx context.Context, tenant string) ([]models.AttributeDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attribute, explanation, vals FROM attributes WHERE tenant = ? ORDER BY position`, tenant)
	if err != nil {
		return nil, persistence("query attributes", err)
	}
	defer rows.Close()

	var defs []models.AttributeDefinition
	for rows.Next() {
		var (
			def         models.AttributeDefinition
			explanation sql.NullString
			vals        sql.NullString
		)
		if err := rows.Scan(&def.Attribute, &explanation, &vals); err != nil {
			return nil, persistence("scan attribute", err)
		}
		def.Explanation = explanation.String
		if err := unmarshalColumn(vals, &def.Values); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("query attributes", err)
	}
	return defs, nil
}

// SetAttributes replaces the tenant's attribute definitions.
func (s *SQLiteStorage) SetAttributes(ctx context.Context, tenant string, defs []models.AttributeDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attributes WHERE tenant = ?`, tenant); err != nil {
		return persistence("clear attributes", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attributes (tenant, position, attribute, explanation, vals) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return persistence("prepare attribute insert", err)
	}
	defer stmt.Close()

	for i, def := range defs {
		vals, err := marshalColumn(def.Values)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, tenant, i, def.Attribute, def.Explanation, vals); err != nil {
			return persistence("insert attribute "+def.Attribute, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	return nil
}

// CountMails returns the number of mails per tenant.
func (s *SQLiteStorage) CountMails(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant, COUNT(*) FROM mails GROUP BY tenant`)
	if err != nil {
		return nil, persistence("count mails", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			tenant string
			n      int64
		)
		if err := rows.Scan(&tenant, &n); err != nil {
			return nil, persistence("scan count", err)
		}
		counts[tenant] = n
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("count mails", err)
	}
	return counts, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func marshalColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(b), nil
}

func unmarshalColumn(raw sql.NullString, dst any) error {
	if !raw.Valid || raw.String == "" || raw.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		return persistence("decode column", err)
	}
	return nil
}
