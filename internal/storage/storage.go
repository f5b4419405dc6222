// Package storage persists processed mails, their translations, and the
// per-tenant attribute definitions.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/models"
)

var (
	// ErrNotFound is returned when a mail does not exist for the tenant.
	ErrNotFound = errors.New("not found")
	// ErrPersistence wraps failures of the underlying database.
	ErrPersistence = errors.New("persistence failure")
)

// Storage is the relational side of the mail record. Every operation is
// scoped to a tenant.
type Storage interface {
	// SaveMails inserts or replaces mails together with their translations.
	// CreatedAt of an existing record is preserved.
	SaveMails(ctx context.Context, tenant string, mails []*models.StoredMail) error
	GetMail(ctx context.Context, tenant, id string) (*models.StoredMail, error)
	// GetMails returns the mails that exist among ids, in the order of ids.
	GetMails(ctx context.Context, tenant string, ids []string) ([]*models.StoredMail, error)
	ListMails(ctx context.Context, tenant string) ([]*models.StoredMail, error)
	UpdateMail(ctx context.Context, tenant string, mail *models.StoredMail) error
	DeleteMail(ctx context.Context, tenant, id string) error

	GetAttributes(ctx context.Context, tenant string) ([]models.AttributeDefinition, error)
	SetAttributes(ctx context.Context, tenant string, defs []models.AttributeDefinition) error

	// CountMails returns the number of stored mails per tenant.
	CountMails(ctx context.Context) (map[string]int64, error)

	Close() error
}

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
