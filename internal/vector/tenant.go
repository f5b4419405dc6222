package vector

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultTable holds the rows of the empty tenant.
const DefaultTable = "_main"

// maxTableName is Postgres' identifier limit.
const maxTableName = 63

// ErrInvalidTenant is returned for tenants that cannot be mapped to a table.
var ErrInvalidTenant = errors.New("invalid tenant")

// TableName maps a tenant to its table: "_" followed by the tenant's ASCII
// letters and digits.
func TableName(tenant string) string {
	if tenant == "" {
		return DefaultTable
	}
	var b strings.Builder
	b.WriteByte('_')
	for _, r := range tenant {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// TableRouter resolves tenants to tables and refuses a tenant whose table
// already belongs to a different tenant.
type TableRouter struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewTableRouter returns an empty router.
func NewTableRouter() *TableRouter {
	return &TableRouter{owners: map[string]string{DefaultTable: ""}}
}

// Table returns the table for tenant.
func (r *TableRouter) Table(tenant string) (string, error) {
	name := TableName(tenant)
	if name == "_" {
		return "", fmt.Errorf("%w: %q has no letters or digits", ErrInvalidTenant, tenant)
	}
	if len(name) > maxTableName {
		return "", fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidTenant, tenant, maxTableName-1)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[name]; ok && owner != tenant {
		return "", fmt.Errorf("%w: %q collides with tenant %q on table %s", ErrInvalidTenant, tenant, owner, name)
	}
	r.owners[name] = tenant
	return name, nil
}

// Owners returns a copy of the table to tenant assignments.
func (r *TableRouter) Owners() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.owners))
	for name, tenant := range r.owners {
		out[name] = tenant
	}
	return out
}

// Restore records previously persisted assignments, replacing any current
// owner of the same table.
func (r *TableRouter) Restore(owners map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, tenant := range owners {
		r.owners[name] = tenant
	}
}
