package auditconfig

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore loads TenantConfig rows from the audit_config table.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a Store scoped to a single tenant, matching
// the Store interface's per-call tenantID signature used by Service.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetTenantConfig implements Store.
func (s *PostgresStore) GetTenantConfig(tenantID uuid.UUID) (*TenantConfig, error) {
	ctx := context.Background()
	var actionOverrides, categoryEnabled []byte
	err := s.db.QueryRow(ctx, `SELECT action_overrides, category_enabled FROM audit_config WHERE tenant_id = $1`, tenantID).
		Scan(&actionOverrides, &categoryEnabled)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("auditconfig: loading config for tenant %s: %w", tenantID, err)
	}

	cfg := &TenantConfig{}
	if len(actionOverrides) > 0 {
		if err := json.Unmarshal(actionOverrides, &cfg.ActionOverrides); err != nil {
			return nil, fmt.Errorf("auditconfig: decoding action_overrides: %w", err)
		}
	}
	if len(categoryEnabled) > 0 {
		if err := json.Unmarshal(categoryEnabled, &cfg.CategoryEnabled); err != nil {
			return nil, fmt.Errorf("auditconfig: decoding category_enabled: %w", err)
		}
	}
	return cfg, nil
}
