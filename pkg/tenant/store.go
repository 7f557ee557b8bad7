package tenant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting every store in
// this repo run its queries either directly against the pool or inside a
// caller-managed transaction (the OrphanWatchdog needs the latter).
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides CRUD access to the tenants table.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const selectColumns = `id, name, display_name, state, quota_limit, created_at, updated_at,
	api_credentials, federation_config, crawler_settings, api_key_policy`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	if err := row.Scan(
		&t.ID, &t.Name, &t.DisplayName, &t.State, &t.QuotaLimit, &t.CreatedAt, &t.UpdatedAt,
		&t.APICredentials, &t.FederationConfig, &t.CrawlerSettings, &t.APIKeyPolicy,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByID fetches a tenant by id.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("fetching tenant %s: %w", id, err)
	}
	return t, nil
}

// GetBySlug fetches a tenant by its unique name/slug.
func (s *Store) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM tenants WHERE name = $1`, slug)
	t, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("fetching tenant %q: %w", slug, err)
	}
	return t, nil
}

// ListActive returns every tenant in the active state, used by the
// CrawlFeeder and OrphanWatchdog to enumerate tenants to scan.
func (s *Store) ListActive(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.Query(ctx, `SELECT `+selectColumns+` FROM tenants WHERE state = $1 ORDER BY id`, StateActive)
	if err != nil {
		return nil, fmt.Errorf("listing active tenants: %w", err)
	}
	defer rows.Close()

	var out []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tenant row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create inserts a new tenant row. quota_limit must be non-negative (spec
// §3.1 invariant); state defaults to active.
func (s *Store) Create(ctx context.Context, name, displayName string, quotaLimit int64) (*Tenant, error) {
	if quotaLimit < 0 {
		return nil, fmt.Errorf("quota_limit must be non-negative, got %d", quotaLimit)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO tenants (name, display_name, state, quota_limit, crawler_settings)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		RETURNING `+selectColumns,
		name, displayName, StateActive, quotaLimit,
	)
	t, err := scanTenant(row)
	if err != nil {
		return nil, fmt.Errorf("creating tenant %q: %w", name, err)
	}
	return t, nil
}

// SoftDelete transitions a tenant to the deleted state. A deleted tenant
// cannot own active users or federation config; callers are responsible
// for clearing those before calling SoftDelete.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE tenants SET state = $1, updated_at = now() WHERE id = $2`, StateDeleted, id)
	if err != nil {
		return fmt.Errorf("soft-deleting tenant %s: %w", id, err)
	}
	return nil
}
