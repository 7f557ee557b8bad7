// Package apikeystore persists and looks up the API key rows that
// pkg/apikeypolicy reasons about. Keys are looked up by the SHA-256 hash
// of the presented secret, never by the secret itself.
package apikeystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/crawlcore/pkg/apikeypolicy"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store looks up API keys by their hash and loads the tenant-wide policy
// a given key is checked against.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// HashSecret derives the lookup hash for a presented API key secret.
// Hashing (rather than storing the secret itself) means a leaked
// database dump never discloses usable credentials.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

const keyColumns = `id, tenant_id, prefix, scope_type, scope_id, allowed_origins, allowed_ips, resource_perms, rate_limit, revoked_at, suspended_at, expires_at`

// GetByHash resolves the key owning tenant and policy fields from its
// secret hash. Returns (nil, uuid.Nil, nil) when no key matches.
func (s *Store) GetByHash(ctx context.Context, hash string) (*apikeypolicy.Key, uuid.UUID, error) {
	row := s.db.QueryRow(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	return scanKey(row)
}

func scanKey(row pgx.Row) (*apikeypolicy.Key, uuid.UUID, error) {
	var (
		k            apikeypolicy.Key
		tenantID     uuid.UUID
		resourcePerm []byte
	)
	err := row.Scan(
		&k.ID, &tenantID, &k.Prefix, &k.ScopeType, &k.ScopeID,
		&k.AllowedOrigins, &k.AllowedIPs, &resourcePerm, &k.RateLimit,
		&k.RevokedAt, &k.SuspendedAt, &k.ExpiresAt,
	)
	if err == pgx.ErrNoRows {
		return nil, uuid.Nil, nil
	}
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("apikeystore: scanning key: %w", err)
	}
	if len(resourcePerm) > 0 {
		if err := json.Unmarshal(resourcePerm, &k.ResourcePerms); err != nil {
			return nil, uuid.Nil, fmt.Errorf("apikeystore: decoding resource_perms: %w", err)
		}
	}
	return &k, tenantID, nil
}

// TouchLastUsed updates a key's last_used_at column. Callers fire this
// asynchronously after a successful authentication so it never adds
// latency to the request it authenticates.
func (s *Store) TouchLastUsed(ctx context.Context, keyID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("apikeystore: touching last_used_at for key %s: %w", keyID, err)
	}
	return nil
}

// GetTenantPolicy loads the tenant-wide policy stored in tenants.api_key_policy.
func (s *Store) GetTenantPolicy(ctx context.Context, tenantID uuid.UUID) (apikeypolicy.TenantPolicy, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT api_key_policy FROM tenants WHERE id = $1`, tenantID).Scan(&raw)
	if err != nil {
		return apikeypolicy.TenantPolicy{}, fmt.Errorf("apikeystore: loading tenant policy for %s: %w", tenantID, err)
	}
	var policy apikeypolicy.TenantPolicy
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &policy); err != nil {
			return apikeypolicy.TenantPolicy{}, fmt.Errorf("apikeystore: decoding tenant policy: %w", err)
		}
	}
	return policy, nil
}
