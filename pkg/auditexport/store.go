package auditexport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wisbric/crawlcore/pkg/auditlog"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Filter scopes an export to a tenant's audit_logs rows, optionally
// narrowed by action, entity type, or a timestamp range.
type Filter struct {
	TenantID   uuid.UUID
	Action     string
	EntityType string
	From       *time.Time
	To         *time.Time
}

func (f Filter) whereClause() (string, []any) {
	clause := "WHERE tenant_id = $1"
	args := []any{f.TenantID}
	if f.Action != "" {
		args = append(args, f.Action)
		clause += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if f.EntityType != "" {
		args = append(args, f.EntityType)
		clause += fmt.Sprintf(" AND entity_type = $%d", len(args))
	}
	if f.From != nil {
		args = append(args, *f.From)
		clause += fmt.Sprintf(" AND timestamp >= $%d", len(args))
	}
	if f.To != nil {
		args = append(args, *f.To)
		clause += fmt.Sprintf(" AND timestamp < $%d", len(args))
	}
	return clause, args
}

const entryColumns = `id, tenant_id, actor_id, actor_type, action, entity_type, entity_id, description, outcome, error_message, metadata, timestamp`

// Store queries audit_logs rows for export, via a pgx server-side cursor:
// Query + row-by-row iteration never materializes the full result set,
// which is the streaming primitive every export mode in this package is
// built on.
type Store struct {
	db DBTX
}

func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Count returns the number of rows matching filter, used for the
// in-memory OOM check and for the percentage denominator of streaming
// exports.
func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := filter.whereClause()
	var n int64
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM audit_logs `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("auditexport: counting matching rows: %w", err)
	}
	return n, nil
}

// Query opens a cursor over matching rows ordered oldest-first, capped at
// limit rows when limit > 0. Callers must Close the returned Rows.
func (s *Store) Query(ctx context.Context, filter Filter, limit int64) (pgx.Rows, error) {
	where, args := filter.whereClause()
	query := `SELECT ` + entryColumns + ` FROM audit_logs ` + where + ` ORDER BY timestamp ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditexport: querying matching rows: %w", err)
	}
	return rows, nil
}

// scanEntry scans one audit_logs row into an auditlog.Entry.
func scanEntry(rows pgx.Rows) (auditlog.Entry, error) {
	var e auditlog.Entry
	err := rows.Scan(
		&e.ID, &e.TenantID, &e.ActorID, &e.ActorType, &e.Action, &e.EntityType,
		&e.EntityID, &e.Description, &e.Outcome, &e.ErrorMessage, &e.Metadata, &e.Timestamp,
	)
	if err != nil {
		return auditlog.Entry{}, fmt.Errorf("auditexport: scanning entry row: %w", err)
	}
	return e, nil
}
