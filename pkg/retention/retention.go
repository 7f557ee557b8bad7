// Package retention implements DataRetentionService: a periodic
// hard-delete sweep of conversation history (Questions) and app runs
// (AppRuns), using a server-side COALESCE expression to resolve each
// row's effective retention window hierarchically.
package retention

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MinRetentionDays and MaxRetentionDays bound data_retention_days (spec
// §4.9, "1 day to ~7 years"). Enforced both here (fail fast, before a
// round trip) and as a DB CHECK constraint (defense in depth).
const (
	MinRetentionDays = 1
	MaxRetentionDays = 2555
)

// ValidationError surfaces a retention-days value outside [1, 2555] as a
// 422 naming the violated constraint.
type ValidationError struct {
	Constraint string
	Value      int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("retention: %s violated: data_retention_days=%d must be between %d and %d", e.Constraint, e.Value, MinRetentionDays, MaxRetentionDays)
}

// ValidateRetentionDays checks a caller-supplied retention value before
// it ever reaches the database.
func ValidateRetentionDays(days int) error {
	if days < MinRetentionDays || days > MaxRetentionDays {
		return &ValidationError{Constraint: "data_retention_days_range", Value: days}
	}
	return nil
}

// AsValidationError converts a Postgres CHECK-constraint violation
// (SQLSTATE 23514) on a *_data_retention_days column into a
// *ValidationError naming the constraint, so callers that bypassed
// ValidateRetentionDays (or raced a concurrent schema change) still get
// a structured 422 instead of a raw driver error.
func AsValidationError(err error) (*ValidationError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	if pgErr.Code != "23514" {
		return nil, false
	}
	return &ValidationError{Constraint: pgErr.ConstraintName}, true
}

// Service runs the retention sweep for Questions and AppRuns.
type Service struct {
	db DBTX
}

func NewService(db DBTX) *Service {
	return &Service{db: db}
}

// questionsSweepSQL deletes Questions whose assistant/space/tenant
// hierarchy resolves to a non-NULL effective retention and whose
// created_at predates that window. Boundary is strict "<": a row
// exactly at the threshold is kept.
const questionsSweepSQL = `
DELETE FROM questions q
USING assistants a
LEFT JOIN spaces sp ON sp.id = a.space_id
JOIN tenants t ON t.id = a.tenant_id
WHERE q.assistant_id = a.id
  AND COALESCE(
        a.data_retention_days,
        sp.data_retention_days,
        CASE WHEN t.conversation_retention_enabled THEN t.conversation_retention_days ELSE NULL END
      ) IS NOT NULL
  AND q.created_at < now() - (COALESCE(
        a.data_retention_days,
        sp.data_retention_days,
        CASE WHEN t.conversation_retention_enabled THEN t.conversation_retention_days ELSE NULL END
      ) * interval '1 day')`

// appRunsSweepSQL is the AppRuns analogue: apps sit directly under a
// tenant, so the hierarchy is one level shorter than Questions'.
const appRunsSweepSQL = `
DELETE FROM app_runs ar
USING apps ap
JOIN tenants t ON t.id = ap.tenant_id
WHERE ar.app_id = ap.id
  AND COALESCE(
        ap.data_retention_days,
        CASE WHEN t.conversation_retention_enabled THEN t.conversation_retention_days ELSE NULL END
      ) IS NOT NULL
  AND ar.created_at < now() - (COALESCE(
        ap.data_retention_days,
        CASE WHEN t.conversation_retention_enabled THEN t.conversation_retention_days ELSE NULL END
      ) * interval '1 day')`

// SweepQuestions deletes expired conversation history rows and returns
// the number deleted.
func (s *Service) SweepQuestions(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, questionsSweepSQL)
	if err != nil {
		return 0, fmt.Errorf("retention: sweeping questions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepAppRuns deletes expired app-run rows and returns the number deleted.
func (s *Service) SweepAppRuns(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, appRunsSweepSQL)
	if err != nil {
		return 0, fmt.Errorf("retention: sweeping app runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SweepAll runs both sweeps and returns their combined deletion counts.
// A failure in one sweep does not prevent the other from running.
func (s *Service) SweepAll(ctx context.Context) (questionsDeleted, appRunsDeleted int64, err error) {
	questionsDeleted, qErr := s.SweepQuestions(ctx)
	appRunsDeleted, arErr := s.SweepAppRuns(ctx)
	return questionsDeleted, appRunsDeleted, errors.Join(qErr, arErr)
}
