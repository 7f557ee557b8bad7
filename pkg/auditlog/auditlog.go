// Package auditlog implements the audit log entity and an async,
// buffered writer so request/job handlers never block on a database
// round trip to record an audit event.
package auditlog

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/crawlcore/internal/telemetry"
)

// ActorType tags who performed the audited action.
type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorSystem ActorType = "system"
	ActorAPIKey ActorType = "api_key"
)

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Entry is a single audit log row. Append-only: once written it is
// never mutated, only deleted by the retention sweep.
type Entry struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ActorID      *uuid.UUID
	ActorType    ActorType
	Action       string
	EntityType   string
	EntityID     uuid.UUID
	Description  string
	Outcome      Outcome
	ErrorMessage *string
	Metadata     json.RawMessage
	Timestamp    time.Time
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// Writer is an async, buffered audit log writer: entries are sent to an
// internal channel and flushed by a background goroutine in batches.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background flush goroutine. It returns when ctx is
// cancelled and all pending entries have been flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close drains and flushes every pending entry, then waits for the
// background goroutine to exit.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an entry for async writing. Never blocks: if the buffer
// is full the entry is dropped and a warning is logged, since audit
// logging must never back-pressure the request path.
func (w *Writer) Log(e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	select {
	case w.entries <- e:
	default:
		w.logger.Warn("audit log buffer full, dropping entry", "action", e.Action, "entity_type", e.EntityType)
		telemetry.AuditLogWriteDropsTotal.Inc()
	}
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

func (w *Writer) flush(ctx context.Context, batch []Entry) {
	for _, e := range batch {
		_, err := w.pool.Exec(ctx, `
			INSERT INTO audit_logs (id, tenant_id, actor_id, actor_type, action, entity_type, entity_id, description, outcome, error_message, metadata, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			e.ID, e.TenantID, e.ActorID, e.ActorType, e.Action, e.EntityType, e.EntityID,
			e.Description, e.Outcome, e.ErrorMessage, e.Metadata, e.Timestamp,
		)
		if err != nil {
			w.logger.Error("flushing audit log entry failed", "id", e.ID, "error", err)
		}
	}
}
