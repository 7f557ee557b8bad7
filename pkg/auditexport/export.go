package auditexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"

	"github.com/wisbric/crawlcore/internal/telemetry"
)

// Format selects the output encoding for an export.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ExportMemoryLimit is the maximum row count an in-memory export will
// serve without the caller explicitly raising it past this value.
const ExportMemoryLimit = 100_000

// StreamBatchSize is the pull size for streaming exports, ~1000 rows.
const StreamBatchSize = 1000

// ErrTooLarge is returned (as part of a Result, or directly by
// ExportCSV/ExportJSONL) when an in-memory export would exceed its
// record limit.
type ErrTooLarge struct {
	Count int64
	Limit int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("auditexport: %d matching rows exceeds limit %d; use streaming export", e.Count, e.Limit)
}

// Result is the outcome of an in-memory export: exactly one of Ok,
// TooLarge, or Cancelled. Closed by unexported marker methods — every
// switch over Result must be exhaustive within this package's three
// constructors.
type Result interface {
	isResult()
}

// ResultOk carries the fully rendered export body.
type ResultOk struct {
	Body string
}

func (ResultOk) isResult() {}

// ResultTooLarge carries the count/limit that triggered ErrTooLarge.
type ResultTooLarge struct {
	Count int64
	Limit int64
}

func (ResultTooLarge) isResult() {}

// ResultCancelled carries the number of rows processed before
// cancellation was observed.
type ResultCancelled struct {
	Processed int64
}

func (ResultCancelled) isResult() {}

// Service implements the audit log export entry points, both in-memory
// and streaming.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

// ExportCSV renders every matching row to a CSV string. If maxRecords is
// 0, the service counts matching rows first and rejects the export (via
// ResultTooLarge) when the count exceeds ExportMemoryLimit. If maxRecords
// is set above ExportMemoryLimit, it is rejected the same way.
func (s *Service) ExportCSV(ctx context.Context, filter Filter, maxRecords int64) (Result, error) {
	limit, tooLarge, err := s.resolveLimit(ctx, filter, maxRecords)
	if err != nil {
		return nil, err
	}
	if tooLarge != nil {
		return *tooLarge, nil
	}

	rows, err := s.store.Query(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("auditexport: writing csv header: %w", err)
	}

	var processed int64
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		record, err := csvRow(entry)
		if err != nil {
			return nil, err
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("auditexport: writing csv row: %w", err)
		}
		processed++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditexport: iterating export rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("auditexport: flushing csv writer: %w", err)
	}

	telemetry.ExportRowsProcessedTotal.WithLabelValues(string(FormatCSV)).Add(float64(processed))
	return ResultOk{Body: buf.String()}, nil
}

// ExportJSONL renders every matching row as newline-delimited JSON,
// subject to the same OOM protection as ExportCSV.
func (s *Service) ExportJSONL(ctx context.Context, filter Filter, maxRecords int64) (Result, error) {
	limit, tooLarge, err := s.resolveLimit(ctx, filter, maxRecords)
	if err != nil {
		return nil, err
	}
	if tooLarge != nil {
		return *tooLarge, nil
	}

	rows, err := s.store.Query(ctx, filter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var buf bytes.Buffer
	var processed int64
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		record, err := jsonRow(entry)
		if err != nil {
			return nil, err
		}
		line, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("auditexport: encoding jsonl row: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
		processed++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditexport: iterating export rows: %w", err)
	}

	telemetry.ExportRowsProcessedTotal.WithLabelValues(string(FormatJSONL)).Add(float64(processed))
	return ResultOk{Body: buf.String()}, nil
}

// resolveLimit applies the OOM-protection rule shared by ExportCSV and
// ExportJSONL: count first when the caller left maxRecords unset, and
// reject (returning a non-nil tooLarge) whenever the effective row count
// would exceed ExportMemoryLimit.
func (s *Service) resolveLimit(ctx context.Context, filter Filter, maxRecords int64) (limit int64, tooLarge *ResultTooLarge, err error) {
	if maxRecords > 0 {
		if maxRecords > ExportMemoryLimit {
			return 0, &ResultTooLarge{Count: maxRecords, Limit: ExportMemoryLimit}, nil
		}
		return maxRecords, nil, nil
	}

	count, err := s.store.Count(ctx, filter)
	if err != nil {
		return 0, nil, err
	}
	if count > ExportMemoryLimit {
		return 0, &ResultTooLarge{Count: count, Limit: ExportMemoryLimit}, nil
	}
	return 0, nil, nil
}

// Chunk is one batch yielded by StreamCSV/StreamJSONL.
type Chunk struct {
	Data      string
	Processed int64
}

// StreamCSV pulls matching rows in StreamBatchSize batches and invokes
// yield once per batch. Memory stays ~constant regardless
// of total result size: only one batch is ever held at a time. The
// caller is responsible for feeding chunks into an HTTP response body.
func (s *Service) StreamCSV(ctx context.Context, filter Filter, yield func(Chunk) error) error {
	return s.stream(ctx, filter, FormatCSV, true, yield)
}

// StreamJSONL is StreamCSV's JSONL counterpart.
func (s *Service) StreamJSONL(ctx context.Context, filter Filter, yield func(Chunk) error) error {
	return s.stream(ctx, filter, FormatJSONL, true, yield)
}

func (s *Service) stream(ctx context.Context, filter Filter, format Format, header bool, yield func(Chunk) error) error {
	rows, err := s.store.Query(ctx, filter, 0)
	if err != nil {
		return err
	}
	defer rows.Close()

	var processed int64
	var buf bytes.Buffer
	var csvWriter *csv.Writer
	if format == FormatCSV {
		csvWriter = csv.NewWriter(&buf)
		if header {
			if err := csvWriter.Write(Columns); err != nil {
				return fmt.Errorf("auditexport: writing csv header: %w", err)
			}
		}
	}

	inBatch := 0
	flush := func() error {
		if format == FormatCSV {
			csvWriter.Flush()
			if err := csvWriter.Error(); err != nil {
				return fmt.Errorf("auditexport: flushing csv batch: %w", err)
			}
		}
		if buf.Len() == 0 && inBatch == 0 {
			return nil
		}
		if err := yield(Chunk{Data: buf.String(), Processed: processed}); err != nil {
			return err
		}
		buf.Reset()
		inBatch = 0
		return nil
	}

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return err
		}

		switch format {
		case FormatCSV:
			record, err := csvRow(entry)
			if err != nil {
				return err
			}
			if err := csvWriter.Write(record); err != nil {
				return fmt.Errorf("auditexport: writing csv row: %w", err)
			}
		case FormatJSONL:
			record, err := jsonRow(entry)
			if err != nil {
				return err
			}
			line, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("auditexport: encoding jsonl row: %w", err)
			}
			buf.Write(line)
			buf.WriteByte('\n')
		}

		processed++
		inBatch++
		if inBatch >= StreamBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("auditexport: iterating export rows: %w", err)
	}
	if err := flush(); err != nil {
		return err
	}

	telemetry.ExportRowsProcessedTotal.WithLabelValues(string(format)).Add(float64(processed))
	return nil
}
