package auditexport

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/wisbric/crawlcore/internal/telemetry"
)

// StreamToFileOptions configures StreamToFile. Zero values are clamped
// to their minimum by StreamToFile, so callers may leave them unset.
type StreamToFileOptions struct {
	Format           Format
	BatchSize        int
	BufferSize       int
	ProgressInterval int
	MaxRecords       int64

	// ProgressCallback is invoked every ProgressInterval rows with the
	// processed-so-far and total counts. Errors are logged but never
	// abort the export.
	ProgressCallback func(ctx context.Context, processed, total int64) error

	// CancellationCheck is polled on the same interval. Returning true
	// stops the export cleanly without deleting the temp file.
	CancellationCheck func(ctx context.Context) (bool, error)
}

func (o StreamToFileOptions) clamp() StreamToFileOptions {
	if o.BatchSize < 1 {
		o.BatchSize = 1
	} else if o.BatchSize > 5000 {
		o.BatchSize = 5000
	}
	if o.BufferSize < 1 {
		o.BufferSize = 1
	} else if o.BufferSize > 10000 {
		o.BufferSize = 10000
	}
	if o.ProgressInterval < 1 {
		o.ProgressInterval = 1
	}
	return o
}

// StreamResult reports how StreamToFile concluded.
type StreamResult struct {
	Processed int64
	Total     int64
	Cancelled bool
}

// StreamToFile streams every row matching filter into a temp file beside
// targetPath, then atomically renames it into place. On any unhandled
// error, or on cancellation, the temp file is removed instead and never
// replaces targetPath.
func (s *Service) StreamToFile(ctx context.Context, filter Filter, targetPath string, opts StreamToFileOptions, logger *slog.Logger) (result StreamResult, err error) {
	opts = opts.clamp()

	total, err := s.store.Count(ctx, filter)
	if err != nil {
		return result, err
	}
	limit := int64(0)
	if opts.MaxRecords > 0 {
		limit = opts.MaxRecords
		if limit < total {
			total = limit
		}
	}

	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(targetPath)+".*.tmp")
	if err != nil {
		return result, fmt.Errorf("auditexport: creating temp export file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupTemp := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	rows, err := s.store.Query(ctx, filter, limit)
	if err != nil {
		cleanupTemp()
		return result, err
	}
	defer rows.Close()

	var csvWriter *csv.Writer
	if opts.Format == FormatCSV {
		csvWriter = csv.NewWriter(tmp)
		if err := csvWriter.Write(Columns); err != nil {
			cleanupTemp()
			return result, fmt.Errorf("auditexport: writing csv header: %w", err)
		}
	}

	buffered := 0
	flush := func() error {
		if buffered == 0 {
			return nil
		}
		if opts.Format == FormatCSV {
			csvWriter.Flush()
			if err := csvWriter.Error(); err != nil {
				return fmt.Errorf("auditexport: flushing csv buffer: %w", err)
			}
		}
		buffered = 0
		return nil
	}

	var processed int64
	var cancelled bool

fileLoop:
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			cleanupTemp()
			return result, scanErr
		}

		switch opts.Format {
		case FormatCSV:
			record, recErr := csvRow(entry)
			if recErr != nil {
				cleanupTemp()
				return result, recErr
			}
			if werr := csvWriter.Write(record); werr != nil {
				cleanupTemp()
				return result, fmt.Errorf("auditexport: writing csv row: %w", werr)
			}
		case FormatJSONL:
			record, recErr := jsonRow(entry)
			if recErr != nil {
				cleanupTemp()
				return result, recErr
			}
			line, jerr := json.Marshal(record)
			if jerr != nil {
				cleanupTemp()
				return result, fmt.Errorf("auditexport: encoding jsonl row: %w", jerr)
			}
			line = append(line, '\n')
			if _, werr := tmp.Write(line); werr != nil {
				cleanupTemp()
				return result, fmt.Errorf("auditexport: writing jsonl row: %w", werr)
			}
		}

		processed++
		buffered++

		if processed%int64(opts.ProgressInterval) == 0 {
			if opts.CancellationCheck != nil {
				stop, cerr := opts.CancellationCheck(ctx)
				if cerr != nil && logger != nil {
					logger.Warn("auditexport: cancellation check failed", "error", cerr)
				}
				if stop {
					cancelled = true
					if err := flush(); err != nil {
						cleanupTemp()
						return result, err
					}
					break fileLoop
				}
			}
			if opts.ProgressCallback != nil {
				if perr := opts.ProgressCallback(ctx, processed, total); perr != nil && logger != nil {
					logger.Warn("auditexport: progress callback failed", "error", perr)
				}
			}
		}

		if buffered >= opts.BufferSize {
			if err := flush(); err != nil {
				cleanupTemp()
				return result, err
			}
		}
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		cleanupTemp()
		return result, fmt.Errorf("auditexport: iterating export rows: %w", rowsErr)
	}

	if !cancelled {
		if err := flush(); err != nil {
			cleanupTemp()
			return result, err
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return result, fmt.Errorf("auditexport: closing temp export file: %w", err)
	}

	result = StreamResult{Processed: processed, Total: total, Cancelled: cancelled}

	if cancelled {
		os.Remove(tmpPath)
		return result, nil
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return result, fmt.Errorf("auditexport: renaming temp export file into place: %w", err)
	}

	telemetry.ExportRowsProcessedTotal.WithLabelValues(string(opts.Format)).Add(float64(processed))
	return result, nil
}
