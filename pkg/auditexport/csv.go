package auditexport

import (
	"encoding/json"
	"fmt"

	"github.com/wisbric/crawlcore/pkg/auditlog"
)

// metadataJSON renders an entry's metadata using the same serializer as
// JSONL output, so CSV and JSONL exports agree byte-for-byte on the
// Metadata column.
func metadataJSON(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("auditexport: decoding metadata: %w", err)
	}
	normalized, err := normalizeForJSON(v)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("auditexport: encoding metadata: %w", err)
	}
	return string(b), nil
}

// normalizeForJSON walks a decoded JSON value and runs every leaf through
// toJSONValue, so metadata containing already-JSON-shaped values (string,
// float64, bool, nested objects/arrays from encoding/json) passes through
// unchanged while anything requiring the type-handler policy is converted.
func normalizeForJSON(v any) (any, error) {
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			n, err := normalizeForJSON(val)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(tv))
		for i, val := range tv {
			n, err := normalizeForJSON(val)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return toJSONValue(tv)
	}
}

// csvRow builds the fixed-order CSV record for a single entry (spec
// §4.6.1), applying the injection guard to Description, Error Message,
// and Metadata.
func csvRow(e auditlog.Entry) ([]string, error) {
	actorID := ""
	if e.ActorID != nil {
		actorID = e.ActorID.String()
	}
	errMsg := ""
	if e.ErrorMessage != nil {
		errMsg = *e.ErrorMessage
	}
	metadata, err := metadataJSON(e.Metadata)
	if err != nil {
		return nil, err
	}

	return []string{
		e.Timestamp.UTC().Format(timeFormat),
		actorID,
		string(e.ActorType),
		e.Action,
		e.EntityType,
		e.EntityID.String(),
		guardCSVCell(e.Description),
		string(e.Outcome),
		guardCSVCell(errMsg),
		guardCSVCell(metadata),
	}, nil
}

// jsonRow builds the JSONL object for a single entry, using the same
// field names as the CSV columns so the two formats are trivially
// comparable.
func jsonRow(e auditlog.Entry) (map[string]any, error) {
	metadata, err := metadataJSON(e.Metadata)
	if err != nil {
		return nil, err
	}
	var metaValue any
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &metaValue); err != nil {
			return nil, fmt.Errorf("auditexport: re-decoding normalized metadata: %w", err)
		}
	}

	var actorID any
	if e.ActorID != nil {
		actorID = e.ActorID.String()
	}
	var errMsg any
	if e.ErrorMessage != nil {
		errMsg = *e.ErrorMessage
	}

	return map[string]any{
		"Timestamp":     e.Timestamp.UTC().Format(timeFormat),
		"Actor ID":      actorID,
		"Actor Type":    string(e.ActorType),
		"Action":        e.Action,
		"Entity Type":   e.EntityType,
		"Entity ID":     e.EntityID.String(),
		"Description":   e.Description,
		"Outcome":       string(e.Outcome),
		"Error Message": errMsg,
		"Metadata":      metaValue,
	}, nil
}

const timeFormat = "2006-01-02T15:04:05.000000Z07:00"
