// Package auditexport implements export of audit logs to CSV or JSONL,
// in-memory for small result sets and streamed (to an HTTP response or
// to a file) for large ones.
package auditexport

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Columns is the fixed CSV column order. JSONL output uses the same
// field set with these as JSON keys.
var Columns = []string{
	"Timestamp", "Actor ID", "Actor Type", "Action", "Entity Type",
	"Entity ID", "Description", "Outcome", "Error Message", "Metadata",
}

// injectionPrefixes are the leading characters that make a spreadsheet
// cell dangerous to open (formula injection). Applied to Description,
// Error Message, and Metadata.
const injectionPrefixes = "=+-@\t\r"

// guardCSVCell prefixes a literal single quote when value begins with one
// of the CSV injection characters, so spreadsheet software renders it as
// text rather than evaluating it as a formula.
func guardCSVCell(value string) string {
	if value == "" {
		return value
	}
	if strings.ContainsRune(injectionPrefixes, rune(value[0])) {
		return "'" + value
	}
	return value
}

// toJSONValue converts a single field value into something
// encoding/json can marshal directly. Unsupported types return an error
// naming the reflect.Type.
func toJSONValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch tv := v.(type) {
	case uuid.UUID:
		return tv.String(), nil
	case *uuid.UUID:
		if tv == nil {
			return nil, nil
		}
		return tv.String(), nil
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano), nil
	case *time.Time:
		if tv == nil {
			return nil, nil
		}
		return tv.UTC().Format(time.RFC3339Nano), nil
	case *big.Int:
		if tv == nil {
			return nil, nil
		}
		return tv.String(), nil
	case *big.Rat:
		if tv == nil {
			return nil, nil
		}
		return tv.RatString(), nil
	case []byte:
		return decodeLatin1(tv), nil
	case fmt.Stringer:
		return tv.String(), nil
	case string:
		return tv, nil
	case bool, int, int32, int64, float32, float64:
		return tv, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}

	return nil, fmt.Errorf("auditexport: no JSON serializer registered for type %s", reflect.TypeOf(v))
}

// decodeLatin1 maps each byte to its identical Unicode code point
// (ISO-8859-1 is a direct subset of Unicode's first 256 code points),
// giving a lossless, reversible string form for arbitrary byte values
// rather than requiring valid UTF-8.
func decodeLatin1(b []byte) string {
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	return string(runes)
}

// encodeLatin1 is the inverse of decodeLatin1, used only by tests to
// round-trip byte values through the JSON policy.
func encodeLatin1(s string) []byte {
	runes := []rune(s)
	out := make([]byte, len(runes))
	for i, r := range runes {
		out[i] = byte(r)
	}
	return out
}
