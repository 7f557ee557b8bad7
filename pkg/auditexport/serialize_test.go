package auditexport

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGuardCSVCell_PrefixesInjectionChars(t *testing.T) {
	tests := []struct{ in, want string }{
		{"=SUM(A1)", "'=SUM(A1)"},
		{"+1", "'+1"},
		{"-1", "'-1"},
		{"@cmd", "'@cmd"},
		{"\tpadded", "'\tpadded"},
		{"plain text", "plain text"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := guardCSVCell(tt.in); got != tt.want {
			t.Errorf("guardCSVCell(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToJSONValue_TypeMapping(t *testing.T) {
	id := uuid.New()
	if v, err := toJSONValue(id); err != nil || v != id.String() {
		t.Errorf("uuid: got (%v, %v), want (%q, nil)", v, err, id.String())
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if v, err := toJSONValue(ts); err != nil || v != "2026-01-02T03:04:05Z" {
		t.Errorf("time: got (%v, %v)", v, err)
	}

	rat := big.NewRat(1, 3)
	if v, err := toJSONValue(rat); err != nil || v != "1/3" {
		t.Errorf("big.Rat: got (%v, %v)", v, err)
	}

	original := []byte{0, 1, 2, 250, 255}
	decoded, err := toJSONValue(original)
	if err != nil {
		t.Fatalf("bytes: unexpected error %v", err)
	}
	if roundTripped := encodeLatin1(decoded.(string)); string(roundTripped) != string(original) {
		t.Errorf("bytes round-trip failed: got %v, want %v", roundTripped, original)
	}
}

type fakeEnum string

func TestToJSONValue_NamedStringEnum(t *testing.T) {
	v, err := toJSONValue(fakeEnum("active"))
	if err != nil || v != "active" {
		t.Errorf("enum: got (%v, %v), want (\"active\", nil)", v, err)
	}
}

func TestToJSONValue_UnsupportedTypeErrors(t *testing.T) {
	type unsupported struct{ X int }
	_, err := toJSONValue(unsupported{X: 1})
	if err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
