package retention

import "testing"

func TestValidateRetentionDays(t *testing.T) {
	tests := []struct {
		days    int
		wantErr bool
	}{
		{0, true},
		{1, false},
		{2555, false},
		{2556, true},
		{-5, true},
		{180, false},
	}
	for _, tt := range tests {
		err := ValidateRetentionDays(tt.days)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateRetentionDays(%d) error = %v, wantErr %v", tt.days, err, tt.wantErr)
		}
		if err != nil {
			var verr *ValidationError
			if ve, ok := err.(*ValidationError); ok {
				verr = ve
			}
			if verr == nil || verr.Constraint != "data_retention_days_range" {
				t.Errorf("expected ValidationError naming data_retention_days_range, got %v", err)
			}
		}
	}
}

func TestAsValidationError_NonPgErrorReturnsFalse(t *testing.T) {
	_, ok := AsValidationError(errUnrelated{})
	if ok {
		t.Error("expected false for a non-pgconn.PgError error")
	}
}

type errUnrelated struct{}

func (errUnrelated) Error() string { return "unrelated failure" }
