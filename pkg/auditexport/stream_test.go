package auditexport

import "testing"

func TestStreamToFileOptions_Clamp(t *testing.T) {
	tests := []struct {
		name string
		in   StreamToFileOptions
		want StreamToFileOptions
	}{
		{"zero values clamp to minimums", StreamToFileOptions{}, StreamToFileOptions{BatchSize: 1, BufferSize: 1, ProgressInterval: 1}},
		{"over-max clamps down", StreamToFileOptions{BatchSize: 9999, BufferSize: 99999, ProgressInterval: 1}, StreamToFileOptions{BatchSize: 5000, BufferSize: 10000, ProgressInterval: 1}},
		{"within range passes through", StreamToFileOptions{BatchSize: 500, BufferSize: 500, ProgressInterval: 10}, StreamToFileOptions{BatchSize: 500, BufferSize: 500, ProgressInterval: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.clamp()
			if got.BatchSize != tt.want.BatchSize || got.BufferSize != tt.want.BufferSize || got.ProgressInterval != tt.want.ProgressInterval {
				t.Errorf("clamp() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestErrTooLarge_Error(t *testing.T) {
	err := &ErrTooLarge{Count: 200_000, Limit: ExportMemoryLimit}
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
}

func TestResult_ClosedVariants(t *testing.T) {
	var results = []Result{
		ResultOk{Body: "a,b,c\n"},
		ResultTooLarge{Count: 5, Limit: 1},
		ResultCancelled{Processed: 3},
	}
	for _, r := range results {
		switch v := r.(type) {
		case ResultOk:
			if v.Body == "" {
				t.Error("expected non-empty body")
			}
		case ResultTooLarge:
			if v.Limit != 1 {
				t.Error("expected limit 1")
			}
		case ResultCancelled:
			if v.Processed != 3 {
				t.Error("expected processed 3")
			}
		default:
			t.Fatalf("unexpected Result variant %T", r)
		}
	}
}
