package tenant

import (
	"context"
	"encoding/json"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := FromContext(ctx); got != nil {
		t.Fatalf("expected nil tenant, got %+v", got)
	}

	info := &Info{Slug: "acme", Name: "Acme Inc"}
	ctx = NewContext(ctx, info)

	got := FromContext(ctx)
	if got == nil {
		t.Fatal("expected tenant info, got nil")
	}
	if got.Slug != "acme" {
		t.Errorf("slug = %q, want %q", got.Slug, "acme")
	}
}

func TestParseCrawlerSettings(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		want CrawlerSettings
	}{
		{"empty", nil, CrawlerSettings{}},
		{"partial", json.RawMessage(`{"crawl_feeder_batch_size": 25}`), CrawlerSettings{CrawlFeederBatchSize: intp(25)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCrawlerSettings(tt.raw)
			if err != nil {
				t.Fatalf("ParseCrawlerSettings: %v", err)
			}
			if IntOr(got.CrawlFeederBatchSize, -1) != IntOr(tt.want.CrawlFeederBatchSize, -1) {
				t.Errorf("CrawlFeederBatchSize = %v, want %v", got.CrawlFeederBatchSize, tt.want.CrawlFeederBatchSize)
			}
		})
	}
}

func TestQueuedStaleThresholdClamp(t *testing.T) {
	tests := []struct {
		val, fallback, want int
	}{
		{0, 15, 5},
		{1000, 15, 60},
		{20, 15, 20},
	}
	for _, tt := range tests {
		s := CrawlerSettings{QueuedStaleThresholdMinutes: intp(tt.val)}
		if tt.val == 0 {
			s.QueuedStaleThresholdMinutes = intp(0)
		}
		got := s.QueuedStaleThresholdMinutesClamped(tt.fallback)
		if got != tt.want {
			t.Errorf("clamp(%d, fallback=%d) = %d, want %d", tt.val, tt.fallback, got, tt.want)
		}
	}
}

func intp(v int) *int { return &v }
