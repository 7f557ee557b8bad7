package crawlrun

import "testing"

func TestIsZombieCandidate(t *testing.T) {
	zero := int64(0)
	five := int64(5)

	tests := []struct {
		name string
		run  CrawlRun
		want bool
	}{
		{"nil pages", CrawlRun{PagesCrawled: nil}, true},
		{"zero pages", CrawlRun{PagesCrawled: &zero}, true},
		{"some pages", CrawlRun{PagesCrawled: &five}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.run.IsZombieCandidate(); got != tt.want {
				t.Errorf("IsZombieCandidate() = %v, want %v", got, tt.want)
			}
		})
	}
}
