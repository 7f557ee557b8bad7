package watchdog

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/crawlcore/pkg/capacity"
)

func newTestWatchdog(t *testing.T, cfg Config) (*Watchdog, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cap := capacity.NewManager(rdb, logger, 5, 300, 10)
	return New(nil, rdb, cap, logger, cfg, nil, nil), mr
}

func TestRecordSuccess_TTLFloor(t *testing.T) {
	w, mr := newTestWatchdog(t, Config{WatchdogInterval: 10 * time.Second})
	w.recordSuccess(context.Background())

	ttl := mr.TTL(lastSuccessKey)
	if ttl < 299*time.Second || ttl > 300*time.Second+time.Second {
		t.Fatalf("ttl = %v, want ~300s floor (2x10s=20s would be below the 300s floor)", ttl)
	}
}

func TestRecordSuccess_TTLScalesWithInterval(t *testing.T) {
	w, mr := newTestWatchdog(t, Config{WatchdogInterval: 200 * time.Second})
	w.recordSuccess(context.Background())

	ttl := mr.TTL(lastSuccessKey)
	if ttl < 399*time.Second || ttl > 400*time.Second+time.Second {
		t.Fatalf("ttl = %v, want ~400s (2x200s)", ttl)
	}
}
