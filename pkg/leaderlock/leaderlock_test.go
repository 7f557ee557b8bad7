package leaderlock

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTryAcquire_OnlyOneWinner(t *testing.T) {
	rdb := newTestClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a := New(rdb, logger, "feeder", 5*time.Second)
	b := New(rdb, logger, "feeder", 5*time.Second)

	okA, err := a.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("a.TryAcquire: %v", err)
	}
	okB, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("b.TryAcquire: %v", err)
	}

	if !okA || okB {
		t.Fatalf("okA=%v okB=%v, want exactly one winner", okA, okB)
	}
}

func TestRelease_OnlyByHolder(t *testing.T) {
	rdb := newTestClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a := New(rdb, logger, "watchdog", 5*time.Second)
	b := New(rdb, logger, "watchdog", 5*time.Second)

	if _, err := a.TryAcquire(ctx); err != nil {
		t.Fatalf("a.TryAcquire: %v", err)
	}

	if err := b.Release(ctx); err != ErrNotHeld {
		t.Fatalf("b.Release error = %v, want ErrNotHeld", err)
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("a.Release: %v", err)
	}

	okB, err := b.TryAcquire(ctx)
	if err != nil {
		t.Fatalf("b.TryAcquire after release: %v", err)
	}
	if !okB {
		t.Fatal("b should acquire after a released")
	}
}

func TestRenew_FailsForNonHolder(t *testing.T) {
	rdb := newTestClient(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	a := New(rdb, logger, "feeder", 5*time.Second)
	b := New(rdb, logger, "feeder", 5*time.Second)

	if _, err := a.TryAcquire(ctx); err != nil {
		t.Fatalf("a.TryAcquire: %v", err)
	}

	if err := b.Renew(ctx); err != ErrNotHeld {
		t.Fatalf("b.Renew error = %v, want ErrNotHeld", err)
	}
	if err := a.Renew(ctx); err != nil {
		t.Fatalf("a.Renew: %v", err)
	}
}
