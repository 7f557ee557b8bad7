// Package leaderlock provides the distributed lock backing the Feeder
// and Watchdog singletons: only one instance cluster-wide may run either
// loop at a time, enforced by a Redis-held lock rather than leader
// election.
package leaderlock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Renew/Release when the caller's token no
// longer matches the lock (another holder won it, most likely after a
// missed renewal).
var ErrNotHeld = errors.New("leaderlock: not held")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Lock is a Redis-backed singleton lock: SET NX PX to acquire, a token
// compare-and-delete to release, and a token compare-and-pexpire to
// renew, so a held lock can only be mutated by its current holder.
type Lock struct {
	rdb    *redis.Client
	logger *slog.Logger
	key    string
	ttl    time.Duration
	token  string
}

func New(rdb *redis.Client, logger *slog.Logger, name string, ttl time.Duration) *Lock {
	return &Lock{
		rdb:    rdb,
		logger: logger,
		key:    "leaderlock:" + name,
		ttl:    ttl,
		token:  uuid.NewString(),
	}
}

// TryAcquire attempts to become leader. Returns false (not an error) if
// another instance currently holds the lock.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Renew extends the lock's TTL. Callers should invoke this on roughly
// ttl/3 cadence; a failed renew means leadership should be relinquished.
func (l *Lock) Renew(ctx context.Context) error {
	res, err := renewScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// Release gives up leadership immediately, but only if this instance
// still holds the lock (token match).
func (l *Lock) Release(ctx context.Context) error {
	res, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// RunAsLeader repeatedly tries to acquire the lock and, once acquired,
// renews it on a ttl/3 cadence while invoking fn on every successful
// renewal. fn's context is cancelled the moment leadership is lost (a
// renew fails) so callers can abort in-flight work promptly. Returns
// when ctx is cancelled.
func RunAsLeader(ctx context.Context, l *Lock, retryInterval time.Duration, fn func(context.Context)) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ok, err := l.TryAcquire(ctx)
		if err != nil {
			l.logger.Warn("leader lock acquire failed", "key", l.key, "error", err)
			if !sleepOrDone(ctx, retryInterval) {
				return
			}
			continue
		}
		if !ok {
			if !sleepOrDone(ctx, retryInterval) {
				return
			}
			continue
		}

		l.logger.Info("acquired leader lock", "key", l.key)
		leaderCtx, cancel := context.WithCancel(ctx)
		go fn(leaderCtx)

		renewTicker := time.NewTicker(l.ttl / 3)
		lost := false
		for !lost {
			select {
			case <-ctx.Done():
				renewTicker.Stop()
				cancel()
				_ = l.Release(context.Background())
				return
			case <-renewTicker.C:
				if err := l.Renew(ctx); err != nil {
					l.logger.Warn("lost leader lock, relinquishing", "key", l.key, "error", err)
					lost = true
				}
			}
		}
		renewTicker.Stop()
		cancel()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
