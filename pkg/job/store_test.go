package job

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// fakeDB is an in-memory DBTX good enough to exercise the CAS semantics of
// MarkFailedIfRunning without a real Postgres connection.
type fakeDB struct {
	mu  sync.Mutex
	row Job
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgx.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Only MarkFailedIfRunning is exercised here: args are
	// (status, errMsg, id, queuedStatus, inProgressStatus).
	status := args[0].(Status)
	id := args[2].(uuid.UUID)
	wantA := args[3].(Status)
	wantB := args[4].(Status)

	if f.row.ID != id || (f.row.Status != wantA && f.row.Status != wantB) {
		return pgx.NewCommandTag("UPDATE 0"), nil
	}
	f.row.Status = status
	msg := args[1].(string)
	f.row.ErrorMessage = &msg
	return pgx.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

// TestMarkFailedIfRunning_SingleWinner asserts that of N concurrent
// MarkFailedIfRunning calls against the same job, only one may report
// rows_affected=1.
func TestMarkFailedIfRunning_SingleWinner(t *testing.T) {
	id := uuid.New()
	db := &fakeDB{row: Job{ID: id, Status: StatusInProgress}}
	store := NewStore(db)

	const n = 20
	var winners int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			rows, err := store.MarkFailedIfRunning(context.Background(), id, "preempted")
			if err != nil {
				t.Errorf("MarkFailedIfRunning: %v", err)
				return
			}
			if rows == 1 {
				atomic.AddInt64(&winners, 1)
			} else if rows != 0 {
				t.Errorf("rows_affected = %d, want 0 or 1", rows)
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
	if db.row.Status != StatusFailed {
		t.Fatalf("final status = %s, want %s", db.row.Status, StatusFailed)
	}
}

func TestMarkFailedIfRunning_TerminalNoOp(t *testing.T) {
	id := uuid.New()
	db := &fakeDB{row: Job{ID: id, Status: StatusComplete}}
	store := NewStore(db)

	rows, err := store.MarkFailedIfRunning(context.Background(), id, "too late")
	if err != nil {
		t.Fatalf("MarkFailedIfRunning: %v", err)
	}
	if rows != 0 {
		t.Fatalf("rows_affected = %d, want 0 for a job already in a terminal state", rows)
	}
	if db.row.Status != StatusComplete {
		t.Fatalf("status mutated to %s, want unchanged %s", db.row.Status, StatusComplete)
	}
}
