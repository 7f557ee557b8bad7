package auditlog

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestLog_AssignsIDAndTimestamp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWriter(nil, logger)

	e := Entry{TenantID: uuid.New(), Action: "job.create", EntityType: "job", EntityID: uuid.New()}
	w.Log(e)

	got := <-w.entries
	if got.ID == uuid.Nil {
		t.Error("expected Log to assign a non-nil ID")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected Log to assign a non-zero timestamp")
	}
}

func TestLog_DropsWhenBufferFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewWriter(nil, logger)

	// Fill the channel's buffer without draining it.
	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{TenantID: uuid.New(), Action: "fill"})
	}

	// This one must not block: Log always returns immediately, dropping
	// the entry when the buffer is saturated.
	done := make(chan struct{})
	go func() {
		w.Log(Entry{TenantID: uuid.New(), Action: "overflow"})
		close(done)
	}()
	<-done
}
