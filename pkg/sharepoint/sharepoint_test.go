package sharepoint

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type fakeLookup struct {
	subs map[uuid.UUID]*Subscription
}

func (f *fakeLookup) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return f.subs[id], nil
}

func newTestProcessor(t *testing.T, sub *Subscription, dispatcher Dispatcher) *Processor {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookup := &fakeLookup{subs: map[uuid.UUID]*Subscription{sub.ID: sub}}
	return New(rdb, logger, lookup, dispatcher)
}

func TestProcess_RejectsClientStateMismatch(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), Scope: ScopeSiteRoot, ClientState: "secret"}
	p := newTestProcessor(t, sub, func(ctx context.Context, tenantID, websiteID uuid.UUID, deltaToken *string) error {
		t.Fatal("dispatcher should not be called")
		return nil
	})

	_, err := p.Process(context.Background(), Notification{SubscriptionID: sub.ID, ChangeKey: "ck1", ClientState: "wrong"})
	if err != ErrClientStateMismatch {
		t.Fatalf("expected ErrClientStateMismatch, got %v", err)
	}
}

func TestProcess_DedupesRepeatedChangeKey(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), Scope: ScopeSiteRoot, ClientState: "secret"}
	dispatchCount := 0
	p := newTestProcessor(t, sub, func(ctx context.Context, tenantID, websiteID uuid.UUID, deltaToken *string) error {
		dispatchCount++
		return nil
	})

	n := Notification{SubscriptionID: sub.ID, ChangeKey: "ck1", ClientState: "secret"}
	first, err := p.Process(context.Background(), n)
	if err != nil {
		t.Fatalf("first process: %v", err)
	}
	if first != OutcomeQueuedFull {
		t.Errorf("first outcome = %v, want queued_full_sync", first)
	}

	second, err := p.Process(context.Background(), n)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if second != OutcomeDeduped {
		t.Errorf("second outcome = %v, want deduped", second)
	}
	if dispatchCount != 1 {
		t.Errorf("dispatcher called %d times, want 1", dispatchCount)
	}
}

func TestProcess_DeltaTokenSelectsDeltaSync(t *testing.T) {
	sub := &Subscription{ID: uuid.New(), TenantID: uuid.New(), Scope: ScopeSiteRoot, ClientState: "secret"}
	p := newTestProcessor(t, sub, func(ctx context.Context, tenantID, websiteID uuid.UUID, deltaToken *string) error {
		return nil
	})

	token := "opaque-token"
	outcome, err := p.Process(context.Background(), Notification{
		SubscriptionID: sub.ID, ChangeKey: "ck1", ClientState: "secret", DeltaToken: &token,
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome != OutcomeQueuedDelta {
		t.Errorf("outcome = %v, want queued_delta_sync", outcome)
	}
}

func TestInScope_FileSubscriptionFiltersByItemID(t *testing.T) {
	sub := &Subscription{Scope: ScopeFile, ResourceID: "item-42"}

	matching := Notification{Resource: ResourceData{ItemID: "item-42"}}
	if !inScope(sub, matching) {
		t.Error("expected matching item_id to be in scope")
	}

	nonMatching := Notification{Resource: ResourceData{ItemID: "item-99"}}
	if inScope(sub, nonMatching) {
		t.Error("expected non-matching item_id to be filtered out")
	}

	noID := Notification{}
	if !inScope(sub, noID) {
		t.Error("expected a notification with no item_id to be queued anyway")
	}
}

func TestInScope_FolderAndSiteRootAlwaysQueue(t *testing.T) {
	folder := &Subscription{Scope: ScopeFolder}
	siteRoot := &Subscription{Scope: ScopeSiteRoot}
	if !inScope(folder, Notification{}) || !inScope(siteRoot, Notification{}) {
		t.Error("folder and site_root subscriptions should always queue")
	}
}
