// Package sharepoint processes SharePoint change-notification webhooks:
// ChangeKey dedup, clientState validation, subscription scope filtering,
// and delta/full sync job dispatch.
package sharepoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ScopeKind is what a subscription watches.
type ScopeKind string

const (
	ScopeSiteRoot ScopeKind = "site_root"
	ScopeDrive    ScopeKind = "drive"
	ScopeFolder   ScopeKind = "folder"
	ScopeFile     ScopeKind = "file"
)

// Subscription is the SharePoint webhook registration a notification is
// checked against.
type Subscription struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	WebsiteID   uuid.UUID
	Scope       ScopeKind
	ResourceID  string // item_id for ScopeFile; unused otherwise
	ClientState string
}

// SubscriptionLookup resolves the subscription a notification references.
type SubscriptionLookup interface {
	GetSubscription(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error)
}

// ResourceData is the changed-item metadata SharePoint includes in a
// change notification.
type ResourceData struct {
	ItemID          string
	ContentType     string
	ContentPreview  []byte
}

// Notification is a single SharePoint change notification.
type Notification struct {
	SubscriptionID uuid.UUID
	ChangeKey      string
	ClientState    string
	DeltaToken     *string
	Resource       ResourceData
}

var (
	// ErrUnknownSubscription means the notification's subscription_id
	// does not match any registered subscription.
	ErrUnknownSubscription = errors.New("sharepoint: unknown subscription")
	// ErrClientStateMismatch means the notification's clientState does
	// not match the subscription's, and the notification is rejected as
	// potentially forged.
	ErrClientStateMismatch = errors.New("sharepoint: clientState mismatch")
)

// Outcome describes how Process disposed of a notification.
type Outcome string

const (
	OutcomeQueuedDelta Outcome = "queued_delta_sync"
	OutcomeQueuedFull  Outcome = "queued_full_sync"
	OutcomeDeduped     Outcome = "deduped"
	OutcomeFiltered    Outcome = "filtered_out_of_scope"
)

// Dispatcher queues a sync job. A function-pointer injection point
// (mirroring pkg/watchdog.RescueHook) avoids an import cycle between this
// package and the job-queue/feeder layer that actually runs the sync.
type Dispatcher func(ctx context.Context, tenantID, websiteID uuid.UUID, deltaToken *string) error

const (
	dedupTTL       = 10 * time.Minute
	dedupKeyPrefix = "sharepoint:changekey:"
)

// Processor is the SharePoint webhook processor.
type Processor struct {
	rdb        *redis.Client
	logger     *slog.Logger
	lookup     SubscriptionLookup
	dispatcher Dispatcher
}

func New(rdb *redis.Client, logger *slog.Logger, lookup SubscriptionLookup, dispatcher Dispatcher) *Processor {
	return &Processor{rdb: rdb, logger: logger, lookup: lookup, dispatcher: dispatcher}
}

// Process runs one notification through dedup, clientState validation,
// scope filtering, and sync dispatch.
func (p *Processor) Process(ctx context.Context, n Notification) (Outcome, error) {
	sub, err := p.lookup.GetSubscription(ctx, n.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("sharepoint: resolving subscription %s: %w", n.SubscriptionID, err)
	}
	if sub == nil {
		return "", ErrUnknownSubscription
	}
	if n.ClientState != sub.ClientState {
		return "", ErrClientStateMismatch
	}

	duplicate, err := p.checkDuplicate(ctx, sub.TenantID, n.ChangeKey)
	if err != nil {
		return "", err
	}
	if duplicate {
		return OutcomeDeduped, nil
	}

	if len(n.Resource.ContentPreview) > 0 {
		p.guardContentType(n.Resource)
	}

	if !inScope(sub, n) {
		return OutcomeFiltered, nil
	}

	if err := p.dispatcher(ctx, sub.TenantID, sub.WebsiteID, n.DeltaToken); err != nil {
		return "", fmt.Errorf("sharepoint: dispatching sync for subscription %s: %w", sub.ID, err)
	}
	if n.DeltaToken != nil {
		return OutcomeQueuedDelta, nil
	}
	return OutcomeQueuedFull, nil
}

// inScope implements the subscription-scope filtering rules.
func inScope(sub *Subscription, n Notification) bool {
	switch sub.Scope {
	case ScopeSiteRoot, ScopeFolder, ScopeDrive:
		return true
	case ScopeFile:
		if n.Resource.ItemID == "" {
			// No id on the notification: queue anyway and let the sync
			// service's delta pass no-op if this subscription is
			// unaffected.
			return true
		}
		return n.Resource.ItemID == sub.ResourceID
	default:
		return true
	}
}

// guardContentType sniffs the notification's resource content against
// its declared Content-Type, logging a warning on mismatch. This never
// blocks processing — it only protects the downstream sync service from
// acting on a spoofed or malformed header.
func (p *Processor) guardContentType(r ResourceData) {
	detected := mimetype.Detect(r.ContentPreview)
	if r.ContentType != "" && !detected.Is(r.ContentType) {
		p.logger.Warn("sharepoint: notification content type does not match detected type",
			"declared", r.ContentType, "detected", detected.String())
	}
}

func changeKeyDedupKey(tenantID uuid.UUID, changeKey string) string {
	return dedupKeyPrefix + tenantID.String() + ":" + changeKey
}

// checkDuplicate atomically claims a ChangeKey via SETNX: the first
// caller to see a given key gets false (not a duplicate), every
// subsequent caller within dedupTTL gets true.
func (p *Processor) checkDuplicate(ctx context.Context, tenantID uuid.UUID, changeKey string) (bool, error) {
	ok, err := p.rdb.SetNX(ctx, changeKeyDedupKey(tenantID, changeKey), "1", dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("sharepoint: dedup check for changeKey %q: %w", changeKey, err)
	}
	return !ok, nil
}
