// Package tenant carries tenant identity through request and job
// processing context, and persists the tenant row.
//
// Isolation is row-level rather than per-tenant-schema: every table here
// carries a tenant_id column and every query filters on it explicitly —
// there is exactly one schema. A global "current tenant" singleton is
// exactly the kind of thread-local mutable state this repo avoids: Info
// travels only inside a context.Context, constructed once per request or
// per job and never reused across tenant boundaries.
package tenant

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// State is the tenant lifecycle state.
type State string

const (
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateDeleted  State = "deleted"
)

// Info is the minimal tenant identity carried through context.Context.
type Info struct {
	ID   uuid.UUID
	Name string
	Slug string
}

// Tenant is the full persisted tenant row.
type Tenant struct {
	ID                uuid.UUID
	Name              string
	DisplayName       string
	State             State
	QuotaLimit        int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	APICredentials    json.RawMessage // provider -> credential record, envelope-wrapped
	FederationConfig  json.RawMessage // nullable federation record
	CrawlerSettings   json.RawMessage // nullable setting-name -> value map
	APIKeyPolicy      json.RawMessage // nullable policy record
}

type contextKey string

const infoKey contextKey = "tenant_info"

// NewContext stores tenant info in the context.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, infoKey, info)
}

// FromContext extracts the tenant info from the context.
// Returns nil if no tenant is set.
func FromContext(ctx context.Context) *Info {
	v, _ := ctx.Value(infoKey).(*Info)
	return v
}
