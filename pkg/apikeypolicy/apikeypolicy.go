// Package apikeypolicy enforces tenant policy on API-key creation,
// update, and use: the pk_/sk_ taxonomy, origin/IP guardrails, and
// method-aware resource permission checks.
package apikeypolicy

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Prefix is the API key taxonomy tag.
type Prefix string

const (
	PrefixPublishable Prefix = "pk_"
	PrefixSecret       Prefix = "sk_"
)

// State is the effective lifecycle state of an API key, derived from
// the presence of revoked_at, suspended_at, and expires_at rather than
// stored directly.
type State string

const (
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateRevoked   State = "revoked"
	StateExpired   State = "expired"
)

// ScopeType is what an API key is scoped to.
type ScopeType string

const (
	ScopeTenant    ScopeType = "tenant"
	ScopeSpace     ScopeType = "space"
	ScopeAssistant ScopeType = "assistant"
	ScopeApp       ScopeType = "app"
)

// PermissionLevel is the resource access level a key's permission map
// grants for a resource type.
type PermissionLevel string

const (
	LevelNone  PermissionLevel = ""
	LevelRead  PermissionLevel = "read"
	LevelWrite PermissionLevel = "write"
	LevelAdmin PermissionLevel = "admin"
)

// Key is the persisted API key row fields this package reasons about.
type Key struct {
	ID              uuid.UUID
	Prefix          Prefix
	ScopeType       ScopeType
	ScopeID         *uuid.UUID
	AllowedOrigins  []string
	AllowedIPs      []string
	ResourcePerms   map[string]PermissionLevel
	RateLimit       *int
	RevokedAt       *time.Time
	SuspendedAt     *time.Time
	ExpiresAt       *time.Time
}

// EffectiveState derives state from the timestamp fields.
func (k Key) EffectiveState(now time.Time) State {
	if k.RevokedAt != nil {
		return StateRevoked
	}
	if k.SuspendedAt != nil {
		return StateSuspended
	}
	if k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
		return StateExpired
	}
	return StateActive
}

// TenantPolicy is the tenant-wide policy an individual key is checked
// against.
type TenantPolicy struct {
	AllowedOrigins        []string
	MaxExpirationDays     int
	RequireExpiration     bool
	MaxRateLimitOverride  int
}

// CreateParams is the input to ValidateCreate.
type CreateParams struct {
	Prefix            Prefix
	ScopeType         ScopeType
	ScopeID           *uuid.UUID
	CreatorHasTenantAdmin bool
	CreatorScopeLevel PermissionLevel // creator's permission at the target scope
	AllowedOrigins    []string
	AllowedIPs        []string
	ExpiresAt         *time.Time
	RateLimit         *int
	CreatorIsAdmin    bool
}

// ValidateCreate enforces every create-time validation rule: scope
// consistency, origin/IP format, expiration bounds, and rate-limit
// overrides.
func ValidateCreate(p CreateParams, tenantPolicy TenantPolicy) error {
	if p.Prefix == PrefixPublishable {
		if len(p.AllowedOrigins) == 0 {
			return fmt.Errorf("apikeypolicy: pk_ keys must declare allowed_origins")
		}
		if len(p.AllowedIPs) > 0 {
			return fmt.Errorf("apikeypolicy: pk_ keys may not declare allowed_ips")
		}
	}
	if p.Prefix == PrefixSecret && len(p.AllowedOrigins) > 0 {
		return fmt.Errorf("apikeypolicy: sk_ keys may not declare allowed_origins")
	}

	if p.ScopeType == ScopeTenant {
		if p.ScopeID != nil {
			return fmt.Errorf("apikeypolicy: tenant-scoped keys must have scope_id=null")
		}
		if !p.CreatorHasTenantAdmin {
			return fmt.Errorf("apikeypolicy: creating a tenant-scoped key requires tenant-admin permission")
		}
	} else {
		if p.ScopeID == nil {
			return fmt.Errorf("apikeypolicy: %s-scoped keys require scope_id", p.ScopeType)
		}
		if p.CreatorScopeLevel != LevelAdmin && p.CreatorScopeLevel != LevelWrite {
			return fmt.Errorf("apikeypolicy: creating a %s-scoped key requires scope-level permission", p.ScopeType)
		}
	}

	for _, origin := range p.AllowedOrigins {
		if err := validateOrigin(origin, tenantPolicy.AllowedOrigins); err != nil {
			return err
		}
	}
	for _, ip := range p.AllowedIPs {
		if err := validateIPOrCIDR(ip); err != nil {
			return err
		}
	}

	if p.ExpiresAt == nil {
		if tenantPolicy.RequireExpiration {
			return fmt.Errorf("apikeypolicy: tenant requires expires_at to be set")
		}
	} else {
		maxDays := time.Duration(tenantPolicy.MaxExpirationDays) * 24 * time.Hour
		if time.Until(*p.ExpiresAt) > maxDays {
			return fmt.Errorf("apikeypolicy: expires_at exceeds tenant max_expiration_days=%d", tenantPolicy.MaxExpirationDays)
		}
	}

	if p.RateLimit != nil {
		rl := *p.RateLimit
		if rl == -1 {
			if !p.CreatorIsAdmin {
				return fmt.Errorf("apikeypolicy: unlimited rate_limit (-1) requires admin")
			}
		} else if rl <= 0 {
			return fmt.Errorf("apikeypolicy: rate_limit must be -1 (unlimited), null, or a positive integer")
		} else if rl > tenantPolicy.MaxRateLimitOverride {
			return fmt.Errorf("apikeypolicy: rate_limit %d exceeds tenant max_rate_limit_override=%d", rl, tenantPolicy.MaxRateLimitOverride)
		}
	}

	return nil
}

func validateOrigin(origin string, tenantAllowed []string) error {
	if origin != "localhost" && !strings.Contains(origin, "://") {
		return fmt.Errorf("apikeypolicy: origin %q must include a scheme or be exactly \"localhost\"", origin)
	}
	for _, pattern := range tenantAllowed {
		if originMatches(pattern, origin) {
			return nil
		}
	}
	return fmt.Errorf("apikeypolicy: origin %q is not allowed by tenant policy", origin)
}

// originMatches implements the wildcard rule: "*.example.com matches
// exactly one level below example.com" — it does not match
// example.com itself, nor two.levels.example.com.
func originMatches(pattern, origin string) bool {
	if pattern == origin {
		return true
	}
	if !strings.HasPrefix(pattern, "*.") {
		return false
	}
	base := strings.TrimPrefix(pattern, "*.")

	host := origin
	if idx := strings.Index(origin, "://"); idx != -1 {
		host = origin[idx+3:]
	}
	if !strings.HasSuffix(host, "."+base) {
		return false
	}
	sub := strings.TrimSuffix(host, "."+base)
	return sub != "" && !strings.Contains(sub, ".")
}

func validateIPOrCIDR(value string) error {
	if strings.Contains(value, "/") {
		if _, _, err := net.ParseCIDR(value); err != nil {
			return fmt.Errorf("apikeypolicy: %q is not a valid CIDR: %w", value, err)
		}
		return nil
	}
	if net.ParseIP(value) == nil {
		return fmt.Errorf("apikeypolicy: %q is not a valid IPv4/IPv6 address", value)
	}
	return nil
}

// DenialContext is attached to the API_KEY_AUTH_FAILED audit event
// raised on any policy violation.
type DenialContext struct {
	ResourceType   string
	RequiredLevel  PermissionLevel
	GrantedLevel   PermissionLevel
}

// RequiredLevelForMethod maps an HTTP method to the permission level it
// requires. Unknown methods fail closed to admin. isReadOverride marks
// POST endpoints (e.g. token-estimation) that are semantically reads
// despite the verb.
func RequiredLevelForMethod(method string, isReadOverride bool) PermissionLevel {
	if isReadOverride {
		return LevelRead
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return LevelRead
	case http.MethodPost, http.MethodPatch, http.MethodPut:
		return LevelWrite
	case http.MethodDelete:
		return LevelAdmin
	default:
		return LevelAdmin
	}
}

var levelRank = map[PermissionLevel]int{
	LevelNone:  0,
	LevelRead:  1,
	LevelWrite: 2,
	LevelAdmin: 3,
}

// Authorize checks effective state, origin/IP guardrails, and resource
// permission for a single request. Returns a non-nil DenialContext only
// when the resource-permission check is what failed (for the audit
// event's denial context field).
func Authorize(key Key, now time.Time, requestOrigin string, clientIP net.IP, resourceType string, requiredLevel PermissionLevel, tenantAllowedOrigins []string) (*DenialContext, error) {
	if state := key.EffectiveState(now); state != StateActive {
		return nil, fmt.Errorf("apikeypolicy: key is %s", state)
	}

	if key.Prefix == PrefixPublishable {
		if requestOrigin == "" {
			return nil, fmt.Errorf("apikeypolicy: pk_ key requests must carry an Origin header")
		}
		if !matchesAny(tenantAllowedOrigins, requestOrigin) || !matchesAny(key.AllowedOrigins, requestOrigin) {
			return nil, fmt.Errorf("apikeypolicy: origin %q is not permitted by both tenant and key allowed_origins", requestOrigin)
		}
	}

	if key.Prefix == PrefixSecret && len(key.AllowedIPs) > 0 {
		if clientIP == nil || !ipAllowed(key.AllowedIPs, clientIP) {
			return nil, fmt.Errorf("apikeypolicy: client IP is not in the key's allowed_ips")
		}
	}

	granted := key.ResourcePerms[resourceType]
	if levelRank[granted] < levelRank[requiredLevel] {
		return &DenialContext{ResourceType: resourceType, RequiredLevel: requiredLevel, GrantedLevel: granted}, fmt.Errorf("apikeypolicy: insufficient permission for %s (need %s, have %s)", resourceType, requiredLevel, granted)
	}

	return nil, nil
}

func matchesAny(patterns []string, origin string) bool {
	for _, p := range patterns {
		if originMatches(p, origin) {
			return true
		}
	}
	return false
}

func ipAllowed(allowed []string, ip net.IP) bool {
	for _, a := range allowed {
		if strings.Contains(a, "/") {
			_, network, err := net.ParseCIDR(a)
			if err == nil && network.Contains(ip) {
				return true
			}
			continue
		}
		if parsed := net.ParseIP(a); parsed != nil && parsed.Equal(ip) {
			return true
		}
	}
	return false
}
