package apikeypolicy

import (
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOriginMatches_WildcardOneLevel(t *testing.T) {
	tests := []struct {
		pattern, origin string
		want            bool
	}{
		{"*.example.com", "https://app.example.com", true},
		{"*.example.com", "https://example.com", false},
		{"*.example.com", "https://a.b.example.com", false},
		{"https://app.example.com", "https://app.example.com", true},
	}
	for _, tt := range tests {
		if got := originMatches(tt.pattern, tt.origin); got != tt.want {
			t.Errorf("originMatches(%q, %q) = %v, want %v", tt.pattern, tt.origin, got, tt.want)
		}
	}
}

func TestRequiredLevelForMethod(t *testing.T) {
	tests := []struct {
		method         string
		readOverride   bool
		want           PermissionLevel
	}{
		{http.MethodGet, false, LevelRead},
		{http.MethodPost, false, LevelWrite},
		{http.MethodPost, true, LevelRead},
		{http.MethodDelete, false, LevelAdmin},
		{"PURGE", false, LevelAdmin},
	}
	for _, tt := range tests {
		if got := RequiredLevelForMethod(tt.method, tt.readOverride); got != tt.want {
			t.Errorf("RequiredLevelForMethod(%q, %v) = %v, want %v", tt.method, tt.readOverride, got, tt.want)
		}
	}
}

func TestValidateCreate_PublishableRequiresOrigins(t *testing.T) {
	p := CreateParams{Prefix: PrefixPublishable, ScopeType: ScopeTenant, CreatorHasTenantAdmin: true}
	if err := ValidateCreate(p, TenantPolicy{}); err == nil {
		t.Fatal("expected error: pk_ key with no allowed_origins")
	}
}

func TestValidateCreate_PublishableRejectsAllowedIPs(t *testing.T) {
	p := CreateParams{
		Prefix: PrefixPublishable, ScopeType: ScopeTenant, CreatorHasTenantAdmin: true,
		AllowedOrigins: []string{"https://app.example.com"},
		AllowedIPs:     []string{"10.0.0.1"},
	}
	if err := ValidateCreate(p, TenantPolicy{AllowedOrigins: []string{"https://app.example.com"}}); err == nil {
		t.Fatal("expected error: pk_ key may not declare allowed_ips")
	}
}

func TestValidateCreate_TenantScopeRequiresNilScopeID(t *testing.T) {
	id := uuid.New()
	p := CreateParams{Prefix: PrefixSecret, ScopeType: ScopeTenant, ScopeID: &id, CreatorHasTenantAdmin: true}
	if err := ValidateCreate(p, TenantPolicy{}); err == nil {
		t.Fatal("expected error: tenant scope requires scope_id=null")
	}
}

func TestValidateCreate_RateLimitUnlimitedRequiresAdmin(t *testing.T) {
	rl := -1
	p := CreateParams{
		Prefix: PrefixSecret, ScopeType: ScopeTenant, CreatorHasTenantAdmin: true,
		RateLimit: &rl, CreatorIsAdmin: false,
	}
	if err := ValidateCreate(p, TenantPolicy{}); err == nil {
		t.Fatal("expected error: unlimited rate_limit requires admin")
	}
}

func TestKey_EffectiveState(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		key  Key
		want State
	}{
		{"active", Key{ExpiresAt: &future}, StateActive},
		{"expired", Key{ExpiresAt: &past}, StateExpired},
		{"revoked", Key{RevokedAt: &past, ExpiresAt: &future}, StateRevoked},
		{"suspended", Key{SuspendedAt: &past, ExpiresAt: &future}, StateSuspended},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.EffectiveState(now); got != tt.want {
				t.Errorf("EffectiveState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorize_PublishableRequiresOriginIntersection(t *testing.T) {
	key := Key{Prefix: PrefixPublishable, AllowedOrigins: []string{"https://app.example.com"}}
	future := time.Now().Add(time.Hour)
	key.ExpiresAt = &future

	_, err := Authorize(key, time.Now(), "https://other.example.com", nil, "apps", LevelRead, []string{"*.example.com"})
	if err == nil {
		t.Fatal("expected error: origin not in key's own allowed_origins")
	}

	_, err = Authorize(key, time.Now(), "https://app.example.com", nil, "apps", LevelRead, []string{"*.example.com"})
	if err != nil {
		t.Fatalf("expected success when origin matches both tenant and key patterns: %v", err)
	}
}

func TestAuthorize_InsufficientPermissionReturnsDenialContext(t *testing.T) {
	key := Key{
		Prefix:        PrefixSecret,
		ResourcePerms: map[string]PermissionLevel{"apps": LevelRead},
	}
	denial, err := Authorize(key, time.Now(), "", net.ParseIP("127.0.0.1"), "apps", LevelWrite, nil)
	if err == nil {
		t.Fatal("expected error: read-only key requesting write")
	}
	if denial == nil || denial.RequiredLevel != LevelWrite || denial.GrantedLevel != LevelRead {
		t.Fatalf("denial context = %+v, want required=write granted=read", denial)
	}
}
