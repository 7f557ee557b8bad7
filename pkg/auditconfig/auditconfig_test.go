package auditconfig

import (
	"testing"

	"github.com/google/uuid"
)

type fakeStore struct {
	configs map[uuid.UUID]*TenantConfig
}

func (f *fakeStore) GetTenantConfig(tenantID uuid.UUID) (*TenantConfig, error) {
	return f.configs[tenantID], nil
}

func TestShouldLog_NoRecordDefaultsTrue(t *testing.T) {
	s := NewService(&fakeStore{configs: map[uuid.UUID]*TenantConfig{}})
	if !s.ShouldLog(uuid.New(), "job.create") {
		t.Error("expected default enabled=true when no tenant record exists")
	}
}

func TestShouldLog_ActionOverrideWins(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{configs: map[uuid.UUID]*TenantConfig{
		tenantID: {
			ActionOverrides: map[string]bool{"job.create": false},
			CategoryEnabled: map[string]bool{"job": true},
		},
	}}
	s := NewService(store)

	if s.ShouldLog(tenantID, "job.create") {
		t.Error("expected action override (false) to win over category (true)")
	}
}

func TestShouldLog_CategoryFallback(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{configs: map[uuid.UUID]*TenantConfig{
		tenantID: {CategoryEnabled: map[string]bool{"job": false}},
	}}
	s := NewService(store)

	if s.ShouldLog(tenantID, "job.complete") {
		t.Error("expected category-level disable to apply when no action override exists")
	}
}

func TestInvalidateCategory_ClearsActionCache(t *testing.T) {
	tenantID := uuid.New()
	store := &fakeStore{configs: map[uuid.UUID]*TenantConfig{
		tenantID: {CategoryEnabled: map[string]bool{"job": true}},
	}}
	s := NewService(store)

	if !s.ShouldLog(tenantID, "job.create") {
		t.Fatal("expected true before category flip")
	}

	store.configs[tenantID].CategoryEnabled["job"] = false
	s.InvalidateCategory(tenantID, "job")

	if s.ShouldLog(tenantID, "job.create") {
		t.Error("expected cached action decision to be invalidated along with its category")
	}
}

func TestCategoryOf_KnownAction(t *testing.T) {
	cat, ok := CategoryOf("job.create")
	if !ok || cat != "job" {
		t.Errorf("CategoryOf(job.create) = (%q, %v), want (job, true)", cat, ok)
	}
}
