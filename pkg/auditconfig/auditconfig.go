// Package auditconfig implements AuditConfigService: the 3-level
// hierarchy deciding, for a given (tenant, action), whether an audit log
// entry should be persisted.
package auditconfig

import (
	_ "embed"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.yaml.in/yaml/v2"
)

//go:embed actions.yaml
var actionsYAML []byte

// ActionMeta is static, build-time metadata for an action id — a
// localized name/description, not per-tenant configuration.
type ActionMeta struct {
	Category    string `yaml:"category"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

var (
	actionCatalog     map[string]ActionMeta
	actionCatalogOnce sync.Once
)

func catalog() map[string]ActionMeta {
	actionCatalogOnce.Do(func() {
		var raw map[string]ActionMeta
		if err := yaml.Unmarshal(actionsYAML, &raw); err != nil {
			panic("auditconfig: embedded actions.yaml is malformed: " + err.Error())
		}
		actionCatalog = raw
	})
	return actionCatalog
}

// CategoryOf resolves the static category for an action id.
func CategoryOf(action string) (string, bool) {
	meta, ok := catalog()[action]
	return meta.Category, ok
}

// Meta resolves the full static metadata for an action id.
func Meta(action string) (ActionMeta, bool) {
	meta, ok := catalog()[action]
	return meta, ok
}

// TenantConfig is the per-tenant audit configuration record: explicit
// per-action overrides plus per-category enable flags.
type TenantConfig struct {
	ActionOverrides map[string]bool
	CategoryEnabled map[string]bool
}

// Store loads a tenant's audit config record. A nil, nil return means no
// record exists for the tenant at all, falling back to the level-3
// default-enabled state.
type Store interface {
	GetTenantConfig(tenantID uuid.UUID) (*TenantConfig, error)
}

const cacheTTL = 60 * time.Second

type cacheEntry struct {
	value     bool
	expiresAt time.Time
}

// Service decides whether to log an audit event for (tenant, action),
// caching the category and action decisions with a 60s TTL.
type Service struct {
	store Store

	mu           sync.Mutex
	categoryKeys map[string]cacheEntry // "tenantID/category"
	actionKeys   map[string]cacheEntry // "tenantID/action"
}

func NewService(store Store) *Service {
	return &Service{
		store:        store,
		categoryKeys: make(map[string]cacheEntry),
		actionKeys:   make(map[string]cacheEntry),
	}
}

// ShouldLog resolves the 3-level hierarchy. Store errors degrade
// gracefully to "log the event" (fail-safe).
func (s *Service) ShouldLog(tenantID uuid.UUID, action string) bool {
	actionKey := tenantID.String() + "/" + action
	if v, ok := s.getCached(s.actionKeys, actionKey); ok {
		return v
	}

	cfg, err := s.store.GetTenantConfig(tenantID)
	if err != nil || cfg == nil {
		// Level 3: no record at all → default enabled=true.
		s.setCached(s.actionKeys, actionKey, true)
		return true
	}

	if v, ok := cfg.ActionOverrides[action]; ok {
		s.setCached(s.actionKeys, actionKey, v)
		return v
	}

	category, known := CategoryOf(action)
	if !known {
		s.setCached(s.actionKeys, actionKey, true)
		return true
	}

	categoryKey := tenantID.String() + "/" + category
	if v, ok := s.getCached(s.categoryKeys, categoryKey); ok {
		s.setCached(s.actionKeys, actionKey, v)
		return v
	}

	v, ok := cfg.CategoryEnabled[category]
	if !ok {
		v = true
	}
	s.setCached(s.categoryKeys, categoryKey, v)
	s.setCached(s.actionKeys, actionKey, v)
	return v
}

// InvalidateCategory must be called whenever a tenant's category-level
// flag changes: it invalidates the category key AND every cached action
// key, since an action key may have been populated from that category.
func (s *Service) InvalidateCategory(tenantID uuid.UUID, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.categoryKeys, tenantID.String()+"/"+category)

	prefix := tenantID.String() + "/"
	for action := range s.actionKeys {
		if len(action) > len(prefix) && action[:len(prefix)] == prefix {
			if cat, ok := CategoryOf(action[len(prefix):]); ok && cat == category {
				delete(s.actionKeys, action)
			}
		}
	}
}

// InvalidateAction invalidates a single cached action decision, e.g.
// after a tenant changes an explicit action override.
func (s *Service) InvalidateAction(tenantID uuid.UUID, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actionKeys, tenantID.String()+"/"+action)
}

func (s *Service) getCached(m map[string]cacheEntry, key string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := m[key]
	if !ok || time.Now().After(e.expiresAt) {
		return false, false
	}
	return e.value, true
}

func (s *Service) setCached(m map[string]cacheEntry, key string, value bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m[key] = cacheEntry{value: value, expiresAt: time.Now().Add(cacheTTL)}
}
