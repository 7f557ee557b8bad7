// Package credential implements CredentialResolver: strict per-tenant
// resolution of API keys and OIDC federation config, with envelope
// decryption and no silent cross-tenant or global fallback when strict
// mode is enabled.
package credential

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wisbric/crawlcore/pkg/envelope"
	"github.com/wisbric/crawlcore/pkg/tenant"
)

// CredentialKind tags which Credential variant a provider's stored
// record resolves to: a tagged union in place of field-name string
// lookups, so a caller asking for an Azure-style credential gets every
// required field back as a typed struct or an error, never a
// partially-populated map.
type CredentialKind string

const (
	KindAPIKeyOnly CredentialKind = "api_key_only"
	KindAzure      CredentialKind = "azure"
	KindVLLM       CredentialKind = "vllm"
)

// Credential is the common interface over the three shapes a tenant's
// credential record can take.
type Credential interface {
	Kind() CredentialKind
	APIKeyValue() string
}

// APIKeyCredential is the `{api_key}` shape (OpenAI-style).
type APIKeyCredential struct {
	APIKey string
}

func (c APIKeyCredential) Kind() CredentialKind { return KindAPIKeyOnly }
func (c APIKeyCredential) APIKeyValue() string  { return c.APIKey }

// AzureCredential is the `{api_key, endpoint, api_version,
// deployment_name}` shape.
type AzureCredential struct {
	APIKey         string
	Endpoint       string
	APIVersion     string
	DeploymentName string
}

func (c AzureCredential) Kind() CredentialKind { return KindAzure }
func (c AzureCredential) APIKeyValue() string  { return c.APIKey }

// VLLMCredential is the `{api_key, endpoint}` shape.
type VLLMCredential struct {
	APIKey   string
	Endpoint string
}

func (c VLLMCredential) Kind() CredentialKind { return KindVLLM }
func (c VLLMCredential) APIKeyValue() string  { return c.APIKey }

// rawCredentialRecord is the wire shape of one entry in a tenant's
// api_credentials map, before any field has been validated or
// decrypted. It is never returned to a caller; ResolveAPIKeyCredential/
// ResolveAzureCredential/ResolveVLLMCredential validate it into one of
// the typed variants above.
type rawCredentialRecord struct {
	APIKey         string `json:"api_key"`
	Endpoint       string `json:"endpoint"`
	APIVersion     string `json:"api_version"`
	DeploymentName string `json:"deployment_name"`
}

// FederationConfig is the resolved OIDC federation record.
type FederationConfig struct {
	Provider              string   `json:"provider"`
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret"`
	DiscoveryEndpoint     string   `json:"discovery_endpoint"`
	CanonicalPublicOrigin string   `json:"canonical_public_origin"`
	AllowedDomains        []string `json:"allowed_domains"`
	RedirectPath          string   `json:"redirect_path,omitempty"`
}

// rawFederationRecord mirrors FederationConfig but keeps ClientSecret in
// whatever form it's stored (plaintext or enveloped) before decryption.
type rawFederationRecord struct {
	Provider              string   `json:"provider"`
	ClientID              string   `json:"client_id"`
	ClientSecret          string   `json:"client_secret"`
	DiscoveryEndpoint     string   `json:"discovery_endpoint"`
	CanonicalPublicOrigin string   `json:"canonical_public_origin"`
	AllowedDomains        []string `json:"allowed_domains"`
	RedirectPath          string   `json:"redirect_path,omitempty"`
}

// Settings carries the global configuration CredentialResolver falls
// back to in single-tenant mode, and the mode switches themselves.
type Settings struct {
	TenantCredentialsEnabled   bool
	FederationPerTenantEnabled bool
	EncryptionEnabled          bool
	PublicOrigin               string
	DefaultRedirectPath        string
	GlobalAPIKeys              map[string]string
	GlobalFederation           *FederationConfig
}

// Resolver resolves credentials for exactly one tenant snapshot (or
// none, for single-tenant mode). A Resolver instance must never be
// reused across tenants — each carries its own tenant pointer and must
// not cache anything that could leak across a boundary.
type Resolver struct {
	t        *tenant.Tenant
	settings Settings
	cipher   *envelope.Cipher
}

func New(t *tenant.Tenant, settings Settings, cipher *envelope.Cipher) *Resolver {
	return &Resolver{t: t, settings: settings, cipher: cipher}
}

// decryptIfNeeded decrypts a field value if encryption is active. A
// plaintext value when encryption is active is rejected outright: a
// decryption failure always raises, never falls back to the plaintext
// value.
func (r *Resolver) decryptIfNeeded(value string) (string, error) {
	if !r.settings.EncryptionEnabled {
		return value, nil
	}
	if !envelope.IsEnveloped(value) {
		return "", fmt.Errorf("credential: encryption is enabled but value is not enveloped")
	}
	plain, err := r.cipher.Decrypt(value)
	if err != nil {
		return "", fmt.Errorf("credential: decrypting value: %w", err)
	}
	return plain, nil
}

func (r *Resolver) rawRecord(provider string) (rawCredentialRecord, bool, error) {
	if r.t == nil || len(r.t.APICredentials) == 0 {
		return rawCredentialRecord{}, false, nil
	}
	var all map[string]rawCredentialRecord
	if err := json.Unmarshal(r.t.APICredentials, &all); err != nil {
		return rawCredentialRecord{}, false, fmt.Errorf("credential: parsing tenant api_credentials: %w", err)
	}
	raw, ok := all[provider]
	return raw, ok, nil
}

func (r *Resolver) requireField(value, provider, field string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("credential: tenant %s has a %s credential but is missing required field %q", r.tenantLabel(), provider, field)
	}
	return value, nil
}

// GetAPIKey resolves the "api_key" field for a provider regardless of
// which of the three record shapes it's stored as.
func (r *Resolver) GetAPIKey(provider string) (string, error) {
	raw, ok, err := r.rawRecord(provider)
	if err != nil {
		return "", err
	}
	if ok {
		apiKey, err := r.requireField(raw.APIKey, provider, "api_key")
		if err != nil {
			return "", err
		}
		return r.decryptIfNeeded(apiKey)
	}

	if r.settings.TenantCredentialsEnabled {
		return "", fmt.Errorf("credential: tenant %s has no %s credential configured and strict mode forbids falling back to global environment", r.tenantLabel(), provider)
	}
	if val, ok := r.settings.GlobalAPIKeys[provider]; ok && val != "" {
		return val, nil
	}
	return "", fmt.Errorf("credential: no %s API key configured in global environment", provider)
}

// ResolveAPIKeyCredential resolves a `{api_key}` credential (the
// OpenAI-style variant). Strict-mode/global-fallback rules match
// GetAPIKey; unlike GetAPIKey it hands back the tagged struct rather
// than a bare string, for callers that want to pass a Credential value
// through without re-deciding its kind.
func (r *Resolver) ResolveAPIKeyCredential(provider string) (APIKeyCredential, error) {
	apiKey, err := r.GetAPIKey(provider)
	if err != nil {
		return APIKeyCredential{}, err
	}
	return APIKeyCredential{APIKey: apiKey}, nil
}

// ResolveAzureCredential resolves the Azure-style `{api_key, endpoint,
// api_version, deployment_name}` credential. There is no global
// fallback for this shape: a tenant that hasn't configured all four
// fields gets an error naming the missing one, never a partially-built
// struct.
func (r *Resolver) ResolveAzureCredential(provider string) (AzureCredential, error) {
	raw, ok, err := r.rawRecord(provider)
	if err != nil {
		return AzureCredential{}, err
	}
	if !ok {
		return AzureCredential{}, fmt.Errorf("credential: tenant %s has no %s credential configured", r.tenantLabel(), provider)
	}

	apiKey, err := r.requireField(raw.APIKey, provider, "api_key")
	if err != nil {
		return AzureCredential{}, err
	}
	decrypted, err := r.decryptIfNeeded(apiKey)
	if err != nil {
		return AzureCredential{}, err
	}
	endpoint, err := r.requireField(raw.Endpoint, provider, "endpoint")
	if err != nil {
		return AzureCredential{}, err
	}
	apiVersion, err := r.requireField(raw.APIVersion, provider, "api_version")
	if err != nil {
		return AzureCredential{}, err
	}
	deployment, err := r.requireField(raw.DeploymentName, provider, "deployment_name")
	if err != nil {
		return AzureCredential{}, err
	}

	return AzureCredential{APIKey: decrypted, Endpoint: endpoint, APIVersion: apiVersion, DeploymentName: deployment}, nil
}

// ResolveVLLMCredential resolves the vLLM-style `{api_key, endpoint}`
// credential.
func (r *Resolver) ResolveVLLMCredential(provider string) (VLLMCredential, error) {
	raw, ok, err := r.rawRecord(provider)
	if err != nil {
		return VLLMCredential{}, err
	}
	if !ok {
		return VLLMCredential{}, fmt.Errorf("credential: tenant %s has no %s credential configured", r.tenantLabel(), provider)
	}

	apiKey, err := r.requireField(raw.APIKey, provider, "api_key")
	if err != nil {
		return VLLMCredential{}, err
	}
	decrypted, err := r.decryptIfNeeded(apiKey)
	if err != nil {
		return VLLMCredential{}, err
	}
	endpoint, err := r.requireField(raw.Endpoint, provider, "endpoint")
	if err != nil {
		return VLLMCredential{}, err
	}

	return VLLMCredential{APIKey: decrypted, Endpoint: endpoint}, nil
}

func (r *Resolver) tenantLabel() string {
	if r.t == nil {
		return "<none>"
	}
	return r.t.Name
}

// GetFederationConfig resolves the OIDC federation record.
func (r *Resolver) GetFederationConfig() (*FederationConfig, error) {
	if !r.settings.FederationPerTenantEnabled {
		if r.settings.GlobalFederation == nil {
			return nil, fmt.Errorf("credential: federation is not per-tenant and no global OIDC configuration is set; configure OIDC_CLIENT_ID/OIDC_CLIENT_SECRET/OIDC_DISCOVERY_ENDPOINT")
		}
		return r.settings.GlobalFederation, nil
	}

	if r.t == nil || len(r.t.FederationConfig) == 0 {
		return nil, fmt.Errorf("credential: tenant %s has no federation configuration; call PUT /admin/tenants/%s/federation to configure it", r.tenantLabel(), r.tenantLabel())
	}

	var raw rawFederationRecord
	if err := json.Unmarshal(r.t.FederationConfig, &raw); err != nil {
		return nil, fmt.Errorf("credential: parsing tenant federation config: %w", err)
	}

	secret, err := r.decryptIfNeeded(raw.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("credential: decrypting federation client_secret: %w", err)
	}

	return &FederationConfig{
		Provider:              raw.Provider,
		ClientID:              raw.ClientID,
		ClientSecret:          secret,
		DiscoveryEndpoint:     raw.DiscoveryEndpoint,
		CanonicalPublicOrigin: raw.CanonicalPublicOrigin,
		AllowedDomains:        raw.AllowedDomains,
		RedirectPath:          raw.RedirectPath,
	}, nil
}

// GetRedirectURI resolves the OIDC callback URL.
func (r *Resolver) GetRedirectURI() (string, error) {
	fed, err := r.GetFederationConfig()
	if err != nil {
		return "", err
	}

	origin := fed.CanonicalPublicOrigin
	if !r.settings.FederationPerTenantEnabled || origin == "" {
		origin = r.settings.PublicOrigin
	}

	if !strings.HasPrefix(origin, "https://") &&
		!strings.HasPrefix(origin, "http://localhost") &&
		!strings.HasPrefix(origin, "http://127.0.0.1") {
		return "", fmt.Errorf("credential: redirect origin %q must use https:// (http://localhost and http://127.0.0.1 are allowed in development)", origin)
	}

	origin = strings.TrimSuffix(origin, "/")

	path := fed.RedirectPath
	if path == "" {
		path = r.settings.DefaultRedirectPath
	}
	if path == "" {
		path = "/login/callback"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return origin + path, nil
}
