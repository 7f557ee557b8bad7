package credential

import (
	"encoding/json"
	"testing"

	"github.com/wisbric/crawlcore/pkg/envelope"
	"github.com/wisbric/crawlcore/pkg/tenant"
)

func testCipher() *envelope.Cipher {
	var k envelope.Key
	for i := range k {
		k[i] = byte(i)
	}
	return envelope.NewCipher(k)
}

func tenantWithCredential(t *testing.T, provider string, fields map[string]string) *tenant.Tenant {
	t.Helper()
	raw, err := json.Marshal(map[string]map[string]string{provider: fields})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &tenant.Tenant{Name: "acme", APICredentials: raw}
}

func TestGetAPIKey_StrictModeNoFallback(t *testing.T) {
	settings := Settings{TenantCredentialsEnabled: true}
	r := New(nil, settings, testCipher())

	_, err := r.GetAPIKey("openai")
	if err == nil {
		t.Fatal("expected error in strict mode with no tenant configured")
	}
}

func TestGetAPIKey_SingleTenantFallsBackToGlobal(t *testing.T) {
	settings := Settings{
		TenantCredentialsEnabled: false,
		GlobalAPIKeys:            map[string]string{"openai": "sk-global"},
	}
	r := New(nil, settings, testCipher())

	got, err := r.GetAPIKey("openai")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got != "sk-global" {
		t.Errorf("got %q, want %q", got, "sk-global")
	}
}

func TestGetAPIKey_DecryptsEnvelopedTenantSecret(t *testing.T) {
	cipher := testCipher()
	wrapped, err := cipher.Encrypt("sk-tenant-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	tn := tenantWithCredential(t, "openai", map[string]string{"api_key": wrapped})
	settings := Settings{TenantCredentialsEnabled: true, EncryptionEnabled: true}
	r := New(tn, settings, cipher)

	got, err := r.GetAPIKey("openai")
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got != "sk-tenant-secret" {
		t.Errorf("got %q, want %q", got, "sk-tenant-secret")
	}
}

func TestGetAPIKey_RejectsPlaintextWhenEncryptionEnabled(t *testing.T) {
	tn := tenantWithCredential(t, "openai", map[string]string{"api_key": "sk-plaintext"})
	settings := Settings{TenantCredentialsEnabled: true, EncryptionEnabled: true}
	r := New(tn, settings, testCipher())

	if _, err := r.GetAPIKey("openai"); err == nil {
		t.Fatal("expected error: plaintext api_key with encryption enabled must never decrypt silently")
	}
}

func TestResolveAzureCredential_MissingFieldRaises(t *testing.T) {
	tn := tenantWithCredential(t, "azure", map[string]string{"api_key": "sk-x"})
	settings := Settings{TenantCredentialsEnabled: true}
	r := New(tn, settings, testCipher())

	if _, err := r.ResolveAzureCredential("azure"); err == nil {
		t.Fatal("expected error: azure credential missing endpoint/api_version/deployment_name")
	}
}

func TestResolveAzureCredential_AllFieldsPresent(t *testing.T) {
	tn := tenantWithCredential(t, "azure", map[string]string{
		"api_key":         "sk-x",
		"endpoint":        "https://acme.openai.azure.com",
		"api_version":     "2024-02-01",
		"deployment_name": "gpt-4o",
	})
	settings := Settings{TenantCredentialsEnabled: true}
	r := New(tn, settings, testCipher())

	got, err := r.ResolveAzureCredential("azure")
	if err != nil {
		t.Fatalf("ResolveAzureCredential: %v", err)
	}
	if got.Endpoint != "https://acme.openai.azure.com" || got.APIVersion != "2024-02-01" || got.DeploymentName != "gpt-4o" {
		t.Errorf("got %+v, missing a field", got)
	}
}

func TestResolveVLLMCredential_MissingEndpointRaises(t *testing.T) {
	tn := tenantWithCredential(t, "vllm", map[string]string{"api_key": "sk-x"})
	settings := Settings{TenantCredentialsEnabled: true}
	r := New(tn, settings, testCipher())

	if _, err := r.ResolveVLLMCredential("vllm"); err == nil {
		t.Fatal("expected error: vllm credential missing endpoint")
	}
}

func TestResolveVLLMCredential_Present(t *testing.T) {
	tn := tenantWithCredential(t, "vllm", map[string]string{"api_key": "sk-x", "endpoint": "http://localhost:8000"})
	settings := Settings{TenantCredentialsEnabled: true}
	r := New(tn, settings, testCipher())

	got, err := r.ResolveVLLMCredential("vllm")
	if err != nil {
		t.Fatalf("ResolveVLLMCredential: %v", err)
	}
	if got.Endpoint != "http://localhost:8000" {
		t.Errorf("got %+v, want endpoint http://localhost:8000", got)
	}
}

func TestGetFederationConfig_GlobalOnlyIgnoresTenantRow(t *testing.T) {
	global := &FederationConfig{Provider: "okta", ClientID: "global-client"}
	settings := Settings{FederationPerTenantEnabled: false, GlobalFederation: global}

	tn := &tenant.Tenant{Name: "acme", FederationConfig: json.RawMessage(`{"provider":"should-be-ignored"}`)}
	r := New(tn, settings, testCipher())

	got, err := r.GetFederationConfig()
	if err != nil {
		t.Fatalf("GetFederationConfig: %v", err)
	}
	if got.Provider != "okta" {
		t.Errorf("provider = %q, want global config to win when federation is not per-tenant", got.Provider)
	}
}

func TestGetRedirectURI_RejectsNonHTTPSOrigin(t *testing.T) {
	settings := Settings{
		FederationPerTenantEnabled: false,
		GlobalFederation: &FederationConfig{
			Provider: "okta", CanonicalPublicOrigin: "http://example.com",
		},
	}
	r := New(nil, settings, testCipher())

	if _, err := r.GetRedirectURI(); err == nil {
		t.Fatal("expected error: non-https, non-localhost origin must be rejected")
	}
}

func TestGetRedirectURI_AllowsLocalhostAndStripsTrailingSlash(t *testing.T) {
	settings := Settings{
		FederationPerTenantEnabled: false,
		PublicOrigin:               "http://localhost:8080/",
		DefaultRedirectPath:        "/login/callback",
		GlobalFederation:           &FederationConfig{Provider: "okta"},
	}
	r := New(nil, settings, testCipher())

	got, err := r.GetRedirectURI()
	if err != nil {
		t.Fatalf("GetRedirectURI: %v", err)
	}
	want := "http://localhost:8080/login/callback"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
