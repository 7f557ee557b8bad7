package httpserver

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/google/uuid"
)

// sessionClaims is the payload of an admin-surface session token: who is
// authenticated and which tenant (if any) their session is scoped to.
type sessionClaims struct {
	Subject   string     `json:"sub"`
	TenantID  *uuid.UUID `json:"tenant_id,omitempty"`
	IssuedAt  int64      `json:"iat"`
	ExpiresAt int64      `json:"exp"`
}

// ErrSessionExpired means the token's exp claim is in the past.
var ErrSessionExpired = errors.New("httpserver: session expired")

// ErrInvalidSession means the token failed signature verification or
// could not be parsed.
var ErrInvalidSession = errors.New("httpserver: invalid session")

// SessionManager issues and verifies admin-surface session tokens: a
// JWS signed with a single shared HMAC secret (there is no per-user
// credential store on this surface — it authenticates operators, not
// tenant end users).
type SessionManager struct {
	signer jose.Signer
	key    []byte
	maxAge time.Duration
}

// NewSessionManager creates a SessionManager from a base64 or raw secret.
// An empty secret is rejected — callers must generate a dev secret
// explicitly via GenerateDevSecret so the absence of one is never silent.
func NewSessionManager(secret string, maxAge time.Duration) (*SessionManager, error) {
	if secret == "" {
		return nil, errors.New("httpserver: session secret must not be empty")
	}
	key := []byte(secret)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("httpserver: creating session signer: %w", err)
	}
	return &SessionManager{signer: signer, key: key, maxAge: maxAge}, nil
}

// GenerateDevSecret returns a random base64 secret suitable for local
// development when CRAWLCORE_SESSION_SECRET is unset. Never used in
// production: the secret does not survive a process restart, which
// invalidates every outstanding session.
func GenerateDevSecret() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Issue signs a new session token for subject, optionally scoped to a tenant.
func (m *SessionManager) Issue(subject string, tenantID *uuid.UUID) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Subject:   subject,
		TenantID:  tenantID,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(m.maxAge).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("httpserver: marshaling session claims: %w", err)
	}
	obj, err := m.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("httpserver: signing session token: %w", err)
	}
	return obj.CompactSerialize()
}

// Verify parses and validates a session token, returning its claims.
func (m *SessionManager) Verify(token string) (subject string, tenantID *uuid.UUID, err error) {
	obj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", nil, ErrInvalidSession
	}
	payload, err := obj.Verify(m.key)
	if err != nil {
		return "", nil, ErrInvalidSession
	}
	var claims sessionClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", nil, ErrInvalidSession
	}
	if time.Now().Unix() >= claims.ExpiresAt {
		return "", nil, ErrSessionExpired
	}
	return claims.Subject, claims.TenantID, nil
}
