package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wisbric/crawlcore/pkg/apikeypolicy"
	"github.com/wisbric/crawlcore/pkg/apikeystore"
	"github.com/wisbric/crawlcore/pkg/tenant"
)

// RequiredLevelFunc derives the permission level a route requires from
// the request (method + matched route pattern), so routes needing more
// than the method-default mapping (GET=read, else=write) can override
// it.
type RequiredLevelFunc func(r *http.Request) apikeypolicy.PermissionLevel

// APIKeyAuth authenticates requests via the X-API-Key header: hash
// lookup, effective-state check, then origin/IP/permission
// authorization. On success it stores the resolved tenant in the request
// context and fires an async last-used touch so the hot path never
// blocks on it.
func APIKeyAuth(store *apikeystore.Store, tenants *tenant.Store, logger *slog.Logger, levelFor RequiredLevelFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				RespondError(w, http.StatusUnauthorized, "unauthenticated", "missing X-API-Key header")
				return
			}

			ctx := r.Context()
			key, tenantID, err := store.GetByHash(ctx, apikeystore.HashSecret(raw))
			if err != nil {
				logger.Error("apikey auth: looking up key", "error", err)
				RespondError(w, http.StatusInternalServerError, "internal", "authentication failed")
				return
			}
			if key == nil {
				RespondError(w, http.StatusUnauthorized, "unauthenticated", "invalid API key")
				return
			}

			policy, err := store.GetTenantPolicy(ctx, tenantID)
			if err != nil {
				logger.Error("apikey auth: loading tenant policy", "error", err)
				RespondError(w, http.StatusInternalServerError, "internal", "authentication failed")
				return
			}

			level := apikeypolicy.RequiredLevelForMethod(r.Method, false)
			if levelFor != nil {
				level = levelFor(r)
			}

			denial, err := apikeypolicy.Authorize(*key, time.Now(), r.Header.Get("Origin"), remoteIP(r), "", level, policy.AllowedOrigins)
			if err != nil {
				logger.Warn("apikey auth: denied", "reason", err, "key_id", key.ID)
				RespondError(w, http.StatusForbidden, "forbidden", err.Error())
				return
			}
			if denial != nil {
				RespondError(w, http.StatusForbidden, "forbidden", "request does not satisfy API key policy")
				return
			}

			t, err := tenants.GetByID(ctx, tenantID)
			if err != nil {
				logger.Error("apikey auth: loading tenant", "error", err, "tenant_id", tenantID)
				RespondError(w, http.StatusInternalServerError, "internal", "authentication failed")
				return
			}
			if t == nil {
				RespondError(w, http.StatusUnauthorized, "unauthenticated", "tenant not found")
				return
			}

			keyID := key.ID
			go func() {
				touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := store.TouchLastUsed(touchCtx, keyID); err != nil {
					logger.Warn("apikey auth: touching last_used_at", "error", err)
				}
			}()

			ctx = tenant.NewContext(ctx, &tenant.Info{ID: t.ID, Name: t.Name, Slug: t.Name})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// remoteIP extracts the caller's IP, preferring X-Forwarded-For's first
// hop (set by the load balancer) and falling back to RemoteAddr.
func remoteIP(r *http.Request) net.IP {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, ok := strings.Cut(fwd, ","); ok {
			if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
				return ip
			}
		} else if ip := net.ParseIP(strings.TrimSpace(fwd)); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}
