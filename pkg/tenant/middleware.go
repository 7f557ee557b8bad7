package tenant

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Resolver identifies the tenant for the current request.
type Resolver interface {
	Resolve(r *http.Request) (slug string, err error)
}

// HeaderResolver resolves the tenant from the X-Tenant-Slug header.
// Intended for development, testing, and service-to-service calls that
// already carry a validated tenant claim; production admin routes should
// resolve the tenant from the session/API-key identity instead.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (string, error) {
	slug := r.Header.Get("X-Tenant-Slug")
	if slug == "" {
		return "", fmt.Errorf("missing X-Tenant-Slug header")
	}
	return slug, nil
}

// Middleware resolves the tenant for the request and stores Info in the
// request context. It never acquires a dedicated connection or sets
// search_path — there is one schema, and every downstream query carries
// tenant_id as a WHERE clause parameter instead.
func Middleware(pool *pgxpool.Pool, resolver Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	store := NewStore(pool)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug, err := resolver.Resolve(r)
			if err != nil {
				http.Error(w, `{"error":"unauthorized","message":"tenant resolution failed"}`, http.StatusUnauthorized)
				return
			}

			t, err := store.GetBySlug(r.Context(), slug)
			if err != nil {
				logger.Warn("tenant not found", "slug", slug, "error", err)
				http.Error(w, `{"error":"unauthorized","message":"unknown tenant"}`, http.StatusUnauthorized)
				return
			}
			if t.State == StateDeleted {
				http.Error(w, `{"error":"unauthorized","message":"tenant deleted"}`, http.StatusUnauthorized)
				return
			}

			info := &Info{ID: t.ID, Name: t.Name, Slug: slug}
			ctx := NewContext(r.Context(), info)

			logger.Debug("tenant resolved", "tenant_id", t.ID, "slug", slug)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
