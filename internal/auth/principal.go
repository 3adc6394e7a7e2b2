// Package auth reads the authenticated principal that the upstream identity
// layer attaches to every request. Session issuance happens elsewhere.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/bookstore-checkout/internal/httpx"
)

const (
	HeaderPrincipalID   = "X-Principal-ID"
	HeaderPrincipalRole = "X-Principal-Role"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

type Principal struct {
	ID   string
	Role Role
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticate rejects requests without a principal id with 401.
func Authenticate(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderPrincipalID))
			if id == "" {
				httpx.WriteMessage(w, logger, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}

			role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderPrincipalRole))))
			if role == "" {
				role = RoleCustomer
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{ID: id, Role: role})))
		})
	}
}

// RequireRole must run after Authenticate.
func RequireRole(logger *slog.Logger, role Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok || p.Role != role {
				httpx.WriteMessage(w, logger, http.StatusForbidden, "forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Current returns the request principal, writing a 401 when there is none.
func Current(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (Principal, bool) {
	p, ok := FromContext(r.Context())
	if !ok || p.ID == "" {
		httpx.WriteMessage(w, logger, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return Principal{}, false
	}
	return p, true
}
