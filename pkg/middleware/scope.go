// Package middleware provides HTTP middleware for establishing the
// security context, enforcing operation permissions, and request logging.
package middleware

import (
	"net/http"
	"strings"

	"github.com/lattice-hq/lattice/pkg/httputil"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// Headers carrying the context dimensions. Upstream authentication is
// expected to have validated them; this service trusts its ingress.
const (
	HeaderTenantID   = "X-Lattice-Tenant"
	HeaderSubOrgID   = "X-Lattice-Sub-Org"
	HeaderLocationID = "X-Lattice-Location"
	HeaderUserRole   = "X-Lattice-Role"
	HeaderUserID     = "X-Lattice-User"
)

// ScopeMiddleware reads the context dimensions from request headers and
// attaches them to the request context. Requests without a tenant are
// rejected up front; every downstream operation would deny them anyway.
type ScopeMiddleware struct{}

// NewScopeMiddleware creates the scope extraction middleware
func NewScopeMiddleware() *ScopeMiddleware {
	return &ScopeMiddleware{}
}

// Handler wraps an HTTP handler with scope extraction
func (m *ScopeMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc := scope.Context{
			TenantID:   strings.TrimSpace(r.Header.Get(HeaderTenantID)),
			SubOrgID:   strings.TrimSpace(r.Header.Get(HeaderSubOrgID)),
			LocationID: strings.TrimSpace(r.Header.Get(HeaderLocationID)),
			UserRole:   strings.TrimSpace(r.Header.Get(HeaderUserRole)),
			UserID:     strings.TrimSpace(r.Header.Get(HeaderUserID)),
		}
		if !sc.HasTenant() {
			httputil.WriteUnauthorized(w, "tenant header is required")
			return
		}
		next.ServeHTTP(w, r.WithContext(scope.Into(r.Context(), sc)))
	})
}
