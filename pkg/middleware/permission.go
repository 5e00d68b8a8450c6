package middleware

import (
	"net/http"

	"github.com/lattice-hq/lattice/pkg/audit"
	"github.com/lattice-hq/lattice/pkg/httputil"
	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/permissions"
	"github.com/lattice-hq/lattice/pkg/policy"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// PermissionMiddleware gates routes on the caller's effective permissions.
type PermissionMiddleware struct {
	aggregator *permissions.Aggregator
	recorder   *audit.Recorder
	logger     *observability.Logger
}

// NewPermissionMiddleware creates the permission gate. recorder may be nil.
func NewPermissionMiddleware(aggregator *permissions.Aggregator, recorder *audit.Recorder, logger *observability.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{aggregator: aggregator, recorder: recorder, logger: logger}
}

// Require wraps a handler so it only runs when the caller holds the given
// app.module.operation permission. Denials are audited. Aggregation errors
// deny access; no error path here widens access. Privileged roles pass the
// gate without an assignment lookup, matching their bypass of the role
// clause in installed row policies.
func (m *PermissionMiddleware) Require(permission string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, ok := scope.From(r.Context())
		if !ok || sc.UserID == "" {
			httputil.WriteUnauthorized(w, "security context not established")
			return
		}
		if policy.IsPrivileged(sc.UserRole) {
			next.ServeHTTP(w, r)
			return
		}

		granted, err := m.aggregator.HasPermission(r.Context(), sc.UserID, sc.TenantID, permission)
		if err != nil {
			m.logger.WithError(err).WithField("permission", permission).
				Error("Permission check failed, denying")
			httputil.WriteForbidden(w, "permission check failed")
			return
		}
		if !granted {
			if m.recorder != nil {
				m.recorder.Record(r.Context(), audit.Entry{
					TenantID: sc.TenantID,
					ActorID:  sc.UserID,
					Action:   audit.ActionAccessDenied,
					TargetID: permission,
					Detail:   map[string]interface{}{"path": r.URL.Path, "method": r.Method},
				})
			}
			httputil.WriteForbidden(w, "missing permission: "+permission)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireFunc is Require for plain handler functions
func (m *PermissionMiddleware) RequireFunc(permission string, next http.HandlerFunc) http.Handler {
	return m.Require(permission, next)
}
