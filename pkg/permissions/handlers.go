package permissions

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/lattice-hq/lattice/pkg/audit"
	"github.com/lattice-hq/lattice/pkg/httputil"
	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// Handlers exposes role management and permission queries over HTTP.
type Handlers struct {
	store      *Store
	aggregator *Aggregator
	executor   *scope.Executor
	recorder   *audit.Recorder
	logger     *observability.Logger
}

// NewHandlers creates permission HTTP handlers. recorder may be nil.
func NewHandlers(store *Store, aggregator *Aggregator, executor *scope.Executor, recorder *audit.Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{
		store:      store,
		aggregator: aggregator,
		executor:   executor,
		recorder:   recorder,
		logger:     logger,
	}
}

// RegisterRoutes registers permission routes on the router. Every route is
// wrapped by guard with the platform operation it performs.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(permission string, next http.Handler) http.Handler) {
	router.Handle("/api/v1/roles", guard("platform.roles.create", http.HandlerFunc(h.createRole))).Methods("POST")
	router.Handle("/api/v1/roles/{id}/assignments", guard("platform.roles.assign", http.HandlerFunc(h.assignRole))).Methods("POST")
	router.Handle("/api/v1/assignments/{id}", guard("platform.roles.revoke", http.HandlerFunc(h.revokeRole))).Methods("DELETE")
	router.Handle("/api/v1/users/{id}/permissions", guard("platform.roles.read", http.HandlerFunc(h.getEffectivePermissions))).Methods("GET")
	router.Handle("/api/v1/users/{id}/permissions/check", guard("platform.roles.read", http.HandlerFunc(h.checkPermission))).Methods("GET")
	router.Handle("/api/v1/users/{id}/applications", guard("platform.roles.read", http.HandlerFunc(h.listApplications))).Methods("GET")
}

// CreateRoleRequest is the body for POST /api/v1/roles
type CreateRoleRequest struct {
	Name         string        `json:"name"`
	Priority     int           `json:"priority"`
	Permissions  PermissionSet `json:"permissions"`
	Restrictions Restrictions  `json:"restrictions"`
}

// AssignRoleRequest is the body for POST /api/v1/roles/{id}/assignments
type AssignRoleRequest struct {
	UserID    string     `json:"user_id"`
	EntityID  *string    `json:"entity_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	var req CreateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	var roleID string
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		roleID, err = h.store.CreateRole(ctx, sc.TenantID, req.Name, req.Priority, req.Permissions, req.Restrictions)
		return err
	})
	if err != nil {
		h.logger.WithError(err).Error("Role creation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, map[string]string{"role_id": roleID})
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	roleID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req AssignRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID == "" {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	var assignment *RoleAssignment
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		assignment, err = h.store.AssignRole(ctx, req.UserID, roleID, sc.TenantID, req.EntityID, req.ExpiresAt)
		return err
	})
	if err != nil {
		h.logger.WithError(err).Error("Role assignment failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.aggregator.Invalidate(r.Context(), req.UserID, sc.TenantID)
	if h.recorder != nil {
		h.recorder.Record(r.Context(), audit.Entry{
			TenantID: sc.TenantID,
			ActorID:  sc.UserID,
			Action:   audit.ActionRoleGranted,
			TargetID: assignment.ID,
			Detail:   map[string]interface{}{"role_id": roleID, "user_id": req.UserID},
		})
	}
	httputil.WriteCreated(w, assignment)
}

func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	assignmentID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var revoked *RoleAssignment
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		revoked, err = h.store.RevokeRole(ctx, assignmentID)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		httputil.WriteNotFoundError(w, "assignment not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Role revocation failed")
		httputil.WriteInternalError(w, err)
		return
	}

	h.aggregator.Invalidate(r.Context(), revoked.UserID, revoked.TenantID)
	if h.recorder != nil {
		h.recorder.Record(r.Context(), audit.Entry{
			TenantID: sc.TenantID,
			ActorID:  sc.UserID,
			Action:   audit.ActionRoleRevoked,
			TargetID: revoked.ID,
			Detail:   map[string]interface{}{"role_id": revoked.RoleID, "user_id": revoked.UserID},
		})
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) getEffectivePermissions(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var effective *EffectivePermissions
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		effective, err = h.aggregator.GetEffectivePermissions(ctx, userID, sc.TenantID)
		return err
	})
	if err != nil {
		h.logger.WithError(err).Error("Permission aggregation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, effective)
}

func (h *Handlers) checkPermission(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	permission := r.URL.Query().Get("permission")
	if permission == "" {
		httputil.WriteBadRequest(w, "permission query parameter is required")
		return
	}

	var granted bool
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		granted, err = h.aggregator.HasPermission(ctx, userID, sc.TenantID, permission)
		return err
	})
	if err != nil {
		h.logger.WithError(err).Error("Permission check failed")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"permission": permission,
		"granted":    granted,
	})
}

func (h *Handlers) listApplications(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	userID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var apps []string
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		apps, err = h.aggregator.AccessibleApplications(ctx, userID, sc.TenantID)
		return err
	})
	if err != nil {
		h.logger.WithError(err).Error("Application listing failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if apps == nil {
		apps = []string{}
	}
	httputil.WriteSuccess(w, apps)
}
