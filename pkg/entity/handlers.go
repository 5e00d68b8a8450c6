package entity

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lattice-hq/lattice/pkg/audit"
	"github.com/lattice-hq/lattice/pkg/events"
	"github.com/lattice-hq/lattice/pkg/httputil"
	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// Handlers exposes the organizational tree over HTTP. Every operation runs
// inside a scoped unit of work so row filtering applies to the handler's own
// reads and writes.
type Handlers struct {
	store     *Store
	executor  *scope.Executor
	recorder  *audit.Recorder
	publisher events.Publisher
	logger    *observability.Logger
}

// NewHandlers creates entity HTTP handlers. recorder and publisher may be
// nil.
func NewHandlers(store *Store, executor *scope.Executor, recorder *audit.Recorder, publisher events.Publisher, logger *observability.Logger) *Handlers {
	return &Handlers{store: store, executor: executor, recorder: recorder, publisher: publisher, logger: logger}
}

// RegisterRoutes registers entity routes on the router. Every route is
// wrapped by guard with the platform operation it performs.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(permission string, next http.Handler) http.Handler) {
	router.Handle("/api/v1/entities", guard("platform.entities.create", http.HandlerFunc(h.createEntity))).Methods("POST")
	router.Handle("/api/v1/entities/roots", guard("platform.entities.read", http.HandlerFunc(h.listRoots))).Methods("GET")
	router.Handle("/api/v1/entities/{id}", guard("platform.entities.read", http.HandlerFunc(h.getEntity))).Methods("GET")
	router.Handle("/api/v1/entities/{id}", guard("platform.entities.deactivate", http.HandlerFunc(h.deactivateEntity))).Methods("DELETE")
	router.Handle("/api/v1/entities/{id}/move", guard("platform.entities.move", http.HandlerFunc(h.moveEntity))).Methods("POST")
	router.Handle("/api/v1/entities/{id}/ancestors", guard("platform.entities.read", http.HandlerFunc(h.listAncestors))).Methods("GET")
	router.Handle("/api/v1/entities/{id}/descendants", guard("platform.entities.read", http.HandlerFunc(h.listDescendants))).Methods("GET")
}

// CreateEntityRequest is the body for POST /api/v1/entities
type CreateEntityRequest struct {
	Type     Type    `json:"entity_type"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_entity_id,omitempty"`
}

// MoveEntityRequest is the body for POST /api/v1/entities/{id}/move
type MoveEntityRequest struct {
	NewParentID *string `json:"new_parent_entity_id,omitempty"`
}

func (h *Handlers) createEntity(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}

	var req CreateEntityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}
	if !req.Type.Valid() {
		httputil.WriteBadRequest(w, "unknown entity type")
		return
	}

	var created *Entity
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		created, err = h.store.CreateEntity(ctx, sc.TenantID, req.Type, req.Name, req.ParentID)
		return err
	})
	if err != nil {
		h.writeEntityError(w, err)
		return
	}
	httputil.WriteCreated(w, created)
}

func (h *Handlers) getEntity(w http.ResponseWriter, r *http.Request) {
	h.scopedRead(w, r, func(ctx context.Context, entityID string) (interface{}, error) {
		return h.store.GetEntity(ctx, entityID)
	})
}

func (h *Handlers) moveEntity(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	entityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req MoveEntityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		return h.store.MoveEntity(ctx, entityID, req.NewParentID)
	})
	if err != nil {
		h.writeEntityError(w, err)
		return
	}

	if h.recorder != nil {
		detail := map[string]interface{}{}
		if req.NewParentID != nil {
			detail["new_parent_entity_id"] = *req.NewParentID
		}
		h.recorder.Record(r.Context(), audit.Entry{
			TenantID: sc.TenantID,
			ActorID:  sc.UserID,
			Action:   audit.ActionEntityMoved,
			TargetID: entityID,
			Detail:   detail,
		})
	}
	if h.publisher != nil {
		if err := h.publisher.Publish(r.Context(), events.Event{
			Type:     events.TypeEntityMoved,
			TenantID: sc.TenantID,
			EntityID: entityID,
		}); err != nil {
			h.logger.WithError(err).WithField("entity_id", entityID).
				Warn("Failed to publish entity move event")
		}
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) listAncestors(w http.ResponseWriter, r *http.Request) {
	h.scopedRead(w, r, func(ctx context.Context, entityID string) (interface{}, error) {
		ancestors, err := h.store.AncestorsOf(ctx, entityID)
		if ancestors == nil && err == nil {
			ancestors = []*Entity{}
		}
		return ancestors, err
	})
}

func (h *Handlers) listDescendants(w http.ResponseWriter, r *http.Request) {
	includeInactive := httputil.ParseQueryBool(r, "include_inactive", false)
	h.scopedRead(w, r, func(ctx context.Context, entityID string) (interface{}, error) {
		var descendants []*Entity
		var err error
		if includeInactive {
			descendants, err = h.store.DescendantsForAudit(ctx, entityID)
		} else {
			descendants, err = h.store.DescendantsOf(ctx, entityID)
		}
		if descendants == nil && err == nil {
			descendants = []*Entity{}
		}
		return descendants, err
	})
}

func (h *Handlers) listRoots(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}

	var roots []*Entity
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		roots, err = h.store.RootsOf(ctx, sc.TenantID)
		return err
	})
	if err != nil {
		h.writeEntityError(w, err)
		return
	}
	if roots == nil {
		roots = []*Entity{}
	}
	httputil.WriteSuccess(w, roots)
}

func (h *Handlers) deactivateEntity(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	entityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		return h.store.Deactivate(ctx, entityID)
	})
	if err != nil {
		h.writeEntityError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handlers) scopedRead(w http.ResponseWriter, r *http.Request, read func(ctx context.Context, entityID string) (interface{}, error)) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}
	entityID, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	var result interface{}
	err := h.executor.RunInContext(r.Context(), sc, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		result, err = read(ctx, entityID)
		return err
	})
	if err != nil {
		h.writeEntityError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (h *Handlers) writeEntityError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrInvalidParent):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, ErrCycleDetected):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, scope.ErrContextNotSet):
		httputil.WriteUnauthorized(w, err.Error())
	default:
		h.logger.WithError(err).Error("Entity operation failed")
		httputil.WriteInternalError(w, err)
	}
}
