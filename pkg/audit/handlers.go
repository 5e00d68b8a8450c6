package audit

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/lattice-hq/lattice/pkg/httputil"
	"github.com/lattice-hq/lattice/pkg/observability"
	"github.com/lattice-hq/lattice/pkg/scope"
)

// Handlers exposes the audit trail over HTTP. Listing is a plain read on
// the recorder's reader connection; entries are already tenant-keyed, so it
// does not run inside a scoped unit of work.
type Handlers struct {
	recorder *Recorder
	logger   *observability.Logger
}

// NewHandlers creates audit HTTP handlers
func NewHandlers(recorder *Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{recorder: recorder, logger: logger}
}

// RegisterRoutes registers audit routes on the router
func (h *Handlers) RegisterRoutes(router *mux.Router, guard func(permission string, next http.Handler) http.Handler) {
	router.Handle("/api/v1/audit", guard("platform.audit.read", http.HandlerFunc(h.listEntries))).Methods("GET")
}

func (h *Handlers) listEntries(w http.ResponseWriter, r *http.Request) {
	sc, ok := scope.From(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "security context not established")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httputil.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entries, err := h.recorder.List(r.Context(), sc.TenantID, limit)
	if err != nil {
		h.logger.WithError(err).Error("Audit listing failed")
		httputil.WriteInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	httputil.WriteSuccess(w, entries)
}
