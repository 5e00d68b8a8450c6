package permissions

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/lattice-hq/lattice/pkg/events"
	"github.com/lattice-hq/lattice/pkg/observability"
)

// Aggregator computes effective permission sets from role assignments.
//
// Merging is order-independent except where priority breaks ties: roles are
// applied in ascending priority order and each role overwrites earlier
// grants per app.module key, so the highest-priority role wins direct
// conflicts. Restrictions merge conservatively regardless of priority.
type Aggregator struct {
	store     *Store
	registry  *Registry
	cache     *expirable.LRU[string, *EffectivePermissions]
	publisher events.Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewAggregator creates a permission aggregator with an expiring LRU cache.
// publisher may be a NoopPublisher; metrics may be nil.
func NewAggregator(store *Store, registry *Registry, publisher events.Publisher, logger *observability.Logger, metrics *observability.Metrics, cacheSize int, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		store:     store,
		registry:  registry,
		cache:     expirable.NewLRU[string, *EffectivePermissions](cacheSize, nil, cacheTTL),
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

func cacheKey(userID, tenantID string) string {
	return userID + "/" + tenantID
}

// GetEffectivePermissions loads all active, unexpired role assignments for
// the user in the tenant and merges them. A role whose stored permission
// data fails to parse is logged and skipped; the remaining roles still
// contribute, so one corrupt record never locks a user out entirely.
func (a *Aggregator) GetEffectivePermissions(ctx context.Context, userID, tenantID string) (*EffectivePermissions, error) {
	key := cacheKey(userID, tenantID)
	if cached, ok := a.cache.Get(key); ok {
		if a.metrics != nil {
			a.metrics.PermissionCacheHits.Inc()
		}
		return cached, nil
	}
	if a.metrics != nil {
		a.metrics.PermissionCacheMisses.Inc()
	}

	start := time.Now()
	records, err := a.store.ActiveRoleRecords(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	effective := &EffectivePermissions{
		UserID:      userID,
		TenantID:    tenantID,
		Permissions: make(PermissionSet),
		ComputedAt:  time.Now().UTC(),
	}

	// Records arrive ordered by ascending priority; later roles overwrite
	// earlier ones per app.module key.
	for _, record := range records {
		permissions, restrictions, parseErr := parseRole(record)
		if parseErr != nil {
			a.logger.WithError(parseErr).WithField("role_id", record.ID).
				Warn("Skipping role with malformed permission data")
			if a.metrics != nil {
				a.metrics.RoleParseFailuresTotal.Inc()
			}
			continue
		}

		for app, modules := range permissions {
			if effective.Permissions[app] == nil {
				effective.Permissions[app] = make(map[string]Grant)
			}
			for module, grant := range modules {
				effective.Permissions[app][module] = grant
			}
		}
		effective.Restrictions.Merge(restrictions)
		effective.Roles = append(effective.Roles, record.Name)
	}

	if a.metrics != nil {
		a.metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	}

	a.cache.Add(key, effective)
	return effective, nil
}

func parseRole(record RoleRecord) (PermissionSet, Restrictions, error) {
	var permissions PermissionSet
	if err := json.Unmarshal(record.PermissionsJSON, &permissions); err != nil {
		return nil, Restrictions{}, &RoleParseError{RoleID: record.ID, Err: err}
	}
	var restrictions Restrictions
	if len(record.RestrictionsJSON) > 0 {
		if err := json.Unmarshal(record.RestrictionsJSON, &restrictions); err != nil {
			return nil, Restrictions{}, &RoleParseError{RoleID: record.ID, Err: err}
		}
	}
	return permissions, restrictions, nil
}

// Flatten expands a permission set into sorted app.module.operation
// strings. Wildcard modules and operations expand against the registry;
// anything the registry does not recognize expands to nothing.
func (a *Aggregator) Flatten(permissions PermissionSet) []string {
	flat := make(map[string]bool)
	for app, modules := range permissions {
		for module, grant := range modules {
			if module == "*" {
				for _, known := range a.registry.Modules(app) {
					a.flattenGrant(flat, app, known, grant)
				}
				continue
			}
			a.flattenGrant(flat, app, module, grant)
		}
	}

	result := make([]string, 0, len(flat))
	for permission := range flat {
		result = append(result, permission)
	}
	sort.Strings(result)
	return result
}

func (a *Aggregator) flattenGrant(flat map[string]bool, app, module string, grant Grant) {
	for _, operation := range grant.Operations {
		if operation == "*" {
			for _, known := range a.registry.Operations(app, module) {
				flat[app+"."+module+"."+known] = true
			}
			continue
		}
		flat[app+"."+module+"."+operation] = true
	}
}

// HasPermission reports whether the user's effective permission set
// contains the given app.module.operation string.
func (a *Aggregator) HasPermission(ctx context.Context, userID, tenantID, permission string) (bool, error) {
	effective, err := a.GetEffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	granted := a.has(effective, permission)
	if a.metrics != nil {
		result := "denied"
		if granted {
			result = "granted"
		}
		a.metrics.PermissionChecksTotal.WithLabelValues(result).Inc()
	}
	return granted, nil
}

// HasAll reports whether every permission is granted
func (a *Aggregator) HasAll(ctx context.Context, userID, tenantID string, permissions ...string) (bool, error) {
	effective, err := a.GetEffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, permission := range permissions {
		if !a.has(effective, permission) {
			return false, nil
		}
	}
	return true, nil
}

// HasAny reports whether at least one permission is granted
func (a *Aggregator) HasAny(ctx context.Context, userID, tenantID string, permissions ...string) (bool, error) {
	effective, err := a.GetEffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return false, err
	}
	for _, permission := range permissions {
		if a.has(effective, permission) {
			return true, nil
		}
	}
	return false, nil
}

func (a *Aggregator) has(effective *EffectivePermissions, permission string) bool {
	for _, flat := range a.Flatten(effective.Permissions) {
		if flat == permission {
			return true
		}
	}
	return false
}

// AccessibleApplications returns the application codes the user holds at
// least one permission in, sorted.
func (a *Aggregator) AccessibleApplications(ctx context.Context, userID, tenantID string) ([]string, error) {
	effective, err := a.GetEffectivePermissions(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}

	apps := make(map[string]bool)
	for _, permission := range a.Flatten(effective.Permissions) {
		apps[strings.SplitN(permission, ".", 2)[0]] = true
	}

	result := make([]string, 0, len(apps))
	for app := range apps {
		result = append(result, app)
	}
	sort.Strings(result)
	return result, nil
}

// Invalidate drops the user's cached permission set and announces the
// change so other processes can do the same. Call after any role grant,
// revocation, or role definition change.
func (a *Aggregator) Invalidate(ctx context.Context, userID, tenantID string) {
	a.cache.Remove(cacheKey(userID, tenantID))
	err := a.publisher.Publish(ctx, events.Event{
		Type:     events.TypePermissionsChanged,
		TenantID: tenantID,
		UserID:   userID,
	})
	if err != nil {
		a.logger.WithError(err).Warn("Failed to publish permission invalidation")
	}
}

// HandleInvalidation drops a locally cached entry in response to a
// permissions-changed event from another process.
func (a *Aggregator) HandleInvalidation(event events.Event) {
	if event.Type != events.TypePermissionsChanged {
		return
	}
	a.cache.Remove(cacheKey(event.UserID, event.TenantID))
}
