package permissions

import "sort"

// Registry enumerates the concrete operations each application module
// supports. Wildcard grants expand against it; an unrecognized module
// expands to nothing, so a wildcard never grants operations the platform
// does not know about.
type Registry struct {
	modules map[string]map[string][]string
}

// NewRegistry creates an empty operation registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]map[string][]string)}
}

// Register declares the operations a module supports
func (r *Registry) Register(app, module string, operations ...string) {
	if r.modules[app] == nil {
		r.modules[app] = make(map[string][]string)
	}
	r.modules[app][module] = operations
}

// Operations returns the registered operations for a module, or nil when
// the module is unknown.
func (r *Registry) Operations(app, module string) []string {
	return r.modules[app][module]
}

// Modules returns the registered module codes of an application, sorted.
func (r *Registry) Modules(app string) []string {
	modules := make([]string, 0, len(r.modules[app]))
	for module := range r.modules[app] {
		modules = append(modules, module)
	}
	sort.Strings(modules)
	return modules
}

// DefaultRegistry returns the registry for the platform's built-in
// application suite.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register("crm", "leads", "read", "create", "update", "delete")
	r.Register("crm", "contacts", "read", "create", "update", "delete", "export")
	r.Register("crm", "deals", "read", "create", "update", "delete", "approve")

	r.Register("billing", "invoices", "read", "create", "void", "export")
	r.Register("billing", "payments", "read", "refund")

	r.Register("hr", "employees", "read", "create", "update", "deactivate")
	r.Register("hr", "timesheets", "read", "submit", "approve")

	r.Register("platform", "entities", "read", "create", "move", "deactivate")
	r.Register("platform", "roles", "read", "create", "assign", "revoke")
	r.Register("platform", "policies", "read", "install")
	r.Register("platform", "audit", "read")

	return r
}
