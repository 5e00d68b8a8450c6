package observability

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Scoped executor metrics
	ScopedUnitsTotal    *prometheus.CounterVec
	ScopedUnitDuration  *prometheus.HistogramVec
	ScopeTeardownErrors prometheus.Counter

	// Permission metrics
	PermissionChecksTotal  *prometheus.CounterVec
	PermissionCacheHits    prometheus.Counter
	PermissionCacheMisses  prometheus.Counter
	RoleParseFailuresTotal prometheus.Counter
	AggregationDuration    prometheus.Histogram

	// Entity tree metrics
	EntityOperationsTotal *prometheus.CounterVec
	EntityMoveDuration    prometheus.Histogram
	SubtreeRowsRewritten  prometheus.Histogram

	// Policy metrics
	PolicyInstallsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive    prometheus.Gauge
	DBConnectionsIdle      prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		ScopedUnitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_scoped_units_total",
				Help: "Total number of scoped units of work, by outcome",
			},
			[]string{"outcome"},
		),
		ScopedUnitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lattice_scoped_unit_duration_seconds",
				Help:    "Duration of scoped units of work in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		ScopeTeardownErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_scope_teardown_errors_total",
				Help: "Failures clearing session context before connection release",
			},
		),
		PermissionChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_permission_checks_total",
				Help: "Total number of permission checks, by result",
			},
			[]string{"result"},
		),
		PermissionCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_permission_cache_hits_total",
				Help: "Effective permission cache hits",
			},
		),
		PermissionCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_permission_cache_misses_total",
				Help: "Effective permission cache misses",
			},
		),
		RoleParseFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_role_parse_failures_total",
				Help: "Roles skipped during aggregation due to malformed stored data",
			},
		),
		AggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_permission_aggregation_duration_seconds",
				Help:    "Duration of effective permission aggregation",
				Buckets: prometheus.DefBuckets,
			},
		),
		EntityOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_entity_operations_total",
				Help: "Entity tree operations, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		EntityMoveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_entity_move_duration_seconds",
				Help:    "Duration of subtree moves including path recomputation",
				Buckets: prometheus.DefBuckets,
			},
		),
		SubtreeRowsRewritten: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_subtree_rows_rewritten",
				Help:    "Number of descendant rows rewritten per entity move",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		PolicyInstallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_policy_installs_total",
				Help: "Row policy installations, by table and outcome",
			},
			[]string{"table", "outcome"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_db_connections_wait_count",
				Help: "Cumulative number of waits for a database connection",
			},
		),
	}

	registry.MustRegister(
		m.ScopedUnitsTotal,
		m.ScopedUnitDuration,
		m.ScopeTeardownErrors,
		m.PermissionChecksTotal,
		m.PermissionCacheHits,
		m.PermissionCacheMisses,
		m.RoleParseFailuresTotal,
		m.AggregationDuration,
		m.EntityOperationsTotal,
		m.EntityMoveDuration,
		m.SubtreeRowsRewritten,
		m.PolicyInstallsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
	)

	return m
}

// UpdateDBStats refreshes database connection gauges from pool statistics
func (m *Metrics) UpdateDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// Handler returns an HTTP handler exposing the registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
