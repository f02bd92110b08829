// Package metrics records auth metrics to StatsD and Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	obserrors "github.com/lanterna/lanterna-api/internal/observability/errors"
	"github.com/lanterna/lanterna-api/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// AuthMetrics fans auth events out to a StatsD sink and Prometheus collectors.
// A nil *AuthMetrics is a valid no-op recorder.
type AuthMetrics struct {
	sink statsd.Sink

	adminChecks   *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	gateDecisions *prometheus.CounterVec
	logins        *prometheus.CounterVec
	auditDropped  prometheus.Counter
	sweepRuns     *prometheus.CounterVec
	sweepRemoved  *prometheus.CounterVec
	sweepDuration prometheus.Histogram
}

// NewAuthMetrics creates the collectors and registers them with reg (nil skips registration).
func NewAuthMetrics(reg prometheus.Registerer, sink statsd.Sink) *AuthMetrics {
	f := promauto.With(reg)
	return &AuthMetrics{
		sink: sink,
		adminChecks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "admin_checks_total",
			Help:      "Admin verifications by method and outcome",
		}, []string{"method", "admin"}),
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "admin_cache_lookups_total",
			Help:      "Admin cache lookups by result",
		}, []string{"result"}), // hit/miss
		gateDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "gate_decisions_total",
			Help:      "Request gate decisions on protected routes",
		}, []string{"route", "decision"}),
		logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"result"}),
		auditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "audit_dropped_total",
			Help:      "Audit entries diverted to the console because the buffer was full",
		}),
		sweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "sweep_operations_total",
			Help:      "Background sweep operations by result",
		}, []string{"operation", "result"}),
		sweepRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lanterna",
			Name:      "sweep_removed_total",
			Help:      "Records removed by background sweeps",
		}, []string{"operation"}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lanterna",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full sweep cycle",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// AdminCheck records one verification.
func (m *AuthMetrics) AdminCheck(method string, isAdmin bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	admin := boolLabel(isAdmin)
	m.adminChecks.WithLabelValues(method, admin).Inc()
	if m.sink != nil {
		tags := map[string]string{"method": method, "admin": admin}
		m.sink.Count("auth.admin_check", 1, tags)
		m.sink.Timing("auth.admin_check_duration", elapsed, CloneTags(tags))
	}
}

// CacheLookup records an admin cache hit or miss.
func (m *AuthMetrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
	if m.sink != nil {
		m.sink.Count("auth.cache_lookup", 1, map[string]string{"result": result})
	}
}

// GateDecision records the outcome of a protected request; route is "page" or "api".
func (m *AuthMetrics) GateDecision(route, decision string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(route, decision).Inc()
	if m.sink != nil {
		m.sink.Count("auth.gate", 1, map[string]string{"route": route, "decision": decision})
	}
}

// Login records a login attempt.
func (m *AuthMetrics) Login(err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := ResultSuccess
	tags := map[string]string{}
	if err != nil {
		result = ResultError
		tags["error_class"] = obserrors.Classify(err)
	}
	tags["result"] = result
	m.logins.WithLabelValues(result).Inc()
	if m.sink != nil {
		m.sink.Count("auth.login", 1, tags)
		m.sink.Timing("auth.login_duration", elapsed, CloneTags(tags))
	}
}

// AuditDropped records an audit entry that bypassed the store.
func (m *AuthMetrics) AuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
	if m.sink != nil {
		m.sink.Count("auth.audit_dropped", 1, nil)
	}
}

// SweepOperation records one cleanup step.
func (m *AuthMetrics) SweepOperation(operation string, removed int64, err error) {
	if m == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	} else if removed == 0 {
		result = ResultNoop
	}
	m.sweepRuns.WithLabelValues(operation, result).Inc()
	if removed > 0 {
		m.sweepRemoved.WithLabelValues(operation).Add(float64(removed))
	}

	if m.sink == nil {
		return
	}
	tags := map[string]string{"operation": operation, "result": result}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}
	m.sink.Count("auth.sweep_operation", 1, tags)
	if removed > 0 {
		m.sink.Count("auth.sweep_removed", removed, CloneTags(tags))
	}
}

// SweepCycle records a full sweep pass.
func (m *AuthMetrics) SweepCycle(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(elapsed.Seconds())
	if m.sink == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.sink.Timing("auth.sweep_duration", elapsed, map[string]string{"result": result})
	if err == nil {
		m.sink.Gauge("auth.sweep_last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
