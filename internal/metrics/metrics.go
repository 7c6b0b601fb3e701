// Package metrics exposes Prometheus counters for rule-set runs, rule
// outcomes and dispatched actions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docrules"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	rules       *prometheus.CounterVec
	actions     *prometheus.CounterVec
	actionTime  *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ruleset_runs_total",
			Help:      "Rule-set evaluations by trigger and result.",
		}, []string{"trigger", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ruleset_run_duration_seconds",
			Help:      "Wall time of one rule-set evaluation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"trigger"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_total",
			Help:      "Evaluated rules by outcome.",
		}, []string{"outcome"}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Dispatched actions by name and status.",
		}, []string{"action", "status"}),
		actionTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "action_duration_seconds",
			Help:      "Wall time of one action.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		m.runs, m.runDuration, m.rules, m.actions, m.actionTime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RuleSetRun records one finished rule-set evaluation.
func (m *Metrics) RuleSetRun(trigger, result string, elapsed time.Duration) {
	m.runs.WithLabelValues(trigger, result).Inc()
	m.runDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
}

// RuleEvaluated records one rule outcome.
func (m *Metrics) RuleEvaluated(passed bool) {
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.rules.WithLabelValues(outcome).Inc()
}

// ActionDone records one dispatched action.
func (m *Metrics) ActionDone(name, status string, elapsed time.Duration) {
	m.actions.WithLabelValues(name, status).Inc()
	m.actionTime.WithLabelValues(name).Observe(elapsed.Seconds())
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
