// Package metrics exposes campaign supervision counters in Prometheus
// format.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crete_run"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all harness metrics on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	WorkersSpawned  *prometheus.CounterVec
	ForcedKills     *prometheus.CounterVec
	ToolInvocations *prometheus.CounterVec
	TestCases       prometheus.Gauge
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates an independent registry. Tests use it to avoid sharing
// counters.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Supervised fleet runs by outcome",
		}, []string{"outcome"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of supervised fleet runs",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 4 * 3600},
		}),
		WorkersSpawned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workers_spawned_total",
			Help:      "Fleet members started",
		}, []string{"worker"}),
		ForcedKills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forced_kills_total",
			Help:      "Fleet members terminated after the grace period",
		}, []string{"worker", "signal"}),
		ToolInvocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "External tool runs by result",
		}, []string{"tool", "result"}),
		TestCases: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "test_cases",
			Help:      "Test cases generated by the last run",
		}),
	}
}

// ObserveSpawn counts a started worker.
func (r *Registry) ObserveSpawn(worker string) {
	r.WorkersSpawned.WithLabelValues(worker).Inc()
}

// ObserveKill counts a worker that had to be terminated.
func (r *Registry) ObserveKill(worker string, escalated bool) {
	sig := "SIGTERM"
	if escalated {
		sig = "SIGKILL"
	}
	r.ForcedKills.WithLabelValues(worker, sig).Inc()
}

// ObserveRun records one finished run.
func (r *Registry) ObserveRun(outcome string, elapsed time.Duration) {
	r.RunsTotal.WithLabelValues(outcome).Inc()
	r.RunDuration.Observe(elapsed.Seconds())
}

// ObserveTool records one external tool invocation.
func (r *Registry) ObserveTool(tool string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.ToolInvocations.WithLabelValues(tool, result).Inc()
}

// SetTestCases records the number of generated test cases.
func (r *Registry) SetTestCases(n int) {
	r.TestCases.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
