// Package metrics exposes Prometheus instruments for registry refreshes,
// trust verdicts, descriptor fetches and execution transitions.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triage-ai/blinkguard/internal/execution"
	"github.com/triage-ai/blinkguard/internal/registry"
	"github.com/triage-ai/blinkguard/internal/trust"
)

const namespace = "blinkguard"

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	registryRefreshes prometheus.Counter
	registryEntries   *prometheus.GaugeVec
	registryLatency   prometheus.Histogram
	verdicts          *prometheus.CounterVec
	descriptorFetches *prometheus.CounterVec
	transitions       *prometheus.CounterVec
}

// New registers every instrument on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		reg: reg,
		registryRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_refresh_total",
			Help:      "Total number of security registry loads.",
		}),
		registryEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_entries",
			Help:      "Hosts in the current registry snapshot per category.",
		}, []string{"source"}),
		registryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_refresh_seconds",
			Help:      "Latency distribution for registry loads.",
			Buckets:   []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		}),
		verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_verdict_total",
			Help:      "Trust evaluations by classification and outcome.",
		}, []string{"classification", "allowed"}),
		descriptorFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "descriptor_fetch_total",
			Help:      "Action descriptor fetches by result.",
		}, []string{"result"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_transition_total",
			Help:      "Execution state transitions by event and resulting status.",
		}, []string{"event", "status"}),
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ObserveRegistry records a registry load. Matches registry.CacheConfig.OnRefresh.
func (m *Metrics) ObserveRegistry(reg *registry.ActionsRegistry, took time.Duration) {
	if m == nil {
		return
	}
	m.registryRefreshes.Inc()
	m.registryLatency.Observe(took.Seconds())
	for _, src := range []registry.Source{registry.SourceActions, registry.SourceWebsites, registry.SourceInterstitials} {
		m.registryEntries.WithLabelValues(string(src)).Set(float64(reg.Len(src)))
	}
}

// ObserveVerdict records a trust evaluation.
func (m *Metrics) ObserveVerdict(classification trust.ExtendedActionState, allowed bool) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(string(classification), strconv.FormatBool(allowed)).Inc()
}

// ObserveDescriptorFetch records a descriptor fetch. Matches
// action.ClientConfig.OnFetch.
func (m *Metrics) ObserveDescriptorFetch(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.descriptorFetches.WithLabelValues(result).Inc()
}

// ObserveTransition records an execution state change. Matches
// execution.TransitionFunc.
func (m *Metrics) ObserveTransition(_, to execution.State, ev execution.Event) {
	if m == nil || ev == nil {
		return
	}
	m.transitions.WithLabelValues(ev.Name(), string(to.Status)).Inc()
}
