// Package observability provides Prometheus metrics for the accrual engine.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Ticks         prometheus.Counter
	Persists      *prometheus.CounterVec
	Reconciles    *prometheus.CounterVec
	Loads         *prometheus.CounterVec
	CurrentYield  *prometheus.GaugeVec
	TickerRunning *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg.
// A nil reg uses a fresh private registry.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if namespace == "" {
		namespace = "accrual"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of live ticks computed",
		}),
		Persists: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_total",
			Help:      "Snapshot writes by result",
		}, []string{"result"}),
		Reconciles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Change notifications by decision (external or echo)",
		}, []string{"decision"}),
		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "load_total",
			Help:      "Baseline loads by result",
		}, []string{"result"}),
		CurrentYield: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_yield",
			Help:      "Current accrued yield per account in native units",
		}, []string{"account"}),
		TickerRunning: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ticker_running",
			Help:      "1 while the live ticker of an account is running",
		}, []string{"account"}),
		gatherer: reg,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Tick(account string, currentYield float64) {
	if m == nil {
		return
	}
	m.Ticks.Inc()
	m.CurrentYield.WithLabelValues(account).Set(currentYield)
}

func (m *Metrics) Persist(ok bool) {
	if m == nil {
		return
	}
	m.Persists.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Reconcile(external bool) {
	if m == nil {
		return
	}
	decision := "echo"
	if external {
		decision = "external"
	}
	m.Reconciles.WithLabelValues(decision).Inc()
}

func (m *Metrics) Load(ok bool) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SetTickerRunning(account string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.TickerRunning.WithLabelValues(account).Set(v)
}

// Forget drops per-account series once a session ends.
func (m *Metrics) Forget(account string) {
	if m == nil {
		return
	}
	m.CurrentYield.DeleteLabelValues(account)
	m.TickerRunning.DeleteLabelValues(account)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
