// Package metrics exposes the bot's Prometheus collectors. All recording
// methods are safe on a nil *Metrics so components can run unmetered.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pairbot"

// Metrics groups the bot's collectors.
type Metrics struct {
	registry *prometheus.Registry

	ordersPlaced   *prometheus.CounterVec
	pairEntries    *prometheus.CounterVec
	pairExits      *prometheus.CounterVec
	unwinds        *prometheus.CounterVec
	openPairs      prometheus.Gauge
	zscore         *prometheus.GaugeVec
	cycleDuration  *prometheus.HistogramVec
	freeCollateral prometheus.Gauge
}

// New builds the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ordersPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "orders_placed_total", Help: "Orders submitted to the exchange"},
			[]string{"market", "side", "reduce_only"},
		),
		pairEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "pair_entries_total", Help: "Pair entry attempts by final status"},
			[]string{"status"},
		),
		pairExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "pair_exits_total", Help: "Ledger entries processed by the exit reconciler"},
			[]string{"result"},
		),
		unwinds: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "failsafe_unwinds_total", Help: "Failsafe unwinds of a filled first leg"},
			[]string{"result"},
		),
		openPairs: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "open_pairs", Help: "Entries in the ledger after the last cycle"},
		),
		zscore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "pair_zscore", Help: "Latest spread z-score per pair"},
			[]string{"pair"},
		),
		cycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "cycle_duration_seconds", Help: "Duration of entry and exit passes", Buckets: prometheus.ExponentialBuckets(0.5, 2, 10)},
			[]string{"phase"},
		),
		freeCollateral: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "free_collateral_usd", Help: "Free collateral reported by the exchange"},
		),
	}
	m.registry.MustRegister(
		m.ordersPlaced, m.pairEntries, m.pairExits, m.unwinds,
		m.openPairs, m.zscore, m.cycleDuration, m.freeCollateral,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OrderPlaced(market, side string, reduceOnly bool) {
	if m == nil {
		return
	}
	ro := "false"
	if reduceOnly {
		ro = "true"
	}
	m.ordersPlaced.WithLabelValues(market, side, ro).Inc()
}

func (m *Metrics) PairEntry(status string) {
	if m == nil {
		return
	}
	m.pairEntries.WithLabelValues(status).Inc()
}

func (m *Metrics) PairExit(result string) {
	if m == nil {
		return
	}
	m.pairExits.WithLabelValues(result).Inc()
}

func (m *Metrics) Unwind(result string) {
	if m == nil {
		return
	}
	m.unwinds.WithLabelValues(result).Inc()
}

func (m *Metrics) SetOpenPairs(n int) {
	if m == nil {
		return
	}
	m.openPairs.Set(float64(n))
}

func (m *Metrics) SetZScore(pair string, z float64) {
	if m == nil {
		return
	}
	m.zscore.WithLabelValues(pair).Set(z)
}

func (m *Metrics) ObserveCycle(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycleDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) SetFreeCollateral(v float64) {
	if m == nil {
		return
	}
	m.freeCollateral.Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
