// Package metrics holds the Prometheus collectors of the exchange. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "energy_exchange"

type Metrics struct {
	OrdersSubmitted  *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	OrdersCancelled  prometheus.Counter
	TradesExecuted   prometheus.Counter
	TradedVolume     prometheus.Counter
	RestingOrders    *prometheus.GaugeVec
	SubmitLatency    prometheus.Histogram
	StoreRetries     prometheus.Counter
	JournalFallbacks prometheus.Counter
	BatchesLost      prometheus.Counter
	Reconciled       prometheus.Counter
	EventsDropped    prometheus.Counter
}

// New builds the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the engine.",
		}, []string{"side", "mode"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_rejected_total",
			Help:      "Requests rejected before or during matching.",
		}, []string{"reason"}),
		OrdersCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_cancelled_total",
			Help:      "Resting orders cancelled on request.",
		}),
		TradesExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_executed_total",
			Help:      "Trades executed.",
		}),
		TradedVolume: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_volume_kwh_total",
			Help:      "Energy traded.",
		}),
		RestingOrders: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Orders currently resting in the book.",
		}, []string{"side"}),
		SubmitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Time spent matching one submission.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Failed persist attempts that were retried.",
		}),
		JournalFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_fallbacks_total",
			Help:      "Batches written to the fallback journal.",
		}),
		BatchesLost: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_lost_total",
			Help:      "Batches neither persisted nor journaled.",
		}),
		Reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_reconciled_total",
			Help:      "Journaled batches later persisted.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events a publisher failed to deliver.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.OrdersSubmitted, m.OrdersRejected, m.OrdersCancelled, m.TradesExecuted,
		m.TradedVolume, m.RestingOrders, m.SubmitLatency, m.StoreRetries,
		m.JournalFallbacks, m.BatchesLost, m.Reconciled, m.EventsDropped,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Submitted(side, mode string) {
	if m == nil {
		return
	}
	m.OrdersSubmitted.WithLabelValues(side, mode).Inc()
}

func (m *Metrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.OrdersRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) Cancelled() {
	if m == nil {
		return
	}
	m.OrdersCancelled.Inc()
}

func (m *Metrics) Traded(volume float64) {
	if m == nil {
		return
	}
	m.TradesExecuted.Inc()
	m.TradedVolume.Add(volume)
}

func (m *Metrics) Resting(side string, n int) {
	if m == nil {
		return
	}
	m.RestingOrders.WithLabelValues(side).Set(float64(n))
}

func (m *Metrics) ObserveMatch(d time.Duration) {
	if m == nil {
		return
	}
	m.SubmitLatency.Observe(d.Seconds())
}

func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.StoreRetries.Inc()
}

func (m *Metrics) JournalFallback() {
	if m == nil {
		return
	}
	m.JournalFallbacks.Inc()
}

func (m *Metrics) BatchLost() {
	if m == nil {
		return
	}
	m.BatchesLost.Inc()
}

func (m *Metrics) ReconciledBatch() {
	if m == nil {
		return
	}
	m.Reconciled.Inc()
}

func (m *Metrics) EventDropped(n int) {
	if m == nil {
		return
	}
	m.EventsDropped.Add(float64(n))
}
