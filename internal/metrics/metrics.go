// Package metrics exposes Prometheus instrumentation for the trading
// daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the custom prometheus registry for autotrader metrics.
var Registry = prometheus.NewRegistry()

var (
	// TicksTotal counts trading-loop ticks by outcome ("ok", "skipped", "error").
	TicksTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Trading loop ticks by outcome",
		},
		[]string{"outcome"},
	)

	// TickDuration observes wall time of one full tick across all users.
	TickDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "autotrader",
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one trading loop tick",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// SignalsGenerated counts signals by kind.
	SignalsGenerated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "engine",
			Name:      "signals_generated_total",
			Help:      "Trading signals generated by kind",
		},
		[]string{"kind"},
	)

	// OrdersExecuted counts orders placed by side and result.
	OrdersExecuted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "engine",
			Name:      "orders_executed_total",
			Help:      "Orders placed against the broker by side and result",
		},
		[]string{"side", "result"},
	)

	// AlertsSent counts pending alerts created in ALERT mode.
	AlertsSent = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "engine",
			Name:      "alerts_sent_total",
			Help:      "Pending alerts created and dispatched",
		},
	)

	// LoopErrors counts per-stock errors recorded during ticks.
	LoopErrors = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: "autotrader",
			Subsystem: "engine",
			Name:      "loop_errors_total",
			Help:      "Per-stock errors recorded during trading loops",
		},
	)

	// PendingAlerts tracks the number of alerts awaiting approval.
	PendingAlerts = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autotrader",
			Subsystem: "engine",
			Name:      "pending_alerts",
			Help:      "Alerts currently awaiting approval",
		},
	)
)

// Handler returns the HTTP handler serving the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
