// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors are registered on the default registry and served by the HTTP
// server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "ticks_received_total",
		Help:      "Price ticks received, by feed source.",
	}, []string{"source"})

	ScanCycles = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "scan_cycles_total",
		Help:      "Completed decision cycles.",
	})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "updownbot",
		Name:      "cycle_duration_seconds",
		Help:      "Wall time of one decision cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	Opportunities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "opportunities_total",
		Help:      "Scored opportunities, by recommended action.",
	}, []string{"action"})

	IntentsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "intents_emitted_total",
		Help:      "Order intents emitted, by reason.",
	}, []string{"reason"})

	IntentsSuppressed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "intents_suppressed_total",
		Help:      "Order intents suppressed before emission, by cause.",
	}, []string{"cause"})

	Fills = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "fills_total",
		Help:      "Execution results, by status.",
	}, []string{"status"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "updownbot",
		Name:      "open_positions",
		Help:      "Non-terminal positions currently tracked.",
	})

	TotalExposure = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "updownbot",
		Name:      "total_exposure_usd",
		Help:      "Committed plus reserved capital.",
	})

	LockedProfit = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "locked_profit_usd_total",
		Help:      "Realized profit recognized at close or settlement.",
	})

	FeedReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "updownbot",
		Name:      "feed_reconnects_total",
		Help:      "Feed websocket reconnects, by source.",
	}, []string{"source"})
)
