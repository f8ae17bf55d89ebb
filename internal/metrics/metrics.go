// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

const namespace = "velox"

// PassDuration is the wall time of one group pass (build + monitor + persist + notify).
var PassDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "pass_duration_seconds",
		Help:      "Duration of a monitoring pass per group",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
	},
	[]string{"group"},
)

// PassesTotal counts passes by result (ok, error, skipped).
var PassesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "passes_total",
		Help:      "Monitoring passes by result",
	},
	[]string{"group", "result"},
)

// AlertsTotal counts fired alerts by kind.
var AlertsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "monitor",
		Name:      "alerts_total",
		Help:      "Alerts fired by kind",
	},
	[]string{"group", "kind"},
)

// FetchErrors counts degraded wallet sources.
var FetchErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "collector",
		Name:      "fetch_errors_total",
		Help:      "Wallet source fetches that failed and degraded a snapshot",
	},
	[]string{"group"},
)

// DeltaPct is the latest portfolio delta drift per group.
var DeltaPct = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "delta_pct",
		Help:      "Portfolio delta drift in percent",
	},
	[]string{"group"},
)

// MarginHealthPct is the latest margin health per group.
var MarginHealthPct = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "margin_health_pct",
		Help:      "Perps margin health in percent",
	},
	[]string{"group"},
)

// PortfolioValue is the latest portfolio value per group.
var PortfolioValue = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "portfolio",
		Name:      "value_usd",
		Help:      "Spot value plus perps account value in USD",
	},
	[]string{"group"},
)

// CoinDeltaPct is the latest per-coin delta drift.
var CoinDeltaPct = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coin",
		Name:      "delta_pct",
		Help:      "Per-coin delta drift in percent",
	},
	[]string{"group", "symbol"},
)

// CoinFundingRate is the latest hourly funding rate of coins held.
var CoinFundingRate = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "coin",
		Name:      "funding_rate",
		Help:      "Current hourly funding rate",
	},
	[]string{"group", "symbol"},
)

// LiveFeedConnected is 1 while the websocket price feed is connected.
var LiveFeedConnected = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "livefeed",
		Name:      "connected",
		Help:      "Whether the live price feed is connected",
	},
)

// LiveFeedUpdates counts streamed mid updates.
var LiveFeedUpdates = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "livefeed",
		Name:      "updates_total",
		Help:      "allMids messages merged into the live price cache",
	},
)

// ObservePass records the outcome of one group pass.
func ObservePass(group string, snap snapshot.Snapshot, alerts []monitor.Alert, elapsed time.Duration) {
	PassDuration.WithLabelValues(group).Observe(elapsed.Seconds())
	PassesTotal.WithLabelValues(group, "ok").Inc()
	FetchErrors.WithLabelValues(group).Add(float64(len(snap.Degraded)))

	DeltaPct.WithLabelValues(group).Set(snap.Totals.DeltaPct)
	MarginHealthPct.WithLabelValues(group).Set(snap.Totals.MarginHealthPct)
	PortfolioValue.WithLabelValues(group).Set(snap.Totals.PortfolioValue)

	CoinDeltaPct.DeletePartialMatch(prometheus.Labels{"group": group})
	CoinFundingRate.DeletePartialMatch(prometheus.Labels{"group": group})
	for _, c := range snap.Coins {
		CoinDeltaPct.WithLabelValues(group, c.Symbol).Set(c.DeltaPct)
		CoinFundingRate.WithLabelValues(group, c.Symbol).Set(c.FundingCurrent)
	}

	for _, a := range alerts {
		AlertsTotal.WithLabelValues(group, string(a.Kind)).Inc()
	}
}

// ObserveFailure records a pass that did not complete.
func ObserveFailure(group, result string) {
	PassesTotal.WithLabelValues(group, result).Inc()
}
