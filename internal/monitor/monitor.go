// Package monitor turns consecutive snapshots into alerts. Apply is a pure function of
// the snapshot, the previous state and the options; persistence belongs to the caller.
package monitor

import (
	"math"
	"time"

	"github.com/qzbxw/velox-sub000/internal/convert"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

// Kind tags an alert.
type Kind string

const (
	KindDeltaCritical         Kind = "delta_critical"
	KindDeltaWarning          Kind = "delta_warning"
	KindMarginLow             Kind = "margin_low"
	KindFundingNegative       Kind = "funding_negative"
	KindFundingNegativeStreak Kind = "funding_negative_streak"
	KindFundingExtreme        Kind = "funding_extreme"
	KindPriceMove1h           Kind = "price_move_1h"
	KindOIDrop1h              Kind = "oi_drop_1h"
)

// Kinds lists the full taxonomy in display order.
var Kinds = []Kind{
	KindDeltaCritical, KindDeltaWarning, KindMarginLow, KindFundingNegative,
	KindFundingNegativeStreak, KindFundingExtreme, KindPriceMove1h, KindOIDrop1h,
}

// Valid reports whether k belongs to the taxonomy.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Rule thresholds.
const (
	DeltaCriticalPct     = 10.0
	DeltaWarningPct      = 5.0
	FundingStreakHours   = 4.0
	FundingExtremeRate   = 0.001
	PriceMovePct         = 10.0
	OIDropPct            = -15.0
	MarginLowHealthPct   = 30.0
	referenceAgeSeconds  = 3600
	defaultIntervalHours = 5.0 / 60.0
)

// Cooldowns per alert kind.
var Cooldowns = map[Kind]time.Duration{
	KindDeltaCritical:         30 * time.Minute,
	KindDeltaWarning:          30 * time.Minute,
	KindFundingNegative:       60 * time.Minute,
	KindFundingNegativeStreak: 4 * time.Hour,
	KindFundingExtreme:        60 * time.Minute,
	KindPriceMove1h:           60 * time.Minute,
	KindOIDrop1h:              60 * time.Minute,
	KindMarginLow:             30 * time.Minute,
}

// Alert is one fired rule. Symbol is empty for portfolio-level alerts.
//
// Aux carries a secondary metric: delta USD for delta alerts, the funding rate for
// streak alerts, the current price or OI for 1h moves, and utilization for margin_low.
type Alert struct {
	Kind      Kind    `json:"kind"`
	Symbol    string  `json:"symbol,omitempty"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	Aux       float64 `json:"aux,omitempty"`
}

// Key is the cooldown key of the alert.
func (a Alert) Key() string {
	return CooldownKey(a.Kind, a.Symbol)
}

// CooldownKey formats "kind:SYMBOL", or just "kind" for portfolio alerts.
func CooldownKey(kind Kind, symbol string) string {
	if symbol == "" {
		return string(kind)
	}
	return string(kind) + ":" + symbol
}

// Options control one Apply call.
type Options struct {
	// Now defaults to time.Now.
	Now time.Time
	// IntervalHours is the time represented by one call, used to grow the negative
	// funding streak. Non-positive values mean the 5 minute schedule.
	IntervalHours float64
	EmitAlerts    bool
}

// Outcome is the result of Apply.
type Outcome struct {
	Alerts []Alert
	State  State
	// Coins are the snapshot's coins annotated with 1h changes and funding streaks.
	Coins []snapshot.CoinBucket
}

// Apply advances the monitoring state by one snapshot. prev is never mutated.
func Apply(snap snapshot.Snapshot, prev State, opts Options) Outcome {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	interval := opts.IntervalHours
	if interval <= 0 {
		interval = defaultIntervalHours
	}

	ev := evaluation{
		state: prev.Clone(),
		now:   now.Unix(),
		emit:  opts.EmitAlerts,
	}

	active := make(map[string]struct{}, len(snap.Coins))
	for _, c := range snap.Coins {
		active[c.Symbol] = struct{}{}
	}
	for sym := range ev.state.History {
		if _, ok := active[sym]; !ok {
			delete(ev.state.History, sym)
		}
	}
	for sym := range ev.state.NegHours {
		if _, ok := active[sym]; !ok {
			delete(ev.state.NegHours, sym)
		}
	}

	coins := make([]snapshot.CoinBucket, len(snap.Coins))
	for i, c := range snap.Coins {
		ev.track(&c, interval)
		if ev.emit {
			ev.coinRules(c)
		}
		coins[i] = c
	}

	if ev.emit && snap.Totals.MarginHealthPct < MarginLowHealthPct {
		ev.fire(Alert{
			Kind:      KindMarginLow,
			Value:     snap.Totals.MarginHealthPct,
			Threshold: MarginLowHealthPct,
			Aux:       snap.Totals.MarginUtilizationPct,
		})
	}

	ev.expireCooldowns()
	ev.state.UpdatedAt = ev.now
	return Outcome{Alerts: ev.alerts, State: ev.state, Coins: coins}
}

type evaluation struct {
	state  State
	now    int64
	emit   bool
	alerts []Alert
}

// track records the coin's history point, annotates its 1h changes and updates the streak.
func (e *evaluation) track(c *snapshot.CoinBucket, interval float64) {
	pts := e.state.History[c.Symbol]
	// An unresolved price is not an observation; the last good point stays the latest.
	if c.Price > 0 {
		point := HistoryPoint{TS: e.now, Price: c.Price, OIUSD: c.OpenInterestUSD}
		if n := len(pts); n > 0 && pts[n-1].TS == e.now {
			pts[n-1] = point
		} else {
			pts = append(pts, point)
		}
	}
	cutoff := e.now - HistoryRetention
	kept := pts[:0]
	for _, p := range pts {
		if p.TS >= cutoff {
			kept = append(kept, p)
		}
	}
	sortPoints(kept)
	if len(kept) > 0 {
		e.state.History[c.Symbol] = kept
	} else {
		delete(e.state.History, c.Symbol)
	}

	c.PriceChange1h, c.OIChange1h = nil, nil
	if ref, ok := referencePoint(kept, e.now-referenceAgeSeconds); ok {
		if c.Price > 0 {
			if pct, ok := convert.PctChange(c.Price, ref.Price); ok {
				c.PriceChange1h = &pct
			}
		}
		if c.OpenInterestUSD > 0 {
			if pct, ok := convert.PctChange(c.OpenInterestUSD, ref.OIUSD); ok {
				c.OIChange1h = &pct
			}
		}
	}

	if c.HasShort() && c.FundingCurrent < 0 {
		e.state.NegHours[c.Symbol] += interval
		c.NegFundingHours = e.state.NegHours[c.Symbol]
	} else {
		delete(e.state.NegHours, c.Symbol)
		c.NegFundingHours = 0
	}
}

// referencePoint returns the latest point at or before cutoff. pts must be sorted.
func referencePoint(pts []HistoryPoint, cutoff int64) (HistoryPoint, bool) {
	for i := len(pts) - 1; i >= 0; i-- {
		if pts[i].TS <= cutoff {
			return pts[i], true
		}
	}
	return HistoryPoint{}, false
}

func (e *evaluation) coinRules(c snapshot.CoinBucket) {
	if c.HedgeBaseQty > 0 {
		switch {
		case c.DeltaPct >= DeltaCriticalPct:
			e.fire(Alert{Kind: KindDeltaCritical, Symbol: c.Symbol, Value: c.DeltaPct, Threshold: DeltaCriticalPct, Aux: c.DeltaUSD})
		case c.DeltaPct >= DeltaWarningPct:
			e.fire(Alert{Kind: KindDeltaWarning, Symbol: c.Symbol, Value: c.DeltaPct, Threshold: DeltaWarningPct, Aux: c.DeltaUSD})
		}
	}

	if c.HasShort() && c.FundingCurrent < 0 {
		e.fire(Alert{Kind: KindFundingNegative, Symbol: c.Symbol, Value: c.FundingCurrent, Threshold: 0})
		if c.NegFundingHours >= FundingStreakHours {
			e.fire(Alert{Kind: KindFundingNegativeStreak, Symbol: c.Symbol, Value: c.NegFundingHours, Threshold: FundingStreakHours, Aux: c.FundingCurrent})
		}
	}

	if math.Abs(c.FundingCurrent) >= FundingExtremeRate {
		e.fire(Alert{Kind: KindFundingExtreme, Symbol: c.Symbol, Value: c.FundingCurrent, Threshold: FundingExtremeRate})
	}

	if c.PriceChange1h != nil && math.Abs(*c.PriceChange1h) >= PriceMovePct {
		e.fire(Alert{Kind: KindPriceMove1h, Symbol: c.Symbol, Value: *c.PriceChange1h, Threshold: PriceMovePct, Aux: c.Price})
	}

	if c.OIChange1h != nil && *c.OIChange1h <= OIDropPct {
		e.fire(Alert{Kind: KindOIDrop1h, Symbol: c.Symbol, Value: *c.OIChange1h, Threshold: OIDropPct, Aux: c.OpenInterestUSD})
	}
}

// expireCooldowns drops keys older than the longest window; they can no longer suppress anything.
func (e *evaluation) expireCooldowns() {
	var longest time.Duration
	for _, w := range Cooldowns {
		longest = max(longest, w)
	}
	for key, last := range e.state.Cooldowns {
		if e.now-last >= int64(longest/time.Second) {
			delete(e.state.Cooldowns, key)
		}
	}
}

// fire appends a unless its cooldown is still running, and starts the cooldown.
func (e *evaluation) fire(a Alert) bool {
	key := a.Key()
	window := int64(Cooldowns[a.Kind] / time.Second)
	if last, ok := e.state.Cooldowns[key]; ok && e.now-last < window {
		return false
	}
	e.state.Cooldowns[key] = e.now
	e.alerts = append(e.alerts, a)
	return true
}
