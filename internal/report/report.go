// Package report renders snapshots and alerts as plain text for chat and terminal output.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

// Options tune the snapshot report.
type Options struct {
	// Title is printed on the first line; empty means "Portfolio".
	Title string
	// MaxCoins limits the coin section; zero shows every active coin.
	MaxCoins int
}

// Snapshot renders a portfolio report. coins may be the monitor-annotated copy of
// snap.Coins; nil falls back to snap.Coins.
func Snapshot(snap snapshot.Snapshot, coins []snapshot.CoinBucket, opts Options) string {
	if coins == nil {
		coins = snap.Coins
	}
	title := opts.Title
	if title == "" {
		title = "Portfolio"
	}
	t := snap.Totals

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s UTC, %d wallet(s)\n", title, snap.Timestamp.UTC().Format(time.RFC3339), snap.WalletCount)
	fmt.Fprintf(&b, "Value: %s (spot %s, perps %s)\n", USD(t.PortfolioValue), USD(t.SpotValue), USD(t.PerpAccountValue))
	fmt.Fprintf(&b, "uPnL: spot %s, short %s\n", SignedUSD(t.SpotUPnL), SignedUSD(t.ShortUPnL))
	fmt.Fprintf(&b, "Delta: %s (%s of %s hedged)\n", SignedUSD(t.DeltaUSD), Pct(t.DeltaPct), USD(t.HedgeBaseUSD))
	fmt.Fprintf(&b, "Margin: health %s, used %s, level %s\n", Pct(t.MarginHealthPct), Pct(t.MarginUtilizationPct), t.MarginLevel)
	fmt.Fprintf(&b, "Funding: 24h %s, 7d %s, 30d %s, all %s\n", SignedUSD(t.Funding24h), SignedUSD(t.Funding7d), SignedUSD(t.Funding30d), SignedUSD(t.FundingAll))
	if t.BestPayer != nil {
		fmt.Fprintf(&b, "Best payer: %s %s/h (%s APR)\n", t.BestPayer.Symbol, Rate(t.BestPayer.Rate), Pct(t.BestPayer.Rate*24*365*100))
	}

	if len(coins) > 0 {
		b.WriteString("\n")
	}
	shown := coins
	if opts.MaxCoins > 0 && len(shown) > opts.MaxCoins {
		shown = shown[:opts.MaxCoins]
	}
	for _, c := range shown {
		b.WriteString(coinLine(c))
		b.WriteString("\n")
	}
	if hidden := len(coins) - len(shown); hidden > 0 {
		fmt.Fprintf(&b, "... %d more\n", hidden)
	}

	if len(snap.Degraded) > 0 {
		fmt.Fprintf(&b, "\nDegraded data (%d source(s) failed):\n", len(snap.Degraded))
		for _, d := range snap.Degraded {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return b.String()
}

func coinLine(c snapshot.CoinBucket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s @ %s: spot %s, perp %s, delta %s (%s)",
		c.Symbol, Price(c.Price), Qty(c.SpotQty), Qty(c.PerpQty), Qty(c.DeltaQty), Pct(c.DeltaPct))
	if c.HasShort() {
		fmt.Fprintf(&b, ", funding %s/h, 7d APR %s", Rate(c.FundingCurrent), Pct(c.FundingAPR7d))
	}
	if c.PriceChange1h != nil {
		fmt.Fprintf(&b, ", 1h %s", SignedPct(*c.PriceChange1h))
	}
	if c.NegFundingHours > 0 {
		fmt.Fprintf(&b, ", negative for %sh", decimal.NewFromFloat(c.NegFundingHours).StringFixed(1))
	}
	return b.String()
}

// Alert renders one alert as a single line.
func Alert(a monitor.Alert) string {
	switch a.Kind {
	case monitor.KindDeltaCritical:
		return fmt.Sprintf("CRITICAL delta drift on %s: %s (>= %s), %s unhedged", a.Symbol, Pct(a.Value), Pct(a.Threshold), SignedUSD(a.Aux))
	case monitor.KindDeltaWarning:
		return fmt.Sprintf("Delta drift on %s: %s (>= %s), %s unhedged", a.Symbol, Pct(a.Value), Pct(a.Threshold), SignedUSD(a.Aux))
	case monitor.KindMarginLow:
		return fmt.Sprintf("Margin health low: %s (< %s), utilization %s", Pct(a.Value), Pct(a.Threshold), Pct(a.Aux))
	case monitor.KindFundingNegative:
		return fmt.Sprintf("Negative funding on %s short: %s/h", a.Symbol, Rate(a.Value))
	case monitor.KindFundingNegativeStreak:
		return fmt.Sprintf("%s funding negative for %sh straight (now %s/h)", a.Symbol, decimal.NewFromFloat(a.Value).StringFixed(1), Rate(a.Aux))
	case monitor.KindFundingExtreme:
		return fmt.Sprintf("Extreme funding on %s: %s/h (|rate| >= %s)", a.Symbol, Rate(a.Value), Rate(a.Threshold))
	case monitor.KindPriceMove1h:
		return fmt.Sprintf("%s moved %s in 1h, now %s", a.Symbol, SignedPct(a.Value), Price(a.Aux))
	case monitor.KindOIDrop1h:
		return fmt.Sprintf("%s open interest %s in 1h, now %s", a.Symbol, SignedPct(a.Value), USD(a.Aux))
	default:
		if a.Symbol != "" {
			return fmt.Sprintf("%s %s: %v", a.Kind, a.Symbol, a.Value)
		}
		return fmt.Sprintf("%s: %v", a.Kind, a.Value)
	}
}

// Alerts renders a batch for one group; empty when there is nothing to send.
func Alerts(group string, ts time.Time, alerts []monitor.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	var b strings.Builder
	if group != "" {
		fmt.Fprintf(&b, "[velox %s] ", group)
	} else {
		b.WriteString("[velox] ")
	}
	fmt.Fprintf(&b, "%d alert(s) at %s UTC\n", len(alerts), ts.UTC().Format(time.RFC3339))
	for _, a := range alerts {
		b.WriteString("- ")
		b.WriteString(Alert(a))
		b.WriteString("\n")
	}
	return b.String()
}

// USD formats a dollar amount with two decimals.
func USD(v float64) string {
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsNegative() {
		return "-$" + d.Neg().StringFixed(2)
	}
	return "$" + d.StringFixed(2)
}

// SignedUSD is USD with an explicit plus sign for positive amounts.
func SignedUSD(v float64) string {
	if decimal.NewFromFloat(v).Round(2).IsPositive() {
		return "+" + USD(v)
	}
	return USD(v)
}

// Pct formats a percentage with two decimals.
func Pct(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2) + "%"
}

// SignedPct is Pct with an explicit plus sign for positive values.
func SignedPct(v float64) string {
	if decimal.NewFromFloat(v).Round(2).IsPositive() {
		return "+" + Pct(v)
	}
	return Pct(v)
}

// Rate formats an hourly funding rate as a percentage with four decimals.
func Rate(v float64) string {
	return decimal.NewFromFloat(v).Mul(decimal.NewFromInt(100)).StringFixed(4) + "%"
}

// Price picks a precision suited to the magnitude.
func Price(v float64) string {
	d := decimal.NewFromFloat(v)
	switch abs := d.Abs(); {
	case abs.IsZero():
		return "n/a"
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1000)):
		return d.StringFixed(2)
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return d.StringFixed(4)
	default:
		return d.StringFixed(6)
	}
}

// Qty trims trailing zeros after rounding to six decimals.
func Qty(v float64) string {
	return decimal.NewFromFloat(v).Round(6).String()
}
