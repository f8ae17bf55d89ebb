package report

import (
	"strings"
	"testing"
	"time"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

func TestNumberFormats(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{USD(1234.567), "$1234.57"},
		{USD(-5), "-$5.00"},
		{SignedUSD(3000), "+$3000.00"},
		{SignedUSD(-3000), "-$3000.00"},
		{SignedUSD(0.001), "$0.00"},
		{Pct(12.345), "12.35%"},
		{SignedPct(10), "+10.00%"},
		{SignedPct(-15.5), "-15.50%"},
		{Rate(-0.0015), "-0.1500%"},
		{Price(65000.123), "65000.12"},
		{Price(31.2), "31.2000"},
		{Price(0.0123456), "0.012346"},
		{Price(0), "n/a"},
		{Qty(10), "10"},
		{Qty(-0.0100000001), "-0.01"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("got %q, want %q", tc.got, tc.want)
		}
	}
}

func TestSnapshotReport(t *testing.T) {
	change := 12.5
	snap := snapshot.Snapshot{
		Timestamp:   time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		WalletCount: 2,
		Coins: []snapshot.CoinBucket{
			{Symbol: "ETH", Price: 3000, SpotQty: 10, PerpQty: -10, ShortQty: 10, FundingCurrent: -0.0001, NegFundingHours: 4.5, PriceChange1h: &change},
			{Symbol: "SOL", Price: 150, SpotQty: 2},
		},
		Totals: snapshot.Totals{
			PortfolioValue: 40300, SpotValue: 30300, PerpAccountValue: 10000,
			MarginHealthPct: 90, MarginUtilizationPct: 10, MarginLevel: snapshot.MarginGreen,
			BestPayer: &snapshot.BestPayer{Symbol: "ETH", Rate: -0.0001},
		},
		Degraded: []string{"0xabc spot: timeout"},
	}

	out := Snapshot(snap, nil, Options{Title: "main", MaxCoins: 1})
	for _, want := range []string{
		"[main] 2024-05-01T12:00:00Z UTC, 2 wallet(s)",
		"Value: $40300.00",
		"level green",
		"Best payer: ETH -0.0100%/h",
		"ETH @ 3000.00: spot 10, perp -10, delta 0 (0.00%), funding -0.0100%/h",
		"1h +12.50%",
		"negative for 4.5h",
		"... 1 more",
		"- 0xabc spot: timeout",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "SOL @") {
		t.Fatal("MaxCoins should hide SOL")
	}
}

func TestAlertsBatch(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if Alerts("main", ts, nil) != "" {
		t.Fatal("empty batch renders nothing")
	}

	out := Alerts("main", ts, []monitor.Alert{
		{Kind: monitor.KindDeltaCritical, Symbol: "ETH", Value: 100, Threshold: 10, Aux: 30000},
		{Kind: monitor.KindMarginLow, Value: 25, Threshold: 30, Aux: 75},
		{Kind: monitor.KindFundingNegativeStreak, Symbol: "ETH", Value: 4, Threshold: 4, Aux: -0.0015},
	})
	for _, want := range []string{
		"[velox main] 3 alert(s) at 2024-05-01T12:00:00Z UTC",
		"CRITICAL delta drift on ETH: 100.00% (>= 10.00%), +$30000.00 unhedged",
		"Margin health low: 25.00% (< 30.00%), utilization 75.00%",
		"ETH funding negative for 4.0h straight (now -0.1500%/h)",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("batch missing %q:\n%s", want, out)
		}
	}
}

func TestAlertCoversTaxonomy(t *testing.T) {
	for _, k := range monitor.Kinds {
		line := Alert(monitor.Alert{Kind: k, Symbol: "BTC", Value: 1})
		if line == "" || strings.HasPrefix(line, string(k)) {
			t.Fatalf("kind %s has no dedicated message: %q", k, line)
		}
	}
}
