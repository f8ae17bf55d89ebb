package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/qzbxw/velox-sub000/internal/alerting"
	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

// SimulateAlert 构造一个会触发告警的合成快照，经过状态机后投递到告警通道。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	kinds := make([]monitor.Kind, 0, len(opts.Kinds))
	for _, k := range opts.Kinds {
		kind := monitor.Kind(k)
		if !kind.Valid() {
			return fmt.Errorf("unknown alert kind %q", k)
		}
		kinds = append(kinds, kind)
	}

	note := alerting.Notification{Group: "simulated", Channels: a.Config.Alerting.Channels}
	if opts.Group != "" {
		g, ok := a.Config.Group(opts.Group)
		if !ok {
			return fmt.Errorf("unknown group %q", opts.Group)
		}
		note.Group = g.Name
		note.ChatID = g.TelegramChatID
		if len(g.Channels) > 0 {
			note.Channels = g.Channels
		}
	}

	now := time.Now().UTC()
	note.Timestamp = now
	note.Alerts = simulatedAlerts(now, kinds)
	note.AdditionalMsg = "\n(simulated)"

	if opts.DryRun {
		_, err := fmt.Fprint(a.Out, alerting.RenderMessage(note))
		return err
	}
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	return a.newNotifier().Notify(ctx, note)
}

// simulatedAlerts runs a drifted, negatively funded hedge through the state machine.
// Every kind fires except delta_warning, which replaces delta_critical when requested alone.
func simulatedAlerts(now time.Time, kinds []monitor.Kind) []monitor.Alert {
	deltaPct := 15.0
	if slices.Contains(kinds, monitor.KindDeltaWarning) && !slices.Contains(kinds, monitor.KindDeltaCritical) {
		deltaPct = 7
	}

	coin := snapshot.CoinBucket{
		Symbol:          "ETH",
		Price:           2300,
		SpotQty:         1 + deltaPct/100,
		PerpQty:         -1,
		ShortQty:        1,
		HedgeBaseQty:    1,
		DeltaQty:        deltaPct / 100,
		DeltaUSD:        2300 * deltaPct / 100,
		DeltaPct:        deltaPct,
		FundingCurrent:  -0.0012,
		OpenInterestUSD: 800_000,
	}
	snap := snapshot.Snapshot{
		Timestamp:   now,
		WalletCount: 1,
		Coins:       []snapshot.CoinBucket{coin},
		Totals: snapshot.Totals{
			MarginHealthPct:      20,
			MarginUtilizationPct: 80,
			MarginLevel:          snapshot.MarginRed,
		},
	}

	prev := monitor.NewState()
	prev.History["ETH"] = []monitor.HistoryPoint{{TS: now.Unix() - 3600, Price: 2000, OIUSD: 1_000_000}}
	prev.NegHours["ETH"] = monitor.FundingStreakHours

	out := monitor.Apply(snap, prev, monitor.Options{Now: now, EmitAlerts: true})
	if len(kinds) == 0 {
		return out.Alerts
	}
	filtered := out.Alerts[:0]
	for _, al := range out.Alerts {
		if slices.Contains(kinds, al.Kind) {
			filtered = append(filtered, al)
		}
	}
	return filtered
}
