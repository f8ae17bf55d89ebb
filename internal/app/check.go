package app

import (
	"context"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"github.com/qzbxw/velox-sub000/internal/config"
	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/report"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
)

// Check runs a single pass for a group or an ad-hoc wallet list and prints the report.
// Nothing is persisted and no alerts are sent.
func (a *App) Check(ctx context.Context, opts CheckOptions) error {
	wallets, title, err := a.resolveWallets(opts)
	if err != nil {
		return err
	}

	info := a.newInfo()
	snap := a.newBuilder(info).Build(ctx, wallets, nil, nil)
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.printSnapshot(snap, title, opts.JSON)
}

func (a *App) resolveWallets(opts CheckOptions) ([]string, string, error) {
	if len(opts.Wallets) > 0 {
		wallets, err := config.NormalizeWallets(opts.Wallets)
		if err != nil {
			return nil, "", err
		}
		if len(wallets) == 0 {
			return nil, "", errors.New("no wallets given")
		}
		return wallets, "ad-hoc", nil
	}

	name := opts.Group
	if name == "" {
		if len(a.Config.Groups) != 1 {
			return nil, "", errors.New("--group is required when several groups are configured")
		}
		name = a.Config.Groups[0].Name
	}
	g, ok := a.Config.Group(name)
	if !ok {
		return nil, "", fmt.Errorf("unknown group %q", name)
	}
	return g.Wallets, g.Name, nil
}

// printSnapshot writes the text report, or the annotated snapshot as JSON. Annotation
// runs against an empty state, so 1h changes are unknown.
func (a *App) printSnapshot(snap snapshot.Snapshot, title string, asJSON bool) error {
	out := monitor.Apply(snap, monitor.NewState(), monitor.Options{Now: snap.Timestamp})
	if asJSON {
		annotated := snap
		annotated.Coins = out.Coins
		raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(annotated, "", "  ")
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		_, err = fmt.Fprintln(a.Out, string(raw))
		return err
	}

	text := report.Snapshot(snap, out.Coins, report.Options{Title: title, MaxCoins: a.Config.Monitor.MaxReportCoins})
	_, err := fmt.Fprint(a.Out, text)
	return err
}
