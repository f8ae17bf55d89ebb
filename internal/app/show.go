package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent stored snapshots, or recent alerts when opts.Alerts is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	st, err := a.openStores(ctx, false)
	if err != nil {
		return err
	}
	defer st.close()

	if opts.Alerts {
		return a.showAlerts(ctx, st, opts)
	}

	group := opts.Group
	if group == "" && len(a.Config.Groups) > 0 {
		group = a.Config.Groups[0].Name
	}
	records, err := st.snapshots.ListRecentSnapshots(ctx, group, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no snapshots found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tWallets\tValue\tDelta$\tDelta%\tMargin%\tLevel\tFunding24h\tDegraded")

	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			r.TakenAt.UTC().Format(time.RFC3339),
			r.WalletCount,
			formatDecimal(r.PortfolioValue, 2),
			formatDecimal(r.DeltaUSD, 2),
			formatDecimal(r.DeltaPct, 2),
			formatDecimal(r.MarginHealthPct, 1),
			r.MarginLevel,
			formatDecimal(r.Funding24h, 2),
			len(r.Degraded),
		)
	}

	return writer.Flush()
}

func (a *App) showAlerts(ctx context.Context, st stores, opts ShowOptions) error {
	records, err := st.alerts.ListRecentAlerts(ctx, opts.Group, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(a.Out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tGroup\tKind\tSymbol\tValue\tThreshold\tDelivered\tChannels")
	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.Group,
			r.Kind,
			orDash(r.Symbol),
			formatDecimal(r.Value, 4),
			formatDecimal(r.Threshold, 4),
			r.Delivered,
			sanitizeInline(strings.Join(r.Channels, ",")),
		)
	}
	return writer.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
