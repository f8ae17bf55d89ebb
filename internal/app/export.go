package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/qzbxw/velox-sub000/internal/storage"
)

// Export renders stored snapshot totals as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Group == "" {
		if len(a.Config.Groups) == 0 {
			return errors.New("--group is required")
		}
		opts.Group = a.Config.Groups[0].Name
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	st, err := a.openStores(ctx, false)
	if err != nil {
		return err
	}
	defer st.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	records, err := st.snapshots.ListSnapshotsBetween(ctx, opts.Group, from, to, 0)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		a.Logger.Info().Str("group", opts.Group).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsample(records, opts.MaxPoints)
	a.Logger.Info().Int("total", len(records)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeSnapshotsCSV(w, downsampled) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return renderSnapshotsPNG(w, opts.Group, downsampled) }); err != nil {
			return err
		}
	}

	return nil
}

func downsample(records []storage.SnapshotRecord, max int) []storage.SnapshotRecord {
	if max <= 0 || len(records) <= max {
		return records
	}
	if max == 1 {
		return records[len(records)-1:]
	}

	result := make([]storage.SnapshotRecord, 0, max)
	step := float64(len(records)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(records) {
			idx = len(records) - 1
		}
		result = append(result, records[idx])
	}
	return result
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

func writeSnapshotsCSV(w io.Writer, records []storage.SnapshotRecord) error {
	writer := csv.NewWriter(w)

	header := []string{"taken_at", "pass_id", "wallets", "portfolio_value", "spot_value", "delta_usd", "delta_pct", "margin_health_pct", "margin_level", "funding_24h", "funding_all", "coins", "degraded"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range records {
		record := []string{
			r.TakenAt.UTC().Format(time.RFC3339),
			r.PassID.String(),
			fmt.Sprint(r.WalletCount),
			r.PortfolioValue.String(),
			r.SpotValue.String(),
			r.DeltaUSD.String(),
			r.DeltaPct.String(),
			r.MarginHealthPct.String(),
			r.MarginLevel,
			r.Funding24h.String(),
			r.FundingAll.String(),
			fmt.Sprint(len(r.Coins)),
			fmt.Sprint(len(r.Degraded)),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func renderSnapshotsPNG(w io.Writer, group string, records []storage.SnapshotRecord) error {
	x := make([]time.Time, len(records))
	deltaPct := make([]float64, len(records))
	health := make([]float64, len(records))
	funding := make([]float64, len(records))

	for i, r := range records {
		x[i] = r.TakenAt
		deltaPct[i] = r.DeltaPct.InexactFloat64()
		health[i] = r.MarginHealthPct.InexactFloat64()
		funding[i] = r.Funding24h.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Title:  "velox " + group,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Percent",
			ValueFormatter: pctFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Funding 24h (USD)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Delta %",
				XValues: x,
				YValues: deltaPct,
			},
			chart.TimeSeries{
				Name:    "Margin health %",
				XValues: x,
				YValues: health,
			},
			chart.TimeSeries{
				Name:    "Funding 24h",
				XValues: x,
				YValues: funding,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
