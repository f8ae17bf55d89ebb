package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/qzbxw/velox-sub000/internal/config"
	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/storage"
)

const wallet = "0xabcdef0123456789abcdef0123456789abcdef01"

var exchangeResponses = map[string]string{
	"spotClearinghouseState": `{"balances":[{"coin":"USDC","token":0,"total":"500"},{"coin":"ETH","token":1,"total":"1.0","hold":"0","entryNtl":"1900"}]}`,
	"clearinghouseState":     `{"marginSummary":{"accountValue":"1000","totalMarginUsed":"200"},"crossMaintenanceMarginUsed":"50","withdrawable":"800","assetPositions":[{"position":{"coin":"ETH","szi":"-1.0","entryPx":"2000","leverage":{"value":3},"unrealizedPnl":"0"}}]}`,
	"userFunding":            `[]`,
	"metaAndAssetCtxs":       `[{"universe":[{"name":"ETH"}]},[{"markPx":"2000","funding":"0.0001","openInterest":"100"}]]`,
	"spotMeta":               `{"tokens":[{"name":"USDC","index":0},{"name":"ETH","index":1}],"universe":[{"name":"@1","index":1,"tokens":[1,0]}]}`,
	"allMids":                `{"ETH":"2000","@1":"2000"}`,
}

func fakeExchange(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		resp, ok := exchangeResponses[gjson.GetBytes(body, "type").String()]
		if !ok {
			http.Error(w, `{"error":"unknown type"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testApp(baseURL string) (*App, *bytes.Buffer) {
	cfg := &config.Config{
		Exchange: config.ExchangeConfig{BaseURL: baseURL, RequestTimeout: 5 * time.Second},
		Monitor:  config.MonitorConfig{MaxReportCoins: 10},
		Groups:   []config.GroupConfig{{Name: "main", Wallets: []string{wallet}}},
		Export:   config.ExportConfig{MaxDataPoints: 100},
		Alerting: config.AlertingConfig{Channels: []string{"log"}},
	}
	a := NewApp(cfg, zerolog.Nop())
	var out bytes.Buffer
	a.Out = &out
	return a, &out
}

func TestCheckPrintsReport(t *testing.T) {
	a, out := testApp(fakeExchange(t).URL)
	require.NoError(t, a.Check(context.Background(), CheckOptions{}))

	text := out.String()
	assert.Contains(t, text, "[main]")
	assert.Contains(t, text, "1 wallet(s)")
	assert.Contains(t, text, "ETH")
	assert.NotContains(t, text, "Degraded")
}

func TestCheckJSONForAdHocWallets(t *testing.T) {
	a, out := testApp(fakeExchange(t).URL)
	require.NoError(t, a.Check(context.Background(), CheckOptions{Wallets: []string{strings.ToUpper(wallet[2:])}, JSON: true}))

	doc := gjson.Parse(out.String())
	assert.Equal(t, int64(1), doc.Get("wallet_count").Int())
	assert.Equal(t, "ETH", doc.Get("coins.0.symbol").String())
	assert.InDelta(t, 0, doc.Get("coins.0.delta_qty").Float(), 1e-9)
}

func TestResolveWallets(t *testing.T) {
	a, _ := testApp("")
	_, _, err := a.resolveWallets(CheckOptions{Group: "nope"})
	assert.Error(t, err)
	_, _, err = a.resolveWallets(CheckOptions{Wallets: []string{"bad"}})
	assert.Error(t, err)

	wallets, title, err := a.resolveWallets(CheckOptions{})
	require.NoError(t, err)
	assert.Equal(t, "main", title)
	assert.Equal(t, []string{wallet}, wallets)
}

func TestSimulatedAlertsCoverTaxonomy(t *testing.T) {
	alerts := simulatedAlerts(time.Now(), nil)
	var kinds []monitor.Kind
	for _, a := range alerts {
		kinds = append(kinds, a.Kind)
	}
	assert.ElementsMatch(t, []monitor.Kind{
		monitor.KindDeltaCritical, monitor.KindFundingNegative, monitor.KindFundingNegativeStreak,
		monitor.KindFundingExtreme, monitor.KindPriceMove1h, monitor.KindOIDrop1h, monitor.KindMarginLow,
	}, kinds)

	warn := simulatedAlerts(time.Now(), []monitor.Kind{monitor.KindDeltaWarning})
	require.Len(t, warn, 1)
	assert.Equal(t, monitor.KindDeltaWarning, warn[0].Kind)
}

func TestSimulateAlertDryRun(t *testing.T) {
	a, out := testApp("")
	require.NoError(t, a.SimulateAlert(context.Background(), SimulateOptions{Group: "main", Kinds: []string{"margin_low"}, DryRun: true}))
	assert.Contains(t, out.String(), "1 alert(s)")
	assert.Contains(t, out.String(), "(simulated)")

	assert.Error(t, a.SimulateAlert(context.Background(), SimulateOptions{Kinds: []string{"bogus"}, DryRun: true}))
	assert.Error(t, a.SimulateAlert(context.Background(), SimulateOptions{}), "alerting disabled")
}

func TestShowAndExportNeedDatabase(t *testing.T) {
	a, _ := testApp("")
	assert.Error(t, a.Show(context.Background(), ShowOptions{Limit: 5}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{CSVPath: "x.csv"}))
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func records(n int) []storage.SnapshotRecord {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]storage.SnapshotRecord, n)
	for i := range out {
		out[i] = storage.SnapshotRecord{
			PassID:          uuid.New(),
			TakenAt:         base.Add(time.Duration(i) * 5 * time.Minute),
			WalletCount:     2,
			DeltaPct:        decimal.NewFromFloat(float64(i)),
			MarginHealthPct: decimal.NewFromFloat(80 - float64(i)),
			Funding24h:      decimal.NewFromFloat(1.5 * float64(i)),
			MarginLevel:     "green",
		}
	}
	return out
}

func TestDownsample(t *testing.T) {
	in := records(10)
	assert.Len(t, downsample(in, 0), 10)
	assert.Len(t, downsample(in, 20), 10)

	out := downsample(in, 4)
	require.Len(t, out, 4)
	assert.Equal(t, in[0].TakenAt, out[0].TakenAt)
	assert.Equal(t, in[9].TakenAt, out[3].TakenAt)

	assert.Equal(t, in[9].TakenAt, downsample(in, 1)[0].TakenAt)
}

func TestWriteSnapshotsCSVAndPNG(t *testing.T) {
	var csvBuf bytes.Buffer
	require.NoError(t, writeSnapshotsCSV(&csvBuf, records(3)))
	lines := strings.Split(strings.TrimSpace(csvBuf.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "taken_at,pass_id,wallets"))
	assert.Contains(t, lines[2], "2024-01-01T00:05:00Z")

	var png bytes.Buffer
	require.NoError(t, renderSnapshotsPNG(&png, "main", records(5)))
	assert.True(t, bytes.HasPrefix(png.Bytes(), []byte("\x89PNG")))
}
