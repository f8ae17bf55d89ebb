package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	infoPath         = "/info"
	fundingPageLimit = 500
	maxFundingPages  = 20
)

// InfoOptions parameterise the exchange info client.
type InfoOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// Info queries the exchange info endpoint for balances, positions, funding and market data.
type Info struct {
	opts    InfoOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewInfo constructs an info client.
func NewInfo(opts InfoOptions, logger zerolog.Logger) *Info {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}

	return &Info{
		opts:    opts,
		logger:  logger.With().Str("component", "info_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSpotBalances returns the spot balances of wallet.
func (i *Info) FetchSpotBalances(ctx context.Context, wallet string) ([]SpotBalance, error) {
	res, err := i.post(ctx, infoRequest{Type: "spotClearinghouseState", User: wallet})
	if err != nil {
		return nil, fmt.Errorf("spot state %s: %w", wallet, err)
	}

	balances := res.Get("balances")
	if !balances.IsArray() {
		return nil, errors.New("spot state: balances missing")
	}

	out := make([]SpotBalance, 0, len(balances.Array()))
	balances.ForEach(func(_, b gjson.Result) bool {
		out = append(out, SpotBalance{
			Coin:     b.Get("coin").String(),
			Token:    int(b.Get("token").Int()),
			Total:    b.Get("total").String(),
			Hold:     b.Get("hold").String(),
			EntryPx:  b.Get("entryPx").String(),
			EntryNtl: b.Get("entryNtl").String(),
		})
		return true
	})
	return out, nil
}

// FetchPerpState returns the perpetual clearinghouse state of wallet.
func (i *Info) FetchPerpState(ctx context.Context, wallet string) (PerpState, error) {
	res, err := i.post(ctx, infoRequest{Type: "clearinghouseState", User: wallet})
	if err != nil {
		return PerpState{}, fmt.Errorf("perp state %s: %w", wallet, err)
	}
	if !res.IsObject() {
		return PerpState{}, errors.New("perp state: unexpected payload")
	}

	summary := res.Get("marginSummary")
	if !summary.Exists() {
		summary = res.Get("crossMarginSummary")
	}

	state := PerpState{
		MarginSummary: MarginSummary{
			AccountValue:    summary.Get("accountValue").String(),
			TotalMarginUsed: summary.Get("totalMarginUsed").String(),
		},
		MaintenanceMarginUsed: firstString(res, "crossMaintenanceMarginUsed", "maintenanceMarginUsed"),
		Withdrawable:          res.Get("withdrawable").String(),
	}

	res.Get("assetPositions").ForEach(func(_, ap gjson.Result) bool {
		pos := ap.Get("position")
		if !pos.Exists() {
			pos = ap
		}
		lev := pos.Get("leverage")
		leverage := lev.Get("value").Float()
		if lev.Type == gjson.Number {
			leverage = lev.Float()
		}
		state.AssetPositions = append(state.AssetPositions, AssetPosition{
			Coin:          pos.Get("coin").String(),
			Size:          firstString(pos, "szi", "signedSize"),
			EntryPx:       pos.Get("entryPx").String(),
			Leverage:      leverage,
			LiquidationPx: pos.Get("liquidationPx").String(),
			UnrealizedPnL: pos.Get("unrealizedPnl").String(),
		})
		return true
	})
	return state, nil
}

// FetchFundingHistory returns funding payments since the given time, following pagination.
func (i *Info) FetchFundingHistory(ctx context.Context, wallet string, since time.Time) ([]FundingEvent, error) {
	start := since.UnixMilli()
	out := make([]FundingEvent, 0)

	for page := 0; page < maxFundingPages; page++ {
		res, err := i.post(ctx, infoRequest{Type: "userFunding", User: wallet, StartTime: start})
		if err != nil {
			return nil, fmt.Errorf("funding history %s: %w", wallet, err)
		}
		if !res.IsArray() {
			return nil, errors.New("funding history: unexpected payload")
		}

		rows := res.Array()
		var last int64
		for _, row := range rows {
			ts := row.Get("time").Int()
			if ts > last {
				last = ts
			}
			delta := row.Get("delta")
			out = append(out, FundingEvent{
				Time:        time.UnixMilli(ts).UTC(),
				Coin:        delta.Get("coin").String(),
				FundingRate: delta.Get("fundingRate").String(),
				Amount:      delta.Get("usdc").String(),
			})
		}

		if len(rows) < fundingPageLimit || last < start {
			break
		}
		start = last + 1
	}
	return out, nil
}

// FetchMarketContext returns the perpetual universe with asset contexts.
func (i *Info) FetchMarketContext(ctx context.Context) (*MarketContext, error) {
	res, err := i.post(ctx, infoRequest{Type: "metaAndAssetCtxs"})
	if err != nil {
		return nil, fmt.Errorf("market context: %w", err)
	}
	return ParseMarketContext(res)
}

// FetchAllMids returns mid prices keyed by coin or spot pair id.
func (i *Info) FetchAllMids(ctx context.Context) (map[string]float64, error) {
	res, err := i.post(ctx, infoRequest{Type: "allMids"})
	if err != nil {
		return nil, fmt.Errorf("all mids: %w", err)
	}
	if !res.IsObject() {
		return nil, errors.New("all mids: unexpected payload")
	}
	return parseMids(res), nil
}

// FetchSpotMeta returns spot token and market metadata.
func (i *Info) FetchSpotMeta(ctx context.Context) (SpotMeta, error) {
	res, err := i.post(ctx, infoRequest{Type: "spotMeta"})
	if err != nil {
		return SpotMeta{}, fmt.Errorf("spot meta: %w", err)
	}

	var meta SpotMeta
	res.Get("tokens").ForEach(func(_, t gjson.Result) bool {
		meta.Tokens = append(meta.Tokens, SpotToken{Name: t.Get("name").String(), Index: int(t.Get("index").Int())})
		return true
	})
	res.Get("universe").ForEach(func(_, u gjson.Result) bool {
		tokens := u.Get("tokens").Array()
		pair := SpotPair{Name: u.Get("name").String(), Index: int(u.Get("index").Int())}
		if len(tokens) == 2 {
			pair.Tokens = [2]int{int(tokens[0].Int()), int(tokens[1].Int())}
		}
		meta.Universe = append(meta.Universe, pair)
		return true
	})
	return meta, nil
}

type infoRequest struct {
	Type      string `json:"type"`
	User      string `json:"user,omitempty"`
	StartTime int64  `json:"startTime,omitempty"`
}

func (i *Info) post(ctx context.Context, payload infoRequest) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+infoPath, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(i.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, parseHTTPError(resp.StatusCode, raw)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("info %s: invalid json", payload.Type)
	}

	i.logger.Debug().Str("type", payload.Type).Int("bytes", len(raw)).Msg("info response")
	return gjson.ParseBytes(raw), nil
}

func parseMids(res gjson.Result) map[string]float64 {
	mids := make(map[string]float64)
	res.ForEach(func(key, value gjson.Result) bool {
		if px := value.Float(); px > 0 {
			mids[key.String()] = px
		}
		return true
	})
	return mids
}

func firstString(res gjson.Result, paths ...string) string {
	return firstResult(res, paths...).String()
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error != "" {
			return fmt.Errorf("info api error (%d): %s", status, apiErr.Error)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("info api error (%d): %s", status, apiErr.Message)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("info api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("info api error (%d)", status)
}

var (
	_ WalletFetcher        = (*Info)(nil)
	_ MarketContextFetcher = (*Info)(nil)
	_ AllMidsFetcher       = (*Info)(nil)
	_ SpotMetaFetcher      = (*Info)(nil)
)
