package fetcher

import (
	"context"
	"time"
)

// SpotBalance is a single spot token balance as reported by the exchange.
// Numeric fields are kept verbatim; consumers coerce malformed values to zero.
type SpotBalance struct {
	Coin     string
	Token    int
	Total    string
	Hold     string
	EntryPx  string
	EntryNtl string
}

// MarginSummary carries the cross-margin account totals.
type MarginSummary struct {
	AccountValue    string
	TotalMarginUsed string
}

// AssetPosition is one perpetual position. Size is signed; negative means short.
type AssetPosition struct {
	Coin          string
	Size          string
	EntryPx       string
	Leverage      float64
	LiquidationPx string
	UnrealizedPnL string
}

// PerpState is the perpetual clearinghouse state of one wallet.
type PerpState struct {
	MarginSummary         MarginSummary
	MaintenanceMarginUsed string
	Withdrawable          string
	AssetPositions        []AssetPosition
}

// FundingEvent is one hourly funding payment.
type FundingEvent struct {
	Time        time.Time
	Coin        string
	FundingRate string
	Amount      string
}

// MarketAsset is one entry of the perpetual universe.
type MarketAsset struct {
	Name string
}

// AssetContext holds live market fields, index-aligned with the universe.
type AssetContext struct {
	MarkPx       string
	MidPx        string
	Funding      string
	OpenInterest string
}

// MarketContext pairs the perpetual universe with its asset contexts.
type MarketContext struct {
	Universe      []MarketAsset
	AssetContexts []AssetContext
}

// SpotToken is a spot token definition.
type SpotToken struct {
	Name  string
	Index int
}

// SpotPair is a spot market; Tokens holds [base, quote] token indexes.
type SpotPair struct {
	Name   string
	Index  int
	Tokens [2]int
}

// SpotMeta lists spot tokens and markets.
type SpotMeta struct {
	Tokens   []SpotToken
	Universe []SpotPair
}

// SpotFetcher retrieves spot balances for a wallet.
type SpotFetcher interface {
	FetchSpotBalances(ctx context.Context, wallet string) ([]SpotBalance, error)
}

// PerpFetcher retrieves the perpetual account state for a wallet.
type PerpFetcher interface {
	FetchPerpState(ctx context.Context, wallet string) (PerpState, error)
}

// FundingFetcher retrieves funding payments received or paid since a point in time.
type FundingFetcher interface {
	FetchFundingHistory(ctx context.Context, wallet string, since time.Time) ([]FundingEvent, error)
}

// WalletFetcher bundles the three per-wallet sources.
type WalletFetcher interface {
	SpotFetcher
	PerpFetcher
	FundingFetcher
}

// MarketContextFetcher retrieves the perpetual universe and asset contexts.
type MarketContextFetcher interface {
	FetchMarketContext(ctx context.Context) (*MarketContext, error)
}

// AllMidsFetcher retrieves mid prices for every listed market.
type AllMidsFetcher interface {
	FetchAllMids(ctx context.Context) (map[string]float64, error)
}

// SpotMetaFetcher retrieves spot token and market metadata.
type SpotMetaFetcher interface {
	FetchSpotMeta(ctx context.Context) (SpotMeta, error)
}

// SymbolResolver maps exchange coin identifiers to display symbols. The external id,
// when known, is the key the exchange uses for that asset's market (e.g. "@107").
type SymbolResolver interface {
	ResolveSymbolName(ctx context.Context, coinID string, isSpot bool) (symbol, externalID string)
}
