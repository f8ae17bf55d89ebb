package snapshot

import "time"

// Margin level tiers derived from margin health.
const (
	MarginGreen  = "green"
	MarginYellow = "yellow"
	MarginRed    = "red"
)

// CoinBucket aggregates every wallet's exposure to one normalized symbol.
type CoinBucket struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`

	SpotQty   float64 `json:"spot_qty"`
	SpotValue float64 `json:"spot_value"`
	SpotUPnL  float64 `json:"spot_upnl"`

	PerpQty  float64 `json:"perp_qty"`
	PerpUPnL float64 `json:"perp_upnl"`

	ShortQty      float64 `json:"short_qty"`
	ShortNotional float64 `json:"short_notional"`
	ShortUPnL     float64 `json:"short_upnl"`

	DeltaQty     float64 `json:"delta_qty"`
	DeltaUSD     float64 `json:"delta_usd"`
	HedgeBaseQty float64 `json:"hedge_base_qty"`
	DeltaPct     float64 `json:"delta_pct"`

	FundingCurrent   float64 `json:"funding_current"`
	FundingAvg24h    float64 `json:"funding_avg_24h"`
	FundingAvg7d     float64 `json:"funding_avg_7d"`
	FundingAvg30d    float64 `json:"funding_avg_30d"`
	FundingAPR24h    float64 `json:"funding_apr_24h"`
	FundingAPR7d     float64 `json:"funding_apr_7d"`
	FundingAPR30d    float64 `json:"funding_apr_30d"`
	FundingEarned24h float64 `json:"funding_earned_24h"`
	FundingEarned7d  float64 `json:"funding_earned_7d"`
	FundingEarned30d float64 `json:"funding_earned_30d"`
	FundingEarnedAll float64 `json:"funding_earned_all"`

	OpenInterestUSD float64 `json:"open_interest_usd"`

	// PriceChange1h and OIChange1h are nil when no reference point exists.
	PriceChange1h   *float64 `json:"price_change_1h,omitempty"`
	OIChange1h      *float64 `json:"oi_change_1h,omitempty"`
	NegFundingHours float64  `json:"neg_funding_hours"`

	funding []fundingPoint
}

// HasShort reports whether the bucket holds short perpetual exposure.
func (c CoinBucket) HasShort() bool {
	return c.ShortQty > 0
}

// Active reports whether the bucket carries spot or perp quantity.
func (c CoinBucket) Active() bool {
	return c.SpotQty > 0 || c.PerpQty != 0
}

// HedgeBaseUSD is the hedged notional at the current price.
func (c CoinBucket) HedgeBaseUSD() float64 {
	return c.HedgeBaseQty * c.Price
}

type fundingPoint struct {
	ts     time.Time
	rate   float64
	amount float64
}

// BestPayer is the short-held symbol with the highest current funding rate.
type BestPayer struct {
	Symbol string  `json:"symbol"`
	Rate   float64 `json:"rate"`
}

// Totals are portfolio-level aggregates over the active buckets.
type Totals struct {
	SpotValue      float64 `json:"spot_value"`
	SpotUPnL       float64 `json:"spot_upnl"`
	ShortUPnL      float64 `json:"short_upnl"`
	PortfolioValue float64 `json:"portfolio_value"`

	DeltaUSD     float64 `json:"delta_usd"`
	HedgeBaseUSD float64 `json:"hedge_base_usd"`
	DeltaPct     float64 `json:"delta_pct"`

	MarginHealthPct      float64 `json:"margin_health_pct"`
	MarginUtilizationPct float64 `json:"margin_utilization_pct"`
	MarginLevel          string  `json:"margin_level"`

	PerpAccountValue      float64 `json:"perp_account_value"`
	PerpMarginUsed        float64 `json:"perp_margin_used"`
	PerpMaintenanceMargin float64 `json:"perp_maintenance_margin"`
	PerpWithdrawable      float64 `json:"perp_withdrawable"`

	Funding24h float64 `json:"funding_24h"`
	Funding7d  float64 `json:"funding_7d"`
	Funding30d float64 `json:"funding_30d"`
	FundingAll float64 `json:"funding_all"`

	BestPayer *BestPayer `json:"best_payer,omitempty"`
}

// Snapshot is the result of one build pass. Treat it as immutable.
type Snapshot struct {
	Timestamp   time.Time    `json:"timestamp"`
	WalletCount int          `json:"wallet_count"`
	Coins       []CoinBucket `json:"coins"`
	Totals      Totals       `json:"totals"`
	// Degraded lists sources that failed during the pass and contributed nothing.
	Degraded []string `json:"degraded,omitempty"`
}

// Coin returns the active bucket for symbol.
func (s Snapshot) Coin(symbol string) (CoinBucket, bool) {
	for _, c := range s.Coins {
		if c.Symbol == symbol {
			return c, true
		}
	}
	return CoinBucket{}, false
}

// MarginLevel classifies margin health into a tier.
func MarginLevel(healthPct float64) string {
	switch {
	case healthPct > 50:
		return MarginGreen
	case healthPct >= 30:
		return MarginYellow
	default:
		return MarginRed
	}
}
