// Package snapshot merges wallet balances, positions and funding into per-asset coin buckets.
package snapshot

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/collector"
	"github.com/qzbxw/velox-sub000/internal/convert"
	"github.com/qzbxw/velox-sub000/internal/fetcher"
	"github.com/qzbxw/velox-sub000/internal/pricing"
	"github.com/qzbxw/velox-sub000/internal/symbol"
)

const hoursPerYear = 24 * 365

var fundingWindows = [3]time.Duration{24 * time.Hour, 7 * 24 * time.Hour, 30 * 24 * time.Hour}

// Deps wires the builder's collaborators. Market, Symbols and Mids may be nil.
type Deps struct {
	Collector *collector.Collector
	Market    fetcher.MarketContextFetcher
	Symbols   fetcher.SymbolResolver
	Mids      pricing.MidFetcher
	Now       func() time.Time
}

// Builder produces snapshots. It holds no per-pass state and is safe for concurrent use.
type Builder struct {
	deps   Deps
	logger zerolog.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(deps Deps, logger zerolog.Logger) *Builder {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Builder{deps: deps, logger: logger.With().Str("component", "snapshot_builder").Logger()}
}

// Build collects all wallets and assembles a snapshot. market may be pre-fetched and
// shared between calls; when nil it is fetched here and a failure leaves it empty.
func (b *Builder) Build(ctx context.Context, wallets []string, live pricing.LiveCache, market *fetcher.MarketContext) Snapshot {
	now := b.deps.Now().UTC()
	var degraded []string

	marketDone := make(chan struct{})
	if market == nil && b.deps.Market != nil {
		go func() {
			defer close(marketDone)
			mc, err := b.deps.Market.FetchMarketContext(ctx)
			if err != nil {
				b.logger.Warn().Err(err).Msg("market context unavailable")
				degraded = append(degraded, "market context: "+err.Error())
				return
			}
			market = mc
		}()
	} else {
		close(marketDone)
	}

	var data []collector.WalletData
	if b.deps.Collector != nil {
		data = b.deps.Collector.Collect(ctx, wallets)
	}
	<-marketDone

	for _, wd := range data {
		for _, e := range wd.Errors {
			degraded = append(degraded, e.Error())
		}
	}

	snap := b.assemble(ctx, now, data, IndexMarket(market), live)
	snap.WalletCount = len(wallets)
	snap.Degraded = degraded
	return snap
}

// MarketInfo is the market-context view of one symbol.
type MarketInfo struct {
	Mark         float64
	Funding      float64
	OpenInterest float64
}

// IndexMarket maps normalized symbols to their asset context, skipping indexes without a
// usable universe entry or without a matching context.
func IndexMarket(mc *fetcher.MarketContext) map[string]MarketInfo {
	out := make(map[string]MarketInfo)
	if mc == nil {
		return out
	}
	for i, asset := range mc.Universe {
		norm := symbol.Normalize(asset.Name)
		if norm == "" || i >= len(mc.AssetContexts) {
			continue
		}
		ac := mc.AssetContexts[i]
		out[norm] = MarketInfo{
			Mark:         convert.ParseFloat(ac.MarkPx),
			Funding:      convert.ParseFloat(ac.Funding),
			OpenInterest: convert.ParseFloat(ac.OpenInterest),
		}
	}
	return out
}

type accounts struct {
	value        float64
	marginUsed   float64
	maintenance  float64
	withdrawable float64
}

// pass holds the mutable state of one assemble call.
type pass struct {
	ctx      context.Context
	now      time.Time
	symbols  fetcher.SymbolResolver
	resolver *pricing.Resolver
	buckets  map[string]*CoinBucket
	order    []*CoinBucket
	accounts accounts
}

func (p *pass) bucket(sym string) *CoinBucket {
	if b, ok := p.buckets[sym]; ok {
		return b
	}
	b := &CoinBucket{Symbol: sym}
	p.buckets[sym] = b
	p.order = append(p.order, b)
	return b
}

func (b *Builder) assemble(ctx context.Context, now time.Time, data []collector.WalletData, market map[string]MarketInfo, live pricing.LiveCache) Snapshot {
	marks := make(map[string]float64, len(market))
	for sym, mi := range market {
		if mi.Mark > 0 {
			marks[sym] = mi.Mark
		}
	}

	p := &pass{
		ctx:      ctx,
		now:      now,
		symbols:  b.deps.Symbols,
		resolver: pricing.NewResolver(live, marks, b.deps.Mids),
		buckets:  make(map[string]*CoinBucket),
	}

	for _, wd := range data {
		p.addSpot(wd.Spot)
		p.addPerp(wd.Perp)
		p.addFunding(wd.Funding)
	}

	for _, bucket := range p.order {
		deriveMetrics(bucket, market[bucket.Symbol], now)
	}

	snap := Snapshot{Timestamp: now}
	for _, bucket := range p.order {
		if bucket.Active() {
			snap.Coins = append(snap.Coins, *bucket)
		}
	}
	snap.Totals = computeTotals(snap.Coins, p.accounts)

	sort.SliceStable(snap.Coins, func(i, j int) bool {
		return displayWeight(snap.Coins[i]) > displayWeight(snap.Coins[j])
	})

	b.logger.Debug().
		Int("buckets", len(p.order)).
		Int("active", len(snap.Coins)).
		Interface("price_sources", p.resolver.Hits()).
		Msg("snapshot assembled")
	return snap
}

func (p *pass) resolveName(coin string, isSpot bool) (string, string) {
	if p.symbols == nil {
		return coin, ""
	}
	return p.symbols.ResolveSymbolName(p.ctx, coin, isSpot)
}

func (p *pass) price(bucket *CoinBucket, raw, externalID string) float64 {
	px := p.resolver.Resolve(p.ctx, raw, bucket.Symbol, externalID)
	if px > 0 {
		bucket.Price = px
	}
	return px
}

func (p *pass) addSpot(balances []fetcher.SpotBalance) {
	for _, bal := range balances {
		qty := convert.ParseFloat(bal.Total)
		if qty <= 0 {
			continue
		}
		name, ext := p.resolveName(bal.Coin, true)
		norm := symbol.Normalize(name)
		if norm == "" || symbol.IsStableCash(norm) {
			continue
		}

		bucket := p.bucket(norm)
		px := p.price(bucket, name, ext)
		entry := spotEntryPrice(bal, qty)

		bucket.SpotQty += qty
		bucket.SpotValue += qty * px
		if entry > 0 && px > 0 {
			bucket.SpotUPnL += (px - entry) * qty
		}
	}
}

// spotEntryPrice is a best-effort average entry: an explicit entry price, else entry
// notional over quantity, else zero.
func spotEntryPrice(bal fetcher.SpotBalance, qty float64) float64 {
	if px := convert.ParseFloat(bal.EntryPx); px > 0 {
		return px
	}
	if ntl := convert.ParseFloat(bal.EntryNtl); ntl > 0 && qty > 0 {
		return ntl / qty
	}
	return 0
}

func (p *pass) addPerp(state fetcher.PerpState) {
	p.accounts.value += convert.ParseFloat(state.MarginSummary.AccountValue)
	p.accounts.marginUsed += convert.ParseFloat(state.MarginSummary.TotalMarginUsed)
	p.accounts.maintenance += convert.ParseFloat(state.MaintenanceMarginUsed)
	p.accounts.withdrawable += convert.ParseFloat(state.Withdrawable)

	for _, pos := range state.AssetPositions {
		size := convert.ParseFloat(pos.Size)
		if size == 0 {
			continue
		}
		name, _ := p.resolveName(pos.Coin, false)
		norm := symbol.Normalize(name)
		if norm == "" {
			continue
		}

		bucket := p.bucket(norm)
		mark := p.price(bucket, name, "")
		entry := convert.ParseFloat(pos.EntryPx)

		upnl := convert.ParseFloat(pos.UnrealizedPnL)
		if mark > 0 && entry > 0 {
			upnl = (mark - entry) * size
		}

		bucket.PerpQty += size
		bucket.PerpUPnL += upnl
		if size < 0 {
			bucket.ShortQty += -size
			bucket.ShortNotional += -size * mark
			bucket.ShortUPnL += upnl
		}
	}
}

func (p *pass) addFunding(events []fetcher.FundingEvent) {
	for _, ev := range events {
		name, _ := p.resolveName(ev.Coin, false)
		norm := symbol.Normalize(name)
		if norm == "" {
			continue
		}
		amount := convert.ParseFloat(ev.Amount)
		bucket := p.bucket(norm)
		bucket.funding = append(bucket.funding, fundingPoint{
			ts:     ev.Time,
			rate:   convert.ParseFloat(ev.FundingRate),
			amount: amount,
		})
		bucket.FundingEarnedAll += amount
	}
}

func deriveMetrics(c *CoinBucket, mi MarketInfo, now time.Time) {
	c.FundingCurrent = mi.Funding
	c.OpenInterestUSD = mi.OpenInterest * c.Price

	var avgs, earned [3]float64
	for i, window := range fundingWindows {
		cutoff := now.Add(-window)
		var sumRate, sumAmount float64
		var n int
		for _, fp := range c.funding {
			if fp.ts.Before(cutoff) {
				continue
			}
			sumRate += fp.rate
			sumAmount += fp.amount
			n++
		}
		if n > 0 {
			avgs[i] = sumRate / float64(n)
		}
		earned[i] = sumAmount
	}
	c.FundingAvg24h, c.FundingAvg7d, c.FundingAvg30d = avgs[0], avgs[1], avgs[2]
	c.FundingAPR24h, c.FundingAPR7d, c.FundingAPR30d = apr(avgs[0]), apr(avgs[1]), apr(avgs[2])
	c.FundingEarned24h, c.FundingEarned7d, c.FundingEarned30d = earned[0], earned[1], earned[2]

	c.DeltaQty = c.SpotQty + c.PerpQty
	c.DeltaUSD = c.DeltaQty * c.Price
	c.HedgeBaseQty = math.Max(math.Abs(c.SpotQty), math.Max(math.Abs(c.ShortQty), math.Abs(c.PerpQty)))
	c.DeltaPct = 0
	if c.HedgeBaseQty > 0 {
		c.DeltaPct = convert.Finite(math.Abs(c.DeltaQty) / c.HedgeBaseQty * 100)
	}
}

func apr(hourlyRate float64) float64 {
	return hourlyRate * hoursPerYear * 100
}

func computeTotals(coins []CoinBucket, acc accounts) Totals {
	t := Totals{
		PerpAccountValue:      acc.value,
		PerpMarginUsed:        acc.marginUsed,
		PerpMaintenanceMargin: acc.maintenance,
		PerpWithdrawable:      acc.withdrawable,
	}

	for _, c := range coins {
		t.SpotValue += c.SpotValue
		t.SpotUPnL += c.SpotUPnL
		t.ShortUPnL += c.ShortUPnL
		t.DeltaUSD += c.DeltaUSD
		t.HedgeBaseUSD += c.HedgeBaseUSD()
		t.Funding24h += c.FundingEarned24h
		t.Funding7d += c.FundingEarned7d
		t.Funding30d += c.FundingEarned30d
		t.FundingAll += c.FundingEarnedAll

		if c.HasShort() && (t.BestPayer == nil || c.FundingCurrent > t.BestPayer.Rate) {
			t.BestPayer = &BestPayer{Symbol: c.Symbol, Rate: c.FundingCurrent}
		}
	}

	t.PortfolioValue = t.SpotValue + acc.value
	if t.HedgeBaseUSD > 0 {
		t.DeltaPct = convert.Finite(math.Abs(t.DeltaUSD) / t.HedgeBaseUSD * 100)
	}
	if acc.value > 0 {
		t.MarginUtilizationPct = convert.Finite(acc.marginUsed / acc.value * 100)
	}
	t.MarginHealthPct = math.Max(0, 100-t.MarginUtilizationPct)
	t.MarginLevel = MarginLevel(t.MarginHealthPct)
	return t
}

func displayWeight(c CoinBucket) float64 {
	return math.Max(math.Abs(c.DeltaUSD), math.Max(c.SpotValue, c.ShortNotional))
}
