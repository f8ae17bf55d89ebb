package pricing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapLive map[string]float64

func (m mapLive) Get(symbol, externalID string) (float64, bool) {
	if px, ok := m[symbol]; ok {
		return px, true
	}
	px, ok := m[externalID]
	return px, ok
}

type countingMids struct {
	prices map[string]float64
	calls  []string
}

func (c *countingMids) FetchMid(_ context.Context, symbol, externalID string) (float64, bool) {
	c.calls = append(c.calls, symbol+"|"+externalID)
	if px, ok := c.prices[symbol]; ok {
		return px, true
	}
	px, ok := c.prices[externalID]
	return px, ok
}

func TestResolveOrder(t *testing.T) {
	ctx := context.Background()
	mids := &countingMids{prices: map[string]float64{"SOL": 150}}
	r := NewResolver(
		mapLive{"@142": 65000, "HYPE": 30},
		map[string]float64{"ETH": 3000, "HYPE": 31},
		mids,
	)

	assert.Equal(t, 65000.0, r.Resolve(ctx, "UBTC", "BTC", "@142"), "live by external id")
	assert.Equal(t, 30.0, r.Resolve(ctx, "hype", "HYPE", ""), "live by normalized beats mark")
	assert.Equal(t, 3000.0, r.Resolve(ctx, "ETH", "ETH", ""), "mark price")
	assert.Equal(t, 150.0, r.Resolve(ctx, "sol", "SOL", ""), "mid by normalized")
	assert.Equal(t, []string{"sol|", "SOL|"}, mids.calls)
}

func TestResolveCachesOnlyPositive(t *testing.T) {
	ctx := context.Background()
	mids := &countingMids{prices: map[string]float64{}}
	r := NewResolver(nil, nil, mids)

	assert.Zero(t, r.Resolve(ctx, "XYZ", "XYZ", ""))
	mids.prices["XYZ"] = 2
	assert.Equal(t, 2.0, r.Resolve(ctx, "XYZ", "XYZ", ""), "zero result must not be cached")

	mids.prices["XYZ"] = 5
	assert.Equal(t, 2.0, r.Resolve(ctx, "XYZ", "XYZ", ""), "positive result is memoised for the pass")
	assert.Equal(t, 1, r.Hits()[SourceCache])
}

func TestResolverIsolatedPerPass(t *testing.T) {
	ctx := context.Background()
	first := NewResolver(nil, map[string]float64{"ETH": 3000}, nil)
	assert.Equal(t, 3000.0, first.Resolve(ctx, "ETH", "ETH", ""))

	second := NewResolver(nil, map[string]float64{"ETH": 3100}, nil)
	assert.Equal(t, 3100.0, second.Resolve(ctx, "ETH", "ETH", ""))
}
