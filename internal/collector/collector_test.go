package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qzbxw/velox-sub000/internal/fetcher"
)

type fakeSource struct {
	inflight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeSource) enter() func() {
	n := f.inflight.Add(1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { f.inflight.Add(-1) }
}

func (f *fakeSource) FetchSpotBalances(_ context.Context, wallet string) ([]fetcher.SpotBalance, error) {
	defer f.enter()()
	if wallet == "bad-spot" {
		return []fetcher.SpotBalance{{Coin: "ETH", Total: "1"}}, errors.New("spot down")
	}
	return []fetcher.SpotBalance{{Coin: "ETH", Total: "1"}}, nil
}

func (f *fakeSource) FetchPerpState(_ context.Context, wallet string) (fetcher.PerpState, error) {
	defer f.enter()()
	if wallet == "panic-perp" {
		panic("malformed payload")
	}
	return fetcher.PerpState{Withdrawable: "10"}, nil
}

func (f *fakeSource) FetchFundingHistory(_ context.Context, wallet string, since time.Time) ([]fetcher.FundingEvent, error) {
	defer f.enter()()
	return []fetcher.FundingEvent{{Coin: "ETH", Time: since.Add(time.Hour)}}, nil
}

func TestCollectIsolatesFailures(t *testing.T) {
	src := &fakeSource{}
	c := New(src, Options{}, zerolog.Nop())

	res := c.Collect(context.Background(), []string{"ok", "bad-spot", "panic-perp"})
	require.Len(t, res, 3)

	assert.Equal(t, "ok", res[0].Wallet)
	assert.Empty(t, res[0].Errors)
	assert.Len(t, res[0].Spot, 1)

	require.Len(t, res[1].Errors, 1)
	assert.Equal(t, SourceSpot, res[1].Errors[0].Source)
	assert.Nil(t, res[1].Spot, "failed source must contribute nothing")
	assert.Equal(t, "10", res[1].Perp.Withdrawable, "sibling sources survive")

	require.Len(t, res[2].Errors, 1)
	assert.Equal(t, SourcePerp, res[2].Errors[0].Source)
	assert.Contains(t, res[2].Errors[0].Error(), "panic")
	assert.Len(t, res[2].Spot, 1)
	assert.Len(t, res[2].Funding, 1)
}

func TestCollectRespectsConcurrencyLimit(t *testing.T) {
	src := &fakeSource{}
	c := New(src, Options{MaxConcurrency: 1}, zerolog.Nop())

	c.Collect(context.Background(), []string{"a", "b", "c", "d"})
	assert.LessOrEqual(t, src.peak.Load(), int32(3), "one wallet at a time, three sources each")
}
