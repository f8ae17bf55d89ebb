// Package collector fetches per-wallet spot, perp and funding data concurrently.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qzbxw/velox-sub000/internal/fetcher"
)

// Source names one of the three per-wallet fetches.
type Source string

const (
	SourceSpot    Source = "spot"
	SourcePerp    Source = "perp"
	SourceFunding Source = "funding"
)

// SourceError records a failed fetch. The wallet's contribution from that source is empty.
type SourceError struct {
	Wallet string
	Source Source
	Err    error
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Wallet, e.Source, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// WalletData is everything fetched for one wallet; failed sources are left at zero value.
type WalletData struct {
	Wallet  string
	Spot    []fetcher.SpotBalance
	Perp    fetcher.PerpState
	Funding []fetcher.FundingEvent
	Errors  []SourceError
}

// Options tune collection.
type Options struct {
	// FundingLookback bounds the funding history request; defaults to 30 days.
	FundingLookback time.Duration
	// MaxConcurrency caps wallets fetched at once; zero means unbounded.
	MaxConcurrency int
	Now            func() time.Time
}

// Collector fans out wallet fetches.
type Collector struct {
	source fetcher.WalletFetcher
	opts   Options
	logger zerolog.Logger
}

// New constructs a Collector.
func New(source fetcher.WalletFetcher, opts Options, logger zerolog.Logger) *Collector {
	if opts.FundingLookback <= 0 {
		opts.FundingLookback = 30 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{source: source, opts: opts, logger: logger.With().Str("component", "collector").Logger()}
}

// Collect fetches all wallets concurrently and returns results in wallet order.
// A failure in one wallet or source never cancels its siblings.
func (c *Collector) Collect(ctx context.Context, wallets []string) []WalletData {
	results := make([]WalletData, len(wallets))
	since := c.opts.Now().Add(-c.opts.FundingLookback)

	var group errgroup.Group
	if c.opts.MaxConcurrency > 0 {
		group.SetLimit(c.opts.MaxConcurrency)
	}
	for idx, wallet := range wallets {
		idx, wallet := idx, wallet
		group.Go(func() error {
			results[idx] = c.collectWallet(ctx, wallet, since)
			return nil
		})
	}
	_ = group.Wait()

	for _, res := range results {
		for _, e := range res.Errors {
			c.logger.Warn().Err(e.Err).Str("wallet", e.Wallet).Str("source", string(e.Source)).Msg("wallet fetch degraded")
		}
	}
	return results
}

func (c *Collector) collectWallet(ctx context.Context, wallet string, since time.Time) WalletData {
	data := WalletData{Wallet: wallet}
	var spotErr, perpErr, fundingErr error

	var group errgroup.Group
	group.Go(func() error {
		spotErr = guard(func() (err error) {
			data.Spot, err = c.source.FetchSpotBalances(ctx, wallet)
			return err
		})
		return nil
	})
	group.Go(func() error {
		perpErr = guard(func() (err error) {
			data.Perp, err = c.source.FetchPerpState(ctx, wallet)
			return err
		})
		return nil
	})
	group.Go(func() error {
		fundingErr = guard(func() (err error) {
			data.Funding, err = c.source.FetchFundingHistory(ctx, wallet, since)
			return err
		})
		return nil
	})
	_ = group.Wait()

	if spotErr != nil {
		data.Spot = nil
		data.Errors = append(data.Errors, SourceError{Wallet: wallet, Source: SourceSpot, Err: spotErr})
	}
	if perpErr != nil {
		data.Perp = fetcher.PerpState{}
		data.Errors = append(data.Errors, SourceError{Wallet: wallet, Source: SourcePerp, Err: perpErr})
	}
	if fundingErr != nil {
		data.Funding = nil
		data.Errors = append(data.Errors, SourceError{Wallet: wallet, Source: SourceFunding, Err: fundingErr})
	}
	return data
}

// guard converts a panic inside a fetch into an error so it degrades like any other failure.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
