// Package pricing resolves a current price per symbol through an ordered fallback chain.
package pricing

import (
	"context"
)

// LiveCache is a read-only view of streamed prices.
type LiveCache interface {
	Get(symbol, externalID string) (float64, bool)
}

// MidFetcher performs a REST mid-price lookup.
type MidFetcher interface {
	FetchMid(ctx context.Context, symbol, externalID string) (float64, bool)
}

// Source identifies which step of the chain produced a price.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceMark  Source = "mark"
	SourceMid   Source = "mid"
	SourceNone  Source = "none"
)

// Resolver memoises resolved prices for the lifetime of one snapshot pass.
// It must not be shared between passes or goroutines.
type Resolver struct {
	live  LiveCache
	marks map[string]float64
	mids  MidFetcher
	cache map[string]float64
	hits  map[Source]int
}

// NewResolver builds a per-pass resolver. Any collaborator may be nil.
func NewResolver(live LiveCache, marks map[string]float64, mids MidFetcher) *Resolver {
	return &Resolver{
		live:  live,
		marks: marks,
		mids:  mids,
		cache: make(map[string]float64),
		hits:  make(map[Source]int),
	}
}

// Resolve returns the first positive price from: pass cache, live feed, market mark, REST mid.
// Zero means unresolved; unresolved lookups are not cached so a later caller may succeed
// through a different raw symbol or external id.
func (r *Resolver) Resolve(ctx context.Context, rawSymbol, normalized, externalID string) float64 {
	px, src := r.lookup(ctx, rawSymbol, normalized, externalID)
	r.hits[src]++
	if px > 0 && src != SourceCache && normalized != "" {
		r.cache[normalized] = px
	}
	return px
}

// Hits reports how many lookups each source answered.
func (r *Resolver) Hits() map[Source]int {
	out := make(map[Source]int, len(r.hits))
	for k, v := range r.hits {
		out[k] = v
	}
	return out
}

func (r *Resolver) lookup(ctx context.Context, rawSymbol, normalized, externalID string) (float64, Source) {
	if px, ok := r.cache[normalized]; ok && px > 0 {
		return px, SourceCache
	}

	if r.live != nil {
		if px, ok := r.live.Get(rawSymbol, externalID); ok && px > 0 {
			return px, SourceLive
		}
		if px, ok := r.live.Get(normalized, ""); ok && px > 0 {
			return px, SourceLive
		}
	}

	if px := r.marks[normalized]; px > 0 {
		return px, SourceMark
	}

	if r.mids != nil {
		if px, ok := r.mids.FetchMid(ctx, rawSymbol, externalID); ok && px > 0 {
			return px, SourceMid
		}
		if px, ok := r.mids.FetchMid(ctx, normalized, ""); ok && px > 0 {
			return px, SourceMid
		}
	}
	return 0, SourceNone
}
