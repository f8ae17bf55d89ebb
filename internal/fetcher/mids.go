package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MidPrices serves REST mid prices from an allMids map refreshed at most once per TTL.
type MidPrices struct {
	source AllMidsFetcher
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	mids      map[string]float64
	fetchedAt time.Time
}

// NewMidPrices constructs a mid price cache over source.
func NewMidPrices(source AllMidsFetcher, ttl time.Duration, logger zerolog.Logger) *MidPrices {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &MidPrices{
		source: source,
		ttl:    ttl,
		logger: logger.With().Str("component", "mid_prices").Logger(),
		now:    time.Now,
	}
}

// FetchMid looks up symbol, then externalID. It reports false when neither has a positive mid.
func (m *MidPrices) FetchMid(ctx context.Context, symbol, externalID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source != nil && (m.mids == nil || m.now().Sub(m.fetchedAt) >= m.ttl) {
		mids, err := m.source.FetchAllMids(ctx)
		if err != nil {
			m.logger.Warn().Err(err).Msg("all mids refresh failed")
			// keep the stale map but wait a full TTL before retrying
			m.fetchedAt = m.now()
		} else {
			m.mids = mids
			m.fetchedAt = m.now()
		}
	}

	for _, key := range []string{symbol, strings.ToUpper(strings.TrimSpace(symbol)), externalID} {
		if key == "" {
			continue
		}
		if px, ok := m.mids[key]; ok && px > 0 {
			return px, true
		}
	}
	return 0, false
}
