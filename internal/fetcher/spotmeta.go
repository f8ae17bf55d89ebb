package fetcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/symbol"
)

// usdcToken is the spot quote token index; pairs against it define a token's market id.
const usdcToken = 0

// SpotSymbolsOptions tune the spot symbol resolver.
type SpotSymbolsOptions struct {
	Refresh time.Duration
	Aliases map[string]string
}

// SpotSymbols resolves spot token names and pair ids ("@107") to display symbols.
// The metadata map is reloaded at most once per Refresh interval; a failed reload
// keeps serving the previous map.
type SpotSymbols struct {
	source  SpotMetaFetcher
	refresh time.Duration
	aliases map[string]string
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	pairBase    map[string]string
	pairByToken map[string]string
	loadedAt    time.Time
}

// NewSpotSymbols constructs a resolver backed by source.
func NewSpotSymbols(source SpotMetaFetcher, opts SpotSymbolsOptions, logger zerolog.Logger) *SpotSymbols {
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = time.Hour
	}
	aliases := make(map[string]string, len(opts.Aliases))
	for k, v := range opts.Aliases {
		aliases[strings.ToUpper(strings.TrimSpace(k))] = strings.ToUpper(strings.TrimSpace(v))
	}
	return &SpotSymbols{
		source:  source,
		refresh: refresh,
		aliases: aliases,
		logger:  logger.With().Str("component", "spot_symbols").Logger(),
		now:     time.Now,
	}
}

// ResolveSymbolName maps coinID to a symbol plus the market id used for price lookups.
// Perpetual coins pass through unchanged. An unknown pair id resolves to "".
func (s *SpotSymbols) ResolveSymbolName(ctx context.Context, coinID string, isSpot bool) (string, string) {
	coinID = strings.TrimSpace(coinID)
	if !isSpot || coinID == "" {
		return coinID, ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoaded(ctx)

	name, ext := coinID, ""
	if symbol.IsPairID(coinID) {
		base, ok := s.pairBase[coinID]
		if !ok {
			return "", ""
		}
		name, ext = base, coinID
	} else {
		ext = s.pairByToken[strings.ToUpper(coinID)]
	}

	if alias, ok := s.aliases[strings.ToUpper(name)]; ok {
		name = alias
	}
	return name, ext
}

// Invalidate forces a reload on the next lookup.
func (s *SpotSymbols) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func (s *SpotSymbols) ensureLoaded(ctx context.Context) {
	if s.source == nil {
		return
	}
	if !s.loadedAt.IsZero() && s.now().Sub(s.loadedAt) < s.refresh {
		return
	}

	meta, err := s.source.FetchSpotMeta(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("spot meta refresh failed; keeping previous map")
		// retry after a full interval
		s.loadedAt = s.now()
		return
	}

	names := make(map[int]string, len(meta.Tokens))
	for _, t := range meta.Tokens {
		names[t.Index] = strings.ToUpper(t.Name)
	}

	pairBase := make(map[string]string, len(meta.Universe))
	pairByToken := make(map[string]string, len(meta.Universe))
	for _, p := range meta.Universe {
		base, ok := names[p.Tokens[0]]
		if !ok || base == "" {
			continue
		}
		pairBase[p.Name] = base
		if p.Tokens[1] == usdcToken {
			if _, exists := pairByToken[base]; !exists {
				pairByToken[base] = p.Name
			}
		}
	}

	s.pairBase = pairBase
	s.pairByToken = pairByToken
	s.loadedAt = s.now()
	s.logger.Debug().Int("pairs", len(pairBase)).Msg("spot meta loaded")
}

var _ SymbolResolver = (*SpotSymbols)(nil)
