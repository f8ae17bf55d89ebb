// Package livefeed keeps a live mid-price cache fed by the exchange's allMids websocket channel.
package livefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/qzbxw/velox-sub000/internal/convert"
	"github.com/qzbxw/velox-sub000/internal/pricing"
)

// Options tune the feed connection.
type Options struct {
	URL string
	// StaleAfter hides prices when no update arrived for this long.
	StaleAfter     time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PingInterval   time.Duration
	ConnectTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.URL == "" {
		o.URL = "wss://api.hyperliquid.xyz/ws"
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 2 * time.Minute
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 2 * time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = time.Minute
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
}

// Hooks observe connection events; any field may be nil.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func(error)
	OnUpdate     func(n int)
}

// Feed is a reconnecting allMids subscriber and the price cache it fills.
type Feed struct {
	opts   Options
	hooks  Hooks
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	prices    map[string]float64
	updatedAt time.Time

	connected atomic.Bool
}

// New constructs a Feed. Call Run to start streaming.
func New(opts Options, hooks Hooks, logger zerolog.Logger) *Feed {
	opts.applyDefaults()
	return &Feed{
		opts:   opts,
		hooks:  hooks,
		logger: logger.With().Str("component", "livefeed").Logger(),
		now:    time.Now,
		prices: make(map[string]float64),
	}
}

// Get returns the streamed price for symbol, then for externalID. Stale caches miss.
func (f *Feed) Get(symbol, externalID string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.updatedAt.IsZero() || f.now().Sub(f.updatedAt) > f.opts.StaleAfter {
		return 0, false
	}
	for _, key := range []string{symbol, strings.ToUpper(symbol), externalID} {
		if key == "" {
			continue
		}
		if px, ok := f.prices[key]; ok && px > 0 {
			return px, true
		}
	}
	return 0, false
}

// Connected reports whether a websocket session is currently open.
func (f *Feed) Connected() bool {
	return f.connected.Load()
}

// Size reports how many symbols are cached.
func (f *Feed) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.prices)
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	backoff := f.opts.InitialBackoff
	for {
		started := f.now()
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if f.hooks.OnDisconnect != nil {
			f.hooks.OnDisconnect(err)
		}
		if f.now().Sub(started) > f.opts.MaxBackoff {
			backoff = f.opts.InitialBackoff
		}
		f.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("live feed disconnected")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		backoff = min(backoff*2, f.opts.MaxBackoff)
	}
}

var subscribeAllMids = map[string]any{
	"method":       "subscribe",
	"subscription": map[string]string{"type": "allMids"},
}

func (f *Feed) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, f.opts.ConnectTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.opts.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.opts.URL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeAllMids); err != nil {
		return fmt.Errorf("subscribe allMids: %w", err)
	}

	f.connected.Store(true)
	defer f.connected.Store(false)
	if f.hooks.OnConnect != nil {
		f.hooks.OnConnect()
	}
	f.logger.Info().Str("url", f.opts.URL).Msg("live feed connected")

	readTimeout := f.opts.PingInterval * 2
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(f.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := f.handleMessage(msg); err != nil {
			f.logger.Debug().Err(err).Msg("ignored live feed message")
		}
	}
}

var errNotMids = errors.New("not an allMids update")

// handleMessage merges an allMids update into the cache and returns the entry count.
func (f *Feed) handleMessage(msg []byte) (int, error) {
	if !gjson.ValidBytes(msg) {
		return 0, fmt.Errorf("invalid json")
	}
	doc := gjson.ParseBytes(msg)
	if doc.Get("channel").String() != "allMids" {
		return 0, errNotMids
	}
	mids := doc.Get("data.mids")
	if !mids.IsObject() {
		return 0, errNotMids
	}

	update := make(map[string]float64)
	mids.ForEach(func(key, value gjson.Result) bool {
		if px := convert.ParseFloat(value.String()); px > 0 {
			update[key.String()] = px
		}
		return true
	})

	f.mu.Lock()
	for k, v := range update {
		f.prices[k] = v
	}
	f.updatedAt = f.now()
	f.mu.Unlock()

	if f.hooks.OnUpdate != nil {
		f.hooks.OnUpdate(len(update))
	}
	return len(update), nil
}

var _ pricing.LiveCache = (*Feed)(nil)
