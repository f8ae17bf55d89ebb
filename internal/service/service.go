package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/alerting"
	"github.com/qzbxw/velox-sub000/internal/fetcher"
	"github.com/qzbxw/velox-sub000/internal/metrics"
	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/pricing"
	"github.com/qzbxw/velox-sub000/internal/scheduler"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
	"github.com/qzbxw/velox-sub000/internal/storage"
)

// SnapshotBuilder assembles one snapshot for a wallet list.
type SnapshotBuilder interface {
	Build(ctx context.Context, wallets []string, live pricing.LiveCache, market *fetcher.MarketContext) snapshot.Snapshot
}

var _ SnapshotBuilder = (*snapshot.Builder)(nil)

// Group is one monitored wallet set.
type Group struct {
	Name     string
	Wallets  []string
	ChatID   string
	Channels []string
}

// Options tune the service.
type Options struct {
	Groups         []Group
	EmitAlerts     bool
	PrimeFirstPass bool
	AlertsEnabled  bool
	Channels       []string
	LockKey        int64

	SnapshotRetention time.Duration
	AlertRetention    time.Duration
}

// Deps are the collaborators of a Service. Only Builder is required.
type Deps struct {
	Builder   SnapshotBuilder
	Market    fetcher.MarketContextFetcher
	Live      pricing.LiveCache
	States    storage.StateStore
	Snapshots storage.SnapshotStore
	Alerts    storage.AlertStore
	Locker    storage.AdvisoryLocker
	Notifier  alerting.Notifier
}

// Result summarises one group pass.
type Result struct {
	Group     string
	PassID    uuid.UUID
	Snapshot  snapshot.Snapshot
	Alerts    []monitor.Alert
	Primed    bool
	Delivered bool
}

type latest struct {
	snap   snapshot.Snapshot
	alerts []monitor.Alert
}

// Service orchestrates building, state advancement, persistence and alerting.
type Service struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger

	mu     sync.RWMutex
	primed map[string]bool
	latest map[string]latest
}

// New constructs the monitoring service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.States == nil {
		deps.States = storage.NewMemoryStore()
	}
	return &Service{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "service").Logger(),
		primed: make(map[string]bool),
		latest: make(map[string]latest),
	}
}

// Run begins the scheduled polling loop.
func (s *Service) Run(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, s.ProcessTick)
}

// ProcessTick 执行单次轮询：获取一次行情上下文，然后依次处理每个监控组。
func (s *Service) ProcessTick(ctx context.Context, tick scheduler.Tick) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", tick.Bucket).Msg("skip tick because advisory lock held elsewhere")
		for _, g := range s.opts.Groups {
			metrics.ObserveFailure(g.Name, "skipped")
		}
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var market *fetcher.MarketContext
	if s.deps.Market != nil {
		market, err = s.deps.Market.FetchMarketContext(ctx)
		if err != nil {
			// Each group's build retries the fetch and records the failure as degraded.
			s.logger.Warn().Err(err).Msg("shared market context fetch failed")
			market = nil
		}
	}

	var errs []error
	for _, g := range s.opts.Groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RunGroup(ctx, g, market, tick.Elapsed); err != nil {
			metrics.ObserveFailure(g.Name, "error")
			errs = append(errs, fmt.Errorf("group %s: %w", g.Name, err))
		}
	}

	s.applyRetention(ctx)
	return errors.Join(errs...)
}

// RunGroup runs one monitoring pass for g. elapsed is the time since the previous pass.
func (s *Service) RunGroup(ctx context.Context, g Group, market *fetcher.MarketContext, elapsed time.Duration) (Result, error) {
	started := time.Now()
	passID := uuid.New()
	logger := s.logger.With().Str("group", g.Name).Str("pass_id", passID.String()).Logger()

	prev, err := s.deps.States.LoadState(ctx, g.Name)
	if err != nil && !errors.Is(err, storage.ErrStateNotFound) {
		return Result{}, fmt.Errorf("load state: %w", err)
	}

	snap := s.deps.Builder.Build(ctx, g.Wallets, s.deps.Live, market)
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}
	for _, d := range snap.Degraded {
		logger.Warn().Str("source", d).Msg("snapshot degraded")
	}

	primed := s.opts.PrimeFirstPass && s.markPrimed(g.Name)
	out := monitor.Apply(snap, prev, monitor.Options{
		Now:           snap.Timestamp,
		IntervalHours: elapsed.Hours(),
		EmitAlerts:    s.opts.EmitAlerts && !primed,
	})

	if err := s.deps.States.SaveState(ctx, g.Name, out.State); err != nil {
		return Result{}, fmt.Errorf("save state: %w", err)
	}

	annotated := snap
	annotated.Coins = out.Coins
	s.mu.Lock()
	s.latest[g.Name] = latest{snap: annotated, alerts: out.Alerts}
	s.mu.Unlock()

	if s.deps.Snapshots != nil {
		if _, err := s.deps.Snapshots.InsertSnapshot(ctx, storage.NewSnapshotRecord(g.Name, passID, snap, out.Coins)); err != nil {
			logger.Error().Err(err).Msg("failed to persist snapshot")
		}
	}

	res := Result{Group: g.Name, PassID: passID, Snapshot: annotated, Alerts: out.Alerts, Primed: primed}
	if len(out.Alerts) > 0 {
		res.Delivered = s.deliver(ctx, logger, g, passID, snap.Timestamp, out.Alerts)
	}

	elapsedPass := time.Since(started)
	metrics.ObservePass(g.Name, snap, out.Alerts, elapsedPass)
	logger.Info().
		Int("wallets", snap.WalletCount).
		Int("coins", len(snap.Coins)).
		Int("alerts", len(out.Alerts)).
		Bool("primed", primed).
		Float64("delta_pct", snap.Totals.DeltaPct).
		Float64("margin_health_pct", snap.Totals.MarginHealthPct).
		Dur("duration", elapsedPass).
		Msg("pass complete")
	return res, nil
}

func (s *Service) deliver(ctx context.Context, logger zerolog.Logger, g Group, passID uuid.UUID, ts time.Time, alerts []monitor.Alert) bool {
	channels := g.Channels
	if len(channels) == 0 {
		channels = s.opts.Channels
	}

	delivered := false
	if s.opts.AlertsEnabled && s.deps.Notifier != nil {
		note := alerting.Notification{
			Group:     g.Name,
			Timestamp: ts,
			Alerts:    alerts,
			ChatID:    g.ChatID,
			Channels:  channels,
		}
		if err := s.deps.Notifier.Notify(ctx, note); err != nil {
			logger.Error().Err(err).Msg("failed to dispatch alerts")
		} else {
			delivered = true
		}
	} else {
		for _, a := range alerts {
			logger.Info().Str("kind", string(a.Kind)).Str("symbol", a.Symbol).Float64("value", a.Value).Msg("alert (delivery disabled)")
		}
	}

	if s.deps.Alerts != nil {
		for _, a := range alerts {
			if _, err := s.deps.Alerts.InsertAlert(ctx, storage.NewAlertRecord(g.Name, passID, a, channels, delivered)); err != nil {
				logger.Error().Err(err).Str("kind", string(a.Kind)).Msg("failed to persist alert record")
			}
		}
	}
	return delivered
}

// markPrimed reports whether this is the group's first pass since start.
func (s *Service) markPrimed(group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primed[group] {
		return false
	}
	s.primed[group] = true
	return true
}

// Latest returns the last completed pass of group, with annotated coins.
func (s *Service) Latest(group string) (snapshot.Snapshot, []monitor.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.latest[group]
	return l.snap, l.alerts, ok
}

// GroupNames lists the configured groups.
func (s *Service) GroupNames() []string {
	names := make([]string, 0, len(s.opts.Groups))
	for _, g := range s.opts.Groups {
		names = append(names, g.Name)
	}
	return names
}

func (s *Service) applyRetention(ctx context.Context) {
	now := time.Now().UTC()
	if s.deps.Snapshots != nil && s.opts.SnapshotRetention > 0 {
		n, err := s.deps.Snapshots.DeleteSnapshotsBefore(ctx, now.Add(-s.opts.SnapshotRetention))
		if err != nil {
			s.logger.Error().Err(err).Msg("snapshot retention failed")
		} else if n > 0 {
			s.logger.Debug().Int64("deleted", n).Msg("pruned old snapshots")
		}
	}
	if s.deps.Alerts != nil && s.opts.AlertRetention > 0 {
		n, err := s.deps.Alerts.DeleteAlertsBefore(ctx, now.Add(-s.opts.AlertRetention))
		if err != nil {
			s.logger.Error().Err(err).Msg("alert retention failed")
		} else if n > 0 {
			s.logger.Debug().Int64("deleted", n).Msg("pruned old alerts")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
