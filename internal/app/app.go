package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/qzbxw/velox-sub000/internal/alerting"
	"github.com/qzbxw/velox-sub000/internal/collector"
	"github.com/qzbxw/velox-sub000/internal/config"
	"github.com/qzbxw/velox-sub000/internal/fetcher"
	"github.com/qzbxw/velox-sub000/internal/httpapi"
	"github.com/qzbxw/velox-sub000/internal/livefeed"
	"github.com/qzbxw/velox-sub000/internal/metrics"
	"github.com/qzbxw/velox-sub000/internal/pricing"
	"github.com/qzbxw/velox-sub000/internal/scheduler"
	"github.com/qzbxw/velox-sub000/internal/service"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
	"github.com/qzbxw/velox-sub000/internal/storage"
	"github.com/qzbxw/velox-sub000/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output; defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// stores groups the persistence interfaces; locker is nil for in-memory runs.
type stores struct {
	states    storage.StateStore
	snapshots storage.SnapshotStore
	alerts    storage.AlertStore
	locker    storage.AdvisoryLocker
	pg        *storage.Store
}

func (s stores) close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

// openStores connects to PostgreSQL, or falls back to memory when allowMemory is set.
func (a *App) openStores(ctx context.Context, allowMemory bool) (stores, error) {
	if a.Config.Database.DSN == "" {
		if !allowMemory {
			return stores{}, errors.New("database not configured (database.dsn)")
		}
		a.Logger.Warn().Msg("database.dsn not configured; state and history kept in memory")
		mem := storage.NewMemoryStore()
		return stores{states: mem, snapshots: mem, alerts: mem}, nil
	}

	pg, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return stores{}, err
	}
	return stores{states: pg, snapshots: pg, alerts: pg, locker: pg, pg: pg}, nil
}

func (a *App) newInfo() *fetcher.Info {
	ua := a.Config.Exchange.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewInfo(fetcher.InfoOptions{
		BaseURL:   a.Config.Exchange.BaseURL,
		Timeout:   a.Config.Exchange.RequestTimeout,
		UserAgent: ua,
	}, a.Logger)
}

func (a *App) newBuilder(info *fetcher.Info) *snapshot.Builder {
	ex := a.Config.Exchange
	coll := collector.New(info, collector.Options{
		FundingLookback: ex.FundingLookback,
		MaxConcurrency:  ex.MaxConcurrency,
	}, a.Logger)
	symbols := fetcher.NewSpotSymbols(info, fetcher.SpotSymbolsOptions{
		Refresh: ex.SpotMetaRefresh,
		Aliases: ex.SpotAliases,
	}, a.Logger)
	return snapshot.NewBuilder(snapshot.Deps{
		Collector: coll,
		Market:    info,
		Symbols:   symbols,
		Mids:      fetcher.NewMidPrices(info, ex.MidsTTL, a.Logger),
	}, a.Logger)
}

// newLiveFeed returns the feed and the cache view handed to builders. The cache is a
// nil interface when streaming is disabled.
func (a *App) newLiveFeed() (*livefeed.Feed, pricing.LiveCache) {
	cfg := a.Config.LiveFeed
	if !cfg.Enabled {
		return nil, nil
	}
	feed := livefeed.New(livefeed.Options{
		URL:            cfg.URL,
		StaleAfter:     cfg.StaleAfter,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		PingInterval:   cfg.PingInterval,
	}, livefeed.Hooks{
		OnConnect:    func() { metrics.LiveFeedConnected.Set(1) },
		OnDisconnect: func(error) { metrics.LiveFeedConnected.Set(0) },
		OnUpdate:     func(int) { metrics.LiveFeedUpdates.Inc() },
	}, a.Logger)
	return feed, feed
}

// newNotifier builds the channel router; "log" is always available.
func (a *App) newNotifier() alerting.Notifier {
	channels := map[string]alerting.Notifier{
		"log": alerting.NewLogNotifier(a.Logger),
	}
	if tg := a.Config.Alerting.Telegram; tg.Enabled {
		channels["telegram"] = alerting.NewTelegramNotifier(tg.BotToken, tg.ChatID, tg.APIBase, tg.Timeout, a.Logger)
	}
	return alerting.NewRouter(channels, a.Config.Alerting.Channels, a.Logger)
}

func (a *App) groups() []service.Group {
	out := make([]service.Group, 0, len(a.Config.Groups))
	for _, g := range a.Config.Groups {
		out = append(out, service.Group{Name: g.Name, Wallets: g.Wallets, ChatID: g.TelegramChatID, Channels: g.Channels})
	}
	return out
}

func (a *App) serviceOptions() service.Options {
	return service.Options{
		Groups:            a.groups(),
		EmitAlerts:        a.Config.Monitor.EmitAlerts,
		PrimeFirstPass:    a.Config.Monitor.PrimeFirstPass,
		AlertsEnabled:     a.Config.Alerting.Enabled,
		Channels:          a.Config.Alerting.Channels,
		LockKey:           a.Config.Scheduler.AdvisoryLockKey,
		SnapshotRetention: a.Config.Retention.Snapshots,
		AlertRetention:    a.Config.Retention.Alerts,
	}
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	if len(a.Config.Groups) == 0 {
		return errors.New("no monitor groups configured")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := a.openStores(ctx, true)
	if err != nil {
		return err
	}
	defer st.close()

	info := a.newInfo()
	feed, live := a.newLiveFeed()
	svc := service.New(a.serviceOptions(), service.Deps{
		Builder:   a.newBuilder(info),
		Market:    info,
		Live:      live,
		States:    st.states,
		Snapshots: st.snapshots,
		Alerts:    st.alerts,
		Locker:    st.locker,
		Notifier:  a.newNotifier(),
	}, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		RunOnStart:   a.Config.Scheduler.RunOnStart,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	if feed != nil {
		g.Go(func() error { return feed.Run(gctx) })
	}
	if a.Config.HTTP.Enabled {
		srv := httpapi.NewServer(httpapi.Config{
			Addr:      a.Config.HTTP.Listen,
			Groups:    svc.GroupNames(),
			Latest:    svc,
			Snapshots: st.snapshots,
			States:    st.states,
			Alerts:    st.alerts,
			Logger:    a.Logger,
		})
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := svc.Run(gctx, sched)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	a.Logger.Info().Int("groups", len(a.Config.Groups)).Str("version", version.Version).Msg("starting monitoring service")
	if err := g.Wait(); err != nil {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	applied, err := storage.Migrate(ctx, pool, a.Logger)
	if err != nil {
		return err
	}
	a.Logger.Info().Strs("applied", applied).Msg("migrations complete")
	return nil
}

// ExportOptions hold parameters for exporting stored snapshots.
type ExportOptions struct {
	Group     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Group  string
	Limit  int
	Alerts bool
}

// CheckOptions configure a one-shot pass.
type CheckOptions struct {
	Group   string
	Wallets []string
	JSON    bool
}

// SimulateOptions configure simulate-alert.
type SimulateOptions struct {
	Group  string
	Kinds  []string
	DryRun bool
}
