// Package httpapi exposes health, snapshot, state and alert views plus Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/qzbxw/velox-sub000/internal/monitor"
	"github.com/qzbxw/velox-sub000/internal/snapshot"
	"github.com/qzbxw/velox-sub000/internal/storage"
)

// LatestSource returns the most recent in-memory pass result of a group.
type LatestSource interface {
	Latest(group string) (snapshot.Snapshot, []monitor.Alert, bool)
}

// Config describes the server's dependencies. Nil stores disable their routes' data.
type Config struct {
	Addr      string
	Groups    []string
	Latest    LatestSource
	Snapshots storage.SnapshotStore
	States    storage.StateStore
	Alerts    storage.AlertStore
	Logger    zerolog.Logger
}

// Server is the status HTTP server.
type Server struct {
	addr   string
	router *gin.Engine
	cfg    Config
	logger zerolog.Logger
}

const maxLimit = 500

// NewServer builds the router.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":9464"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		addr:   cfg.Addr,
		router: router,
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "httpapi").Logger(),
	}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/groups", s.handleGroups)
	api.GET("/groups/:group/latest", s.handleLatest)
	api.GET("/groups/:group/snapshots", s.handleSnapshots)
	api.GET("/groups/:group/state", s.handleState)
	api.GET("/alerts", s.handleAlerts)
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr 返回监听地址。
func (s *Server) Addr() string {
	return s.addr
}

// Start 启动 HTTP 服务，直到 ctx 取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("addr", s.addr).Msg("http server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	}
}

func (s *Server) knownGroup(group string) bool {
	for _, g := range s.cfg.Groups {
		if g == group {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "groups": len(s.cfg.Groups)})
}

func (s *Server) handleGroups(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"groups": s.cfg.Groups})
}

func (s *Server) handleLatest(c *gin.Context) {
	group := c.Param("group")
	if !s.knownGroup(group) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown group"})
		return
	}
	if s.cfg.Latest == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no live service"})
		return
	}
	snap, alerts, ok := s.cfg.Latest.Latest(group)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pass completed yet"})
		return
	}
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshot": snap, "alerts": alerts})
}

func (s *Server) handleSnapshots(c *gin.Context) {
	group := c.Param("group")
	if !s.knownGroup(group) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown group"})
		return
	}
	if s.cfg.Snapshots == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "snapshot storage disabled"})
		return
	}
	limit := parseLimit(c.Query("limit"), 50)
	records, err := s.cfg.Snapshots.ListRecentSnapshots(c.Request.Context(), group, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("group", group).Msg("list snapshots failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list snapshots failed"})
		return
	}

	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"pass_id":           r.PassID.String(),
			"taken_at":          r.TakenAt,
			"wallet_count":      r.WalletCount,
			"portfolio_value":   r.PortfolioValue.String(),
			"delta_usd":         r.DeltaUSD.String(),
			"delta_pct":         r.DeltaPct.String(),
			"margin_health_pct": r.MarginHealthPct.String(),
			"margin_level":      r.MarginLevel,
			"funding_24h":       r.Funding24h.String(),
			"coins":             r.Coins,
			"degraded":          r.Degraded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"group": group, "snapshots": out})
}

func (s *Server) handleState(c *gin.Context) {
	group := c.Param("group")
	if !s.knownGroup(group) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown group"})
		return
	}
	if s.cfg.States == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "state storage disabled"})
		return
	}
	st, err := s.cfg.States.LoadState(c.Request.Context(), group)
	if err != nil && !errors.Is(err, storage.ErrStateNotFound) {
		s.logger.Error().Err(err).Str("group", group).Msg("load state failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load state failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.cfg.Alerts == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert storage disabled"})
		return
	}
	group := c.Query("group")
	limit := parseLimit(c.Query("limit"), 50)
	records, err := s.cfg.Alerts.ListRecentAlerts(c.Request.Context(), group, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list alerts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list alerts failed"})
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"group":      r.Group,
			"kind":       r.Kind,
			"symbol":     r.Symbol,
			"value":      r.Value.String(),
			"threshold":  r.Threshold.String(),
			"delivered":  r.Delivered,
			"created_at": r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"alerts": out})
}

func parseLimit(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}
