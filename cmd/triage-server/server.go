package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/triage/internal/config"
	"github.com/ehr/triage/internal/domain/triage"
	"github.com/ehr/triage/internal/platform/db"
	"github.com/ehr/triage/internal/platform/middleware"
	"github.com/ehr/triage/internal/platform/websocket"
)

// app is the fully wired server.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	engine   *triage.Engine
	service  *triage.Service
	recorder *triage.Recorder
	hub      *websocket.Hub
	echo     *echo.Echo
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if cfg.NeedsDatabase() {
		pool, err = openPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")

		migrator := db.NewMigrator(pool, migrationsFS("", cfg), logger)
		if _, err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	a, err := newApp(ctx, cfg, logger, pool, prometheus.NewRegistry())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}
	return a.serve(ctx)
}

// newApp wires the stores, the engine, the service and the HTTP surface.
// pool may be nil when no store is backed by Postgres.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, reg *prometheus.Registry) (*app, error) {
	capacityStore, err := newCapacityStore(cfg, pool)
	if err != nil {
		return nil, err
	}
	history, err := newHistoryStore(cfg, pool)
	if err != nil {
		return nil, err
	}

	caps, err := triage.LoadCapacities(ctx, capacityStore, logger)
	if err != nil {
		return nil, err
	}
	engine, err := triage.NewEngine(caps, triage.WithAverageServiceMinutes(cfg.AvgServiceMinutes))
	if err != nil {
		return nil, fmt.Errorf("build triage engine: %w", err)
	}
	logger.Info().
		Int("departments", len(caps)).
		Str("capacity_store", cfg.ResolvedCapacityStore()).
		Str("history_store", cfg.ResolvedHistoryStore()).
		Str("session_id", engine.SessionID()).
		Msg("triage engine ready")

	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := triage.NewMetrics(reg)

	recorder := triage.NewRecorder(history, cfg.HistoryBuffer, logger)
	recorder.SetMetrics(metrics)

	hub := websocket.NewHub(logger)

	svc := triage.NewService(engine, triage.NewRuleClassifier(""), logger)
	svc.SetRecorder(recorder)
	svc.SetHistory(history)
	svc.SetCapacityStore(capacityStore)
	svc.SetPublisher(hub)
	svc.SetMetrics(metrics)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		engine:   engine,
		service:  svc,
		recorder: recorder,
		hub:      hub,
	}
	a.echo = a.routes(reg)
	return a, nil
}

func (a *app) routes(reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger, middleware.NewPanicCounter(reg)))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))

	rl := middleware.DefaultRateLimitConfig()
	rl.RequestsPerSecond = a.cfg.RateLimitRPS
	rl.BurstSize = a.cfg.RateLimitBurst
	rl.Skipper = skipOperational
	e.Use(middleware.RateLimit(rl))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"session_id": a.engine.SessionID(),
		})
	})
	if a.pool != nil {
		migrator := db.NewMigrator(a.pool, migrationsFS("", a.cfg), a.logger)
		e.GET("/health/db", db.HealthHandler(a.pool, migrator))
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")
	tg := apiV1.Group("/triage")
	triage.NewHandler(a.service).RegisterRoutes(tg)
	wsh := websocket.NewHandler(a.hub)
	wsh.SetAllowedOrigins(websocketOrigins(a.cfg))
	wsh.RegisterRoutes(tg)

	return e
}

// websocketOrigins limits live-event upgrades to the CORS origins in
// production. Elsewhere any origin may connect.
func websocketOrigins(cfg *config.Config) []string {
	if !cfg.IsProduction() {
		return nil
	}
	return cfg.CORSOrigins
}

func skipOperational(c echo.Context) bool {
	p := c.Request().URL.Path
	return strings.HasPrefix(p, "/health") || p == "/metrics"
}

// serve runs the HTTP server and the history recorder until ctx is done.
// The recorder is stopped only after the server has drained so late
// admissions are still written.
func (a *app) serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g.Go(func() error {
		return a.recorder.Run(recCtx)
	})

	g.Go(func() error {
		addr := ":" + a.cfg.Port
		a.logger.Info().Str("addr", addr).Msg("starting server")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := a.echo.Shutdown(shutdownCtx)
		stopRecorder()
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		a.logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	a.logger.Info().Msg("server stopped")
	return nil
}
