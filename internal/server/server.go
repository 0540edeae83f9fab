package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arashpx/seekly/config"
	"github.com/arashpx/seekly/internal/agent"
	"github.com/arashpx/seekly/internal/cache"
	"github.com/arashpx/seekly/internal/index"
	"github.com/arashpx/seekly/internal/runtime"
	"github.com/arashpx/seekly/internal/store"
	"github.com/arashpx/seekly/internal/stream"
	"github.com/arashpx/seekly/internal/telemetry"
	"github.com/arashpx/seekly/provider"
)

// Run wires every dependency and serves until the listener fails.
func Run(cfg *config.Config) error {
	ctx := context.Background()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	tele, _, _, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{
		ServiceName:    "seekly",
		ServiceVersion: "1.0.0",
		MetricsPort:    cfg.Telemetry.MetricsPort,
	})
	if err != nil {
		return fmt.Errorf("telemetry init: %w", err)
	}
	metrics := telemetry.NewMetrics(tele.Registry)

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(tele.Registry, promhttp.HandlerOpts{})))

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("postgres init: %w", err)
	}
	ch, err := cache.New(ctx, cfg.Storage.Redis)
	if err != nil {
		return fmt.Errorf("redis init: %w", err)
	}

	llm, err := provider.New(cfg.LLM)
	if err != nil {
		return fmt.Errorf("llm provider init: %w", err)
	}

	var embedder index.Embedder
	embedModel := ""
	if cfg.Index.EmbeddingEnabled {
		embedder = llm
		embedModel = cfg.LLM.Routing.Embedding
	}
	idx, err := index.New(embedder, embedModel, cfg.Index.RRFK)
	if err != nil {
		return fmt.Errorf("index init: %w", err)
	}

	synth := agent.NewSynthesizer(llm, cfg.LLM.Routing.Synthesis,
		log.New(log.Writer(), "[SYNTH] ", log.LstdFlags))
	ctrl := agent.NewController(llm, synth,
		cfg.Agent.MaxIterations, cfg.Agent.FailureThreshold, cfg.Agent.ToolTimeout, metrics)

	streams := stream.NewActiveStreams(0)
	// Stop requests may land on another instance; redis fans them out.
	ch.SubscribeStop(ctx, func(chatID string) { streams.Stop(chatID) })

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	protected := api.Group("")
	protected.Use(runtime.EchoAuthMiddleware(secret))
	protected.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: c.Get("user_id").(string)})
	})

	chat := &ChatHandler{
		Cfg:     cfg,
		Store:   st,
		Cache:   ch,
		Index:   idx,
		Ctrl:    ctrl,
		Streams: streams,
		Logger:  log.New(log.Writer(), "[CHAT] ", log.LstdFlags),
	}
	chat.Register(protected)

	sweeper := NewSweeper(st, streams, cfg.Server.CleanupCron)
	sweeper.Start()
	defer close(sweeper.Stop)

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":10001"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
