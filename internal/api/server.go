// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves the forecaster over HTTP.
//
// Unauthenticated routes:
//
//	GET  /health
//	GET  /metrics
//
// Routes under /v1 require the X-API-Key header and are rate limited per
// client address:
//
//	GET  /v1/ontology
//	POST /v1/forecast
//	POST /v1/replay
//	GET  /v1/replays
//	GET  /v1/replays/:id
//	POST /v1/impact
//
// Every error response has the body {"error": "...", "request_id": "..."}.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/observability"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/internal/store"
	"github.com/AleutianAI/adam/internal/telemetry"
)

// ServiceName names the server in traces.
const ServiceName = "adam-api"

const (
	defaultRateLimit      = 5.0
	defaultBurst          = 10
	defaultRequestTimeout = 60 * time.Second
	shutdownTimeout       = 10 * time.Second
)

// ReplayStore persists replay runs. Implemented by *store.ReplayStore.
type ReplayStore interface {
	Save(ctx context.Context, res *replay.Result) error
	Get(ctx context.Context, id string) (*replay.Result, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
}

// Deps are the collaborators the router needs. Ontology, Store and APIKey
// are required.
type Deps struct {
	Ontology  *ontology.Holder
	Store     ReplayStore
	APIKey    *APIKey
	Publisher alerting.Publisher

	// Metrics and Gatherer back /metrics. When Metrics is nil a private
	// registry is created.
	Metrics  *observability.Metrics
	Gatherer prometheus.Gatherer

	// Influx serves requests with "source": "influx". Nil disables it.
	Influx telemetry.Source

	// Params overrides the forecast dynamics for forecasts and replays.
	Params *forecast.Params

	// ReplayParallelism bounds concurrent per-day forecasts in a replay.
	ReplayParallelism int

	DataDir        string
	MaxBodyBytes   int64
	RateLimit      float64
	Burst          int
	RequestTimeout time.Duration

	Logger *slog.Logger
}

// NewRouter builds the gin engine with every route and middleware.
//
// # Outputs
//
//   - *gin.Engine: Ready to serve.
//   - error: ErrNoAPIKey, or an error naming the missing dependency.
func NewRouter(d Deps) (*gin.Engine, error) {
	if d.Ontology == nil || d.Ontology.Current() == nil {
		return nil, errors.New("api: ontology holder is required")
	}
	if d.Store == nil {
		return nil, errors.New("api: replay store is required")
	}
	if d.APIKey == nil {
		return nil, ErrNoAPIKey
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Publisher == nil {
		d.Publisher = alerting.NopPublisher{}
	}
	if d.Metrics == nil {
		reg := prometheus.NewRegistry()
		d.Metrics = observability.NewMetrics(reg)
		d.Gatherer = reg
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.RateLimit <= 0 {
		d.RateLimit = defaultRateLimit
	}
	if d.Burst <= 0 {
		d.Burst = defaultBurst
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = defaultRequestTimeout
	}
	if limit, ok := memlockLimit(); ok && limit < minMemlockBytes {
		d.Logger.Warn("RLIMIT_MEMLOCK is low; sealing the API key may fail",
			"limit_bytes", limit, "recommended_bytes", minMemlockBytes)
	}

	h := &handler{
		ontology:  d.Ontology,
		store:     d.Store,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		influx:    d.Influx,
		params:    d.Params,
		dataDir:   d.DataDir,
		logger:    d.Logger,
		harness: replay.NewHarness(replay.Config{
			Parallelism: d.ReplayParallelism,
			Params:      d.Params,
			Logger:      d.Logger,
			Recorder:    d.Metrics,
		}),
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestID(),
		otelgin.Middleware(ServiceName),
		accessLog(d.Logger, d.Metrics.ObserveHTTP),
		limitBody(d.MaxBodyBytes),
		requestTimeout(d.RequestTimeout),
	)
	setupRoutes(router, h, d.APIKey, newClientLimiter(d.RateLimit, d.Burst), d.Gatherer)
	return router, nil
}

// setupRoutes registers every route on router.
func setupRoutes(router *gin.Engine, h *handler, key *APIKey, limiter *clientLimiter, gatherer prometheus.Gatherer) {
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(observability.Handler(gatherer)))

	// API version 1 group
	v1 := router.Group("/v1", rateLimit(limiter), requireAPIKey(key))
	{
		v1.GET("/ontology", h.getOntology)
		v1.POST("/forecast", h.forecast)
		v1.POST("/replay", h.replay)
		v1.POST("/impact", h.impact)

		replays := v1.Group("/replays")
		{
			replays.GET("", h.listReplays)
			replays.GET("/:id", h.getReplay)
		}
	}
}

// requestTimeout bounds the request context.
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// Server runs the router on an http.Server with graceful shutdown.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer wraps handler in an http.Server listening on addr.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests for
// up to ten seconds.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
