// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/api"
	"github.com/AleutianAI/adam/internal/config"
	"github.com/AleutianAI/adam/internal/observability"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/store"
	"github.com/AleutianAI/adam/internal/telemetry"
)

type serveOptions struct {
	listen string
	influx bool
}

func newServeCmd(a *app) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve exposes forecast, replay and impact over HTTP. Every /v1 route
requires the X-API-Key header; set the key with ADAM_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, opts)
		},
	}
	cmd.Flags().StringVar(&opts.listen, "listen", "", "listen address, overrides server.listen")
	cmd.Flags().BoolVar(&opts.influx, "influx", false, `enable "source": "influx" requests against the configured bucket`)
	return cmd
}

func runServe(ctx context.Context, a *app, opts *serveOptions) error {
	cfg := a.cfg
	if opts.listen != "" {
		cfg.Server.Listen = opts.listen
	}
	logger := a.logger.Slog()

	key, err := api.NewAPIKey(cfg.Server.APIKey)
	if err != nil {
		return fmt.Errorf("%w: set %s", err, config.EnvAPIKey)
	}
	// The plaintext now lives in the enclave only.
	cfg.Server.APIKey = ""
	a.cfg.Server.APIKey = ""
	_ = os.Unsetenv(config.EnvAPIKey)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observability.Init(ctx, cfg.Telemetry, reg)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	ont, err := ontology.Load(cfg.Ontology.Path)
	if err != nil {
		return err
	}
	holder := ontology.NewHolder(ont)

	st, err := openServeStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	publisher := alerting.New(cfg.Alerting, logger)
	defer publisher.Close()

	var influx telemetry.Source
	if opts.influx {
		src := telemetry.NewInfluxSource(cfg.Influx)
		defer src.Close()
		if err := src.Ping(ctx); err != nil {
			logger.Warn("influxdb is not reachable yet", "error", err)
		}
		influx = src
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := api.NewRouter(api.Deps{
		Ontology:          holder,
		Store:             st,
		APIKey:            key,
		Publisher:         publisher,
		Metrics:           observability.NewMetrics(reg),
		Gatherer:          reg,
		Influx:            influx,
		ReplayParallelism: cfg.Replay.Parallelism,
		DataDir:           cfg.Server.DataDir,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		RateLimit:         cfg.Server.RateLimit,
		Burst:             cfg.Server.Burst,
		RequestTimeout:    cfg.Server.RequestTimeout,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if cfg.Ontology.Watch {
		w, err := ontology.NewWatcher(cfg.Ontology.Path, holder, ontology.WatcherOptions{Logger: logger})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			w.Stop()
			return nil
		})
	}
	g.Go(func() error {
		return api.NewServer(cfg.Server.Listen, router, logger).Run(ctx)
	})

	logger.Info("adam serving",
		"listen", cfg.Server.Listen, "ontology", cfg.Ontology.Path, "watch", cfg.Ontology.Watch,
		"store", cfg.Store.Path, "influx", opts.influx)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openServeStore(cfg config.StoreConfig, logger *slog.Logger) (*store.ReplayStore, error) {
	if cfg.InMemory {
		return store.OpenInMemory()
	}
	sc := store.DefaultConfig(cfg.Path)
	sc.SyncWrites = cfg.SyncWrites
	sc.GCInterval = cfg.GCInterval
	sc.Logger = logger
	return store.Open(sc)
}
