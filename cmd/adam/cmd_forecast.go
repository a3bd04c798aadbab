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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/telemetry"
)

type forecastOptions struct {
	data          dataFlags
	start         string
	horizonDays   int
	seed          uint64
	seedSet       bool
	whatIf        []string
	publish       bool
	failOnWarning bool
}

// forecastReport is the --json output of forecast.
type forecastReport struct {
	Score     eri.Result       `json:"score"`
	Threshold float64          `json:"eri_warning_threshold"`
	Warning   bool             `json:"warning"`
	Forecast  *forecast.Result `json:"forecast"`
}

func newForecastCmd(a *app) *cobra.Command {
	opts := &forecastOptions{}
	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Forecast control pressure and score the escalation risk",
		Example: `  adam forecast --csv history.csv
  adam forecast --csv history.csv --start 2025-01-07T00:00:00Z --horizon 7
  adam forecast --influx --what-if ops_queue_depth=1.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return runForecast(cmd.Context(), a, opts)
		},
	}
	opts.data.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.start, "start", "", "forecast start; defaults to the latest row")
	f.IntVar(&opts.horizonDays, "horizon", 0, "horizon in days; defaults to the ontology horizon")
	f.Uint64Var(&opts.seed, "seed", forecast.DefaultSeed, "noise seed")
	f.StringSliceVar(&opts.whatIf, "what-if", nil, "scale a metric before forecasting, metric=factor (repeatable)")
	f.BoolVar(&opts.publish, "publish", false, "publish a warning to Kafka when the ERI crosses the threshold")
	f.BoolVar(&opts.failOnWarning, "fail-on-warning", false, "exit 1 when the ERI crosses the threshold")
	return cmd
}

func runForecast(ctx context.Context, a *app, opts *forecastOptions) error {
	ont, err := a.loadOntology()
	if err != nil {
		return err
	}

	var start *time.Time
	if opts.start != "" {
		ts, err := telemetry.ParseTimestamp(opts.start)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		start = &ts
	}
	whatIf, err := telemetry.ParseWhatIf(opts.whatIf)
	if err != nil {
		return err
	}

	tbl, err := opts.data.fetch(ctx, a, ont, time.Time{}, time.Time{})
	if err != nil {
		return err
	}
	if tbl, err = tbl.Scale(whatIf); err != nil {
		return err
	}

	res, err := forecast.Run(ctx, tbl, ont, forecast.Options{
		StartTime:   start,
		HorizonDays: opts.horizonDays,
		Seed:        seedOption(opts.seed, opts.seedSet),
	})
	if err != nil {
		return err
	}

	threshold := ont.WarningThreshold()
	score := eri.Compute(res.FirstProbabilities(), ont.Weights(), res.Summary.TimeToFailureDays)
	warned := score.Exceeds(threshold)
	a.logger.Info("forecast complete",
		"start", res.Start, "steps", len(res.Series), "eri", score.ERI, "top_driver", score.TopDriver)

	if a.jsonOutput {
		if err := a.out.JSON(forecastReport{Score: score, Threshold: threshold, Warning: warned, Forecast: res}); err != nil {
			return err
		}
	} else {
		renderForecast(a.out, res, score, threshold)
	}

	if w, ok := alerting.ForecastWarning(score, threshold, res.Start); ok && opts.publish {
		if err := a.publish(ctx, w); err != nil {
			return err
		}
	}
	if warned && opts.failOnWarning {
		return errWarningRaised
	}
	return nil
}

// publish sends w through the configured Kafka brokers.
func (a *app) publish(ctx context.Context, w alerting.Warning) error {
	pub := alerting.New(a.cfg.Alerting, a.logger.Slog())
	defer pub.Close()
	if err := pub.Publish(ctx, w); err != nil {
		return fmt.Errorf("publish warning: %w", err)
	}
	if _, nop := pub.(alerting.NopPublisher); nop {
		a.logger.Warn("no Kafka brokers configured; warning not published")
	}
	return nil
}
