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
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/internal/store"
	"github.com/AleutianAI/adam/internal/telemetry"
)

type replayOptions struct {
	data          dataFlags
	incident      string
	lookbackDays  int
	horizonDays   int
	seed          uint64
	seedSet       bool
	parallelism   int
	exportCSV     string
	noSave        bool
	publish       bool
	failOnWarning bool
}

func newReplayCmd(a *app) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Backtest the forecaster against a known incident",
		Long: `Replay walks day by day through the lookback window before an incident,
forecasting from the data available at each UTC midnight, and reports when
the ERI first crossed the warning threshold and the resulting lead time.`,
		Example: `  adam replay --csv history.csv --incident 2025-01-10T00:00:00Z
  adam replay --csv history.csv --incident 2025-01-10 --lookback 14 --export-csv eri.csv --fail-on-warning`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return runReplay(cmd.Context(), a, opts)
		},
	}
	opts.data.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.incident, "incident", "", "incident time (required)")
	f.IntVar(&opts.lookbackDays, "lookback", replay.DefaultLookbackDays, "days replayed before the incident")
	f.IntVar(&opts.horizonDays, "horizon", 0, "per-day forecast horizon; defaults to the ontology horizon")
	f.Uint64Var(&opts.seed, "seed", forecast.DefaultSeed, "noise seed for every per-day forecast")
	f.IntVar(&opts.parallelism, "parallelism", 0, "concurrent per-day forecasts; defaults to replay.parallelism")
	f.StringVar(&opts.exportCSV, "export-csv", "", "write the ERI series to this CSV file")
	f.BoolVar(&opts.noSave, "no-save", false, "do not persist the run to the replay store")
	f.BoolVar(&opts.publish, "publish", false, "publish the first warning to Kafka")
	f.BoolVar(&opts.failOnWarning, "fail-on-warning", false, "exit 1 when the replay raised a warning")
	_ = cmd.MarkFlagRequired("incident")
	return cmd
}

func runReplay(ctx context.Context, a *app, opts *replayOptions) error {
	incident, err := telemetry.ParseTimestamp(opts.incident)
	if err != nil {
		return fmt.Errorf("--incident: %w", err)
	}
	if opts.lookbackDays < 1 {
		return fmt.Errorf("--lookback must be at least 1, got %d", opts.lookbackDays)
	}
	ont, err := a.loadOntology()
	if err != nil {
		return err
	}
	tbl, err := opts.data.fetch(ctx, a, ont, incident.AddDate(0, 0, -opts.lookbackDays), incident)
	if err != nil {
		return err
	}

	parallelism := opts.parallelism
	if parallelism <= 0 {
		parallelism = a.cfg.Replay.Parallelism
	}
	harness := replay.NewHarness(replay.Config{
		Parallelism: parallelism,
		Logger:      a.logger.Slog(),
	})
	res, err := harness.Run(ctx, tbl, ont, replay.Request{
		IncidentTime: incident,
		LookbackDays: opts.lookbackDays,
		HorizonDays:  opts.horizonDays,
		Seed:         seedOption(opts.seed, opts.seedSet),
	})
	if err != nil {
		return err
	}

	if !opts.noSave {
		if err := a.saveReplay(ctx, res); err != nil {
			return err
		}
	}
	if opts.exportCSV != "" {
		if err := exportReplayCSV(res, opts.exportCSV); err != nil {
			return err
		}
	}

	if a.jsonOutput {
		if err := a.out.JSON(res); err != nil {
			return err
		}
	} else {
		renderReplay(a.out, res)
	}

	if w, ok := alerting.ReplayWarning(res); ok && opts.publish {
		if err := a.publish(ctx, w); err != nil {
			return err
		}
	}
	if res.Warned() && opts.failOnWarning {
		return errWarningRaised
	}
	return nil
}

func (a *app) openStore() (*store.ReplayStore, error) {
	if a.cfg.Store.InMemory {
		return store.OpenInMemory()
	}
	cfg := store.DefaultConfig(a.cfg.Store.Path)
	cfg.SyncWrites = a.cfg.Store.SyncWrites
	cfg.Logger = a.logger.Slog()
	// CLI invocations are too short-lived for value log GC.
	cfg.GCInterval = 0
	return store.Open(cfg)
}

func (a *app) saveReplay(ctx context.Context, res *replay.Result) error {
	st, err := a.openStore()
	if err != nil {
		return fmt.Errorf("open replay store (use --no-save to skip): %w", err)
	}
	defer st.Close()
	if err := st.Save(ctx, res); err != nil {
		return err
	}
	a.logger.Info("replay saved", "run_id", res.RunID, "store", a.cfg.Store.Path)
	return nil
}

func exportReplayCSV(res *replay.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := res.WriteCSV(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func newReplaysCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replays",
		Short: "Inspect stored replay runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored replay runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			runs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				if runs == nil {
					runs = []store.Summary{}
				}
				return a.out.JSON(runs)
			}
			renderSummaries(a.out, runs)
			return nil
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	var exportCSV string
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored replay run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			res, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if exportCSV != "" {
				if err := exportReplayCSV(res, exportCSV); err != nil {
					return err
				}
			}
			if a.jsonOutput {
				return a.out.JSON(res)
			}
			renderReplay(a.out, res)
			return nil
		},
	}
	show.Flags().StringVar(&exportCSV, "export-csv", "", "write the ERI series to this CSV file")

	del := &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored replay run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.out.Success("deleted " + args[0])
			return nil
		},
	}

	cmd.AddCommand(list, show, del)
	return cmd
}
