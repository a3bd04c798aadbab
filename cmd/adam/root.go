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
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/adam/internal/config"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/telemetry"
	"github.com/AleutianAI/adam/pkg/logging"
	"github.com/AleutianAI/adam/pkg/ux"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitWarning = 1
	exitError   = 2

	// skipConfig marks commands that run without loading the config file.
	skipConfig = "skip-config"
)

// errWarningRaised is returned by commands run with --fail-on-warning
// when the ERI crossed its threshold.
var errWarningRaised = errors.New("ERI warning raised")

// app carries per-invocation state shared by every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath   string
	ontologyPath string
	logLevel     string
	jsonOutput   bool

	cfg    config.Config
	logger *logging.Logger
	out    *ux.Printer
}

func execute(args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := root.ExecuteContext(ctx)
	if a.logger != nil {
		_ = a.logger.Close()
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errWarningRaised):
		return exitWarning
	default:
		ux.NewPrinter(stderr).Error(err.Error())
		return exitError
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "adam",
		Short:         "Forecast control health and escalation risk",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", config.DefaultPath(), "config file (env ADAM_CONFIG)")
	flags.StringVar(&a.ontologyPath, "ontology", "", "ontology file, overrides ontology.path")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error, overrides logging.level")
	flags.BoolVar(&a.jsonOutput, "json", false, "write JSON to stdout")

	root.AddCommand(
		newForecastCmd(a),
		newReplayCmd(a),
		newReplaysCmd(a),
		newImpactCmd(a),
		newOntologyCmd(a),
		newConfigCmd(a),
		newServeCmd(a),
	)
	return root
}

// setup loads the config and builds the logger and printer. A missing
// config file is only an error when --config was given explicitly.
func (a *app) setup(cmd *cobra.Command) error {
	if a.jsonOutput {
		a.out = ux.NewPrinterMode(a.stdout, ux.ModeMachine)
	} else {
		a.out = ux.NewPrinter(a.stdout)
	}

	a.cfg = config.DefaultConfig()
	if cmd.Annotations[skipConfig] == "" {
		explicit := cmd.Flags().Changed("config")
		cfg, err := config.Load(a.configPath, !explicit)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.ontologyPath != "" {
		a.cfg.Ontology.Path = a.ontologyPath
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}

	level, err := logging.ParseLevel(a.cfg.Logging.Level)
	if err != nil {
		return err
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  a.cfg.Logging.Dir,
		Service: logging.DefaultService,
		JSON:    a.cfg.Logging.JSON,
		Output:  a.stderr,
	})
	return nil
}

func (a *app) loadOntology() (*ontology.Ontology, error) {
	return ontology.Load(a.cfg.Ontology.Path)
}

// dataFlags selects the metric history for forecast and replay.
type dataFlags struct {
	csvPath string
	influx  bool
}

func (d *dataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&d.csvPath, "csv", "", "telemetry CSV with a timestamp column")
	cmd.Flags().BoolVar(&d.influx, "influx", false, "read telemetry from the configured InfluxDB bucket")
	cmd.MarkFlagsMutuallyExclusive("csv", "influx")
	cmd.MarkFlagsOneRequired("csv", "influx")
}

// source returns the telemetry source and a release func.
func (d *dataFlags) source(a *app) (telemetry.Source, func()) {
	if d.influx {
		src := telemetry.NewInfluxSource(a.cfg.Influx)
		return src, src.Close
	}
	return telemetry.CSVSource{Path: d.csvPath}, func() {}
}

// seedOption returns an explicit seed only when --seed was given, so the
// engine default applies otherwise.
func seedOption(seed uint64, set bool) *uint64 {
	if !set {
		return nil
	}
	return forecast.Seed(seed)
}

// fetch loads every metric ont needs between from and to. Zero leaves a
// side open.
func (d *dataFlags) fetch(ctx context.Context, a *app, ont *ontology.Ontology, from, to time.Time) (*telemetry.Table, error) {
	src, release := d.source(a)
	defer release()
	return src.Fetch(ctx, ont.Metrics(), from, to)
}
