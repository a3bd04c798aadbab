// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replay backtests the forecast against a known incident.
//
// For every UTC day from the first observation in
// [incident − lookback, incident] through the incident's day, the harness
// restricts history to rows at or before that midnight, forecasts from the
// latest of them, and scores the first forecast point with the ERI. The
// first day whose ERI reaches the ontology warning threshold is the first
// warning; the lead time is the gap between it and the incident.
//
// Per-day forecasts are independent and run in parallel. The first-warning
// scan runs afterwards, in day order.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/telemetry"
	"github.com/AleutianAI/adam/pkg/logging"
)

const day = 24 * time.Hour

// Recorder receives one observation per finished run. Implemented by the
// Prometheus metrics in the observability package.
type Recorder interface {
	ObserveReplay(outcome string, leadTimeDays *float64)
}

// Config configures a Harness. The zero value is usable.
type Config struct {
	// Parallelism bounds concurrent per-day forecasts. Defaults to
	// GOMAXPROCS.
	Parallelism int

	// Params overrides the forecast dynamics. Nil uses the defaults.
	Params *forecast.Params

	Logger   *slog.Logger
	Recorder Recorder

	// NewID and Now are replaceable for tests.
	NewID func() string
	Now   func() time.Time
}

// Harness runs backtests.
//
// # Thread Safety
//
// Harness is safe for concurrent use. It holds no per-run state.
type Harness struct {
	cfg Config
}

// NewHarness creates a Harness, filling unset Config fields.
func NewHarness(cfg Config) *Harness {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.GOMAXPROCS(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Harness{cfg: cfg}
}

// Run replays tbl against ont up to req.IncidentTime.
//
// # Inputs
//
//   - ctx: Cancels outstanding per-day forecasts.
//   - tbl: Full metric history.
//   - ont: A validated ontology. Its warning threshold decides the first
//     warning.
//   - req: Incident time, lookback, horizon and seed.
//
// # Outputs
//
//   - *Result: The per-day series, first warning and lead time.
//   - error: ErrInvalidRequest, ErrEmptyWindow, or the first per-day
//     forecast error.
func (h *Harness) Run(ctx context.Context, tbl *telemetry.Table, ont *ontology.Ontology, req Request) (*Result, error) {
	ctx, span := startRunSpan(ctx, req)
	defer span.End()

	res, err := h.run(ctx, tbl, ont, req)
	setRunSpanResult(span, res, err)
	h.record(res, err)
	return res, err
}

func (h *Harness) run(ctx context.Context, tbl *telemetry.Table, ont *ontology.Ontology, req Request) (*Result, error) {
	req, err := req.withDefaults()
	if err != nil {
		return nil, err
	}
	if ont == nil || !ont.Validated() {
		return nil, ontology.ErrNotValidated
	}
	if tbl == nil {
		return nil, ErrEmptyWindow
	}

	from := req.IncidentTime.Add(-time.Duration(req.LookbackDays) * day)
	window := tbl.Between(from, req.IncidentTime)
	if window.Empty() {
		return nil, fmt.Errorf("%w: %s to %s", ErrEmptyWindow,
			from.Format(time.RFC3339), req.IncidentTime.Format(time.RFC3339))
	}

	days := dayBoundaries(window.First(), req.IncidentTime)
	points := make([]*Point, len(days))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.cfg.Parallelism)
	for i, d := range days {
		g.Go(func() error {
			p, err := h.replayDay(gctx, window, ont, req, d)
			if err != nil {
				return fmt.Errorf("replay day %s: %w", d.Format(time.DateOnly), err)
			}
			points[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	threshold := ont.WarningThreshold()
	series := make([]Point, 0, len(points))
	var firstWarning *time.Time
	for _, p := range points {
		if p == nil {
			continue
		}
		series = append(series, *p)
		if firstWarning == nil && p.ERI >= threshold {
			at := p.AsOf
			firstWarning = &at
		}
	}

	var lead *float64
	if firstWarning != nil {
		leadDays := req.IncidentTime.Sub(*firstWarning).Hours() / 24
		lead = &leadDays
	}

	horizon := req.HorizonDays
	if horizon == 0 {
		horizon = ont.Forecast.HorizonDays
	}

	res := &Result{
		APIVersion:       APIVersion,
		RunID:            h.cfg.NewID(),
		CreatedAt:        h.cfg.Now(),
		WindowStart:      window.First(),
		WindowEnd:        window.Last(),
		IncidentTime:     req.IncidentTime,
		LookbackDays:     req.LookbackDays,
		HorizonDays:      horizon,
		Seed:             forecast.EffectiveSeed(req.Seed),
		Threshold:        threshold,
		FirstWarningTime: firstWarning,
		LeadTimeDays:     lead,
		Series:           series,
		Narrative:        buildNarrative(threshold, firstWarning, lead),
	}

	h.cfg.Logger.Info("replay complete",
		"run_id", res.RunID,
		"incident", res.IncidentTime.Format(time.RFC3339),
		"days", len(series),
		"warned", res.Warned(),
		"max_eri", res.MaxERI(),
	)
	return res, nil
}

// replayDay forecasts from the latest row at or before boundary. A nil
// point means no rows precede the boundary.
func (h *Harness) replayDay(ctx context.Context, window *telemetry.Table, ont *ontology.Ontology, req Request, boundary time.Time) (*Point, error) {
	ctx, span := startDaySpan(ctx, boundary)
	defer span.End()

	history := window.Until(boundary)
	if history.Empty() {
		return nil, nil
	}
	asOf := history.Last()

	fr, err := forecast.Run(ctx, history, ont, forecast.Options{
		StartTime:   &asOf,
		HorizonDays: req.HorizonDays,
		Seed:        req.Seed,
		Params:      h.cfg.Params,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	score := eri.Compute(fr.FirstProbabilities(), ont.Weights(), fr.Summary.TimeToFailureDays)
	setDaySpanResult(span, score.ERI)

	h.cfg.Logger.Debug("replay day",
		"day", boundary.Format(time.DateOnly),
		"as_of", asOf.Format(time.RFC3339),
		"eri", score.ERI,
		"top_driver", score.TopDriver,
	)

	return &Point{
		Day:                   boundary,
		AsOf:                  asOf,
		ERI:                   score.ERI,
		TopDriver:             score.TopDriver,
		TimeToFailureDays:     score.TimeToFailureDays,
		PredictedFirstFailure: fr.Summary.PredictedFirstFailure,
		TopChokePoint:         fr.Summary.TopChokePoint,
	}, nil
}

func (h *Harness) record(res *Result, err error) {
	if h.cfg.Recorder == nil {
		return
	}
	switch {
	case err != nil:
		h.cfg.Recorder.ObserveReplay("error", nil)
	case res.Warned():
		h.cfg.Recorder.ObserveReplay("warned", res.LeadTimeDays)
	default:
		h.cfg.Recorder.ObserveReplay("no_warning", nil)
	}
}

// dayBoundaries lists UTC midnights from first's day through last's day.
func dayBoundaries(first, last time.Time) []time.Time {
	start := first.UTC().Truncate(day)
	end := last.UTC().Truncate(day)
	var out []time.Time
	for d := start; !d.After(end); d = d.Add(day) {
		out = append(out, d)
	}
	return out
}
