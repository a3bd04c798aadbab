// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package forecast simulates control pressure forward in time.
//
// # Algorithm
//
// The run is anchored on the latest row at or before the start time. Each
// control's metric at that row is classified and its severity converted
// to an initial pressure. The engine then takes horizon*24/step_hours
// steps. Each step:
//
//  1. every propagation edge pushes pressure(src) × amplification into its
//     delay buffer and pops the contribution arriving at dst
//  2. every control, in declaration order, moves to
//     p×(1−decay) + incoming×gain + N(0, σ), clamped to [0,1]
//  3. the predicted state is read off the pressure ladder
//  4. failure probability is estimated from the trailing look-back
//     window of the control's pressure history
//
// After the loop the summary records the first step at which the SLA
// control is degraded or failed, mean pressure per control, and the
// control with the highest mean (the choke point; ties go to the smaller
// id).
//
// # Determinism
//
// Each run owns its noise source, pressure tracks and delay buffers. Two
// runs with the same table, ontology and seed produce identical results.
package forecast

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/AleutianAI/adam/internal/controlstate"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/telemetry"
)

// pcgStream is the fixed PCG stream selector paired with the seed.
const pcgStream uint64 = 0xda3e39cb94b95bdb

// Probability estimate weights.
const (
	levelWeight = 0.65
	trendWeight = 0.35
	trendGain   = 1.2
	minTrendLen = 3
)

// Run produces a forecast for ont from the history in tbl.
//
// # Inputs
//
//   - ctx: Carries the tracing span. Checked for cancellation before the
//     run starts.
//   - tbl: Metric history. Must contain every control's metric column.
//   - ont: A validated ontology.
//   - opts: Start time, horizon override and seed.
//
// # Outputs
//
//   - *Result: The series and summary.
//   - error: ErrNoHistory, ErrStartBeforeData, ErrInvalidHorizon,
//     ErrInvalidMetricValue, *telemetry.MissingMetricError, or
//     ontology.ErrNotValidated.
func Run(ctx context.Context, tbl *telemetry.Table, ont *ontology.Ontology, opts Options) (*Result, error) {
	ctx, span := startRunSpan(ctx, opts)
	defer span.End()
	started := time.Now()

	res, err := run(ctx, tbl, ont, opts)
	steps := 0
	if res != nil {
		steps = len(res.Series)
	}
	setRunSpanResult(span, res, err)
	recordRunMetrics(ctx, time.Since(started), steps, err)
	return res, err
}

func run(ctx context.Context, tbl *telemetry.Table, ont *ontology.Ontology, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ont == nil || !ont.Validated() {
		return nil, ontology.ErrNotValidated
	}
	if tbl == nil || tbl.Empty() {
		return nil, ErrNoHistory
	}

	for _, c := range ont.Controls {
		if !tbl.HasColumn(c.Metric) {
			return nil, &telemetry.MissingMetricError{ControlID: c.ID, Metric: c.Metric}
		}
	}

	horizon := ont.Forecast.HorizonDays
	if opts.HorizonDays > 0 {
		horizon = opts.HorizonDays
	}
	stepHours := ont.Forecast.StepHours
	steps, err := stepCount(horizon, stepHours)
	if err != nil {
		return nil, err
	}

	start := tbl.Last()
	if opts.StartTime != nil {
		start = opts.StartTime.UTC()
	}
	anchor := tbl.LastAtOrBefore(start)
	if anchor < 0 {
		return nil, fmt.Errorf("%w: start %s, first row %s",
			ErrStartBeforeData, start.Format(time.RFC3339), tbl.First().Format(time.RFC3339))
	}

	params := DefaultParams()
	if opts.Params != nil {
		params = *opts.Params
	}
	lookback := ont.Forecast.ProbabilityLookback
	if opts.Lookback > 0 {
		lookback = opts.Lookback
	}
	seed := EffectiveSeed(opts.Seed)
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(seed, pcgStream))
	}

	ids := ont.ControlIDs()
	pressures := make(map[string]float64, len(ids))
	tracks := make([][]float64, len(ids))
	initial := make(map[string]controlstate.Classification, len(ids))
	for i, c := range ont.Controls {
		v, _ := tbl.Value(anchor, c.Metric)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: control %s metric %s at %s is %v",
				ErrInvalidMetricValue, c.ID, c.Metric, tbl.Timestamp(anchor).Format(time.RFC3339), v)
		}
		cl, err := c.Classify(v)
		if err != nil {
			return nil, err
		}
		initial[c.ID] = cl
		p := controlstate.SeverityToPressure(cl.Severity)
		pressures[c.ID] = p
		tracks[i] = make([]float64, 1, steps+1)
		tracks[i][0] = p
	}

	network, err := ont.Graph().NewNetwork(stepHours, steps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHorizon, err)
	}

	step := time.Duration(stepHours) * time.Hour
	series := make([]Point, 0, steps)
	current := start
	for range steps {
		incoming := network.Step(pressures)

		point := Point{
			Pressures:       make(map[string]float64, len(ids)),
			PredictedStates: make(map[string]controlstate.State, len(ids)),
			Probabilities:   make(map[string]float64, len(ids)),
		}
		for i, id := range ids {
			p := pressures[id]*(1-params.DecayPerStep) + incoming[id]*params.IncomingGain
			p += rng.NormFloat64() * params.NoiseStdDev
			p = clamp01(p)
			pressures[id] = p
			tracks[i] = append(tracks[i], p)

			point.Pressures[id] = p
			point.PredictedStates[id] = controlstate.StateFromPressure(p)
			point.Probabilities[id] = EstimateProbability(tail(tracks[i], lookback))
		}

		current = current.Add(step)
		point.Timestamp = current
		series = append(series, point)
	}

	res := &Result{
		Start:            start,
		End:              current,
		HorizonDays:      horizon,
		StepHours:        stepHours,
		Seed:             seed,
		AlgorithmVersion: AlgorithmVersion,
		Series:           series,
		Summary:          summarize(series, ids, ont, start, tbl.Timestamp(anchor)),
	}
	res.Summary.InitialStates = initial
	return res, nil
}

// stepCount validates the horizon and returns horizon*24/stepHours.
func stepCount(horizonDays, stepHours int) (int, error) {
	if stepHours <= 0 {
		return 0, fmt.Errorf("%w: step_hours must be positive, got %d", ErrInvalidHorizon, stepHours)
	}
	if horizonDays <= 0 {
		return 0, fmt.Errorf("%w: horizon_days must be positive, got %d", ErrInvalidHorizon, horizonDays)
	}
	hours := horizonDays * 24
	if hours%stepHours != 0 {
		return 0, fmt.Errorf("%w: step_hours %d does not evenly divide %d hours", ErrInvalidHorizon, stepHours, hours)
	}
	steps := hours / stepHours
	if steps > MaxSteps {
		return 0, fmt.Errorf("%w: %d steps exceeds the limit of %d", ErrInvalidHorizon, steps, MaxSteps)
	}
	return steps, nil
}

// EstimateProbability turns a window of pressure samples (oldest first)
// into a failure probability in [0,1].
//
// With fewer than three samples the latest pressure is used directly.
// Otherwise the estimate is 0.65×current plus 0.42×the positive part of
// (current − mean of the earlier samples). Falling pressure is not
// penalised.
func EstimateProbability(window []float64) float64 {
	if len(window) == 0 {
		return 0
	}
	cur := window[len(window)-1]
	if len(window) < minTrendLen {
		return clamp01(cur)
	}
	prev := window[:len(window)-1]
	var sum float64
	for _, v := range prev {
		sum += v
	}
	trend := cur - sum/float64(len(prev))
	return clamp01(levelWeight*cur + trendWeight*math.Max(0, trend)*trendGain)
}

func summarize(series []Point, ids []string, ont *ontology.Ontology, start, anchor time.Time) Summary {
	s := Summary{
		StartTime:        start,
		AnchorTime:       anchor,
		AvgPressure:      make(map[string]float64, len(ids)),
		PropagationEdges: ont.Graph().Edges(),
	}

	sla := ont.SLAControlID()
	if _, ok := ont.Control(sla); ok {
		for _, pt := range series {
			if pt.PredictedStates[sla].AtLeast(controlstate.Degraded) {
				at := pt.Timestamp
				days := at.Sub(start).Hours() / 24
				s.PredictedFirstFailure = &at
				s.TimeToFailureDays = &days
				break
			}
		}
	}

	for _, id := range ids {
		var sum float64
		for _, pt := range series {
			sum += pt.Pressures[id]
		}
		if len(series) > 0 {
			s.AvgPressure[id] = sum / float64(len(series))
		}
	}

	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	best := math.Inf(-1)
	for _, id := range sorted {
		if avg := s.AvgPressure[id]; avg > best {
			best = avg
			s.TopChokePoint = id
		}
	}
	return s
}

func tail(xs []float64, n int) []float64 {
	if n <= 0 || len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(1, math.Max(0, v))
}
