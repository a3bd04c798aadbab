// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/adam/internal/controlstate"
	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/propagation"
	"github.com/AleutianAI/adam/internal/telemetry"
)

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// control renders one higher_is_worse control with ladder 1/2/3.
func control(id string) string {
	return fmt.Sprintf(`
  - id: %[1]s
    name: %[1]s
    metric: %[1]s_metric
    direction: higher_is_worse
    states:
      healthy: {max: 1}
      constrained: {max: 2}
      degraded: {max: 3}
      failed: {}`, id)
}

func buildOntology(t *testing.T, ids []string, extra string) *ontology.Ontology {
	t.Helper()
	var b strings.Builder
	b.WriteString("controls:")
	for _, id := range ids {
		b.WriteString(control(id))
	}
	b.WriteString("\n")
	b.WriteString(extra)
	o, err := ontology.Parse([]byte(b.String()))
	require.NoError(t, err)
	return o
}

// constantTable holds every metric at a fixed value for n rows.
func constantTable(t *testing.T, n, stepHours int, values map[string]float64) *telemetry.Table {
	t.Helper()
	ts := make([]time.Time, n)
	cols := make(map[string][]float64, len(values))
	for i := range ts {
		ts[i] = t0.Add(time.Duration(i*stepHours) * time.Hour)
	}
	for metric, v := range values {
		col := make([]float64, n)
		for i := range col {
			col[i] = v
		}
		cols[metric] = col
	}
	tbl, err := telemetry.NewTable(ts, cols)
	require.NoError(t, err)
	return tbl
}

func noNoise() *Params {
	p := DefaultParams()
	p.NoiseStdDev = 0
	return &p
}

func TestRun_ShapeAndTimestamps(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance", "queue"}, "")
	tbl := constantTable(t, 8, 6, map[string]float64{"sla_compliance_metric": 0.5, "queue_metric": 1.5})

	res, err := Run(context.Background(), tbl, ont, Options{})
	require.NoError(t, err)

	assert.Len(t, res.Series, 14*24/6)
	start := tbl.Last()
	assert.Equal(t, start, res.Start)
	assert.Equal(t, start.Add(6*time.Hour), res.Series[0].Timestamp)
	assert.Equal(t, start.Add(14*24*time.Hour), res.End)
	assert.Equal(t, DefaultSeed, res.Seed)
	assert.Equal(t, 14, res.HorizonDays)
	assert.Equal(t, 6, res.StepHours)
	assert.Equal(t, controlstate.Constrained, res.Summary.InitialStates["queue"].State)
	assert.Empty(t, res.Summary.PropagationEdges)
}

func TestRun_HorizonOverride(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance"}, "")
	tbl := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 0})

	res, err := Run(context.Background(), tbl, ont, Options{HorizonDays: 3})
	require.NoError(t, err)
	assert.Len(t, res.Series, 12)
	assert.Equal(t, 3, res.HorizonDays)
}

func TestRun_ExplicitStartBetweenRows(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance"}, "")
	tbl, err := telemetry.NewTable(
		[]time.Time{t0, t0.Add(12 * time.Hour), t0.Add(24 * time.Hour)},
		map[string][]float64{"sla_compliance_metric": {0.5, 2.5, 9}},
	)
	require.NoError(t, err)

	start := t0.Add(18 * time.Hour)
	res, err := Run(context.Background(), tbl, ont, Options{StartTime: &start, Params: noNoise()})
	require.NoError(t, err)

	assert.Equal(t, start, res.Summary.StartTime)
	assert.Equal(t, t0.Add(12*time.Hour), res.Summary.AnchorTime)
	assert.Equal(t, controlstate.Degraded, res.Summary.InitialStates["sla_compliance"].State)
	assert.Equal(t, start.Add(6*time.Hour), res.Series[0].Timestamp)
}

func TestRun_Errors(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance", "queue"}, "")
	good := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 0, "queue_metric": 0})

	t.Run("start before data", func(t *testing.T) {
		early := t0.Add(-time.Minute)
		_, err := Run(context.Background(), good, ont, Options{StartTime: &early})
		assert.ErrorIs(t, err, ErrStartBeforeData)
	})

	t.Run("empty table", func(t *testing.T) {
		empty, err := telemetry.NewTable(nil, map[string][]float64{"sla_compliance_metric": {}, "queue_metric": {}})
		require.NoError(t, err)
		_, err = Run(context.Background(), empty, ont, Options{})
		assert.ErrorIs(t, err, ErrNoHistory)
	})

	t.Run("missing metric names the control", func(t *testing.T) {
		partial := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 0})
		_, err := Run(context.Background(), partial, ont, Options{})
		var mm *telemetry.MissingMetricError
		require.ErrorAs(t, err, &mm)
		assert.Equal(t, "queue", mm.ControlID)
		assert.Equal(t, "queue_metric", mm.Metric)
		assert.ErrorIs(t, err, telemetry.ErrMissingMetric)
	})

	t.Run("NaN at anchor", func(t *testing.T) {
		bad := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": math.NaN(), "queue_metric": 0})
		_, err := Run(context.Background(), bad, ont, Options{})
		assert.ErrorIs(t, err, ErrInvalidMetricValue)
	})

	t.Run("non-divisible horizon override", func(t *testing.T) {
		fiveHour := buildOntology(t, []string{"sla_compliance"}, "forecast:\n  horizon_days: 5\n  step_hours: 5\n")
		tbl := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 0})
		_, err := Run(context.Background(), tbl, fiveHour, Options{HorizonDays: 7})
		assert.ErrorIs(t, err, ErrInvalidHorizon)
	})

	t.Run("unvalidated ontology", func(t *testing.T) {
		raw := ontology.WithDefaults()
		_, err := Run(context.Background(), good, raw, Options{})
		assert.ErrorIs(t, err, ontology.ErrNotValidated)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, good, ont, Options{})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestStepCount(t *testing.T) {
	n, err := stepCount(14, 6)
	require.NoError(t, err)
	assert.Equal(t, 56, n)

	for _, tc := range [][2]int{{0, 6}, {14, 0}, {14, -6}, {7, 5}, {10000, 1}} {
		_, err := stepCount(tc[0], tc[1])
		assert.ErrorIs(t, err, ErrInvalidHorizon, "horizon %d step %d", tc[0], tc[1])
	}
}

func TestEstimateProbability(t *testing.T) {
	assert.Equal(t, 0.0, EstimateProbability(nil))
	assert.Equal(t, 0.5, EstimateProbability([]float64{0.5}))
	assert.Equal(t, 0.4, EstimateProbability([]float64{0.2, 0.4}))
	assert.InDelta(t, 0.65*0.5+0.42*0.3, EstimateProbability([]float64{0.2, 0.2, 0.5}), 1e-12)
	assert.InDelta(t, 0.65*0.2, EstimateProbability([]float64{0.8, 0.8, 0.2}), 1e-12, "falling pressure has no trend bonus")
	assert.Equal(t, 1.0, EstimateProbability([]float64{0, 0, 1.0}))
}

// A control held at a healthy value stays healthy and the escalation
// index stays well below the warning threshold.
func TestRun_ConstantHealthyStaysHealthy(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance"}, "")
	tbl := constantTable(t, 20, 6, map[string]float64{"sla_compliance_metric": 0.2})

	quiet, err := Run(context.Background(), tbl, ont, Options{Params: noNoise()})
	require.NoError(t, err)
	for i, pt := range quiet.Series {
		assert.Equal(t, controlstate.Healthy, pt.PredictedStates["sla_compliance"], "step %d", i)
		assert.Zero(t, pt.Pressures["sla_compliance"], "step %d", i)
	}
	assert.Nil(t, quiet.Summary.PredictedFirstFailure)
	assert.Nil(t, quiet.Summary.TimeToFailureDays)

	noisy, err := Run(context.Background(), tbl, ont, Options{})
	require.NoError(t, err)
	score := eri.Compute(noisy.FirstProbabilities(), ont.Weights(), noisy.Summary.TimeToFailureDays)
	assert.Less(t, score.ERI, ont.WarningThreshold())
}

// A two-day edge at six-hour steps delivers nothing for eight steps, then
// the amplified source pressure arrives.
func TestRun_DelayedPropagation(t *testing.T) {
	edge := "propagation_graph:\n  - {src: src, dst: dst, delay_days: 2, amplification: 1.5}\n"
	withEdge := buildOntology(t, []string{"sla_compliance", "dst", "src"}, edge)
	withoutEdge := buildOntology(t, []string{"sla_compliance", "dst", "src"}, "")
	tbl := constantTable(t, 4, 6, map[string]float64{
		"sla_compliance_metric": 0,
		"dst_metric":            0,
		"src_metric":            50, // failed, pressure 1.0
	})

	a, err := Run(context.Background(), tbl, withEdge, Options{Params: noNoise()})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Zero(t, a.Series[i].Pressures["dst"], "step %d", i)
	}
	assert.Equal(t, 0.375, a.Series[8].Pressures["dst"])
	assert.Greater(t, a.Series[9].Pressures["dst"], a.Series[8].Pressures["dst"])

	// With noise on, the edge is the only difference between runs with the
	// same seed.
	b, err := Run(context.Background(), tbl, withEdge, Options{Seed: Seed(7)})
	require.NoError(t, err)
	c, err := Run(context.Background(), tbl, withoutEdge, Options{Seed: Seed(7)})
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Equal(t, c.Series[i].Pressures["dst"], b.Series[i].Pressures["dst"], "step %d", i)
	}
	assert.Greater(t, b.Series[8].Pressures["dst"], c.Series[8].Pressures["dst"])
}

func TestRun_SameSeedIsReproducible(t *testing.T) {
	ont, err := ontology.Load("../ontology/testdata/ontology.yaml")
	require.NoError(t, err)
	tbl := constantTable(t, 12, 6, map[string]float64{
		"vendor_latency_ms":        420,
		"ops_queue_depth":          350,
		"override_rate_per_hr":     2,
		"review_throughput_per_hr": 95,
		"sla_breach_rate":          0.004,
		"error_rate_pct":           0.4,
		"cpu_util_pct":             55,
	})

	first, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(1234)})
	require.NoError(t, err)
	second, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(1234)})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(99)})
	require.NoError(t, err)
	assert.NotEqual(t, first.Series, other.Series)

	injected, err := Run(context.Background(), tbl, ont, Options{Rand: rand.New(rand.NewPCG(1234, pcgStream))})
	require.NoError(t, err)
	assert.Equal(t, first.Series, injected.Series)
}

func TestRun_ZeroSeedIsHonoured(t *testing.T) {
	ont := buildOntology(t, []string{"sla_compliance", "queue"}, "")
	tbl := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 1.5, "queue_metric": 2.5})

	zero, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(0)})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), zero.Seed)

	def, err := Run(context.Background(), tbl, ont, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed, def.Seed)
	assert.NotEqual(t, zero.Series, def.Series)

	again, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(0)})
	require.NoError(t, err)
	assert.Equal(t, zero.Series, again.Series)
}

func TestEffectiveSeed(t *testing.T) {
	assert.Equal(t, DefaultSeed, EffectiveSeed(nil))
	assert.Equal(t, uint64(0), EffectiveSeed(Seed(0)))
	assert.Equal(t, uint64(17), EffectiveSeed(Seed(17)))
}

// A delay longer than the horizon never reaches the destination.
func TestRun_DelayBeyondHorizonNeverArrives(t *testing.T) {
	edge := fmt.Sprintf("propagation_graph:\n  - {src: src, dst: dst, delay_days: %d, amplification: 1.5}\n", propagation.MaxDelayDays)
	ont := buildOntology(t, []string{"sla_compliance", "dst", "src"}, edge)
	tbl := constantTable(t, 4, 6, map[string]float64{
		"sla_compliance_metric": 0,
		"dst_metric":            0,
		"src_metric":            50,
	})

	res, err := Run(context.Background(), tbl, ont, Options{Params: noNoise()})
	require.NoError(t, err)
	require.Len(t, res.Series, 56)
	for i, pt := range res.Series {
		assert.Zero(t, pt.Pressures["dst"], "step %d", i)
	}
}

func TestRun_TimeToFailure(t *testing.T) {
	ont := buildOntology(t, []string{"queue", "sla_compliance"}, "")
	tbl := constantTable(t, 4, 6, map[string]float64{"sla_compliance_metric": 10, "queue_metric": 0})

	res, err := Run(context.Background(), tbl, ont, Options{Params: noNoise()})
	require.NoError(t, err)
	require.NotNil(t, res.Summary.PredictedFirstFailure)
	assert.Equal(t, res.Series[0].Timestamp, *res.Summary.PredictedFirstFailure)
	assert.InDelta(t, 0.25, *res.Summary.TimeToFailureDays, 1e-12)
	assert.Equal(t, "sla_compliance", res.Summary.TopChokePoint)
}

func TestRun_ChokePointTieBreaksOnID(t *testing.T) {
	ont := buildOntology(t, []string{"zeta", "alpha", "sla_compliance"}, "")
	tbl := constantTable(t, 4, 6, map[string]float64{"zeta_metric": 2.5, "alpha_metric": 2.5, "sla_compliance_metric": 0})

	res, err := Run(context.Background(), tbl, ont, Options{Params: noNoise()})
	require.NoError(t, err)
	assert.Equal(t, res.Summary.AvgPressure["zeta"], res.Summary.AvgPressure["alpha"])
	assert.Equal(t, "alpha", res.Summary.TopChokePoint)
}

func TestRun_CustomSLAControl(t *testing.T) {
	ont := buildOntology(t, []string{"uptime", "queue"}, "forecast:\n  sla_control: uptime\n")
	tbl := constantTable(t, 4, 6, map[string]float64{"uptime_metric": 10, "queue_metric": 0})

	res, err := Run(context.Background(), tbl, ont, Options{Params: noNoise()})
	require.NoError(t, err)
	assert.NotNil(t, res.Summary.TimeToFailureDays)

	// Without a matching SLA control no failure time is reported.
	plain := buildOntology(t, []string{"uptime"}, "")
	res, err = Run(context.Background(), constantTable(t, 4, 6, map[string]float64{"uptime_metric": 10}), plain, Options{})
	require.NoError(t, err)
	assert.Nil(t, res.Summary.TimeToFailureDays)
}

func TestRun_PressureStaysInUnitInterval(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("pressure is always within [0,1]", prop.ForAll(
		func(seed uint64, amp float64, noise float64, a, b float64) bool {
			edges := fmt.Sprintf("propagation_graph:\n"+
				"  - {src: a, dst: b, delay_days: 0, amplification: %[1]v}\n"+
				"  - {src: b, dst: a, delay_days: 1, amplification: %[1]v}\n"+
				"  - {src: a, dst: sla_compliance, delay_days: 1, amplification: %[1]v}\n", amp)
			ont, err := ontology.Parse([]byte("controls:" + control("a") + control("b") + control("sla_compliance") + "\n" + edges))
			if err != nil {
				return false
			}
			tbl, err := telemetry.NewTable([]time.Time{t0}, map[string][]float64{
				"a_metric": {a}, "b_metric": {b}, "sla_compliance_metric": {0},
			})
			if err != nil {
				return false
			}
			params := DefaultParams()
			params.NoiseStdDev = noise
			res, err := Run(context.Background(), tbl, ont, Options{Seed: Seed(seed), Params: &params, HorizonDays: 3})
			if err != nil {
				return false
			}
			for _, pt := range res.Series {
				for id, p := range pt.Pressures {
					if p < 0 || p > 1 || pt.Probabilities[id] < 0 || pt.Probabilities[id] > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.UInt64Range(1, math.MaxUint64), gen.Float64Range(0, 5), gen.Float64Range(0, 0.5),
		gen.Float64Range(0, 5), gen.Float64Range(0, 5),
	))

	properties.TestingRun(t)
}
