// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package eri

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestCompute_Baseline(t *testing.T) {
	res := Compute(
		map[string]float64{"sla": 0.5, "queue": 0.2},
		map[string]float64{"sla": 1.5},
		nil,
	)

	assert.Equal(t, APIVersion, res.APIVersion)
	assert.InDelta(t, 0.75, res.Components["sla"], 1e-12)
	assert.InDelta(t, 0.2, res.Components["queue"], 1e-12, "missing weight defaults to 1")
	assert.InDelta(t, 0.95, res.Total, 1e-12)
	assert.InDelta(t, 1-math.Exp(-0.95), res.ERI, 1e-12)
	assert.Equal(t, res.Baseline, res.ERI)
	assert.Equal(t, "sla", res.TopDriver)
	assert.Nil(t, res.TimeToFailureDays)
	assert.Nil(t, res.Boost)

	require.Len(t, res.Drivers, 2)
	assert.Equal(t, "sla", res.Drivers[0].ControlID)
	assert.Equal(t, 1.5, res.Drivers[0].Weight)
	assert.Equal(t, "queue", res.Drivers[1].ControlID)
}

func TestCompute_TimeToFailureBoost(t *testing.T) {
	probs := map[string]float64{"sla": 0.6}
	base := 1 - math.Exp(-0.6)

	tests := []struct {
		name string
		ttf  float64
		want float64
	}{
		{"imminent", 0, base * 1.2},
		{"negative clamps to zero", -3, base * 1.2},
		{"one horizon out", 14, base * 1.0},
		{"far out", 140, base * (0.8 + 0.4/11)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Compute(probs, nil, ptr(tt.ttf))
			assert.InDelta(t, tt.want, res.ERI, 1e-12)
			assert.InDelta(t, base, res.Baseline, 1e-12)
			require.NotNil(t, res.TimeToFailureDays)
			assert.Equal(t, tt.ttf, *res.TimeToFailureDays)
			require.NotNil(t, res.Boost)
		})
	}
}

func TestCompute_BoostIsCapped(t *testing.T) {
	res := Compute(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1}, nil, ptr(0))
	assert.Equal(t, 1.0, res.ERI)
}

func TestCompute_Empty(t *testing.T) {
	res := Compute(nil, nil, nil)
	assert.Zero(t, res.ERI)
	assert.Zero(t, res.Total)
	assert.Equal(t, UnknownDriver, res.TopDriver)
	assert.Empty(t, res.Drivers)
	assert.NotNil(t, res.Components)
}

func TestCompute_TopDriverTieBreaksOnID(t *testing.T) {
	for range 20 {
		res := Compute(map[string]float64{"zulu": 0.4, "alpha": 0.4, "mike": 0.4}, nil, nil)
		assert.Equal(t, "alpha", res.TopDriver)
		assert.Equal(t, []string{"alpha", "mike", "zulu"},
			[]string{res.Drivers[0].ControlID, res.Drivers[1].ControlID, res.Drivers[2].ControlID})
	}
}

func TestCompute_NaNProbabilityContributesNothing(t *testing.T) {
	res := Compute(map[string]float64{"a": math.NaN(), "b": 0.3}, nil, nil)
	assert.Zero(t, res.Components["a"])
	assert.Equal(t, "b", res.TopDriver)
	assert.False(t, math.IsNaN(res.ERI))
}

func TestResult_Exceeds(t *testing.T) {
	res := Result{ERI: 0.65}
	assert.True(t, res.Exceeds(0.65))
	assert.False(t, res.Exceeds(0.66))
}

func TestCompute_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	ids := []string{"a", "b", "c", "d", "e"}
	toMaps := func(ps, ws []float64) (map[string]float64, map[string]float64) {
		probs := make(map[string]float64, len(ps))
		weights := make(map[string]float64, len(ws))
		for i := range ps {
			probs[ids[i]] = ps[i]
			weights[ids[i]] = ws[i]
		}
		return probs, weights
	}
	probsGen := gen.SliceOfN(len(ids), gen.Float64Range(0, 1))
	weightsGen := gen.SliceOfN(len(ids), gen.Float64Range(0, 3))

	properties.Property("unboosted index is in [0,1)", prop.ForAll(
		func(ps, ws []float64) bool {
			probs, weights := toMaps(ps, ws)
			e := Compute(probs, weights, nil).ERI
			return e >= 0 && e < 1
		},
		probsGen, weightsGen,
	))

	properties.Property("boosted index is in [0,1]", prop.ForAll(
		func(ps, ws []float64, ttf float64) bool {
			probs, weights := toMaps(ps, ws)
			e := Compute(probs, weights, &ttf).ERI
			return e >= 0 && e <= 1
		},
		probsGen, weightsGen, gen.Float64Range(-10, 100),
	))

	properties.Property("raising one probability never lowers the index", prop.ForAll(
		func(ps, ws []float64, idx int, bump float64, ttf float64) bool {
			probs, weights := toMaps(ps, ws)
			before := Compute(probs, weights, &ttf).ERI
			id := ids[idx]
			probs[id] = math.Min(1, probs[id]+bump)
			after := Compute(probs, weights, &ttf).ERI
			return after >= before
		},
		probsGen, weightsGen, gen.IntRange(0, len(ids)-1), gen.Float64Range(0, 1), gen.Float64Range(0, 60),
	))

	properties.Property("a shorter time to failure never lowers the index", prop.ForAll(
		func(ps []float64, near, extra float64) bool {
			probs, _ := toMaps(ps, make([]float64, len(ps)))
			far := near + extra
			return Compute(probs, nil, &near).ERI >= Compute(probs, nil, &far).ERI
		},
		probsGen, gen.Float64Range(0, 30), gen.Float64Range(0, 30),
	))

	properties.TestingRun(t)
}
