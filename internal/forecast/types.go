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
	"errors"
	"math/rand/v2"
	"time"

	"github.com/AleutianAI/adam/internal/controlstate"
	"github.com/AleutianAI/adam/internal/propagation"
)

// AlgorithmVersion identifies the stepping rules. Bump it when a change
// alters forecast output for identical input.
const AlgorithmVersion = "1.0"

// DefaultSeed seeds the noise source when Options.Seed is nil.
const DefaultSeed uint64 = 42

// Seed returns v as an explicit Options.Seed.
func Seed(v uint64) *uint64 { return &v }

// EffectiveSeed returns *seed, or DefaultSeed when seed is nil.
func EffectiveSeed(seed *uint64) uint64 {
	if seed == nil {
		return DefaultSeed
	}
	return *seed
}

// MaxSteps caps the number of simulation steps in one run.
const MaxSteps = 20_000

var (
	// ErrStartBeforeData is returned when start_time precedes every row.
	ErrStartBeforeData = errors.New("start_time is earlier than any available data")

	// ErrNoHistory is returned when the metric table is empty.
	ErrNoHistory = errors.New("no historical rows available")

	// ErrInvalidHorizon is returned for a horizon/step combination the
	// engine will not run.
	ErrInvalidHorizon = errors.New("invalid forecast horizon")

	// ErrInvalidMetricValue is returned when the anchor row holds a
	// missing or non-numeric value for a control's metric.
	ErrInvalidMetricValue = errors.New("invalid metric value at anchor row")
)

// Params are the pressure dynamics constants.
type Params struct {
	// DecayPerStep is the fraction of pressure lost each step.
	DecayPerStep float64 `json:"decay_per_step"`

	// IncomingGain scales pressure arriving over propagation edges.
	IncomingGain float64 `json:"incoming_gain"`

	// NoiseStdDev is the standard deviation of the per-step Gaussian
	// perturbation.
	NoiseStdDev float64 `json:"noise_stddev"`
}

// DefaultParams returns decay 0.03, gain 0.25, noise 0.01.
func DefaultParams() Params {
	return Params{DecayPerStep: 0.03, IncomingGain: 0.25, NoiseStdDev: 0.01}
}

// Options control a single forecast run.
type Options struct {
	// StartTime anchors the run. Nil means the latest row in the table.
	StartTime *time.Time

	// HorizonDays overrides the ontology horizon when > 0.
	HorizonDays int

	// Seed seeds the run's noise source. Nil means DefaultSeed; zero is
	// a valid seed.
	Seed *uint64

	// Rand replaces the seeded noise source when set. It is used by one
	// run only and must not be shared with a concurrent run.
	Rand *rand.Rand

	// Params overrides the dynamics constants. Nil means DefaultParams.
	Params *Params

	// Lookback overrides the ontology's probability look-back when > 0.
	Lookback int
}

// Point is the simulated state at one step.
type Point struct {
	Timestamp       time.Time                     `json:"timestamp"`
	Pressures       map[string]float64            `json:"pressures"`
	PredictedStates map[string]controlstate.State `json:"predicted_states"`
	Probabilities   map[string]float64            `json:"probabilities"`
}

// Summary condenses a forecast series.
type Summary struct {
	StartTime  time.Time `json:"start_time"`
	AnchorTime time.Time `json:"anchor_time"`

	// PredictedFirstFailure is the first step at which the SLA control is
	// degraded or failed.
	PredictedFirstFailure *time.Time `json:"predicted_first_sla_degrade_or_fail"`

	// TimeToFailureDays is PredictedFirstFailure minus StartTime in days.
	TimeToFailureDays *float64 `json:"time_to_failure_days"`

	AvgPressure      map[string]float64                     `json:"avg_pressure"`
	TopChokePoint    string                                 `json:"top_choke_point"`
	InitialStates    map[string]controlstate.Classification `json:"initial_states"`
	PropagationEdges []propagation.Edge                     `json:"propagation_edges"`
}

// Result is a complete forecast.
type Result struct {
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	HorizonDays      int       `json:"horizon_days"`
	StepHours        int       `json:"step_hours"`
	Seed             uint64    `json:"seed"`
	AlgorithmVersion string    `json:"algorithm_version"`
	Series           []Point   `json:"series"`
	Summary          Summary   `json:"summary"`
}

// FirstProbabilities returns the probabilities of the first point, or nil
// for an empty series.
func (r *Result) FirstProbabilities() map[string]float64 {
	if len(r.Series) == 0 {
		return nil
	}
	return r.Series[0].Probabilities
}
