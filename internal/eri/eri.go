// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package eri reduces per-control failure probabilities into the
// Escalation Risk Index.
//
// # Formula
//
//	component_i = probability_i × weight_i
//	total       = Σ component_i
//	eri         = 1 − exp(−total)
//
// When a time to failure is known the index is scaled by
// 0.8 + 0.4×boost, where boost = 1/(1 + max(0, ttf)/14), and capped at 1.
// An imminent failure raises the index by up to 20%; a distant one relaxes
// it toward 0.8× the baseline.
//
// Compute is pure and safe for concurrent use.
package eri

import (
	"cmp"
	"math"
	"slices"
)

// APIVersion is the version of the Result JSON shape.
const APIVersion = "1.0"

// UnknownDriver is reported as the top driver when there are no components.
const UnknownDriver = "unknown"

// Boost constants.
const (
	boostHorizonDays = 14.0
	boostFloor       = 0.8
	boostRange       = 0.4
)

// DefaultWeight applies to controls without an explicit impact weight.
const DefaultWeight = 1.0

// Driver is one control's contribution to the index.
type Driver struct {
	ControlID    string  `json:"control_id"`
	Probability  float64 `json:"probability"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Result is the aggregated index with attribution.
type Result struct {
	APIVersion string `json:"api_version"`

	// ERI is the final index. In [0,1) without a time to failure, [0,1]
	// with one.
	ERI float64 `json:"eri"`

	// Baseline is 1 − exp(−total) before any time-to-failure scaling.
	Baseline float64 `json:"baseline"`

	// Total is the sum of weighted components.
	Total float64 `json:"total"`

	// Components maps control id to probability × weight.
	Components map[string]float64 `json:"components"`

	// Drivers lists components largest first; equal contributions are
	// ordered by control id.
	Drivers []Driver `json:"drivers"`

	TopDriver string `json:"top_driver"`

	// TimeToFailureDays is the input used for the boost, if any.
	TimeToFailureDays *float64 `json:"time_to_failure_days"`

	// Boost is 1/(1 + t/14), present only when a time to failure was given.
	Boost *float64 `json:"boost,omitempty"`
}

// Compute aggregates probs into an index.
//
// # Inputs
//
//   - probs: Failure probability per control id. NaN entries contribute 0.
//   - weights: Impact weight per control id. Controls without an entry use
//     DefaultWeight.
//   - ttf: Optional time to failure in days. Negative values count as 0.
//
// # Outputs
//
//   - Result: Never fails.
func Compute(probs, weights map[string]float64, ttf *float64) Result {
	res := Result{
		APIVersion: APIVersion,
		Components: make(map[string]float64, len(probs)),
		Drivers:    make([]Driver, 0, len(probs)),
		TopDriver:  UnknownDriver,
	}

	for id, p := range probs {
		if math.IsNaN(p) {
			p = 0
		}
		w, ok := weights[id]
		if !ok {
			w = DefaultWeight
		}
		c := p * w
		res.Components[id] = c
		res.Drivers = append(res.Drivers, Driver{ControlID: id, Probability: p, Weight: w, Contribution: c})
	}

	// Summing in id order keeps the total independent of map iteration.
	slices.SortFunc(res.Drivers, func(a, b Driver) int {
		return cmp.Compare(a.ControlID, b.ControlID)
	})
	for _, d := range res.Drivers {
		res.Total += d.Contribution
	}
	slices.SortStableFunc(res.Drivers, func(a, b Driver) int {
		return cmp.Compare(b.Contribution, a.Contribution)
	})
	if len(res.Drivers) > 0 {
		res.TopDriver = res.Drivers[0].ControlID
	}

	res.Baseline = 1 - math.Exp(-res.Total)
	res.ERI = res.Baseline

	if ttf != nil {
		t := math.Max(0, *ttf)
		boost := 1 / (1 + t/boostHorizonDays)
		res.ERI = math.Min(1, res.Baseline*(boostFloor+boostRange*boost))
		ttfCopy := *ttf
		res.TimeToFailureDays = &ttfCopy
		res.Boost = &boost
	}
	return res
}

// Exceeds reports whether the index reached threshold.
func (r Result) Exceeds(threshold float64) bool {
	return r.ERI >= threshold
}
