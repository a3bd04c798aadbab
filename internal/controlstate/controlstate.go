// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package controlstate classifies raw metric values into ordered health
// states and maps between discrete severity and continuous pressure.
//
// The four states are totally ordered by severity:
//
//	healthy(0) < constrained(1) < degraded(2) < failed(3)
//
// Severity→pressure and pressure→state are two separate fixed tables. They
// are not exact inverses of each other (0.35 maps back to constrained, 0.70
// to degraded) and neither is derived from the other.
package controlstate

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnknownDirection is returned when a threshold direction is neither
// higher_is_worse nor lower_is_worse.
var ErrUnknownDirection = errors.New("unknown threshold direction")

// State is a discrete control health state.
type State string

const (
	Healthy     State = "healthy"
	Constrained State = "constrained"
	Degraded    State = "degraded"
	Failed      State = "failed"
)

// States lists every state in increasing severity.
var States = []State{Healthy, Constrained, Degraded, Failed}

// Severity returns the 0-3 ordinal of s. Unknown states are treated as
// failed.
func (s State) Severity() int {
	switch s {
	case Healthy:
		return 0
	case Constrained:
		return 1
	case Degraded:
		return 2
	default:
		return 3
	}
}

// Valid reports whether s is one of the four known states.
func (s State) Valid() bool {
	switch s {
	case Healthy, Constrained, Degraded, Failed:
		return true
	}
	return false
}

// AtLeast reports whether s is as severe as other or worse.
func (s State) AtLeast(other State) bool {
	return s.Severity() >= other.Severity()
}

// StateForSeverity returns the state at the given ordinal, clamped to
// [healthy, failed].
func StateForSeverity(severity int) State {
	if severity <= 0 {
		return Healthy
	}
	if severity >= len(States) {
		return Failed
	}
	return States[severity]
}

// Direction says which way a metric gets worse.
type Direction string

const (
	HigherIsWorse Direction = "higher_is_worse"
	LowerIsWorse  Direction = "lower_is_worse"
)

// ParseDirection validates a direction string.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.TrimSpace(s)); d {
	case HigherIsWorse, LowerIsWorse:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDirection, s)
	}
}

// Bound is the boundary for one state. Max is used for higher_is_worse,
// Min for lower_is_worse. A nil field is unbounded.
type Bound struct {
	Max *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Min *float64 `yaml:"min,omitempty" json:"min,omitempty"`
}

// Thresholds holds one Bound per state. Missing states are unbounded.
type Thresholds map[State]Bound

func (t Thresholds) max(s State) float64 {
	if b, ok := t[s]; ok && b.Max != nil {
		return *b.Max
	}
	return math.Inf(1)
}

func (t Thresholds) min(s State) float64 {
	if b, ok := t[s]; ok && b.Min != nil {
		return *b.Min
	}
	return math.Inf(-1)
}

// Classification is the result of classifying a metric value.
type Classification struct {
	State       State   `json:"state"`
	Severity    int     `json:"severity"`
	MetricValue float64 `json:"metric_value"`
}

// Classify maps value onto a state.
//
// For higher_is_worse the states are tested from healthy upward and the
// first one whose max is >= value wins; a value above every max is failed.
// For lower_is_worse the states are tested from healthy downward and the
// first one whose min is <= value wins; a value below every min is failed.
// NaN is always failed.
func Classify(direction Direction, thresholds Thresholds, value float64) (Classification, error) {
	switch direction {
	case HigherIsWorse:
		for _, s := range States {
			if value <= thresholds.max(s) {
				return classification(s, value), nil
			}
		}
	case LowerIsWorse:
		for _, s := range States[:len(States)-1] {
			if value >= thresholds.min(s) {
				return classification(s, value), nil
			}
		}
	default:
		return Classification{}, fmt.Errorf("%w: %q", ErrUnknownDirection, direction)
	}
	return classification(Failed, value), nil
}

func classification(s State, value float64) Classification {
	return Classification{State: s, Severity: s.Severity(), MetricValue: value}
}

// severityPressure is the severity→pressure table.
var severityPressure = [...]float64{0.0, 0.35, 0.70, 1.0}

// SeverityToPressure converts a severity into a pressure in [0,1].
// Severities outside 0-3 map to 1.0.
func SeverityToPressure(severity int) float64 {
	if severity < 0 || severity >= len(severityPressure) {
		return 1.0
	}
	return severityPressure[severity]
}

// Pressure→state ladder.
const (
	constrainedAt = 0.20
	degradedAt    = 0.50
	failedAt      = 0.85
)

// StateFromPressure maps a pressure onto the state ladder:
// <0.20 healthy, <0.50 constrained, <0.85 degraded, otherwise failed.
func StateFromPressure(pressure float64) State {
	switch {
	case pressure < constrainedAt:
		return Healthy
	case pressure < degradedAt:
		return Constrained
	case pressure < failedAt:
		return Degraded
	default:
		return Failed
	}
}
