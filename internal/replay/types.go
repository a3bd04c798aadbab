// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"errors"
	"fmt"
	"time"
)

// APIVersion is the version of the Result JSON shape.
const APIVersion = "1.0"

// DefaultLookbackDays is used when Request.LookbackDays is zero.
const DefaultLookbackDays = 30

// narrativeStatement is carried on every result for downstream reports.
const narrativeStatement = "Adam can raise an escalation warning before a known incident using only control-health vitals."

var (
	// ErrEmptyWindow is returned when no rows fall inside
	// [incident - lookback, incident].
	ErrEmptyWindow = errors.New("no data in the requested replay window")

	// ErrInvalidRequest is returned for a malformed Request.
	ErrInvalidRequest = errors.New("invalid replay request")
)

// Request describes one backtest.
type Request struct {
	// IncidentTime is the known incident (ground truth). Required.
	IncidentTime time.Time

	// LookbackDays is the window length before the incident. 0 means
	// DefaultLookbackDays.
	LookbackDays int

	// HorizonDays overrides the ontology horizon for every per-day
	// forecast. 0 keeps the ontology value.
	HorizonDays int

	// Seed is passed to every per-day forecast. Nil means the forecast
	// default.
	Seed *uint64
}

func (r Request) withDefaults() (Request, error) {
	if r.IncidentTime.IsZero() {
		return r, fmt.Errorf("%w: incident time is required", ErrInvalidRequest)
	}
	if r.LookbackDays < 0 {
		return r, fmt.Errorf("%w: lookback_days must not be negative, got %d", ErrInvalidRequest, r.LookbackDays)
	}
	if r.HorizonDays < 0 {
		return r, fmt.Errorf("%w: horizon_days must not be negative, got %d", ErrInvalidRequest, r.HorizonDays)
	}
	if r.LookbackDays == 0 {
		r.LookbackDays = DefaultLookbackDays
	}
	r.IncidentTime = r.IncidentTime.UTC()
	return r, nil
}

// Point is the outcome of one replayed day.
type Point struct {
	// Day is the UTC midnight boundary this point was computed for.
	Day time.Time `json:"day"`

	// AsOf is the latest observation at or before Day; the forecast is
	// anchored there.
	AsOf time.Time `json:"as_of"`

	ERI                   float64    `json:"eri"`
	TopDriver             string     `json:"top_driver"`
	TimeToFailureDays     *float64   `json:"time_to_failure_days"`
	PredictedFirstFailure *time.Time `json:"predicted_first_sla_degrade_or_fail"`
	TopChokePoint         string     `json:"top_choke_point"`
}

// Narrative summarises a run for reports.
type Narrative struct {
	Statement    string   `json:"what_this_proves"`
	Threshold    float64  `json:"eri_warning_threshold"`
	LeadTimeDays *float64 `json:"lead_time_days"`
	Headline     string   `json:"headline"`
}

// Result is a completed backtest.
type Result struct {
	APIVersion string    `json:"api_version"`
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`

	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	IncidentTime time.Time `json:"incident_time"`
	LookbackDays int       `json:"lookback_days"`
	HorizonDays  int       `json:"horizon_days"`
	Seed         uint64    `json:"seed"`

	Threshold        float64    `json:"eri_warning_threshold"`
	FirstWarningTime *time.Time `json:"first_warning_time"`
	LeadTimeDays     *float64   `json:"lead_time_days"`

	Series    []Point   `json:"eri_series"`
	Narrative Narrative `json:"narrative"`
}

// Warned reports whether any day reached the warning threshold.
func (r *Result) Warned() bool {
	return r.FirstWarningTime != nil
}

// FirstWarning returns the series point that raised the first warning.
func (r *Result) FirstWarning() (Point, bool) {
	if r.FirstWarningTime == nil {
		return Point{}, false
	}
	for _, p := range r.Series {
		if p.AsOf.Equal(*r.FirstWarningTime) {
			return p, true
		}
	}
	return Point{}, false
}

// MaxERI returns the highest index in the series, or 0 when empty.
func (r *Result) MaxERI() float64 {
	var m float64
	for _, p := range r.Series {
		m = max(m, p.ERI)
	}
	return m
}

func buildNarrative(threshold float64, first *time.Time, lead *float64) Narrative {
	n := Narrative{
		Statement:    narrativeStatement,
		Threshold:    threshold,
		LeadTimeDays: lead,
	}
	if first == nil {
		n.Headline = fmt.Sprintf("No ERI warning at threshold %.2f before the incident.", threshold)
		return n
	}
	n.Headline = fmt.Sprintf("First ERI warning at %s, lead time %.2f days (threshold %.2f).",
		first.Format(time.RFC3339), *lead, threshold)
	return n
}
