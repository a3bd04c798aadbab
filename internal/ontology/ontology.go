// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ontology describes the controls an organisation monitors, how
// stress propagates between them, and the forecast settings that apply.
//
// An Ontology is loaded from YAML, validated once, and then treated as
// immutable. It is the only state shared between forecast runs.
//
// Example document:
//
//	version: "0.2"
//	controls:
//	  - id: vendor_latency
//	    name: Vendor latency
//	    metric: vendor_latency_ms
//	    direction: higher_is_worse
//	    states:
//	      healthy: {max: 250}
//	      constrained: {max: 400}
//	      degraded: {max: 650}
//	      failed: {}
//	propagation_graph:
//	  - {src: vendor_latency, dst: sla_compliance, delay_days: 3, amplification: 1.2}
//	impact_weights:
//	  sla_compliance: 1.5
//	forecast:
//	  horizon_days: 14
//	  step_hours: 6
//	  warning_thresholds: {eri: 0.65}
package ontology

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/adam/internal/controlstate"
	"github.com/AleutianAI/adam/internal/propagation"
	"github.com/AleutianAI/adam/internal/telemetry"
)

// Defaults applied when a document leaves a forecast setting out.
const (
	DefaultVersion             = "0.1"
	DefaultHorizonDays         = 14
	DefaultStepHours           = 6
	DefaultWarningERI          = 0.65
	DefaultSLAControl          = "sla_compliance"
	DefaultProbabilityLookback = 12
	DefaultImpactWeight        = 1.0
)

var (
	// ErrInvalidOntology wraps every load and validation failure.
	ErrInvalidOntology = errors.New("invalid ontology")

	// ErrNotValidated is returned when an Ontology is used before
	// Validate has succeeded.
	ErrNotValidated = errors.New("ontology has not been validated")
)

// ValidationError lists every problem found in an ontology document.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	src := e.Source
	if src == "" {
		src = "ontology"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: %s", src, e.Problems[0])
	}
	return fmt.Sprintf("%s: %d problems: %s", src, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Is makes errors.Is(err, ErrInvalidOntology) true.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidOntology
}

// Control is a single monitored control.
type Control struct {
	ID        string                  `yaml:"id" json:"id" validate:"required"`
	Name      string                  `yaml:"name" json:"name"`
	Metric    string                  `yaml:"metric" json:"metric" validate:"required"`
	Direction controlstate.Direction  `yaml:"direction" json:"direction" validate:"required,oneof=higher_is_worse lower_is_worse"`
	States    controlstate.Thresholds `yaml:"states" json:"states"`
}

// Classify classifies a metric value with this control's thresholds.
func (c Control) Classify(value float64) (controlstate.Classification, error) {
	cl, err := controlstate.Classify(c.Direction, c.States, value)
	if err != nil {
		return cl, fmt.Errorf("control %s: %w", c.ID, err)
	}
	return cl, nil
}

// WarningThresholds holds the escalation thresholds.
type WarningThresholds struct {
	ERI float64 `yaml:"eri" json:"eri" validate:"finite,gt=0,lte=1"`
}

// ForecastSettings configures the forecast engine for this ontology.
type ForecastSettings struct {
	HorizonDays       int               `yaml:"horizon_days" json:"horizon_days" validate:"gt=0"`
	StepHours         int               `yaml:"step_hours" json:"step_hours" validate:"gt=0"`
	WarningThresholds WarningThresholds `yaml:"warning_thresholds" json:"warning_thresholds"`

	// SLAControl is the control whose predicted degradation marks the
	// forecast's first failure. Empty means DefaultSLAControl.
	SLAControl string `yaml:"sla_control,omitempty" json:"sla_control,omitempty"`

	// ProbabilityLookback is the number of trailing pressure samples used
	// to estimate failure probability.
	ProbabilityLookback int `yaml:"probability_lookback" json:"probability_lookback" validate:"gte=1,lte=1000"`
}

// Ontology is the full control model.
type Ontology struct {
	Version          string             `yaml:"version" json:"version"`
	Controls         []Control          `yaml:"controls" json:"controls" validate:"required,min=1,dive"`
	PropagationGraph []propagation.Edge `yaml:"propagation_graph" json:"propagation_graph" validate:"dive"`
	ImpactWeights    map[string]float64 `yaml:"impact_weights" json:"impact_weights"`
	Forecast         ForecastSettings   `yaml:"forecast" json:"forecast"`
	CompanyProfile   map[string]any     `yaml:"company_profile" json:"company_profile,omitempty"`

	graph *propagation.Graph
	index map[string]int
}

// WithDefaults returns an Ontology pre-populated with every default. YAML
// decoding on top of it leaves absent settings at their default.
func WithDefaults() *Ontology {
	return &Ontology{
		Version: DefaultVersion,
		Forecast: ForecastSettings{
			HorizonDays:         DefaultHorizonDays,
			StepHours:           DefaultStepHours,
			WarningThresholds:   WarningThresholds{ERI: DefaultWarningERI},
			ProbabilityLookback: DefaultProbabilityLookback,
		},
	}
}

// Graph returns the propagation graph, or nil before Validate.
func (o *Ontology) Graph() *propagation.Graph {
	return o.graph
}

// Validated reports whether Validate has succeeded on o.
func (o *Ontology) Validated() bool {
	return o.graph != nil
}

// Control looks a control up by id.
func (o *Ontology) Control(id string) (Control, bool) {
	i, ok := o.index[id]
	if !ok {
		return Control{}, false
	}
	return o.Controls[i], true
}

// ControlIDs returns control ids in declaration order.
func (o *Ontology) ControlIDs() []string {
	ids := make([]string, len(o.Controls))
	for i, c := range o.Controls {
		ids[i] = c.ID
	}
	return ids
}

// Metrics returns one entry per control, in declaration order, pairing
// the control id with the metric column it reads.
func (o *Ontology) Metrics() []telemetry.Metric {
	out := make([]telemetry.Metric, len(o.Controls))
	for i, c := range o.Controls {
		out[i] = telemetry.Metric{ControlID: c.ID, Name: c.Metric}
	}
	return out
}

// Weight returns the impact weight for a control, 1.0 when unset.
func (o *Ontology) Weight(id string) float64 {
	if w, ok := o.ImpactWeights[id]; ok {
		return w
	}
	return DefaultImpactWeight
}

// Weights returns a weight for every control, defaults filled in.
func (o *Ontology) Weights() map[string]float64 {
	out := make(map[string]float64, len(o.Controls))
	for _, c := range o.Controls {
		out[c.ID] = o.Weight(c.ID)
	}
	return out
}

// WarningThreshold returns the ERI escalation threshold.
func (o *Ontology) WarningThreshold() float64 {
	return o.Forecast.WarningThresholds.ERI
}

// SLAControlID returns the configured SLA control or the default.
func (o *Ontology) SLAControlID() string {
	if o.Forecast.SLAControl != "" {
		return o.Forecast.SLAControl
	}
	return DefaultSLAControl
}
