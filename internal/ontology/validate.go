// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ontology

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/adam/internal/controlstate"
	"github.com/AleutianAI/adam/internal/propagation"
)

// ontologyValidate is the shared struct validator for ontology types.
var ontologyValidate *validator.Validate

func init() {
	ontologyValidate = validator.New(validator.WithRequiredStructEnabled())
	_ = ontologyValidate.RegisterValidation("finite", validateFinite)
}

// validateFinite rejects NaN and ±Inf.
func validateFinite(fl validator.FieldLevel) bool {
	v := fl.Field().Float()
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks o and builds its propagation graph and control index.
//
// # Description
//
// Struct rules run first (required fields, direction values, positive
// horizon and step). Cross-reference rules follow:
//
//   - control ids are unique
//   - state names are one of healthy, constrained, degraded, failed
//   - a higher_is_worse control uses only max bounds, lower_is_worse only min
//   - every edge endpoint and impact weight names a declared control
//   - at most one edge per ordered pair, 0 <= delay <= 3650 days,
//     amplification >= 0
//   - impact weights are finite and >= 0
//   - horizon_days*24 is an exact multiple of step_hours
//   - an explicit sla_control names a declared control
//
// All problems are reported together in a *ValidationError.
//
// # Thread Safety
//
// Validate mutates o. Call it once before sharing o between goroutines.
func (o *Ontology) Validate() error {
	var problems []string

	if err := ontologyValidate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, describeFieldError(fe))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	index := make(map[string]int, len(o.Controls))
	for i, c := range o.Controls {
		if c.ID == "" {
			continue
		}
		if _, dup := index[c.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate control id %q", c.ID))
			continue
		}
		index[c.ID] = i
		problems = append(problems, checkThresholds(c)...)
	}

	for _, e := range o.PropagationGraph {
		if _, ok := index[e.Src]; !ok && e.Src != "" {
			problems = append(problems, fmt.Sprintf("edge %s -> %s: unknown source control %q", e.Src, e.Dst, e.Src))
		}
		if _, ok := index[e.Dst]; !ok && e.Dst != "" {
			problems = append(problems, fmt.Sprintf("edge %s -> %s: unknown destination control %q", e.Src, e.Dst, e.Dst))
		}
	}

	graph, err := propagation.NewGraph(o.PropagationGraph)
	if err != nil {
		problems = append(problems, err.Error())
	}

	weightIDs := make([]string, 0, len(o.ImpactWeights))
	for id := range o.ImpactWeights {
		weightIDs = append(weightIDs, id)
	}
	slices.Sort(weightIDs)
	for _, id := range weightIDs {
		w := o.ImpactWeights[id]
		if _, ok := index[id]; !ok {
			problems = append(problems, fmt.Sprintf("impact weight for unknown control %q", id))
		}
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			problems = append(problems, fmt.Sprintf("impact weight for %q must be a finite value >= 0, got %v", id, w))
		}
	}

	if f := o.Forecast; f.StepHours > 0 && f.HorizonDays > 0 && (f.HorizonDays*24)%f.StepHours != 0 {
		problems = append(problems, fmt.Sprintf(
			"forecast.step_hours %d does not evenly divide horizon_days %d (%d hours)",
			f.StepHours, f.HorizonDays, f.HorizonDays*24))
	}

	if sla := o.Forecast.SLAControl; sla != "" {
		if _, ok := index[sla]; !ok {
			problems = append(problems, fmt.Sprintf("forecast.sla_control %q is not a declared control", sla))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	o.index = index
	o.graph = graph
	return nil
}

func checkThresholds(c Control) []string {
	var problems []string
	for state, bound := range c.States {
		if !state.Valid() {
			problems = append(problems, fmt.Sprintf("control %s: unknown state %q", c.ID, state))
			continue
		}
		switch c.Direction {
		case controlstate.HigherIsWorse:
			if bound.Min != nil {
				problems = append(problems, fmt.Sprintf("control %s: state %s sets min but direction is higher_is_worse", c.ID, state))
			}
		case controlstate.LowerIsWorse:
			if bound.Max != nil {
				problems = append(problems, fmt.Sprintf("control %s: state %s sets max but direction is lower_is_worse", c.ID, state))
			}
		}
	}
	slices.Sort(problems)
	return problems
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "gt", "gte", "lt", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, opWord(fe.Tag()), fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must contain at least %s entries", field, fe.Param())
	case "finite":
		return fmt.Sprintf("%s must be a finite number", field)
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

func opWord(tag string) string {
	switch tag {
	case "gt":
		return ">"
	case "gte":
		return ">="
	case "lt":
		return "<"
	default:
		return "<="
	}
}
