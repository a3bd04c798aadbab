// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package finance estimates the cost of an SLA breach.
package finance

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidInputs wraps every validation failure from Estimate.
var ErrInvalidInputs = errors.New("invalid impact inputs")

var financeValidate *validator.Validate

func init() {
	financeValidate = validator.New()
}

// Inputs describes a breach scenario.
type Inputs struct {
	BreachedAccounts     int     `json:"breached_accounts" yaml:"breached_accounts" validate:"gte=0"`
	AvgContractValue     float64 `json:"avg_contract_value" yaml:"avg_contract_value" validate:"gte=0"`
	SLAPenaltyPerAccount float64 `json:"sla_penalty_per_account" yaml:"sla_penalty_per_account" validate:"gte=0"`
	ChurnProbability     float64 `json:"churn_probability" yaml:"churn_probability" validate:"gte=0,lte=1"`
	OvertimeHours        float64 `json:"overtime_hours" yaml:"overtime_hours" validate:"gte=0"`
	OvertimeRate         float64 `json:"overtime_rate" yaml:"overtime_rate" validate:"gte=0"`
}

// Outputs is the estimated impact. TotalImpact excludes RevenueAtRisk,
// which is exposure rather than cost.
type Outputs struct {
	RevenueAtRisk float64 `json:"revenue_at_risk"`
	PenaltyCost   float64 `json:"penalty_cost"`
	ChurnCost     float64 `json:"churn_cost"`
	OvertimeCost  float64 `json:"overtime_cost"`
	TotalImpact   float64 `json:"total_impact"`
}

// Validate checks every field is non-negative and the churn probability
// is at most 1.
func (in Inputs) Validate() error {
	err := financeValidate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidInputs, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s must be %s %s, got %v", fe.Field(), opText(fe.Tag()), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInputs, strings.Join(msgs, "; "))
}

// Estimate computes the impact of in.
//
//	revenue_at_risk = accounts × avg_contract_value
//	penalty_cost    = accounts × sla_penalty_per_account
//	churn_cost      = accounts × churn_probability × avg_contract_value
//	overtime_cost   = overtime_hours × overtime_rate
//	total_impact    = penalty_cost + churn_cost + overtime_cost
func Estimate(in Inputs) (Outputs, error) {
	if err := in.Validate(); err != nil {
		return Outputs{}, err
	}
	accounts := float64(in.BreachedAccounts)
	out := Outputs{
		RevenueAtRisk: accounts * in.AvgContractValue,
		PenaltyCost:   accounts * in.SLAPenaltyPerAccount,
		ChurnCost:     accounts * in.ChurnProbability * in.AvgContractValue,
		OvertimeCost:  in.OvertimeHours * in.OvertimeRate,
	}
	out.TotalImpact = out.PenaltyCost + out.ChurnCost + out.OvertimeCost
	return out, nil
}

// FromProfile fills the account count and contract value from an ontology
// company profile ("accounts_under_sla", "avg_contract_value"). Fields
// already set in base win. Unknown or non-numeric entries are ignored.
func FromProfile(base Inputs, profile map[string]any) Inputs {
	if base.BreachedAccounts == 0 {
		if v, ok := number(profile["accounts_under_sla"]); ok && v >= 0 {
			base.BreachedAccounts = int(v)
		}
	}
	if base.AvgContractValue == 0 {
		if v, ok := number(profile["avg_contract_value"]); ok && v >= 0 {
			base.AvgContractValue = v
		}
	}
	return base
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func opText(tag string) string {
	switch tag {
	case "gte":
		return ">="
	case "lte":
		return "<="
	default:
		return tag
	}
}
