// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package finance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	out, err := Estimate(Inputs{
		BreachedAccounts:     10,
		AvgContractValue:     100000,
		SLAPenaltyPerAccount: 2500,
		ChurnProbability:     0.2,
		OvertimeHours:        40,
		OvertimeRate:         75,
	})
	require.NoError(t, err)

	assert.Equal(t, 1_000_000.0, out.RevenueAtRisk)
	assert.Equal(t, 25_000.0, out.PenaltyCost)
	assert.InDelta(t, 200_000.0, out.ChurnCost, 1e-6)
	assert.Equal(t, 3_000.0, out.OvertimeCost)
	assert.InDelta(t, 228_000.0, out.TotalImpact, 1e-6)
}

func TestEstimate_Zero(t *testing.T) {
	out, err := Estimate(Inputs{})
	require.NoError(t, err)
	assert.Equal(t, Outputs{}, out)
}

func TestEstimate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want string
	}{
		{"negative accounts", Inputs{BreachedAccounts: -1}, "BreachedAccounts must be >= 0"},
		{"churn above one", Inputs{ChurnProbability: 1.5}, "ChurnProbability must be <= 1"},
		{"negative rate", Inputs{OvertimeRate: -10}, "OvertimeRate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Estimate(tt.in)
			require.ErrorIs(t, err, ErrInvalidInputs)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFromProfile(t *testing.T) {
	profile := map[string]any{
		"name":               "Northwind",
		"accounts_under_sla": 420,
		"avg_contract_value": 185000.0,
	}

	got := FromProfile(Inputs{ChurnProbability: 0.1}, profile)
	assert.Equal(t, 420, got.BreachedAccounts)
	assert.Equal(t, 185000.0, got.AvgContractValue)
	assert.Equal(t, 0.1, got.ChurnProbability)

	kept := FromProfile(Inputs{BreachedAccounts: 3}, profile)
	assert.Equal(t, 3, kept.BreachedAccounts)

	assert.Equal(t, Inputs{}, FromProfile(Inputs{}, map[string]any{"accounts_under_sla": "many"}))
	assert.Equal(t, Inputs{}, FromProfile(Inputs{}, nil))
}
