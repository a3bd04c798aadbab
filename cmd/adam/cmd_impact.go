// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/adam/internal/finance"
)

func newImpactCmd(a *app) *cobra.Command {
	var in finance.Inputs
	var useProfile bool
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Estimate the financial impact of an SLA breach",
		Example: `  adam impact --accounts 40 --contract-value 12000 --penalty 500 --churn 0.1
  adam impact --use-profile --churn 0.05 --overtime-hours 120 --overtime-rate 85`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if useProfile {
				ont, err := a.loadOntology()
				if err != nil {
					return err
				}
				in = finance.FromProfile(in, ont.CompanyProfile)
			}
			out, err := finance.Estimate(in)
			if err != nil {
				return err
			}
			if a.jsonOutput {
				return a.out.JSON(struct {
					Inputs  finance.Inputs  `json:"inputs"`
					Outputs finance.Outputs `json:"outputs"`
				}{in, out})
			}
			renderImpact(a.out, in, out)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&in.BreachedAccounts, "accounts", 0, "accounts whose SLA is breached")
	f.Float64Var(&in.AvgContractValue, "contract-value", 0, "average contract value per account")
	f.Float64Var(&in.SLAPenaltyPerAccount, "penalty", 0, "SLA penalty per account")
	f.Float64Var(&in.ChurnProbability, "churn", 0, "probability a breached account churns, 0 to 1")
	f.Float64Var(&in.OvertimeHours, "overtime-hours", 0, "remediation overtime hours")
	f.Float64Var(&in.OvertimeRate, "overtime-rate", 0, "cost per overtime hour")
	f.BoolVar(&useProfile, "use-profile", false, "fill accounts and contract value from the ontology company_profile")
	return cmd
}
