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
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/finance"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/internal/store"
	"github.com/AleutianAI/adam/pkg/ux"
)

const gaugeWidth = 24

func renderForecast(p *ux.Printer, res *forecast.Result, score eri.Result, threshold float64) {
	p.Title("Forecast")
	p.KeyValues([][2]string{
		{"start", res.Start.Format(time.RFC3339)},
		{"anchor", res.Summary.AnchorTime.Format(time.RFC3339)},
		{"horizon", fmt.Sprintf("%d days, %d steps of %dh", res.HorizonDays, len(res.Series), res.StepHours)},
		{"seed", strconv.FormatUint(res.Seed, 10)},
		{"top choke point", orDash(res.Summary.TopChokePoint)},
		{"first SLA degrade", formatTimePtr(res.Summary.PredictedFirstFailure)},
		{"time to failure", formatDays(res.Summary.TimeToFailureDays)},
	})

	ids := slices.Sorted(maps.Keys(res.Summary.InitialStates))
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		cl := res.Summary.InitialStates[id]
		rows = append(rows, []string{
			id,
			string(cl.State),
			strconv.FormatFloat(cl.MetricValue, 'g', 6, 64),
			fmt.Sprintf("%.3f", res.Summary.AvgPressure[id]),
		})
	}
	p.Table([]string{"control", "state", "value", "avg pressure"}, rows)

	renderScore(p, score, threshold)
}

func renderScore(p *ux.Printer, score eri.Result, threshold float64) {
	body := fmt.Sprintf("%s\nthreshold %.2f, top driver %s",
		p.Gauge(score.ERI, gaugeWidth), threshold, orDash(score.TopDriver))
	if score.Exceeds(threshold) {
		p.WarningBox("Escalation Risk Index: WARNING", body)
	} else {
		p.Box("Escalation Risk Index", body)
	}

	rows := make([][]string, 0, len(score.Drivers))
	for _, d := range score.Drivers {
		rows = append(rows, []string{
			d.ControlID,
			fmt.Sprintf("%.3f", d.Probability),
			fmt.Sprintf("%.2f", d.Weight),
			fmt.Sprintf("%.3f", d.Contribution),
		})
	}
	p.Table([]string{"driver", "probability", "weight", "contribution"}, rows)
}

func renderReplay(p *ux.Printer, res *replay.Result) {
	p.Title("Replay " + res.RunID)
	p.KeyValues([][2]string{
		{"incident", res.IncidentTime.Format(time.RFC3339)},
		{"window", res.WindowStart.Format(time.DateOnly) + " to " + res.WindowEnd.Format(time.DateOnly)},
		{"lookback", fmt.Sprintf("%d days", res.LookbackDays)},
		{"threshold", fmt.Sprintf("%.2f", res.Threshold)},
	})

	rows := make([][]string, 0, len(res.Series))
	for _, pt := range res.Series {
		mark := ""
		if pt.ERI >= res.Threshold {
			mark = string(ux.IconWarning)
		}
		rows = append(rows, []string{
			pt.Day.Format(time.DateOnly),
			fmt.Sprintf("%.3f", pt.ERI),
			orDash(pt.TopDriver),
			formatDays(pt.TimeToFailureDays),
			mark,
		})
	}
	p.Table([]string{"day", "eri", "top driver", "ttf", ""}, rows)

	if res.Warned() {
		p.WarningBox("Lead time", res.Narrative.Headline)
	} else {
		p.Box("Lead time", res.Narrative.Headline)
	}
	p.Muted(res.Narrative.Statement)
}

func renderSummaries(p *ux.Printer, runs []store.Summary) {
	if len(runs) == 0 {
		p.Info("no replay runs stored")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, s := range runs {
		rows = append(rows, []string{
			s.RunID,
			s.CreatedAt.Format(time.RFC3339),
			s.IncidentTime.Format(time.RFC3339),
			strconv.Itoa(s.Days),
			fmt.Sprintf("%.3f", s.MaxERI),
			formatDays(s.LeadTimeDays),
		})
	}
	p.Table([]string{"run id", "created", "incident", "days", "max eri", "lead time"}, rows)
}

func renderImpact(p *ux.Printer, in finance.Inputs, out finance.Outputs) {
	p.Title("Estimated impact")
	p.KeyValues([][2]string{
		{"breached accounts", strconv.Itoa(in.BreachedAccounts)},
		{"revenue at risk", money(out.RevenueAtRisk)},
		{"penalty cost", money(out.PenaltyCost)},
		{"churn cost", money(out.ChurnCost)},
		{"overtime cost", money(out.OvertimeCost)},
		{"total impact", money(out.TotalImpact)},
	})
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDays(d *float64) string {
	if d == nil {
		return "-"
	}
	return fmt.Sprintf("%.2fd", *d)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
