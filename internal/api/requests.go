// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"time"

	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/finance"
	"github.com/AleutianAI/adam/internal/forecast"
)

const (
	// SourceInflux selects the configured InfluxDB bucket as the data source.
	SourceInflux = "influx"

	defaultReplayLookbackDays = 30
	defaultReplayHorizonDays  = 14
	defaultListLimit          = 20
	maxListLimit              = 500
)

// DataRequest names where a request's metric history comes from. Exactly
// one of CSV, CSVPath or Source=influx must be set.
type DataRequest struct {
	// CSV is an inline CSV document with a timestamp column.
	CSV string `json:"csv"`

	// CSVPath is relative to the server's data directory.
	CSVPath string `json:"csv_path"`

	Source string `json:"source" binding:"omitempty,oneof=csv influx"`
}

// ForecastRequest is the body of POST /v1/forecast.
type ForecastRequest struct {
	DataRequest

	StartTime   *time.Time         `json:"start_time"`
	HorizonDays int                `json:"horizon_days" binding:"omitempty,min=1,max=365"`
	Seed        *uint64            `json:"seed"`
	WhatIf      map[string]float64 `json:"what_if"`
}

// ReplayRequest is the body of POST /v1/replay.
type ReplayRequest struct {
	DataRequest

	IncidentTime time.Time `json:"incident_time" binding:"required"`
	LookbackDays int       `json:"lookback_days" binding:"omitempty,min=7,max=120"`
	HorizonDays  int       `json:"horizon_days" binding:"omitempty,min=7,max=60"`
	Seed         *uint64   `json:"seed"`
}

// ImpactRequest is the body of POST /v1/impact. With UseCompanyProfile the
// ontology's company_profile fills accounts and contract value.
type ImpactRequest struct {
	finance.Inputs

	UseCompanyProfile bool `json:"use_company_profile"`
}

// ForecastResponse is the scored forecast.
type ForecastResponse struct {
	ERI               float64            `json:"eri"`
	Baseline          float64            `json:"baseline"`
	TopDriver         string             `json:"top_driver"`
	Components        map[string]float64 `json:"components"`
	Drivers           []eri.Driver       `json:"drivers"`
	TimeToFailureDays *float64           `json:"time_to_failure_days"`
	Threshold         float64            `json:"eri_warning_threshold"`
	Warning           bool               `json:"warning"`

	Start            time.Time        `json:"start"`
	End              time.Time        `json:"end"`
	HorizonDays      int              `json:"horizon_days"`
	StepHours        int              `json:"step_hours"`
	Seed             uint64           `json:"seed"`
	AlgorithmVersion string           `json:"algorithm_version"`
	Summary          forecast.Summary `json:"summary"`
	Series           []forecast.Point `json:"series"`
}

// ImpactResponse echoes the effective inputs with the estimate.
type ImpactResponse struct {
	Inputs  finance.Inputs  `json:"inputs"`
	Outputs finance.Outputs `json:"outputs"`
}
