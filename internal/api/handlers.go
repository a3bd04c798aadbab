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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/adam/internal/alerting"
	"github.com/AleutianAI/adam/internal/eri"
	"github.com/AleutianAI/adam/internal/finance"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/observability"
	"github.com/AleutianAI/adam/internal/ontology"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/internal/store"
	"github.com/AleutianAI/adam/internal/telemetry"
)

var apiTracer = otel.Tracer("adam.api")

type handler struct {
	ontology  *ontology.Holder
	store     ReplayStore
	publisher alerting.Publisher
	metrics   *observability.Metrics
	influx    telemetry.Source
	harness   *replay.Harness
	params    *forecast.Params
	dataDir   string
	logger    *slog.Logger
}

// requestError is a problem with the request itself, answered with 400.
type requestError struct {
	msg string
	err error
}

func (e *requestError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return e.msg + ": " + e.err.Error()
}

func (e *requestError) Unwrap() error { return e.err }

func badRequest(msg string, err error) error {
	return &requestError{msg: msg, err: err}
}

// upstreamError is a failure of an external data source, answered with 502.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string { return "data source: " + e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

func (h *handler) health(c *gin.Context) {
	ont := h.ontology.Current()
	c.JSON(http.StatusOK, gin.H{
		"status":              "ok",
		"ontology_version":    ont.Version,
		"ontology_generation": h.ontology.Generation(),
		"ontology_loaded_at":  h.ontology.LoadedAt().UTC(),
	})
}

func (h *handler) getOntology(c *gin.Context) {
	ont := h.ontology.Current()
	c.JSON(http.StatusOK, gin.H{
		"version":           ont.Version,
		"company_profile":   ont.CompanyProfile,
		"controls":          ont.Controls,
		"propagation_graph": ont.PropagationGraph,
		"impact_weights":    ont.Weights(),
		"forecast":          ont.Forecast,
	})
}

func (h *handler) forecast(c *gin.Context) {
	var req ForecastRequest
	if !h.bind(c, &req) {
		return
	}
	ctx, span := apiTracer.Start(c.Request.Context(), "API.Forecast")
	defer span.End()

	ont := h.ontology.Current()
	tbl, err := h.loadTable(ctx, req.DataRequest, ont, time.Time{}, time.Time{})
	if err != nil {
		h.fail(c, span, err)
		return
	}
	if len(req.WhatIf) > 0 {
		tbl, err = tbl.Scale(telemetry.WhatIf(req.WhatIf))
		if err != nil {
			h.fail(c, span, badRequest("what_if", err))
			return
		}
	}

	res, err := forecast.Run(ctx, tbl, ont, forecast.Options{
		StartTime:   req.StartTime,
		HorizonDays: req.HorizonDays,
		Seed:        req.Seed,
		Params:      h.params,
	})
	h.metrics.ObserveForecast(err)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	threshold := ont.WarningThreshold()
	score := eri.Compute(res.FirstProbabilities(), ont.Weights(), res.Summary.TimeToFailureDays)
	if w, ok := alerting.ForecastWarning(score, threshold, res.Start); ok {
		h.publish(ctx, w)
	}
	span.SetAttributes(
		attribute.Float64("eri", score.ERI),
		attribute.String("top_driver", score.TopDriver),
	)

	c.JSON(http.StatusOK, ForecastResponse{
		ERI:               score.ERI,
		Baseline:          score.Baseline,
		TopDriver:         score.TopDriver,
		Components:        score.Components,
		Drivers:           score.Drivers,
		TimeToFailureDays: score.TimeToFailureDays,
		Threshold:         threshold,
		Warning:           score.Exceeds(threshold),
		Start:             res.Start,
		End:               res.End,
		HorizonDays:       res.HorizonDays,
		StepHours:         res.StepHours,
		Seed:              res.Seed,
		AlgorithmVersion:  res.AlgorithmVersion,
		Summary:           res.Summary,
		Series:            res.Series,
	})
}

func (h *handler) replay(c *gin.Context) {
	var req ReplayRequest
	if !h.bind(c, &req) {
		return
	}
	if req.LookbackDays == 0 {
		req.LookbackDays = defaultReplayLookbackDays
	}
	if req.HorizonDays == 0 {
		req.HorizonDays = defaultReplayHorizonDays
	}
	ctx, span := apiTracer.Start(c.Request.Context(), "API.Replay")
	defer span.End()

	ont := h.ontology.Current()
	incident := req.IncidentTime.UTC()
	from := incident.AddDate(0, 0, -req.LookbackDays)
	tbl, err := h.loadTable(ctx, req.DataRequest, ont, from, incident)
	if err != nil {
		h.fail(c, span, err)
		return
	}

	res, err := h.harness.Run(ctx, tbl, ont, replay.Request{
		IncidentTime: incident,
		LookbackDays: req.LookbackDays,
		HorizonDays:  req.HorizonDays,
		Seed:         req.Seed,
	})
	if err != nil {
		h.fail(c, span, err)
		return
	}
	if err := h.store.Save(ctx, res); err != nil {
		h.fail(c, span, fmt.Errorf("persist replay %s: %w", res.RunID, err))
		return
	}
	if w, ok := alerting.ReplayWarning(res); ok {
		h.publish(ctx, w)
	}
	span.SetAttributes(attribute.String("run_id", res.RunID))
	c.JSON(http.StatusOK, res)
}

func (h *handler) listReplays(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			abort(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}
	runs, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, nil, err)
		return
	}
	if runs == nil {
		runs = []store.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (h *handler) getReplay(c *gin.Context) {
	res, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) impact(c *gin.Context) {
	var req ImpactRequest
	if !h.bind(c, &req) {
		return
	}
	in := req.Inputs
	if req.UseCompanyProfile {
		in = finance.FromProfile(in, h.ontology.Current().CompanyProfile)
	}
	out, err := finance.Estimate(in)
	if err != nil {
		h.fail(c, nil, err)
		return
	}
	c.JSON(http.StatusOK, ImpactResponse{Inputs: in, Outputs: out})
}

// bind decodes and validates the JSON body, answering 400 or 413 itself
// on failure.
func (h *handler) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abort(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		abort(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// loadTable resolves the request's data source into a table holding every
// metric ont needs. from and to bound an Influx query; zero leaves a side
// open. CSV data is never clipped.
func (h *handler) loadTable(ctx context.Context, req DataRequest, ont *ontology.Ontology, from, to time.Time) (*telemetry.Table, error) {
	if req.Source == SourceInflux {
		if req.CSV != "" || req.CSVPath != "" {
			return nil, badRequest("source influx cannot be combined with csv or csv_path", nil)
		}
		if h.influx == nil {
			return nil, badRequest("influx source is not configured", nil)
		}
		tbl, err := h.influx.Fetch(ctx, ont.Metrics(), from, to)
		if err != nil {
			if errors.Is(err, telemetry.ErrMissingMetric) || errors.Is(err, telemetry.ErrEmptyTable) {
				return nil, err
			}
			return nil, &upstreamError{err: err}
		}
		return tbl, nil
	}

	switch {
	case req.CSV != "" && req.CSVPath != "":
		return nil, badRequest("set only one of csv or csv_path", nil)
	case req.CSV != "":
		tbl, err := telemetry.ReadCSV(strings.NewReader(req.CSV))
		if err != nil {
			return nil, badRequest("csv", err)
		}
		return tbl, nil
	case req.CSVPath != "":
		path, err := h.resolveDataPath(req.CSVPath)
		if err != nil {
			return nil, err
		}
		tbl, err := telemetry.LoadCSV(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, badRequest("csv_path not found: "+req.CSVPath, nil)
			}
			return nil, badRequest("csv_path", err)
		}
		return tbl, nil
	default:
		return nil, badRequest("one of csv, csv_path or source=influx is required", nil)
	}
}

// resolveDataPath maps a request path onto a file below the data
// directory. Paths escaping it are rejected.
func (h *handler) resolveDataPath(p string) (string, error) {
	if h.dataDir == "" {
		return "", badRequest("csv_path is disabled on this server", nil)
	}
	base, err := filepath.Abs(h.dataDir)
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	full := filepath.Clean(p)
	if !filepath.IsAbs(full) {
		full = filepath.Join(base, full)
	}
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", badRequest("csv_path must be inside the data directory", nil)
	}
	return full, nil
}

// publish counts and delivers a warning. Delivery failures are logged;
// the request still succeeds.
func (h *handler) publish(ctx context.Context, w alerting.Warning) {
	h.metrics.ObserveWarning(w.Source)
	if err := h.publisher.Publish(ctx, w); err != nil {
		h.logger.Warn("publish warning failed",
			"source", w.Source, "control_id", w.ControlID, "error", err)
	}
}

// fail maps err onto a status and writes the error body. Internal errors
// are logged and answered with a generic message.
func (h *handler) fail(c *gin.Context, span trace.Span, err error) {
	status := statusFor(err)
	if span != nil {
		span.RecordError(err)
	}
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusGatewayTimeout {
		h.logger.Error("request failed",
			"route", c.FullPath(), "request_id", c.GetString(requestIDKey), "error", err)
		msg = "internal error"
	}
	abort(c, status, msg)
}

func statusFor(err error) int {
	var reqErr *requestError
	var upErr *upstreamError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &upErr):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrIncompatible):
		return http.StatusConflict
	case errors.Is(err, forecast.ErrStartBeforeData),
		errors.Is(err, forecast.ErrNoHistory),
		errors.Is(err, forecast.ErrInvalidHorizon),
		errors.Is(err, forecast.ErrInvalidMetricValue),
		errors.Is(err, telemetry.ErrMissingMetric),
		errors.Is(err, telemetry.ErrEmptyTable),
		errors.Is(err, replay.ErrEmptyWindow),
		errors.Is(err, replay.ErrInvalidRequest),
		errors.Is(err, finance.ErrInvalidInputs):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
