// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus instruments. Create one per
// registry with NewMetrics.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Metrics struct {
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	forecastRuns   *prometheus.CounterVec
	replayRuns     *prometheus.CounterVec
	replayLeadTime prometheus.Histogram
	warnings       *prometheus.CounterVec
}

// NewMetrics registers the instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adam_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "status"}),

		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "adam_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		}, []string{"route"}),

		forecastRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adam_forecast_runs_total",
			Help: "Forecast runs by outcome",
		}, []string{"outcome"}),

		replayRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adam_replay_runs_total",
			Help: "Replay runs by outcome (warned, no_warning, error)",
		}, []string{"outcome"}),

		replayLeadTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "adam_replay_lead_time_days",
			Help:    "Warning lead time of replays that warned",
			Buckets: []float64{0.5, 1, 2, 3, 5, 7, 10, 14, 21, 30},
		}),

		warnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "adam_escalation_warnings_total",
			Help: "Escalation warnings raised by source",
		}, []string{"source"}),
	}
}

// ObserveHTTP records one request.
func (m *Metrics) ObserveHTTP(route string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveForecast records one forecast run.
func (m *Metrics) ObserveForecast(err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.forecastRuns.WithLabelValues(outcome).Inc()
}

// ObserveReplay records one replay run. leadTimeDays is observed only when
// non-nil.
func (m *Metrics) ObserveReplay(outcome string, leadTimeDays *float64) {
	m.replayRuns.WithLabelValues(outcome).Inc()
	if leadTimeDays != nil {
		m.replayLeadTime.Observe(*leadTimeDays)
	}
}

// ObserveWarning records one escalation warning.
func (m *Metrics) ObserveWarning(source string) {
	m.warnings.WithLabelValues(source).Inc()
}

// Handler serves the exposition format for g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
