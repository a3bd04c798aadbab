// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package forecast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("adam.forecast")
	meter  = otel.Meter("adam.forecast")
)

var (
	runDuration metric.Float64Histogram
	runTotal    metric.Int64Counter
	stepsTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"forecast_duration_seconds",
			metric.WithDescription("Duration of forecast runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"forecast_runs_total",
			metric.WithDescription("Total forecast runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		stepsTotal, err = meter.Int64Counter(
			"forecast_steps_total",
			metric.WithDescription("Total simulation steps across forecast runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startRunSpan(ctx context.Context, opts Options) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.Int("forecast.horizon_override", opts.HorizonDays),
		attribute.Bool("forecast.explicit_start", opts.StartTime != nil),
	}
	if opts.StartTime != nil {
		attrs = append(attrs, attribute.String("forecast.start_time", opts.StartTime.UTC().Format(time.RFC3339)))
	}
	return tracer.Start(ctx, "Forecast.Run", trace.WithAttributes(attrs...))
}

func setRunSpanResult(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetAttributes(
		attribute.Int("forecast.steps", len(res.Series)),
		attribute.String("forecast.top_choke_point", res.Summary.TopChokePoint),
		attribute.Bool("forecast.sla_failure_predicted", res.Summary.PredictedFirstFailure != nil),
	)
}

func recordRunMetrics(ctx context.Context, d time.Duration, steps int, err error) {
	if initMetrics() != nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	runDuration.Record(ctx, d.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	stepsTotal.Add(ctx, int64(steps))
}
