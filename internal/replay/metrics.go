// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("adam.replay")

func startRunSpan(ctx context.Context, req Request) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Replay.Run",
		trace.WithAttributes(
			attribute.String("replay.incident_time", req.IncidentTime.UTC().Format(time.RFC3339)),
			attribute.Int("replay.lookback_days", req.LookbackDays),
			attribute.Int("replay.horizon_days", req.HorizonDays),
		),
	)
}

func setRunSpanResult(span trace.Span, res *Result, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("replay.run_id", res.RunID),
		attribute.Int("replay.days", len(res.Series)),
		attribute.Bool("replay.warned", res.Warned()),
	}
	if res.LeadTimeDays != nil {
		attrs = append(attrs, attribute.Float64("replay.lead_time_days", *res.LeadTimeDays))
	}
	span.SetAttributes(attrs...)
}

func startDaySpan(ctx context.Context, boundary time.Time) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Replay.Day",
		trace.WithAttributes(attribute.String("replay.day", boundary.Format(time.DateOnly))),
	)
}

func setDaySpanResult(span trace.Span, score float64) {
	span.SetAttributes(attribute.Float64("replay.eri", score))
}
