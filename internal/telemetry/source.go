// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"time"
)

// Source supplies a metric table for a time range.
type Source interface {
	// Fetch returns rows with from <= timestamp <= to containing a column
	// for every metric. A zero from or to leaves that side open. A missing
	// column is a *MissingMetricError naming the control.
	Fetch(ctx context.Context, metrics []Metric, from, to time.Time) (*Table, error)
}

// CSVSource reads a CSV file on every Fetch.
type CSVSource struct {
	Path string
}

// Fetch implements Source.
func (s CSVSource) Fetch(ctx context.Context, metrics []Metric, from, to time.Time) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := LoadCSV(s.Path)
	if err != nil {
		return nil, err
	}
	if err := t.Require(metrics...); err != nil {
		return nil, err
	}
	return clip(t, from, to), nil
}

// TableSource serves an in-memory table. Useful for tests and inline
// request bodies.
type TableSource struct {
	Table *Table
}

// Fetch implements Source.
func (s TableSource) Fetch(_ context.Context, metrics []Metric, from, to time.Time) (*Table, error) {
	if err := s.Table.Require(metrics...); err != nil {
		return nil, err
	}
	return clip(s.Table, from, to), nil
}

func clip(t *Table, from, to time.Time) *Table {
	if t.Empty() {
		return t
	}
	if from.IsZero() {
		from = t.First()
	}
	if to.IsZero() {
		to = t.Last()
	}
	return t.Between(from, to)
}
