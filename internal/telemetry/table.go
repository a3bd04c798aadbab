// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry holds the time-ordered metric table consumed by the
// forecast engine, and the sources that fill it (CSV files and InfluxDB).
//
// A Table is immutable after construction. Rows are sorted by timestamp
// (stable for equal timestamps) and all timestamps are UTC. Windowing
// operations return views that share storage with the parent.
package telemetry

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"
)

var (
	// ErrMissingMetric matches any *MissingMetricError.
	ErrMissingMetric = errors.New("missing metric")

	// ErrEmptyTable is returned when a table has no rows.
	ErrEmptyTable = errors.New("telemetry table has no rows")
)

// MissingMetricError reports a control whose metric column is absent.
type MissingMetricError struct {
	ControlID string
	Metric    string
}

func (e *MissingMetricError) Error() string {
	if e.ControlID == "" {
		return fmt.Sprintf("missing metric column %q", e.Metric)
	}
	return fmt.Sprintf("missing metric column %q for control %q", e.Metric, e.ControlID)
}

func (e *MissingMetricError) Is(target error) bool {
	return target == ErrMissingMetric
}

// Metric names a metric column and the control that reads it.
type Metric struct {
	ControlID string
	Name      string
}

// MetricNames returns the distinct names in metrics, first occurrence first.
func MetricNames(metrics []Metric) []string {
	seen := make(map[string]struct{}, len(metrics))
	out := make([]string, 0, len(metrics))
	for _, m := range metrics {
		if _, ok := seen[m.Name]; ok {
			continue
		}
		seen[m.Name] = struct{}{}
		out = append(out, m.Name)
	}
	return out
}

// Table is a time-ordered set of numeric metric columns.
type Table struct {
	timestamps []time.Time
	columns    map[string][]float64
	names      []string
}

// NewTable builds a Table from parallel columns. Rows are re-ordered by
// timestamp; rows with equal timestamps keep their input order. Missing
// cells should be NaN.
func NewTable(timestamps []time.Time, columns map[string][]float64) (*Table, error) {
	n := len(timestamps)
	names := make([]string, 0, len(columns))
	for name, col := range columns {
		if len(col) != n {
			return nil, fmt.Errorf("column %q has %d values, want %d", name, len(col), n)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return timestamps[perm[a]].Before(timestamps[perm[b]])
	})

	t := &Table{
		timestamps: make([]time.Time, n),
		columns:    make(map[string][]float64, len(columns)),
		names:      names,
	}
	for i, p := range perm {
		t.timestamps[i] = timestamps[p].UTC()
	}
	for name, col := range columns {
		sorted := make([]float64, n)
		for i, p := range perm {
			sorted[i] = col[p]
		}
		t.columns[name] = sorted
	}
	return t, nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.timestamps) }

// Empty reports whether the table has no rows.
func (t *Table) Empty() bool { return len(t.timestamps) == 0 }

// Columns returns the metric column names, sorted.
func (t *Table) Columns() []string { return slices.Clone(t.names) }

// HasColumn reports whether metric is present.
func (t *Table) HasColumn(metric string) bool {
	_, ok := t.columns[metric]
	return ok
}

// Timestamp returns the timestamp of row i.
func (t *Table) Timestamp(i int) time.Time { return t.timestamps[i] }

// First returns the earliest timestamp. The table must not be empty.
func (t *Table) First() time.Time { return t.timestamps[0] }

// Last returns the latest timestamp. The table must not be empty.
func (t *Table) Last() time.Time { return t.timestamps[len(t.timestamps)-1] }

// Value returns metric at row i.
func (t *Table) Value(i int, metric string) (float64, error) {
	col, ok := t.columns[metric]
	if !ok {
		return math.NaN(), &MissingMetricError{Metric: metric}
	}
	return col[i], nil
}

// Column returns a copy of a metric column.
func (t *Table) Column(metric string) ([]float64, bool) {
	col, ok := t.columns[metric]
	if !ok {
		return nil, false
	}
	return slices.Clone(col), true
}

// LastAtOrBefore returns the index of the last row with timestamp <= ts,
// or -1 when every row is later than ts.
func (t *Table) LastAtOrBefore(ts time.Time) int {
	i := sort.Search(len(t.timestamps), func(i int) bool {
		return t.timestamps[i].After(ts)
	})
	return i - 1
}

// Until returns the rows with timestamp <= ts.
func (t *Table) Until(ts time.Time) *Table {
	return t.slice(0, t.LastAtOrBefore(ts)+1)
}

// Between returns the rows with from <= timestamp <= to.
func (t *Table) Between(from, to time.Time) *Table {
	lo := sort.Search(len(t.timestamps), func(i int) bool {
		return !t.timestamps[i].Before(from)
	})
	hi := t.LastAtOrBefore(to) + 1
	if hi < lo {
		hi = lo
	}
	return t.slice(lo, hi)
}

func (t *Table) slice(lo, hi int) *Table {
	out := &Table{
		timestamps: t.timestamps[lo:hi:hi],
		columns:    make(map[string][]float64, len(t.columns)),
		names:      t.names,
	}
	for name, col := range t.columns {
		out.columns[name] = col[lo:hi:hi]
	}
	return out
}

// Require returns a *MissingMetricError naming the control and metric of
// the first entry (in the order given) whose column the table lacks.
func (t *Table) Require(metrics ...Metric) error {
	for _, m := range metrics {
		if !t.HasColumn(m.Name) {
			return &MissingMetricError{ControlID: m.ControlID, Metric: m.Name}
		}
	}
	return nil
}
