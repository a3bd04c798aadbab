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
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// WhatIf scales metric columns before a forecast, e.g. {"vendor_latency_ms": 0.8}
// to ask what happens if vendor latency improved by 20%.
type WhatIf map[string]float64

// ParseWhatIf parses "metric=factor" pairs as given on the command line.
func ParseWhatIf(pairs []string) (WhatIf, error) {
	w := make(WhatIf, len(pairs))
	for _, p := range pairs {
		metric, factor, ok := strings.Cut(p, "=")
		metric = strings.TrimSpace(metric)
		if !ok || metric == "" {
			return nil, fmt.Errorf("what-if %q: want metric=factor", p)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(factor), 64)
		if err != nil {
			return nil, fmt.Errorf("what-if %q: %w", p, err)
		}
		w[metric] = v
	}
	return w, nil
}

// Validate checks every factor is finite and non-negative.
func (w WhatIf) Validate() error {
	for _, metric := range slices.Sorted(maps.Keys(w)) {
		f := w[metric]
		if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("what-if factor for %q must be a finite value >= 0, got %v", metric, f)
		}
	}
	return nil
}

// Scale returns a copy of t with each metric in w multiplied by its
// factor. Metrics not in w are shared with t. An empty w returns t.
func (t *Table) Scale(w WhatIf) (*Table, error) {
	if len(w) == 0 {
		return t, nil
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	for _, metric := range slices.Sorted(maps.Keys(w)) {
		if !t.HasColumn(metric) {
			return nil, &MissingMetricError{Metric: metric}
		}
	}

	out := &Table{
		timestamps: t.timestamps,
		columns:    make(map[string][]float64, len(t.columns)),
		names:      t.names,
	}
	for name, col := range t.columns {
		factor, ok := w[name]
		if !ok {
			out.columns[name] = col
			continue
		}
		scaled := make([]float64, len(col))
		for i, v := range col {
			scaled[i] = v * factor
		}
		out.columns[name] = scaled
	}
	return out, nil
}
