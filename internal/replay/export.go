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
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// csvHeader is the column order written by WriteCSV.
var csvHeader = []string{
	"day", "as_of", "eri", "top_driver", "time_to_failure_days",
	"predicted_first_sla_degrade_or_fail", "top_choke_point", "warning",
}

// WriteCSV writes the per-day series as CSV. Null values are empty cells.
// The warning column is "true" on the first-warning day only.
func (r *Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, p := range r.Series {
		ttf := ""
		if p.TimeToFailureDays != nil {
			ttf = strconv.FormatFloat(*p.TimeToFailureDays, 'f', 4, 64)
		}
		pff := ""
		if p.PredictedFirstFailure != nil {
			pff = p.PredictedFirstFailure.Format(time.RFC3339)
		}
		warning := r.FirstWarningTime != nil && p.AsOf.Equal(*r.FirstWarningTime)
		row := []string{
			p.Day.Format(time.DateOnly),
			p.AsOf.Format(time.RFC3339),
			strconv.FormatFloat(p.ERI, 'f', 6, 64),
			p.TopDriver,
			ttf,
			pff,
			p.TopChokePoint,
			strconv.FormatBool(warning),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %s: %w", p.Day.Format(time.DateOnly), err)
		}
	}
	cw.Flush()
	return cw.Error()
}
