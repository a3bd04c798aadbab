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
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig locates the telemetry measurement in InfluxDB.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"-"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`

	// Lookback bounds queries with no explicit start.
	Lookback time.Duration `yaml:"lookback"`
}

// InfluxConfigFromEnv fills unset fields from INFLUXDB_* variables and
// local development defaults.
func InfluxConfigFromEnv(cfg InfluxConfig) InfluxConfig {
	cfg.URL = firstNonEmpty(cfg.URL, os.Getenv("INFLUXDB_URL"), "http://localhost:8086")
	cfg.Token = firstNonEmpty(cfg.Token, os.Getenv("INFLUXDB_TOKEN"))
	cfg.Org = firstNonEmpty(cfg.Org, os.Getenv("INFLUXDB_ORG"), "adam")
	cfg.Bucket = firstNonEmpty(cfg.Bucket, os.Getenv("INFLUXDB_BUCKET"), "control-telemetry")
	cfg.Measurement = firstNonEmpty(cfg.Measurement, "control_metrics")
	if cfg.Lookback <= 0 {
		cfg.Lookback = 365 * 24 * time.Hour
	}
	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// InfluxSource reads telemetry from an InfluxDB 2.x bucket. Each metric is
// a field on one measurement; points sharing a timestamp form one row.
type InfluxSource struct {
	client influxdb2.Client
	query  api.QueryAPI
	cfg    InfluxConfig
	now    func() time.Time
}

// NewInfluxSource connects a source. Call Close when done.
func NewInfluxSource(cfg InfluxConfig) *InfluxSource {
	cfg = InfluxConfigFromEnv(cfg)
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		cfg:    cfg,
		now:    time.Now,
	}
}

// Ping checks the server is reachable.
func (s *InfluxSource) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb ping: %w", err)
	}
	if !ok {
		return fmt.Errorf("influxdb at %s is not ready", s.cfg.URL)
	}
	return nil
}

// Close releases the client.
func (s *InfluxSource) Close() {
	s.client.Close()
}

// Fetch implements Source.
func (s *InfluxSource) Fetch(ctx context.Context, metrics []Metric, from, to time.Time) (*Table, error) {
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-s.cfg.Lookback)
	}

	names := MetricNames(metrics)
	result, err := s.query.Query(ctx, buildFluxQuery(s.cfg, names, from, to))
	if err != nil {
		return nil, fmt.Errorf("query telemetry: %w", err)
	}
	defer result.Close()

	var samples []sample
	for result.Next() {
		rec := result.Record()
		v, ok := numeric(rec.Value())
		if !ok {
			continue
		}
		samples = append(samples, sample{at: rec.Time(), metric: rec.Field(), value: v})
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry: %w", err)
	}

	t, err := tableFromSamples(samples, names)
	if err != nil {
		return nil, err
	}
	if err := t.Require(metrics...); err != nil {
		return nil, err
	}
	return t, nil
}

// buildFluxQuery selects the requested fields over [from, to].
func buildFluxQuery(cfg InfluxConfig, metrics []string, from, to time.Time) string {
	quoted := make([]string, len(metrics))
	for i, m := range metrics {
		quoted[i] = strconv.Quote(m)
	}
	// range() stop is exclusive; nudge it so rows at exactly `to` count.
	stop := to.Add(time.Nanosecond)
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %s)
  |> filter(fn: (r) => contains(value: r._field, set: [%s]))
  |> keep(columns: ["_time", "_field", "_value"])`,
		strconv.Quote(cfg.Bucket),
		from.UTC().Format(time.RFC3339Nano),
		stop.UTC().Format(time.RFC3339Nano),
		strconv.Quote(cfg.Measurement),
		strings.Join(quoted, ", "),
	)
}

type sample struct {
	at     time.Time
	metric string
	value  float64
}

// tableFromSamples pivots (time, metric, value) samples into rows. A
// metric with no sample at a row's timestamp is NaN in that row. Only
// metrics that appear at least once get a column.
func tableFromSamples(samples []sample, metrics []string) (*Table, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyTable
	}

	rowOf := make(map[int64]int)
	var timestamps []time.Time
	for _, s := range samples {
		key := s.at.UnixNano()
		if _, ok := rowOf[key]; !ok {
			rowOf[key] = len(timestamps)
			timestamps = append(timestamps, s.at.UTC())
		}
	}

	wanted := make(map[string]bool, len(metrics))
	for _, m := range metrics {
		wanted[m] = true
	}
	columns := make(map[string][]float64)
	for _, s := range samples {
		if len(wanted) > 0 && !wanted[s.metric] {
			continue
		}
		col, ok := columns[s.metric]
		if !ok {
			col = slices.Repeat([]float64{math.NaN()}, len(timestamps))
			columns[s.metric] = col
		}
		col[rowOf[s.at.UnixNano()]] = s.value
	}
	return NewTable(timestamps, columns)
}

func numeric(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
