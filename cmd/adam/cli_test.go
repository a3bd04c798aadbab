// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/adam/internal/config"
	"github.com/AleutianAI/adam/internal/forecast"
	"github.com/AleutianAI/adam/internal/replay"
	"github.com/AleutianAI/adam/internal/store"
)

const cliOntology = `
version: "cli-test"
company_profile:
  accounts_under_sla: 40
  avg_contract_value: 12000
controls:
  - id: sla_compliance
    name: SLA compliance
    metric: sla_breach_rate
    direction: higher_is_worse
    states:
      healthy: {max: 0.005}
      constrained: {max: 0.01}
      degraded: {max: 0.02}
      failed: {}
  - id: ops_queue
    name: Ops queue
    metric: ops_queue_depth
    direction: higher_is_worse
    states:
      healthy: {max: 300}
      constrained: {max: 600}
      degraded: {max: 1200}
      failed: {}
impact_weights:
  sla_compliance: 1.5
  ops_queue: 0.8
forecast:
  warning_thresholds: {eri: 0.65}
`

var (
	jan1   = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	breach = time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
)

type cliEnv struct {
	dir      string
	ontology string
	healthy  string
	breached string
}

// newCLIEnv writes the ontology and two ten-day histories to a temp dir
// and points the config, ontology and store at it.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		dir:      dir,
		ontology: filepath.Join(dir, "ontology.yaml"),
		healthy:  filepath.Join(dir, "healthy.csv"),
		breached: filepath.Join(dir, "breached.csv"),
	}
	require.NoError(t, os.WriteFile(env.ontology, []byte(cliOntology), 0600))
	require.NoError(t, os.WriteFile(env.healthy, []byte(historyCSV(time.Time{})), 0600))
	require.NoError(t, os.WriteFile(env.breached, []byte(historyCSV(breach)), 0600))

	t.Setenv(config.EnvConfig, filepath.Join(dir, "adam.yaml"))
	t.Setenv(config.EnvOntology, env.ontology)
	t.Setenv(config.EnvStorePath, filepath.Join(dir, "store"))
	t.Setenv(config.EnvBrokers, "")
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv("NO_COLOR", "1")
	return env
}

func historyCSV(breachAt time.Time) string {
	var b strings.Builder
	b.WriteString("timestamp,sla_breach_rate,ops_queue_depth\n")
	for i := range 40 {
		ts := jan1.Add(time.Duration(i*6) * time.Hour)
		sla := 0.001
		if !breachAt.IsZero() && !ts.Before(breachAt) {
			sla = 0.05
		}
		fmt.Fprintf(&b, "%s,%g,%d\n", ts.Format(time.RFC3339), sla, 120)
	}
	return b.String()
}

func run(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = execute(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestExecute_Version(t *testing.T) {
	newCLIEnv(t)
	code, out, _ := run(t, "--version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, version)
}

func TestExecute_UnknownCommand(t *testing.T) {
	newCLIEnv(t)
	code, _, errOut := run(t, "frobnicate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "unknown command")
}

func TestExecute_ExplicitMissingConfigFails(t *testing.T) {
	env := newCLIEnv(t)
	code, _, errOut := run(t, "--config", filepath.Join(env.dir, "nope.yaml"), "ontology", "validate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "nope.yaml")
}

func TestExecute_BadLogLevel(t *testing.T) {
	newCLIEnv(t)
	code, _, errOut := run(t, "--log-level", "loud", "ontology", "validate")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "unknown log level")
}

func TestForecast_Plain(t *testing.T) {
	env := newCLIEnv(t)
	code, out, _ := run(t, "forecast", "--csv", env.healthy, "--horizon", "7")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Forecast")
	assert.Contains(t, out, "7 days, 28 steps of 6h")
	assert.Contains(t, out, "Escalation Risk Index")
	assert.NotContains(t, out, "WARNING")
	assert.NotContains(t, out, "\x1b[")
}

func TestForecast_JSON(t *testing.T) {
	env := newCLIEnv(t)
	code, out, _ := run(t, "--json", "forecast", "--csv", env.breached, "--seed", "9")
	require.Equal(t, exitOK, code)

	var report forecastReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.Warning)
	assert.Equal(t, uint64(9), report.Forecast.Seed)
	assert.Len(t, report.Forecast.Series, 56)
	assert.Equal(t, 0.65, report.Threshold)
}

func TestForecast_SeedZeroIsExplicit(t *testing.T) {
	env := newCLIEnv(t)
	code, out, _ := run(t, "--json", "forecast", "--csv", env.healthy, "--seed", "0", "--horizon", "2")
	require.Equal(t, exitOK, code)
	var zero forecastReport
	require.NoError(t, json.Unmarshal([]byte(out), &zero))
	assert.Equal(t, uint64(0), zero.Forecast.Seed)

	code, out, _ = run(t, "--json", "forecast", "--csv", env.healthy, "--horizon", "2")
	require.Equal(t, exitOK, code)
	var def forecastReport
	require.NoError(t, json.Unmarshal([]byte(out), &def))
	assert.Equal(t, forecast.DefaultSeed, def.Forecast.Seed)
	assert.NotEqual(t, zero.Forecast.Series, def.Forecast.Series)
}

func TestForecast_FailOnWarning(t *testing.T) {
	env := newCLIEnv(t)
	code, out, _ := run(t, "forecast", "--csv", env.breached, "--fail-on-warning")
	assert.Equal(t, exitWarning, code)
	assert.Contains(t, out, "WARNING")

	code, _, _ = run(t, "forecast", "--csv", env.healthy, "--fail-on-warning")
	assert.Equal(t, exitOK, code)
}

func TestForecast_FlagErrors(t *testing.T) {
	env := newCLIEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no source", []string{"forecast"}, "csv"},
		{"both sources", []string{"forecast", "--csv", env.healthy, "--influx"}, "influx"},
		{"bad start", []string{"forecast", "--csv", env.healthy, "--start", "soon"}, "--start"},
		{"start before data", []string{"forecast", "--csv", env.healthy, "--start", "2024-12-01"}, "earlier than any available data"},
		{"bad what-if", []string{"forecast", "--csv", env.healthy, "--what-if", "ops_queue_depth"}, "metric=factor"},
		{"missing file", []string{"forecast", "--csv", filepath.Join(env.dir, "none.csv")}, "none.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := run(t, tt.args...)
			assert.Equal(t, exitError, code)
			assert.Contains(t, errOut, tt.want)
		})
	}
}

func TestForecast_MissingMetricNamesControl(t *testing.T) {
	env := newCLIEnv(t)
	partial := filepath.Join(env.dir, "partial.csv")
	require.NoError(t, os.WriteFile(partial, []byte("timestamp,sla_breach_rate\n2025-01-01T00:00:00Z,0.001\n"), 0600))

	for _, cmd := range [][]string{
		{"forecast", "--csv", partial},
		{"replay", "--csv", partial, "--incident", "2025-01-01T00:00:00Z", "--no-save"},
	} {
		code, _, errOut := run(t, cmd...)
		assert.Equal(t, exitError, code, cmd[0])
		assert.Contains(t, errOut, `missing metric column "ops_queue_depth" for control "ops_queue"`, cmd[0])
	}
}

func TestReplay_SaveExportAndInspect(t *testing.T) {
	env := newCLIEnv(t)
	csvOut := filepath.Join(env.dir, "eri.csv")

	code, out, _ := run(t, "--json", "replay",
		"--csv", env.breached,
		"--incident", "2025-01-10T00:00:00Z",
		"--lookback", "9",
		"--export-csv", csvOut,
		"--fail-on-warning",
	)
	require.Equal(t, exitWarning, code)

	var res replay.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.True(t, res.Warned())
	assert.Len(t, res.Series, 10)

	data, err := os.ReadFile(csvOut)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 11)
	assert.True(t, strings.HasPrefix(lines[0], "day,as_of,eri"))

	code, out, _ = run(t, "--json", "replays", "list")
	require.Equal(t, exitOK, code)
	var runs []store.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, res.RunID, runs[0].RunID)

	code, out, _ = run(t, "replays", "show", res.RunID)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Replay "+res.RunID)
	assert.Contains(t, out, res.Narrative.Headline)

	code, _, _ = run(t, "replays", "delete", res.RunID)
	require.Equal(t, exitOK, code)
	code, _, errOut := run(t, "replays", "show", res.RunID)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "not found")
}

func TestReplay_NoSaveNoWarning(t *testing.T) {
	env := newCLIEnv(t)
	code, out, _ := run(t, "replay",
		"--csv", env.healthy,
		"--incident", "2025-01-10",
		"--lookback", "9",
		"--no-save",
		"--fail-on-warning",
	)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "No ERI warning")

	code, out, _ = run(t, "replays", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "no replay runs stored")
}

func TestReplay_Errors(t *testing.T) {
	env := newCLIEnv(t)

	code, _, errOut := run(t, "replay", "--csv", env.healthy)
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "incident")

	code, _, errOut = run(t, "replay", "--csv", env.healthy, "--incident", "2025-06-01", "--lookback", "7", "--no-save")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, replay.ErrEmptyWindow.Error())

	code, _, errOut = run(t, "replay", "--csv", env.healthy, "--incident", "2025-01-10", "--lookback", "0")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "--lookback")
}

func TestImpact(t *testing.T) {
	newCLIEnv(t)
	code, out, _ := run(t, "--json", "impact", "--use-profile", "--churn", "0.5", "--penalty", "10")
	require.Equal(t, exitOK, code)

	var body struct {
		Inputs struct {
			BreachedAccounts int `json:"breached_accounts"`
		} `json:"inputs"`
		Outputs struct {
			ChurnCost   float64 `json:"churn_cost"`
			PenaltyCost float64 `json:"penalty_cost"`
		} `json:"outputs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, 40, body.Inputs.BreachedAccounts)
	assert.InDelta(t, 240000.0, body.Outputs.ChurnCost, 1e-9)
	assert.InDelta(t, 400.0, body.Outputs.PenaltyCost, 1e-9)

	code, _, errOut := run(t, "impact", "--churn", "2")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "invalid impact inputs")
}

func TestOntologyCommands(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := run(t, "ontology", "validate")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "version cli-test, 2 controls, 0 propagation edges")

	bad := filepath.Join(env.dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("controls: []\n"), 0600))
	code, _, _ = run(t, "ontology", "validate", bad)
	assert.Equal(t, exitError, code)

	code, out, _ = run(t, "ontology", "show")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "sla_breach_rate")
	assert.Contains(t, out, "horizon_days: 14")

	code, out, _ = run(t, "ontology", "schema")
	require.Equal(t, exitOK, code)
	assert.True(t, json.Valid([]byte(out)))
}

func TestConfigInitAndShow(t *testing.T) {
	env := newCLIEnv(t)
	path := filepath.Join(env.dir, "conf", "adam.yaml")

	code, out, _ := run(t, "--config", path, "config", "init")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "wrote "+path)

	code, _, errOut := run(t, "--config", path, "config", "init")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, "already exists")

	t.Setenv(config.EnvAPIKey, "very-secret")
	code, out, _ = run(t, "--config", path, "config", "show")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "REDACTED")
	assert.NotContains(t, out, "very-secret")
}

func TestServe_RequiresAPIKey(t *testing.T) {
	newCLIEnv(t)
	code, _, errOut := run(t, "serve", "--listen", "127.0.0.1:0")
	assert.Equal(t, exitError, code)
	assert.Contains(t, errOut, config.EnvAPIKey)
}
