// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adam.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), true)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Server.Listen, cfg.Server.Listen)
	assert.Equal(t, def.Ontology.Path, cfg.Ontology.Path)
	assert.Equal(t, 5*time.Minute, cfg.Store.GCInterval)
	assert.NotContains(t, cfg.Store.Path, "~")
	assert.Equal(t, "adam", cfg.Influx.Org, "influx defaults applied")
}

func TestLoad_MissingFileRequired(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), false)
	assert.Error(t, err)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
ontology:
  path: /etc/adam/ontology.yaml
  watch: true
server:
  listen: 0.0.0.0:9000
  rate_limit: 20
  request_timeout: 30s
replay:
  parallelism: 4
alerting:
  brokers: [kafka-1:9092]
`)
	cfg, err := Load(path, false)
	require.NoError(t, err)

	assert.Equal(t, "/etc/adam/ontology.yaml", cfg.Ontology.Path)
	assert.True(t, cfg.Ontology.Watch)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, 20.0, cfg.Server.RateLimit)
	assert.Equal(t, 10, cfg.Server.Burst, "unset fields keep defaults")
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 4, cfg.Replay.Parallelism)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Alerting.Brokers)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeFile(t, ""), false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Listen, cfg.Server.Listen)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "server:\n  api_key: from-file\n")
	t.Setenv(EnvAPIKey, "from-env")
	t.Setenv(EnvOntology, "/tmp/o.yaml")
	t.Setenv(EnvStorePath, "/tmp/store")
	t.Setenv(EnvBrokers, "a:1,b:2")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.APIKey)
	assert.Equal(t, "/tmp/o.yaml", cfg.Ontology.Path)
	assert.Equal(t, "/tmp/store", cfg.Store.Path)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Alerting.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", "server:\n  lisen: x\n", "lisen"},
		{"zero rate", "server:\n  rate_limit: 0\n", "server.rate_limit"},
		{"negative parallelism", "replay:\n  parallelism: -2\n", "replay.parallelism"},
		{"no store path", "store:\n  path: \"\"\n", "store.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.body), false)
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "adam.yaml")
	require.NoError(t, WriteDefault(path, false))

	cfg, err := Load(path, false)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Listen, cfg.Server.Listen)
	assert.Equal(t, "none", cfg.Telemetry.TraceExporter)

	assert.Error(t, WriteDefault(path, false), "existing file is kept")
	assert.NoError(t, WriteDefault(path, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvConfig, "/srv/adam.yaml")
	assert.Equal(t, "/srv/adam.yaml", DefaultPath())

	t.Setenv(EnvConfig, "")
	assert.Equal(t, "adam.yaml", filepath.Base(DefaultPath()))
}
