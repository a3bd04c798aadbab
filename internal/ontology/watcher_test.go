// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ontology

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHolder(t *testing.T) {
	first, err := Parse([]byte(minimalDoc))
	require.NoError(t, err)
	h := NewHolder(first)
	assert.Same(t, first, h.Current())
	assert.EqualValues(t, 1, h.Generation())

	second, err := Parse([]byte(strings.Replace(minimalDoc, "name: SLA", "name: SLA v2", 1)))
	require.NoError(t, err)
	h.Store(second)
	assert.Same(t, second, h.Current())
	assert.EqualValues(t, 2, h.Generation())
	assert.False(t, h.LoadedAt().IsZero())
}

func TestWatcher_ReloadsValidAndKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ontology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalDoc), 0600))

	initial, err := Load(path)
	require.NoError(t, err)
	holder := NewHolder(initial)

	var attempts, failures atomic.Int32
	w, err := NewWatcher(path, holder, WatcherOptions{
		Debounce: 20 * time.Millisecond,
		OnReload: func(_ *Ontology, err error) {
			attempts.Add(1)
			if err != nil {
				failures.Add(1)
			}
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	updated := minimalDoc + "forecast:\n  horizon_days: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))
	require.Eventually(t, func() bool {
		return holder.Current().Forecast.HorizonDays == 7
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("controls: not-a-list\n"), 0600))
	require.Eventually(t, func() bool { return failures.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 7, holder.Current().Forecast.HorizonDays)

	// Unrelated files in the same directory are ignored.
	before := attempts.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, attempts.Load())
}
