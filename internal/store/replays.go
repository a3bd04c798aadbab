// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"golang.org/x/mod/semver"

	"github.com/AleutianAI/adam/internal/replay"
)

const (
	runPrefix   = "replay/"
	indexPrefix = "replay_by_time/"
)

var (
	// ErrNotFound is returned by Get and Delete for an unknown run id.
	ErrNotFound = errors.New("replay run not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("replay store closed")

	// ErrIncompatible is returned by Get for a run written with a
	// different major result version.
	ErrIncompatible = errors.New("stored replay has an incompatible api_version")
)

// Summary is the listing view of a stored run.
type Summary struct {
	RunID            string     `json:"run_id"`
	CreatedAt        time.Time  `json:"created_at"`
	IncidentTime     time.Time  `json:"incident_time"`
	LookbackDays     int        `json:"lookback_days"`
	Days             int        `json:"days"`
	FirstWarningTime *time.Time `json:"first_warning_time"`
	LeadTimeDays     *float64   `json:"lead_time_days"`
	MaxERI           float64    `json:"max_eri"`
}

// Summarize builds the listing view of res.
func Summarize(res *replay.Result) Summary {
	return Summary{
		RunID:            res.RunID,
		CreatedAt:        res.CreatedAt,
		IncidentTime:     res.IncidentTime,
		LookbackDays:     res.LookbackDays,
		Days:             len(res.Series),
		FirstWarningTime: res.FirstWarningTime,
		LeadTimeDays:     res.LeadTimeDays,
		MaxERI:           res.MaxERI(),
	}
}

// ReplayStore saves and lists replay runs.
//
// # Thread Safety
//
// ReplayStore is safe for concurrent use.
type ReplayStore struct {
	db *badger.DB
	gc *gcRunner

	mu     sync.Mutex
	closed bool
}

// Open opens a ReplayStore with cfg, starting value log GC when
// configured for a persistent database.
func Open(cfg Config) (*ReplayStore, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, err
	}
	s := &ReplayStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		gc, err := startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("start GC: %w", err)
		}
		s.gc = gc
	}
	return s, nil
}

// OpenInMemory opens a throwaway store.
func OpenInMemory() (*ReplayStore, error) {
	return Open(InMemoryConfig())
}

// Close stops GC and closes the database. Safe to call more than once.
func (s *ReplayStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// Save stores res under its RunID, replacing any earlier run with the
// same id.
func (s *ReplayStore) Save(ctx context.Context, res *replay.Result) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if res == nil || res.RunID == "" {
		return errors.New("replay result must have a run id")
	}

	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode replay %s: %w", res.RunID, err)
	}
	summary, err := json.Marshal(Summarize(res))
	if err != nil {
		return fmt.Errorf("encode summary %s: %w", res.RunID, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if prev, err := getRun(txn, res.RunID); err == nil {
			if err := txn.Delete(indexKey(prev.CreatedAt, prev.RunID)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(runKey(res.RunID), body); err != nil {
			return fmt.Errorf("write replay %s: %w", res.RunID, err)
		}
		return txn.Set(indexKey(res.CreatedAt, res.RunID), summary)
	})
}

// Get loads the run with id.
func (s *ReplayStore) Get(ctx context.Context, id string) (*replay.Result, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	var res *replay.Result
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		res, err = getRun(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !compatible(res.APIVersion) {
		return nil, fmt.Errorf("%w: run %s has %q, want %s.x", ErrIncompatible, id, res.APIVersion, semver.Major("v"+replay.APIVersion))
	}
	return res, nil
}

// compatible reports whether a stored api_version shares the current
// major version.
func compatible(version string) bool {
	v := "v" + version
	return semver.IsValid(v) && semver.Major(v) == semver.Major("v"+replay.APIVersion)
}

// List returns up to limit summaries, newest first. limit <= 0 returns all.
func (s *ReplayStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	out := make([]Summary, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key under the prefix.
		seek := append([]byte(indexPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sum Summary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sum)
			}); err != nil {
				return fmt.Errorf("decode summary %s: %w", it.Item().Key(), err)
			}
			out = append(out, sum)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the run with id.
func (s *ReplayStore) Delete(ctx context.Context, id string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := getRun(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(prev.CreatedAt, id)); err != nil {
			return err
		}
		return txn.Delete(runKey(id))
	})
}

func (s *ReplayStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func getRun(txn *badger.Txn, id string) (*replay.Result, error) {
	item, err := txn.Get(runKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read replay %s: %w", id, err)
	}
	var res replay.Result
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &res)
	}); err != nil {
		return nil, fmt.Errorf("decode replay %s: %w", id, err)
	}
	return &res, nil
}

func runKey(id string) []byte {
	return []byte(runPrefix + id)
}

// indexKey zero-pads the timestamp so byte order matches time order.
func indexKey(created time.Time, id string) []byte {
	return fmt.Appendf(nil, "%s%020d/%s", indexPrefix, created.UnixNano(), id)
}
