// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history persists algorithm job records in BadgerDB.
//
// Records are keyed by job id. A secondary index ordered by submission
// time serves newest-first listings and retention.
//
// Key layout:
//
//	rec/<job id>                      -> JSON Record
//	idx/<inverted unix nanos>/<job id> -> empty
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

var (
	// ErrNotFound is returned for unknown job ids.
	ErrNotFound = errors.New("history record not found")

	// ErrInvalidRecord is returned for records without an id.
	ErrInvalidRecord = errors.New("invalid history record")
)

const (
	recordPrefix = "rec/"
	indexPrefix  = "idx/"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the job has finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Record is one algorithm run.
type Record struct {
	ID             string             `json:"id"`
	Graph          string             `json:"graph"`
	Algorithm      string             `json:"algorithm"`
	Status         Status             `json:"status"`
	Config         map[string]any     `json:"config,omitempty"`
	Summary        map[string]any     `json:"summary,omitempty"`
	MutateProperty string             `json:"mutate_property,omitempty"`
	Error          string             `json:"error,omitempty"`
	ErrorCode      string             `json:"error_code,omitempty"`
	SubmittedAt    time.Time          `json:"submitted_at"`
	FinishedAt     time.Time          `json:"finished_at,omitzero"`
	DurationMillis int64              `json:"duration_ms,omitempty"`
	Tasks          *progress.Snapshot `json:"tasks,omitempty"`
}

// Store is the BadgerDB-backed record store.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	db       *badger.DB
	gc       *gcRunner
	cfg      Config
	logger   *slog.Logger
	inMemory bool
}

// Open opens the history database.
//
// Inputs:
//
//	cfg - Database configuration. Path is required unless InMemory is set.
//	logger - Logger for history events. Nil uses slog.Default().
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "history"))

	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, cfg: cfg, logger: logger, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
		s.gc.start()
	}
	return s, nil
}

// OpenInMemory opens an in-memory store for tests.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig(), nil)
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

// InMemory reports whether records are kept in memory only.
func (s *Store) InMemory() bool { return s.inMemory }

func recordKey(id string) []byte {
	return []byte(recordPrefix + id)
}

// indexKey orders newest first under a forward iteration.
func indexKey(submitted time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%019d/%s", indexPrefix, math.MaxInt64-submitted.UnixNano(), id))
}

func idFromIndexKey(key []byte) string {
	k := string(key)
	return k[strings.LastIndexByte(k, '/')+1:]
}

// Put inserts or replaces a record, then applies retention.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" || strings.Contains(rec.ID, "/") {
		return fmt.Errorf("%w: id %q", ErrInvalidRecord, rec.ID)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("history: context cancelled: %w", err)
	}
	if rec.SubmittedAt.IsZero() {
		rec.SubmittedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("history: encode record %s: %w", rec.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if prev, err := getRecord(txn, rec.ID); err == nil {
			if err := txn.Delete(indexKey(prev.SubmittedAt, prev.ID)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set(recordKey(rec.ID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(rec.SubmittedAt, rec.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("history: put %s: %w", rec.ID, err)
	}
	return s.enforceRetention()
}

// Get returns the record for a job id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history: context cancelled: %w", err)
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func getRecord(txn *badger.Txn, id string) (*Record, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("history: decode record %s: %w", id, err)
	}
	return &rec, nil
}

// ListOptions filters List.
type ListOptions struct {
	// Limit caps the number of records. Zero means no limit.
	Limit int

	// Graph keeps only records for this graph when set.
	Graph string

	// Algorithm keeps only records for this algorithm when set.
	Algorithm string
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history: context cancelled: %w", err)
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexPrefix)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if opts.Limit > 0 && len(out) >= opts.Limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := getRecord(txn, idFromIndexKey(it.Item().Key()))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if opts.Graph != "" && rec.Graph != opts.Graph {
				continue
			}
			if opts.Algorithm != "" && rec.Algorithm != opts.Algorithm {
				continue
			}
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return out, nil
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("history: context cancelled: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(rec.SubmittedAt, rec.ID)); err != nil {
			return err
		}
		return txn.Delete(recordKey(id))
	})
}

// Count returns the number of records.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: []byte(indexPrefix)}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// enforceRetention deletes the oldest records beyond MaxRecords.
func (s *Store) enforceRetention() error {
	if s.cfg.MaxRecords <= 0 {
		return nil
	}
	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(indexPrefix)})
		defer it.Close()
		seen := 0
		for it.Rewind(); it.Valid(); it.Next() {
			seen++
			if seen <= s.cfg.MaxRecords {
				continue
			}
			expired = append(expired, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(expired) == 0 {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range expired {
		if err := wb.Delete(key); err != nil {
			return err
		}
		if err := wb.Delete(recordKey(idFromIndexKey(key))); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("history: retention: %w", err)
	}
	s.logger.Debug("history retention applied", slog.Int("deleted", len(expired)))
	return nil
}
