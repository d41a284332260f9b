// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
)

func openTest(t *testing.T, cfg Config) *Store {
	t.Helper()
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func record(id string, at time.Time) Record {
	return Record{ID: id, Graph: "g", Algorithm: "pagerank", Status: StatusCompleted, SubmittedAt: at}
}

func TestPutGet(t *testing.T) {
	s := openTest(t, InMemoryConfig())
	ctx := context.Background()

	snap := progress.NewTask("PageRank", 10).Snapshot()
	rec := record("job-1", time.Unix(100, 0))
	rec.Summary = map[string]any{"iterations": 3.0}
	rec.Tasks = &snap
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "pagerank", got.Algorithm)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 3.0, got.Summary["iterations"])
	require.NotNil(t, got.Tasks)
	assert.Equal(t, "PageRank", got.Tasks.Description)
	assert.True(t, got.SubmittedAt.Equal(rec.SubmittedAt))

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPutReplacesRecord(t *testing.T) {
	s := openTest(t, InMemoryConfig())
	ctx := context.Background()

	rec := record("job-1", time.Unix(100, 0))
	rec.Status = StatusRunning
	require.NoError(t, s.Put(ctx, rec))

	rec.Status = StatusFailed
	rec.Error = "boom"
	require.NoError(t, s.Put(ctx, rec))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestListNewestFirst(t *testing.T) {
	s := openTest(t, InMemoryConfig())
	ctx := context.Background()

	base := time.Unix(1000, 0)
	for i, id := range []string{"b", "c", "a"} {
		rec := record(id, base.Add(time.Duration(i)*time.Second))
		if id == "c" {
			rec.Algorithm = "wcc"
		}
		require.NoError(t, s.Put(ctx, rec))
	}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{name: "all", opts: ListOptions{}, want: []string{"a", "c", "b"}},
		{name: "limit", opts: ListOptions{Limit: 2}, want: []string{"a", "c"}},
		{name: "algorithm", opts: ListOptions{Algorithm: "wcc"}, want: []string{"c"}},
		{name: "graph", opts: ListOptions{Graph: "other"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.List(ctx, tt.opts)
			require.NoError(t, err)
			var ids []string
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRetention(t *testing.T) {
	cfg := InMemoryConfig()
	cfg.MaxRecords = 3
	s := openTest(t, cfg)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Put(ctx, record(fmt.Sprintf("job-%d", i), time.Unix(int64(i), 0))))
	}

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = s.Get(ctx, "job-0")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "job-4")
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	s := openTest(t, InMemoryConfig())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, record("job-1", time.Unix(1, 0))))
	require.NoError(t, s.Delete(ctx, "job-1"))
	require.ErrorIs(t, s.Delete(ctx, "job-1"), ErrNotFound)

	recs, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestInvalidRecord(t *testing.T) {
	s := openTest(t, InMemoryConfig())
	require.ErrorIs(t, s.Put(context.Background(), Record{}), ErrInvalidRecord)
	require.ErrorIs(t, s.Put(context.Background(), Record{ID: "a/b"}), ErrInvalidRecord)
}

func TestPersistentReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.GCInterval = 0

	s, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), record("job-1", time.Unix(1, 0))))
	require.NoError(t, s.Close())

	s = openTest(t, cfg)
	got, err := s.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "g", got.Graph)
	assert.False(t, s.InMemory())
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	require.Error(t, err)
}

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusRunning.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
