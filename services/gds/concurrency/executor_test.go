// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

func TestScopeCountsEveryUnit(t *testing.T) {
	exec := NewExecutor(8, nil)
	for run := 0; run < 20; run++ {
		var counter atomic.Int64
		err := exec.Scope(context.Background(), termination.RunningTrue(), func(s *Scope) error {
			s.SpawnMany(100, func(context.Context, int) error {
				counter.Add(1)
				return nil
			})
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, int64(100), counter.Load())
	}
}

func TestScopeJoinIsBarrier(t *testing.T) {
	exec := NewExecutor(4, nil)
	var phaseOneDone atomic.Int64
	const units = 64

	require.NoError(t, exec.Scope(context.Background(), nil, func(s *Scope) error {
		s.SpawnMany(units, func(context.Context, int) error {
			time.Sleep(time.Millisecond)
			phaseOneDone.Add(1)
			return nil
		})
		return nil
	}))

	var violations atomic.Int64
	require.NoError(t, exec.Scope(context.Background(), nil, func(s *Scope) error {
		s.SpawnMany(units, func(context.Context, int) error {
			if phaseOneDone.Load() != units {
				violations.Add(1)
			}
			return nil
		})
		return nil
	}))
	assert.Zero(t, violations.Load())
}

func TestScopeBoundsConcurrency(t *testing.T) {
	exec := NewExecutor(3, nil)
	var active, peak atomic.Int64

	require.NoError(t, exec.Scope(context.Background(), nil, func(s *Scope) error {
		s.SpawnMany(30, func(context.Context, int) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil
		})
		return nil
	}))
	assert.LessOrEqual(t, peak.Load(), int64(3))
}

func TestScopeSurfacesErrorsAfterJoin(t *testing.T) {
	exec := NewExecutor(4, nil)
	boom := errors.New("boom")
	var finished atomic.Int64
	started := make(chan struct{})

	err := exec.Scope(context.Background(), nil, func(s *Scope) error {
		s.Spawn(func(context.Context) error {
			close(started)
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		})
		s.Spawn(func(context.Context) error {
			<-started
			return boom
		})
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), finished.Load(), "started unit must be joined")
}

func TestScopeRecoversPanics(t *testing.T) {
	exec := NewExecutor(2, nil)
	err := exec.Scope(context.Background(), nil, func(s *Scope) error {
		s.Spawn(func(context.Context) error {
			panic("bad unit")
		})
		return nil
	})

	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad unit", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestScopeSkipsUnstartedUnitsAfterTermination(t *testing.T) {
	exec := NewExecutor(1, nil)
	flag := termination.NewStopFlag()
	var ran atomic.Int64

	err := exec.Scope(context.Background(), flag, func(s *Scope) error {
		s.SpawnMany(100, func(context.Context, int) error {
			if ran.Add(1) == 10 {
				flag.Stop(termination.ReasonUser, "test")
			}
			return nil
		})
		return nil
	})
	require.ErrorIs(t, err, termination.ErrTerminated)
	assert.Equal(t, int64(10), ran.Load())
}

func TestScopeStopsOnContextCancel(t *testing.T) {
	exec := NewExecutor(2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Int64
	err := exec.Scope(ctx, termination.RunningTrue(), func(s *Scope) error {
		s.SpawnMany(50, func(context.Context, int) error {
			ran.Add(1)
			return nil
		})
		return nil
	})
	require.ErrorIs(t, err, termination.ErrTerminated)
	assert.Zero(t, ran.Load())
}

func TestScopeReportsTerminationOnce(t *testing.T) {
	exec := NewExecutor(4, nil)
	flag := termination.NewStopFlag()
	flag.Stop(termination.ReasonUser, "")

	err := exec.Scope(context.Background(), flag, func(s *Scope) error {
		s.SpawnMany(8, func(context.Context, int) error {
			return flag.AssertRunning()
		})
		return nil
	})
	require.Error(t, err)
	assert.True(t, termination.IsTerminated(err))
}

func TestParallelFor(t *testing.T) {
	exec := NewExecutor(4, nil)
	seen := make([]atomic.Int32, 5000)

	err := exec.ParallelFor(context.Background(), 100, 5000, termination.RunningTrue(), func(i int64) error {
		seen[i].Add(1)
		return nil
	})
	require.NoError(t, err)
	for i := range seen {
		want := int32(1)
		if i < 100 {
			want = 0
		}
		require.Equal(t, want, seen[i].Load(), "index %d", i)
	}

	require.NoError(t, exec.ParallelFor(context.Background(), 5, 5, nil, func(int64) error {
		t.Fatal("empty range must not run")
		return nil
	}))
}

func TestRunPartitions(t *testing.T) {
	exec := NewExecutor(3, nil)
	parts := RangePartitions(10, 2, 3)
	var total atomic.Int64

	require.NoError(t, exec.RunPartitions(context.Background(), parts, nil, func(_ context.Context, p Partition) error {
		total.Add(p.Length)
		return nil
	}))
	assert.Equal(t, int64(10), total.Load())
}

func TestRangePartitions(t *testing.T) {
	tests := []struct {
		name        string
		count       int64
		concurrency int
		minBatch    int64
		wantParts   int
	}{
		{name: "empty", count: 0, concurrency: 4, minBatch: 1, wantParts: 0},
		{name: "min batch dominates", count: 10, concurrency: 4, minBatch: 100, wantParts: 1},
		{name: "even split", count: 1600, concurrency: 4, minBatch: 1, wantParts: 16},
		{name: "uneven tail", count: 10, concurrency: 1, minBatch: 3, wantParts: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := RangePartitions(tt.count, tt.concurrency, tt.minBatch)
			require.Len(t, parts, tt.wantParts)
			var next int64
			for _, p := range parts {
				assert.Equal(t, next, p.Start)
				next = p.End()
			}
			assert.Equal(t, tt.count, next)
		})
	}
}

func TestDegreePartitions(t *testing.T) {
	degrees := []int64{100, 0, 0, 0, 0, 0, 0, 0, 0, 100}
	parts := DegreePartitions(int64(len(degrees)), func(n int64) int64 { return degrees[n] }, 1)

	var next int64
	for _, p := range parts {
		assert.Equal(t, next, p.Start)
		assert.Positive(t, p.Length)
		next = p.End()
	}
	assert.Equal(t, int64(len(degrees)), next)
	assert.Greater(t, len(parts), 1)
	assert.Equal(t, Partition{Start: 0, Length: 1}, parts[0])
}
