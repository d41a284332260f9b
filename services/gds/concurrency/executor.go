// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package concurrency provides scoped parallel execution with cooperative
// termination.
//
// # Scopes
//
// Executor.Scope opens a scope, runs a body that spawns work, and returns
// only after every spawned unit has finished. That return is a hard
// barrier: nothing from a later scope starts before an earlier one has
// joined, which lets iterative algorithms alternate parallel supersteps
// with sequential convergence checks.
//
// # Scheduling
//
// SpawnMany starts at most Concurrency workers. Workers pull unit indices
// from a shared atomic counter, so a worker that finishes early takes the
// next pending unit instead of idling behind a static assignment.
//
// # Failure
//
// Unit errors and recovered panics are collected and joined after the
// barrier; none are dropped. Once a unit fails or the termination flag
// trips, workers skip the units they have not started. Units already
// running observe the flag at their next check.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

var tracer = otel.Tracer("gds.concurrency")

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gds_executor_units_total",
		Help: "Work units by outcome (completed, failed, skipped)",
	}, []string{"outcome"})

	scopeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gds_executor_scope_duration_seconds",
		Help:    "Wall time from scope open to join",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
	})
)

// PanicError wraps a panic recovered from a work unit.
type PanicError struct {
	Value any
	Stack []byte
}

// Error implements error.
func (p *PanicError) Error() string {
	return fmt.Sprintf("work unit panicked: %v", p.Value)
}

// Unwrap returns the panic value when it is an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// ==============================================================================
// Executor
// ==============================================================================

// Executor runs scoped parallel work on a bounded number of goroutines.
//
// Thread Safety:
//
//	Safe for concurrent use. Independent scopes may run concurrently.
type Executor struct {
	concurrency int
	logger      *slog.Logger
}

// NewExecutor creates an executor.
//
// Inputs:
//
//	concurrency - Maximum concurrently running units per scope. Values below
//	  1 mean runtime.GOMAXPROCS(0).
//	logger - Logger for scope diagnostics. If nil, uses slog.Default().
func NewExecutor(concurrency int, logger *slog.Logger) *Executor {
	if concurrency < 1 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "executor")),
	}
}

// Concurrency returns the worker bound.
func (e *Executor) Concurrency() int {
	return e.concurrency
}

// WithConcurrency returns an executor sharing the logger with a different
// bound.
func (e *Executor) WithConcurrency(concurrency int) *Executor {
	return NewExecutor(concurrency, e.logger)
}

// Scope runs body and joins everything it spawned.
//
// Description:
//
//	The scope's flag is the given flag combined with ctx, so cancelling ctx
//	also skips pending units. Spawn and SpawnMany must be called from body
//	itself, not from inside a unit.
//
// Inputs:
//
//	ctx - Context for tracing and cancellation.
//	flag - Termination flag. Nil means running until ctx is done.
//	body - Spawns units. Its own error is joined with unit errors.
//
// Outputs:
//
//	error - Joined unit and body errors, plus a termination error when the
//	  flag stopped. Nil only when every unit ran and succeeded.
func (e *Executor) Scope(ctx context.Context, flag termination.Flag, body func(s *Scope) error) error {
	ctx, span := tracer.Start(ctx, "Executor.Scope",
		trace.WithAttributes(attribute.Int("executor.concurrency", e.concurrency)),
	)
	defer span.End()
	start := time.Now()

	if flag == nil {
		flag = termination.FromContext(ctx)
	} else {
		flag = termination.Any(flag, termination.FromContext(ctx))
	}

	s := &Scope{ctx: ctx, flag: flag, exec: e}
	s.group.SetLimit(e.concurrency)

	bodyErr := body(s)
	_ = s.group.Wait()
	scopeDuration.Observe(time.Since(start).Seconds())

	span.SetAttributes(
		attribute.Int64("executor.units_completed", s.completed.Load()),
		attribute.Int64("executor.units_skipped", s.skipped.Load()),
	)

	errs := make([]error, 0, len(s.errs)+2)
	if bodyErr != nil {
		errs = append(errs, bodyErr)
	}
	errs = append(errs, s.errs...)
	if termErr := flag.AssertRunning(); termErr != nil && !containsTermination(errs) {
		errs = append(errs, termErr)
	}
	err := errors.Join(errs...)
	if err != nil {
		if termination.IsTerminated(err) && len(s.errs) == 0 && bodyErr == nil {
			span.SetStatus(codes.Ok, "terminated")
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "scope failed")
		}
	}
	return err
}

// ParallelFor calls fn for every i in [start, end).
//
// Description:
//
//	The range is cut into batches of at least minBatchSize indices, one
//	work unit per batch. The flag is checked before each batch, so the
//	cancellation latency is one batch.
func (e *Executor) ParallelFor(ctx context.Context, start, end int64, flag termination.Flag, fn func(i int64) error) error {
	if end <= start {
		return nil
	}
	parts := RangePartitions(end-start, e.concurrency, DefaultMinBatchSize)
	return e.Scope(ctx, flag, func(s *Scope) error {
		s.SpawnMany(len(parts), func(_ context.Context, u int) error {
			p := parts[u]
			for i := start + p.Start; i < start+p.End(); i++ {
				if err := fn(i); err != nil {
					return err
				}
			}
			return nil
		})
		return nil
	})
}

// RunPartitions runs fn once per partition.
func (e *Executor) RunPartitions(ctx context.Context, parts []Partition, flag termination.Flag, fn func(ctx context.Context, p Partition) error) error {
	if len(parts) == 0 {
		return nil
	}
	return e.Scope(ctx, flag, func(s *Scope) error {
		s.SpawnMany(len(parts), func(ctx context.Context, u int) error {
			return fn(ctx, parts[u])
		})
		return nil
	})
}

// ==============================================================================
// Scope
// ==============================================================================

// Scope collects the units of one Executor.Scope call.
type Scope struct {
	ctx   context.Context
	flag  termination.Flag
	exec  *Executor
	group errgroup.Group

	failed    atomic.Bool
	completed atomic.Int64
	skipped   atomic.Int64

	mu         sync.Mutex
	errs       []error
	terminated bool
}

// Context returns the scope context.
func (s *Scope) Context() context.Context {
	return s.ctx
}

// Flag returns the scope's termination flag.
func (s *Scope) Flag() termination.Flag {
	return s.flag
}

// Spawn runs one unit.
func (s *Scope) Spawn(fn func(ctx context.Context) error) {
	s.SpawnMany(1, func(ctx context.Context, _ int) error {
		return fn(ctx)
	})
}

// SpawnMany runs n independent units, fn(ctx, 0) through fn(ctx, n-1), in
// no particular order.
func (s *Scope) SpawnMany(n int, fn func(ctx context.Context, i int) error) {
	if n <= 0 {
		return
	}
	workers := min(n, s.exec.concurrency)
	var next atomic.Int64
	for range workers {
		s.group.Go(func() error {
			for {
				i := int(next.Add(1) - 1)
				if i >= n {
					return nil
				}
				if s.failed.Load() || !s.flag.Running() {
					// Claim the rest so sibling workers stop too.
					skipped := int64(1)
					if prev := next.Swap(int64(n)); prev < int64(n) {
						skipped += int64(n) - prev
					}
					s.skipped.Add(skipped)
					unitsTotal.WithLabelValues("skipped").Add(float64(skipped))
					return nil
				}
				s.run(fn, i)
			}
		})
	}
}

func (s *Scope) run(fn func(ctx context.Context, i int) error, i int) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	if err := fn(s.ctx, i); err != nil {
		s.fail(err)
		return
	}
	s.completed.Add(1)
	unitsTotal.WithLabelValues("completed").Inc()
}

func (s *Scope) fail(err error) {
	unitsTotal.WithLabelValues("failed").Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	if termination.IsTerminated(err) {
		if s.terminated {
			return
		}
		s.terminated = true
		s.exec.logger.Debug("work unit observed termination")
	} else {
		s.failed.Store(true)
	}
	s.errs = append(s.errs, err)
}

func containsTermination(errs []error) bool {
	for _, err := range errs {
		if termination.IsTerminated(err) {
			return true
		}
	}
	return false
}
