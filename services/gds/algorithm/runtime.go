// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package algorithm formalizes how every algorithm runs.
//
// An algorithm is split into a Storage side and a Computation side. The
// Storage side acquires the graph view, builds adjacency snapshots and
// owns partitioning, termination checks and progress. The Computation side
// receives only primitive arrays and neighbor closures and holds the
// numeric state. Run drives the pair through one invocation:
//
//	Created -> ViewAcquired -> AdjacencyBuilt -> Computing -> Completed
//
// with Failed and Terminated reachable from every state.
package algorithm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

var tracer = otel.Tracer("gds.algorithm")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gds_algorithm_runs_total",
		Help: "Algorithm invocations by algorithm and final state",
	}, []string{"algorithm", "state"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gds_algorithm_run_duration_seconds",
		Help:    "Algorithm invocation latency by algorithm",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 12),
	}, []string{"algorithm"})
)

// ==============================================================================
// Invocation state
// ==============================================================================

// State is the lifecycle state of one invocation.
type State int

const (
	StateCreated State = iota
	StateViewAcquired
	StateAdjacencyBuilt
	StateComputing
	StateCompleted
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateViewAcquired:
		return "VIEW_ACQUIRED"
	case StateAdjacencyBuilt:
		return "ADJACENCY_BUILT"
	case StateComputing:
		return "COMPUTING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s State) IsTerminal() bool {
	return s >= StateCompleted
}

// ==============================================================================
// Execution context
// ==============================================================================

// ExecutionContext carries what both sides of an algorithm need to run. It
// holds no graph references.
type ExecutionContext struct {
	Ctx         context.Context
	Executor    *concurrency.Executor
	Termination termination.Flag
	Progress    progress.Tracker
	Logger      *slog.Logger

	// OnTransition, if set, observes every state change.
	OnTransition func(from, to State)
}

// NewExecutionContext fills defaults: an executor sized to GOMAXPROCS, an
// always-running flag, a null tracker and slog.Default(). The flag is
// combined with ctx.
func NewExecutionContext(ctx context.Context, exec *concurrency.Executor, flag termination.Flag, tracker progress.Tracker, logger *slog.Logger) *ExecutionContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if exec == nil {
		exec = concurrency.NewExecutor(0, logger)
	}
	if flag == nil {
		flag = termination.RunningTrue()
	}
	if tracker == nil {
		tracker = progress.Null()
	}
	return &ExecutionContext{
		Ctx:         ctx,
		Executor:    exec,
		Termination: termination.Any(flag, termination.FromContext(ctx)),
		Progress:    tracker,
		Logger:      logger,
	}
}

// AssertRunning returns a termination error once the run is stopped.
func (ec *ExecutionContext) AssertRunning() error {
	return ec.Termination.AssertRunning()
}

// Concurrency returns the executor bound.
func (ec *ExecutionContext) Concurrency() int {
	return ec.Executor.Concurrency()
}

// ParallelFor runs fn over [start, end) on the executor under the run's
// termination flag.
func (ec *ExecutionContext) ParallelFor(start, end int64, fn func(i int64) error) error {
	return ec.Executor.ParallelFor(ec.Ctx, start, end, ec.Termination, fn)
}

// RunPartitions runs fn once per partition on the executor. i is the
// index of p in parts, so per-partition outputs can go to a slice.
func (ec *ExecutionContext) RunPartitions(parts []concurrency.Partition, fn func(i int, p concurrency.Partition) error) error {
	if len(parts) == 0 {
		return nil
	}
	return ec.Executor.Scope(ec.Ctx, ec.Termination, func(s *concurrency.Scope) error {
		s.SpawnMany(len(parts), func(_ context.Context, i int) error {
			return fn(i, parts[i])
		})
		return nil
	})
}

// Partitions cuts [0, n) into range partitions for the executor.
func (ec *ExecutionContext) Partitions(n int64) []concurrency.Partition {
	return concurrency.RangePartitions(n, ec.Concurrency(), concurrency.DefaultMinBatchSize)
}

// ==============================================================================
// Storage and Computation
// ==============================================================================

// Computation holds the numeric side of an algorithm. Its input carries
// primitive arrays and neighbor closures, never a graph.
type Computation[I, R any] interface {
	Compute(ec *ExecutionContext, input I) (R, error)
}

// ComputationFunc adapts a function to Computation.
type ComputationFunc[I, R any] func(ec *ExecutionContext, input I) (R, error)

func (f ComputationFunc[I, R]) Compute(ec *ExecutionContext, input I) (R, error) {
	return f(ec, input)
}

// Storage is the graph-facing side of an algorithm.
type Storage[C Config, I, R any] interface {
	// Name identifies the algorithm in errors, logs and metrics.
	Name() string

	// Acquire builds the view the algorithm reads.
	Acquire(store graph.GraphStore, cfg C) (graph.Graph, error)

	// Build turns the view into the computation input. It runs under the
	// "Build adjacency" subtask, or BuildDescription when implemented, with
	// the node count as volume.
	Build(ec *ExecutionContext, g graph.Graph, cfg C) (I, error)

	// Computation returns the numeric side for cfg.
	Computation(cfg C) Computation[I, R]

	// Empty returns the result for a graph without nodes.
	Empty(cfg C) R
}

// Run executes one invocation of alg.
//
// Description:
//
//	The config is validated before the store is touched. An empty graph
//	returns alg.Empty without building adjacency, computing, or entering
//	the executor. Otherwise the root task gets two subtasks, "Build
//	adjacency" and "Compute", and computation failures are wrapped into an
//	AlgorithmError. Panics are not recovered.
//
// Inputs:
//
//	ec - Execution context. Its tracker's first Begin starts the root task.
//	store - The graph store.
//	alg - Storage side of the algorithm.
//	cfg - Algorithm configuration.
//
// Outputs:
//
//	R - The result.
//	error - *ConfigError, or *AlgorithmError whose Kind is graph,
//	  computation or terminated.
func Run[C Config, I, R any](ec *ExecutionContext, store graph.GraphStore, alg Storage[C, I, R], cfg C) (R, error) {
	name := alg.Name()
	ctx, span := tracer.Start(ec.Ctx, "algorithm.Run",
		trace.WithAttributes(
			attribute.String("algorithm", name),
			attribute.String("graph", store.Name()),
		),
	)
	defer span.End()

	inv := &invocation{ec: ec, name: name, start: time.Now(), span: span}
	runEC := *ec
	runEC.Ctx = ctx
	runEC.Logger = ec.Logger.With(slog.String("algorithm", name), slog.String("graph", store.Name()))
	inv.ec = &runEC

	var zero R
	if err := cfg.Validate(); err != nil {
		ce := configErrorFrom(name, err)
		inv.finish(StateFailed, ce)
		return zero, ce
	}

	if b, ok := any(cfg).(concurrencyBounded); ok && b.ConcurrencyBound() > 0 {
		runEC.Executor = runEC.Executor.WithConcurrency(b.ConcurrencyBound())
	}

	tracker := runEC.Progress
	tracker.BeginSubTask()

	if err := runEC.AssertRunning(); err != nil {
		return zero, inv.fail("acquire view", KindTerminated, err)
	}
	g, err := alg.Acquire(store, cfg)
	if err != nil {
		return zero, inv.fail("acquire view", KindGraph, err)
	}
	inv.transition(StateViewAcquired)
	span.SetAttributes(
		attribute.Int64("graph.node_count", g.NodeCount()),
		attribute.Int64("graph.relationship_count", g.RelationshipCount()),
		attribute.String("graph.orientation", g.Orientation().String()),
	)

	if g.NodeCount() == 0 {
		span.AddEvent("empty_graph")
		tracker.EndSubTask()
		inv.finish(StateCompleted, nil)
		return alg.Empty(cfg), nil
	}

	tracker.BeginSubTaskWithDescriptionAndVolume(buildDescription(alg), g.NodeCount())
	input, err := alg.Build(&runEC, g, cfg)
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return zero, inv.fail("build adjacency", KindGraph, err)
	}
	tracker.EndSubTask()
	inv.transition(StateAdjacencyBuilt)

	if err := runEC.AssertRunning(); err != nil {
		return zero, inv.fail("compute", KindTerminated, err)
	}
	inv.transition(StateComputing)
	tracker.BeginSubTaskWithDescription("Compute")
	result, err := alg.Computation(cfg).Compute(&runEC, input)
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		return zero, inv.fail("compute", KindComputation, err)
	}
	tracker.EndSubTask()
	tracker.EndSubTask()

	inv.finish(StateCompleted, nil)
	return result, nil
}

type concurrencyBounded interface {
	ConcurrencyBound() int
}

type invocation struct {
	ec    *ExecutionContext
	name  string
	state State
	start time.Time
	span  trace.Span
}

func (inv *invocation) transition(to State) {
	from := inv.state
	inv.state = to
	if inv.ec.OnTransition != nil {
		inv.ec.OnTransition(from, to)
	}
}

// fail wraps err, ends the root task and records the outcome.
func (inv *invocation) fail(phase string, kind Kind, err error) *AlgorithmError {
	ae := wrap(inv.name, phase, kind, err)
	inv.ec.Progress.EndSubTaskWithFailure(ae)
	if ae.Kind == KindTerminated {
		inv.finish(StateTerminated, ae)
	} else {
		inv.finish(StateFailed, ae)
	}
	return ae
}

func (inv *invocation) finish(to State, err error) {
	inv.transition(to)
	elapsed := time.Since(inv.start)
	runsTotal.WithLabelValues(inv.name, to.String()).Inc()
	runDuration.WithLabelValues(inv.name).Observe(elapsed.Seconds())

	logger := inv.ec.Logger
	switch {
	case err == nil:
		inv.span.SetStatus(codes.Ok, "")
		logger.Debug("algorithm completed", slog.Duration("duration", elapsed))
	case to == StateTerminated:
		inv.span.SetStatus(codes.Ok, "terminated")
		inv.span.AddEvent("terminated")
		logger.Info("algorithm terminated", slog.Duration("duration", elapsed), slog.String("reason", err.Error()))
	default:
		inv.span.RecordError(err)
		inv.span.SetStatus(codes.Error, err.Error())
		var ce *ConfigError
		if errors.As(err, &ce) {
			logger.Warn("algorithm rejected configuration", slog.String("error", err.Error()))
			return
		}
		logger.Error("algorithm failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
	}
}
