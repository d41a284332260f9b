// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/concurrency"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/telemetry"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

var tracer = otel.Tracer("gds.service")

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gds_jobs_total",
		Help: "Finished jobs by algorithm and status",
	}, []string{"algorithm", "status"})

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gds_jobs_running",
		Help: "Jobs currently running",
	})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gds_job_duration_seconds",
		Help:    "Job wall time by algorithm",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"algorithm"})
)

// JobRequest submits an algorithm run.
type JobRequest struct {
	// Graph is the catalog name of the input graph.
	Graph string `json:"graph" binding:"required"`

	// Algorithm is a registered algorithm name.
	Algorithm string `json:"algorithm" binding:"required"`

	// Config holds algorithm parameters by snake_case name.
	Config map[string]any `json:"config,omitempty"`

	// MutateProperty, when set, writes the per-node result back to the
	// graph under this node property key.
	MutateProperty string `json:"mutate_property,omitempty"`

	// TimeoutMillis overrides the default deadline. Zero keeps it.
	TimeoutMillis int64 `json:"timeout_ms,omitempty" binding:"gte=0"`

	// Async returns as soon as the job is accepted.
	Async bool `json:"async,omitempty"`
}

// JobManagerConfig tunes job execution.
type JobManagerConfig struct {
	// DefaultTimeout is the deadline of jobs that set none. Zero disables.
	DefaultTimeout time.Duration

	// ProgressInterval is how often jobs are expected to report progress
	// for stall detection. Zero disables stall detection.
	ProgressInterval time.Duration

	// LogInterval is the minimum spacing of progress log lines.
	LogInterval time.Duration
}

// JobManagerDeps are the collaborators of a JobManager. Catalog and History
// are required; the rest default.
type JobManagerDeps struct {
	Catalog    *catalog.Catalog
	History    *history.Store
	Algorithms *Algorithms
	Executor   *concurrency.Executor
	Flags      *termination.Registry
	Tasks      *progress.TaskRegistry
	Logger     *slog.Logger
}

type job struct {
	id          string
	req         JobRequest
	submittedAt time.Time
	root        *progress.Task
	flag        *termination.StopFlag
	done        chan struct{}

	mu     sync.Mutex
	record history.Record
	err    error
}

// view returns the job record with a live task snapshot while running.
func (j *job) view() history.Record {
	j.mu.Lock()
	rec := j.record
	j.mu.Unlock()
	if rec.Status == history.StatusRunning {
		snap := j.root.Snapshot()
		rec.Tasks = &snap
	}
	return rec
}

// JobManager runs algorithms against catalog graphs.
//
// Description:
//
//	Each job holds a catalog reference for its whole run, registers a stop
//	flag with the termination registry and its task tree with the task
//	registry, and is recorded in the history when submitted and when it
//	ends. Running jobs are served from memory, finished jobs from the
//	history.
//
// Thread Safety:
//
//	Safe for concurrent use.
type JobManager struct {
	catalog    *catalog.Catalog
	history    *history.Store
	algorithms *Algorithms
	executor   *concurrency.Executor
	flags      *termination.Registry
	tasks      *progress.TaskRegistry
	cfg        JobManagerConfig
	logger     *slog.Logger

	mu      sync.RWMutex
	running map[string]*job
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewJobManager creates a job manager.
//
// Outputs:
//
//	*JobManager - The manager.
//	error - Non-nil if Catalog or History is missing.
func NewJobManager(deps JobManagerDeps, cfg JobManagerConfig) (*JobManager, error) {
	if deps.Catalog == nil {
		return nil, errors.New("job manager: catalog is required")
	}
	if deps.History == nil {
		return nil, errors.New("job manager: history is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Algorithms == nil {
		deps.Algorithms = DefaultAlgorithms()
	}
	if deps.Executor == nil {
		deps.Executor = concurrency.NewExecutor(0, deps.Logger)
	}
	if deps.Flags == nil {
		deps.Flags = termination.NewRegistry(deps.Logger)
	}
	if deps.Tasks == nil {
		deps.Tasks = progress.NewTaskRegistry(0)
	}
	return &JobManager{
		catalog:    deps.Catalog,
		history:    deps.History,
		algorithms: deps.Algorithms,
		executor:   deps.Executor,
		flags:      deps.Flags,
		tasks:      deps.Tasks,
		cfg:        cfg,
		logger:     deps.Logger.With(slog.String("component", "job_manager")),
		running:    make(map[string]*job),
	}, nil
}

// Submit validates req and starts the job in the background.
//
// Description:
//
//	The algorithm config is decoded and the graph reference taken before
//	Submit returns, so configuration and lookup errors are reported to the
//	caller instead of being recorded as failed jobs.
//
// Outputs:
//
//	string - The job id.
//	error - ErrShuttingDown, ErrUnknownAlgorithm, *algorithm.ConfigError or
//	  catalog.ErrGraphNotFound.
func (m *JobManager) Submit(ctx context.Context, req JobRequest) (string, error) {
	if m.closed.Load() {
		return "", ErrShuttingDown
	}
	inv, err := m.algorithms.Prepare(req.Algorithm, req.Config)
	if err != nil {
		return "", err
	}
	entry, release, err := m.catalog.Get(req.Graph)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	flag, err := m.flags.Register(id, termination.RegisterOptions{
		Deadline:         m.deadlineFor(req),
		ProgressInterval: m.cfg.ProgressInterval,
	})
	if err != nil {
		release()
		return "", err
	}
	root := newJobTask(req)
	if err := m.tasks.Register(id, root); err != nil {
		m.flags.Release(id)
		release()
		return "", err
	}

	j := &job{
		id:          id,
		req:         req,
		submittedAt: time.Now().UTC(),
		root:        root,
		flag:        flag,
		done:        make(chan struct{}),
	}
	j.record = history.Record{
		ID:             id,
		Graph:          req.Graph,
		Algorithm:      req.Algorithm,
		Status:         history.StatusRunning,
		Config:         req.Config,
		MutateProperty: req.MutateProperty,
		SubmittedAt:    j.submittedAt,
	}
	if err := m.history.Put(ctx, j.record); err != nil {
		m.logger.Warn("recording submitted job failed", slog.String("job_id", id), slog.String("error", err.Error()))
	}

	m.mu.Lock()
	m.running[id] = j
	m.mu.Unlock()
	jobsRunning.Inc()

	m.logger.Info("job submitted",
		slog.String("job_id", id),
		slog.String("graph", req.Graph),
		slog.String("algorithm", req.Algorithm),
	)

	m.wg.Add(1)
	go m.run(j, inv, entry, release)
	return id, nil
}

func (m *JobManager) deadlineFor(req JobRequest) time.Time {
	timeout := m.cfg.DefaultTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

func (m *JobManager) run(j *job, inv Invocation, entry *catalog.Entry, release func()) {
	defer m.wg.Done()
	defer release()

	ctx := context.Background()
	var cancel context.CancelFunc
	if deadline := m.deadlineFor(j.req); !deadline.IsZero() {
		ctx, cancel = context.WithDeadline(ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	ctx, span := tracer.Start(ctx, "gds.JobManager.run",
		trace.WithAttributes(
			attribute.String("job.id", j.id),
			attribute.String("graph", j.req.Graph),
			attribute.String("algorithm", j.req.Algorithm),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, m.logger).With(
		slog.String("job_id", j.id),
		slog.String("graph", j.req.Graph),
		slog.String("algorithm", j.req.Algorithm),
	)
	tracker := progress.NewTaskTracker(j.root,
		progress.WithLogger(logger),
		progress.WithObservers(
			progress.NewLogger(logger, m.cfg.LogInterval, termination.IsTerminated),
			m.tasks.Observer(j.id),
			progress.ObserverFunc(func(progress.Event) { m.flags.Heartbeat(j.id) }),
		),
	)
	ec := algorithm.NewExecutionContext(ctx, m.executor, j.flag, tracker, logger)

	tracker.BeginSubTask()
	result, err := inv(ec, entry.Store)
	if err == nil && j.req.MutateProperty != "" {
		tracker.BeginSubTaskWithDescription(mutateTask)
		if err = m.mutate(j, entry, result); err != nil {
			tracker.EndSubTaskWithFailure(err)
		} else {
			tracker.LogProgress(1)
			tracker.EndSubTask()
		}
	}
	if err != nil {
		tracker.EndSubTaskWithFailure(err)
		telemetry.SetSpanOutcome(span, err)
	} else {
		tracker.EndSubTask()
	}
	m.complete(j, result, err, logger)
}

// Job task names. The algorithm's own phases nest under runTask.
const (
	runTask    = "Run"
	mutateTask = "Mutate"
)

// newJobTask declares the task tree of a job: the algorithm run, then the
// write-back when a mutate property is requested.
func newJobTask(req JobRequest) *progress.Task {
	children := []*progress.Task{progress.Leaf(runTask, progress.UnknownVolume)}
	if req.MutateProperty != "" {
		children = append(children, progress.Leaf(mutateTask, 1))
	}
	return progress.NewTask(req.Algorithm, progress.UnknownVolume, children...)
}

// mutate writes the per-node result back to the graph and republishes it.
func (m *JobManager) mutate(j *job, entry *catalog.Entry, result algorithm.Result) error {
	nr, ok := result.(algorithm.NodeResult)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoNodeValues, j.req.Algorithm)
	}
	current, release, err := m.catalog.Get(j.req.Graph)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGraphChanged, err)
	}
	defer release()
	if current.Store != entry.Store {
		return fmt.Errorf("%w: %s was replaced", ErrGraphChanged, j.req.Graph)
	}
	if err := entry.Store.AddNodeProperty(nil, j.req.MutateProperty, nr.NodeValues()); err != nil {
		return err
	}
	return m.catalog.Publish(j.req.Graph, entry.Store)
}

func (m *JobManager) complete(j *job, result algorithm.Result, err error, logger *slog.Logger) {
	finished := time.Now().UTC()
	snap := j.root.Snapshot()

	j.mu.Lock()
	rec := j.record
	rec.FinishedAt = finished
	rec.DurationMillis = finished.Sub(j.submittedAt).Milliseconds()
	rec.Tasks = &snap
	switch {
	case err == nil:
		rec.Status = history.StatusCompleted
		rec.Summary = result.Summary()
	case termination.IsTerminated(err):
		rec.Status = history.StatusCancelled
		rec.Error = err.Error()
		rec.ErrorCode = CodeCancelled
	default:
		rec.Status = history.StatusFailed
		rec.Error = err.Error()
		rec.ErrorCode = ErrorCode(err)
	}
	j.record = rec
	j.err = err
	j.mu.Unlock()

	if perr := m.history.Put(context.Background(), rec); perr != nil {
		logger.Warn("recording finished job failed", slog.String("error", perr.Error()))
	}

	m.tasks.Unregister(j.id)
	m.flags.Release(j.id)
	close(j.done)
	m.mu.Lock()
	delete(m.running, j.id)
	m.mu.Unlock()

	jobsRunning.Dec()
	jobsTotal.WithLabelValues(j.req.Algorithm, string(rec.Status)).Inc()
	jobDuration.WithLabelValues(j.req.Algorithm).Observe(finished.Sub(j.submittedAt).Seconds())

	attrs := []any{
		slog.String("status", string(rec.Status)),
		slog.Int64("duration_ms", rec.DurationMillis),
	}
	switch rec.Status {
	case history.StatusCompleted:
		logger.Info("job completed", attrs...)
	case history.StatusCancelled:
		logger.Info("job cancelled", append(attrs, slog.String("reason", rec.Error))...)
	default:
		logger.Error("job failed", append(attrs, slog.String("error", rec.Error))...)
	}
}

// Get returns the record of a job. Running jobs carry a live task snapshot.
func (m *JobManager) Get(ctx context.Context, id string) (history.Record, error) {
	m.mu.RLock()
	j, ok := m.running[id]
	m.mu.RUnlock()
	if ok {
		return j.view(), nil
	}
	rec, err := m.history.Get(ctx, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return history.Record{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return history.Record{}, err
	}
	return *rec, nil
}

// Wait blocks until the job ends or ctx is done.
//
// Outputs:
//
//	history.Record - The final record, or the running record when ctx
//	  ended first.
//	error - ErrJobNotFound, or ctx.Err() when ctx ended first. A job that
//	  failed is not an error here; inspect the record status.
func (m *JobManager) Wait(ctx context.Context, id string) (history.Record, error) {
	m.mu.RLock()
	j, ok := m.running[id]
	m.mu.RUnlock()
	if !ok {
		return m.Get(ctx, id)
	}
	select {
	case <-j.done:
		return j.view(), nil
	case <-ctx.Done():
		return j.view(), ctx.Err()
	}
}

// Cancel stops a running job with ReasonUser.
//
// Outputs:
//
//	error - ErrJobFinished for jobs that already ended, ErrJobNotFound for
//	  unknown ids.
func (m *JobManager) Cancel(ctx context.Context, id string) error {
	m.mu.RLock()
	_, ok := m.running[id]
	m.mu.RUnlock()
	if !ok {
		if _, err := m.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	if err := m.flags.Stop(id, termination.ReasonUser, "cancelled by request"); err != nil {
		// The job finished between the lookup and the stop.
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	return nil
}

// Running returns the records of running jobs ordered by id.
func (m *JobManager) Running() []history.Record {
	m.mu.RLock()
	jobs := make([]*job, 0, len(m.running))
	for _, id := range slices.Sorted(maps.Keys(m.running)) {
		jobs = append(jobs, m.running[id])
	}
	m.mu.RUnlock()

	out := make([]history.Record, len(jobs))
	for i, j := range jobs {
		out[i] = j.view()
	}
	return out
}

// RunningCount returns the number of running jobs.
func (m *JobManager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// Shutdown rejects new jobs, stops running ones with ReasonShutdown and
// waits for them to record their outcome.
func (m *JobManager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	if n := m.flags.StopAll(termination.ReasonShutdown, "server shutting down"); n > 0 {
		m.logger.Info("stopping running jobs", slog.Int("count", n))
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}
