// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package termination provides cooperative cancellation for long-running
// graph computations.
//
// # Model
//
// A Flag is polled by every long-running loop at a bounded interval (per
// partition or per node, never per scalar operation). Once a StopFlag is
// stopped it stays stopped for every holder; there is no way back to
// running. Termination is reported as an error matching ErrTerminated and
// propagated through ordinary error returns. It is an expected outcome,
// not a bug, and is logged at Info.
//
// # Components
//
//   - StopFlag: the shared one-way flag.
//   - RunningTrue: a flag for callers without external cancellation.
//   - FromContext: adapts a context.Context.
//   - Registry: per-job flags with deadlines and progress heartbeats.
//   - StallDetector: stops jobs that stop reporting progress.
package termination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrTerminated is matched by every termination error.
	ErrTerminated = errors.New("computation terminated")

	// ErrFlagNotFound is returned when a registry id is unknown.
	ErrFlagNotFound = errors.New("termination flag not found")

	// ErrDuplicateFlag is returned when registering an id twice.
	ErrDuplicateFlag = errors.New("termination flag already registered")
)

var terminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gds_terminations_total",
	Help: "Computations stopped by termination flags, by reason",
}, []string{"reason"})

// -----------------------------------------------------------------------------
// Reason
// -----------------------------------------------------------------------------

// Reason says why a flag was stopped.
type Reason int

const (
	// ReasonUser is an explicit stop request (API call, Ctrl+C).
	ReasonUser Reason = iota

	// ReasonTimeout is an exceeded deadline.
	ReasonTimeout

	// ReasonStalled is a job that stopped reporting progress.
	ReasonStalled

	// ReasonShutdown is process shutdown.
	ReasonShutdown

	// ReasonParent is cancellation of an enclosing context.
	ReasonParent
)

// String returns the reason name.
func (r Reason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonTimeout:
		return "timeout"
	case ReasonStalled:
		return "stalled"
	case ReasonShutdown:
		return "shutdown"
	case ReasonParent:
		return "parent"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// TerminatedError is returned by AssertRunning on a stopped flag.
type TerminatedError struct {
	Reason  Reason
	Message string
}

// Error implements error.
func (e *TerminatedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("computation terminated (%s)", e.Reason)
	}
	return fmt.Sprintf("computation terminated (%s): %s", e.Reason, e.Message)
}

// Is makes errors.Is(err, ErrTerminated) true.
func (e *TerminatedError) Is(target error) bool {
	return target == ErrTerminated
}

// IsTerminated reports whether err is or wraps a termination.
func IsTerminated(err error) bool {
	return errors.Is(err, ErrTerminated)
}

// -----------------------------------------------------------------------------
// Flag
// -----------------------------------------------------------------------------

// Flag is a cooperative cancellation signal.
type Flag interface {
	// Running reports whether work may continue.
	Running() bool

	// AssertRunning returns a TerminatedError once the flag is stopped.
	AssertRunning() error
}

// StopFlag is a shared one-way flag.
//
// Thread Safety:
//
//	Safe for concurrent use. Stop is idempotent; the first reason wins.
type StopFlag struct {
	stopped atomic.Bool
	once    sync.Once
	done    chan struct{}

	mu     sync.Mutex
	reason Reason
	msg    string
	at     time.Time
}

// NewStopFlag returns a running flag.
func NewStopFlag() *StopFlag {
	return &StopFlag{done: make(chan struct{})}
}

// Running reports whether the flag has not been stopped.
func (f *StopFlag) Running() bool {
	return !f.stopped.Load()
}

// AssertRunning returns nil while running and a *TerminatedError after.
func (f *StopFlag) AssertRunning() error {
	if f.Running() {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &TerminatedError{Reason: f.reason, Message: f.msg}
}

// Stop stops the flag.
//
// Outputs:
//
//	bool - True when this call performed the transition.
func (f *StopFlag) Stop(reason Reason, message string) bool {
	stopped := false
	f.once.Do(func() {
		f.mu.Lock()
		f.reason = reason
		f.msg = message
		f.at = time.Now()
		f.mu.Unlock()
		f.stopped.Store(true)
		close(f.done)
		terminationsTotal.WithLabelValues(reason.String()).Inc()
		stopped = true
	})
	return stopped
}

// Done is closed when the flag stops.
func (f *StopFlag) Done() <-chan struct{} {
	return f.done
}

// Reason returns why the flag stopped. ok is false while running.
func (f *StopFlag) Reason() (reason Reason, ok bool) {
	if f.Running() {
		return 0, false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason, true
}

// StoppedAt returns when the flag stopped, or the zero time.
func (f *StopFlag) StoppedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.at
}

// Watch stops the flag when ctx is done, with ReasonTimeout for an exceeded
// deadline and ReasonParent otherwise. The watcher exits when either side
// finishes.
func (f *StopFlag) Watch(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			f.Stop(reasonFor(ctx.Err()), ctx.Err().Error())
		case <-f.done:
		}
	}()
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

type runningTrue struct{}

func (runningTrue) Running() bool        { return true }
func (runningTrue) AssertRunning() error { return nil }

// RunningTrue returns a flag that never stops.
func RunningTrue() Flag {
	return runningTrue{}
}

type contextFlag struct {
	ctx context.Context
}

func (c contextFlag) Running() bool {
	return c.ctx.Err() == nil
}

func (c contextFlag) AssertRunning() error {
	err := c.ctx.Err()
	if err == nil {
		return nil
	}
	return &TerminatedError{Reason: reasonFor(err), Message: err.Error()}
}

// FromContext returns a flag that stops when ctx is done.
func FromContext(ctx context.Context) Flag {
	return contextFlag{ctx: ctx}
}

type anyFlag []Flag

func (a anyFlag) Running() bool {
	for _, f := range a {
		if !f.Running() {
			return false
		}
	}
	return true
}

func (a anyFlag) AssertRunning() error {
	for _, f := range a {
		if err := f.AssertRunning(); err != nil {
			return err
		}
	}
	return nil
}

// Any returns a flag that stops as soon as any of flags stops.
func Any(flags ...Flag) Flag {
	return anyFlag(flags)
}

func reasonFor(err error) Reason {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return ReasonParent
}
