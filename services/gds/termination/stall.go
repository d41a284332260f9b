// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package termination

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// StallDetector stops registered jobs that exceed their deadline or stop
// reporting progress.
//
// A job is stalled when no heartbeat arrived for
// multiplier * ProgressInterval.
//
// Thread Safety: Safe for concurrent use.
type StallDetector struct {
	registry      *Registry
	checkInterval time.Duration
	multiplier    int
	logger        *slog.Logger
}

// NewStallDetector creates a detector over registry.
//
// Inputs:
//   - registry: The registry to watch.
//   - checkInterval: How often to check.
//   - multiplier: Stall threshold = multiplier * job's ProgressInterval.
//     Values below 1 are raised to 1.
//
// Outputs:
//   - *StallDetector: The detector. Never nil.
func NewStallDetector(registry *Registry, checkInterval time.Duration, multiplier int) *StallDetector {
	if multiplier < 1 {
		multiplier = 1
	}
	return &StallDetector{
		registry:      registry,
		checkInterval: checkInterval,
		multiplier:    multiplier,
		logger:        registry.logger.With(slog.String("subsystem", "stall_detector")),
	}
}

// Run checks on every tick until ctx is done.
func (d *StallDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.checkInterval)
	defer ticker.Stop()

	d.logger.Debug("stall detector started",
		slog.Duration("check_interval", d.checkInterval),
		slog.Int("multiplier", d.multiplier),
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Debug("stall detector stopped")
			return
		case now := <-ticker.C:
			d.Check(now)
		}
	}
}

// Check evaluates every running job at time now and returns the ids it
// stopped.
func (d *StallDetector) Check(now time.Time) []string {
	var stopped []string
	for _, e := range d.registry.snapshot() {
		if !e.flag.Running() {
			continue
		}

		if !e.opts.Deadline.IsZero() && now.After(e.opts.Deadline) {
			msg := fmt.Sprintf("deadline %s exceeded", e.opts.Deadline.Format(time.RFC3339))
			if e.flag.Stop(ReasonTimeout, msg) {
				d.logger.Info("job deadline exceeded", slog.String("id", e.id))
				stopped = append(stopped, e.id)
			}
			continue
		}

		if e.opts.ProgressInterval <= 0 {
			continue
		}
		threshold := time.Duration(d.multiplier) * e.opts.ProgressInterval
		elapsed := now.Sub(time.UnixMilli(e.lastProgress.Load()))
		if elapsed > threshold {
			d.logger.Warn("job stalled",
				slog.String("id", e.id),
				slog.Duration("elapsed", elapsed),
				slog.Duration("threshold", threshold),
			)
			if e.flag.Stop(ReasonStalled, fmt.Sprintf("no progress for %s", elapsed.Truncate(time.Millisecond))) {
				stopped = append(stopped, e.id)
			}
		}
	}
	return stopped
}
