// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for catalog operations.
var (
	tracer = otel.Tracer("gds.catalog")
	meter  = otel.Meter("gds.catalog")
)

var (
	catalogLookups    metric.Int64Counter
	catalogBuilds     metric.Int64Counter
	catalogPublishes  metric.Int64Counter
	catalogGetLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		catalogLookups, err = meter.Int64Counter(
			"gds_catalog_lookups_total",
			metric.WithDescription("Catalog lookups by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		catalogBuilds, err = meter.Int64Counter(
			"gds_catalog_builds_total",
			metric.WithDescription("Graph builds run through LoadOrBuild, by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		catalogPublishes, err = meter.Int64Counter(
			"gds_catalog_publishes_total",
			metric.WithDescription("Snapshots published over existing graphs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		catalogGetLatency, err = meter.Float64Histogram(
			"gds_catalog_get_duration_seconds",
			metric.WithDescription("Duration of LoadOrBuild calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLookup(ctx context.Context, hit bool) {
	if err := initMetrics(); err != nil {
		return
	}
	catalogLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("hit", hit)))
}

func recordBuild(ctx context.Context, err error) {
	if initMetrics() != nil {
		return
	}
	catalogBuilds.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", err == nil)))
}

func recordPublish(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	catalogPublishes.Add(ctx, 1)
}

func recordGetLatency(ctx context.Context, d time.Duration, hit bool) {
	if initMetrics() != nil {
		return
	}
	catalogGetLatency.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.Bool("hit", hit)))
}

// startSpan creates a span for a catalog operation.
func startSpan(ctx context.Context, operation, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Catalog."+operation,
		trace.WithAttributes(
			attribute.String("catalog.operation", operation),
			attribute.String("catalog.graph", name),
		),
	)
}
