// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

func TestInitNilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilContext)
}

func TestInitNone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"
	cfg.MetricExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	tests := []struct {
		name   string
		traces string
		metric string
	}{
		{name: "trace", traces: "zipkin", metric: "none"},
		{name: "metric", traces: "none", metric: "statsd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tt.traces
			cfg.MetricExporter = tt.metric
			_, err := Init(context.Background(), cfg)
			require.ErrorIs(t, err, ErrUnknownExporter)
		})
	}
}

func TestInitPrometheusServesMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "none"

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, base, LoggerWithTrace(context.Background(), base))
	assert.Empty(t, TraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	LoggerWithTrace(ctx, base).Info("traced")
	assert.Contains(t, buf.String(), "trace_id="+TraceID(ctx))
	assert.Contains(t, buf.String(), "span_id="+span.SpanContext().SpanID().String())
	assert.Len(t, TraceID(ctx), 32)
}

func TestSetSpanOutcome(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus codes.Code
		wantEvents []string
	}{
		{name: "success", err: nil, wantStatus: codes.Unset},
		{
			name:       "terminated",
			err:        fmt.Errorf("pagerank: %w", &termination.TerminatedError{Reason: termination.ReasonTimeout}),
			wantStatus: codes.Ok,
			wantEvents: []string{"terminated"},
		},
		{
			name:       "failure",
			err:        errors.New("boom"),
			wantStatus: codes.Error,
			wantEvents: []string{"exception"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := tracetest.NewSpanRecorder()
			tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
			_, span := tp.Tracer("test").Start(context.Background(), "op")
			SetSpanOutcome(span, tt.err)
			span.End()

			ended := rec.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantStatus, ended[0].Status().Code)
			var events []string
			for _, e := range ended[0].Events() {
				events = append(events, e.Name)
			}
			assert.Equal(t, tt.wantEvents, events)
			if tt.name == "terminated" {
				require.Len(t, ended[0].Events()[0].Attributes, 1)
				assert.Equal(t, "timeout", ended[0].Events()[0].Attributes[0].Value.AsString())
			}
		})
	}
}
