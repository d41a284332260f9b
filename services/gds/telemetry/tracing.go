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
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// TraceID returns the hex trace ID in ctx, or "".
func TraceID(ctx context.Context) string {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return ""
	}
	return spanCtx.TraceID().String()
}

// LoggerWithTrace adds trace_id and span_id to logger when ctx carries a
// valid span.
//
// Inputs:
//
//	ctx - Context potentially containing a span.
//	logger - Base logger. Nil uses slog.Default().
//
// Outputs:
//
//	*slog.Logger - Logger with trace attributes, or the base logger.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// SetSpanOutcome records err on span.
//
// A termination is an expected outcome, not a failure: the span gets a
// "terminated" event and stays Ok. Any other error is recorded with status
// Error. A nil error leaves the span status unset.
func SetSpanOutcome(span trace.Span, err error) {
	switch {
	case err == nil:
	case termination.IsTerminated(err):
		span.AddEvent("terminated", trace.WithAttributes(terminationReason(err)...))
		span.SetStatus(codes.Ok, "terminated")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func terminationReason(err error) []attribute.KeyValue {
	var te *termination.TerminatedError
	if !errors.As(err, &te) {
		return nil
	}
	return []attribute.KeyValue{attribute.String("termination.reason", te.Reason.String())}
}
