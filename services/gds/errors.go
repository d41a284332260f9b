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
	"errors"
	"net/http"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/catalog"
	"github.com/AleutianAI/AleutianGDS/services/gds/generator"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/history"
	"github.com/AleutianAI/AleutianGDS/services/gds/loader"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// Sentinel errors for the service layer.
var (
	// ErrUnknownAlgorithm is returned for algorithm names with no runner.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrDuplicateAlgorithm is returned when registering a name twice.
	ErrDuplicateAlgorithm = errors.New("algorithm already registered")

	// ErrJobNotFound is returned for job ids that are neither running nor
	// in the history.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when cancelling a job that already ended.
	ErrJobFinished = errors.New("job already finished")

	// ErrShuttingDown is returned for submissions after Shutdown.
	ErrShuttingDown = errors.New("job manager is shutting down")

	// ErrNoNodeValues is returned when mutate_property is requested from
	// an algorithm whose result has no per-node column.
	ErrNoNodeValues = errors.New("algorithm result has no per-node values")

	// ErrGraphChanged is returned when the catalog graph was replaced or
	// dropped while a mutating job ran.
	ErrGraphChanged = errors.New("graph changed while the job ran")

	// ErrInvalidSelection is returned for subgraph requests that name
	// neither node ids nor a filter, or both.
	ErrInvalidSelection = errors.New("subgraph requires exactly one of node_ids or filter")
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// Error codes.
const (
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeGraphNotFound     = "GRAPH_NOT_FOUND"
	CodeGraphError        = "GRAPH_ERROR"
	CodeGraphExists       = "GRAPH_EXISTS"
	CodeGraphInUse        = "GRAPH_IN_USE"
	CodeCatalogFull       = "CATALOG_FULL"
	CodeLoadFailed        = "LOAD_FAILED"
	CodeAlgorithmNotFound = "ALGORITHM_NOT_FOUND"
	CodeAlgorithmFailed   = "ALGORITHM_FAILED"
	CodeCancelled         = "CANCELLED"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeJobFinished       = "JOB_FINISHED"
	CodeShuttingDown      = "SHUTTING_DOWN"
	CodeInternal          = "INTERNAL_ERROR"
)

var statusByCode = map[string]int{
	CodeInvalidRequest:    http.StatusBadRequest,
	CodeInvalidConfig:     http.StatusBadRequest,
	CodeGraphNotFound:     http.StatusNotFound,
	CodeGraphError:        http.StatusBadRequest,
	CodeGraphExists:       http.StatusConflict,
	CodeGraphInUse:        http.StatusConflict,
	CodeCatalogFull:       http.StatusInsufficientStorage,
	CodeLoadFailed:        http.StatusUnprocessableEntity,
	CodeAlgorithmNotFound: http.StatusNotFound,
	CodeAlgorithmFailed:   http.StatusInternalServerError,
	CodeCancelled:         http.StatusConflict,
	CodeJobNotFound:       http.StatusNotFound,
	CodeJobFinished:       http.StatusConflict,
	CodeShuttingDown:      http.StatusServiceUnavailable,
	CodeInternal:          http.StatusInternalServerError,
}

// StatusForCode returns the HTTP status of an error code.
func StatusForCode(code string) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCode classifies err.
//
// Description:
//
//	Termination is checked first: a terminated run wraps its cause, and
//	cancellation must not be reported as a graph or computation failure.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case termination.IsTerminated(err):
		return CodeCancelled
	case errors.Is(err, ErrShuttingDown):
		return CodeShuttingDown
	case errors.Is(err, ErrUnknownAlgorithm):
		return CodeAlgorithmNotFound
	case errors.Is(err, algorithm.ErrInvalidConfig),
		errors.Is(err, generator.ErrInvalidConfig),
		errors.Is(err, loader.ErrInvalidManifest),
		errors.Is(err, graph.ErrInvalidFilter),
		errors.Is(err, ErrInvalidSelection):
		return CodeInvalidConfig
	case errors.Is(err, catalog.ErrGraphNotFound):
		return CodeGraphNotFound
	case errors.Is(err, catalog.ErrGraphExists):
		return CodeGraphExists
	case errors.Is(err, catalog.ErrGraphInUse):
		return CodeGraphInUse
	case errors.Is(err, catalog.ErrCatalogFull):
		return CodeCatalogFull
	case errors.Is(err, ErrJobNotFound), errors.Is(err, history.ErrNotFound):
		return CodeJobNotFound
	case errors.Is(err, ErrJobFinished):
		return CodeJobFinished
	case errors.Is(err, algorithm.ErrGraph),
		errors.Is(err, ErrNoNodeValues),
		errors.Is(err, ErrGraphChanged),
		errors.Is(err, graph.ErrRelationshipTypeNotFound),
		errors.Is(err, graph.ErrPropertyNotFound),
		errors.Is(err, graph.ErrLabelNotFound),
		errors.Is(err, graph.ErrUnknownNodeID),
		errors.Is(err, graph.ErrCardinalityMismatch):
		return CodeGraphError
	case errors.Is(err, loader.ErrSource),
		errors.Is(err, loader.ErrParse),
		errors.Is(err, loader.ErrDuplicateNodeID):
		return CodeLoadFailed
	case errors.Is(err, algorithm.ErrComputation):
		return CodeAlgorithmFailed
	default:
		return CodeInternal
	}
}

// errorResponse builds the status and body for err.
func errorResponse(err error) (int, ErrorResponse) {
	code := ErrorCode(err)
	return StatusForCode(code), ErrorResponse{Error: err.Error(), Code: code}
}
