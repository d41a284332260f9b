// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// Sentinel errors, one per error category.
var (
	// ErrInvalidConfig matches every ConfigError.
	ErrInvalidConfig = errors.New("invalid algorithm configuration")

	// ErrGraph matches AlgorithmErrors caused by a missing relationship
	// type, property or other graph problem.
	ErrGraph = errors.New("graph error")

	// ErrComputation matches AlgorithmErrors raised by a computation.
	ErrComputation = errors.New("computation failed")
)

// ConfigError reports an invalid parameter. It is raised before the graph
// is touched.
type ConfigError struct {
	Algorithm string
	Field     string
	Message   string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: invalid configuration: %s", e.Algorithm, e.Message)
	}
	return fmt.Sprintf("%s: invalid configuration: %s: %s", e.Algorithm, e.Field, e.Message)
}

// Is matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// configErrorFrom converts a validation failure into a ConfigError naming
// the first offending field.
func configErrorFrom(algorithm string, err error) *ConfigError {
	var ce *ConfigError
	if errors.As(err, &ce) {
		if ce.Algorithm == "" {
			ce.Algorithm = algorithm
		}
		return ce
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ConfigError{Algorithm: algorithm, Field: strings.ToLower(fe.Field()), Message: msg}
	}
	return &ConfigError{Algorithm: algorithm, Message: err.Error()}
}

// Kind classifies an AlgorithmError.
type Kind string

const (
	KindConfig      Kind = "config"
	KindGraph       Kind = "graph"
	KindComputation Kind = "computation"
	KindTerminated  Kind = "terminated"
)

// AlgorithmError is the uniform failure of one algorithm invocation.
//
// Description:
//
//	Err keeps the cause, so errors.Is works through it for graph sentinels
//	and termination.ErrTerminated alike.
type AlgorithmError struct {
	Algorithm string
	Phase     string
	Kind      Kind
	Message   string
	Err       error
}

func (e *AlgorithmError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Algorithm, e.Phase, e.Message)
}

func (e *AlgorithmError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error's kind.
func (e *AlgorithmError) Is(target error) bool {
	switch e.Kind {
	case KindConfig:
		return target == ErrInvalidConfig
	case KindGraph:
		return target == ErrGraph
	case KindComputation:
		return target == ErrComputation
	default:
		return false
	}
}

// ComputationError is returned by computations for algorithm-local
// failures such as non-finite intermediate values.
type ComputationError struct {
	Code    string
	Message string
}

func (e *ComputationError) Error() string {
	return e.Code + ": " + e.Message
}

// wrap converts err raised in phase into an AlgorithmError.
func wrap(algorithm, phase string, kind Kind, err error) *AlgorithmError {
	var ae *AlgorithmError
	if errors.As(err, &ae) {
		return ae
	}
	if termination.IsTerminated(err) {
		kind = KindTerminated
	}
	return &AlgorithmError{Algorithm: algorithm, Phase: phase, Kind: kind, Message: err.Error(), Err: err}
}

// KindOf returns the kind of err, or "" when err is not an AlgorithmError
// or ConfigError.
func KindOf(err error) Kind {
	var ae *AlgorithmError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return KindConfig
	}
	if termination.IsTerminated(err) {
		return KindTerminated
	}
	return ""
}
