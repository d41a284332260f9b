// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/google/cel-go/cel"

	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// NodeFilter is a compiled node predicate.
//
// Description:
//
//	Expressions are CEL and see three variables:
//
//	  id      int                  original node id
//	  labels  list(string)         labels of the node
//	  node    map(string, dyn)     present node properties by key
//
//	For example `node.age >= 18.0 && "Person" in labels`. Absent properties
//	are missing from node, so guard with `has(node.key)`.
//
// Thread Safety:
//
//	Safe for concurrent use after compilation.
type NodeFilter struct {
	expression string
	program    cel.Program
}

// CompileNodeFilter compiles expression.
//
// Outputs:
//
//	*NodeFilter - The filter.
//	error - ErrInvalidFilter when the expression does not compile or is not
//	  boolean.
func CompileNodeFilter(expression string) (*NodeFilter, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.IntType),
		cel.Variable("labels", cel.ListType(cel.StringType)),
		cel.Variable("node", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating CEL env: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w: %q evaluates to %s, want bool", ErrInvalidFilter, expression, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilter, err)
	}
	return &NodeFilter{expression: expression, program: prg}, nil
}

// String returns the source expression.
func (f *NodeFilter) String() string { return f.expression }

// Select returns the original ids of the nodes of store matching the
// filter, in internal id order. Nodes are evaluated in parallel on the
// store's executor.
func (f *NodeFilter) Select(ctx context.Context, store *Store) ([]int64, error) {
	st := store.current.Load()
	n := st.idMap.NodeCount()
	labelNames := slices.Sorted(maps.Keys(st.labels))

	matched := make([]bool, n)
	err := store.exec.ParallelFor(ctx, 0, n, termination.FromContext(ctx), func(node int64) error {
		labels := make([]string, 0, len(labelNames))
		for _, label := range labelNames {
			if st.labels[label][node] {
				labels = append(labels, label)
			}
		}
		out, _, err := f.program.Eval(map[string]any{
			"id":     st.idMap.ToOriginal(node),
			"labels": labels,
			"node":   nodeRow(st, node),
		})
		if err != nil {
			return fmt.Errorf("%w: node %d: %w", ErrInvalidFilter, st.idMap.ToOriginal(node), err)
		}
		match, ok := out.Value().(bool)
		matched[node] = ok && match
		return nil
	})
	if err != nil {
		return nil, err
	}

	selected := make([]int64, 0)
	for node, ok := range matched {
		if ok {
			selected = append(selected, st.idMap.ToOriginal(int64(node)))
		}
	}
	return selected, nil
}
