// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scaleproperties

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph/graphtest"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/properties"
)

func storeWithFeatures(t *testing.T) *graph.Store {
	t.Helper()
	store := graphtest.Store(t, 3, nil)
	require.NoError(t, store.AddNodeProperty(nil, "age", properties.NewLongValues([]int64{10, 20, 30})))
	require.NoError(t, store.AddNodeProperty(nil, "embedding", properties.NewDoubleArrayValues([][]float64{
		{1, 5}, {3, 5}, {2, 5},
	})))
	return store
}

func TestScaleProperties(t *testing.T) {
	root := progress.Leaf(Name, progress.UnknownVolume)
	ec := algorithm.NewExecutionContext(context.Background(), nil, nil, progress.NewTaskTracker(root), nil)

	cfg := Config{NodeProperties: []string{"age", "embedding"}}
	res, err := Run(ec, storeWithFeatures(t), cfg)
	require.NoError(t, err)

	assert.Equal(t, [][]float64{
		{0, 0, 0},
		{0.5, 1, 0},
		{1, 0.5, 0},
	}, res.Scaled)
	assert.Equal(t, []float64{10, 1, 5}, res.Min)
	assert.Equal(t, []float64{30, 3, 5}, res.Max)
	assert.Equal(t, 3, res.NodeValues().Dimension())

	require.Len(t, root.Children(), 2)
	assert.Equal(t, "Extract features", root.Children()[0].Description())
	assert.Equal(t, progress.Finished, root.Status())
}

func TestScalePropertiesRejectsNaN(t *testing.T) {
	store := graphtest.Store(t, 2, nil)
	require.NoError(t, store.AddNodeProperty(nil, "score", properties.NewDoubleValues([]float64{1, math.NaN()})))

	_, err := Run(algorithm.NewExecutionContext(context.Background(), nil, nil, nil, nil), store,
		Config{NodeProperties: []string{"score"}})
	require.Error(t, err)
	assert.Equal(t, algorithm.KindGraph, algorithm.KindOf(err))
	assert.Contains(t, err.Error(), "NaN")
}

func TestScalePropertiesErrors(t *testing.T) {
	ec := algorithm.NewExecutionContext(context.Background(), nil, nil, nil, nil)

	_, err := Run(ec, storeWithFeatures(t), Config{})
	require.ErrorIs(t, err, algorithm.ErrInvalidConfig)

	_, err = Run(ec, storeWithFeatures(t), Config{NodeProperties: []string{"missing"}})
	require.ErrorIs(t, err, graph.ErrPropertyNotFound)
}
