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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/algorithm"
	"github.com/AleutianAI/AleutianGDS/services/gds/graph/graphtest"
)

func TestAlgorithmsRegister(t *testing.T) {
	a := DefaultAlgorithms()

	err := a.Register("degree", "again", nil)
	assert.ErrorIs(t, err, ErrDuplicateAlgorithm)

	_, err = a.Prepare("betweenness", nil)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
	assert.Equal(t, CodeAlgorithmNotFound, ErrorCode(err))
}

func TestAlgorithmsPrepare(t *testing.T) {
	a := DefaultAlgorithms()

	tests := []struct {
		name    string
		alg     string
		raw     map[string]any
		wantErr bool
	}{
		{name: "defaults", alg: "degree", raw: nil},
		{name: "orientation by name", alg: "degree", raw: map[string]any{"orientation": "UNDIRECTED"}},
		{name: "unknown key", alg: "degree", raw: map[string]any{"bogus": true}, wantErr: true},
		{name: "mistyped value", alg: "pagerank", raw: map[string]any{"concurrency": "many"}, wantErr: true},
		{name: "out of range", alg: "pagerank", raw: map[string]any{"concurrency": 5000}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := a.Prepare(tt.alg, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				var cfgErr *algorithm.ConfigError
				assert.ErrorAs(t, err, &cfgErr)
				assert.ErrorIs(t, err, algorithm.ErrInvalidConfig)
				assert.Nil(t, inv)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, inv)
		})
	}
}

func TestPreparedInvocationRuns(t *testing.T) {
	a := DefaultAlgorithms()
	store := graphtest.Path(t, 4)

	inv, err := a.Prepare("degree", map[string]any{"orientation": "UNDIRECTED"})
	require.NoError(t, err)

	res, err := inv(algorithm.NewExecutionContext(context.Background(), nil, nil, nil, nil), store)
	require.NoError(t, err)

	nodeResult, ok := res.(algorithm.NodeResult)
	require.True(t, ok)
	assert.Equal(t, int64(4), nodeResult.NodeValues().ElementCount())

	summary := res.Summary()
	assert.EqualValues(t, 4, summary["node_count"])
	assert.EqualValues(t, 1, summary["min"])
	assert.EqualValues(t, 2, summary["max"])
	assert.InDelta(t, 1.5, summary["mean"], 1e-9)
}

func TestAlgorithmsList(t *testing.T) {
	list := DefaultAlgorithms().List()
	require.Len(t, list, 6)
	for i := 1; i < len(list); i++ {
		assert.Less(t, list[i-1].Name, list[i].Name)
	}
}
