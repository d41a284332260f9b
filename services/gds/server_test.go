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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.Mode = "test"
	cfg.History.InMemory = true
	cfg.Termination.StallCheckInterval = 10 * time.Millisecond
	return &cfg
}

func TestNewServerLoadsStartupGraphs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Graphs = []config.GraphConfig{{Manifest: writeManifest(t)}}

	s, err := NewServer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	assert.Equal(t, []string{"social"}, s.Catalog().Names())

	for _, path := range []string{"/v1/gds/health", "/metrics"} {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestServerShutdownIsIdempotent(t *testing.T) {
	s, err := NewServer(context.Background(), testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, s.Shutdown(ctx))
}

func TestServerRunStopsWithContext(t *testing.T) {
	s, err := NewServer(context.Background(), testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewServerMissingStartupGraph(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.Graphs = []config.GraphConfig{{Manifest: filepath.Join(t.TempDir(), "missing.yaml")}}

	_, err := NewServer(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Equal(t, CodeLoadFailed, ErrorCode(err))
}
