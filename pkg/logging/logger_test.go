// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{in: "", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "DEBUG", want: slog.LevelDebug},
		{in: " warn ", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "warn", Format: FormatJSON, Service: "gds", Output: &buf})
	require.NoError(t, err)
	defer logger.Close()

	logger.Slog().Info("dropped")
	logger.Slog().Warn("kept", slog.String("graph", "g"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "gds", rec["service"])
	assert.Equal(t, "g", rec["graph"])
}

func TestAutoFormatNonTerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("hello")
	assert.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())), "non-terminal writers get JSON")
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatText, Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("hello", slog.Int("n", 3))
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "n=3")
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, err := New(Config{Format: FormatText, Dir: dir, Service: "test", Output: &buf})
	require.NoError(t, err)

	logger.Slog().Info("both destinations")
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	assert.Equal(t, dir, filepath.Dir(logger.FilePath()))
	assert.True(t, strings.HasPrefix(filepath.Base(logger.FilePath()), "test_"))

	data, err := os.ReadFile(logger.FilePath())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"both destinations"`)
	assert.Contains(t, buf.String(), "both destinations")
}

func TestQuiet(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Quiet: true, Output: &buf})
	require.NoError(t, err)
	logger.Slog().Error("nowhere")
	assert.Empty(t, buf.String())
}

func TestInvalidConfig(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	require.Error(t, err)
	_, err = New(Config{Format: "xml"})
	require.Error(t, err)
}
