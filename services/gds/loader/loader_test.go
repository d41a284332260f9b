// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/progress"
	"github.com/AleutianAI/AleutianGDS/services/gds/termination"
)

// memOpener serves sources from memory.
type memOpener map[string]string

func (m memOpener) Open(_ context.Context, location string) (io.ReadCloser, error) {
	data, ok := m[location]
	if !ok {
		return nil, ErrSource
	}
	return io.NopCloser(strings.NewReader(data)), nil
}

func TestLoadFile(t *testing.T) {
	root := progress.NewTask("Loading social", progress.UnknownVolume)
	tracker := progress.NewTaskTracker(root)

	store, err := New().LoadFile(context.Background(), "testdata/social.yaml", tracker)
	require.NoError(t, err)

	assert.Equal(t, "social", store.Name())
	assert.Equal(t, int64(3), store.NodeCount())
	assert.Equal(t, int64(3), store.RelationshipCount())
	assert.Equal(t, []string{"Admin", "Bot", "Person"}, store.NodeLabels())

	node, ok := store.IDMap().ToMapped(300)
	require.True(t, ok)
	assert.Equal(t, int64(2), node)

	age, ok := store.NodeProperty("age")
	require.True(t, ok)
	assert.True(t, age.HasValue(0))
	assert.False(t, age.HasValue(1))
	v, err := age.LongValue(2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	emb, ok := store.NodeProperty("embedding")
	require.True(t, ok)
	arr, err := emb.DoubleArrayValue(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, arr)

	weight, ok := store.RelationshipProperty("KNOWS", "weight")
	require.True(t, ok)
	for i, want := range []float64{0.5, 1, 2} {
		got, err := weight.DoubleValue(int64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	since, ok := store.RelationshipProperty("KNOWS", "since")
	require.True(t, ok)
	assert.True(t, since.HasValue(1))
	assert.False(t, since.HasValue(2))

	topo, ok := store.Topology("KNOWS")
	require.True(t, ok)
	assert.True(t, topo.HasInverse())

	var phases []string
	for _, c := range root.Children() {
		phases = append(phases, c.Description())
		assert.Equal(t, progress.Finished, c.Status())
	}
	assert.Equal(t, []string{"Nodes", "Relationships KNOWS", "Properties"}, phases)
	assert.Equal(t, progress.Finished, root.Status())
}

func TestLoadUnknownNode(t *testing.T) {
	m := &Manifest{
		Name:          "dangling",
		Nodes:         NodeSpec{Source: "people.csv"},
		Relationships: []RelationshipSpec{{Type: "R", Source: "dangling.csv"}},
	}
	require.NoError(t, m.Validate())

	_, err := New().Load(context.Background(), m, "testdata", nil)
	require.ErrorIs(t, err, graph.ErrUnknownNodeID)
	assert.Contains(t, err.Error(), "999")
}

func TestLoadRowErrors(t *testing.T) {
	tests := []struct {
		name    string
		nodes   string
		rels    string
		wantErr error
	}{
		{name: "duplicate id", nodes: "id\n1\n1\n", rels: "source,target\n", wantErr: ErrDuplicateNodeID},
		{name: "bad id", nodes: "id\nx\n", rels: "source,target\n", wantErr: ErrParse},
		{name: "missing column", nodes: "key\n1\n", rels: "source,target\n", wantErr: ErrParse},
		{name: "ragged row", nodes: "id\n1\n", rels: "source,target\n1\n", wantErr: ErrParse},
		{name: "empty file", nodes: "", rels: "source,target\n", wantErr: ErrParse},
		{name: "missing source", nodes: "id\n1\n", wantErr: ErrSource},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := memOpener{"nodes.csv": tt.nodes}
			if tt.rels != "" {
				files["rels.csv"] = tt.rels
			}
			m := &Manifest{
				Name:          "g",
				Nodes:         NodeSpec{Source: "nodes.csv"},
				Relationships: []RelationshipSpec{{Type: "R", Source: "rels.csv"}},
			}
			require.NoError(t, m.Validate())

			_, err := New(WithOpener(files)).Load(context.Background(), m, "", nil)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadCancelled(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("id\n")
	for i := range 10000 {
		sb.WriteString(strconv.Itoa(i) + "\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &Manifest{Name: "g", Nodes: NodeSpec{Source: "nodes.csv"}}
	require.NoError(t, m.Validate())

	_, err := New(WithOpener(memOpener{"nodes.csv": sb.String()})).Load(ctx, m, "", nil)
	require.ErrorIs(t, err, termination.ErrTerminated)
}

// ============================================================================
// Postgres source
// ============================================================================

type fakeRows struct {
	fields []string
	rows   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(...any) error      { return nil }
func (r *fakeRows) Values() ([]any, error) { return r.rows[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

type fakeQuerier struct {
	rows *fakeRows
	sql  string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = sql
	return q.rows, nil
}

func TestLoadPostgresRelationships(t *testing.T) {
	rows := &fakeRows{
		fields: []string{"source", "target", "weight"},
		rows: [][]any{
			{int64(1), int64(2), 0.25},
			{int64(2), int64(1), nil},
		},
	}
	q := &fakeQuerier{rows: rows}
	closed := false
	connector := func(_ context.Context, dsn string) (Querier, func(), error) {
		assert.Equal(t, "postgres://example/db", dsn)
		return q, func() { closed = true }, nil
	}

	m, err := ParseManifest([]byte(`
name: pg
nodes: {source: nodes.csv}
postgres: {dsn: "postgres://example/db"}
relationships:
  - type: LINKS
    query: SELECT source, target, weight FROM links
    properties:
      - {column: weight, type: double, default: 9}
`))
	require.NoError(t, err)

	store, err := New(WithOpener(memOpener{"nodes.csv": "id\n1\n2\n"}), WithConnector(connector)).
		Load(context.Background(), m, "", nil)
	require.NoError(t, err)

	assert.Equal(t, "SELECT source, target, weight FROM links", q.sql)
	assert.True(t, rows.closed)
	assert.True(t, closed)

	weight, ok := store.RelationshipProperty("LINKS", "weight")
	require.True(t, ok)
	w0, _ := weight.DoubleValue(0)
	w1, _ := weight.DoubleValue(1)
	assert.Equal(t, 0.25, w0)
	assert.Equal(t, 9.0, w1)
}

// ============================================================================
// Manifest and sources
// ============================================================================

func TestManifestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "nodes: {source: a.csv}"},
		{name: "missing node source", yaml: "name: g"},
		{name: "source and query", yaml: "name: g\nnodes: {source: a.csv}\npostgres: {dsn: x}\nrelationships: [{type: R, source: b.csv, query: SELECT 1}]"},
		{name: "query without postgres", yaml: "name: g\nnodes: {source: a.csv}\nrelationships: [{type: R, query: SELECT 1}]"},
		{name: "duplicate type", yaml: "name: g\nnodes: {source: a.csv}\nrelationships: [{type: R, source: b.csv}, {type: R, source: c.csv}]"},
		{name: "array relationship property", yaml: "name: g\nnodes: {source: a.csv}\nrelationships: [{type: R, source: b.csv, properties: [{column: w, type: double_array}]}]"},
		{name: "unknown type", yaml: "name: g\nnodes: {source: a.csv, properties: [{column: w, type: text}]}"},
		{name: "not yaml", yaml: "name: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.yaml))
			require.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestManifestDefaults(t *testing.T) {
	m, err := ParseManifest([]byte("name: g\nnodes: {source: a.csv}\nrelationships: [{type: R, source: b.csv}]"))
	require.NoError(t, err)
	assert.Equal(t, "id", m.Nodes.IDColumn)
	assert.Equal(t, "source", m.Relationships[0].SourceColumn)
	assert.Equal(t, "target", m.Relationships[0].TargetColumn)
}

func TestRoutingOpener(t *testing.T) {
	r := RoutingOpener{Local: memOpener{"a.csv": "id\n"}}
	rc, err := r.Open(context.Background(), "a.csv")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = r.Open(context.Background(), "gs://bucket/a.csv")
	require.ErrorIs(t, err, ErrSource)
}

func TestSplitGCS(t *testing.T) {
	bucket, object, err := splitGCS("gs://data/graphs/edges.csv")
	require.NoError(t, err)
	assert.Equal(t, "data", bucket)
	assert.Equal(t, "graphs/edges.csv", object)

	for _, bad := range []string{"gs://bucket", "gs:///obj", "s3://b/o"} {
		_, _, err := splitGCS(bad)
		assert.ErrorIs(t, err, ErrSource, bad)
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "dir/a.csv", resolve("dir", "a.csv"))
	assert.Equal(t, "/abs/a.csv", resolve("dir", "/abs/a.csv"))
	assert.Equal(t, "gs://b/o", resolve("dir", "gs://b/o"))
}

func TestLocalSources(t *testing.T) {
	m, err := ParseManifest([]byte(`
name: g
nodes: {source: nodes.csv}
postgres: {dsn: x}
relationships:
  - {type: A, source: gs://bucket/a.csv}
  - {type: B, source: /abs/b.csv}
  - {type: C, query: SELECT 1}
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"dir/nodes.csv", "/abs/b.csv"}, m.LocalSources("dir"))
}

func TestLazyGCSOpenerMissingCredentials(t *testing.T) {
	o := &LazyGCSOpener{CredentialsFile: "/nonexistent/key.json"}
	_, err := o.Open(context.Background(), "gs://bucket/nodes.csv")
	require.ErrorIs(t, err, ErrSource)

	// The failure is remembered rather than retried.
	_, err = o.Open(context.Background(), "gs://bucket/rels.csv")
	require.ErrorIs(t, err, ErrSource)
	assert.NoError(t, o.Close())
}

func TestExportRoundTrip(t *testing.T) {
	ctx := context.Background()
	original, err := New().LoadFile(ctx, "testdata/social.yaml", nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path, err := Export(ctx, original, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ManifestFile), path)

	reloaded, err := New().LoadFile(ctx, path, nil)
	require.NoError(t, err)

	assert.Equal(t, original.Name(), reloaded.Name())
	assert.Equal(t, original.NodeCount(), reloaded.NodeCount())
	assert.Equal(t, original.RelationshipCount(), reloaded.RelationshipCount())
	assert.Equal(t, original.Schema(), reloaded.Schema())

	for node := range original.NodeCount() {
		assert.Equal(t, original.IDMap().ToOriginal(node), reloaded.IDMap().ToOriginal(node))
	}

	since, ok := reloaded.RelationshipProperty("KNOWS", "since")
	require.True(t, ok)
	assert.True(t, since.HasValue(1))
	assert.False(t, since.HasValue(2))

	emb, ok := reloaded.NodeProperty("embedding")
	require.True(t, ok)
	arr, err := emb.DoubleArrayValue(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.5}, arr)
}
