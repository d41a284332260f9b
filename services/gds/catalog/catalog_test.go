// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianGDS/services/gds/graph"
	"github.com/AleutianAI/AleutianGDS/services/gds/idmap"
)

func newStore(name string, n int64) *graph.Store {
	return graph.NewStore(name, idmap.Identity(n))
}

func TestPutGet(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 3)))

	err := c.Put(newStore("g", 4))
	require.ErrorIs(t, err, ErrGraphExists)

	entry, release, err := c.Get("g")
	require.NoError(t, err)
	assert.Equal(t, int64(3), entry.Store.NodeCount())
	assert.Equal(t, int32(1), entry.RefCount())

	release()
	release()
	assert.Equal(t, int32(0), entry.RefCount(), "release is idempotent")

	_, _, err = c.Get("missing")
	require.ErrorIs(t, err, ErrGraphNotFound)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.EntryCount)
}

func TestMaxEntries(t *testing.T) {
	c := New(nil, WithMaxEntries(1))
	require.NoError(t, c.Put(newStore("a", 1)))
	require.ErrorIs(t, c.Put(newStore("b", 1)), ErrCatalogFull)
	require.ErrorIs(t, c.Publish("b", newStore("b", 1)), ErrCatalogFull)

	// Replacing an existing graph does not grow the catalog.
	require.NoError(t, c.Publish("a", newStore("a", 2)))
}

func TestDrop(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 2)))

	entry, release, err := c.Get("g")
	require.NoError(t, err)

	_, err = c.Drop("g", false)
	require.ErrorIs(t, err, ErrGraphInUse)

	dropped, err := c.Drop("g", true)
	require.NoError(t, err)
	assert.Same(t, entry, dropped)
	assert.Equal(t, int64(2), entry.Store.NodeCount(), "holder keeps its snapshot")
	release()

	_, err = c.Drop("g", false)
	require.ErrorIs(t, err, ErrGraphNotFound)
	assert.Empty(t, c.Names())
}

func TestPublishSwapsSnapshot(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 2)))

	old, release, err := c.Get("g")
	require.NoError(t, err)
	defer release()

	require.NoError(t, c.Publish("g", newStore("g", 5)))

	current, release2, err := c.Get("g")
	require.NoError(t, err)
	defer release2()

	assert.Equal(t, int64(2), old.Store.NodeCount())
	assert.Equal(t, int64(5), current.Store.NodeCount())
	assert.Equal(t, int64(1), c.Stats().PublishCount)

	release2()
	_, err = c.Drop("g", false)
	require.ErrorIs(t, err, ErrGraphInUse, "holder of the replaced snapshot still counts")
	assert.Equal(t, int32(1), c.List()[0].References)

	release()
	_, err = c.Drop("g", false)
	require.NoError(t, err)
}

func TestPublishCarriesReferencesAcrossSnapshots(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 1)))

	_, releaseFirst, err := c.Get("g")
	require.NoError(t, err)
	require.NoError(t, c.Publish("g", newStore("g", 2)))

	_, releaseSecond, err := c.Get("g")
	require.NoError(t, err)
	require.NoError(t, c.Publish("g", newStore("g", 3)))
	require.NoError(t, c.Publish("g", newStore("g", 4)))

	current, err := c.Describe("g")
	require.NoError(t, err)
	assert.Equal(t, int32(2), current.References)

	releaseFirst()
	_, err = c.Drop("g", false)
	require.ErrorIs(t, err, ErrGraphInUse)

	releaseSecond()
	require.NoError(t, c.Publish("g", newStore("g", 5)))
	_, err = c.Drop("g", false)
	require.NoError(t, err)
}

func TestPublishNameMismatch(t *testing.T) {
	c := New(nil)
	require.Error(t, c.Publish("a", newStore("b", 1)))
	require.Error(t, c.Publish("a", nil))
}

func TestLoadOrBuildDeduplicates(t *testing.T) {
	c := New(nil)
	var builds atomic.Int32
	gate := make(chan struct{})
	build := func(ctx context.Context) (*graph.Store, error) {
		builds.Add(1)
		<-gate
		return newStore("g", 4), nil
	}

	const callers = 8
	var wg sync.WaitGroup
	entries := make([]*Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, release, err := c.LoadOrBuild(context.Background(), "g", build)
			entries[i], errs[i] = e, err
			if err == nil {
				release()
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Same(t, entries[0], entries[i])
	}
	assert.Equal(t, int32(1), builds.Load())
	assert.Equal(t, int32(0), entries[0].RefCount())
}

func TestLoadOrBuildHit(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 1)))

	entry, release, err := c.LoadOrBuild(context.Background(), "g", func(context.Context) (*graph.Store, error) {
		t.Fatal("build should not run on a hit")
		return nil, nil
	})
	require.NoError(t, err)
	defer release()
	assert.Equal(t, "g", entry.Name)
}

func TestLoadOrBuildCachesFailure(t *testing.T) {
	c := New(nil, WithErrorCacheTTL(time.Hour))
	boom := errors.New("boom")
	var builds int
	build := func(context.Context) (*graph.Store, error) {
		builds++
		return nil, boom
	}

	_, _, err := c.LoadOrBuild(context.Background(), "g", build)
	require.ErrorIs(t, err, boom)

	_, _, err = c.LoadOrBuild(context.Background(), "g", build)
	var failed *BuildFailedError
	require.ErrorAs(t, err, &failed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "g", failed.Name)
	assert.Equal(t, 1, builds)

	// Publishing clears the cached failure.
	require.NoError(t, c.Publish("g", newStore("g", 1)))
	_, release, err := c.LoadOrBuild(context.Background(), "g", build)
	require.NoError(t, err)
	release()
	assert.Equal(t, int64(1), c.Stats().ErrorCount)
}

func TestLoadOrBuildWrongName(t *testing.T) {
	c := New(nil)
	_, _, err := c.LoadOrBuild(context.Background(), "g", func(context.Context) (*graph.Store, error) {
		return newStore("other", 1), nil
	})
	require.Error(t, err)
	assert.Empty(t, c.Names())
}

func TestList(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("zeta", 1)))
	require.NoError(t, c.Put(newStore("alpha", 3)))

	_, release, err := c.Get("alpha")
	require.NoError(t, err)
	defer release()

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, int64(3), list[0].NodeCount)
	assert.Equal(t, int32(1), list[0].References)
	assert.Equal(t, "zeta", list[1].Name)
	assert.Equal(t, int32(0), list[1].References)
	assert.Greater(t, list[0].EstimatedMemoryBytes, list[1].EstimatedMemoryBytes)
}

func TestDescribeAndSetSource(t *testing.T) {
	c := New(nil)
	require.NoError(t, c.Put(newStore("g", 2)))
	c.SetSource("g", "/data/g.yaml")

	s, err := c.Describe("g")
	require.NoError(t, err)
	assert.Equal(t, "/data/g.yaml", s.Source)
	assert.Equal(t, int32(0), s.References)

	_, err = c.Describe("missing")
	require.ErrorIs(t, err, ErrGraphNotFound)
}
