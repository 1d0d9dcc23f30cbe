// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-imgtransform.
//
// go-imgtransform is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package storetest holds the behavior every index.Store driver must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Factory opens an empty store for one subtest.
type Factory func(t *testing.T) index.Store

var params400 = transform.Normalize(transform.Parameters{Width: 400, Height: 400, Mode: transform.ModeFit}, nil)

// Run exercises a Store implementation.
func Run(t *testing.T, open Factory) {
	t.Run("GetOrCreate", func(t *testing.T) { testGetOrCreate(t, open(t)) })
	t.Run("GetOrCreateConcurrent", func(t *testing.T) { testGetOrCreateConcurrent(t, open(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, open(t)) })
	t.Run("FindEquivalent", func(t *testing.T) { testFindEquivalent(t, open(t)) })
	t.Run("ListAndDelete", func(t *testing.T) { testListAndDelete(t, open(t)) })
	t.Run("MalformedID", func(t *testing.T) { testMalformedID(t, open(t)) })
	t.Run("Closed", func(t *testing.T) { testClosed(t, open(t)) })
}

func testMalformedID(t *testing.T, s index.Store) {
	ctx := context.Background()
	r, _, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)

	for _, id := range []string{"not-a-uuid", "", "'; DROP TABLE x; --"} {
		_, err := s.Get(ctx, id)
		assert.ErrorIs(t, err, index.ErrRecordNotFound, "get %q", id)
		assert.ErrorIs(t, s.Delete(ctx, id), index.ErrRecordNotFound, "delete %q", id)

		ghost := r.Clone()
		ghost.ID = id
		err = s.Update(ctx, ghost)
		assert.ErrorIs(t, err, common.ErrIndexPersistence, "update %q", id)
		assert.ErrorIs(t, err, index.ErrRecordNotFound, "update %q", id)
	}

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
}

func testGetOrCreate(t *testing.T, s index.Store) {
	ctx := context.Background()

	r, created, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, transform.Key("_400x400_fit_center-center"), r.Key)
	assert.Equal(t, "_400x400_fit_center-center", r.Location)
	assert.False(t, r.FileExists)
	assert.True(t, r.DateParametersChanged.IsZero())

	again, created, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, again.ID)
	assert.Equal(t, params400, again.Params)

	other, created, err := s.GetOrCreate(ctx, "asset-2", params400)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r.ID, other.ID)

	// A named transform with the same geometry gets its own record.
	thumb, created, err := s.GetOrCreate(ctx, "asset-1", named("thumb"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, r.ID, thumb.ID)
	assert.Equal(t, r.Key, thumb.Key)

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.AssetID, got.AssetID)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.Is(err, index.ErrRecordNotFound))
}

func testGetOrCreateConcurrent(t *testing.T, s index.Store) {
	ctx := context.Background()
	const workers = 16

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[string]bool{}
		created int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			r, c, err := s.GetOrCreate(ctx, "asset-race", params400)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[r.ID] = true
			if c {
				created++
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func testUpdate(t *testing.T, s index.Store) {
	ctx := context.Background()
	r, _, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)
	before := r.DateUpdated

	time.Sleep(5 * time.Millisecond)
	r.InProgress = true
	r.Format = "jpg"
	r.Filename = "photo.jpg"
	changed := time.Now().UTC()
	r.DateParametersChanged = changed
	require.NoError(t, s.Update(ctx, r))
	assert.True(t, r.DateUpdated.After(before))

	got, err := s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.InProgress)
	assert.Equal(t, "jpg", got.Format)
	assert.Equal(t, "photo.jpg", got.Filename)
	assert.WithinDuration(t, r.DateUpdated, got.DateUpdated, time.Millisecond)
	assert.WithinDuration(t, changed, got.DateParametersChanged, time.Millisecond)

	require.NoError(t, s.MarkFileExists(ctx, r, true))
	require.NoError(t, s.MarkFileExists(ctx, r, true))
	got, err = s.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.FileExists)

	ghost := index.NewRecord("asset-1", params400, time.Now())
	err = s.Update(ctx, ghost)
	assert.True(t, errors.Is(err, common.ErrIndexPersistence))
	var pe *index.PersistenceError
	assert.True(t, errors.As(err, &pe))
}

func complete(t *testing.T, s index.Store, assetID string, p transform.Parameters, format string, completed time.Time) *index.Record {
	t.Helper()
	r, _, err := s.GetOrCreate(context.Background(), assetID, p)
	require.NoError(t, err)
	r.Format = format
	r.FileExists = true
	r.DateCompleted = completed
	require.NoError(t, s.Update(context.Background(), r))
	return r
}

func named(handle string) transform.Parameters {
	p := params400
	p.Handle = handle
	return p
}

func testFindEquivalent(t *testing.T, s index.Store) {
	ctx := context.Background()
	key := params400.Key()

	adHoc, _, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)

	found, err := s.FindEquivalent(ctx, "asset-1", key, "jpg", adHoc.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
	older := complete(t, s, "asset-1", named("thumb"), "jpg", base)
	newer := complete(t, s, "asset-1", named("square"), "jpg", base.Add(time.Minute))
	_ = complete(t, s, "asset-1", named("square-png"), "png", base.Add(2*time.Minute))
	assert.Equal(t, "_thumb", older.Location)
	assert.Equal(t, key, older.Key)

	// Most recently completed wins.
	found, err = s.FindEquivalent(ctx, "asset-1", key, "jpg", adHoc.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, newer.ID, found.ID)

	found, err = s.FindEquivalent(ctx, "asset-1", key, "jpg", newer.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, older.ID, found.ID)

	// Completion ties fall back to the later update.
	older.DateCompleted = newer.DateCompleted
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.Update(ctx, older))
	found, err = s.FindEquivalent(ctx, "asset-1", key, "jpg", adHoc.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, older.ID, found.ID)

	// Resolved format is part of equivalence.
	found, err = s.FindEquivalent(ctx, "asset-1", key, "gif", "")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = s.FindEquivalent(ctx, "asset-2", key, "jpg", "")
	require.NoError(t, err)
	assert.Nil(t, found)

	// In-progress and missing files are not copy sources.
	older.InProgress = true
	require.NoError(t, s.Update(ctx, older))
	require.NoError(t, s.MarkFileExists(ctx, newer, false))
	found, err = s.FindEquivalent(ctx, "asset-1", key, "jpg", adHoc.ID)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func testListAndDelete(t *testing.T, s index.Store) {
	ctx := context.Background()
	a, _, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)
	b, _, err := s.GetOrCreate(ctx, "asset-1", transform.Normalize(transform.Parameters{Width: 10, Height: 10}, nil))
	require.NoError(t, err)
	c, _, err := s.GetOrCreate(ctx, "asset-2", params400)
	require.NoError(t, err)

	records, err := s.ListByAsset(ctx, "asset-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "_10x10_crop_center-center", records[0].Location)

	b.InProgress = true
	require.NoError(t, s.Update(ctx, b))
	inProgress, err := s.ListInProgress(ctx)
	require.NoError(t, err)
	require.Len(t, inProgress, 1)
	assert.Equal(t, b.ID, inProgress[0].ID)

	n, err := s.DeleteByAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	records, err = s.ListByAsset(ctx, "asset-1")
	require.NoError(t, err)
	assert.Empty(t, records)

	// The unique slot is free again after deletion.
	fresh, created, err := s.GetOrCreate(ctx, "asset-1", params400)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, fresh.ID)

	require.NoError(t, s.Delete(ctx, c.ID))
	assert.True(t, errors.Is(s.Delete(ctx, c.ID), index.ErrRecordNotFound))
	_, err = s.Get(ctx, c.ID)
	assert.True(t, errors.Is(err, index.ErrRecordNotFound))
}

func testClosed(t *testing.T, s index.Store) {
	require.NoError(t, s.Close())
	_, _, err := s.GetOrCreate(context.Background(), "asset-1", params400)
	assert.True(t, errors.Is(err, common.ErrIndexPersistence))
}
