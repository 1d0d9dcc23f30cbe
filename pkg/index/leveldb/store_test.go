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

package leveldb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/index/storetest"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

var _ index.Store = (*Store)(nil)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) index.Store {
		s, err := Open(filepath.Join(t.TempDir(), "index"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestMemoryStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) index.Store {
		s, err := OpenMemory()
		require.NoError(t, err)
		return s
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index")
	p := transform.Normalize(transform.Parameters{Width: 300, Mode: transform.ModeFit}, nil)

	s, err := Open(path)
	require.NoError(t, err)
	r, _, err := s.GetOrCreate(ctx, "asset-1", p)
	require.NoError(t, err)
	r.Format = "png"
	r.Checksum = "abc"
	require.NoError(t, s.MarkFileExists(ctx, r, true))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, created, err := s.GetOrCreate(ctx, "asset-1", p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, got.FileExists)
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, "abc", got.Checksum)
	assert.Equal(t, p, got.Params)
	assert.True(t, r.DateParametersChanged.Equal(got.DateParametersChanged))
}

func TestRecordEncodingIsDeterministic(t *testing.T) {
	p := transform.Normalize(transform.Parameters{Width: 10, Height: 20}, nil)
	r := index.NewRecord("asset-1", p, time.Date(2025, 5, 1, 12, 0, 0, 123456789, time.UTC))

	a, err := encMode.Marshal(r)
	require.NoError(t, err)
	b, err := encMode.Marshal(r.Clone())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
