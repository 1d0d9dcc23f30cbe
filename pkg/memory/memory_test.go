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

package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ common.Volume = (*Memory)(nil)

func TestPutGetExists(t *testing.T) {
	ctx := context.Background()
	vol := New()
	require.NoError(t, vol.Configure(nil))

	exists, err := vol.Exists(ctx, "a/photo.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, vol.Put(ctx, "a/photo.jpg", bytes.NewReader([]byte("pixels"))))

	exists, err = vol.Exists(ctx, "a/photo.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := vol.Get(ctx, "a/photo.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte("pixels"), data)

	puts, copies := vol.Stats()
	assert.Equal(t, 1, puts)
	assert.Equal(t, 0, copies)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	vol := New()

	_, err := vol.Get(ctx, "missing.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	err = vol.Delete(ctx, "missing.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	_, err = vol.LastModified(ctx, "missing.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	err = vol.Copy(ctx, "missing.jpg", "dst.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	assert.True(t, errors.Is(vol.SetModTime("missing.jpg", time.Now()), common.ErrKeyNotFound))
}

func TestCopyAndModTime(t *testing.T) {
	ctx := context.Background()
	vol := New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	vol.SetClock(func() time.Time { return base })

	require.NoError(t, vol.Put(ctx, "src.jpg", bytes.NewReader([]byte("abc"))))
	mt, err := vol.LastModified(ctx, "src.jpg")
	require.NoError(t, err)
	assert.Equal(t, base, mt)

	vol.SetClock(func() time.Time { return base.Add(time.Hour) })
	require.NoError(t, vol.Copy(ctx, "src.jpg", "dst/copy.jpg"))

	mt, err = vol.LastModified(ctx, "dst/copy.jpg")
	require.NoError(t, err)
	assert.Equal(t, base.Add(time.Hour), mt)

	require.NoError(t, vol.SetModTime("src.jpg", base.Add(-time.Hour)))
	mt, err = vol.LastModified(ctx, "src.jpg")
	require.NoError(t, err)
	assert.Equal(t, base.Add(-time.Hour), mt)

	_, copies := vol.Stats()
	assert.Equal(t, 1, copies)
}

func TestDeleteAndList(t *testing.T) {
	ctx := context.Background()
	vol := New()
	for _, p := range []string{"a/1.jpg", "a/_x/1.jpg", "b/2.jpg"} {
		require.NoError(t, vol.Put(ctx, p, bytes.NewReader(nil)))
	}

	paths, err := vol.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1.jpg", "a/_x/1.jpg"}, paths)

	require.NoError(t, vol.Delete(ctx, "a/1.jpg"))
	paths, err = vol.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/_x/1.jpg", "b/2.jpg"}, paths)
}

func TestInvalidPathAndCanceledContext(t *testing.T) {
	vol := New()
	ctx := context.Background()

	err := vol.Put(ctx, "../escape.jpg", bytes.NewReader(nil))
	var ve *common.ValidationError
	assert.True(t, errors.As(err, &ve))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = vol.Exists(canceled, "a.jpg")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = vol.List(canceled, "")
	assert.ErrorIs(t, err, context.Canceled)
}
