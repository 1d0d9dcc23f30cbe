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

package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ common.Volume = (*Local)(nil)

func newTestVolume(t *testing.T) *Local {
	t.Helper()
	vol := New()
	require.NoError(t, vol.Configure(map[string]string{"path": t.TempDir()}))
	return vol
}

func TestConfigure(t *testing.T) {
	vol := New()
	assert.ErrorIs(t, vol.Configure(map[string]string{}), common.ErrPathNotSet)

	dir := filepath.Join(t.TempDir(), "nested", "root")
	require.NoError(t, vol.Configure(map[string]string{"path": dir}))
	assert.Equal(t, dir, vol.Root())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNotConfigured(t *testing.T) {
	vol := New()
	_, err := vol.Exists(context.Background(), "a.jpg")
	assert.ErrorIs(t, err, common.ErrNotConfigured)
	_, err = vol.List(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrNotConfigured)
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)

	require.NoError(t, vol.Put(ctx, "uploads/_100x100_crop_center-center/photo.jpg", bytes.NewReader([]byte("data"))))

	exists, err := vol.Exists(ctx, "uploads/_100x100_crop_center-center/photo.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	// Directories are not files.
	exists, err = vol.Exists(ctx, "uploads")
	require.NoError(t, err)
	assert.False(t, exists)

	rc, err := vol.Get(ctx, "uploads/_100x100_crop_center-center/photo.jpg")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, []byte("data"), data)

	require.NoError(t, vol.Delete(ctx, "uploads/_100x100_crop_center-center/photo.jpg"))
	err = vol.Delete(ctx, "uploads/_100x100_crop_center-center/photo.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	_, err = vol.Get(ctx, "uploads/_100x100_crop_center-center/photo.jpg")
	assert.True(t, common.IsNotFound(err))
}

func TestPutReplacesExisting(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)

	require.NoError(t, vol.Put(ctx, "a.jpg", bytes.NewReader([]byte("first"))))
	require.NoError(t, vol.Put(ctx, "a.jpg", bytes.NewReader([]byte("second"))))

	rc, err := vol.Get(ctx, "a.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "second", string(data))

	// No temp files are left behind.
	paths, err := vol.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, paths)
}

func TestCopyAndLastModified(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)

	require.NoError(t, vol.Put(ctx, "a/src.jpg", bytes.NewReader([]byte("payload"))))
	past := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(filepath.Join(vol.Root(), "a", "src.jpg"), past, past))

	mt, err := vol.LastModified(ctx, "a/src.jpg")
	require.NoError(t, err)
	assert.True(t, mt.Equal(past))

	require.NoError(t, vol.Copy(ctx, "a/src.jpg", "b/dst.jpg"))
	mt, err = vol.LastModified(ctx, "b/dst.jpg")
	require.NoError(t, err)
	assert.True(t, mt.After(past))

	_, err = vol.LastModified(ctx, "nope.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	err = vol.Copy(ctx, "nope.jpg", "c.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	vol := newTestVolume(t)
	for _, p := range []string{"a/1.jpg", "a/_k/1.jpg", "b/2.png"} {
		require.NoError(t, vol.Put(ctx, p, bytes.NewReader(nil)))
	}

	paths, err := vol.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1.jpg", "a/_k/1.jpg"}, paths)
}

func TestRejectsTraversal(t *testing.T) {
	vol := newTestVolume(t)
	err := vol.Put(context.Background(), "../../etc/passwd", bytes.NewReader(nil))
	var ve *common.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KB", formatBytes(1024))
	assert.Equal(t, "1.5 MB", formatBytes(1536*1024))
}
