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

package asset

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/memory"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

func TestAssetPaths(t *testing.T) {
	a := &Asset{Folder: "uploads/2025", Filename: "Photo.JPG"}
	assert.Equal(t, "uploads/2025/Photo.JPG", a.Path())
	assert.Equal(t, "jpg", a.Extension())
	assert.Equal(t, "Photo", a.Basename())

	root := &Asset{Filename: "logo.svg"}
	assert.Equal(t, "logo.svg", root.Path())
}

func TestCatalogRegister(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog()
	vol := memory.New()

	_, err := c.Register(&Asset{Filename: "a.jpg"})
	assert.ErrorIs(t, err, common.ErrVolumeRequired)

	_, err = c.Register(&Asset{Volume: vol, Folder: "..", Filename: "a.jpg"})
	var ve *common.ValidationError
	assert.True(t, errors.As(err, &ve))

	a, err := c.Register(&Asset{Volume: vol, VolumeName: "main", Folder: "img", Filename: "a.jpg"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	got, err := c.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)

	// Re-registering the same path keeps the ID.
	again, err := c.Register(&Asset{Volume: vol, VolumeName: "main", Folder: "img", Filename: "a.jpg", Width: 10})
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	got, _ = c.Get(ctx, a.ID)
	assert.Equal(t, 10, got.Width)

	found, err := c.FindByPath("main", "img/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, a.ID, found.ID)

	_, err = c.FindByPath("other", "img/a.jpg")
	assert.ErrorIs(t, err, common.ErrAssetNotFound)

	assert.Len(t, c.List(), 1)

	c.Remove(a.ID)
	c.Remove(a.ID)
	_, err = c.Get(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrAssetNotFound)
	_, err = c.FindByPath("main", "img/a.jpg")
	assert.ErrorIs(t, err, common.ErrAssetNotFound)
}

func TestCatalogReplace(t *testing.T) {
	c := NewCatalog()
	vol := memory.New()
	photo := func(w int, fp *transform.FocalPoint) *Asset {
		return &Asset{Volume: vol, VolumeName: "main", Folder: "img", Filename: "a.jpg", Width: w, Height: 100, FocalPoint: fp}
	}

	a, changed, err := c.Replace(photo(200, &transform.FocalPoint{X: 0.1, Y: 0.1}))
	require.NoError(t, err)
	assert.False(t, changed, "first registration")

	tests := []struct {
		name    string
		next    *Asset
		changed bool
	}{
		{"same source", photo(200, &transform.FocalPoint{X: 0.1, Y: 0.1}), false},
		{"focal point moved", photo(200, &transform.FocalPoint{X: 0.9, Y: 0.9}), true},
		{"focal point cleared", photo(200, nil), true},
		{"focal point unchanged nil", photo(200, nil), false},
		{"dimensions", photo(300, nil), true},
		{"path", &Asset{ID: a.ID, Volume: vol, VolumeName: "main", Folder: "img", Filename: "b.jpg", Width: 300, Height: 100}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := c.Replace(tt.next)
			require.NoError(t, err)
			assert.Equal(t, a.ID, got.ID)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestCatalogMove(t *testing.T) {
	c := NewCatalog()
	vol := memory.New()
	a, err := c.Register(&Asset{ID: "fixed", Volume: vol, Filename: "old.png"})
	require.NoError(t, err)

	_, err = c.Register(&Asset{ID: a.ID, Volume: vol, Filename: "new.png"})
	require.NoError(t, err)

	_, err = c.FindByPath("", "old.png")
	assert.ErrorIs(t, err, common.ErrAssetNotFound)
	moved, err := c.FindByPath("", "new.png")
	require.NoError(t, err)
	assert.Equal(t, "fixed", moved.ID)
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	vol := memory.New()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))))
	require.NoError(t, vol.Put(ctx, "img/pic.png", &buf))
	require.NoError(t, vol.Put(ctx, "img/broken.jpg", bytes.NewReader([]byte("not a jpeg"))))
	require.NoError(t, vol.Put(ctx, "docs/readme.pdf", bytes.NewReader([]byte("%PDF"))))

	a, err := Probe(ctx, vol, "main", "img/pic.png")
	require.NoError(t, err)
	assert.Equal(t, "img", a.Folder)
	assert.Equal(t, "pic.png", a.Filename)
	assert.Equal(t, 64, a.Width)
	assert.Equal(t, 48, a.Height)

	doc, err := Probe(ctx, vol, "main", "docs/readme.pdf")
	require.NoError(t, err)
	assert.Zero(t, doc.Width)

	_, err = Probe(ctx, vol, "main", "img/broken.jpg")
	assert.ErrorIs(t, err, common.ErrSourceUnreadable)

	_, err = Probe(ctx, vol, "main", "img/missing.png")
	assert.ErrorIs(t, err, common.ErrKeyNotFound)
}

func TestPathIDStable(t *testing.T) {
	c1, c2 := NewCatalog(), NewCatalog()
	vol := memory.New()
	a, err := c1.Register(&Asset{Volume: vol, VolumeName: "main", Folder: "img", Filename: "a.jpg"})
	require.NoError(t, err)
	b, err := c2.Register(&Asset{Volume: vol, VolumeName: "main", Folder: "img", Filename: "a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, PathID("main", "img/a.jpg"), a.ID)
	assert.NotEqual(t, PathID("other", "img/a.jpg"), a.ID)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	vol := memory.New()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))))
	pic := buf.Bytes()
	for _, p := range []string{"img/a.png", "img/sub/b.png", "img/_thumb/a.png", ".cache/c.png"} {
		require.NoError(t, vol.Put(ctx, p, bytes.NewReader(pic)))
	}
	require.NoError(t, vol.Put(ctx, "img/broken.png", bytes.NewReader([]byte("nope"))))
	require.NoError(t, vol.Put(ctx, "docs/readme.pdf", bytes.NewReader([]byte("%PDF"))))

	c := NewCatalog()
	var skipped []string
	n, err := Scan(ctx, c, vol, "main", "", func(p string, err error) {
		skipped = append(skipped, p)
		assert.ErrorIs(t, err, common.ErrSourceUnreadable)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"img/broken.png"}, skipped)

	found, err := c.FindByPath("main", "img/sub/b.png")
	require.NoError(t, err)
	assert.Equal(t, 8, found.Width)
	_, err = c.FindByPath("main", "img/_thumb/a.png")
	assert.ErrorIs(t, err, common.ErrAssetNotFound)
}
