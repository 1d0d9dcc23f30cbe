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

package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/client"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

func newRemoteContext(t *testing.T) (*RemoteContext, *CommandContext) {
	t.Helper()
	cc := newTestContext(t)
	srv, err := cc.NewServer(context.Background())
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	cfg := validConfig()
	cfg.Server = ts.URL
	cmd, err := NewCommander(context.Background(), cfg)
	require.NoError(t, err)
	rc, ok := cmd.(*RemoteContext)
	require.True(t, ok)
	return rc, cc
}

func TestNewCommander(t *testing.T) {
	cmd, err := NewCommander(context.Background(), validConfig())
	require.NoError(t, err)
	_, ok := cmd.(*CommandContext)
	assert.True(t, ok)
	assert.NoError(t, cmd.Close())

	cfg := validConfig()
	cfg.Server = "not a url"
	_, err = NewCommander(context.Background(), cfg)
	assert.ErrorIs(t, err, client.ErrInvalidConfig)
}

func TestRemoteCommands(t *testing.T) {
	ctx := context.Background()
	rc, cc := newRemoteContext(t)

	res, err := rc.TransformCommand(ctx, "/photos/a.jpg", transform.Parameters{Handle: "thumb"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/photos/_thumb/a.jpg", res.URL)
	assert.Equal(t, "_200x200_crop_center-center", res.Key)
	assert.Equal(t, "photos/a.jpg", res.Path)

	res, err = rc.TransformCommand(ctx, "photos/a.jpg", transform.Parameters{Width: 100, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, "_100x50_crop_center-center", res.Key)

	id, records, err := rc.IndexListCommand(ctx, "photos/a.jpg")
	require.NoError(t, err)
	a, err := cc.Catalog.FindByPath("default", "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
	assert.Len(t, records, 2)

	reindexed, err := rc.ReindexCommand(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, 2, reindexed.Checked)
	assert.Zero(t, reindexed.Fixed)

	n, err := rc.InvalidateCommand(ctx, "photos/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = rc.TransformCommand(ctx, "photos/missing.jpg", transform.Parameters{Handle: "thumb"})
	assert.ErrorIs(t, err, client.ErrNotFound)
	_, err = rc.TransformCommand(ctx, "photos/a.jpg", transform.Parameters{Handle: "nope"})
	assert.ErrorIs(t, err, client.ErrBadRequest)
}

func TestRemoteRegistersNewFiles(t *testing.T) {
	ctx := context.Background()
	rc, cc := newRemoteContext(t)
	require.NoError(t, cc.Volume.Put(ctx, "photos/c.jpg", bytes.NewReader(jpegBytes(t, 300, 300))))

	res, err := rc.TransformCommand(ctx, "photos/c.jpg", transform.Parameters{Handle: "thumb"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/assets/photos/_thumb/c.jpg", res.URL)

	a, err := cc.Catalog.FindByPath("default", "photos/c.jpg")
	require.NoError(t, err)
	id, err := rc.assetID(ctx, "photos/c.jpg")
	require.NoError(t, err)
	assert.Equal(t, a.ID, id)
}
