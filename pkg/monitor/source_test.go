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

package monitor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/local"
)

type fakeInvalidator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, assetID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.calls = append(f.calls, assetID)
	return 1, nil
}

func (f *fakeInvalidator) invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newSourceFixture(t *testing.T) (string, *asset.Catalog, *asset.Asset, *fakeInvalidator, *SourceWatcher) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "photos"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "photos", "a.jpg"), []byte("v1"), 0o600))

	vol := local.New()
	require.NoError(t, vol.Configure(map[string]string{"path": root}))
	catalog := asset.NewCatalog()
	a, err := catalog.Register(&asset.Asset{Volume: vol, VolumeName: "local", Folder: "photos", Filename: "a.jpg"})
	require.NoError(t, err)

	inv := &fakeInvalidator{}
	sw, err := NewSourceWatcher(SourceWatcherConfig{
		Root:        root,
		Volume:      "local",
		Assets:      catalog,
		Invalidator: inv,
		Watcher:     FSNotifyWatcherConfig{DebounceDelay: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	return root, catalog, a, inv, sw
}

func TestNewSourceWatcher(t *testing.T) {
	_, err := NewSourceWatcher(SourceWatcherConfig{})
	assert.ErrorIs(t, err, ErrRootRequired)
	_, err = NewSourceWatcher(SourceWatcherConfig{Root: "/tmp"})
	assert.ErrorIs(t, err, ErrInvalidatorRequired)
}

func TestSourceWatcherHandle(t *testing.T) {
	root, catalog, a, inv, sw := newSourceFixture(t)
	ctx := context.Background()
	defer func() { _ = sw.watcher.Stop() }()

	// Unregistered files are ignored.
	sw.handle(ctx, FileSystemEvent{Path: filepath.Join(root, "photos", "b.jpg"), Operation: OpPut})
	assert.Empty(t, inv.invalidated())

	sw.handle(ctx, FileSystemEvent{Path: filepath.Join(root, "photos", "a.jpg"), Operation: OpPut})
	assert.Equal(t, []string{a.ID}, inv.invalidated())
	_, err := catalog.Get(ctx, a.ID)
	require.NoError(t, err, "modified assets stay registered")

	// Failed invalidation keeps the asset so it can be retried.
	inv.err = errors.New("index down")
	sw.handle(ctx, FileSystemEvent{Path: filepath.Join(root, "photos", "a.jpg"), Operation: OpDelete})
	_, err = catalog.Get(ctx, a.ID)
	require.NoError(t, err)

	inv.err = nil
	sw.handle(ctx, FileSystemEvent{Path: filepath.Join(root, "photos", "a.jpg"), Operation: OpDelete})
	_, err = catalog.Get(ctx, a.ID)
	assert.ErrorIs(t, err, common.ErrAssetNotFound)
}

func TestSourceWatcherRun(t *testing.T) {
	root, catalog, a, inv, sw := newSourceFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	file := filepath.Join(root, "photos", "a.jpg")
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(file, []byte("v2"), 0o600)
		return len(inv.invalidated()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, a.ID, inv.invalidated()[0])

	require.NoError(t, os.Remove(file))
	assert.Eventually(t, func() bool {
		_, err := catalog.Get(context.Background(), a.ID)
		return errors.Is(err, common.ErrAssetNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
