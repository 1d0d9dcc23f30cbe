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
	"path/filepath"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// Invalidator removes the derived files and index records of an asset.
type Invalidator interface {
	Invalidate(ctx context.Context, assetID string) (int, error)
}

// AssetIndex finds and forgets assets by path.
type AssetIndex interface {
	FindByPath(volume, p string) (*asset.Asset, error)
	Remove(id string)
}

var (
	// ErrRootRequired is returned by NewSourceWatcher without a root.
	ErrRootRequired = errors.New("watch root is required")

	// ErrInvalidatorRequired is returned by NewSourceWatcher without an
	// invalidator or asset index.
	ErrInvalidatorRequired = errors.New("invalidator and asset index are required")
)

// SourceWatcherConfig configures a SourceWatcher.
type SourceWatcherConfig struct {
	// Root is the local volume root directory.
	Root string
	// Volume is the name assets on Root are registered under.
	Volume      string
	Assets      AssetIndex
	Invalidator Invalidator
	Logger      adapters.Logger
	Watcher     FSNotifyWatcherConfig
}

// SourceWatcher invalidates the transforms of source files on a local
// volume when they are modified, removed or renamed. Removed assets are
// also forgotten.
type SourceWatcher struct {
	root        string
	volume      string
	assets      AssetIndex
	invalidator Invalidator
	logger      adapters.Logger
	watcher     *FSNotifyWatcher
}

// NewSourceWatcher creates a SourceWatcher. Call Run to start it.
func NewSourceWatcher(config SourceWatcherConfig) (*SourceWatcher, error) {
	if config.Root == "" {
		return nil, ErrRootRequired
	}
	if config.Assets == nil || config.Invalidator == nil {
		return nil, ErrInvalidatorRequired
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	if config.Watcher.Logger == nil {
		config.Watcher.Logger = config.Logger
	}
	w, err := NewFSNotifyWatcher(config.Watcher)
	if err != nil {
		return nil, err
	}
	return &SourceWatcher{
		root:        filepath.Clean(config.Root),
		volume:      config.Volume,
		assets:      config.Assets,
		invalidator: config.Invalidator,
		logger:      config.Logger,
		watcher:     w,
	}, nil
}

// Run watches the root until ctx is done, then stops the watcher.
func (s *SourceWatcher) Run(ctx context.Context) error {
	defer func() { _ = s.watcher.Stop() }()

	if err := s.watcher.Watch(s.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-s.watcher.Events():
			if !ok {
				return nil
			}
			s.handle(ctx, ev)
		}
	}
}

// handle invalidates the asset at ev.Path, if one is registered.
func (s *SourceWatcher) handle(ctx context.Context, ev FileSystemEvent) {
	rel, err := filepath.Rel(s.root, ev.Path)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	a, err := s.assets.FindByPath(s.volume, rel)
	if err != nil {
		if !errors.Is(err, common.ErrAssetNotFound) {
			s.logger.Warn(ctx, "asset lookup failed",
				adapters.Field{Key: "path", Value: rel}, adapters.ErrField(err))
		}
		return
	}

	n, err := s.invalidator.Invalidate(ctx, a.ID)
	if err != nil {
		s.logger.Error(ctx, "failed to invalidate changed source",
			adapters.Field{Key: "asset", Value: a.ID},
			adapters.Field{Key: "path", Value: rel},
			adapters.ErrField(err))
		return
	}
	if ev.Operation == OpDelete {
		s.assets.Remove(a.ID)
	}
	s.logger.Info(ctx, "source changed, transforms invalidated",
		adapters.Field{Key: "asset", Value: a.ID},
		adapters.Field{Key: "path", Value: rel},
		adapters.Field{Key: "operation", Value: string(ev.Operation)},
		adapters.Field{Key: "records", Value: n})
}
