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
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Catalog is an in-memory Provider keyed by asset ID with a secondary
// lookup by volume path.
type Catalog struct {
	mu     sync.RWMutex
	byID   map[string]*Asset
	byPath map[string]string
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		byID:   make(map[string]*Asset),
		byPath: make(map[string]string),
	}
}

func pathKey(volume, p string) string {
	return volume + "\x00" + p
}

// PathID returns the stable asset ID of path p on the named volume, so that
// index records stay attached to an asset across restarts.
func PathID(volume, p string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(pathKey(volume, p))).String()
}

// Register adds or replaces an asset. An empty ID is taken from the path's
// current registration, or derived with PathID.
func (c *Catalog) Register(a *Asset) (*Asset, error) {
	a, _, err := c.Replace(a)
	return a, err
}

// Replace registers a like Register and reports whether it replaced an entry
// whose derived images no longer apply: one at another path or with other
// dimensions or focal point.
func (c *Catalog) Replace(a *Asset) (registered *Asset, changed bool, err error) {
	if a.Volume == nil {
		return nil, false, common.ErrVolumeRequired
	}
	if err := common.ValidatePath(a.Path()); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pk := pathKey(a.VolumeName, a.Path())
	if a.ID == "" {
		if existing, ok := c.byPath[pk]; ok {
			a.ID = existing
		} else {
			a.ID = PathID(a.VolumeName, a.Path())
		}
	}
	if old, ok := c.byID[a.ID]; ok {
		delete(c.byPath, pathKey(old.VolumeName, old.Path()))
		changed = !sameSource(old, a)
	}
	c.byID[a.ID] = a
	c.byPath[pk] = a.ID
	return a, changed, nil
}

func sameSource(a, b *Asset) bool {
	if a.VolumeName != b.VolumeName || a.Path() != b.Path() ||
		a.Width != b.Width || a.Height != b.Height {
		return false
	}
	if a.FocalPoint == nil || b.FocalPoint == nil {
		return a.FocalPoint == b.FocalPoint
	}
	return *a.FocalPoint == *b.FocalPoint
}

// Get returns the asset with the given ID.
func (c *Catalog) Get(ctx context.Context, id string) (*Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrAssetNotFound, id)
	}
	return a, nil
}

// FindByPath returns the asset registered at p on the named volume.
func (c *Catalog) FindByPath(volume, p string) (*Asset, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byPath[pathKey(volume, p)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrAssetNotFound, p)
	}
	return c.byID[id], nil
}

// Remove drops an asset from the catalog. Removing an unknown ID is a no-op.
func (c *Catalog) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.byID[id]; ok {
		delete(c.byPath, pathKey(a.VolumeName, a.Path()))
		delete(c.byID, id)
	}
}

// List returns all assets sorted by path.
func (c *Catalog) List() []*Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Asset, 0, len(c.byID))
	for _, a := range c.byID {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path() < out[j].Path() })
	return out
}

// Probe builds an Asset for the file at p, reading its pixel dimensions from
// the image header. Files that are not raster images are returned without
// dimensions.
func Probe(ctx context.Context, vol common.Volume, volumeName, p string) (*Asset, error) {
	dir, file := path.Split(p)
	a := &Asset{
		Volume:     vol,
		VolumeName: volumeName,
		Folder:     path.Clean(dir),
		Filename:   file,
	}
	if a.Folder == "." {
		a.Folder = ""
	}

	exists, err := vol.Exists(ctx, p)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", common.ErrKeyNotFound, p)
	}
	if !transform.CanManipulate(a.Extension()) || transform.IsVector(a.Extension()) {
		return a, nil
	}

	rc, err := vol.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	cfg, _, err := image.DecodeConfig(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", common.ErrSourceUnreadable, p, err)
	}
	a.Width, a.Height = cfg.Width, cfg.Height
	return a, nil
}

// Scan probes every image under prefix on vol and registers it. Hidden
// entries and derived folders (leading "_") are skipped. Files that cannot
// be probed are reported through skip and left out.
func Scan(ctx context.Context, c *Catalog, vol common.Volume, volumeName, prefix string,
	skip func(p string, err error)) (int, error) {
	paths, err := vol.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range paths {
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		default:
		}
		if derivedOrHidden(p) || !transform.CanManipulate(strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))) {
			continue
		}
		a, err := Probe(ctx, vol, volumeName, p)
		if err == nil {
			_, err = c.Register(a)
		}
		if err != nil {
			if skip != nil {
				skip(p, err)
			}
			continue
		}
		n++
	}
	return n, nil
}

func derivedOrHidden(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, "_") || strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
