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

// Package transformer resolves transform requests to derived-file URLs,
// generating, copying or reusing derived images as needed.
package transformer

import (
	"context"
	"errors"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/codec"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// DefaultHeartbeatInterval is how often an in-progress record is persisted
// while its image is being generated.
const DefaultHeartbeatInterval = 3 * time.Second

// DefaultClockTolerance covers volumes that store modification times at
// second precision and small drift between the index and volume clocks.
const DefaultClockTolerance = 2 * time.Second

var (
	// ErrAssetsRequired is returned by New without an asset provider.
	ErrAssetsRequired = errors.New("asset provider is required")

	// ErrIndexRequired is returned by New without an index store.
	ErrIndexRequired = errors.New("index store is required")

	// ErrCodecRequired is returned by New without an image codec.
	ErrCodecRequired = errors.New("image codec is required")
)

// CommitEvent is passed to commit hooks after a derived image has been
// encoded to TempPath and before it is written to the volume. A hook may
// rewrite the file or point TempPath at a replacement; replacements are not
// removed by the transformer.
type CommitEvent struct {
	Asset    *asset.Asset
	Record   *index.Record
	Target   string
	TempPath string
}

// CommitHook inspects or substitutes a derived image before commit. An error
// aborts the generation.
type CommitHook func(ctx context.Context, ev *CommitEvent) error

// Config holds transformer settings.
type Config struct {
	// AllowUpscale is the global upscale policy. Parameters.Upscale
	// overrides it per transform.
	AllowUpscale bool

	// HeartbeatInterval is the cadence of liveness writes during
	// generation (default: 3s).
	HeartbeatInterval time.Duration

	// ClockTolerance is how far a derived file's modification time may
	// trail the last parameter change and still count as fresh
	// (default: 2s).
	ClockTolerance time.Duration

	// TempDir holds encoded images before commit (default: os.TempDir()).
	TempDir string

	// URLs builds public URLs. Without it, URLs are volume-relative paths.
	URLs URLBuilder

	// Hooks run before every commit, in order.
	Hooks []CommitHook

	// Logger for transformer events (default: adapters.NewDefaultLogger()).
	Logger adapters.Logger
}

// DefaultConfig returns the default settings.
func DefaultConfig() *Config {
	return &Config{
		AllowUpscale:      true,
		HeartbeatInterval: DefaultHeartbeatInterval,
		ClockTolerance:    DefaultClockTolerance,
	}
}

// Transformer resolves transform requests against an index and the assets'
// volumes.
type Transformer struct {
	assets asset.Provider
	index  index.Store
	codec  codec.Codec
	config *Config
	logger adapters.Logger
	now    func() time.Time
}

// New creates a Transformer.
func New(assets asset.Provider, store index.Store, c codec.Codec, config *Config) (*Transformer, error) {
	if assets == nil {
		return nil, ErrAssetsRequired
	}
	if store == nil {
		return nil, ErrIndexRequired
	}
	if c == nil {
		return nil, ErrCodecRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.ClockTolerance <= 0 {
		config.ClockTolerance = DefaultClockTolerance
	}
	if config.Logger == nil {
		config.Logger = adapters.NewDefaultLogger()
	}
	return &Transformer{
		assets: assets,
		index:  store,
		codec:  c,
		config: config,
		logger: config.Logger,
		now:    time.Now,
	}, nil
}

// SetClock replaces the time source used for record timestamps.
func (t *Transformer) SetClock(now func() time.Time) {
	t.now = now
}

// Index returns the underlying index store.
func (t *Transformer) Index() index.Store {
	return t.index
}

// Result is a resolved transform.
type Result struct {
	URL    string
	Path   string
	Format string
	// Record is nil when the asset cannot be manipulated and the source URL
	// is returned instead.
	Record *index.Record
}

// GetURL returns the public URL of the derived image for params, generating
// it if needed.
func (t *Transformer) GetURL(ctx context.Context, assetID string, params transform.Parameters) (string, error) {
	res, err := t.Resolve(ctx, assetID, params)
	if err != nil {
		return "", err
	}
	return res.URL, nil
}

// Resolve normalizes params for the asset, finds or creates its index record,
// heals a FileExists flag whose file has vanished, and generates the derived
// image when it does not exist.
func (t *Transformer) Resolve(ctx context.Context, assetID string, params transform.Parameters) (*Result, error) {
	a, err := t.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	ext := a.Extension()
	if !transform.CanManipulate(ext) {
		return t.result(a, a.Path(), ext, nil)
	}

	p := transform.Normalize(params, a.FocalPoint)
	format := transform.ResolveFormat(p, ext)
	if !t.codec.SupportsFormat(format) {
		return nil, &UnsupportedFormatError{Format: format, Backend: t.codec.Name()}
	}

	r, created, err := t.index.GetOrCreate(ctx, a.ID, p)
	if err != nil {
		return nil, err
	}
	if !created {
		if err := t.refreshParams(ctx, a, r, p, ext); err != nil {
			return nil, err
		}
	}

	if r.FileExists {
		if err := t.heal(ctx, a, r); err != nil {
			return nil, err
		}
	}
	if !r.FileExists {
		if err := t.Generate(ctx, a, r); err != nil {
			return nil, err
		}
	}

	return t.result(a, DerivedPath(a, r.Location, r.Filename), r.Format, r)
}

func (t *Transformer) result(a *asset.Asset, p, format string, r *index.Record) (*Result, error) {
	res := &Result{Path: p, Format: format, Record: r}
	if t.config.URLs == nil {
		res.URL = p
		return res, nil
	}
	u, err := t.config.URLs.URL(a.VolumeName, p)
	if err != nil {
		return nil, err
	}
	res.URL = u
	return res, nil
}

func upscaleOf(p transform.Parameters, global bool) bool {
	if p.Upscale != nil {
		return *p.Upscale
	}
	return global
}

func sameParams(a, b transform.Parameters) bool {
	if (a.Upscale == nil) != (b.Upscale == nil) {
		return false
	}
	if a.Upscale != nil && *a.Upscale != *b.Upscale {
		return false
	}
	a.Upscale, b.Upscale = nil, nil
	return a == b
}

// refreshParams stores p on an existing record whose location was requested
// with different parameters. Pixel-affecting changes mark the derived file
// stale and remove the old file. A quality change alone does not.
func (t *Transformer) refreshParams(ctx context.Context, a *asset.Asset, r *index.Record, p transform.Parameters, ext string) error {
	if sameParams(r.Params, p) {
		return nil
	}
	pixels := r.Key != p.Key() ||
		transform.ResolveFormat(r.Params, ext) != transform.ResolveFormat(p, ext) ||
		upscaleOf(r.Params, t.config.AllowUpscale) != upscaleOf(p, t.config.AllowUpscale)

	if pixels && r.Filename != "" {
		t.deleteDerived(ctx, a, DerivedPath(a, r.Location, r.Filename))
	}
	r.Params = p
	r.Key = p.Key()
	if pixels {
		r.DateParametersChanged = t.now()
		r.FileExists = false
	}
	t.logger.Debug(ctx, "transform parameters changed",
		adapters.Field{Key: "record", Value: r.ID},
		adapters.Field{Key: "location", Value: r.Location},
		adapters.Field{Key: "regenerate", Value: pixels})
	return t.index.Update(ctx, r)
}

// heal clears FileExists when the derived file is no longer on the volume,
// and drops it in memory when the file predates the last parameter change so
// the caller regenerates.
func (t *Transformer) heal(ctx context.Context, a *asset.Asset, r *index.Record) error {
	target := DerivedPath(a, r.Location, r.Filename)
	exists, fresh, err := t.freshness(ctx, a.Volume, target, r)
	if err != nil {
		return err
	}
	fields := []adapters.Field{
		{Key: "asset", Value: a.ID},
		{Key: "path", Value: target},
	}
	switch {
	case !exists:
		t.logger.Info(ctx, "derived file missing, regenerating", fields...)
		return t.index.MarkFileExists(ctx, r, false)
	case !fresh:
		t.logger.Debug(ctx, "derived file stale, regenerating", fields...)
		r.FileExists = false
	}
	return nil
}

// Invalidate removes every derived file and index record of an asset. It
// returns the number of records removed. Unknown assets still have their
// records removed.
func (t *Transformer) Invalidate(ctx context.Context, assetID string) (int, error) {
	records, err := t.index.ListByAsset(ctx, assetID)
	if err != nil {
		return 0, err
	}

	a, err := t.assets.Get(ctx, assetID)
	switch {
	case err == nil:
		for _, r := range records {
			if r.Filename == "" {
				continue
			}
			t.deleteDerived(ctx, a, DerivedPath(a, r.Location, r.Filename))
		}
	case errors.Is(err, common.ErrAssetNotFound):
		t.logger.Debug(ctx, "invalidating records of unknown asset",
			adapters.Field{Key: "asset", Value: assetID})
	default:
		return 0, err
	}

	n, err := t.index.DeleteByAsset(ctx, assetID)
	if err != nil {
		return 0, err
	}
	t.logger.Info(ctx, "asset transforms invalidated",
		adapters.Field{Key: "asset", Value: assetID},
		adapters.Field{Key: "records", Value: n})
	return n, nil
}

// deleteDerived removes p, treating a file that is already gone as success.
func (t *Transformer) deleteDerived(ctx context.Context, a *asset.Asset, p string) {
	err := a.Volume.Delete(ctx, p)
	switch {
	case err == nil:
	case common.IsNotFound(err):
		t.logger.Debug(ctx, "derived file already removed", adapters.Field{Key: "path", Value: p})
	default:
		t.logger.Warn(ctx, "failed to delete derived file",
			adapters.Field{Key: "path", Value: p}, adapters.ErrField(err))
	}
}

// ReindexResult summarizes a Reindex run.
type ReindexResult struct {
	Checked int `json:"checked"`
	Fixed   int `json:"fixed"`
}

// Reindex re-stats every derived file of an asset and corrects FileExists
// flags that disagree with the volume.
func (t *Transformer) Reindex(ctx context.Context, assetID string) (*ReindexResult, error) {
	a, err := t.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	records, err := t.index.ListByAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	res := &ReindexResult{}
	for _, r := range records {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		res.Checked++
		exists := false
		if r.Filename != "" {
			exists, err = a.Volume.Exists(ctx, DerivedPath(a, r.Location, r.Filename))
			if err != nil {
				return res, err
			}
		}
		if exists == r.FileExists {
			continue
		}
		if err := t.index.MarkFileExists(ctx, r, exists); err != nil {
			return res, err
		}
		res.Fixed++
	}
	return res, nil
}
