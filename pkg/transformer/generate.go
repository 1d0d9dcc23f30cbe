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

package transformer

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/codec"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Generate brings the derived file of r up to date. It is a no-op for files
// that cannot be manipulated as images and for derived files modified at or
// after the record's parameter change. Otherwise an equivalent completed
// transform of the same asset is copied, or the image is generated.
//
// Codec work is not interrupted by ctx cancellation.
func (t *Transformer) Generate(ctx context.Context, a *asset.Asset, r *index.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ext := a.Extension()
	if !transform.CanManipulate(ext) {
		t.logger.Debug(ctx, "asset cannot be manipulated, skipping",
			adapters.Field{Key: "asset", Value: a.ID},
			adapters.Field{Key: "extension", Value: ext})
		return nil
	}

	format := transform.ResolveFormat(r.Params, ext)
	if !t.codec.SupportsFormat(format) {
		return &UnsupportedFormatError{Format: format, Backend: t.codec.Name()}
	}

	filename := a.Basename() + "." + format
	if r.Filename != "" && r.Filename != filename {
		t.deleteDerived(ctx, a, DerivedPath(a, r.Location, r.Filename))
	}
	r.Format = format
	r.Filename = filename
	target := DerivedPath(a, r.Location, filename)

	exists, fresh, err := t.freshness(ctx, a.Volume, target, r)
	if err != nil {
		return err
	}
	if fresh {
		t.logger.Debug(ctx, "derived file up to date", adapters.Field{Key: "path", Value: target})
		if r.FileExists {
			return nil
		}
		return t.index.MarkFileExists(ctx, r, true)
	}
	if exists {
		t.deleteDerived(ctx, a, target)
	}

	copied, err := t.copyEquivalent(ctx, a, r, target)
	if err != nil || copied {
		return err
	}

	return t.generate(ctx, a, r, target)
}

// freshness stats target. It is fresh when it was modified no earlier than
// the record's last parameter change less the clock tolerance.
func (t *Transformer) freshness(ctx context.Context, vol common.Volume, target string, r *index.Record) (exists, fresh bool, err error) {
	modified, err := vol.LastModified(ctx, target)
	if common.IsNotFound(err) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, !modified.Before(r.DateParametersChanged.Add(-t.config.ClockTolerance)), nil
}

// copyEquivalent copies a completed equivalent transform of the same asset
// to target. It reports false when there is nothing usable to copy.
func (t *Transformer) copyEquivalent(ctx context.Context, a *asset.Asset, r *index.Record, target string) (bool, error) {
	eq, err := t.index.FindEquivalent(ctx, a.ID, r.Key, r.Format, r.ID)
	if err != nil {
		return false, err
	}
	if eq == nil {
		return false, nil
	}

	from := DerivedPath(a, eq.Location, eq.Filename)
	fields := []adapters.Field{
		{Key: "asset", Value: a.ID},
		{Key: "from", Value: from},
		{Key: "to", Value: target},
	}

	// A concurrent request may have committed target since it was checked.
	if _, fresh, err := t.freshness(ctx, a.Volume, target, r); err == nil && fresh {
		t.logger.Debug(ctx, "copy target already present", fields...)
		return true, t.complete(ctx, r, eq.Checksum)
	}

	if err := a.Volume.Copy(ctx, from, target); err != nil {
		if _, fresh, serr := t.freshness(ctx, a.Volume, target, r); serr == nil && fresh {
			t.logger.Debug(ctx, "copy target written concurrently", fields...)
			return true, t.complete(ctx, r, eq.Checksum)
		}
		if common.IsNotFound(err) {
			t.logger.Info(ctx, "equivalent transform file missing", fields...)
			if err := t.index.MarkFileExists(ctx, eq, false); err != nil {
				return false, err
			}
			return false, nil
		}
		t.logger.Warn(ctx, "equivalent transform copy failed, generating", append(fields, adapters.ErrField(err))...)
		return false, nil
	}

	t.logger.Info(ctx, "copied equivalent transform", fields...)
	return true, t.complete(ctx, r, eq.Checksum)
}

// complete marks r as finished with a committed file.
func (t *Transformer) complete(ctx context.Context, r *index.Record, checksum string) error {
	r.InProgress = false
	r.Error = false
	r.FileExists = true
	r.DateCompleted = t.now()
	r.Checksum = checksum
	return t.index.Update(ctx, r)
}

// fail clears the in-progress flag after a failed generation. The file
// flag stays false so the next request retries.
func (t *Transformer) fail(ctx context.Context, r *index.Record) {
	r.InProgress = false
	r.Error = true
	r.FileExists = false
	if err := t.index.Update(ctx, r); err != nil {
		t.logger.Error(ctx, "failed to record generation failure",
			adapters.Field{Key: "record", Value: r.ID}, adapters.ErrField(err))
	}
}

// heartbeat persists a copy of r every interval until the returned stop
// function is called. stop returns the last persisted update time.
func (t *Transformer) heartbeat(ctx context.Context, r *index.Record) (stop func() time.Time) {
	hbCtx, cancel := context.WithCancel(ctx)
	beat := r.Clone()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(t.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := t.index.Update(hbCtx, beat); err != nil {
					t.logger.Warn(hbCtx, "heartbeat failed",
						adapters.Field{Key: "record", Value: beat.ID}, adapters.ErrField(err))
				}
			}
		}
	}()

	return func() time.Time {
		cancel()
		wg.Wait()
		return beat.DateUpdated
	}
}

// generate runs the codec and commits the result: load, transform, encode to
// a temp file, run commit hooks, then stream into the volume.
func (t *Transformer) generate(ctx context.Context, a *asset.Asset, r *index.Record, target string) (err error) {
	r.InProgress = true
	r.Error = false
	r.FileExists = false
	if err := t.index.Update(ctx, r); err != nil {
		return err
	}

	stop := t.heartbeat(ctx, r)
	stopped := false
	stopHeartbeat := func() {
		if !stopped {
			stopped = true
			if last := stop(); last.After(r.DateUpdated) {
				r.DateUpdated = last
			}
		}
	}
	defer func() {
		stopHeartbeat()
		if err != nil {
			t.fail(ctx, r)
		}
	}()

	started := time.Now()
	tmpPath, err := t.render(ctx, a, r)
	if tmpPath != "" {
		defer func() {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				t.logger.Warn(ctx, "failed to remove temp file",
					adapters.Field{Key: "path", Value: tmpPath}, adapters.ErrField(rmErr))
			}
		}()
	}
	if err != nil {
		return err
	}

	ev := &CommitEvent{Asset: a, Record: r, Target: target, TempPath: tmpPath}
	for _, hook := range t.config.Hooks {
		if err := hook(ctx, ev); err != nil {
			return err
		}
	}

	stopHeartbeat()

	checksum, err := t.commit(ctx, a.Volume, ev.TempPath, target)
	if err != nil {
		t.logger.Error(ctx, "failed to write derived file",
			adapters.Field{Key: "asset", Value: a.ID},
			adapters.Field{Key: "path", Value: target},
			adapters.ErrField(err))
		return err
	}

	t.logger.Info(ctx, "generated transform",
		adapters.Field{Key: "asset", Value: a.ID},
		adapters.Field{Key: "path", Value: target},
		adapters.Field{Key: "backend", Value: t.codec.Name()},
		adapters.Field{Key: "duration", Value: time.Since(started).String()})
	return t.complete(ctx, r, checksum)
}

// render loads the source, applies the transform and encodes it to a new
// temp file. The temp path is returned whenever the file was created.
func (t *Transformer) render(ctx context.Context, a *asset.Asset, r *index.Record) (string, error) {
	ext := a.Extension()
	p := r.Params

	rasterSize := 0
	if transform.IsVector(ext) && r.Format != transform.NormalizeFormat(ext) {
		rasterSize = max(p.Width, p.Height)
	}

	src, err := a.Volume.Get(ctx, a.Path())
	if err != nil {
		return "", &SourceUnreadableError{AssetID: a.ID, Path: a.Path(), Err: err}
	}
	img, err := t.codec.Load(src, ext, rasterSize)
	_ = src.Close()
	if err != nil {
		return "", &SourceUnreadableError{AssetID: a.ID, Path: a.Path(), Err: err}
	}

	out := codec.Apply(img, p, a.FocalPoint, upscaleOf(p, t.config.AllowUpscale))

	var opts codec.EncodeOptions
	if t.codec.SupportsQuality(r.Format) {
		opts.Quality = p.Quality
	}
	if t.codec.SupportsInterlace(r.Format) {
		opts.Interlace = p.Interlace
	}

	tmp, err := os.CreateTemp(t.config.TempDir, "imgtransform-*."+r.Format)
	if err != nil {
		return "", err
	}
	if err := t.codec.Encode(tmp, out, r.Format, opts); err != nil {
		_ = tmp.Close()
		return tmp.Name(), err
	}
	return tmp.Name(), tmp.Close()
}

// commit streams the file at tmpPath into the volume and returns its blake3
// checksum.
func (t *Transformer) commit(ctx context.Context, vol common.Volume, tmpPath, target string) (string, error) {
	f, err := os.Open(tmpPath)
	if err != nil {
		return "", &StorageWriteError{Path: target, Err: err}
	}
	defer func() { _ = f.Close() }()

	h := blake3.New()
	if err := vol.Put(ctx, target, io.TeeReader(f, h)); err != nil {
		return "", &StorageWriteError{Path: target, Err: err}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
