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

package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// Small internal interfaces to enable unit tests without real GCS.
type gcsObject interface {
	NewWriter(ctx context.Context) io.WriteCloser
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Delete(ctx context.Context) error
	Attrs(ctx context.Context) (*storage.ObjectAttrs, error)
	CopyFrom(ctx context.Context, src gcsObject) error
}

type gcsBucket interface {
	Object(name string) gcsObject
	Objects(ctx context.Context, query *storage.Query) gcsIterator
}

type gcsIterator interface {
	Next() (*storage.ObjectAttrs, error)
}

type gcsClient interface {
	Bucket(name string) gcsBucket
}

type clientWrapper struct{ *storage.Client }
type bucketWrapper struct{ *storage.BucketHandle }
type objectWrapper struct{ *storage.ObjectHandle }
type iteratorWrapper struct{ *storage.ObjectIterator }

func (c clientWrapper) Bucket(name string) gcsBucket { return bucketWrapper{c.Client.Bucket(name)} }
func (b bucketWrapper) Object(name string) gcsObject {
	return objectWrapper{b.BucketHandle.Object(name)}
}
func (b bucketWrapper) Objects(ctx context.Context, query *storage.Query) gcsIterator {
	return iteratorWrapper{b.BucketHandle.Objects(ctx, query)}
}
func (i iteratorWrapper) Next() (*storage.ObjectAttrs, error) {
	return i.ObjectIterator.Next()
}

// Function variables to enable unit testing without real network I/O.
var (
	gcsNewWriterFn = func(o *storage.ObjectHandle, ctx context.Context) io.WriteCloser { w := o.NewWriter(ctx); return w }
	gcsNewReaderFn = func(o *storage.ObjectHandle, ctx context.Context) (io.ReadCloser, error) { return o.NewReader(ctx) }
	gcsDeleteFn    = func(o *storage.ObjectHandle, ctx context.Context) error { return o.Delete(ctx) }
	gcsAttrsFn     = func(o *storage.ObjectHandle, ctx context.Context) (*storage.ObjectAttrs, error) { return o.Attrs(ctx) }
	gcsCopyFn      = func(dst, src *storage.ObjectHandle, ctx context.Context) error {
		_, err := dst.CopierFrom(src).Run(ctx)
		return err
	}
)

func (o objectWrapper) NewWriter(ctx context.Context) io.WriteCloser {
	return gcsNewWriterFn(o.ObjectHandle, ctx)
}
func (o objectWrapper) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return gcsNewReaderFn(o.ObjectHandle, ctx)
}
func (o objectWrapper) Delete(ctx context.Context) error { return gcsDeleteFn(o.ObjectHandle, ctx) }
func (o objectWrapper) Attrs(ctx context.Context) (*storage.ObjectAttrs, error) {
	return gcsAttrsFn(o.ObjectHandle, ctx)
}
func (o objectWrapper) CopyFrom(ctx context.Context, src gcsObject) error {
	s, ok := src.(objectWrapper)
	if !ok {
		return fmt.Errorf("gcs: unsupported copy source %T", src)
	}
	return gcsCopyFn(o.ObjectHandle, s.ObjectHandle, ctx)
}

// GCS is a volume that stores files in Google Cloud Storage.
type GCS struct {
	client gcsClient
	bucket string
	prefix string
}

var gcsNewClient = func(ctx context.Context) (*storage.Client, error) { return storage.NewClient(ctx) }

// New creates a new GCS volume.
func New() *GCS {
	return &GCS{}
}

// Configure sets up the backend with the necessary settings.
// Settings:
//   - bucket: the bucket name (required)
//   - prefix: object name prefix applied to every path
func (g *GCS) Configure(settings map[string]string) error {
	g.bucket = settings["bucket"]
	if g.bucket == "" {
		return common.ErrBucketNotSet
	}
	g.prefix = strings.Trim(settings["prefix"], "/")
	if g.client != nil {
		return nil
	}
	// Allow skipping client creation for testing
	if settings["skip_client"] == "true" {
		return nil
	}
	client, err := gcsNewClient(context.Background())
	if err != nil {
		return err
	}
	g.client = clientWrapper{client}
	return nil
}

func (g *GCS) object(path string) (gcsObject, error) {
	if g.client == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidatePath(path); err != nil {
		return nil, err
	}
	name := path
	if g.prefix != "" {
		name = g.prefix + "/" + path
	}
	return g.client.Bucket(g.bucket).Object(name), nil
}

func wrapNotFound(err error, path string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	return err
}

// Exists reports whether an object exists at path.
func (g *GCS) Exists(ctx context.Context, path string) (bool, error) {
	obj, err := g.object(path)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put stores an object in the backend.
func (g *GCS) Put(ctx context.Context, path string, data io.Reader) error {
	obj, err := g.object(path)
	if err != nil {
		return err
	}
	w := obj.NewWriter(ctx)
	if _, err := io.Copy(w, data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Get retrieves an object from the backend.
func (g *GCS) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	obj, err := g.object(path)
	if err != nil {
		return nil, err
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		return nil, wrapNotFound(err, path)
	}
	return rc, nil
}

// Delete removes an object from the backend.
func (g *GCS) Delete(ctx context.Context, path string) error {
	obj, err := g.object(path)
	if err != nil {
		return err
	}
	return wrapNotFound(obj.Delete(ctx), path)
}

// Copy performs a server-side rewrite of from into to.
func (g *GCS) Copy(ctx context.Context, from, to string) error {
	src, err := g.object(from)
	if err != nil {
		return err
	}
	dst, err := g.object(to)
	if err != nil {
		return err
	}
	return wrapNotFound(dst.CopyFrom(ctx, src), from)
}

// LastModified returns the object's update time.
func (g *GCS) LastModified(ctx context.Context, path string) (time.Time, error) {
	obj, err := g.object(path)
	if err != nil {
		return time.Time{}, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return time.Time{}, wrapNotFound(err, path)
	}
	return attrs.Updated, nil
}

// List returns the paths that start with the given prefix.
func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	if g.client == nil {
		return nil, common.ErrNotConfigured
	}
	full := prefix
	if g.prefix != "" {
		full = g.prefix + "/" + prefix
	}

	// Pre-allocate with reasonable capacity to reduce allocations
	paths := make([]string, 0, 100)
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: full})
	for {
		attrs, err := it.Next()
		if err == iterator.Done { //nolint:err113 // iterator.Done is the standard sentinel error for GCS iterators
			break
		}
		if err != nil {
			return nil, err
		}
		name := attrs.Name
		if g.prefix != "" {
			name = strings.TrimPrefix(name, g.prefix+"/")
		}
		paths = append(paths, name)
	}
	return paths, nil
}
