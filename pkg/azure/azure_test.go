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

package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

var _ common.Volume = (*Azure)(nil)

type mockContainer struct {
	blobs   map[string][]byte
	mtimes  map[string]time.Time
	listErr error
}

type mockBlob struct {
	c    *mockContainer
	name string
}

func newMockContainer() *mockContainer {
	return &mockContainer{blobs: map[string][]byte{}, mtimes: map[string]time.Time{}}
}

func (m *mockContainer) NewBlockBlob(name string) BlobAPI { return mockBlob{c: m, name: name} }

func (m *mockContainer) ListBlobsFlat(_ context.Context, prefix string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var names []string
	for n := range m.blobs {
		if strings.HasPrefix(n, prefix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (b mockBlob) notFound() error {
	return fmt.Errorf("%w: %s", common.ErrKeyNotFound, b.name)
}

func (b mockBlob) UploadFromReader(_ context.Context, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.c.blobs[b.name] = data
	b.c.mtimes[b.name] = time.Now()
	return nil
}

func (b mockBlob) NewReader(context.Context) (io.ReadCloser, error) {
	data, ok := b.c.blobs[b.name]
	if !ok {
		return nil, b.notFound()
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b mockBlob) Delete(context.Context) error {
	if _, ok := b.c.blobs[b.name]; !ok {
		return b.notFound()
	}
	delete(b.c.blobs, b.name)
	return nil
}

func (b mockBlob) LastModified(context.Context) (time.Time, error) {
	if _, ok := b.c.blobs[b.name]; !ok {
		return time.Time{}, b.notFound()
	}
	return b.c.mtimes[b.name], nil
}

func TestConfigure(t *testing.T) {
	a := New()
	assert.ErrorIs(t, a.Configure(map[string]string{"accountName": "acct"}), common.ErrAccountNotSet)

	_, err := a.Exists(context.Background(), "a.jpg")
	assert.ErrorIs(t, err, common.ErrNotConfigured)

	require.NoError(t, a.Configure(map[string]string{
		"accountName":   "devstoreaccount1",
		"accountKey":    "a2V5MTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5MDEyMzQ1Njc4OTA=",
		"containerName": "assets",
		"endpoint":      "http://127.0.0.1:10000/devstoreaccount1/",
	}))
	cw, ok := a.container.(containerWrapper)
	require.True(t, ok)
	u := cw.ContainerURL.URL()
	assert.Equal(t, "/devstoreaccount1/assets", u.Path)

	assert.Error(t, New().Configure(map[string]string{
		"accountName": "acct", "accountKey": "not base64!", "containerName": "c",
	}))
}

func TestVolumeOperations(t *testing.T) {
	ctx := context.Background()
	mc := newMockContainer()
	a := &Azure{container: mc}
	require.NoError(t, a.Configure(map[string]string{"prefix": "site"}))

	exists, err := a.Exists(ctx, "a/photo.jpg")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, a.Put(ctx, "a/photo.jpg", strings.NewReader("pixels")))
	assert.Contains(t, mc.blobs, "site/a/photo.jpg")

	exists, err = a.Exists(ctx, "a/photo.jpg")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, a.Copy(ctx, "a/photo.jpg", "a/_k/photo.jpg"))
	rc, err := a.Get(ctx, "a/_k/photo.jpg")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "pixels", string(data))

	mt, err := a.LastModified(ctx, "a/photo.jpg")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), mt, time.Minute)

	paths, err := a.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/_k/photo.jpg", "a/photo.jpg"}, paths)

	require.NoError(t, a.Delete(ctx, "a/photo.jpg"))
	assert.True(t, errors.Is(a.Delete(ctx, "a/photo.jpg"), common.ErrKeyNotFound))
	_, err = a.Get(ctx, "a/photo.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))
	_, err = a.LastModified(ctx, "a/photo.jpg")
	assert.True(t, errors.Is(err, common.ErrKeyNotFound))

	mc.listErr = errors.New("throttled")
	_, err = a.List(ctx, "")
	assert.EqualError(t, err, "throttled")
}

func TestWrappers(t *testing.T) {
	// Stub wrapper functions to avoid network
	oldUp, oldDn, oldDel, oldProps, oldList := azureUploadFn, azureDownloadFn, azureDeleteFn, azureGetPropertiesFn, azureListFn
	defer func() {
		azureUploadFn, azureDownloadFn, azureDeleteFn, azureGetPropertiesFn, azureListFn = oldUp, oldDn, oldDel, oldProps, oldList
	}()
	stamp := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	azureUploadFn = func(_ context.Context, _ io.Reader, _ azblob.BlockBlobURL) error { return nil }
	azureDownloadFn = func(_ context.Context, _ azblob.BlockBlobURL) (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewBufferString("ok")), nil
	}
	azureDeleteFn = func(_ context.Context, _ azblob.BlockBlobURL) error { return nil }
	azureGetPropertiesFn = func(_ context.Context, _ azblob.BlockBlobURL) (time.Time, error) { return stamp, nil }
	azureListFn = func(_ context.Context, _ azblob.ContainerURL, _ string) ([]string, error) {
		return []string{"file1.jpg", "file2.jpg"}, nil
	}

	ctx := context.Background()
	u, _ := url.Parse("http://127.0.0.1:1/container")
	cw := containerWrapper{azblob.NewContainerURL(*u, azblob.NewPipeline(azblob.NewAnonymousCredential(), azblob.PipelineOptions{}))}
	bw := cw.NewBlockBlob("k")

	require.NoError(t, bw.UploadFromReader(ctx, bytes.NewBufferString("d")))
	rc, err := bw.NewReader(ctx)
	require.NoError(t, err)
	_ = rc.Close()
	require.NoError(t, bw.Delete(ctx))
	mt, err := bw.LastModified(ctx)
	require.NoError(t, err)
	assert.Equal(t, stamp, mt)

	keys, err := cw.ListBlobsFlat(ctx, "")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
