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
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-storage-blob-go/azblob"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// Small internal interfaces for testability without network.
type BlobAPI interface {
	UploadFromReader(ctx context.Context, r io.Reader) error
	NewReader(ctx context.Context) (io.ReadCloser, error)
	Delete(ctx context.Context) error
	LastModified(ctx context.Context) (time.Time, error)
}

type ContainerAPI interface {
	NewBlockBlob(name string) BlobAPI
	ListBlobsFlat(ctx context.Context, prefix string) ([]string, error)
}

type containerWrapper struct{ azblob.ContainerURL }
type blobWrapper struct{ azblob.BlockBlobURL }

// Function variables to enable unit testing without real network I/O.
var (
	azureUploadFn = func(ctx context.Context, r io.Reader, b azblob.BlockBlobURL) error {
		_, err := azblob.UploadStreamToBlockBlob(ctx, r, b, azblob.UploadStreamToBlockBlobOptions{})
		return err
	}
	azureDownloadFn = func(ctx context.Context, b azblob.BlockBlobURL) (io.ReadCloser, error) {
		resp, err := b.Download(ctx, 0, azblob.CountToEnd, azblob.BlobAccessConditions{}, false, azblob.ClientProvidedKeyOptions{})
		if err != nil {
			return nil, err
		}
		return resp.Body(azblob.RetryReaderOptions{}), nil
	}
	azureDeleteFn = func(ctx context.Context, b azblob.BlockBlobURL) error {
		_, err := b.Delete(ctx, azblob.DeleteSnapshotsOptionNone, azblob.BlobAccessConditions{})
		return err
	}
	azureGetPropertiesFn = func(ctx context.Context, b azblob.BlockBlobURL) (time.Time, error) {
		props, err := b.GetProperties(ctx, azblob.BlobAccessConditions{}, azblob.ClientProvidedKeyOptions{})
		if err != nil {
			return time.Time{}, err
		}
		return props.LastModified(), nil
	}
	azureListFn = func(ctx context.Context, c azblob.ContainerURL, prefix string) ([]string, error) {
		// Pre-allocate with reasonable capacity to reduce allocations
		keys := make([]string, 0, 100)
		marker := azblob.Marker{}

		for marker.NotDone() {
			listBlob, err := c.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
				Prefix: prefix,
			})
			if err != nil {
				return nil, err
			}

			for _, blob := range listBlob.Segment.BlobItems {
				keys = append(keys, blob.Name)
			}

			marker = listBlob.NextMarker
		}

		return keys, nil
	}
)

func (c containerWrapper) NewBlockBlob(name string) BlobAPI {
	return blobWrapper{c.ContainerURL.NewBlockBlobURL(name)}
}

func (c containerWrapper) ListBlobsFlat(ctx context.Context, prefix string) ([]string, error) {
	return azureListFn(ctx, c.ContainerURL, prefix)
}

func (b blobWrapper) UploadFromReader(ctx context.Context, r io.Reader) error {
	return azureUploadFn(ctx, r, b.BlockBlobURL)
}
func (b blobWrapper) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return azureDownloadFn(ctx, b.BlockBlobURL)
}
func (b blobWrapper) Delete(ctx context.Context) error {
	return azureDeleteFn(ctx, b.BlockBlobURL)
}
func (b blobWrapper) LastModified(ctx context.Context) (time.Time, error) {
	return azureGetPropertiesFn(ctx, b.BlockBlobURL)
}

// Azure is a volume that stores files in Azure Blob Storage.
type Azure struct {
	container ContainerAPI
	prefix    string
}

// New creates a new Azure volume.
func New() *Azure {
	return &Azure{}
}

// Configure sets up the backend with the necessary settings.
// Required settings:
//   - accountName: Azure storage account name
//   - accountKey: Azure storage account key
//   - containerName: Azure blob container name
//
// Optional settings:
//   - endpoint: Custom endpoint URL (for Azurite, etc.)
//   - prefix: blob name prefix applied to every path
func (a *Azure) Configure(settings map[string]string) error {
	a.prefix = strings.Trim(settings["prefix"], "/")
	if a.container != nil {
		return nil
	}

	accountName := settings["accountName"]
	accountKey := settings["accountKey"]
	containerName := settings["containerName"]

	if accountName == "" || accountKey == "" || containerName == "" {
		return common.ErrAccountNotSet
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return err
	}

	p := azblob.NewPipeline(credential, azblob.PipelineOptions{})

	var u *url.URL
	if ep := settings["endpoint"]; ep != "" {
		u, err = url.Parse(fmt.Sprintf("%s/%s", strings.TrimRight(ep, "/"), containerName))
	} else {
		u, err = url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net/%s", accountName, containerName))
	}
	if err != nil {
		return err
	}

	a.container = containerWrapper{azblob.NewContainerURL(*u, p)}
	return nil
}

func (a *Azure) blob(path string) (BlobAPI, error) {
	if a.container == nil {
		return nil, common.ErrNotConfigured
	}
	if err := common.ValidatePath(path); err != nil {
		return nil, err
	}
	name := path
	if a.prefix != "" {
		name = a.prefix + "/" + path
	}
	return a.container.NewBlockBlob(name), nil
}

func isNotFound(err error) bool {
	var stgErr azblob.StorageError
	if errors.As(err, &stgErr) {
		if stgErr.ServiceCode() == azblob.ServiceCodeBlobNotFound {
			return true
		}
		if resp := stgErr.Response(); resp != nil && resp.StatusCode == http.StatusNotFound {
			return true
		}
	}
	return errors.Is(err, common.ErrKeyNotFound)
}

func wrapNotFound(err error, path string) error {
	if err != nil && isNotFound(err) {
		return fmt.Errorf("%w: %s", common.ErrKeyNotFound, path)
	}
	return err
}

// Exists reports whether a blob exists at path.
func (a *Azure) Exists(ctx context.Context, path string) (bool, error) {
	b, err := a.blob(path)
	if err != nil {
		return false, err
	}
	if _, err := b.LastModified(ctx); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put stores a blob in the backend.
func (a *Azure) Put(ctx context.Context, path string, data io.Reader) error {
	b, err := a.blob(path)
	if err != nil {
		return err
	}
	return b.UploadFromReader(ctx, data)
}

// Get retrieves a blob from the backend.
func (a *Azure) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b, err := a.blob(path)
	if err != nil {
		return nil, err
	}
	rc, err := b.NewReader(ctx)
	if err != nil {
		return nil, wrapNotFound(err, path)
	}
	return rc, nil
}

// Delete removes a blob from the backend.
func (a *Azure) Delete(ctx context.Context, path string) error {
	b, err := a.blob(path)
	if err != nil {
		return err
	}
	return wrapNotFound(b.Delete(ctx), path)
}

// Copy streams from into to. A server-side copy from URL needs a SAS token
// on the source, which shared-key pipelines do not produce.
func (a *Azure) Copy(ctx context.Context, from, to string) error {
	src, err := a.Get(ctx, from)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()
	return a.Put(ctx, to, src)
}

// LastModified returns the blob's Last-Modified property.
func (a *Azure) LastModified(ctx context.Context, path string) (time.Time, error) {
	b, err := a.blob(path)
	if err != nil {
		return time.Time{}, err
	}
	t, err := b.LastModified(ctx)
	if err != nil {
		return time.Time{}, wrapNotFound(err, path)
	}
	return t, nil
}

// List returns the paths that start with the given prefix.
func (a *Azure) List(ctx context.Context, prefix string) ([]string, error) {
	if a.container == nil {
		return nil, common.ErrNotConfigured
	}
	full := prefix
	if a.prefix != "" {
		full = a.prefix + "/" + prefix
	}
	names, err := a.container.ListBlobsFlat(ctx, full)
	if err != nil {
		return nil, err
	}
	if a.prefix == "" {
		return names, nil
	}
	for i, n := range names {
		names[i] = strings.TrimPrefix(n, a.prefix+"/")
	}
	return names, nil
}
