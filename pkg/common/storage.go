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

package common

import (
	"context"
	"io"
	"time"
)

// Volume is the common interface for all storage backends that hold source
// assets and their derived transforms.
//
// Implementations report missing paths with an error wrapping ErrKeyNotFound.
// Callers must treat "vanished between check and use" as a normal race and
// re-check rather than trust any cached state.
type Volume interface {
	// Configure sets up the backend with the necessary credentials and settings.
	Configure(settings map[string]string) error

	// Exists reports whether a file exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Put writes the contents of data to path, replacing any existing file.
	Put(ctx context.Context, path string, data io.Reader) error

	// Get opens the file at path for reading.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the file at path.
	Delete(ctx context.Context, path string) error

	// Copy duplicates the file at from to to within the same volume.
	Copy(ctx context.Context, from, to string) error

	// LastModified returns the modification time of the file at path.
	LastModified(ctx context.Context, path string) (time.Time, error)

	// List returns the paths that start with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Closer is implemented by volumes holding resources (clients, handles)
// that must be released.
type Closer interface {
	Close() error
}
