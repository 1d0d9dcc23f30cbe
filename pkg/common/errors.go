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
	"errors"
	"os"
)

var (
	// Configuration errors

	// ErrNotConfigured is returned when a volume is used before Configure.
	ErrNotConfigured = errors.New("not configured")

	// ErrPathNotSet is returned when the required path is not set.
	ErrPathNotSet = errors.New("path not set")

	// ErrBucketNotSet is returned when the required bucket is not set.
	ErrBucketNotSet = errors.New("bucket not set")

	// ErrAccountNotSet is returned when required account credentials are not set.
	ErrAccountNotSet = errors.New("accountName, accountKey, or containerName not set")

	// ErrRegionNotSet is returned when the required region is not set.
	ErrRegionNotSet = errors.New("region not set")

	// ErrEndpointNotSet is returned when the required endpoint is not set.
	ErrEndpointNotSet = errors.New("endpoint not set")

	// Volume operation errors

	// ErrVolumeRequired is returned when a volume is required but not provided.
	ErrVolumeRequired = errors.New("volume is required")

	// ErrKeyNotFound is returned when a path is not found on a volume.
	ErrKeyNotFound = errors.New("key not found")

	// Transform pipeline errors

	// ErrUnsupportedFormat is returned when the active image backend cannot
	// write the requested output format.
	ErrUnsupportedFormat = errors.New("unsupported output format")

	// ErrIndexPersistence is returned when a transform index record could not
	// be read or written.
	ErrIndexPersistence = errors.New("transform index persistence failed")

	// ErrSourceUnreadable is returned when the source asset bytes could not be
	// loaded from its volume.
	ErrSourceUnreadable = errors.New("source asset unreadable")

	// ErrStorageWrite is returned when a derived file could not be committed.
	ErrStorageWrite = errors.New("derived file write failed")

	// ErrAssetNotFound is returned when an asset id is unknown.
	ErrAssetNotFound = errors.New("asset not found")

	// ErrVolumeNotFound is returned when an asset references an unknown volume.
	ErrVolumeNotFound = errors.New("volume not found")
)

// IsNotFound reports whether err means the path does not exist on the volume.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, os.ErrNotExist)
}
