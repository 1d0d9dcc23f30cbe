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

package cli

import "errors"

var (
	// Configuration errors

	// ErrVolumePathRequired is returned when volume-path is required but not set.
	ErrVolumePathRequired = errors.New("volume-path is required for local volumes")

	// ErrVolumeBucketRequired is returned when volume-bucket is required but not set.
	ErrVolumeBucketRequired = errors.New("volume-bucket is required")

	// ErrVolumeRegionRequired is returned when volume-region is required but not set.
	ErrVolumeRegionRequired = errors.New("volume-region is required")

	// ErrVolumeURLRequired is returned when volume-url is required but not set.
	ErrVolumeURLRequired = errors.New("volume-url is required")

	// ErrVolumeAccountRequired is returned when Azure credentials are incomplete.
	ErrVolumeAccountRequired = errors.New("volume-account and volume-key are required")

	// ErrUnsupportedVolume is returned when an unsupported volume type is specified.
	ErrUnsupportedVolume = errors.New("unsupported volume type")

	// ErrUnsupportedIndexDriver is returned for an unknown index-driver.
	ErrUnsupportedIndexDriver = errors.New("unsupported index driver")

	// ErrIndexPathRequired is returned when the leveldb driver has no index-path.
	ErrIndexPathRequired = errors.New("index-path is required for the leveldb index")

	// ErrIndexDSNRequired is returned when the postgres driver has no index-dsn.
	ErrIndexDSNRequired = errors.New("index-dsn is required for the postgres index")

	// ErrUnsupportedOutputFormat is returned when an unsupported output format is specified.
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")

	// ErrUnsupportedLogger is returned for an unknown logger backend.
	ErrUnsupportedLogger = errors.New("unsupported logger")

	// ErrInvalidMaxDimension is returned when the dimension limit is negative.
	ErrInvalidMaxDimension = errors.New("max-dimension must not be negative")

	// ErrNoTransform is returned when a command needs at least one transform.
	ErrNoTransform = errors.New("no transform given")
)
