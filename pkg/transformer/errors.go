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
	"fmt"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// UnsupportedFormatError is returned when the image backend cannot write the
// requested output format.
type UnsupportedFormatError struct {
	Format  string
	Backend string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: %q is not supported by the %s backend", common.ErrUnsupportedFormat, e.Format, e.Backend)
}

// Unwrap returns common.ErrUnsupportedFormat.
func (e *UnsupportedFormatError) Unwrap() error {
	return common.ErrUnsupportedFormat
}

// SourceUnreadableError is returned when the source asset could not be
// opened or decoded.
type SourceUnreadableError struct {
	AssetID string
	Path    string
	Err     error
}

func (e *SourceUnreadableError) Error() string {
	return fmt.Sprintf("%s: asset %s (%s): %v", common.ErrSourceUnreadable, e.AssetID, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *SourceUnreadableError) Unwrap() []error {
	return []error{common.ErrSourceUnreadable, e.Err}
}

// StorageWriteError is returned when a derived file could not be committed
// to its volume. The record keeps FileExists=false, so the next request
// retries.
type StorageWriteError struct {
	Path string
	Err  error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", common.ErrStorageWrite, e.Path, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *StorageWriteError) Unwrap() []error {
	return []error{common.ErrStorageWrite, e.Err}
}
