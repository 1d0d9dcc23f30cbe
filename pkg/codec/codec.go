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

// Package codec loads, resizes, and encodes images.
package codec

import (
	"fmt"
	"image"
	"io"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// DefaultQuality is used for lossy formats when a transform sets none.
const DefaultQuality = 82

// EncodeOptions controls output encoding.
type EncodeOptions struct {
	Quality   int
	Interlace transform.Interlace
}

// Codec is an image backend.
type Codec interface {
	// Name identifies the backend in logs.
	Name() string
	// SupportsFormat reports whether the backend can encode format.
	SupportsFormat(format string) bool
	// SupportsQuality reports whether format has lossy quality control.
	SupportsQuality(format string) bool
	// SupportsInterlace reports whether format can be written interlaced.
	SupportsInterlace(format string) bool
	// Load decodes a source image. Vector formats are rasterized so that
	// their longer side is rasterSize pixels; zero means natural size.
	Load(r io.Reader, format string, rasterSize int) (image.Image, error)
	// Encode writes img in the given format.
	Encode(w io.Writer, img image.Image, format string, opts EncodeOptions) error
}

// UnsupportedFormat builds the error returned when a backend cannot encode
// format.
func UnsupportedFormat(backend, format string) error {
	return fmt.Errorf("%w: %s cannot encode %q", common.ErrUnsupportedFormat, backend, format)
}
