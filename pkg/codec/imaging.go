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

package codec

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	_ "golang.org/x/image/webp"

	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// maxRasterSide bounds svg rasterization.
const maxRasterSide = 8192

var errEmptyViewBox = errors.New("svg has an empty view box")

var imagingFormats = map[string]imaging.Format{
	"jpg": imaging.JPEG,
	"png": imaging.PNG,
	"gif": imaging.GIF,
	"bmp": imaging.BMP,
	"tif": imaging.TIFF,
}

// Imaging is a pure-Go backend built on disintegration/imaging. It decodes
// webp but has no webp encoder.
type Imaging struct{}

// NewImaging returns the pure-Go backend.
func NewImaging() *Imaging {
	return &Imaging{}
}

// Name implements Codec.
func (c *Imaging) Name() string { return "imaging" }

// SupportsFormat implements Codec.
func (c *Imaging) SupportsFormat(format string) bool {
	_, ok := imagingFormats[transform.NormalizeFormat(format)]
	return ok
}

// SupportsQuality implements Codec.
func (c *Imaging) SupportsQuality(format string) bool {
	return transform.NormalizeFormat(format) == "jpg"
}

// SupportsInterlace implements Codec. The standard library encoders only
// write baseline jpg and non-interlaced png.
func (c *Imaging) SupportsInterlace(string) bool { return false }

// Load implements Codec.
func (c *Imaging) Load(r io.Reader, format string, rasterSize int) (image.Image, error) {
	if transform.IsVector(format) {
		return rasterizeSVG(r, rasterSize)
	}
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// Encode implements Codec.
func (c *Imaging) Encode(w io.Writer, img image.Image, format string, opts EncodeOptions) error {
	f, ok := imagingFormats[transform.NormalizeFormat(format)]
	if !ok {
		return UnsupportedFormat(c.Name(), format)
	}
	var encOpts []imaging.EncodeOption
	if f == imaging.JPEG {
		q := opts.Quality
		if q <= 0 {
			q = DefaultQuality
		}
		encOpts = append(encOpts, imaging.JPEGQuality(q))
	}
	return imaging.Encode(w, img, f, encOpts...)
}

func rasterizeSVG(r io.Reader, size int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(r)
	if err != nil {
		return nil, err
	}
	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		return nil, errEmptyViewBox
	}

	scale := 1.0
	if size > 0 {
		scale = float64(size) / math.Max(vw, vh)
	}
	w, h := round(vw*scale), round(vh*scale)
	if w > maxRasterSide || h > maxRasterSide {
		return nil, fmt.Errorf("svg raster size %dx%d exceeds %d", w, h, maxRasterSide)
	}

	icon.SetTarget(0, 0, float64(w), float64(h))
	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1)
	return rgba, nil
}
