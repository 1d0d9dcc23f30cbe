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
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Size is a pixel size.
type Size struct {
	Width  int
	Height int
}

func round(f float64) int {
	n := int(math.Round(f))
	if n < 1 {
		return 1
	}
	return n
}

// fillAuto derives a zero dimension from the source aspect ratio.
func fillAuto(w, h int, src Size) (int, int) {
	switch {
	case w == 0 && h == 0:
		return src.Width, src.Height
	case w == 0:
		return round(float64(h) * float64(src.Width) / float64(src.Height)), h
	case h == 0:
		return w, round(float64(w) * float64(src.Height) / float64(src.Width))
	}
	return w, h
}

// FitSize scales src to fit inside w x h preserving aspect ratio.
func FitSize(src Size, w, h int, upscale bool) Size {
	if w == 0 && h == 0 {
		return src
	}
	scale := math.Inf(1)
	if w > 0 {
		scale = float64(w) / float64(src.Width)
	}
	if h > 0 {
		scale = math.Min(scale, float64(h)/float64(src.Height))
	}
	if !upscale && scale > 1 {
		scale = 1
	}
	return Size{round(float64(src.Width) * scale), round(float64(src.Height) * scale)}
}

// StretchSize returns w x h, shrunk proportionally to the source bounds when
// upscaling is not allowed.
func StretchSize(src Size, w, h int, upscale bool) Size {
	w, h = fillAuto(w, h, src)
	if !upscale && (w > src.Width || h > src.Height) {
		f := math.Min(float64(src.Width)/float64(w), float64(src.Height)/float64(h))
		w, h = round(float64(w)*f), round(float64(h)*f)
	}
	return Size{w, h}
}

// CropSize returns the output size of a crop, keeping the target aspect
// ratio when upscaling is not allowed and the source is too small.
func CropSize(src Size, w, h int, upscale bool) Size {
	return StretchSize(src, w, h, upscale)
}

// Apply runs the geometric operation selected by p on img.
func Apply(img image.Image, p transform.Parameters, focal *transform.FocalPoint, upscale bool) image.Image {
	b := img.Bounds()
	src := Size{b.Dx(), b.Dy()}

	switch p.Mode {
	case transform.ModeFit:
		return ScaleToFit(img, p.Width, p.Height, upscale)
	case transform.ModeStretch:
		s := StretchSize(src, p.Width, p.Height, upscale)
		return resize(img, s)
	}

	// A crop with one automatic dimension is a fit.
	if p.Width == 0 || p.Height == 0 {
		return ScaleToFit(img, p.Width, p.Height, upscale)
	}

	x, y := p.Position.Anchor()
	if p.Position == transform.PositionFocal && focal != nil {
		return ScaleAndCrop(img, p.Width, p.Height, upscale, focal.X, focal.Y, true)
	}
	return ScaleAndCrop(img, p.Width, p.Height, upscale, x, y, false)
}

// ScaleToFit scales img to fit inside w x h.
func ScaleToFit(img image.Image, w, h int, upscale bool) image.Image {
	b := img.Bounds()
	return resize(img, FitSize(Size{b.Dx(), b.Dy()}, w, h, upscale))
}

// ScaleAndCrop scales img to cover w x h and crops the overflow. With
// centered set, (x, y) is the point to keep in the middle of the crop;
// otherwise it is a fractional anchor where 0 keeps the left/top edge and 1
// keeps the right/bottom edge.
func ScaleAndCrop(img image.Image, w, h int, upscale bool, x, y float64, centered bool) image.Image {
	b := img.Bounds()
	src := Size{b.Dx(), b.Dy()}
	target := CropSize(src, w, h, upscale)

	scale := math.Max(float64(target.Width)/float64(src.Width), float64(target.Height)/float64(src.Height))
	scaled := Size{
		Width:  max(round(float64(src.Width)*scale), target.Width),
		Height: max(round(float64(src.Height)*scale), target.Height),
	}
	resized := resize(img, scaled)

	var x0, y0 int
	if centered {
		x0 = clamp(int(math.Round(x*float64(scaled.Width)-float64(target.Width)/2)), 0, scaled.Width-target.Width)
		y0 = clamp(int(math.Round(y*float64(scaled.Height)-float64(target.Height)/2)), 0, scaled.Height-target.Height)
	} else {
		x0 = int(math.Round(x * float64(scaled.Width-target.Width)))
		y0 = int(math.Round(y * float64(scaled.Height-target.Height)))
	}
	rect := image.Rect(x0, y0, x0+target.Width, y0+target.Height)
	return imaging.Crop(resized, rect.Add(resized.Bounds().Min))
}

func resize(img image.Image, s Size) image.Image {
	b := img.Bounds()
	if b.Dx() == s.Width && b.Dy() == s.Height {
		return img
	}
	return imaging.Resize(img, s.Width, s.Height, imaging.Lanczos)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
