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

package transform

var manipulable = map[string]bool{
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"webp": true,
	"bmp":  true,
	"tif":  true,
	"svg":  true,
}

var webSafe = map[string]bool{
	"jpg":  true,
	"png":  true,
	"gif":  true,
	"webp": true,
}

// Sources that may carry transparency fall back to png rather than jpg.
var alphaCapable = map[string]bool{
	"svg": true,
	"tif": true,
	"bmp": true,
}

// CanManipulate reports whether files with the given extension can be
// transformed as images.
func CanManipulate(ext string) bool {
	return manipulable[NormalizeFormat(ext)]
}

// IsVector reports whether ext is a vector format that is rasterized on load.
func IsVector(ext string) bool {
	return NormalizeFormat(ext) == "svg"
}

// ResolveFormat returns the output format for a transform of a source with
// extension sourceExt. An explicit format always wins.
func ResolveFormat(p Parameters, sourceExt string) string {
	if f := NormalizeFormat(p.Format); f != "" {
		return f
	}
	src := NormalizeFormat(sourceExt)
	if webSafe[src] {
		return src
	}
	if alphaCapable[src] {
		return "png"
	}
	return "jpg"
}
