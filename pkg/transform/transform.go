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

// Package transform defines image transform parameters and their
// normalized index key.
package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidParameters is returned when transform parameters fail validation.
var ErrInvalidParameters = errors.New("invalid transform parameters")

// DefaultMaxDimension is the default MaxDimension.
const DefaultMaxDimension = 10000

// MaxDimension is the largest width or height Validate accepts. Set it at
// startup, before any request is validated.
var MaxDimension = DefaultMaxDimension

// Mode selects the geometric operation.
type Mode string

const (
	ModeCrop    Mode = "crop"
	ModeFit     Mode = "fit"
	ModeStretch Mode = "stretch"
)

// Position is a nine-point crop anchor.
type Position string

const (
	TopLeft      Position = "top-left"
	TopCenter    Position = "top-center"
	TopRight     Position = "top-right"
	CenterLeft   Position = "center-left"
	CenterCenter Position = "center-center"
	CenterRight  Position = "center-right"
	BottomLeft   Position = "bottom-left"
	BottomCenter Position = "bottom-center"
	BottomRight  Position = "bottom-right"

	// PositionFocal crops around the asset's focal point.
	PositionFocal Position = "focal"
)

var anchors = map[Position][2]float64{
	TopLeft:      {0, 0},
	TopCenter:    {0.5, 0},
	TopRight:     {1, 0},
	CenterLeft:   {0, 0.5},
	CenterCenter: {0.5, 0.5},
	CenterRight:  {1, 0.5},
	BottomLeft:   {0, 1},
	BottomCenter: {0.5, 1},
	BottomRight:  {1, 1},
}

// Valid reports whether p is one of the nine anchors.
func (p Position) Valid() bool {
	_, ok := anchors[p]
	return ok
}

// Anchor returns the fractional x/y of the anchor, 0..1 on each axis.
// Unknown positions resolve to the center.
func (p Position) Anchor() (x, y float64) {
	a, ok := anchors[p]
	if !ok {
		return 0.5, 0.5
	}
	return a[0], a[1]
}

// Interlace is the requested progressive/interlace scheme.
type Interlace string

const (
	InterlaceNone      Interlace = "none"
	InterlaceLine      Interlace = "line"
	InterlacePlane     Interlace = "plane"
	InterlacePartition Interlace = "partition"
)

func (i Interlace) valid() bool {
	switch i {
	case InterlaceNone, InterlaceLine, InterlacePlane, InterlacePartition:
		return true
	}
	return false
}

// FocalPoint is a fractional point of interest within an image.
type FocalPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Parameters describes a requested transform. Zero width or height means
// the dimension is derived from the other one. A non-empty Handle names a
// predefined transform, which is stored in its own folder.
type Parameters struct {
	Handle    string    `json:"handle,omitempty" cbor:"9,keyasint,omitempty"`
	Width     int       `json:"width" cbor:"1,keyasint"`
	Height    int       `json:"height" cbor:"2,keyasint"`
	Mode      Mode      `json:"mode" cbor:"3,keyasint"`
	Position  Position  `json:"position" cbor:"4,keyasint"`
	Format    string    `json:"format,omitempty" cbor:"5,keyasint,omitempty"`
	Quality   int       `json:"quality,omitempty" cbor:"6,keyasint,omitempty"`
	Interlace Interlace `json:"interlace" cbor:"7,keyasint"`
	Upscale   *bool     `json:"upscale,omitempty" cbor:"8,keyasint,omitempty"`
}

// Validate checks the fields that can be wrong regardless of defaults.
func (p Parameters) Validate() error {
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("%w: negative dimension %dx%d", ErrInvalidParameters, p.Width, p.Height)
	}
	if MaxDimension > 0 && (p.Width > MaxDimension || p.Height > MaxDimension) {
		return fmt.Errorf("%w: dimension %dx%d exceeds %d", ErrInvalidParameters, p.Width, p.Height, MaxDimension)
	}
	switch p.Mode {
	case "", ModeCrop, ModeFit, ModeStretch:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidParameters, p.Mode)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return fmt.Errorf("%w: quality %d outside 0..100", ErrInvalidParameters, p.Quality)
	}
	if p.Interlace != "" && !p.Interlace.valid() {
		return fmt.Errorf("%w: unknown interlace %q", ErrInvalidParameters, p.Interlace)
	}
	if !alnum(p.Format, "") {
		return fmt.Errorf("%w: malformed format %q", ErrInvalidParameters, p.Format)
	}
	if !alnum(p.Handle, "-_") {
		return fmt.Errorf("%w: malformed handle %q", ErrInvalidParameters, p.Handle)
	}
	return nil
}

func alnum(s, extra string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && !strings.ContainsRune(extra, r) {
			return false
		}
	}
	return true
}

// Normalize applies defaults so that omitted values and their explicit
// defaults produce the same key. An absent or unknown position becomes
// center-center, or focal when the asset has a focal point and the mode
// crops.
func Normalize(p Parameters, focal *FocalPoint) Parameters {
	if p.Mode == "" {
		p.Mode = ModeCrop
	}
	if !p.Position.Valid() {
		if focal != nil && p.Mode == ModeCrop {
			p.Position = PositionFocal
		} else {
			p.Position = CenterCenter
		}
	}
	if p.Interlace == "" {
		p.Interlace = InterlaceNone
	}
	p.Format = NormalizeFormat(p.Format)
	return p
}

// NormalizeFormat lower-cases a format or extension and folds aliases.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimPrefix(format, "."))
	switch f {
	case "jpeg":
		return "jpg"
	case "tiff":
		return "tif"
	}
	return f
}

// Key is the normalized transform key, used as the derived-file folder name
// and as the equivalence lookup.
type Key string

const autoDimension = "AUTO"

func dimension(n int) string {
	if n == 0 {
		return autoDimension
	}
	return strconv.Itoa(n)
}

// Key builds the key for p. Callers pass normalized parameters.
func (p Parameters) Key() Key {
	var b strings.Builder
	b.WriteString("_")
	b.WriteString(dimension(p.Width))
	b.WriteString("x")
	b.WriteString(dimension(p.Height))
	b.WriteString("_")
	b.WriteString(string(p.Mode))
	b.WriteString("_")
	b.WriteString(string(p.Position))
	if p.Interlace != "" && p.Interlace != InterlaceNone {
		b.WriteString("_")
		b.WriteString(string(p.Interlace))
	}
	return Key(b.String())
}

// Location returns the folder name derived files of p are stored under:
// "_" plus the handle for named transforms, the key otherwise.
func (p Parameters) Location() string {
	if p.Handle != "" {
		return "_" + p.Handle
	}
	return string(p.Key())
}

// ParseKey reads the pixel-affecting parameters back out of a key.
func ParseKey(s string) (Parameters, error) {
	var p Parameters
	parts := strings.Split(strings.TrimPrefix(s, "_"), "_")
	if !strings.HasPrefix(s, "_") || len(parts) < 3 || len(parts) > 4 {
		return p, fmt.Errorf("%w: malformed key %q", ErrInvalidParameters, s)
	}

	dims := strings.SplitN(parts[0], "x", 2)
	if len(dims) != 2 {
		return p, fmt.Errorf("%w: malformed key %q", ErrInvalidParameters, s)
	}
	var err error
	if p.Width, err = parseDimension(dims[0]); err != nil {
		return p, fmt.Errorf("%w: key %q: %v", ErrInvalidParameters, s, err)
	}
	if p.Height, err = parseDimension(dims[1]); err != nil {
		return p, fmt.Errorf("%w: key %q: %v", ErrInvalidParameters, s, err)
	}

	p.Mode = Mode(parts[1])
	p.Position = Position(parts[2])
	if !p.Position.Valid() && p.Position != PositionFocal {
		return p, fmt.Errorf("%w: key %q: unknown position", ErrInvalidParameters, s)
	}
	p.Interlace = InterlaceNone
	if len(parts) == 4 {
		p.Interlace = Interlace(parts[3])
		if p.Interlace == InterlaceNone {
			return p, fmt.Errorf("%w: key %q: explicit none interlace", ErrInvalidParameters, s)
		}
	}
	if p.Mode == "" {
		return p, fmt.Errorf("%w: key %q: empty mode", ErrInvalidParameters, s)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func parseDimension(s string) (int, error) {
	if s == autoDimension {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("dimension %d must be positive", n)
	}
	return n, nil
}
