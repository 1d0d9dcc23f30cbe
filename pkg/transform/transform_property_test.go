//go:build property

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

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var (
	genMode      = gen.OneConstOf(Mode(""), ModeCrop, ModeFit, ModeStretch)
	genPosition  = gen.OneConstOf(Position(""), Position("bogus"), TopLeft, CenterCenter, BottomRight, CenterLeft)
	genInterlace = gen.OneConstOf(Interlace(""), InterlaceNone, InterlaceLine, InterlacePlane, InterlacePartition)
	genFormat    = gen.OneConstOf("", "jpg", "JPEG", "png", "webp", "Gif")
)

func genParameters() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4000),
		gen.IntRange(0, 4000),
		genMode,
		genPosition,
		genFormat,
		gen.IntRange(0, 100),
		genInterlace,
	).Map(func(v []interface{}) Parameters {
		return Parameters{
			Width:     v[0].(int),
			Height:    v[1].(int),
			Mode:      v[2].(Mode),
			Position:  v[3].(Position),
			Format:    v[4].(string),
			Quality:   v[5].(int),
			Interlace: v[6].(Interlace),
		}
	})
}

// TestNormalizeProperties validates normalization and key invariants.
func TestNormalizeProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(4096)
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent", prop.ForAll(
		func(p Parameters, focal bool) bool {
			var fp *FocalPoint
			if focal {
				fp = &FocalPoint{X: 0.25, Y: 0.75}
			}
			once := Normalize(p, fp)
			return Normalize(once, fp) == once
		},
		genParameters(),
		gen.Bool(),
	))

	properties.Property("normalized parameters always validate", prop.ForAll(
		func(p Parameters) bool {
			return Normalize(p, nil).Validate() == nil
		},
		genParameters(),
	))

	properties.Property("key round-trips through ParseKey", prop.ForAll(
		func(p Parameters) bool {
			n := Normalize(p, nil)
			if n.Width == 0 && n.Height == 0 {
				return true
			}
			parsed, err := ParseKey(string(n.Key()))
			if err != nil {
				return false
			}
			return parsed.Key() == n.Key()
		},
		genParameters(),
	))

	properties.Property("quality and format never change the key", prop.ForAll(
		func(p Parameters, quality int, format string) bool {
			q := p
			q.Quality = quality
			q.Format = format
			return Normalize(p, nil).Key() == Normalize(q, nil).Key()
		},
		genParameters(),
		gen.IntRange(0, 100),
		genFormat,
	))

	properties.TestingRun(t)
}
