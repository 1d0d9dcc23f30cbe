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
	"fmt"
	"sort"
)

// Presets maps handles to predefined transforms.
type Presets map[string]Parameters

// Lookup returns the named transform with its Handle set.
func (ps Presets) Lookup(handle string) (Parameters, error) {
	p, ok := ps[handle]
	if !ok {
		return Parameters{}, fmt.Errorf("%w: unknown transform %q", ErrInvalidParameters, handle)
	}
	p.Handle = handle
	return p, nil
}

// Handles returns the preset names, sorted.
func (ps Presets) Handles() []string {
	out := make([]string, 0, len(ps))
	for h := range ps {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// Validate checks every preset.
func (ps Presets) Validate() error {
	for _, h := range ps.Handles() {
		p, _ := ps.Lookup(h)
		if err := p.Validate(); err != nil {
			return fmt.Errorf("transform %q: %w", h, err)
		}
	}
	return nil
}
