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
	"net/url"
	"path"

	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// URLBuilder turns a path on a named volume into a public URL.
type URLBuilder interface {
	URL(volume, p string) (string, error)
}

// BaseURLs maps volume names to the public base URL their files are served
// from.
type BaseURLs map[string]string

// URL implements URLBuilder.
func (b BaseURLs) URL(volume, p string) (string, error) {
	base, ok := b[volume]
	if !ok {
		return "", fmt.Errorf("%w: no base url for %q", common.ErrVolumeNotFound, volume)
	}
	return url.JoinPath(base, p)
}

// DerivedPath is where a transform of a stored under location is written:
// {folder}/{location}/{filename}.
func DerivedPath(a *asset.Asset, location, filename string) string {
	return path.Join(a.Folder, location, filename)
}
