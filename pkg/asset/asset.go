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

// Package asset models the source images that transforms are derived from.
package asset

import (
	"context"
	"path"
	"strings"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Asset is a source file on a volume.
type Asset struct {
	ID         string                `json:"id"`
	Volume     common.Volume         `json:"-"`
	VolumeName string                `json:"volume"`
	Folder     string                `json:"folder"`
	Filename   string                `json:"filename"`
	Width      int                   `json:"width,omitempty"`
	Height     int                   `json:"height,omitempty"`
	FocalPoint *transform.FocalPoint `json:"focalPoint,omitempty"`
}

// Path returns the asset's path on its volume.
func (a *Asset) Path() string {
	if a.Folder == "" {
		return a.Filename
	}
	return path.Join(a.Folder, a.Filename)
}

// Extension returns the lower-case extension without the dot.
func (a *Asset) Extension() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(a.Filename), "."))
}

// Basename returns the filename without its extension.
func (a *Asset) Basename() string {
	return strings.TrimSuffix(a.Filename, path.Ext(a.Filename))
}

// Provider resolves asset IDs.
type Provider interface {
	Get(ctx context.Context, id string) (*Asset, error)
}
