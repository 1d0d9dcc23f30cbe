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

package factory

import (
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/s3"
)

func init() {
	RegisterVolume("s3", func(settings map[string]string) (common.Volume, error) {
		vol := s3.New()
		if err := vol.Configure(settings); err != nil {
			return nil, err
		}
		return vol, nil
	})

	// MinIO speaks the S3 API; it needs an endpoint and path-style addressing.
	RegisterVolume("minio", func(settings map[string]string) (common.Volume, error) {
		if settings["endpoint"] == "" {
			return nil, common.ErrEndpointNotSet
		}
		withPathStyle := make(map[string]string, len(settings)+1)
		for k, v := range settings {
			withPathStyle[k] = v
		}
		withPathStyle["force_path_style"] = "true"

		vol := s3.New()
		if err := vol.Configure(withPathStyle); err != nil {
			return nil, err
		}
		return vol, nil
	})
}
