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
	"github.com/jeremyhahn/go-imgtransform/pkg/azure"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

func init() {
	RegisterVolume("azure", func(settings map[string]string) (common.Volume, error) {
		vol := azure.New()
		if err := vol.Configure(settings); err != nil {
			return nil, err
		}
		return vol, nil
	})
}
