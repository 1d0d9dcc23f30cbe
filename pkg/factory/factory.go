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
	"fmt"
	"sort"
	"sync"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
)

// VolumeCreator is a function that creates a configured volume.
type VolumeCreator func(settings map[string]string) (common.Volume, error)

var (
	registryMu     sync.RWMutex
	volumeRegistry = make(map[string]VolumeCreator)
)

// RegisterVolume registers a volume creator under the given type name.
func RegisterVolume(volumeType string, creator VolumeCreator) {
	registryMu.Lock()
	defer registryMu.Unlock()
	volumeRegistry[volumeType] = creator
}

// NewVolume creates a new volume based on the given type.
func NewVolume(volumeType string, settings map[string]string) (common.Volume, error) {
	registryMu.RLock()
	creator, exists := volumeRegistry[volumeType]
	registryMu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVolume, volumeType)
	}
	return creator(settings)
}

// VolumeTypes returns the registered volume type names, sorted.
func VolumeTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	types := make([]string, 0, len(volumeRegistry))
	for t := range volumeRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
