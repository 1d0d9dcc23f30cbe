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
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/local"
	"github.com/jeremyhahn/go-imgtransform/pkg/memory"
)

func TestVolumeTypes(t *testing.T) {
	assert.Equal(t, []string{"azure", "gcs", "local", "memory", "minio", "s3"}, VolumeTypes())
}

func TestUnknownVolume(t *testing.T) {
	_, err := NewVolume("ftp", nil)
	assert.ErrorIs(t, err, ErrUnknownVolume)
	assert.Contains(t, err.Error(), "ftp")
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	vol, err := NewVolume("local", map[string]string{"path": t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &local.Local{}, vol)

	require.NoError(t, vol.Put(ctx, "a/b.jpg", bytes.NewReader([]byte("data"))))
	rc, err := vol.Get(ctx, "a/b.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "data", string(data))

	_, err = NewVolume("local", map[string]string{})
	assert.ErrorIs(t, err, common.ErrPathNotSet)
}

func TestMemory(t *testing.T) {
	vol, err := NewVolume("memory", nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Memory{}, vol)
}

func TestConfigurationErrors(t *testing.T) {
	_, err := NewVolume("s3", map[string]string{})
	assert.ErrorIs(t, err, common.ErrBucketNotSet)

	_, err = NewVolume("minio", map[string]string{"bucket": "b"})
	assert.ErrorIs(t, err, common.ErrEndpointNotSet)

	_, err = NewVolume("gcs", map[string]string{})
	assert.ErrorIs(t, err, common.ErrBucketNotSet)

	_, err = NewVolume("azure", map[string]string{})
	assert.ErrorIs(t, err, common.ErrAccountNotSet)
}

func TestRegisterVolumeOverride(t *testing.T) {
	mem := memory.New()
	RegisterVolume("test-fixed", func(map[string]string) (common.Volume, error) { return mem, nil })
	defer func() {
		registryMu.Lock()
		delete(volumeRegistry, "test-fixed")
		registryMu.Unlock()
	}()

	vol, err := NewVolume("test-fixed", nil)
	require.NoError(t, err)
	assert.Same(t, mem, vol)
}
