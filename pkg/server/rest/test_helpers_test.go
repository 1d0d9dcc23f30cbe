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

package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/codec"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/memory"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// flakyStore fails GetOrCreate while err is set.
type flakyStore struct {
	*index.MemoryStore
	mu  sync.Mutex
	err error
}

func (s *flakyStore) GetOrCreate(ctx context.Context, assetID string, p transform.Parameters) (*index.Record, bool, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, false, index.Persistence("get or create", err)
	}
	return s.MemoryStore.GetOrCreate(ctx, assetID, p)
}

type testEnv struct {
	vol     *memory.Memory
	catalog *asset.Catalog
	store   *flakyStore
	tr      *transformer.Transformer
	handler *Handler
	router  *gin.Engine
	photo   *asset.Asset
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := imaging.New(w, h, color.NRGBA{R: 30, G: 120, B: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	env := &testEnv{
		vol:     memory.New(),
		catalog: asset.NewCatalog(),
		store:   &flakyStore{MemoryStore: index.NewMemoryStore()},
	}
	require.NoError(t, env.vol.Put(ctx, "photos/photo.jpg", bytes.NewReader(encodeJPEG(t, 2000, 1500))))

	var err error
	env.photo, err = env.catalog.Register(&asset.Asset{
		ID:         "photo-1",
		Volume:     env.vol,
		VolumeName: "public",
		Folder:     "photos",
		Filename:   "photo.jpg",
		Width:      2000,
		Height:     1500,
	})
	require.NoError(t, err)

	cfg := transformer.DefaultConfig()
	cfg.Logger = adapters.NewNoOpLogger()
	cfg.TempDir = t.TempDir()
	cfg.URLs = transformer.BaseURLs{"public": "https://cdn.example.com/assets"}
	env.tr, err = transformer.New(env.catalog, env.store, codec.NewImaging(), cfg)
	require.NoError(t, err)

	presets := transform.Presets{
		"thumb": {Width: 200, Height: 200, Mode: transform.ModeCrop},
		"hero":  {Width: 1200, Mode: transform.ModeFit, Format: "png"},
	}
	env.handler, err = NewHandler(env.tr, env.catalog, map[string]common.Volume{"public": env.vol}, presets, adapters.NewNoOpLogger())
	require.NoError(t, err)

	srvCfg := DefaultServerConfig()
	srvCfg.Mode = gin.TestMode
	srvCfg.Logger = adapters.NewNoOpLogger()
	srv, err := NewServer(env.handler, srvCfg)
	require.NoError(t, err)
	env.router = srv.Router()
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var errDown = errors.New("connection refused")
