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

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/rest"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(&Config{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = New(&Config{BaseURL: "localhost"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := New(&Config{BaseURL: "http://localhost:8080/", RequestTimeout: time.Second})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
	assert.Equal(t, time.Second, c.httpClient.Timeout)
}

func TestTransformQuery(t *testing.T) {
	upscale := false
	q := TransformRequest{Params: transform.Parameters{
		Width: 400, Mode: transform.ModeFit, Format: "webp", Quality: 70, Upscale: &upscale,
	}}.query()
	assert.Equal(t, url.Values{
		"w": {"400"}, "mode": {"fit"}, "format": {"webp"}, "quality": {"70"}, "upscale": {"false"},
	}, q)

	q = TransformRequest{Params: transform.Parameters{Handle: "thumb", Width: 10}}.query()
	assert.Equal(t, url.Values{"transform": {"thumb"}}, q)

	q = TransformRequest{Key: "_200x200_crop_center-center", Params: transform.Parameters{Format: "png"}}.query()
	assert.Equal(t, url.Values{"key": {"_200x200_crop_center-center"}, "format": {"png"}}, q)
}

func TestTransform(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/assets/a1/transform", r.URL.Path)
		assert.Equal(t, "thumb", r.URL.Query().Get("transform"))
		writeJSON(w, http.StatusOK, rest.TransformResponse{
			URL:    "https://cdn.example.com/photos/_thumb/a.jpg",
			Path:   "photos/_thumb/a.jpg",
			Key:    "_200x200_crop_center-center",
			Format: "jpg",
			Record: &index.Record{ID: "r1", AssetID: "a1", FileExists: true},
		})
	})

	res, err := c.Transform(context.Background(), "a1", TransformRequest{Params: transform.Parameters{Handle: "thumb"}})
	require.NoError(t, err)
	assert.Equal(t, "photos/_thumb/a.jpg", res.Path)
	require.NotNil(t, res.Record)
	assert.True(t, res.Record.FileExists)

	_, err = c.Transform(context.Background(), "", TransformRequest{})
	assert.ErrorIs(t, err, ErrInvalidAssetID)
}

func TestAssetEndpoints(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "GET /health":
			writeJSON(w, http.StatusOK, rest.HealthResponse{Status: "healthy"})
		case "GET /api/v1/transforms":
			writeJSON(w, http.StatusOK, rest.NamedTransformsResponse{
				Transforms: []rest.NamedTransform{{Handle: "thumb"}}, Count: 1,
			})
		case "POST /api/v1/assets":
			var req rest.RegisterAssetRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			writeJSON(w, http.StatusCreated, map[string]any{"id": "a1", "volume": req.Volume, "folder": "photos", "filename": "a.jpg"})
		case "GET /api/v1/assets/a1":
			writeJSON(w, http.StatusOK, map[string]any{"id": "a1", "folder": "photos", "filename": "a.jpg"})
		case "GET /api/v1/assets/a1/transforms":
			writeJSON(w, http.StatusOK, rest.RecordsResponse{AssetID: "a1", Records: []*index.Record{{ID: "r1"}}, Count: 1})
		case "DELETE /api/v1/assets/a1/transforms":
			writeJSON(w, http.StatusOK, rest.InvalidateResponse{AssetID: "a1", Deleted: 2})
		case "POST /api/v1/assets/a1/reindex":
			writeJSON(w, http.StatusOK, rest.ReindexResponse{AssetID: "a1"})
		default:
			writeJSON(w, http.StatusNotFound, rest.ErrorResponse{Error: "Not Found", Code: 404, Message: "asset not found"})
		}
	})
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)

	named, err := c.NamedTransforms(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, named.Count)

	a, err := c.RegisterAsset(ctx, &rest.RegisterAssetRequest{Volume: "public", Path: "photos/a.jpg"})
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)
	assert.Equal(t, "public", a.VolumeName)

	a, err = c.GetAsset(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "photos/a.jpg", a.Path())

	recs, err := c.Records(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, recs.Records, 1)

	inv, err := c.Invalidate(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, inv.Deleted)

	_, err = c.Reindex(ctx, "a1")
	require.NoError(t, err)

	_, err = c.GetAsset(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "asset not found", apiErr.Message)
}

func TestRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, rest.ErrorResponse{Error: "Service Unavailable", Code: 503})
			return
		}
		writeJSON(w, http.StatusOK, rest.HealthResponse{Status: "healthy"})
	}))
	defer srv.Close()

	c, err := New(&Config{BaseURL: srv.URL, Retry: &RetryConfig{
		Enabled: true, MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond,
	}})
	require.NoError(t, err)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(0)
	c.retry = nil
	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrTemporaryFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, rest.ErrorResponse{Error: "Bad Request", Code: 400})
	}))
	defer srv.Close()

	c, err := New(&Config{BaseURL: srv.URL, Retry: &RetryConfig{Enabled: true, InitialBackoff: time.Millisecond}})
	require.NoError(t, err)
	_, err = c.Transform(context.Background(), "a1", TransformRequest{})
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.EqualError(t, err, "server returned 400: Bad Request")
	assert.Equal(t, int32(1), calls.Load())
}

func TestConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(&Config{BaseURL: base})
	require.NoError(t, err)
	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

func TestCalculateBackoff(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, 10*time.Millisecond, 100*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
	assert.False(t, isRetryable(context.Canceled))
	assert.True(t, isRetryable(&APIError{StatusCode: http.StatusTooManyRequests}))
	assert.False(t, isRetryable(&APIError{StatusCode: http.StatusNotFound}))
}
