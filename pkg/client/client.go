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

// Package client is a Go client for the transform REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/rest"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

const apiPrefix = "/api/v1"

// Config holds configuration for creating a client.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// RequestTimeout bounds each request, including first-time generation
	// of a derived image (default: 2m).
	RequestTimeout time.Duration

	// Retry configures retries of transient failures.
	Retry *RetryConfig

	// HTTPClient replaces the default client; RequestTimeout is ignored
	// when it is set.
	HTTPClient *http.Client
}

// Client calls the transform REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      *RetryConfig
}

// New creates a Client.
func New(config *Config) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, ErrInvalidConfig
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: base URL %q", ErrInvalidConfig, config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := 2 * time.Minute
		if config.RequestTimeout > 0 {
			timeout = config.RequestTimeout
		}
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		httpClient: httpClient,
		retry:      config.Retry,
	}, nil
}

// TransformRequest selects a transform: a named handle or key, or ad-hoc
// parameters. Format, Quality and Upscale also apply to a Key.
type TransformRequest struct {
	Params transform.Parameters
	Key    transform.Key
}

func (r TransformRequest) query() url.Values {
	q := url.Values{}
	p := r.Params
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	switch {
	case p.Handle != "":
		q.Set("transform", p.Handle)
	case r.Key != "":
		q.Set("key", string(r.Key))
	default:
		if p.Width > 0 {
			q.Set("w", strconv.Itoa(p.Width))
		}
		if p.Height > 0 {
			q.Set("h", strconv.Itoa(p.Height))
		}
		set("mode", string(p.Mode))
		set("position", string(p.Position))
		set("interlace", string(p.Interlace))
	}
	set("format", p.Format)
	if p.Quality > 0 {
		q.Set("quality", strconv.Itoa(p.Quality))
	}
	if p.Upscale != nil {
		q.Set("upscale", strconv.FormatBool(*p.Upscale))
	}
	return q
}

// Health checks the server.
func (c *Client) Health(ctx context.Context) (*rest.HealthResponse, error) {
	return do[rest.HealthResponse](ctx, c, http.MethodGet, "/health", nil, nil)
}

// NamedTransforms lists the server's named transforms.
func (c *Client) NamedTransforms(ctx context.Context) (*rest.NamedTransformsResponse, error) {
	return do[rest.NamedTransformsResponse](ctx, c, http.MethodGet, apiPrefix+"/transforms", nil, nil)
}

// Transform resolves a transform of an asset, generating it if needed.
func (c *Client) Transform(ctx context.Context, assetID string, req TransformRequest) (*rest.TransformResponse, error) {
	p, err := assetPath(assetID, "/transform")
	if err != nil {
		return nil, err
	}
	return do[rest.TransformResponse](ctx, c, http.MethodGet, p, req.query(), nil)
}

// GetAsset returns a registered asset.
func (c *Client) GetAsset(ctx context.Context, assetID string) (*asset.Asset, error) {
	p, err := assetPath(assetID, "")
	if err != nil {
		return nil, err
	}
	return do[asset.Asset](ctx, c, http.MethodGet, p, nil, nil)
}

// RegisterAsset registers a file on a server volume as an asset.
func (c *Client) RegisterAsset(ctx context.Context, req *rest.RegisterAssetRequest) (*asset.Asset, error) {
	return do[asset.Asset](ctx, c, http.MethodPost, apiPrefix+"/assets", nil, req)
}

// Records lists the index records of an asset.
func (c *Client) Records(ctx context.Context, assetID string) (*rest.RecordsResponse, error) {
	p, err := assetPath(assetID, "/transforms")
	if err != nil {
		return nil, err
	}
	return do[rest.RecordsResponse](ctx, c, http.MethodGet, p, nil, nil)
}

// Invalidate deletes every derived image and record of an asset.
func (c *Client) Invalidate(ctx context.Context, assetID string) (*rest.InvalidateResponse, error) {
	p, err := assetPath(assetID, "/transforms")
	if err != nil {
		return nil, err
	}
	return do[rest.InvalidateResponse](ctx, c, http.MethodDelete, p, nil, nil)
}

// Reindex reconciles an asset's records with its volume.
func (c *Client) Reindex(ctx context.Context, assetID string) (*rest.ReindexResponse, error) {
	p, err := assetPath(assetID, "/reindex")
	if err != nil {
		return nil, err
	}
	return do[rest.ReindexResponse](ctx, c, http.MethodPost, p, nil, nil)
}

func assetPath(assetID, suffix string) (string, error) {
	if assetID == "" {
		return "", ErrInvalidAssetID
	}
	return apiPrefix + "/assets/" + url.PathEscape(assetID) + suffix, nil
}

func do[T any](ctx context.Context, c *Client, method, p string, query url.Values, body any) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}

	return retryWrapper(ctx, c.retry, func() (*T, error) {
		target := c.baseURL + p
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			apiErr := &APIError{StatusCode: resp.StatusCode}
			var e rest.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err == nil {
				apiErr.Message = e.Message
				if apiErr.Message == "" {
					apiErr.Message = e.Error
				}
			}
			return nil, apiErr
		}

		var out T
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			if errors.Is(err, io.EOF) {
				return &out, nil
			}
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &out, nil
	})
}
