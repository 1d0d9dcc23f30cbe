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

package cli

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/client"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/rest"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

// Commander runs the per-asset commands, either in process or against a
// running server.
type Commander interface {
	TransformCommand(ctx context.Context, p string, params transform.Parameters) (*TransformResult, error)
	IndexListCommand(ctx context.Context, p string) (string, []*index.Record, error)
	InvalidateCommand(ctx context.Context, p string) (int, error)
	ReindexCommand(ctx context.Context, p string) (*transformer.ReindexResult, error)
	Close() error
}

var (
	_ Commander = (*CommandContext)(nil)
	_ Commander = (*RemoteContext)(nil)
)

// NewCommander returns a RemoteContext when cfg.Server is set and a local
// CommandContext otherwise.
func NewCommander(ctx context.Context, cfg *Config) (Commander, error) {
	if cfg.Server != "" {
		rc, err := NewRemoteContext(cfg)
		if err != nil {
			return nil, err
		}
		return rc, nil
	}
	cc, err := NewCommandContext(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return cc, nil
}

// RemoteContext runs commands through the REST API of a server. Paths are
// resolved to asset IDs on the configured volume name.
type RemoteContext struct {
	Config *Config
	Client *client.Client
}

// NewRemoteContext creates a client for cfg.Server with retries enabled.
func NewRemoteContext(cfg *Config) (*RemoteContext, error) {
	c, err := client.New(&client.Config{
		BaseURL: cfg.Server,
		Retry: &client.RetryConfig{
			Enabled:        true,
			MaxRetries:     3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
		},
	})
	if err != nil {
		return nil, err
	}
	return &RemoteContext{Config: cfg, Client: c}, nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (rc *RemoteContext) Close() error { return nil }

// assetID returns the ID of the asset at path, registering it with the
// server when it is not known yet.
func (rc *RemoteContext) assetID(ctx context.Context, p string) (string, error) {
	p = strings.TrimPrefix(p, "/")
	id := asset.PathID(rc.Config.VolumeName, p)
	_, err := rc.Client.GetAsset(ctx, id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, client.ErrNotFound) {
		return "", err
	}
	a, err := rc.Client.RegisterAsset(ctx, &rest.RegisterAssetRequest{
		ID:     id,
		Volume: rc.Config.VolumeName,
		Path:   p,
	})
	if err != nil {
		return "", err
	}
	return a.ID, nil
}

// TransformCommand resolves one transform of the asset at path on the
// server. Named transforms are resolved by the server's own presets.
func (rc *RemoteContext) TransformCommand(ctx context.Context, p string, params transform.Parameters) (*TransformResult, error) {
	id, err := rc.assetID(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := rc.Client.Transform(ctx, id, client.TransformRequest{Params: params})
	if err != nil {
		return nil, err
	}
	return &TransformResult{
		Path:   strings.TrimPrefix(p, "/"),
		Key:    string(res.Key),
		URL:    res.URL,
		Format: res.Format,
	}, nil
}

// IndexListCommand returns the server's index records of the asset at path.
func (rc *RemoteContext) IndexListCommand(ctx context.Context, p string) (string, []*index.Record, error) {
	id, err := rc.assetID(ctx, p)
	if err != nil {
		return "", nil, err
	}
	res, err := rc.Client.Records(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return id, res.Records, nil
}

// InvalidateCommand removes every derived image and record of the asset at
// path on the server.
func (rc *RemoteContext) InvalidateCommand(ctx context.Context, p string) (int, error) {
	id, err := rc.assetID(ctx, p)
	if err != nil {
		return 0, err
	}
	res, err := rc.Client.Invalidate(ctx, id)
	if err != nil {
		return 0, err
	}
	return res.Deleted, nil
}

// ReindexCommand asks the server to reconcile the records of the asset at
// path.
func (rc *RemoteContext) ReindexCommand(ctx context.Context, p string) (*transformer.ReindexResult, error) {
	id, err := rc.assetID(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := rc.Client.Reindex(ctx, id)
	if err != nil {
		return nil, err
	}
	return &res.ReindexResult, nil
}
