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
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/asset"
	"github.com/jeremyhahn/go-imgtransform/pkg/audit"
	"github.com/jeremyhahn/go-imgtransform/pkg/codec"
	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/factory"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/index/leveldb"
	"github.com/jeremyhahn/go-imgtransform/pkg/index/postgres"
	"github.com/jeremyhahn/go-imgtransform/pkg/monitor"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/middleware"
	"github.com/jeremyhahn/go-imgtransform/pkg/server/rest"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

const (
	// VolumeLocal represents the local filesystem volume type
	VolumeLocal = "local"

	// DefaultConcurrency bounds parallel generations in warm.
	DefaultConcurrency = 4

	shutdownTimeout = 30 * time.Second
)

// CommandContext holds the context for executing commands.
type CommandContext struct {
	Config      *Config
	Volume      common.Volume
	Catalog     *asset.Catalog
	Store       index.Store
	Transformer *transformer.Transformer
	Logger      adapters.Logger
}

// NewCommandContext validates cfg and opens its volume, index and
// transformer.
func NewCommandContext(ctx context.Context, cfg *Config) (*CommandContext, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	logger := adapters.NewLogger(adapters.LoggerConfig{
		Backend: cfg.Logger,
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Output:  os.Stderr,
	})

	vol, err := factory.NewVolume(cfg.Volume, cfg.GetVolumeSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize volume: %w", err)
	}

	store, err := openIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var urls transformer.URLBuilder
	if cfg.BaseURL != "" {
		urls = transformer.BaseURLs{cfg.VolumeName: cfg.BaseURL}
	}

	catalog := asset.NewCatalog()
	tr, err := transformer.New(catalog, store, codec.NewImaging(), &transformer.Config{
		AllowUpscale:      cfg.AllowUpscale,
		HeartbeatInterval: cfg.HeartbeatInterval,
		TempDir:           cfg.TempDir,
		URLs:              urls,
		Logger:            logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &CommandContext{
		Config:      cfg,
		Volume:      vol,
		Catalog:     catalog,
		Store:       store,
		Transformer: tr,
		Logger:      logger,
	}, nil
}

func openIndex(ctx context.Context, cfg *Config) (index.Store, error) {
	switch cfg.IndexDriver {
	case IndexMemory:
		return index.NewMemoryStore(), nil
	case IndexLevelDB:
		if err := os.MkdirAll(cfg.IndexPath, 0o750); err != nil {
			return nil, index.Persistence("open", err)
		}
		return leveldb.Open(cfg.IndexPath)
	case IndexPostgres:
		store, err := postgres.Open(ctx, cfg.IndexDSN)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedIndexDriver, cfg.IndexDriver)
	}
}

// Close releases the index.
func (cc *CommandContext) Close() error {
	if cc.Store != nil {
		return cc.Store.Close()
	}
	return nil
}

// ParseTransform reads a named transform handle or a transform key.
func ParseTransform(s string, presets transform.Presets) (transform.Parameters, error) {
	if s == "" {
		return transform.Parameters{}, ErrNoTransform
	}
	if strings.HasPrefix(s, "_") {
		return transform.ParseKey(s)
	}
	return presets.Lookup(s)
}

// Asset returns the catalog entry for path, probing and registering it on
// first use.
func (cc *CommandContext) Asset(ctx context.Context, p string) (*asset.Asset, error) {
	p = strings.TrimPrefix(p, "/")
	if a, err := cc.Catalog.FindByPath(cc.Config.VolumeName, p); err == nil {
		return a, nil
	}
	a, err := asset.Probe(ctx, cc.Volume, cc.Config.VolumeName, p)
	if err != nil {
		return nil, err
	}
	return cc.Catalog.Register(a)
}

// TransformCommand resolves one transform of the asset at path.
func (cc *CommandContext) TransformCommand(ctx context.Context, p string, params transform.Parameters) (*TransformResult, error) {
	a, err := cc.Asset(ctx, p)
	if err != nil {
		return nil, err
	}
	res, err := cc.Transformer.Resolve(ctx, a.ID, params)
	if err != nil {
		return nil, err
	}
	out := &TransformResult{Path: a.Path(), URL: res.URL, Format: res.Format}
	if res.Record != nil {
		out.Key = string(res.Record.Key)
	}
	return out, nil
}

// WarmCommand generates every given transform for every image under prefix,
// at most concurrency at a time. Per-asset failures are reported in the
// results; only scan failures return an error.
func (cc *CommandContext) WarmCommand(ctx context.Context, prefix string, params []transform.Parameters, concurrency int) ([]TransformResult, error) {
	if len(params) == 0 {
		return nil, ErrNoTransform
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu      sync.Mutex
		results []TransformResult
	)
	record := func(r TransformResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	_, err := asset.Scan(ctx, cc.Catalog, cc.Volume, cc.Config.VolumeName, prefix, func(p string, err error) {
		record(TransformResult{Path: p, Error: err.Error()})
	})
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, a := range cc.Catalog.List() {
		for _, p := range params {
			g.Go(func() error {
				res, err := cc.Transformer.Resolve(gctx, a.ID, p)
				if err != nil {
					cc.Logger.Warn(gctx, "warm failed",
						adapters.Field{Key: "path", Value: a.Path()},
						adapters.ErrField(err))
					record(TransformResult{Path: a.Path(), Key: string(transform.Normalize(p, a.FocalPoint).Key()), Error: err.Error()})
					return nil
				}
				r := TransformResult{Path: a.Path(), URL: res.URL, Format: res.Format}
				if res.Record != nil {
					r.Key = string(res.Record.Key)
				}
				record(r)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// IndexListCommand returns the index records of the asset at path.
func (cc *CommandContext) IndexListCommand(ctx context.Context, p string) (string, []*index.Record, error) {
	a, err := cc.Asset(ctx, p)
	if err != nil {
		return "", nil, err
	}
	records, err := cc.Store.ListByAsset(ctx, a.ID)
	if err != nil {
		return "", nil, err
	}
	index.SortByLocation(records)
	return a.ID, records, nil
}

// InvalidateCommand removes every derived image and record of the asset at
// path.
func (cc *CommandContext) InvalidateCommand(ctx context.Context, p string) (int, error) {
	a, err := cc.Asset(ctx, p)
	if err != nil {
		return 0, err
	}
	return cc.Transformer.Invalidate(ctx, a.ID)
}

// ReindexCommand reconciles the records of the asset at path with the
// derived files on its volume.
func (cc *CommandContext) ReindexCommand(ctx context.Context, p string) (*transformer.ReindexResult, error) {
	a, err := cc.Asset(ctx, p)
	if err != nil {
		return nil, err
	}
	return cc.Transformer.Reindex(ctx, a.ID)
}

// SweepCommand releases generations whose heartbeat is older than the
// configured stale age.
func (cc *CommandContext) SweepCommand(ctx context.Context) (int, error) {
	sw, err := monitor.NewSweeper(cc.Store, monitor.SweeperConfig{
		StaleAfter: cc.Config.StaleAfter,
		Logger:     cc.Logger,
	})
	if err != nil {
		return 0, err
	}
	return sw.Sweep(ctx)
}

// NewServer registers every image on the volume and builds the REST server.
func (cc *CommandContext) NewServer(ctx context.Context) (*rest.Server, error) {
	n, err := asset.Scan(ctx, cc.Catalog, cc.Volume, cc.Config.VolumeName, "", func(p string, err error) {
		cc.Logger.Warn(ctx, "skipping asset", adapters.Field{Key: "path", Value: p}, adapters.ErrField(err))
	})
	if err != nil {
		return nil, fmt.Errorf("scan volume: %w", err)
	}
	cc.Logger.Info(ctx, "assets registered", adapters.Field{Key: "count", Value: n})

	handler, err := rest.NewHandler(cc.Transformer, cc.Catalog,
		map[string]common.Volume{cc.Config.VolumeName: cc.Volume}, cc.Config.Transforms, cc.Logger)
	if err != nil {
		return nil, err
	}

	sc := rest.DefaultServerConfig()
	sc.Host = cc.Config.Host
	sc.Port = cc.Config.Port
	sc.Logger = cc.Logger
	if cc.Config.RateLimit > 0 {
		sc.EnableRateLimit = true
		sc.RateLimitConfig = &middleware.RateLimitConfig{
			RequestsPerSecond: cc.Config.RateLimit,
			Burst:             int(cc.Config.RateLimit * 2),
			PerIP:             true,
			IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
		}
	}
	if cc.Config.Audit {
		sc.AuditLogger = audit.NewAuditLogger(&audit.Config{
			Enabled:      true,
			Backend:      cc.Config.Logger,
			Format:       cc.Config.LogFormat,
			Output:       os.Stdout,
			IncludeReads: cc.Config.AuditReads,
		})
	}
	return rest.NewServer(handler, sc)
}

// ServeCommand runs the REST server, the stale-generation sweeper and, for
// local volumes, the source watcher until ctx is done.
// Cancellation during startup is a clean exit.
func (cc *CommandContext) ServeCommand(ctx context.Context) error {
	server, err := cc.NewServer(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	sweeper, err := monitor.NewSweeper(cc.Store, monitor.SweeperConfig{
		StaleAfter: cc.Config.StaleAfter,
		Logger:     cc.Logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })

	if cc.Config.Volume == VolumeLocal && cc.Config.Watch {
		watcher, err := monitor.NewSourceWatcher(monitor.SourceWatcherConfig{
			Root:        cc.Config.VolumePath,
			Volume:      cc.Config.VolumeName,
			Assets:      cc.Catalog,
			Invalidator: cc.Transformer,
			Logger:      cc.Logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return watcher.Run(gctx) })
	}

	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
