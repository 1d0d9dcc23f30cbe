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

// Package monitor runs the background jobs that keep the transform index
// honest: recovering abandoned generations and invalidating transforms of
// changed source files.
package monitor

import (
	"context"
	"errors"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/adapters"
	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transformer"
)

// DefaultStaleAfter is how long an in-progress record may go without a
// heartbeat before it is considered abandoned.
const DefaultStaleAfter = 5 * transformer.DefaultHeartbeatInterval

// ErrStoreRequired is returned by NewSweeper without an index store.
var ErrStoreRequired = errors.New("index store is required")

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// StaleAfter is the heartbeat age after which a generation is
	// abandoned (default: DefaultStaleAfter).
	StaleAfter time.Duration

	// Interval between sweeps in Run (default: StaleAfter).
	Interval time.Duration

	Logger adapters.Logger
}

// Sweeper clears the in-progress flag of records whose heartbeat stopped,
// so the next request for them regenerates.
type Sweeper struct {
	store      index.Store
	staleAfter time.Duration
	interval   time.Duration
	logger     adapters.Logger
	now        func() time.Time
}

// NewSweeper creates a Sweeper.
func NewSweeper(store index.Store, config SweeperConfig) (*Sweeper, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.Interval <= 0 {
		config.Interval = config.StaleAfter
	}
	if config.Logger == nil {
		config.Logger = adapters.NewNoOpLogger()
	}
	return &Sweeper{
		store:      store,
		staleAfter: config.StaleAfter,
		interval:   config.Interval,
		logger:     config.Logger,
		now:        time.Now,
	}, nil
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Sweep recovers every abandoned record and returns how many it recovered.
// Each listed record is read again before it is released, so a generation
// that completed or sent a heartbeat since the listing is left alone.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	records, err := s.store.ListInProgress(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.staleAfter)
	recovered := 0
	for _, listed := range records {
		if !listed.DateUpdated.Before(cutoff) {
			continue
		}
		r, err := s.store.Get(ctx, listed.ID)
		if errors.Is(err, index.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		if !r.InProgress || !r.DateUpdated.Before(cutoff) {
			continue
		}
		r.InProgress = false
		r.Error = true
		r.FileExists = false
		lastHeartbeat := r.DateUpdated
		if err := s.store.Update(ctx, r); err != nil {
			return recovered, err
		}
		recovered++
		s.logger.Warn(ctx, "recovered abandoned transform",
			adapters.Field{Key: "record", Value: r.ID},
			adapters.Field{Key: "asset", Value: r.AssetID},
			adapters.Field{Key: "location", Value: r.Location},
			adapters.Field{Key: "lastHeartbeat", Value: lastHeartbeat})
	}
	return recovered, nil
}

// Run sweeps every interval until ctx is done. Sweep errors are logged.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error(ctx, "sweep failed", adapters.ErrField(err))
			}
		}
	}
}
