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

package index

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	byKey   map[string]string
	now     func() time.Time
	closed  bool
}

// NewMemoryStore creates an empty in-memory index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		byKey:   make(map[string]string),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func uniqueKey(assetID, location string) string {
	return assetID + "\x00" + location
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if s.closed {
		return Persistence(op, ErrStoreClosed)
	}
	select {
	case <-ctx.Done():
		return Persistence(op, ctx.Err())
	default:
	}
	return nil
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(ctx context.Context, assetID string, params transform.Parameters) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "get-or-create"); err != nil {
		return nil, false, err
	}

	uk := uniqueKey(assetID, params.Location())
	if id, ok := s.byKey[uk]; ok {
		return s.records[id].Clone(), false, nil
	}
	r := NewRecord(assetID, params, s.now())
	s.records[r.ID] = r
	s.byKey[uk] = r.ID
	return r.Clone(), true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "get"); err != nil {
		return nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return r.Clone(), nil
}

// Update implements Store.
func (s *MemoryStore) Update(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "update"); err != nil {
		return err
	}
	if _, ok := s.records[r.ID]; !ok {
		return Persistence("update", fmt.Errorf("%w: %s", ErrRecordNotFound, r.ID))
	}
	r.DateUpdated = s.now()
	s.records[r.ID] = r.Clone()
	return nil
}

// MarkFileExists implements Store.
func (s *MemoryStore) MarkFileExists(ctx context.Context, r *Record, exists bool) error {
	r.FileExists = exists
	return s.Update(ctx, r)
}

// FindEquivalent implements Store.
func (s *MemoryStore) FindEquivalent(ctx context.Context, assetID string, key transform.Key, format, excludeID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, "find-equivalent"); err != nil {
		return nil, err
	}
	var matches []*Record
	for _, r := range s.records {
		if r.AssetID == assetID && Equivalent(r, key, format, excludeID) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	SortByCompletion(matches)
	return matches[0].Clone(), nil
}

// ListByAsset implements Store.
func (s *MemoryStore) ListByAsset(ctx context.Context, assetID string) ([]*Record, error) {
	return s.filter(ctx, "list-by-asset", func(r *Record) bool { return r.AssetID == assetID })
}

// ListInProgress implements Store.
func (s *MemoryStore) ListInProgress(ctx context.Context) ([]*Record, error) {
	return s.filter(ctx, "list-in-progress", func(r *Record) bool { return r.InProgress })
}

func (s *MemoryStore) filter(ctx context.Context, op string, keep func(*Record) bool) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	out := make([]*Record, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r.Clone())
		}
	}
	SortByLocation(out)
	return out, nil
}

// DeleteByAsset implements Store.
func (s *MemoryStore) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "delete-by-asset"); err != nil {
		return 0, err
	}
	n := 0
	for id, r := range s.records {
		if r.AssetID == assetID {
			delete(s.byKey, uniqueKey(r.AssetID, r.Location))
			delete(s.records, id)
			n++
		}
	}
	return n, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "delete"); err != nil {
		return err
	}
	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	delete(s.byKey, uniqueKey(r.AssetID, r.Location))
	delete(s.records, id)
	return nil
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
