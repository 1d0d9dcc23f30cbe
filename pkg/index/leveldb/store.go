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

// Package leveldb is an embedded index.Store on goleveldb.
//
// Layout:
//
//	r:{id}                 CBOR record
//	k:{asset}\x00{location} record id, enforcing one record per slot
//	a:{asset}\x00{id}      asset membership, for per-asset scans
package leveldb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Sub-second precision matters for heartbeat and completion ordering.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("leveldb: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("leveldb: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store is a goleveldb-backed index.
type Store struct {
	db *leveldb.DB
	// mu serializes read-modify-write sequences; leveldb itself only
	// orders individual writes.
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates a store at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, index.Persistence("open", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// OpenMemory opens a store that lives only in memory.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, index.Persistence("open", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func recordKey(id string) []byte { return []byte("r:" + id) }

func slotKey(assetID, location string) []byte {
	return []byte("k:" + assetID + "\x00" + location)
}

func assetKey(assetID, id string) []byte {
	return []byte("a:" + assetID + "\x00" + id)
}

func assetPrefix(assetID string) []byte {
	return []byte("a:" + assetID + "\x00")
}

type getter interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
}

func load(g getter, id string) (*index.Record, error) {
	b, err := g.Get(recordKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", index.ErrRecordNotFound, id)
		}
		return nil, err
	}
	var r index.Record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &r, nil
}

func ctxErr(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return index.Persistence(op, ctx.Err())
	default:
	}
	return nil
}

// GetOrCreate implements index.Store.
func (s *Store) GetOrCreate(ctx context.Context, assetID string, params transform.Parameters) (*index.Record, bool, error) {
	if err := ctxErr(ctx, "get-or-create"); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tr, err := s.db.OpenTransaction()
	if err != nil {
		return nil, false, index.Persistence("get-or-create", err)
	}

	slot := slotKey(assetID, params.Location())
	id, err := tr.Get(slot, nil)
	if err == nil {
		tr.Discard()
		r, err := load(s.db, string(id))
		if err != nil {
			return nil, false, index.Persistence("get-or-create", err)
		}
		return r, false, nil
	}
	if !errors.Is(err, leveldb.ErrNotFound) {
		tr.Discard()
		return nil, false, index.Persistence("get-or-create", err)
	}

	r := index.NewRecord(assetID, params, s.now())
	b, err := encMode.Marshal(r)
	if err != nil {
		tr.Discard()
		return nil, false, index.Persistence("get-or-create", err)
	}
	batch := new(leveldb.Batch)
	batch.Put(recordKey(r.ID), b)
	batch.Put(slot, []byte(r.ID))
	batch.Put(assetKey(assetID, r.ID), nil)
	if err := tr.Write(batch, nil); err != nil {
		tr.Discard()
		return nil, false, index.Persistence("get-or-create", err)
	}
	if err := tr.Commit(); err != nil {
		return nil, false, index.Persistence("get-or-create", err)
	}
	return r, true, nil
}

// Get implements index.Store.
func (s *Store) Get(ctx context.Context, id string) (*index.Record, error) {
	if err := ctxErr(ctx, "get"); err != nil {
		return nil, err
	}
	r, err := load(s.db, id)
	if err != nil {
		if errors.Is(err, index.ErrRecordNotFound) {
			return nil, err
		}
		return nil, index.Persistence("get", err)
	}
	return r, nil
}

// Update implements index.Store.
func (s *Store) Update(ctx context.Context, r *index.Record) error {
	if err := ctxErr(ctx, "update"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := s.db.Has(recordKey(r.ID), nil); err != nil {
		return index.Persistence("update", err)
	} else if !ok {
		return index.Persistence("update", fmt.Errorf("%w: %s", index.ErrRecordNotFound, r.ID))
	}

	r.DateUpdated = s.now()
	b, err := encMode.Marshal(r)
	if err != nil {
		return index.Persistence("update", err)
	}
	return index.Persistence("update", s.db.Put(recordKey(r.ID), b, nil))
}

// MarkFileExists implements index.Store.
func (s *Store) MarkFileExists(ctx context.Context, r *index.Record, exists bool) error {
	r.FileExists = exists
	return s.Update(ctx, r)
}

func (s *Store) byAsset(assetID string) ([]*index.Record, error) {
	it := s.db.NewIterator(util.BytesPrefix(assetPrefix(assetID)), nil)
	defer it.Release()

	prefixLen := len(assetPrefix(assetID))
	var out []*index.Record
	for it.Next() {
		id := string(it.Key()[prefixLen:])
		r, err := load(s.db, id)
		if err != nil {
			if errors.Is(err, index.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, it.Error()
}

// FindEquivalent implements index.Store.
func (s *Store) FindEquivalent(ctx context.Context, assetID string, key transform.Key, format, excludeID string) (*index.Record, error) {
	if err := ctxErr(ctx, "find-equivalent"); err != nil {
		return nil, err
	}
	records, err := s.byAsset(assetID)
	if err != nil {
		return nil, index.Persistence("find-equivalent", err)
	}
	var matches []*index.Record
	for _, r := range records {
		if index.Equivalent(r, key, format, excludeID) {
			matches = append(matches, r)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	index.SortByCompletion(matches)
	return matches[0], nil
}

// ListByAsset implements index.Store.
func (s *Store) ListByAsset(ctx context.Context, assetID string) ([]*index.Record, error) {
	if err := ctxErr(ctx, "list-by-asset"); err != nil {
		return nil, err
	}
	records, err := s.byAsset(assetID)
	if err != nil {
		return nil, index.Persistence("list-by-asset", err)
	}
	if records == nil {
		records = []*index.Record{}
	}
	index.SortByLocation(records)
	return records, nil
}

// ListInProgress implements index.Store.
func (s *Store) ListInProgress(ctx context.Context) ([]*index.Record, error) {
	if err := ctxErr(ctx, "list-in-progress"); err != nil {
		return nil, err
	}
	it := s.db.NewIterator(util.BytesPrefix([]byte("r:")), nil)
	defer it.Release()

	out := []*index.Record{}
	for it.Next() {
		var r index.Record
		if err := decMode.Unmarshal(it.Value(), &r); err != nil {
			return nil, index.Persistence("list-in-progress", err)
		}
		if r.InProgress {
			out = append(out, &r)
		}
	}
	if err := it.Error(); err != nil {
		return nil, index.Persistence("list-in-progress", err)
	}
	index.SortByLocation(out)
	return out, nil
}

// DeleteByAsset implements index.Store.
func (s *Store) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	if err := ctxErr(ctx, "delete-by-asset"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.byAsset(assetID)
	if err != nil {
		return 0, index.Persistence("delete-by-asset", err)
	}
	batch := new(leveldb.Batch)
	for _, r := range records {
		batch.Delete(recordKey(r.ID))
		batch.Delete(slotKey(r.AssetID, r.Location))
		batch.Delete(assetKey(r.AssetID, r.ID))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, index.Persistence("delete-by-asset", err)
	}
	return len(records), nil
}

// Delete implements index.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctxErr(ctx, "delete"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := load(s.db, id)
	if err != nil {
		if errors.Is(err, index.ErrRecordNotFound) {
			return err
		}
		return index.Persistence("delete", err)
	}
	batch := new(leveldb.Batch)
	batch.Delete(recordKey(r.ID))
	batch.Delete(slotKey(r.AssetID, r.Location))
	batch.Delete(assetKey(r.AssetID, r.ID))
	return index.Persistence("delete", s.db.Write(batch, nil))
}

// Close implements index.Store.
func (s *Store) Close() error {
	return index.Persistence("close", s.db.Close())
}
