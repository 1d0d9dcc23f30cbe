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

// Package index persists one transform record per asset and normalized
// transform key.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jeremyhahn/go-imgtransform/pkg/common"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

// Record tracks one materialized or pending transform of one asset. It is
// unique per (AssetID, Location); Key is the equivalence lookup shared by
// named and ad-hoc transforms with the same geometry.
type Record struct {
	ID                    string               `json:"id" cbor:"1,keyasint"`
	AssetID               string               `json:"assetId" cbor:"2,keyasint"`
	Key                   transform.Key        `json:"key" cbor:"3,keyasint"`
	Location              string               `json:"location" cbor:"15,keyasint"`
	Params                transform.Parameters `json:"params" cbor:"4,keyasint"`
	Format                string               `json:"format,omitempty" cbor:"5,keyasint,omitempty"`
	Filename              string               `json:"filename,omitempty" cbor:"6,keyasint,omitempty"`
	FileExists            bool                 `json:"fileExists" cbor:"7,keyasint"`
	InProgress            bool                 `json:"inProgress" cbor:"8,keyasint"`
	Error                 bool                 `json:"error" cbor:"9,keyasint"`
	DateParametersChanged time.Time            `json:"dateParametersChanged" cbor:"10,keyasint"`
	DateCreated           time.Time            `json:"dateCreated" cbor:"11,keyasint"`
	DateUpdated           time.Time            `json:"dateUpdated" cbor:"12,keyasint"`
	DateCompleted         time.Time            `json:"dateCompleted,omitempty" cbor:"13,keyasint,omitempty"`
	Checksum              string               `json:"checksum,omitempty" cbor:"14,keyasint,omitempty"`
}

// NewRecord creates a pending record for normalized parameters. The
// parameter-change time starts zero: any derived file already present was
// produced by these parameters, whatever the volume's timestamp precision.
func NewRecord(assetID string, params transform.Parameters, now time.Time) *Record {
	return &Record{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Key:         params.Key(),
		Location:    params.Location(),
		Params:      params,
		DateCreated: now,
		DateUpdated: now,
	}
}

// Clone returns a copy that shares nothing mutable with r.
func (r *Record) Clone() *Record {
	c := *r
	if r.Params.Upscale != nil {
		v := *r.Params.Upscale
		c.Params.Upscale = &v
	}
	return &c
}

// Store is the transform index.
type Store interface {
	// GetOrCreate returns the record for (assetID, params.Location()),
	// creating a pending one if none exists. The boolean reports creation.
	// Insert-or-fetch is atomic: concurrent callers get the same record.
	GetOrCreate(ctx context.Context, assetID string, params transform.Parameters) (*Record, bool, error)
	// Get returns a record by ID.
	Get(ctx context.Context, id string) (*Record, error)
	// Update persists all mutable fields of r and refreshes DateUpdated.
	Update(ctx context.Context, r *Record) error
	// MarkFileExists sets FileExists and persists it.
	MarkFileExists(ctx context.Context, r *Record, exists bool) error
	// FindEquivalent returns the most recently completed record of the asset
	// with the same key and resolved format, other than excludeID.
	FindEquivalent(ctx context.Context, assetID string, key transform.Key, format, excludeID string) (*Record, error)
	ListByAsset(ctx context.Context, assetID string) ([]*Record, error)
	ListInProgress(ctx context.Context) ([]*Record, error)
	DeleteByAsset(ctx context.Context, assetID string) (int, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// PersistenceError reports that the index could not be read or written.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", common.ErrIndexPersistence, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *PersistenceError) Unwrap() []error {
	return []error{common.ErrIndexPersistence, e.Err}
}

// Persistence wraps err as a PersistenceError, leaving nil and existing
// PersistenceErrors untouched.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

var (
	// ErrRecordNotFound is returned by Get and Delete for unknown IDs.
	ErrRecordNotFound = fmt.Errorf("%w: transform record", common.ErrKeyNotFound)

	// ErrStoreClosed is returned by every operation after Close.
	ErrStoreClosed = errors.New("index store closed")
)

// Equivalent reports whether r can stand in for a request with key and
// resolved format.
func Equivalent(r *Record, key transform.Key, format, excludeID string) bool {
	return r.ID != excludeID && r.FileExists && !r.InProgress && r.Key == key && r.Format == format
}

// SortByCompletion orders records most recently completed first, breaking
// ties on DateUpdated and then ID.
func SortByCompletion(records []*Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.DateCompleted.Equal(b.DateCompleted) {
			return a.DateCompleted.After(b.DateCompleted)
		}
		if !a.DateUpdated.Equal(b.DateUpdated) {
			return a.DateUpdated.After(b.DateUpdated)
		}
		return a.ID < b.ID
	})
}

// SortByLocation orders records by location, then ID.
func SortByLocation(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Location != records[j].Location {
			return records[i].Location < records[j].Location
		}
		return records[i].ID < records[j].ID
	})
}
