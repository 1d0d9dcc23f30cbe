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

// Package postgres is an index.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jeremyhahn/go-imgtransform/pkg/index"
	"github.com/jeremyhahn/go-imgtransform/pkg/transform"
)

const schema = `
CREATE TABLE IF NOT EXISTS image_transform_index (
	id                      UUID PRIMARY KEY,
	asset_id                TEXT NOT NULL,
	transform_key           TEXT NOT NULL,
	location                TEXT NOT NULL,
	params                  JSONB NOT NULL,
	format                  TEXT NOT NULL DEFAULT '',
	filename                TEXT NOT NULL DEFAULT '',
	file_exists             BOOLEAN NOT NULL DEFAULT FALSE,
	in_progress             BOOLEAN NOT NULL DEFAULT FALSE,
	error                   BOOLEAN NOT NULL DEFAULT FALSE,
	date_parameters_changed TIMESTAMPTZ NOT NULL,
	date_created            TIMESTAMPTZ NOT NULL,
	date_updated            TIMESTAMPTZ NOT NULL,
	date_completed          TIMESTAMPTZ NULL,
	checksum                TEXT NOT NULL DEFAULT '',
	UNIQUE (asset_id, location)
);
CREATE INDEX IF NOT EXISTS image_transform_index_equivalent
	ON image_transform_index (asset_id, transform_key, format);
CREATE INDEX IF NOT EXISTS image_transform_index_in_progress
	ON image_transform_index (in_progress) WHERE in_progress;
`

const columns = `id, asset_id, transform_key, location, params, format, filename,
	file_exists, in_progress, error, date_parameters_changed, date_created,
	date_updated, date_completed, checksum`

// Store is a pgx-backed index.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Open connects to dsn and returns a store. Call Migrate before first use.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, index.Persistence("open", fmt.Errorf("parse database url: %w", err))
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, index.Persistence("open", fmt.Errorf("connect database: %w", err))
	}
	return New(pool), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, now: time.Now}
}

// Migrate creates the index table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return index.Persistence("migrate", err)
}

// Postgres keeps microseconds; truncating up front keeps in-memory records
// equal to what a later read returns.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func scanRecord(row pgx.Row) (*index.Record, error) {
	var (
		r         index.Record
		key       string
		completed *time.Time
	)
	err := row.Scan(&r.ID, &r.AssetID, &key, &r.Location, &r.Params, &r.Format, &r.Filename,
		&r.FileExists, &r.InProgress, &r.Error, &r.DateParametersChanged, &r.DateCreated,
		&r.DateUpdated, &completed, &r.Checksum)
	if err != nil {
		return nil, err
	}
	r.Key = transform.Key(key)
	if completed != nil {
		r.DateCompleted = *completed
	}
	return &r, nil
}

func (s *Store) query(ctx context.Context, op, sql string, args ...any) ([]*index.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, index.Persistence(op, err)
	}
	defer rows.Close()

	out := []*index.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, index.Persistence(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, index.Persistence(op, err)
	}
	return out, nil
}

func nullable(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// GetOrCreate implements index.Store. The unique constraint on
// (asset_id, location) makes the insert-or-fetch atomic across processes.
func (s *Store) GetOrCreate(ctx context.Context, assetID string, params transform.Parameters) (*index.Record, bool, error) {
	r := index.NewRecord(assetID, params, s.timestamp())
	tag, err := s.pool.Exec(ctx, `
INSERT INTO image_transform_index (id, asset_id, transform_key, location, params,
	date_parameters_changed, date_created, date_updated)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (asset_id, location) DO NOTHING;
`, r.ID, r.AssetID, string(r.Key), r.Location, r.Params,
		r.DateParametersChanged, r.DateCreated, r.DateUpdated)
	if err != nil {
		return nil, false, index.Persistence("get-or-create", err)
	}
	if tag.RowsAffected() == 1 {
		return r, true, nil
	}

	existing, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM image_transform_index WHERE asset_id = $1 AND location = $2;`,
		assetID, params.Location()))
	if err != nil {
		return nil, false, index.Persistence("get-or-create", err)
	}
	return existing, false, nil
}

// Get implements index.Store.
func (s *Store) Get(ctx context.Context, id string) (*index.Record, error) {
	if !validID(id) {
		return nil, fmt.Errorf("%w: %s", index.ErrRecordNotFound, id)
	}
	r, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM image_transform_index WHERE id = $1::uuid;`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", index.ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, index.Persistence("get", err)
	}
	return r, nil
}

// Update implements index.Store.
func (s *Store) Update(ctx context.Context, r *index.Record) error {
	if !validID(r.ID) {
		return index.Persistence("update", fmt.Errorf("%w: %s", index.ErrRecordNotFound, r.ID))
	}
	updated := s.timestamp()
	tag, err := s.pool.Exec(ctx, `
UPDATE image_transform_index SET
	params = $2, format = $3, filename = $4, file_exists = $5, in_progress = $6,
	error = $7, date_parameters_changed = $8, date_updated = $9,
	date_completed = $10, checksum = $11
WHERE id = $1::uuid;
`, r.ID, r.Params, r.Format, r.Filename, r.FileExists, r.InProgress,
		r.Error, r.DateParametersChanged, updated, nullable(r.DateCompleted), r.Checksum)
	if err != nil {
		return index.Persistence("update", err)
	}
	if tag.RowsAffected() == 0 {
		return index.Persistence("update", fmt.Errorf("%w: %s", index.ErrRecordNotFound, r.ID))
	}
	r.DateUpdated = updated
	return nil
}

// MarkFileExists implements index.Store.
func (s *Store) MarkFileExists(ctx context.Context, r *index.Record, exists bool) error {
	r.FileExists = exists
	return s.Update(ctx, r)
}

// FindEquivalent implements index.Store.
func (s *Store) FindEquivalent(ctx context.Context, assetID string, key transform.Key, format, excludeID string) (*index.Record, error) {
	records, err := s.query(ctx, "find-equivalent", `
SELECT `+columns+` FROM image_transform_index
WHERE asset_id = $1 AND transform_key = $2 AND format = $3
	AND ($4::uuid IS NULL OR id <> $4::uuid)
	AND file_exists AND NOT in_progress
ORDER BY date_completed DESC NULLS LAST, date_updated DESC, id::text ASC
LIMIT 1;
`, assetID, string(key), format, optionalID(excludeID))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// ListByAsset implements index.Store.
func (s *Store) ListByAsset(ctx context.Context, assetID string) ([]*index.Record, error) {
	return s.query(ctx, "list-by-asset",
		`SELECT `+columns+` FROM image_transform_index WHERE asset_id = $1 ORDER BY location, id;`, assetID)
}

// ListInProgress implements index.Store.
func (s *Store) ListInProgress(ctx context.Context) ([]*index.Record, error) {
	return s.query(ctx, "list-in-progress",
		`SELECT `+columns+` FROM image_transform_index WHERE in_progress ORDER BY location, id;`)
}

// DeleteByAsset implements index.Store.
func (s *Store) DeleteByAsset(ctx context.Context, assetID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM image_transform_index WHERE asset_id = $1;`, assetID)
	if err != nil {
		return 0, index.Persistence("delete-by-asset", err)
	}
	return int(tag.RowsAffected()), nil
}

// Delete implements index.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return fmt.Errorf("%w: %s", index.ErrRecordNotFound, id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM image_transform_index WHERE id = $1::uuid;`, id)
	if err != nil {
		return index.Persistence("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", index.ErrRecordNotFound, id)
	}
	return nil
}

// validID reports whether id can name a row. Anything else cannot exist in
// the UUID primary key.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// optionalID returns id for a nullable uuid parameter, or nil when id names
// no row.
func optionalID(id string) any {
	if !validID(id) {
		return nil
	}
	return id
}

// Close implements index.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate removes every record.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE image_transform_index;`)
	return index.Persistence("truncate", err)
}
