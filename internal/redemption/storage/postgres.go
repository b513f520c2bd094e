// Copyright 2026 Esteban Alvarez. All Rights Reserved.
//
// Created: August 2026
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"dropcode"
	"dropcode/internal/redemption/core"
)

// Postgres schema (reference, applied by EnsureSchema):
//
// CREATE TABLE IF NOT EXISTS batches (
//   code                TEXT PRIMARY KEY,
//   used                BOOLEAN NOT NULL DEFAULT FALSE,
//   redeemed_by         TEXT NOT NULL DEFAULT '',
//   redeemed_by_display TEXT NOT NULL DEFAULT '',
//   redeemed_at         TIMESTAMPTZ,
//   created_at          TIMESTAMPTZ NOT NULL,
//   title               TEXT NOT NULL DEFAULT '',
//   note                TEXT NOT NULL DEFAULT ''
// );
//
// CREATE TABLE IF NOT EXISTS batch_content (
//   id   BIGSERIAL PRIMARY KEY,
//   code TEXT NOT NULL REFERENCES batches(code) ON DELETE CASCADE,
//   ref  TEXT NOT NULL
// );
// CREATE INDEX IF NOT EXISTS idx_batch_content_code ON batch_content(code);
//
// Mutations that gate on the used flag run in a transaction that takes a row
// lock (SELECT ... FOR UPDATE) on the batches row first, so two concurrent
// redeems serialize on the row and exactly one observes used = FALSE.

const postgresSchema = `
CREATE TABLE IF NOT EXISTS batches (
  code                TEXT PRIMARY KEY,
  used                BOOLEAN NOT NULL DEFAULT FALSE,
  redeemed_by         TEXT NOT NULL DEFAULT '',
  redeemed_by_display TEXT NOT NULL DEFAULT '',
  redeemed_at         TIMESTAMPTZ,
  created_at          TIMESTAMPTZ NOT NULL,
  title               TEXT NOT NULL DEFAULT '',
  note                TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS batch_content (
  id   BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL REFERENCES batches(code) ON DELETE CASCADE,
  ref  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_batch_content_code ON batch_content(code);
`

// PostgresStore implements core.Store on Postgres via database/sql and lib/pq.
type PostgresStore struct {
	db *sql.DB
	// Per-call timeout fallback if ctx has no deadline.
	defaultTimeout time.Duration

	// Now is the clock; tests may pin it.
	Now func() time.Time
}

// NewPostgresStore creates a store over an open *sql.DB.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, defaultTimeout: 10 * time.Second, Now: time.Now}
}

// OpenPostgresStore opens a lib/pq connection for the DSN and applies the
// schema.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "open", Err: err}
	}
	s := NewPostgresStore(db)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return &dropcode.PersistenceError{Op: "ensureSchema", Err: err}
	}
	return nil
}

// bound provides a default timeout if the caller didn't bound the context.
func (s *PostgresStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && s.defaultTimeout > 0 {
		return context.WithTimeout(ctx, s.defaultTimeout)
	}
	return ctx, func() {}
}

func (s *PostgresStore) Get(ctx context.Context, code string) (*dropcode.Batch, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	b, err := scanBatch(s.db.QueryRowContext(ctx,
		`SELECT code, used, redeemed_by, redeemed_by_display, redeemed_at, created_at, title, note
		   FROM batches WHERE code = $1`, code))
	if err != nil {
		return nil, err
	}
	refs, err := s.contentRefs(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	b.ContentRefs = refs
	return b, nil
}

func (s *PostgresStore) Create(ctx context.Context, code string, b *dropcode.Batch) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return &dropcode.PersistenceError{Op: "create", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO batches(code, used, redeemed_by, redeemed_by_display, redeemed_at, created_at, title, note)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		code, b.Used, b.RedeemedBy, b.RedeemedByDisplay, nullTime(b.RedeemedAt), b.CreatedAt, b.Title, b.Note)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return dropcode.ErrAlreadyExists
		}
		return &dropcode.PersistenceError{Op: "create", Err: err}
	}
	for _, ref := range b.ContentRefs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO batch_content(code, ref) VALUES ($1, $2)`, code, ref); err != nil {
			return &dropcode.PersistenceError{Op: "create", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &dropcode.PersistenceError{Op: "create", Err: err}
	}
	return nil
}

func (s *PostgresStore) AppendContent(ctx context.Context, code, ref string) (*dropcode.Batch, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	b, err := s.lockBatch(ctx, tx, code, "appendContent")
	if err != nil {
		return nil, err
	}
	if b.Used {
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: b.RedeemedByDisplay}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO batch_content(code, ref) VALUES ($1, $2)`, code, ref); err != nil {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: err}
	}
	refs, err := s.contentRefs(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: err}
	}
	b.ContentRefs = refs
	return b, nil
}

func (s *PostgresStore) Redeem(ctx context.Context, code, identity, display string) ([]string, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	b, err := s.lockBatch(ctx, tx, code, "redeem")
	if err != nil {
		return nil, err
	}
	if b.Used {
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: b.RedeemedByDisplay}
	}
	refs, err := s.contentRefs(ctx, tx, code)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, dropcode.ErrEmptyBatch
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE batches SET used = TRUE, redeemed_by = $2, redeemed_by_display = $3, redeemed_at = $4
		  WHERE code = $1`,
		code, identity, display, s.Now()); err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	return refs, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, code string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return &dropcode.PersistenceError{Op: "revoke", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	b, err := s.lockBatch(ctx, tx, code, "revoke")
	if err != nil {
		return err
	}
	if b.Used {
		// Already terminal: overwrite the redeemer labels only.
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET redeemed_by = $2, redeemed_by_display = $3 WHERE code = $1`,
			code, dropcode.RevokedMarker, dropcode.RevokedDisplay)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE batches SET used = TRUE, redeemed_by = $2, redeemed_by_display = $3, redeemed_at = $4
			  WHERE code = $1`,
			code, dropcode.RevokedMarker, dropcode.RevokedDisplay, s.Now())
	}
	if err != nil {
		return &dropcode.PersistenceError{Op: "revoke", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &dropcode.PersistenceError{Op: "revoke", Err: err}
	}
	return nil
}

func (s *PostgresStore) SetTitle(ctx context.Context, code, text string) error {
	return s.annotate(ctx, code, "title", text)
}

func (s *PostgresStore) SetNote(ctx context.Context, code, text string) error {
	return s.annotate(ctx, code, "note", text)
}

func (s *PostgresStore) annotate(ctx context.Context, code, column, text string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	// column is one of two fixed identifiers, never caller input.
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE batches SET %s = $2 WHERE code = $1`, column), code, text)
	if err != nil {
		return &dropcode.PersistenceError{Op: "setAnnotation", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &dropcode.PersistenceError{Op: "setAnnotation", Err: err}
	}
	if n == 0 {
		return dropcode.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*dropcode.Batch, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(ctx,
		`SELECT code, used, redeemed_by, redeemed_by_display, redeemed_at, created_at, title, note
		   FROM batches`)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}
	defer rows.Close()

	byCode := make(map[string]*dropcode.Batch)
	out := make([]*dropcode.Batch, 0)
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		byCode[b.Code] = b
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}

	refRows, err := s.db.QueryContext(ctx,
		`SELECT code, ref FROM batch_content ORDER BY id`)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}
	defer refRows.Close()
	for refRows.Next() {
		var code, ref string
		if err := refRows.Scan(&code, &ref); err != nil {
			return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
		}
		if b, ok := byCode[code]; ok {
			b.ContentRefs = append(b.ContentRefs, ref)
		}
	}
	if err := refRows.Err(); err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}
	core.SortBatches(out)
	return out, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (core.Stats, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	var st core.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE used),
		        COUNT(DISTINCT redeemed_by) FILTER (WHERE used AND redeemed_by <> '')
		   FROM batches`).Scan(&st.Total, &st.Used, &st.DistinctRedeemers)
	if err != nil {
		return core.Stats{}, &dropcode.PersistenceError{Op: "stats", Err: err}
	}
	return st, nil
}

// querier is the subset of *sql.DB / *sql.Tx we read through.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgresStore) contentRefs(ctx context.Context, q querier, code string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ref FROM batch_content WHERE code = $1 ORDER BY id`, code)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "contentRefs", Err: err}
	}
	defer rows.Close()
	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, &dropcode.PersistenceError{Op: "contentRefs", Err: err}
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, &dropcode.PersistenceError{Op: "contentRefs", Err: err}
	}
	return refs, nil
}

// lockBatch reads the batches row under FOR UPDATE so the caller's decision
// about the used flag stays valid until commit.
func (s *PostgresStore) lockBatch(ctx context.Context, tx *sql.Tx, code, op string) (*dropcode.Batch, error) {
	b, err := scanBatch(tx.QueryRowContext(ctx,
		`SELECT code, used, redeemed_by, redeemed_by_display, redeemed_at, created_at, title, note
		   FROM batches WHERE code = $1 FOR UPDATE`, code))
	if err != nil {
		var perr *dropcode.PersistenceError
		if errors.As(err, &perr) {
			perr.Op = op
		}
		return nil, err
	}
	return b, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBatch(row rowScanner) (*dropcode.Batch, error) {
	var b dropcode.Batch
	var redeemedAt sql.NullTime
	err := row.Scan(&b.Code, &b.Used, &b.RedeemedBy, &b.RedeemedByDisplay,
		&redeemedAt, &b.CreatedAt, &b.Title, &b.Note)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, dropcode.ErrNotFound
	}
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "scan", Err: err}
	}
	if redeemedAt.Valid {
		b.RedeemedAt = redeemedAt.Time
	}
	return &b, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
