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
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"

	"dropcode"
)

// Minimal fake SQL driver to exercise PostgresStore transaction, Exec, and
// Query paths without a live database.

type fakePg struct {
	execs   []string
	queries []string
	// results is a queue consumed by query calls in order.
	results []*fakeRows
	// failExecAt maps 1-based exec call index to an error.
	failExecAt map[int]error
	// execAffected is the RowsAffected value for every exec (default 1).
	execAffected  int64
	failCommit    error
	commitCount   int
	rollbackCount int
}

func newFakePg() *fakePg { return &fakePg{execAffected: 1} }

type fakeRows struct {
	cols []string
	rows [][]driver.Value
	i    int
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

type fakePgDriver struct{}

type fakePgConn struct{ db *fakePg }

type fakePgTx struct {
	db     *fakePg
	closed bool
}

type fakePgResult int64

func (fakePgResult) LastInsertId() (int64, error)  { return 0, nil }
func (r fakePgResult) RowsAffected() (int64, error) { return int64(r), nil }

func (fakePgDriver) Open(name string) (driver.Conn, error) {
	return &fakePgConn{db: testFakePg}, nil
}

func (c *fakePgConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not supported")
}
func (c *fakePgConn) Close() error { return nil }
func (c *fakePgConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}
func (c *fakePgConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	return &fakePgTx{db: c.db}, nil
}
func (c *fakePgConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.execs = append(c.db.execs, query)
	idx := len(c.db.execs)
	if c.db.failExecAt != nil {
		if err, ok := c.db.failExecAt[idx]; ok {
			return nil, err
		}
	}
	return fakePgResult(c.db.execAffected), nil
}
func (c *fakePgConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.queries = append(c.db.queries, query)
	if len(c.db.results) == 0 {
		return &fakeRows{}, nil
	}
	rows := c.db.results[0]
	c.db.results = c.db.results[1:]
	return rows, nil
}

func (t *fakePgTx) Commit() error {
	if t.closed {
		return errors.New("already closed")
	}
	t.db.commitCount++
	t.closed = true
	return t.db.failCommit
}
func (t *fakePgTx) Rollback() error {
	if t.closed {
		return nil
	}
	t.db.rollbackCount++
	t.closed = true
	return nil
}

var testFakePg *fakePg

func init() {
	sql.Register("fakepg", fakePgDriver{})
}

func newSQLDBWithFakePg(db *fakePg) *sql.DB {
	testFakePg = db
	d, _ := sql.Open("fakepg", "")
	return d
}

var batchCols = []string{"code", "used", "redeemed_by", "redeemed_by_display", "redeemed_at", "created_at", "title", "note"}

func batchRow(code string, used bool, display string) *fakeRows {
	var redeemedAt driver.Value
	by := ""
	if used {
		by = "42"
		redeemedAt = time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	}
	return &fakeRows{
		cols: batchCols,
		rows: [][]driver.Value{{code, used, by, display, redeemedAt, time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC), "", ""}},
	}
}

func refRows(refs ...string) *fakeRows {
	r := &fakeRows{cols: []string{"ref"}}
	for _, ref := range refs {
		r.rows = append(r.rows, []driver.Value{ref})
	}
	return r
}

// TestPostgresStore_RedeemWinner drives the happy path: row lock, refs read,
// used flip, commit.
func TestPostgresStore_RedeemWinner(t *testing.T) {
	f := newFakePg()
	f.results = []*fakeRows{
		batchRow("K7m2Qx", false, ""),
		refRows("ref-a", "ref-b"),
	}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	refs, err := s.Redeem(context.Background(), "K7m2Qx", "42", "user 42")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if len(refs) != 2 || refs[0] != "ref-a" || refs[1] != "ref-b" {
		t.Fatalf("refs = %v", refs)
	}
	if f.commitCount != 1 || f.rollbackCount != 0 {
		t.Fatalf("commit/rollback = %d/%d", f.commitCount, f.rollbackCount)
	}
	if !strings.Contains(f.queries[0], "FOR UPDATE") {
		t.Fatalf("redeem must lock the row: %q", f.queries[0])
	}
	if len(f.execs) != 1 || !strings.Contains(f.execs[0], "SET used = TRUE") {
		t.Fatalf("execs = %v", f.execs)
	}
}

// TestPostgresStore_RedeemAlreadyUsed verifies the loser path rolls back with
// the winner's label and touches nothing.
func TestPostgresStore_RedeemAlreadyUsed(t *testing.T) {
	f := newFakePg()
	f.results = []*fakeRows{batchRow("K7m2Qx", true, "user 42")}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	_, err := s.Redeem(context.Background(), "K7m2Qx", "99", "user 99")
	var used *dropcode.AlreadyUsedError
	if !errors.As(err, &used) || used.RedeemedByDisplay != "user 42" {
		t.Fatalf("err = %v, want AlreadyUsedError{user 42}", err)
	}
	if f.rollbackCount != 1 || f.commitCount != 0 || len(f.execs) != 0 {
		t.Fatalf("loser mutated state: commits=%d execs=%v", f.commitCount, f.execs)
	}
}

// TestPostgresStore_RedeemUnknownAndEmpty covers the remaining refusal modes.
func TestPostgresStore_RedeemUnknownAndEmpty(t *testing.T) {
	t.Run("Unknown", func(t *testing.T) {
		f := newFakePg()
		s := NewPostgresStore(newSQLDBWithFakePg(f))
		_, err := s.Redeem(context.Background(), "nosuch", "42", "user 42")
		if !errors.Is(err, dropcode.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
	t.Run("Empty", func(t *testing.T) {
		f := newFakePg()
		f.results = []*fakeRows{batchRow("Z9z000", false, ""), refRows()}
		s := NewPostgresStore(newSQLDBWithFakePg(f))
		_, err := s.Redeem(context.Background(), "Z9z000", "42", "user 42")
		if !errors.Is(err, dropcode.ErrEmptyBatch) {
			t.Fatalf("err = %v, want ErrEmptyBatch", err)
		}
		if f.commitCount != 0 {
			t.Fatalf("empty batch must not commit")
		}
	})
}

// TestPostgresStore_CreateDuplicate maps the unique violation onto
// ErrAlreadyExists.
func TestPostgresStore_CreateDuplicate(t *testing.T) {
	f := newFakePg()
	f.failExecAt = map[int]error{1: &pq.Error{Code: "23505"}}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	err := s.Create(context.Background(), "dupPg1", dropcode.NewBatch("dupPg1", time.Now()))
	if !errors.Is(err, dropcode.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
	if f.rollbackCount != 1 || f.commitCount != 0 {
		t.Fatalf("duplicate create must roll back")
	}
}

// TestPostgresStore_RevokeUsedKeepsTimestamp verifies revoking a used batch
// only rewrites the redeemer labels.
func TestPostgresStore_RevokeUsedKeepsTimestamp(t *testing.T) {
	f := newFakePg()
	f.results = []*fakeRows{batchRow("usedQ1", true, "user 42")}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	if err := s.Revoke(context.Background(), "usedQ1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(f.execs) != 1 {
		t.Fatalf("execs = %v", f.execs)
	}
	if strings.Contains(f.execs[0], "used = TRUE") || strings.Contains(f.execs[0], "redeemed_at") {
		t.Fatalf("revoke of used batch must only touch labels: %q", f.execs[0])
	}
}

// TestPostgresStore_AnnotateUnknown maps zero affected rows to ErrNotFound.
func TestPostgresStore_AnnotateUnknown(t *testing.T) {
	f := newFakePg()
	f.execAffected = 0
	s := NewPostgresStore(newSQLDBWithFakePg(f))
	if err := s.SetTitle(context.Background(), "nosuch", "x"); !errors.Is(err, dropcode.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// TestPostgresStore_GetAssemblesRefs verifies Get joins the two tables back
// into one batch.
func TestPostgresStore_GetAssemblesRefs(t *testing.T) {
	f := newFakePg()
	f.results = []*fakeRows{batchRow("getPg1", false, ""), refRows("ref-1", "ref-2")}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	b, err := s.Get(context.Background(), "getPg1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if b.Code != "getPg1" || b.Used || len(b.ContentRefs) != 2 {
		t.Fatalf("batch = %+v", b)
	}
}

// TestPostgresStore_Stats decodes the single aggregate row.
func TestPostgresStore_Stats(t *testing.T) {
	f := newFakePg()
	f.results = []*fakeRows{{
		cols: []string{"count", "count", "count"},
		rows: [][]driver.Value{{int64(4), int64(3), int64(2)}},
	}}
	s := NewPostgresStore(newSQLDBWithFakePg(f))

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Total != 4 || st.Used != 3 || st.DistinctRedeemers != 2 {
		t.Fatalf("stats = %+v", st)
	}
}
