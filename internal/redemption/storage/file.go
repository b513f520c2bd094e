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

// Package storage provides durable Store implementations behind the contract
// defined in internal/redemption/core: a JSON file store (the default), an
// idempotent Redis adapter, and a Postgres adapter, plus a factory to select
// one from configuration.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dropcode"
	"dropcode/internal/redemption/core"
)

// FileStore keeps the authoritative state in memory under one mutex and
// snapshots the full record set to a JSON file on every mutation. The write
// happens inside the critical section, so the durable file and the in-memory
// map can never disagree about a committed operation: if the write fails, the
// in-memory effect is rolled back and the operation reports PersistenceError.
//
// The file layout is the stable external format: a single object mapping
// code -> batch record. A missing file is an empty store; a file that exists
// but does not parse is an error, never silently treated as empty.
type FileStore struct {
	mu      sync.Mutex
	path    string
	batches map[string]*dropcode.Batch

	// Now is the clock; tests may pin it.
	Now func() time.Time
}

// OpenFileStore loads (or initializes) the store at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		batches: make(map[string]*dropcode.Batch),
		Now:     time.Now,
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// First run: the store materializes on the first write.
		return s, nil
	}
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "load", Err: err}
	}
	if err := json.Unmarshal(raw, &s.batches); err != nil {
		// Corrupt is not the same as missing: propagate instead of wiping.
		return nil, fmt.Errorf("store file %s is malformed: %w", path, err)
	}
	for code, b := range s.batches {
		b.Code = code
	}
	return s, nil
}

// persistLocked writes the full record set durably. Callers hold s.mu. The
// write goes through a temp file and rename so a crash mid-write never leaves
// a truncated store behind.
func (s *FileStore) persistLocked(op string) error {
	raw, err := json.MarshalIndent(s.batches, "", "  ")
	if err != nil {
		return &dropcode.PersistenceError{Op: op, Err: err}
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &dropcode.PersistenceError{Op: op, Err: err}
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return &dropcode.PersistenceError{Op: op, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &dropcode.PersistenceError{Op: op, Err: err}
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, code string) (*dropcode.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return nil, dropcode.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *FileStore) Create(ctx context.Context, code string, b *dropcode.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[code]; ok {
		return dropcode.ErrAlreadyExists
	}
	c := b.Clone()
	c.Code = code
	s.batches[code] = c
	if err := s.persistLocked("create"); err != nil {
		delete(s.batches, code)
		return err
	}
	return nil
}

func (s *FileStore) AppendContent(ctx context.Context, code, ref string) (*dropcode.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return nil, dropcode.ErrNotFound
	}
	if b.Used {
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: b.RedeemedByDisplay}
	}
	b.ContentRefs = append(b.ContentRefs, ref)
	if err := s.persistLocked("appendContent"); err != nil {
		b.ContentRefs = b.ContentRefs[:len(b.ContentRefs)-1]
		return nil, err
	}
	return b.Clone(), nil
}

func (s *FileStore) Redeem(ctx context.Context, code, identity, display string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return nil, dropcode.ErrNotFound
	}
	if b.Used {
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: b.RedeemedByDisplay}
	}
	if len(b.ContentRefs) == 0 {
		return nil, dropcode.ErrEmptyBatch
	}
	prev := b.Clone()
	b.MarkRedeemed(identity, display, s.Now())
	if err := s.persistLocked("redeem"); err != nil {
		// The transition is only committed once it is durable.
		prev.Code = code
		s.batches[code] = prev
		return nil, err
	}
	return append([]string(nil), b.ContentRefs...), nil
}

func (s *FileStore) Revoke(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return dropcode.ErrNotFound
	}
	prev := b.Clone()
	if b.Used {
		b.RedeemedBy = dropcode.RevokedMarker
		b.RedeemedByDisplay = dropcode.RevokedDisplay
	} else {
		b.MarkRedeemed(dropcode.RevokedMarker, dropcode.RevokedDisplay, s.Now())
	}
	if err := s.persistLocked("revoke"); err != nil {
		prev.Code = code
		s.batches[code] = prev
		return err
	}
	return nil
}

func (s *FileStore) SetTitle(ctx context.Context, code, text string) error {
	return s.annotate(code, "setTitle", func(b *dropcode.Batch) { b.Title = text })
}

func (s *FileStore) SetNote(ctx context.Context, code, text string) error {
	return s.annotate(code, "setNote", func(b *dropcode.Batch) { b.Note = text })
}

func (s *FileStore) annotate(code, op string, apply func(*dropcode.Batch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return dropcode.ErrNotFound
	}
	prev := b.Clone()
	apply(b)
	if err := s.persistLocked(op); err != nil {
		prev.Code = code
		s.batches[code] = prev
		return err
	}
	return nil
}

func (s *FileStore) List(ctx context.Context) ([]*dropcode.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dropcode.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b.Clone())
	}
	core.SortBatches(out)
	return out, nil
}

func (s *FileStore) Stats(ctx context.Context) (core.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := core.Stats{Total: len(s.batches)}
	redeemers := make(map[string]struct{})
	for _, b := range s.batches {
		if b.Used {
			st.Used++
			if b.RedeemedBy != "" {
				redeemers[b.RedeemedBy] = struct{}{}
			}
		}
	}
	st.DistinctRedeemers = len(redeemers)
	return st, nil
}
