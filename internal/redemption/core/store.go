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

// Package core implements the batch lifecycle and one-time redemption engine:
// the store contract, burst aggregation, the redemption state machine, and the
// background worker. Durable store implementations live in
// internal/redemption/storage; this file defines the contract they satisfy and
// an in-memory reference implementation.
package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"dropcode"
)

// Stats is the aggregate view served to operators.
type Stats struct {
	Total             int `json:"total"`
	Used              int `json:"used"`
	DistinctRedeemers int `json:"distinctRedeemers"`
}

// Store is the sole authority over persisted batch state. Every method is
// atomic with respect to concurrent callers on the same code; Redeem is the
// crux: no interleaving may let two callers both observe an unused batch.
//
// All methods return clones; callers never hold references into store state.
type Store interface {
	// Get returns the batch for code, or dropcode.ErrNotFound.
	Get(ctx context.Context, code string) (*dropcode.Batch, error)

	// Create registers a new batch under code, or dropcode.ErrAlreadyExists.
	Create(ctx context.Context, code string, b *dropcode.Batch) error

	// AppendContent appends one content reference to an unused batch and
	// returns the updated record. dropcode.ErrNotFound if the code is absent;
	// dropcode.ErrAlreadyUsed if the batch already reached its terminal state.
	AppendContent(ctx context.Context, code, ref string) (*dropcode.Batch, error)

	// Redeem is the one indivisible check-and-set: verify used==false and
	// contentRefs non-empty, then flip used with redeemer metadata and return
	// the content snapshot in insertion order. Errors: dropcode.ErrNotFound,
	// *dropcode.AlreadyUsedError, dropcode.ErrEmptyBatch.
	Redeem(ctx context.Context, code, identity, display string) ([]string, error)

	// Revoke forces the used transition with the revoked marker. On an
	// already-used batch it overwrites only the redeemer labels — the single
	// sanctioned deviation from redeemer immutability. dropcode.ErrNotFound
	// if the code is absent.
	Revoke(ctx context.Context, code string) error

	// SetTitle / SetNote attach operator metadata; they never touch the state
	// machine and work on used batches too. dropcode.ErrNotFound if absent.
	SetTitle(ctx context.Context, code, text string) error
	SetNote(ctx context.Context, code, text string) error

	// List returns all batches newest-first, for audit and reporting only.
	List(ctx context.Context) ([]*dropcode.Batch, error)

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (Stats, error)
}

// MemoryStore is a mutex-guarded in-memory Store. It backs tests and the
// dependency-free demo wiring; durable backends live in the storage package
// and share its exact semantics.
type MemoryStore struct {
	mu      sync.Mutex
	batches map[string]*dropcode.Batch

	// Now is the clock; tests may pin it.
	Now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches: make(map[string]*dropcode.Batch),
		Now:     time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*dropcode.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return nil, dropcode.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, code string, b *dropcode.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[code]; ok {
		return dropcode.ErrAlreadyExists
	}
	c := b.Clone()
	c.Code = code
	s.batches[code] = c
	return nil
}

func (s *MemoryStore) AppendContent(ctx context.Context, code, ref string) (*dropcode.Batch, error) {
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
	return b.Clone(), nil
}

func (s *MemoryStore) Redeem(ctx context.Context, code, identity, display string) ([]string, error) {
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
	b.MarkRedeemed(identity, display, s.Now())
	return append([]string(nil), b.ContentRefs...), nil
}

func (s *MemoryStore) Revoke(ctx context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return dropcode.ErrNotFound
	}
	if b.Used {
		// Terminal state stays; only the labels change.
		b.RedeemedBy = dropcode.RevokedMarker
		b.RedeemedByDisplay = dropcode.RevokedDisplay
		return nil
	}
	b.MarkRedeemed(dropcode.RevokedMarker, dropcode.RevokedDisplay, s.Now())
	return nil
}

func (s *MemoryStore) SetTitle(ctx context.Context, code, text string) error {
	return s.annotate(code, func(b *dropcode.Batch) { b.Title = text })
}

func (s *MemoryStore) SetNote(ctx context.Context, code, text string) error {
	return s.annotate(code, func(b *dropcode.Batch) { b.Note = text })
}

func (s *MemoryStore) annotate(code string, apply func(*dropcode.Batch)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[code]
	if !ok {
		return dropcode.ErrNotFound
	}
	apply(b)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*dropcode.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dropcode.Batch, 0, len(s.batches))
	for _, b := range s.batches {
		out = append(out, b.Clone())
	}
	SortBatches(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Total: len(s.batches)}
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

// SortBatches orders batches newest-first with the code as tiebreaker, the
// order every List implementation must produce.
func SortBatches(batches []*dropcode.Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].CreatedAt.Equal(batches[j].CreatedAt) {
			return batches[i].CreatedAt.After(batches[j].CreatedAt)
		}
		return batches[i].Code < batches[j].Code
	})
}
