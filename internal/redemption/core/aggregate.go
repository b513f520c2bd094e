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

// Package core implements the batch lifecycle and one-time redemption engine.
// This file implements burst aggregation: correlating several uploads that
// arrive together into a single batch under one code.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dropcode"
	"dropcode/pkg/logging"

	"github.com/rs/zerolog"
)

// maxCodeAttempts bounds the generate-then-create retry loop. With a 62^6
// code space this is practically unreachable; it exists so exhaustion is a
// defined error instead of a silent spin.
const maxCodeAttempts = 5

// Tracker turns uploads into batches. It owns the transient grouping-key →
// code binding map, scoped to the process lifetime:
//   - bindings are created on the first upload of a burst and consulted by
//     the rest of the burst;
//   - they are never persisted, so a restart splits an in-flight burst into
//     two batches (accepted limitation);
//   - they are never expired, since bursts are short-lived relative to
//     process uptime (accepted simplification).
//
// The check-then-create for a grouping key is a single atomic unit under the
// tracker mutex: concurrent uploads of one burst can never mint two codes.
type Tracker struct {
	mu       sync.Mutex
	bindings map[string]string

	store     Store
	gen       *dropcode.Generator
	transport ContentTransport
	events    Publisher
	log       zerolog.Logger

	// now is the clock; tests may pin it.
	now func() time.Time
}

// NewTracker creates a tracker over the given store, code generator, content
// transport and audit publisher. Pass NopPublisher when no audit stream is
// configured.
func NewTracker(store Store, gen *dropcode.Generator, transport ContentTransport, events Publisher) *Tracker {
	if events == nil {
		events = NopPublisher{}
	}
	return &Tracker{
		bindings:  make(map[string]string),
		store:     store,
		gen:       gen,
		transport: transport,
		events:    events,
		log:       logging.With("tracker"),
		now:       time.Now,
	}
}

// ResolveCode returns the code for an upload with the given grouping key.
//
// An empty key is a standalone upload: a fresh code and empty batch every
// time. A bound key returns the existing code without creating anything. An
// unbound key generates a code, registers the batch, and binds the key — all
// under the tracker mutex, so two concurrent uploads of the same burst never
// both create a batch.
//
// created reports whether this call registered a new batch; the upload surface
// uses it to emit the code to the uploader exactly once, on the first item of
// a burst.
func (t *Tracker) ResolveCode(ctx context.Context, groupKey string) (code string, created bool, err error) {
	if groupKey == "" {
		code, err = t.newBatch(ctx)
		return code, err == nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if code, ok := t.bindings[groupKey]; ok {
		return code, false, nil
	}
	code, err = t.newBatch(ctx)
	if err != nil {
		return "", false, err
	}
	t.bindings[groupKey] = code
	return code, true, nil
}

// Ingest runs the full upload path for one item: copy the content to the
// repository, resolve the burst's code, and append the resulting reference to
// the batch. The copy happens before the append and outside any lock, so a
// slow transport never extends a critical section.
func (t *Tracker) Ingest(ctx context.Context, groupKey string, item UploadItem) (code string, created bool, b *dropcode.Batch, err error) {
	ref, err := t.transport.CopyToRepository(ctx, item)
	if err != nil {
		return "", false, nil, fmt.Errorf("copy to repository: %w", err)
	}

	code, created, err = t.ResolveCode(ctx, groupKey)
	if err != nil {
		return "", false, nil, err
	}

	b, err = t.store.AppendContent(ctx, code, ref)
	if err != nil {
		return "", false, nil, err
	}

	t.publish(ctx, Event{Kind: EventContentAdded, Code: code, Items: len(b.ContentRefs)})
	t.log.Debug().Str("code", code).Str("ref", ref).Int("refs", len(b.ContentRefs)).Msg("content appended")
	return code, created, b, nil
}

// BindingCount reports the number of live grouping-key bindings, for the
// stats worker.
func (t *Tracker) BindingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bindings)
}

// newBatch generates a collision-free code and registers an empty batch under
// it, retrying on the (practically unreachable) case that the candidate is
// already present in the store.
func (t *Tracker) newBatch(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := t.gen.Generate()
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		err = t.store.Create(ctx, code, dropcode.NewBatch(code, t.now()))
		if errors.Is(err, dropcode.ErrAlreadyExists) {
			t.log.Warn().Str("code", code).Int("attempt", attempt+1).Msg("code collision, regenerating")
			continue
		}
		if err != nil {
			return "", err
		}
		RecordBatchCreated(1)
		t.publish(ctx, Event{Kind: EventBatchCreated, Code: code})
		t.log.Info().Str("code", code).Msg("batch created")
		return code, nil
	}
	return "", dropcode.ErrCollisionExhausted
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	ev.At = t.now()
	if err := t.events.Publish(ctx, ev); err != nil {
		t.log.Warn().Err(err).Str("kind", ev.Kind).Str("code", ev.Code).Msg("audit publish failed")
	}
}
