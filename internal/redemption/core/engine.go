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
// This file is the redemption engine: it turns a user-presented code into
// delivered content exactly once, and handles operator revocation.
package core

import (
	"context"
	"errors"
	"time"

	"dropcode"
	"dropcode/pkg/logging"

	"github.com/rs/zerolog"
)

// nowFunc is the engine clock; tests may pin it.
var nowFunc = time.Now

// DeliveryResult reports the outcome of a successful redemption: how many
// items reached the redeemer and how many individual deliveries failed.
// Delivery is at-most-once per attempt with no retry, so Delivered+Failed
// always equals the batch's content count.
type DeliveryResult struct {
	Code      string `json:"code"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// Engine validates codes against the store and performs the one-time used
// transition. The atomic check-and-set lives in Store.Redeem; the engine
// never holds a critical section across transport calls — content delivery
// happens strictly after the transition has committed, which is why an
// abandoned request can under-deliver but can never resurrect a code.
type Engine struct {
	store     Store
	transport ContentTransport
	events    Publisher
	log       zerolog.Logger
}

// NewEngine creates a redemption engine. Pass NopPublisher when no audit
// stream is configured.
func NewEngine(store Store, transport ContentTransport, events Publisher) *Engine {
	if events == nil {
		events = NopPublisher{}
	}
	return &Engine{
		store:     store,
		transport: transport,
		events:    events,
		log:       logging.With("engine"),
	}
}

// Redeem exchanges a code for its content, exactly once.
//
// The cheap rejections (unknown code, already used, empty batch) are read-only
// and produce no state change; they exist so the common failure answers do not
// pay for the write path. The store's Redeem then re-checks everything inside
// its own critical section, so losing a race between the pre-check and the
// atomic step still deterministically yields AlreadyUsed.
//
// On success every content reference is delivered in stored order. Each item's
// delivery is independent: a failure is logged and counted, subsequent items
// still go out, and the committed used transition is never rolled back.
func (e *Engine) Redeem(ctx context.Context, code, identity, display string) (DeliveryResult, error) {
	res := DeliveryResult{Code: code}

	// Read-only pre-checks, no side effects.
	b, err := e.store.Get(ctx, code)
	if err != nil {
		return res, err // dropcode.ErrNotFound: invalid code
	}
	if b.Used {
		return res, &dropcode.AlreadyUsedError{RedeemedByDisplay: b.RedeemedByDisplay}
	}
	if len(b.ContentRefs) == 0 {
		return res, dropcode.ErrEmptyBatch
	}

	// The one indivisible step: flip used and snapshot the content list.
	// Exactly one of N concurrent callers gets past this line.
	refs, err := e.store.Redeem(ctx, code, identity, display)
	if err != nil {
		return res, err
	}

	for _, ref := range refs {
		if err := e.transport.Deliver(ctx, ref, identity); err != nil {
			// Per-item transport failures are swallowed into the counts.
			res.Failed++
			e.log.Error().Err(err).Str("code", code).Str("ref", ref).Str("recipient", identity).Msg("delivery failed")
			continue
		}
		res.Delivered++
	}

	RecordRedemption(1)
	e.publish(ctx, Event{Kind: EventRedeemed, Code: code, Actor: identity, Items: res.Delivered})
	e.log.Info().Str("code", code).Str("redeemer", identity).Int("delivered", res.Delivered).Int("failed", res.Failed).Msg("batch redeemed")
	return res, nil
}

// Revoke forces a batch into the used state with the revoked marker, without
// any content delivery. Revoking an already-used batch keeps it used and only
// overwrites the redeemer labels.
func (e *Engine) Revoke(ctx context.Context, code string) error {
	if err := e.store.Revoke(ctx, code); err != nil {
		return err
	}
	RecordRevocation(1)
	e.publish(ctx, Event{Kind: EventRevoked, Code: code, Actor: dropcode.RevokedMarker})
	e.log.Info().Str("code", code).Msg("batch revoked")
	return nil
}

// Inspect returns the batch for operator inspection, without touching state.
func (e *Engine) Inspect(ctx context.Context, code string) (*dropcode.Batch, error) {
	return e.store.Get(ctx, code)
}

// IsAlreadyUsed reports whether err is the already-used rejection and, if so,
// extracts the stored redeemer label for the holder-facing message.
func IsAlreadyUsed(err error) (display string, ok bool) {
	var used *dropcode.AlreadyUsedError
	if errors.As(err, &used) {
		return used.RedeemedByDisplay, true
	}
	if errors.Is(err, dropcode.ErrAlreadyUsed) {
		return "", true
	}
	return "", false
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = nowFunc()
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.Warn().Err(err).Str("kind", ev.Kind).Str("code", ev.Code).Msg("audit publish failed")
	}
}
