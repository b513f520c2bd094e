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

package core

import (
	"context"
	"time"
)

// Event kinds emitted over the audit stream.
const (
	EventBatchCreated = "batch_created"
	EventContentAdded = "content_added"
	EventRedeemed     = "redeemed"
	EventRevoked      = "revoked"
)

// Event is one batch lifecycle occurrence published to the audit stream.
// Publishing is best-effort: a publish failure is logged by the caller and
// never fails the operation that produced the event.
type Event struct {
	// ID is a globally unique event identifier. Publishers assign one when
	// the caller leaves it empty.
	ID string `json:"id"`
	// Kind is one of the Event* constants.
	Kind string `json:"kind"`
	// Code is the batch code the event concerns.
	Code string `json:"code"`
	// Actor is the identity that triggered the event, when there is one
	// (redeemer identity, revoked marker).
	Actor string `json:"actor,omitempty"`
	// Items carries a count where relevant (delivered items on redemption,
	// refs length on content_added).
	Items int `json:"items,omitempty"`
	// At is the event timestamp.
	At time.Time `json:"at"`
}

// Publisher is the minimal audit-stream surface the core depends on.
// Implementations live in internal/redemption/events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NopPublisher discards events. It is the default when no audit stream is
// configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, ev Event) error { return nil }
