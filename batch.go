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

package dropcode

import "time"

// RevokedMarker is the synthetic redeemer identity recorded when an operator
// revokes a batch instead of a holder redeeming it.
const RevokedMarker = "revoked"

// RevokedDisplay is the human-readable label stored alongside RevokedMarker.
const RevokedDisplay = "administratively revoked"

// Batch is the unit of redemption: one code bound to an ordered list of
// content references and a single-shot used flag.
//
// State machine: Used transitions exactly once, false to true, and never
// reverts. ContentRefs grows only while Used is false and only through the
// aggregation path. RedeemedBy/RedeemedByDisplay/RedeemedAt are set at the
// transition and immutable afterward, with one sanctioned exception: revoking
// an already-used batch overwrites the redeemer labels with the revoked
// marker. Title and Note are operator metadata, mutable at any time,
// independent of the state machine.
//
// The JSON field names are the persisted storage layout and must stay stable.
// Code is the map key in that layout and is therefore excluded from the value.
type Batch struct {
	Code              string    `json:"-"`
	ContentRefs       []string  `json:"contentRefs"`
	Used              bool      `json:"used"`
	RedeemedBy        string    `json:"redeemedBy,omitempty"`
	RedeemedByDisplay string    `json:"redeemedByDisplay,omitempty"`
	RedeemedAt        time.Time `json:"redeemedAt,omitzero"`
	CreatedAt         time.Time `json:"createdAt"`
	Title             string    `json:"title,omitempty"`
	Note              string    `json:"note,omitempty"`
}

// NewBatch returns an empty, unused Batch for the given code.
func NewBatch(code string, now time.Time) *Batch {
	return &Batch{Code: code, CreatedAt: now}
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate authoritative state behind the store's back.
func (b *Batch) Clone() *Batch {
	c := *b
	if b.ContentRefs != nil {
		c.ContentRefs = append([]string(nil), b.ContentRefs...)
	}
	return &c
}

// MarkRedeemed performs the used transition in place with the given redeemer
// identity. It assumes the caller holds whatever lock makes the surrounding
// check-and-set atomic; it does not re-check Used itself.
func (b *Batch) MarkRedeemed(identity, display string, now time.Time) {
	b.Used = true
	b.RedeemedBy = identity
	b.RedeemedByDisplay = display
	b.RedeemedAt = now
}
