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

import "context"

// Annotator attaches operator-supplied metadata to existing batches. It has
// no state-machine involvement: annotations succeed on used and unused
// batches alike and never affect redemption.
type Annotator struct {
	store Store
}

// NewAnnotator creates an annotator over the given store.
func NewAnnotator(store Store) *Annotator {
	return &Annotator{store: store}
}

// SetTitle sets the batch title. dropcode.ErrNotFound if the code is absent.
func (a *Annotator) SetTitle(ctx context.Context, code, text string) error {
	return a.store.SetTitle(ctx, code, text)
}

// SetNote sets the batch note. dropcode.ErrNotFound if the code is absent.
func (a *Annotator) SetNote(ctx context.Context, code, text string) error {
	return a.store.SetNote(ctx, code, text)
}
