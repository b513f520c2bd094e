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

import (
	"errors"
	"fmt"
)

// Sentinel errors for the redemption taxonomy. Callers match with errors.Is;
// none of these carries a mutation with it.
var (
	// ErrNotFound means the code does not exist in the store.
	ErrNotFound = errors.New("code not found")

	// ErrAlreadyExists means a create collided with an existing code.
	ErrAlreadyExists = errors.New("code already exists")

	// ErrAlreadyUsed means the batch reached its terminal state; use
	// AlreadyUsedError to carry the stored redeemer label.
	ErrAlreadyUsed = errors.New("code already used")

	// ErrEmptyBatch means the code exists but has no content; redemption is
	// refused without a state change.
	ErrEmptyBatch = errors.New("batch has no content")

	// ErrCollisionExhausted means code generation could not find a free
	// identifier within the retry budget. Practically unreachable, but a
	// defined condition rather than a silent loop.
	ErrCollisionExhausted = errors.New("code generation exhausted collision retries")
)

// AlreadyUsedError reports a redemption attempt against a used batch and
// carries the stored redeemer label so the holder can be told who consumed it.
type AlreadyUsedError struct {
	RedeemedByDisplay string
}

func (e *AlreadyUsedError) Error() string {
	if e.RedeemedByDisplay == "" {
		return ErrAlreadyUsed.Error()
	}
	return fmt.Sprintf("code already used by %s", e.RedeemedByDisplay)
}

// Is makes errors.Is(err, ErrAlreadyUsed) match.
func (e *AlreadyUsedError) Is(target error) bool { return target == ErrAlreadyUsed }

// PersistenceError wraps a durable-write or load failure. The operation that
// produced it must not be considered committed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
