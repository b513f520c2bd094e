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

// Package transport provides ContentTransport implementations: an in-process
// repository for tests and single-node deployments, a logging demo, and a
// NATS JetStream object store for distributed setups.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"dropcode/internal/redemption/core"
)

// Delivery records one Deliver call, for assertions and audit.
type Delivery struct {
	Ref       string
	Recipient string
}

// MemoryTransport keeps copied content in an in-process map. Refs are
// uuid-prefixed so a re-upload of the same filename never collides.
type MemoryTransport struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	deliveries []Delivery

	// FailDeliver makes Deliver fail for the listed refs, to exercise the
	// partial-delivery path.
	FailDeliver map[string]error
}

// NewMemoryTransport creates an empty repository.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{blobs: make(map[string][]byte)}
}

func (m *MemoryTransport) CopyToRepository(ctx context.Context, item core.UploadItem) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	ref := uuid.NewString() + "-" + item.Name
	m.mu.Lock()
	m.blobs[ref] = append([]byte(nil), item.Data...)
	m.mu.Unlock()
	return ref, nil
}

func (m *MemoryTransport) Deliver(ctx context.Context, ref, recipient string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailDeliver[ref]; ok {
		return err
	}
	if _, ok := m.blobs[ref]; !ok {
		return fmt.Errorf("no content under ref %s", ref)
	}
	m.deliveries = append(m.deliveries, Delivery{Ref: ref, Recipient: recipient})
	return nil
}

// Blob returns the stored bytes for a ref.
func (m *MemoryTransport) Blob(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[ref]
	return b, ok
}

// Deliveries returns a copy of the recorded deliveries in order.
func (m *MemoryTransport) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Delivery(nil), m.deliveries...)
}
