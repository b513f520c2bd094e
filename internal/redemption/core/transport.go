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

// UploadItem is one uploaded content item as handed to the transport.
type UploadItem struct {
	// Name is an optional label (filename) carried for operator convenience.
	Name string
	// Data is the raw content.
	Data []byte
}

// ContentTransport moves content bytes between uploaders, the durable content
// repository, and redeemers. It is an external collaborator: the core calls it
// but never holds a critical section across these calls, and delivery failures
// are per-item, logged, and non-fatal to the surrounding operation.
//
// Implementations live in internal/redemption/transport: an in-memory fake for
// tests, a logging demo transport, and a NATS JetStream object-store transport.
type ContentTransport interface {
	// CopyToRepository stores one uploaded item durably and returns the opaque
	// reference that will be appended to the batch. Called once per item,
	// synchronously, before the append.
	CopyToRepository(ctx context.Context, item UploadItem) (string, error)

	// Deliver hands one stored item to a recipient. The transport enforces its
	// non-forwardable policy. Called once per item during redemption; a
	// failure affects only that item, with no retry.
	Deliver(ctx context.Context, ref, recipient string) error
}
