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

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"dropcode/internal/redemption/core"
	"dropcode/pkg/logging"
)

// NATSTransport stores content in a JetStream object store bucket and
// announces deliveries on a per-recipient subject. Recipients subscribe to
// dropcode.deliver.<recipient> and fetch the object by ref.
//
// Delivery is a plain (non-JetStream) publish: the redemption contract is
// best-effort, at-most-once, so a recipient that is offline at redemption
// time simply misses the notification.
type NATSTransport struct {
	nc     *nats.Conn
	obj    nats.ObjectStore
	bucket string
}

// deliverSubjectPrefix is the subject tree for redemption notifications.
const deliverSubjectPrefix = "dropcode.deliver."

// deliveryNotice is the wire payload published on delivery.
type deliveryNotice struct {
	Ref       string    `json:"ref"`
	Bucket    string    `json:"bucket"`
	Recipient string    `json:"recipient"`
	At        time.Time `json:"at"`
}

// NewNATSTransport connects to the given NATS URL and binds (or creates) the
// object store bucket.
func NewNATSTransport(url, bucket string) (*NATSTransport, error) {
	nc, err := nats.Connect(
		url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open JetStream context: %w", err)
	}
	obj, err := js.ObjectStore(bucket)
	if errors.Is(err, nats.ErrStreamNotFound) || errors.Is(err, nats.ErrBucketNotFound) {
		obj, err = js.CreateObjectStore(&nats.ObjectStoreConfig{
			Bucket:  bucket,
			Storage: nats.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("bind object store %s: %w", bucket, err)
	}
	return &NATSTransport{nc: nc, obj: obj, bucket: bucket}, nil
}

func (t *NATSTransport) CopyToRepository(ctx context.Context, item core.UploadItem) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	ref := uuid.NewString() + "-" + item.Name
	if _, err := t.obj.PutBytes(ref, item.Data); err != nil {
		return "", fmt.Errorf("put object %s: %w", ref, err)
	}
	return ref, nil
}

func (t *NATSTransport) Deliver(ctx context.Context, ref, recipient string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	payload, err := json.Marshal(deliveryNotice{
		Ref:       ref,
		Bucket:    t.bucket,
		Recipient: recipient,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode delivery notice: %w", err)
	}
	if err := t.nc.Publish(deliverSubjectPrefix+recipient, payload); err != nil {
		return fmt.Errorf("publish delivery for %s: %w", ref, err)
	}
	return nil
}

// Fetch retrieves the stored bytes for a ref. Recipients use it after a
// delivery notice arrives.
func (t *NATSTransport) Fetch(ctx context.Context, ref string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	data, err := t.obj.GetBytes(ref)
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", ref, err)
	}
	return data, nil
}

// Close drains the connection.
func (t *NATSTransport) Close() {
	if err := t.nc.Drain(); err != nil {
		log := logging.With("transport")
		log.Warn().Err(err).Msg("drain NATS connection")
	}
}
