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

// Package events provides Publisher implementations for the batch audit
// stream: a structured-log publisher for single-node deployments and a NATS
// JetStream publisher for durable, replayable audit trails.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dropcode/internal/redemption/core"
	"dropcode/pkg/logging"
)

// stamp fills in the event ID and timestamp when the caller left them unset.
func stamp(ev core.Event) core.Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}

// LoggingPublisher writes each event to the structured log. It is the default
// audit sink when no broker is configured.
type LoggingPublisher struct{}

func (LoggingPublisher) Publish(ctx context.Context, ev core.Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	ev = stamp(ev)
	log := logging.With("audit")
	log.Info().
		Str("event_id", ev.ID).
		Str("kind", ev.Kind).
		Str("code", ev.Code).
		Str("actor", ev.Actor).
		Int("items", ev.Items).
		Time("at", ev.At).
		Msg("batch event")
	return nil
}

// Producer is the minimal broker surface the NATS publisher depends on, kept
// as an interface so tests can capture messages without a server.
type Producer interface {
	Produce(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher serializes events as JSON onto a per-kind subject under the
// audit tree, e.g. dropcode.audit.redeemed.
type NATSPublisher struct {
	producer      Producer
	subjectPrefix string
}

// AuditSubjectPrefix is the subject tree carrying batch lifecycle events.
const AuditSubjectPrefix = "dropcode.audit."

// NewNATSPublisher wraps a Producer.
func NewNATSPublisher(p Producer) *NATSPublisher {
	return &NATSPublisher{producer: p, subjectPrefix: AuditSubjectPrefix}
}

func (n *NATSPublisher) Publish(ctx context.Context, ev core.Event) error {
	ev = stamp(ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	if err := n.producer.Produce(ctx, n.subjectPrefix+ev.Kind, data); err != nil {
		return fmt.Errorf("produce event %s kind=%s: %w", ev.ID, ev.Kind, err)
	}
	return nil
}
