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

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"dropcode/pkg/logging"
)

// JetStreamProducer publishes audit events durably through JetStream. Unlike
// content delivery, the audit trail wants at-least-once: the publish waits
// for the broker ack.
type JetStreamProducer struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewJetStreamProducer connects to the NATS URL and ensures the audit stream
// exists. Re-running against an existing stream updates its configuration
// instead of failing.
func NewJetStreamProducer(url, stream string) (*JetStreamProducer, error) {
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

	cfg := &nats.StreamConfig{
		Name:     stream,
		Subjects: []string{AuditSubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		Replicas: 1,
	}
	_, err = js.StreamInfo(stream)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		_, err = js.AddStream(cfg)
	case err == nil:
		_, err = js.UpdateStream(cfg)
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure audit stream %s: %w", stream, err)
	}
	return &JetStreamProducer{nc: nc, js: js}, nil
}

func (p *JetStreamProducer) Produce(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(subject, data, nats.Context(ctx))
	return err
}

// Close drains the connection.
func (p *JetStreamProducer) Close() {
	if err := p.nc.Drain(); err != nil {
		log := logging.With("audit")
		log.Warn().Err(err).Msg("drain NATS connection")
	}
}
