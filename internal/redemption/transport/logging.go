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

	"github.com/google/uuid"

	"dropcode/internal/redemption/core"
	"dropcode/pkg/logging"
)

// LoggingTransport is a tiny demo transport that only logs what it would have
// copied or delivered. It lets the demo run without any content repository.
// Not for production use.

type LoggingTransport struct{}

func (LoggingTransport) CopyToRepository(ctx context.Context, item core.UploadItem) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	ref := uuid.NewString() + "-" + item.Name
	log := logging.With("transport")
	log.Info().Str("ref", ref).Int("bytes", len(item.Data)).Msg("demo copy to repository")
	return ref, nil
}

func (LoggingTransport) Deliver(ctx context.Context, ref, recipient string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	log := logging.With("transport")
	log.Info().Str("ref", ref).Str("recipient", recipient).Msg("demo delivery")
	return nil
}
