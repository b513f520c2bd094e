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

package storage

import (
	"context"
	"fmt"

	"dropcode/internal/redemption/core"
)

// Options holds the knobs for building a store from configuration.
type Options struct {
	// FilePath is the JSON store location for the "file" backend.
	FilePath string
	// RedisAddr selects a real Redis for the "redis" backend. Empty falls
	// back to the logging demo client.
	RedisAddr string
	// PostgresDSN is the lib/pq connection string for the "postgres" backend.
	PostgresDSN string
}

// BuildStore constructs a core.Store based on a string selector.
// Supported backends:
//   - "memory": in-process map, nothing survives a restart
//   - "file": JSON snapshot store (default)
//   - "redis": Lua-scripted Redis adapter; logging demo client when no
//     address is configured
//   - "postgres": database/sql + lib/pq adapter; requires a DSN
func BuildStore(ctx context.Context, backend string, opts Options) (core.Store, error) {
	switch backend {
	case "memory":
		return core.NewMemoryStore(), nil
	case "", "file":
		path := opts.FilePath
		if path == "" {
			path = "dropcode-store.json"
		}
		return OpenFileStore(path)
	case "redis":
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			// Dependency-free demo client.
			evaler = LoggingRedisEvaler{}
		}
		return NewRedisStore(evaler), nil
	case "postgres":
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		return OpenPostgresStore(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", backend)
	}
}
