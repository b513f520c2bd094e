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
	"time"

	redis "github.com/redis/go-redis/v9"
)

// GoRedisEvaler is a production-ready Redis client wrapper implementing RedisEvaler.
// It uses github.com/redis/go-redis/v9 under the hood.
// Use NewGoRedisEvaler to construct it with an address like "127.0.0.1:6379".

type GoRedisEvaler struct{ c *redis.Client }

func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	opt := &redis.Options{Addr: addr}
	return &GoRedisEvaler{c: redis.NewClient(opt)}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// LoggingRedisEvaler is a tiny demo client that logs each Lua evaluation and
// fabricates a minimal success reply for the script it recognizes. It lets the
// demo select the Redis adapter without needing a real Redis.
// Not for production use.

type LoggingRedisEvaler struct{}

func (LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[redis-demo] EVAL script(len=%d) KEYS=%v ARGS=%v\n", len(script), keys, args)
	switch script {
	case redisGetScript:
		// Pretend the code is unknown; the demo store holds nothing.
		return []interface{}{int64(0)}, nil
	case redisAppendScript:
		return []interface{}{
			int64(1),
			[]interface{}{"used", "0", "createdAt", time.Now().Format(time.RFC3339Nano)},
			[]interface{}{args[0]},
		}, nil
	case redisRedeemScript:
		return []interface{}{int64(1), []interface{}{}}, nil
	case redisListScript:
		return []interface{}{}, nil
	case redisStatsScript:
		return []interface{}{int64(0), int64(0), int64(0)}, nil
	default:
		return int64(1), nil // pretend we applied it
	}
}
