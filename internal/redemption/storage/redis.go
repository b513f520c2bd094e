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

	"dropcode"
	"dropcode/internal/redemption/core"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// Implementations may wrap github.com/redis/go-redis/v9 (Cmdable.Eval) or any
// equivalent; every store operation is one EVAL, which is what makes each of
// them atomic on the server side.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// Key layout (standalone Redis; scripts touch derived keys, so not
// cluster-safe):
//   drop:batch:<code>  hash   used/redeemedBy/redeemedByDisplay/redeemedAt/createdAt/title/note
//   drop:refs:<code>   list   content references in arrival order
//   drop:codes         set    all codes, for listing and stats
const (
	redisMetaPrefix = "drop:batch:"
	redisRefsPrefix = "drop:refs:"
	redisIndexKey   = "drop:codes"
)

func redisMetaKey(code string) string { return redisMetaPrefix + code }
func redisRefsKey(code string) string { return redisRefsPrefix + code }

// RedisStore implements core.Store on Redis. Atomicity per code comes from
// running every mutating operation as a single Lua script: Redis executes a
// script with no interleaving, so two concurrent redeems cannot both observe
// used == "0".
type RedisStore struct {
	ev RedisEvaler

	// Now is the clock; tests may pin it.
	Now func() time.Time
}

// NewRedisStore creates a store over the given Evaler.
func NewRedisStore(ev RedisEvaler) *RedisStore {
	return &RedisStore{ev: ev, Now: time.Now}
}

// Script result conventions: first element 1 means applied, -1 unknown code,
// -2 already used (second element carries the redeemer label), -3 empty batch.

const redisCreateScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'used', '0', 'createdAt', ARGV[2], 'title', ARGV[3], 'note', ARGV[4])
for i = 5, #ARGV do
  redis.call('RPUSH', KEYS[2], ARGV[i])
end
redis.call('SADD', KEYS[3], ARGV[1])
return 1
`

const redisGetScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {0}
end
return {1, redis.call('HGETALL', KEYS[1]), redis.call('LRANGE', KEYS[2], 0, -1)}
`

const redisAppendScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return {-2, redis.call('HGET', KEYS[1], 'redeemedByDisplay') or ''}
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return {1, redis.call('HGETALL', KEYS[1]), redis.call('LRANGE', KEYS[2], 0, -1)}
`

const redisRedeemScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  return {-2, redis.call('HGET', KEYS[1], 'redeemedByDisplay') or ''}
end
if redis.call('LLEN', KEYS[2]) == 0 then
  return {-3}
end
redis.call('HSET', KEYS[1], 'used', '1', 'redeemedBy', ARGV[1], 'redeemedByDisplay', ARGV[2], 'redeemedAt', ARGV[3])
return {1, redis.call('LRANGE', KEYS[2], 0, -1)}
`

const redisRevokeScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'used') == '1' then
  redis.call('HSET', KEYS[1], 'redeemedBy', ARGV[1], 'redeemedByDisplay', ARGV[2])
else
  redis.call('HSET', KEYS[1], 'used', '1', 'redeemedBy', ARGV[1], 'redeemedByDisplay', ARGV[2], 'redeemedAt', ARGV[3])
end
return 1
`

const redisAnnotateScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`

const redisListScript = `
local out = {}
local codes = redis.call('SMEMBERS', KEYS[1])
for i, code in ipairs(codes) do
  out[#out+1] = {code, redis.call('HGETALL', ARGV[1]..code), redis.call('LRANGE', ARGV[2]..code, 0, -1)}
end
return out
`

const redisStatsScript = `
local codes = redis.call('SMEMBERS', KEYS[1])
local used = 0
local seen = {}
local distinct = 0
for i, code in ipairs(codes) do
  local meta = ARGV[1]..code
  if redis.call('HGET', meta, 'used') == '1' then
    used = used + 1
    local by = redis.call('HGET', meta, 'redeemedBy')
    if by and by ~= '' and not seen[by] then
      seen[by] = true
      distinct = distinct + 1
    end
  end
end
return {#codes, used, distinct}
`

func (s *RedisStore) Get(ctx context.Context, code string) (*dropcode.Batch, error) {
	reply, err := s.ev.Eval(ctx, redisGetScript, []string{redisMetaKey(code), redisRefsKey(code)})
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "get", Err: err}
	}
	parts, err := replySlice(reply, 1)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "get", Err: err}
	}
	if replyInt(parts[0]) == 0 {
		return nil, dropcode.ErrNotFound
	}
	if len(parts) < 3 {
		return nil, &dropcode.PersistenceError{Op: "get", Err: fmt.Errorf("truncated reply: %v", reply)}
	}
	return decodeRedisBatch(code, parts[1], parts[2])
}

func (s *RedisStore) Create(ctx context.Context, code string, b *dropcode.Batch) error {
	args := []interface{}{code, b.CreatedAt.Format(time.RFC3339Nano), b.Title, b.Note}
	for _, ref := range b.ContentRefs {
		args = append(args, ref)
	}
	reply, err := s.ev.Eval(ctx, redisCreateScript,
		[]string{redisMetaKey(code), redisRefsKey(code), redisIndexKey}, args...)
	if err != nil {
		return &dropcode.PersistenceError{Op: "create", Err: err}
	}
	if replyInt(reply) == 0 {
		return dropcode.ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) AppendContent(ctx context.Context, code, ref string) (*dropcode.Batch, error) {
	reply, err := s.ev.Eval(ctx, redisAppendScript,
		[]string{redisMetaKey(code), redisRefsKey(code)}, ref)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: err}
	}
	parts, err := replySlice(reply, 1)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: err}
	}
	switch replyInt(parts[0]) {
	case -1:
		return nil, dropcode.ErrNotFound
	case -2:
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: replyString(replyAt(parts, 1))}
	}
	if len(parts) < 3 {
		return nil, &dropcode.PersistenceError{Op: "appendContent", Err: fmt.Errorf("truncated reply: %v", reply)}
	}
	return decodeRedisBatch(code, parts[1], parts[2])
}

func (s *RedisStore) Redeem(ctx context.Context, code, identity, display string) ([]string, error) {
	reply, err := s.ev.Eval(ctx, redisRedeemScript,
		[]string{redisMetaKey(code), redisRefsKey(code)},
		identity, display, s.Now().Format(time.RFC3339Nano))
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	parts, err := replySlice(reply, 1)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	switch replyInt(parts[0]) {
	case -1:
		return nil, dropcode.ErrNotFound
	case -2:
		return nil, &dropcode.AlreadyUsedError{RedeemedByDisplay: replyString(replyAt(parts, 1))}
	case -3:
		return nil, dropcode.ErrEmptyBatch
	}
	refs, err := replyStrings(replyAt(parts, 1))
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "redeem", Err: err}
	}
	return refs, nil
}

func (s *RedisStore) Revoke(ctx context.Context, code string) error {
	reply, err := s.ev.Eval(ctx, redisRevokeScript,
		[]string{redisMetaKey(code), redisRefsKey(code)},
		dropcode.RevokedMarker, dropcode.RevokedDisplay, s.Now().Format(time.RFC3339Nano))
	if err != nil {
		return &dropcode.PersistenceError{Op: "revoke", Err: err}
	}
	if replyInt(reply) == -1 {
		return dropcode.ErrNotFound
	}
	return nil
}

func (s *RedisStore) SetTitle(ctx context.Context, code, text string) error {
	return s.annotate(ctx, code, "title", text)
}

func (s *RedisStore) SetNote(ctx context.Context, code, text string) error {
	return s.annotate(ctx, code, "note", text)
}

func (s *RedisStore) annotate(ctx context.Context, code, field, text string) error {
	reply, err := s.ev.Eval(ctx, redisAnnotateScript, []string{redisMetaKey(code)}, field, text)
	if err != nil {
		return &dropcode.PersistenceError{Op: "setAnnotation", Err: err}
	}
	if replyInt(reply) == -1 {
		return dropcode.ErrNotFound
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]*dropcode.Batch, error) {
	reply, err := s.ev.Eval(ctx, redisListScript, []string{redisIndexKey}, redisMetaPrefix, redisRefsPrefix)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}
	rows, err := replySlice(reply, 0)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "listAll", Err: err}
	}
	out := make([]*dropcode.Batch, 0, len(rows))
	for _, row := range rows {
		parts, err := replySlice(row, 3)
		if err != nil {
			return nil, &dropcode.PersistenceError{Op: "listAll", Err: fmt.Errorf("malformed row: %v", row)}
		}
		b, err := decodeRedisBatch(replyString(parts[0]), parts[1], parts[2])
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	core.SortBatches(out)
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (core.Stats, error) {
	reply, err := s.ev.Eval(ctx, redisStatsScript, []string{redisIndexKey}, redisMetaPrefix)
	if err != nil {
		return core.Stats{}, &dropcode.PersistenceError{Op: "stats", Err: err}
	}
	parts, err := replySlice(reply, 3)
	if err != nil {
		return core.Stats{}, &dropcode.PersistenceError{Op: "stats", Err: fmt.Errorf("malformed reply: %v", reply)}
	}
	return core.Stats{
		Total:             int(replyInt(parts[0])),
		Used:              int(replyInt(parts[1])),
		DistinctRedeemers: int(replyInt(parts[2])),
	}, nil
}

// ---- reply decoding helpers ----

// replySlice asserts an array reply with at least min elements. Scripts with
// variable-length replies pass the shortest valid shape and re-check before
// indexing deeper, so a truncated reply surfaces as an error, never a panic.
func replySlice(v interface{}, min int) ([]interface{}, error) {
	s, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array reply, got %T", v)
	}
	if len(s) < min {
		return nil, fmt.Errorf("expected array reply of at least %d elements, got %d", min, len(s))
	}
	return s, nil
}

// replyAt returns the i-th element, or nil when the reply is shorter.
func replyAt(s []interface{}, i int) interface{} {
	if i < len(s) {
		return s[i]
	}
	return nil
}

func replyInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func replyString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	}
	return ""
}

func replyStrings(v interface{}) ([]string, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected array reply, got %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, replyString(item))
	}
	return out, nil
}

// decodeRedisBatch rebuilds a Batch from an HGETALL pair list and an LRANGE
// reply.
func decodeRedisBatch(code string, fieldsReply, refsReply interface{}) (*dropcode.Batch, error) {
	pairs, ok := fieldsReply.([]interface{})
	if !ok || len(pairs)%2 != 0 {
		return nil, &dropcode.PersistenceError{Op: "decode", Err: fmt.Errorf("malformed hash reply for %s", code)}
	}
	b := &dropcode.Batch{Code: code}
	for i := 0; i+1 < len(pairs); i += 2 {
		field, value := replyString(pairs[i]), replyString(pairs[i+1])
		switch field {
		case "used":
			b.Used = value == "1"
		case "redeemedBy":
			b.RedeemedBy = value
		case "redeemedByDisplay":
			b.RedeemedByDisplay = value
		case "redeemedAt":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, &dropcode.PersistenceError{Op: "decode", Err: fmt.Errorf("redeemedAt for %s: %w", code, err)}
			}
			b.RedeemedAt = t
		case "createdAt":
			t, err := time.Parse(time.RFC3339Nano, value)
			if err != nil {
				return nil, &dropcode.PersistenceError{Op: "decode", Err: fmt.Errorf("createdAt for %s: %w", code, err)}
			}
			b.CreatedAt = t
		case "title":
			b.Title = value
		case "note":
			b.Note = value
		}
	}
	refs, err := replyStrings(refsReply)
	if err != nil {
		return nil, &dropcode.PersistenceError{Op: "decode", Err: err}
	}
	if len(refs) > 0 {
		b.ContentRefs = refs
	}
	return b, nil
}
