// Package redisstore keeps keys in Redis. Each key is a hash; two sorted sets
// index tokens by creation and expiry time. Every mutation runs as a Lua
// script so Redis executes it atomically.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keydropio/keydrop/internal/model"
	"github.com/keydropio/keydrop/internal/store"
)

// DefaultPrefix namespaces every Redis key the store writes.
const DefaultPrefix = "keydrop:"

// Store implements store.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// Connect builds a client from a redis:// (or rediss://) URL or a bare
// host:port and verifies it with PING.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: addr}
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, store.Unavailable("redis connect", err)
	}
	return client, nil
}

// Open connects to addr and returns a Store using DefaultPrefix.
func Open(ctx context.Context, addr string) (*Store, error) {
	client, err := Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	return New(client, DefaultPrefix), nil
}

// New wraps an existing client. An empty prefix selects DefaultPrefix.
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) keyHash(token string) string { return s.prefix + "key:" + token }
func (s *Store) seqKey() string              { return s.prefix + "seq" }
func (s *Store) byCreated() string           { return s.prefix + "by_created" }
func (s *Store) byExpiry() string            { return s.prefix + "by_expiry" }

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then return 0 end
local id = redis.call("INCR", KEYS[2])
redis.call("HSET", KEYS[1],
  "id", id, "name", ARGV[2], "token", ARGV[1], "format", ARGV[3], "length", ARGV[4],
  "created_at_ms", ARGV[5], "expires_at_ms", ARGV[6], "used_count", 0, "max_uses", ARGV[7])
redis.call("ZADD", KEYS[3], ARGV[5], ARGV[1])
redis.call("ZADD", KEYS[4], ARGV[6], ARGV[1])
return id
`)

// consumeScript returns {status, field, value, ...}: 0 not found, 1 consumed,
// 2 expired, 3 exhausted.
var consumeScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then return {0} end
local now = tonumber(ARGV[1])
local exp = tonumber(redis.call("HGET", KEYS[1], "expires_at_ms"))
local used = tonumber(redis.call("HGET", KEYS[1], "used_count"))
local max = tonumber(redis.call("HGET", KEYS[1], "max_uses"))
local status
if exp <= now then
  status = 2
elseif used >= max then
  status = 3
else
  redis.call("HINCRBY", KEYS[1], "used_count", 1)
  status = 1
end
local out = redis.call("HGETALL", KEYS[1])
table.insert(out, 1, status)
return out
`)

// sweepScript takes KEYS = {by_expiry, by_created, hash...} and ARGV =
// {now, token...} with ARGV[i+1] naming the token of KEYS[i+2]. Expiry is
// re-checked inside the script; index entries without a hash are dropped
// but not counted.
var sweepScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local removed = 0
for i = 3, #KEYS do
  local t = ARGV[i - 1]
  local exp = redis.call("HGET", KEYS[i], "expires_at_ms")
  if not exp then
    redis.call("ZREM", KEYS[1], t)
    redis.call("ZREM", KEYS[2], t)
  elseif tonumber(exp) <= now then
    redis.call("DEL", KEYS[i])
    redis.call("ZREM", KEYS[1], t)
    redis.call("ZREM", KEYS[2], t)
    removed = removed + 1
  end
end
return removed
`)

// clearScript uses the same KEYS/ARGV layout as sweepScript without the
// leading now argument, and removes unconditionally.
var clearScript = redis.NewScript(`
for i = 3, #KEYS do
  local t = ARGV[i - 2]
  redis.call("DEL", KEYS[i])
  redis.call("ZREM", KEYS[1], t)
  redis.call("ZREM", KEYS[2], t)
end
return #KEYS - 2
`)

// scriptBatch bounds how many keys one sweep or clear script touches.
const scriptBatch = 500

const (
	consumeNotFound = iota
	consumeOK
	consumeExpired
	consumeExhausted
)

// ---------------------------------------------------------------------------
// Key operations
// ---------------------------------------------------------------------------

func (s *Store) Create(ctx context.Context, k *model.Key) error {
	keys := []string{s.keyHash(k.Token), s.seqKey(), s.byCreated(), s.byExpiry()}
	id, err := createScript.Run(ctx, s.client, keys,
		k.Token, k.Name, string(k.Format), k.Length,
		k.CreatedAt.UnixMilli(), k.ExpiresAt.UnixMilli(), k.MaxUses).Int64()
	if err != nil {
		return store.Unavailable("insert key", err)
	}
	if id == 0 {
		return store.ErrDuplicateToken
	}
	k.ID = id
	return nil
}

func (s *Store) Get(ctx context.Context, token string) (*model.Key, error) {
	data, err := s.client.HGetAll(ctx, s.keyHash(token)).Result()
	if err != nil {
		return nil, store.Unavailable("get key", err)
	}
	if len(data) == 0 {
		return nil, store.ErrNotFound
	}
	k, err := keyFromHash(data)
	if err != nil {
		return nil, store.Unavailable("decode key", err)
	}
	return &k, nil
}

func (s *Store) Consume(ctx context.Context, token string, now time.Time) (*model.Key, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.keyHash(token)}, now.UnixMilli()).Slice()
	if err != nil {
		return nil, store.Unavailable("consume key", err)
	}
	if len(res) == 0 {
		return nil, store.Unavailable("consume key", errors.New("empty script reply"))
	}
	status, ok := res[0].(int64)
	if !ok {
		return nil, store.Unavailable("consume key", fmt.Errorf("unexpected status %T", res[0]))
	}
	if status == consumeNotFound {
		return nil, store.ErrNotFound
	}

	data := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		data[fmt.Sprint(res[i])] = fmt.Sprint(res[i+1])
	}
	k, err := keyFromHash(data)
	if err != nil {
		return nil, store.Unavailable("decode key", err)
	}

	switch status {
	case consumeOK:
		return &k, nil
	case consumeExpired:
		return &k, store.ErrExpired
	default:
		return &k, store.ErrExhausted
	}
}

func (s *Store) List(ctx context.Context, filter store.Filter, now time.Time) ([]model.Key, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, store.Unavailable("list keys", err)
	}
	out := all[:0]
	for _, k := range all {
		if filter == store.FilterLive && !k.IsLiveAt(now) {
			continue
		}
		out = append(out, k)
	}
	store.SortRecentFirst(out)
	return out, nil
}

func (s *Store) Search(ctx context.Context, query string, limit int, now time.Time) ([]model.Key, error) {
	all, err := s.loadAll(ctx)
	if err != nil {
		return nil, store.Unavailable("search keys", err)
	}
	var out []model.Key
	for i := range all {
		if all[i].IsLiveAt(now) && store.Matches(&all[i], query) {
			out = append(out, all[i])
		}
	}
	store.SortRecentFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SweepExpired deletes keys whose expiry is at or before now. Candidates are
// read from the expiry index, then removed in batches by sweepScript, which
// declares every key it touches. Under Redis Cluster the prefix needs a hash
// tag (for example "{keydrop}:") so all of them share a slot.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := strconv.FormatInt(now.UnixMilli(), 10)
	tokens, err := s.client.ZRangeByScore(ctx, s.byExpiry(), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, store.Unavailable("sweep keys", err)
	}

	var removed int64
	for _, batch := range batches(tokens) {
		keys, args := s.scriptArgs(batch)
		n, err := sweepScript.Run(ctx, s.client, keys, append([]any{now.UnixMilli()}, args...)...).Int64()
		if err != nil {
			return removed, store.Unavailable("sweep keys", err)
		}
		removed += n
	}
	return removed, nil
}

// Clear deletes every key present when it starts. The id sequence is kept
// so ids stay monotonic.
func (s *Store) Clear(ctx context.Context) error {
	tokens, err := s.client.ZRange(ctx, s.byCreated(), 0, -1).Result()
	if err != nil {
		return store.Unavailable("clear keys", err)
	}
	for _, batch := range batches(tokens) {
		keys, args := s.scriptArgs(batch)
		if err := clearScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
			return store.Unavailable("clear keys", err)
		}
	}
	return nil
}

// scriptArgs lays out KEYS and ARGV for sweepScript and clearScript.
func (s *Store) scriptArgs(tokens []string) ([]string, []any) {
	keys := make([]string, 0, len(tokens)+2)
	keys = append(keys, s.byExpiry(), s.byCreated())
	args := make([]any, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, s.keyHash(t))
		args = append(args, t)
	}
	return keys, args
}

func batches(tokens []string) [][]string {
	var out [][]string
	for len(tokens) > scriptBatch {
		out = append(out, tokens[:scriptBatch])
		tokens = tokens[scriptBatch:]
	}
	if len(tokens) > 0 {
		out = append(out, tokens)
	}
	return out
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return store.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// loadAll reads every indexed key in one pipeline. Tokens whose hash has
// vanished between the index read and the fetch are skipped.
func (s *Store) loadAll(ctx context.Context) ([]model.Key, error) {
	tokens, err := s.client.ZRevRange(ctx, s.byCreated(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(tokens))
	_, err = s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, t := range tokens {
			cmds[i] = p.HGetAll(ctx, s.keyHash(t))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := make([]model.Key, 0, len(tokens))
	for _, cmd := range cmds {
		data := cmd.Val()
		if len(data) == 0 {
			continue
		}
		k, err := keyFromHash(data)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// keyFromHash decodes the hash fields written by createScript.
func keyFromHash(h map[string]string) (model.Key, error) {
	var (
		k   model.Key
		err error
	)
	num := func(field string) int64 {
		if err != nil {
			return 0
		}
		var n int64
		n, err = strconv.ParseInt(h[field], 10, 64)
		if err != nil {
			err = fmt.Errorf("field %s: %w", field, err)
		}
		return n
	}

	k.ID = num("id")
	k.Name = h["name"]
	k.Token = h["token"]
	k.Format = model.Format(h["format"])
	k.Length = int(num("length"))
	k.CreatedAt = time.UnixMilli(num("created_at_ms")).UTC()
	k.ExpiresAt = time.UnixMilli(num("expires_at_ms")).UTC()
	k.UsedCount = int(num("used_count"))
	k.MaxUses = int(num("max_uses"))
	return k, err
}
