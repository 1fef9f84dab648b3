// Package redisstore is a vectorstore.Backend kept in Redis: one hash per record
// plus a sorted set of ids scored by insertion sequence.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/creastat/llmkit/pkg/types"
	"github.com/creastat/llmkit/pkg/vectorstore"
)

const scanPageSize = 100

// upsertScript writes one record atomically. A new id takes the next
// sequence number; an existing id keeps its own.
var upsertScript = redis.NewScript(`
local seq = redis.call('ZSCORE', KEYS[2], ARGV[1])
if not seq then
	seq = redis.call('INCR', KEYS[3])
	redis.call('ZADD', KEYS[2], seq, ARGV[1])
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'text', ARGV[2], 'metadata', ARGV[3], 'vector', ARGV[4])
return seq
`)

// Config configures the Redis connection
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Backend wraps a Redis client
type Backend struct {
	rdb  *redis.Client
	keys *Keys
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config) (*Backend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %v", types.ErrBackend, err)
	}

	return NewWithClient(rdb, cfg.KeyPrefix), nil
}

// NewWithClient uses an existing client
func NewWithClient(rdb *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = "llmkit"
	}
	return &Backend{rdb: rdb, keys: NewKeys(prefix)}
}

// Upsert implements vectorstore.Backend. Each record is written atomically.
func (b *Backend) Upsert(ctx context.Context, records []vectorstore.Record) error {
	for _, r := range records {
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %v", types.ErrBackend, err)
		}
		keys := []string{b.keys.Record(r.ID), b.keys.Index(), b.keys.Sequence()}
		args := []any{r.ID, r.Text, string(meta), vectorstore.EncodeVector(r.Vector)}
		if err := upsertScript.Run(ctx, b.rdb, keys, args...).Err(); err != nil {
			return fmt.Errorf("%w: upsert %s: %v", types.ErrBackend, r.ID, err)
		}
	}
	return nil
}

// Delete implements vectorstore.Backend
func (b *Backend) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := b.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]any, len(ids))
		for i, id := range ids {
			pipe.Del(ctx, b.keys.Record(id))
			members[i] = id
		}
		pipe.ZRem(ctx, b.keys.Index(), members...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete: %v", types.ErrBackend, err)
	}
	return nil
}

// Scan implements vectorstore.Backend. Pages are fetched by keyset on the
// sequence score, so deletes behind the cursor never shift a page boundary.
// A record deleted mid-scan is skipped.
func (b *Backend) Scan(ctx context.Context, fn func(vectorstore.Record) bool) error {
	after := "-inf"
	for {
		entries, err := b.rdb.ZRangeArgsWithScores(ctx, redis.ZRangeArgs{
			Key:     b.keys.Index(),
			Start:   after,
			Stop:    "+inf",
			ByScore: true,
			Count:   scanPageSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("%w: range: %v", types.ErrBackend, err)
		}
		if len(entries) == 0 {
			return nil
		}
		after = "(" + strconv.FormatInt(int64(entries[len(entries)-1].Score), 10)

		pipe := b.rdb.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(entries))
		for i, e := range entries {
			cmds[i] = pipe.HGetAll(ctx, b.keys.Record(e.Member.(string)))
		}
		if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: fetch: %v", types.ErrBackend, err)
		}

		for i, e := range entries {
			fields := cmds[i].Val()
			if len(fields) == 0 {
				continue
			}
			r := vectorstore.Record{
				ID:     e.Member.(string),
				Text:   fields["text"],
				Vector: vectorstore.DecodeVector([]byte(fields["vector"])),
				Seq:    int64(e.Score),
			}
			if err := json.Unmarshal([]byte(fields["metadata"]), &r.Metadata); err != nil {
				return fmt.Errorf("%w: metadata of %s: %v", types.ErrBackend, r.ID, err)
			}
			if !fn(r) {
				return nil
			}
		}

		if len(entries) < scanPageSize {
			return nil
		}
	}
}

// Close closes the Redis connection
func (b *Backend) Close() error {
	return b.rdb.Close()
}

var _ vectorstore.Backend = (*Backend)(nil)
