package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/lang2file/core"
)

// DefaultRedisKeyPrefix namespaces conversation keys.
const DefaultRedisKeyPrefix = "lang2file:conversation:"

// RedisConfig describes the Redis connection for RedisStore.
type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	// TTL expires idle conversations. Zero keeps them until cleared.
	TTL time.Duration
}

// RedisStore keeps each conversation in a Redis list. Append pushes and trims
// inside one MULTI/EXEC transaction, so the bound holds across processes.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	ttl         time.Duration
	maxMessages int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, optFns ...func(o *Options)) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must not be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	return NewRedisStoreFromClient(client, cfg, optFns...), nil
}

// NewRedisStoreFromClient wraps an existing client. Address, Password and DB
// of cfg are ignored.
func NewRedisStoreFromClient(client *redis.Client, cfg RedisConfig, optFns ...func(o *Options)) *RedisStore {
	opts := newOptions(optFns...)

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}

	return &RedisStore{
		client:      client,
		prefix:      prefix,
		ttl:         cfg.TTL,
		maxMessages: opts.MaxMessages,
	}
}

func (s *RedisStore) key(sessionID string) string { return s.prefix + sessionID }

// Append pushes messages and trims the list to the newest MaxMessages entries.
func (s *RedisStore) Append(ctx context.Context, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, b)
	}

	key := s.key(sessionID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		pipe.LTrim(ctx, key, int64(-s.maxMessages), -1)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis append %s: %w", sessionID, err)
	}

	return nil
}

// Get returns the session log. Unknown sessions yield an empty slice.
func (s *RedisStore) Get(ctx context.Context, sessionID string) ([]core.Message, error) {
	raw, err := s.client.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis get %s: %w", sessionID, err)
	}

	out := make([]core.Message, 0, len(raw))
	for _, r := range raw {
		var m core.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}

	return out, nil
}

// Clear deletes the session log.
func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
