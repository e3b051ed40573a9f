package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

const defaultRedisPrefix = "sevcal"

// RedisStore keeps the state keys plus an updated_at stamp in Redis so
// several hosts can share one calendar, the way a cloud key/value store
// would.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	tracker changeTracker
}

// NewRedisStore connects to redisURL (redis://[:password@]host:port/db)
// and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Disable maint notifications to avoid warning about maint_notifications command
	opts.MaintNotificationsConfig = &maintnotifications.Config{
		Mode: maintnotifications.ModeDisabled,
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *RedisStore) Load(ctx context.Context) (*Payload, error) {
	p, err := s.read(ctx)
	if err != nil || p == nil {
		return p, err
	}
	s.tracker.remember(*p)
	return p, nil
}

func (s *RedisStore) read(ctx context.Context) (*Payload, error) {
	vals, err := s.client.MGet(ctx,
		s.key(keyEvents),
		s.key(keyBlackouts),
		s.key(keySettings),
		s.key("updated_at"),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("redis load: %w", err)
	}
	if len(vals) != 4 {
		return nil, errors.New("redis load: unexpected reply length")
	}
	if vals[0] == nil && vals[1] == nil && vals[2] == nil {
		return nil, nil
	}

	p := &Payload{
		Events:    rawValue(vals[0]),
		Blackouts: rawValue(vals[1]),
		Settings:  rawValue(vals[2]),
	}
	if stamp, ok := vals[3].(string); ok {
		if ms, err := strconv.ParseInt(stamp, 10, 64); err == nil {
			p.UpdatedAt = time.UnixMilli(ms).UTC()
		}
	}
	return p, nil
}

// Save writes all keys and the new stamp in one MULTI/EXEC.
func (s *RedisStore) Save(ctx context.Context, p Payload) error {
	now := time.Now().UTC()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(p.Events) > 0 {
			pipe.Set(ctx, s.key(keyEvents), string(p.Events), 0)
		}
		if len(p.Blackouts) > 0 {
			pipe.Set(ctx, s.key(keyBlackouts), string(p.Blackouts), 0)
		}
		if len(p.Settings) > 0 {
			pipe.Set(ctx, s.key(keySettings), string(p.Settings), 0)
		}
		pipe.Set(ctx, s.key("updated_at"), strconv.FormatInt(now.UnixMilli(), 10), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	p.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()
	s.tracker.remember(p)
	return nil
}

func (s *RedisStore) OnExternalChange(fn func(Payload)) {
	s.tracker.subscribe(fn)
}

func (s *RedisStore) Poll(ctx context.Context) error {
	return s.tracker.poll(ctx, s.read)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func rawValue(v any) json.RawMessage {
	if s, ok := v.(string); ok && s != "" {
		return json.RawMessage(s)
	}
	return nil
}
