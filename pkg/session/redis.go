package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix is prepended to every session key.
	DefaultRedisPrefix = "keeper:session:"

	// maxAppendAttempts bounds optimistic-lock retries in AppendTurn.
	maxAppendAttempts = 32
)

// RedisStore implements Store on Redis. Each session is one JSON value.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL expires idle sessions after ttl. Every write refreshes the expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisStore) {
		r.ttl = ttl
	}
}

// WithKeyPrefix overrides DefaultRedisPrefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.prefix = prefix
	}
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client, prefix: DefaultRedisPrefix}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ConnectRedis parses a redis:// URL, connects and pings.
func ConnectRedis(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	ropts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(ropts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(client, opts...), nil
}

// Close closes the underlying client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) key(id Identity) string {
	return fmt.Sprintf("%s%s:%s:%s", r.prefix, id.AppID, id.UserID, id.SessionID)
}

// Get loads a session.
func (r *RedisStore) Get(ctx context.Context, id Identity) (*Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return decodeSession(data)
}

// Create stores a new session if the key is free.
func (r *RedisStore) Create(ctx context.Context, id Identity) (*Session, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}

	s := New(id)
	data, err := sonic.ConfigStd.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := r.client.SetNX(ctx, r.key(id), data, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to create session %s: %w", id, err)
	}
	if !ok {
		return nil, ErrAlreadyExists
	}
	return s, nil
}

// Delete removes a session.
func (r *RedisStore) Delete(ctx context.Context, id Identity) error {
	n, err := r.client.Del(ctx, r.key(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTurn appends under WATCH so concurrent writers never lose a turn.
func (r *RedisStore) AppendTurn(ctx context.Context, id Identity, turn Turn) error {
	key := r.key(id)
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return err
		}
		s, err := decodeSession(data)
		if err != nil {
			return err
		}
		s.Turns = append(s.Turns, turn)
		s.UpdatedAt = turn.CreatedAt

		out, err := sonic.ConfigStd.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAppendAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to append turn to %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("failed to append turn to %s: too much contention", id)
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := sonic.ConfigStd.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if s.Turns == nil {
		s.Turns = []Turn{}
	}
	return &s, nil
}
