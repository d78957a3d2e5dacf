package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/resourcefinder/models"
)

const defaultPrefix = "rf:session:"

// Store keeps each conversation as a Redis list of JSON messages next to a
// marker key. Both keys share the session TTL, so Redis does the expiry.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisSessionStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl, prefix: defaultPrefix}
}

func (s *Store) metaKey(id string) string { return s.prefix + id + ":meta" }
func (s *Store) listKey(id string) string { return s.prefix + id + ":messages" }

func (s *Store) Ensure(ctx context.Context, id string) (string, error) {
	if id != "" {
		ok, err := s.client.Expire(ctx, s.metaKey(id), s.ttl).Result()
		if err != nil {
			return "", fmt.Errorf("refresh session: %w", err)
		}
		if ok {
			if err := s.client.Expire(ctx, s.listKey(id), s.ttl).Err(); err != nil {
				return "", fmt.Errorf("refresh session: %w", err)
			}
			return id, nil
		}
	}

	id = uuid.NewString()
	created, err := s.client.SetNX(ctx, s.metaKey(id), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if !created {
		return "", fmt.Errorf("create session: id collision on %s", id)
	}
	return id, nil
}

func (s *Store) Get(ctx context.Context, id string) (models.Conversation, error) {
	n, err := s.client.Exists(ctx, s.metaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if n == 0 {
		return nil, models.ErrSessionNotFound
	}
	raw, err := s.client.LRange(ctx, s.listKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	conv := make(models.Conversation, 0, len(raw))
	for i, item := range raw {
		var m models.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("decode message %d of session %s: %w", i, id, err)
		}
		conv = append(conv, m)
	}
	return conv, nil
}

func (s *Store) Append(ctx context.Context, id string, msgs ...models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		values = append(values, b)
	}

	n, err := s.client.Exists(ctx, s.metaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.listKey(id), values...)
		pipe.Expire(ctx, s.listKey(id), s.ttl)
		pipe.Expire(ctx, s.metaKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.metaKey(id), s.listKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Sweep is a no-op: Redis expires session keys on its own.
func (s *Store) Sweep(context.Context) (int, error) { return 0, nil }
