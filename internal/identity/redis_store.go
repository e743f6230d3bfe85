package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const mappingsKey = "identity:mappings"

// RedisStore keeps the full mapping set in one Redis value. The write is an
// idempotent overwrite, so concurrent flushes cannot corrupt the record.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{client: client}
}

func (s *RedisStore) Load(ctx context.Context) (map[string]Mapping, error) {
	raw, err := s.client.Get(ctx, mappingsKey).Result()
	if errors.Is(err, redis.Nil) {
		return map[string]Mapping{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("identity: load mappings: %w", err)
	}
	var out map[string]Mapping
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("identity: decode mappings: %w", err)
	}
	if out == nil {
		out = map[string]Mapping{}
	}
	return out, nil
}

func (s *RedisStore) Save(ctx context.Context, mappings map[string]Mapping) error {
	payload, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("identity: encode mappings: %w", err)
	}
	if err := s.client.Set(ctx, mappingsKey, payload, 0).Err(); err != nil {
		return fmt.Errorf("identity: save mappings: %w", err)
	}
	return nil
}
