package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-fittrack/pkg/domain"
)

// RedisTokenStore keeps provider sign-in state in Redis so it survives restarts.
// Redis TTLs handle expiry.
type RedisTokenStore struct {
	client        redis.UniversalClient
	sessionPrefix string
	pendingPrefix string
}

// NewRedisTokenStore creates a Redis-backed token store.
func NewRedisTokenStore(client redis.UniversalClient) *RedisTokenStore {
	return &RedisTokenStore{
		client:        client,
		sessionPrefix: "idp:session:",
		pendingPrefix: "idp:pending:",
	}
}

func (s *RedisTokenStore) Save(ctx context.Context, sid string, p domain.Principal, ttl time.Duration) error {
	return s.set(ctx, s.sessionPrefix+sid, p, ttl)
}

func (s *RedisTokenStore) Get(ctx context.Context, sid string) (*domain.Principal, error) {
	if sid == "" {
		return nil, nil
	}
	data, err := s.client.Get(ctx, s.sessionPrefix+sid).Result()
	return decodePrincipal(data, err)
}

func (s *RedisTokenStore) Delete(ctx context.Context, sid string) error {
	if sid == "" {
		return nil
	}
	return s.client.Del(ctx, s.sessionPrefix+sid).Err()
}

func (s *RedisTokenStore) SavePending(ctx context.Context, sid string, p domain.Principal, ttl time.Duration) error {
	return s.set(ctx, s.pendingPrefix+sid, p, ttl)
}

func (s *RedisTokenStore) TakePending(ctx context.Context, sid string) (*domain.Principal, error) {
	if sid == "" {
		return nil, nil
	}
	data, err := s.client.GetDel(ctx, s.pendingPrefix+sid).Result()
	return decodePrincipal(data, err)
}

func (s *RedisTokenStore) set(ctx context.Context, key string, p domain.Principal, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal principal: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func decodePrincipal(data string, err error) (*domain.Principal, error) {
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var p domain.Principal
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("unmarshal principal: %w", err)
	}
	return &p, nil
}
