package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relaygate/pkg/interfaces"
)

const redisSessionPrefix = "relaygate:session:"

// RedisSessionStore shares the session table between instances so a token
// issued by one node validates on another. Key TTL mirrors token expiry;
// DEL is revocation.
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(addr, password string, db int) (*RedisSessionStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSessionStore{client: client}, nil
}

var _ interfaces.SessionStore = (*RedisSessionStore)(nil)

func (s *RedisSessionStore) Put(ctx context.Context, session *interfaces.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired at %s", session.ExpiresAt)
	}
	if err := s.client.Set(ctx, redisSessionPrefix+session.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*interfaces.Session, error) {
	val, err := s.client.Get(ctx, redisSessionPrefix+token).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var session interfaces.Session
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisSessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
