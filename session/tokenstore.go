package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidStoreType is returned for an unknown token store type.
	ErrInvalidStoreType = errors.New("session: invalid store type")

	// ErrInvalidConfig is returned when a token store lacks required options.
	ErrInvalidConfig = errors.New("session: invalid store configuration")
)

// DefaultTokenTTL is how long an unused keyed token is kept.
const DefaultTokenTTL = 24 * time.Hour

const redisKeyPrefix = "docstore:session:"

// StoreType selects a TokenStore driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// TokenStore keeps session tokens by key.
type TokenStore interface {
	// Get returns the token for key, or "" when there is none.
	Get(ctx context.Context, key string) (string, error)

	// Set stores the token for key and refreshes its expiry.
	Set(ctx context.Context, key, token string) error

	Close() error
}

// StoreOption configures a TokenStore.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient redis.UniversalClient
	ttl         time.Duration
	now         func() time.Time
}

// WithRedisClient sets the client of the redis driver.
func WithRedisClient(client redis.UniversalClient) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithTTL sets how long tokens are kept after their last use.
func WithTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.ttl = ttl
	}
}

// WithClock sets the time source of the memory driver.
func WithClock(now func() time.Time) StoreOption {
	return func(c *storeConfig) {
		c.now = now
	}
}

// NewTokenStore creates a TokenStore. The redis driver requires WithRedisClient.
func NewTokenStore(storeType StoreType, opts ...StoreOption) (TokenStore, error) {
	config := &storeConfig{now: time.Now}
	for _, opt := range opts {
		opt(config)
	}
	if config.ttl <= 0 {
		config.ttl = DefaultTokenTTL
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryTokens{ttl: config.ttl, now: config.now, tokens: make(map[string]memoryToken)}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		return &redisTokens{client: config.redisClient, ttl: config.ttl}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

type memoryToken struct {
	token     string
	expiresAt time.Time
}

type memoryTokens struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]memoryToken
}

func (s *memoryTokens) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[key]
	if !ok {
		return "", nil
	}
	now := s.now()
	if !now.Before(t.expiresAt) {
		delete(s.tokens, key)
		return "", nil
	}
	t.expiresAt = now.Add(s.ttl)
	s.tokens[key] = t
	return t.token, nil
}

func (s *memoryTokens) Set(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key] = memoryToken{token: token, expiresAt: s.now().Add(s.ttl)}
	return nil
}

func (s *memoryTokens) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]memoryToken)
	return nil
}

type redisTokens struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func (s *redisTokens) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.GetEx(ctx, redisKeyPrefix+key, s.ttl).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *redisTokens) Set(ctx context.Context, key, token string) error {
	return s.client.Set(ctx, redisKeyPrefix+key, token, s.ttl).Err()
}

func (s *redisTokens) Close() error {
	return s.client.Close()
}
