package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/redis/go-redis/v9"
)

// ErrIdempotencyMismatch means a key was reused with a different request body.
var ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")

// StoredReply is what a request with an Idempotency-Key resolved to.
type StoredReply struct {
	Fingerprint string                `json:"fingerprint"`
	Status      int                   `json:"status"`
	Result      models.MutationResult `json:"result"`
}

// IdempotencyStore keeps replies so a resent request never charges twice.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredReply, error)
	Put(ctx context.Context, key string, reply StoredReply, ttl time.Duration) error
}

// Fingerprint identifies a request body.
func Fingerprint(path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

type memoryEntry struct {
	reply   StoredReply
	expires time.Time
}

type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get returns nil when nothing is stored under key.
func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*StoredReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	if !e.expires.IsZero() && s.now().After(e.expires) {
		delete(s.entries, key)
		return nil, nil
	}
	r := e.reply
	return &r, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, reply StoredReply, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memoryEntry{reply: reply}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// RedisClient defines the Redis operations the store needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

type RedisIdempotencyStore struct {
	client RedisClient
	prefix string
}

func NewRedisIdempotencyStore(client RedisClient) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "sandbox:idempotency:"}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*StoredReply, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var reply StoredReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("decode stored reply: %w", err)
	}
	return &reply, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, reply StoredReply, ttl time.Duration) error {
	b, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode stored reply: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, b, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
