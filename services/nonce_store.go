package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const noncePrefix = "auth:nonce:"

// NonceStore keeps single-use login nonces keyed by lowercased address.
// Consume atomically returns and removes the stored nonce, so one nonce
// can never satisfy two verification attempts.
type NonceStore interface {
	Put(ctx context.Context, address, nonce string, ttl time.Duration) error
	Consume(ctx context.Context, address string) (string, error)
}

// RedisNonceStore backs the store with Redis. GETDEL does the
// check-and-delete in one atomic round trip.
type RedisNonceStore struct {
	Client *redis.Client
}

func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{Client: client}
}

func (s *RedisNonceStore) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	return s.Client.Set(ctx, noncePrefix+address, nonce, ttl).Err()
}

func (s *RedisNonceStore) Consume(ctx context.Context, address string) (string, error) {
	val, err := s.Client.GetDel(ctx, noncePrefix+address).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNonceInvalid
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// MemoryNonceStore is the in-process fallback used when REDIS_URL is not
// configured. Same contract as the Redis store.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]memoryNonce
}

type memoryNonce struct {
	nonce     string
	expiresAt time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]memoryNonce)}
}

// Put stores a fresh nonce and sweeps out expired entries, so addresses
// that request a challenge but never verify cannot grow the map without
// bound. The store is small enough that a full sweep per issue is fine.
func (s *MemoryNonceStore) Put(_ context.Context, address, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for addr, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, addr)
		}
	}
	s.entries[address] = memoryNonce{nonce: nonce, expiresAt: now.Add(ttl)}
	return nil
}

// Consume removes the entry whenever one is found, expired or not. A nonce
// that existed is spent by the attempt that found it.
func (s *MemoryNonceStore) Consume(_ context.Context, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[address]
	if !ok {
		return "", ErrNonceInvalid
	}
	delete(s.entries, address)
	if time.Now().After(entry.expiresAt) {
		return "", ErrNonceInvalid
	}
	return entry.nonce, nil
}
