package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"exportdesk.org/internal/obs"
)

const revocationKeyPrefix = "blacklist:token:"

// RevocationStore records access credentials rejected before their natural expiry.
type RevocationStore interface {
	// Revoke blacklists raw for its remaining lifetime. Expired credentials
	// are ignored and repeated calls never extend the entry.
	Revoke(ctx context.Context, raw string) error
	IsRevoked(ctx context.Context, raw string) (bool, error)
}

// expiryReader extracts a credential's exp claim.
type expiryReader interface {
	ExpiresAt(token string) (time.Time, error)
	Now() time.Time
}

func revocationKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return revocationKeyPrefix + hex.EncodeToString(sum[:])
}

func remainingTTL(codec expiryReader, raw string) (time.Duration, error) {
	exp, err := codec.ExpiresAt(raw)
	if err != nil {
		return 0, err
	}
	return exp.Sub(codec.Now()), nil
}

// RedisRevocationStore keeps revocation entries in Redis with native expiry.
type RedisRevocationStore struct {
	client redis.UniversalClient
	codec  expiryReader
}

var _ RevocationStore = (*RedisRevocationStore)(nil)

// NewRedisRevocationStore constructs a store over an existing Redis client.
func NewRedisRevocationStore(client redis.UniversalClient, codec *Codec) *RedisRevocationStore {
	return &RedisRevocationStore{client: client, codec: codec}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, raw string) error {
	ttl, err := remainingTTL(s.codec, raw)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	set, err := s.client.SetNX(ctx, revocationKey(raw), "true", ttl).Result()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if set {
		obs.ObserveRevocation()
		obs.Info("access token revoked", map[string]any{"ttl_ms": ttl.Milliseconds()})
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, raw string) (bool, error) {
	n, err := s.client.Exists(ctx, revocationKey(raw)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// Ping reports whether Redis is reachable.
func (s *RedisRevocationStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryRevocationStore is an in-process RevocationStore for tests and local runs.
type MemoryRevocationStore struct {
	codec expiryReader

	mu      sync.Mutex
	entries map[string]time.Time
}

var _ RevocationStore = (*MemoryRevocationStore)(nil)

// NewMemoryRevocationStore constructs an empty in-memory store.
func NewMemoryRevocationStore(codec *Codec) *MemoryRevocationStore {
	return &MemoryRevocationStore{codec: codec, entries: make(map[string]time.Time)}
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, raw string) error {
	ttl, err := remainingTTL(s.codec, raw)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	now := s.codec.Now()
	key := revocationKey(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if exp, ok := s.entries[key]; ok && now.Before(exp) {
		return nil
	}
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = now.Add(ttl)
	obs.ObserveRevocation()
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, raw string) (bool, error) {
	key := revocationKey(raw)
	now := s.codec.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[key]
	return ok && now.Before(exp), nil
}

// TTL returns the remaining lifetime of the entry for raw, or zero if absent.
func (s *MemoryRevocationStore) TTL(raw string) time.Duration {
	key := revocationKey(raw)
	now := s.codec.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.entries[key]
	if !ok || !now.Before(exp) {
		return 0
	}
	return exp.Sub(now)
}
