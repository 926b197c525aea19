package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"golang.org/x/sync/singleflight"
)

const (
	defaultJWKSRefresh    = time.Hour
	defaultJWKSMinRefetch = 30 * time.Second
)

// KeySet fetches and caches a provider's RSA signing keys from its JWKS endpoint.
type KeySet struct {
	url             string
	httpClient      *http.Client
	refreshInterval time.Duration
	minRefetch      time.Duration
	now             func() time.Time

	fetches singleflight.Group

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetch   time.Time
	lastAttempt time.Time
}

// KeySetOption configures a KeySet.
type KeySetOption func(*KeySet)

// WithJWKSHTTPClient sets the HTTP client used for fetching keys.
func WithJWKSHTTPClient(c *http.Client) KeySetOption {
	return func(k *KeySet) {
		if c != nil {
			k.httpClient = c
		}
	}
}

// WithJWKSRefreshInterval sets how long fetched keys are trusted before refetching.
func WithJWKSRefreshInterval(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.refreshInterval = d
		}
	}
}

// WithJWKSMinRefetchInterval sets the minimum gap between two fetches. An
// unknown kid seen within the gap is rejected from cache.
func WithJWKSMinRefetchInterval(d time.Duration) KeySetOption {
	return func(k *KeySet) {
		if d > 0 {
			k.minRefetch = d
		}
	}
}

// WithJWKSClock overrides the clock used for cache ageing.
func WithJWKSClock(fn func() time.Time) KeySetOption {
	return func(k *KeySet) {
		if fn != nil {
			k.now = fn
		}
	}
}

// NewKeySet creates a lazily-populated key set for url.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:             url,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		refreshInterval: defaultJWKSRefresh,
		minRefetch:      defaultJWKSMinRefetch,
		now:             time.Now,
		keys:            make(map[string]*rsa.PublicKey),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Key returns the public key for kid, refetching on unknown kid or stale cache.
// Fetches are at most one per minimum refetch interval and concurrent callers
// share one fetch. A stale key is still served if the refetch fails.
func (k *KeySet) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	now := k.now()
	k.mu.RLock()
	key, found := k.keys[kid]
	stale := now.Sub(k.lastFetch) > k.refreshInterval
	recent := now.Sub(k.lastAttempt) < k.minRefetch
	k.mu.RUnlock()

	if found && (!stale || recent) {
		return key, nil
	}
	if !recent {
		if err := k.refresh(ctx); err != nil {
			if found {
				return key, nil
			}
			return nil, err
		}
	}
	return k.lookup(kid)
}

func (k *KeySet) lookup(kid string) (*rsa.PublicKey, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	if kid == "" && len(k.keys) == 1 {
		for _, only := range k.keys {
			return only, nil
		}
	}
	return nil, fmt.Errorf("jwks: key not found for kid %q", kid)
}

// refresh fetches the key set unless another fetch finished within the
// minimum refetch interval.
func (k *KeySet) refresh(ctx context.Context) error {
	_, err, _ := k.fetches.Do(k.url, func() (any, error) {
		k.mu.RLock()
		recent := !k.lastAttempt.IsZero() && k.now().Sub(k.lastAttempt) < k.minRefetch
		k.mu.RUnlock()
		if recent {
			return nil, nil
		}
		err := k.fetch(ctx)
		k.mu.Lock()
		k.lastAttempt = k.now()
		k.mu.Unlock()
		return nil, err
	})
	return err
}

func (k *KeySet) fetch(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("jwks: create request: %w", err)
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch returned status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks: decode: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, jwk := range set.Keys {
		if jwk.Use != "" && jwk.Use != "sig" {
			continue
		}
		pub, ok := jwk.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[jwk.KeyID] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks: no RSA signing keys at %s", k.url)
	}

	k.mu.Lock()
	k.keys = keys
	k.lastFetch = k.now()
	k.mu.Unlock()
	return nil
}
