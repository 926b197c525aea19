package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"exportdesk.org/internal/obs"
)

// RefreshStore persists the salted hash of each user's outstanding refresh
// credential and resolves raw credentials back to users.
//
// bcrypt hashes are salted per user, so lookup cannot be indexed: it scans
// users holding a hash and compares each. Only users with an active session
// are scanned. Deployments with very large session counts need a different
// index (e.g. keyed by the credential's jti).
type RefreshStore struct {
	users   UserStore
	cost    int
	maxScan int
}

// RefreshStoreOption configures RefreshStore behavior.
type RefreshStoreOption func(*RefreshStore)

// WithBcryptCost overrides the bcrypt work factor.
func WithBcryptCost(cost int) RefreshStoreOption {
	return func(s *RefreshStore) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.cost = cost
		}
	}
}

// WithMaxScan bounds the number of hashes compared per lookup. Zero means unbounded.
func WithMaxScan(n int) RefreshStoreOption {
	return func(s *RefreshStore) {
		if n >= 0 {
			s.maxScan = n
		}
	}
}

// NewRefreshStore constructs a RefreshStore over users.
func NewRefreshStore(users UserStore, opts ...RefreshStoreOption) *RefreshStore {
	s := &RefreshStore{users: users, cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rotate replaces the user's stored hash with the hash of raw. The previous
// refresh credential stops resolving as soon as the write lands.
func (s *RefreshStore) Rotate(ctx context.Context, userID, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.Clear(ctx, userID)
	}
	hash, err := hashCredential(raw, s.cost)
	if err != nil {
		return err
	}
	return s.users.SetRefreshHash(ctx, userID, &hash)
}

// Clear removes the user's refresh hash, ending the session.
func (s *RefreshStore) Clear(ctx context.Context, userID string) error {
	return s.users.SetRefreshHash(ctx, userID, nil)
}

// FindPrincipal returns the user whose stored hash matches raw, or ErrNotFound.
func (s *RefreshStore) FindPrincipal(ctx context.Context, raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotFound
	}
	entries, err := s.users.ListWithRefreshHash(ctx)
	if err != nil {
		return nil, err
	}
	scanned := 0
	defer func() { obs.ObserveRefreshScan(scanned) }()
	for _, e := range entries {
		if s.maxScan > 0 && scanned >= s.maxScan {
			obs.Warn("refresh lookup scan limit reached", map[string]any{
				"limit":    s.maxScan,
				"sessions": len(entries),
			})
			break
		}
		scanned++
		if !credentialMatches(e.Hash, raw) {
			continue
		}
		user, err := s.users.Find(ctx, e.UserID)
		if err != nil {
			return nil, err
		}
		return user, nil
	}
	return nil, ErrNotFound
}

// Matches re-reads a single user's hash and reports whether raw is still the
// outstanding refresh credential.
func (s *RefreshStore) Matches(ctx context.Context, userID, raw string) (bool, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if user.RefreshTokenHash == nil {
		return false, nil
	}
	return credentialMatches(*user.RefreshTokenHash, raw), nil
}
