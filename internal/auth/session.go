package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"exportdesk.org/internal/obs"
)

// SessionService orchestrates login, reissue and logout over the codec,
// refresh store, revocation store and identity verifier.
type SessionService struct {
	users    UserStore
	codec    *Codec
	verifier AssertionVerifier
	refresh  *RefreshStore
	revoked  RevocationStore
	locks    keyedMutex
}

// SessionOption configures SessionService behavior.
type SessionOption func(*SessionService)

// WithIdentityVerifier sets the verifier used by Login.
func WithIdentityVerifier(v AssertionVerifier) SessionOption {
	return func(s *SessionService) {
		if v != nil {
			s.verifier = v
		}
	}
}

// WithRevocationStore overrides the in-memory revocation store.
func WithRevocationStore(r RevocationStore) SessionOption {
	return func(s *SessionService) {
		if r != nil {
			s.revoked = r
		}
	}
}

// WithRefreshStore overrides the refresh store built over the user store.
func WithRefreshStore(r *RefreshStore) SessionOption {
	return func(s *SessionService) {
		if r != nil {
			s.refresh = r
		}
	}
}

// NewSessionService constructs a SessionService. Without options it keeps
// revocations in memory and cannot log anyone in.
func NewSessionService(users UserStore, codec *Codec, opts ...SessionOption) (*SessionService, error) {
	if users == nil {
		return nil, errors.New("auth: user store is required")
	}
	if codec == nil {
		return nil, errors.New("auth: codec is required")
	}
	s := &SessionService{users: users, codec: codec}
	for _, opt := range opts {
		opt(s)
	}
	if s.refresh == nil {
		s.refresh = NewRefreshStore(users)
	}
	if s.revoked == nil {
		s.revoked = NewMemoryRevocationStore(codec)
	}
	return s, nil
}

// Codec exposes the credential codec.
func (s *SessionService) Codec() *Codec { return s.codec }

// Login verifies a third-party identity assertion and starts a new session.
// Any previous refresh credential of the user stops resolving.
func (s *SessionService) Login(ctx context.Context, idToken string) (TokenPair, error) {
	if s.verifier == nil {
		return TokenPair{}, fmt.Errorf("%w: no identity providers configured", ErrNotImplemented)
	}
	user, err := s.verifier.Verify(ctx, idToken)
	if err != nil {
		obs.ObserveLogin("rejected")
		return TokenPair{}, err
	}
	unlock := s.locks.Lock(user.ID)
	defer unlock()
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, err
	}
	obs.ObserveLogin("ok")
	return pair, nil
}

// Reissue exchanges a refresh credential for a new pair. oldAccess may be
// expired but must carry a valid signature and belong to the same user.
func (s *SessionService) Reissue(ctx context.Context, oldAccess, oldRefresh string) (TokenPair, error) {
	pair, err := s.reissue(ctx, oldAccess, oldRefresh)
	switch {
	case err == nil:
		obs.ObserveReissue("ok")
	case errors.Is(err, ErrExpiredToken):
		obs.ObserveReissue("expired")
	case errors.Is(err, ErrInvalidToken):
		obs.ObserveReissue("invalid")
	default:
		obs.ObserveReissue("error")
	}
	return pair, err
}

func (s *SessionService) reissue(ctx context.Context, oldAccess, oldRefresh string) (TokenPair, error) {
	if _, err := s.codec.Verify(oldRefresh, KindRefresh); err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.refresh.FindPrincipal(ctx, oldRefresh)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrExpiredToken
		}
		return TokenPair{}, err
	}
	claims, err := s.codec.VerifyAllowExpired(oldAccess, KindAccess)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	if claims.UserID != user.ID {
		obs.Warn("reissue principal mismatch", map[string]any{
			"user_id":  user.ID,
			"claim_id": claims.UserID,
		})
		return TokenPair{}, ErrInvalidToken
	}
	return s.rotate(ctx, user, oldRefresh)
}

// rotate issues a fresh pair for user provided oldRefresh is still the
// outstanding credential once the per-user lock is held.
func (s *SessionService) rotate(ctx context.Context, user *User, oldRefresh string) (TokenPair, error) {
	unlock := s.locks.Lock(user.ID)
	defer unlock()

	ok, err := s.refresh.Matches(ctx, user.ID, oldRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, ErrExpiredToken
	}
	return s.issuePair(ctx, user)
}

// Logout revokes the access credential and clears the stored refresh hash.
// It returns the id of the user whose session ended.
func (s *SessionService) Logout(ctx context.Context, access string) (string, error) {
	claims, err := s.codec.Verify(access, KindAccess)
	if err != nil {
		return "", err
	}
	user, err := s.resolvePrincipal(ctx, claims)
	if err != nil {
		return "", err
	}
	if err := s.revoked.Revoke(ctx, access); err != nil {
		return "", err
	}
	unlock := s.locks.Lock(user.ID)
	defer unlock()
	if err := s.refresh.Clear(ctx, user.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", err
	}
	return user.ID, nil
}

// UserInfo returns the public profile of userID.
func (s *SessionService) UserInfo(ctx context.Context, userID string) (UserInfo, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserInfo{}, ErrUserNotFound
		}
		return UserInfo{}, err
	}
	return UserInfo{
		Email:           user.EmailValue(),
		Name:            user.Nickname,
		ProfileImageURL: user.ProfileImageURL,
		Role:            user.Role,
	}, nil
}

// resolvePrincipal looks up the user named by access claims. Users without an
// email are resolved by id. A claim whose id disagrees with the stored user
// is rejected.
func (s *SessionService) resolvePrincipal(ctx context.Context, claims *Claims) (*User, error) {
	var (
		user *User
		err  error
	)
	if claims.Email != "" {
		user, err = s.users.FindByEmail(ctx, claims.Email)
	} else {
		user, err = s.users.Find(ctx, claims.UserID)
	}
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if claims.UserID != "" && claims.UserID != user.ID {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// issuePair signs a new pair and makes its refresh credential the outstanding one.
// Callers hold the user's lock.
func (s *SessionService) issuePair(ctx context.Context, user *User) (TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccess(user.EmailValue(), user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, refreshExp, err := s.codec.IssueRefresh()
	if err != nil {
		return TokenPair{}, err
	}
	if err := s.refresh.Rotate(ctx, user.ID, refresh); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrUserNotFound
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// keyedMutex serializes work per key. Entries are dropped once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
