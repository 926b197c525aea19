package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"exportdesk.org/internal/ids"
)

// MemoryStore is an in-process UserStore.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*User
	now   func() time.Time
}

var _ UserStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*User), now: time.Now}
}

func (s *MemoryStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.clone(), nil
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email != nil && *u.Email == email {
			return u.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) FindBySocial(_ context.Context, provider Provider, oauthID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.SocialProvider == provider && u.OAuthID == oauthID {
			return u.clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if u.Email != nil && existing.Email != nil && strings.EqualFold(*existing.Email, *u.Email) {
			return ErrAlreadyExists
		}
		if u.OAuthID != "" && existing.SocialProvider == u.SocialProvider && existing.OAuthID == u.OAuthID {
			return ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	now := s.now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u.clone()
	return nil
}

func (s *MemoryStore) TouchLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) SetRefreshHash(_ context.Context, id string, hash *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	if hash == nil {
		u.RefreshTokenHash = nil
	} else {
		v := *hash
		u.RefreshTokenHash = &v
	}
	u.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) ListWithRefreshHash(_ context.Context) ([]RefreshHashEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]RefreshHashEntry, 0, len(s.users))
	for _, u := range s.users {
		if u.RefreshTokenHash == nil {
			continue
		}
		entries = append(entries, RefreshHashEntry{UserID: u.ID, Hash: *u.RefreshTokenHash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries, nil
}

// Len returns the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
