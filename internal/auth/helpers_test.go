package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-signing-secret-0123456789"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCodec(t *testing.T, clock *testClock) *Codec {
	t.Helper()
	codec, err := NewCodec(CodecConfig{Secret: testSecret, Issuer: "exportdesk-test", Now: clock.Now})
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

func seedUser(t *testing.T, store *MemoryStore, id, email string) *User {
	t.Helper()
	u := &User{
		ID:             id,
		Nickname:       "user " + id,
		Role:           RoleUser,
		SocialProvider: ProviderKakao,
		OAuthID:        "kakao-" + id,
	}
	if email != "" {
		u.Email = &email
	}
	if err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

type sessionFixture struct {
	clock    *testClock
	users    *MemoryStore
	codec    *Codec
	revoked  *MemoryRevocationStore
	sessions *SessionService
}

func newSessionFixture(t *testing.T, opts ...SessionOption) *sessionFixture {
	t.Helper()
	f := &sessionFixture{clock: newTestClock(), users: NewMemoryStore()}
	f.codec = newTestCodec(t, f.clock)
	f.revoked = NewMemoryRevocationStore(f.codec)
	base := []SessionOption{
		WithRevocationStore(f.revoked),
		WithRefreshStore(NewRefreshStore(f.users, WithBcryptCost(bcrypt.MinCost))),
	}
	sessions, err := NewSessionService(f.users, f.codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewSessionService: %v", err)
	}
	f.sessions = sessions
	return f
}

// startSession issues a pair for u the same way Login does after verification.
func (f *sessionFixture) startSession(t *testing.T, u *User) TokenPair {
	t.Helper()
	pair, err := f.sessions.issuePair(context.Background(), u)
	if err != nil {
		t.Fatalf("issuePair: %v", err)
	}
	return pair
}

// tamper flips one character in the middle of the payload segment.
func tamper(token string) string {
	b := []byte(token)
	first := -1
	for i, c := range b {
		if c == '.' {
			first = i
			break
		}
	}
	i := first + 5
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}
