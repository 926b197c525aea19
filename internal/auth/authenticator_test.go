package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func headers(kv ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return h
}

type failingRevocations struct{}

func (failingRevocations) Revoke(context.Context, string) error { return errors.New("backend down") }
func (failingRevocations) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func TestAuthenticatorAccessCredential(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	u := seedUser(t, f.users, "u1", "ana@example.com")
	pair := f.startSession(t, u)
	a := NewAuthenticator(f.sessions)

	outcome := a.Authenticate(ctx, headers(HeaderAuthorization, "Bearer "+pair.AccessToken))
	if !outcome.Authenticated() || outcome.Renewed != nil {
		t.Fatalf("expected identity only, got %+v", outcome)
	}
	want := Identity{UserID: u.ID, Email: "ana@example.com", Role: RoleUser}
	if *outcome.Identity != want {
		t.Fatalf("identity=%+v, want %+v", *outcome.Identity, want)
	}

	// The prefix is optional.
	if !a.Authenticate(ctx, headers(HeaderAuthorization, pair.AccessToken)).Authenticated() {
		t.Fatal("expected bare credential to authenticate")
	}
}

func TestAuthenticatorProceedsAnonymously(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	u := seedUser(t, f.users, "u1", "ana@example.com")
	pair := f.startSession(t, u)
	ghost, _, err := f.codec.IssueAccess("ghost@example.com", "ghost")
	if err != nil {
		t.Fatalf("IssueAccess: %v", err)
	}
	a := NewAuthenticator(f.sessions)

	cases := map[string]http.Header{
		"no headers":         headers(),
		"tampered access":    headers(HeaderAuthorization, "Bearer "+tamper(pair.AccessToken)),
		"refresh as access":  headers(HeaderAuthorization, "Bearer "+pair.RefreshToken),
		"unknown user":       headers(HeaderAuthorization, "Bearer "+ghost),
		"junk refresh only":  headers(HeaderRefreshToken, "junk"),
		"access as refresh":  headers(HeaderRefreshToken, pair.AccessToken),
		"empty bearer value": headers(HeaderAuthorization, "Bearer "),
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			outcome := a.Authenticate(ctx, h)
			if outcome.Identity != nil || outcome.Renewed != nil {
				t.Fatalf("expected anonymous outcome, got %+v", outcome)
			}
		})
	}

	f.clock.Advance(defaultAccessTTL + time.Second)
	if a.Authenticate(ctx, headers(HeaderAuthorization, "Bearer "+pair.AccessToken)).Authenticated() {
		t.Fatal("expired access must not authenticate")
	}
}

func TestAuthenticatorSilentRenewalTakesPriority(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	u := seedUser(t, f.users, "u1", "ana@example.com")
	pair := f.startSession(t, u)
	a := NewAuthenticator(f.sessions)

	outcome := a.Authenticate(ctx, headers(
		HeaderAuthorization, "Bearer "+pair.AccessToken,
		HeaderRefreshToken, "Bearer "+pair.RefreshToken,
	))
	if outcome.Renewed == nil {
		t.Fatal("expected renewal")
	}
	if outcome.Identity != nil {
		t.Fatal("renewal must not populate the identity")
	}
	if outcome.Renewed.RefreshToken == pair.RefreshToken {
		t.Fatal("expected rotated refresh credential")
	}
	claims, err := f.codec.Verify(outcome.Renewed.AccessToken, KindAccess)
	if err != nil || claims.UserID != u.ID {
		t.Fatalf("renewed access invalid: %+v, %v", claims, err)
	}

	// The presented refresh credential is spent; the access credential is used instead.
	again := a.Authenticate(ctx, headers(
		HeaderAuthorization, "Bearer "+pair.AccessToken,
		HeaderRefreshToken, pair.RefreshToken,
	))
	if again.Renewed != nil || !again.Authenticated() {
		t.Fatalf("expected fallback to access credential, got %+v", again)
	}
}

func TestAuthenticatorRenewsWithExpiredAccess(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	u := seedUser(t, f.users, "u1", "ana@example.com")
	pair := f.startSession(t, u)
	f.clock.Advance(defaultAccessTTL + time.Minute)

	outcome := NewAuthenticator(f.sessions).Authenticate(ctx, headers(
		HeaderAuthorization, "Bearer "+pair.AccessToken,
		HeaderRefreshToken, pair.RefreshToken,
	))
	if outcome.Renewed == nil {
		t.Fatal("expected renewal for expired access with live refresh")
	}
}

func TestAuthenticatorFailsClosedOnRevocationError(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t, WithRevocationStore(failingRevocations{}))
	u := seedUser(t, f.users, "u1", "ana@example.com")
	pair := f.startSession(t, u)

	outcome := NewAuthenticator(f.sessions).Authenticate(ctx, headers(HeaderAuthorization, "Bearer "+pair.AccessToken))
	if outcome.Authenticated() {
		t.Fatal("expected anonymous outcome when revocation state is unknown")
	}
}

func TestAuthenticatorUserWithoutEmail(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	u := seedUser(t, f.users, "u1", "")
	pair := f.startSession(t, u)

	outcome := NewAuthenticator(f.sessions).Authenticate(ctx, headers(HeaderAuthorization, "Bearer "+pair.AccessToken))
	if !outcome.Authenticated() || outcome.Identity.UserID != u.ID || outcome.Identity.Email != "" {
		t.Fatalf("expected identity resolved by id, got %+v", outcome.Identity)
	}
}

func TestStripBearer(t *testing.T) {
	cases := map[string]string{
		"":              "",
		"  abc  ":       "abc",
		"Bearer abc":    "abc",
		"bearer abc":    "abc",
		"BEARER   abc":  "abc",
		"Bearerabc":     "Bearerabc",
		"Token abc":     "Token abc",
		"Bearer ":       "",
		"Bearer a.b.c ": "a.b.c",
	}
	for input, want := range cases {
		if got := StripBearer(input); got != want {
			t.Fatalf("StripBearer(%q)=%q, want %q", input, got, want)
		}
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := IdentityFromContext(ctx); ok {
		t.Fatal("expected no identity on empty context")
	}
	ctx = ContextWithIdentity(ctx, Identity{UserID: "u1", Email: "ana@example.com", Role: RoleAdmin})

	id, ok := IdentityFromContext(ctx)
	if !ok || id.UserID != "u1" || id.Role != RoleAdmin {
		t.Fatalf("unexpected identity: %+v, ok=%v", id, ok)
	}
}
