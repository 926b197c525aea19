package auth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestRefreshStoreRotateInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore()
	u := seedUser(t, users, "u1", "ana@example.com")
	store := NewRefreshStore(users, WithBcryptCost(bcrypt.MinCost))

	if err := store.Rotate(ctx, u.ID, "refresh-one"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Rotate(ctx, u.ID, "refresh-two"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if _, err := store.FindPrincipal(ctx, "refresh-one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rotated-away credential to miss, got %v", err)
	}
	got, err := store.FindPrincipal(ctx, "refresh-two")
	if err != nil {
		t.Fatalf("FindPrincipal: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("resolved %q, want %q", got.ID, u.ID)
	}

	ok, err := store.Matches(ctx, u.ID, "refresh-one")
	if err != nil || ok {
		t.Fatalf("Matches(old)=%v, %v", ok, err)
	}
	ok, err = store.Matches(ctx, u.ID, "refresh-two")
	if err != nil || !ok {
		t.Fatalf("Matches(current)=%v, %v", ok, err)
	}
}

func TestRefreshStoreNeverPersistsRawCredential(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore()
	u := seedUser(t, users, "u1", "ana@example.com")
	store := NewRefreshStore(users, WithBcryptCost(bcrypt.MinCost))

	raw := strings.Repeat("r", 200)
	if err := store.Rotate(ctx, u.ID, raw); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	stored, err := users.Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if stored.RefreshTokenHash == nil {
		t.Fatal("expected a stored hash")
	}
	hash := *stored.RefreshTokenHash
	if strings.Contains(hash, raw) || strings.Contains(hash, digestCredential(raw)) {
		t.Fatal("stored hash exposes the credential")
	}
	if !strings.HasPrefix(hash, "$2a$") {
		t.Fatalf("expected a bcrypt hash, got %q", hash)
	}
	if _, err := store.FindPrincipal(ctx, raw); err != nil {
		t.Fatalf("long credential should still resolve: %v", err)
	}
}

func TestRefreshStoreClear(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore()
	u := seedUser(t, users, "u1", "ana@example.com")
	store := NewRefreshStore(users, WithBcryptCost(bcrypt.MinCost))

	if err := store.Rotate(ctx, u.ID, "refresh-one"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Clear(ctx, u.ID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := store.FindPrincipal(ctx, "refresh-one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
	entries, _ := users.ListWithRefreshHash(ctx)
	if len(entries) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(entries))
	}
	if err := store.Rotate(ctx, "missing", "refresh"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
	if _, err := store.FindPrincipal(ctx, "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank credential, got %v", err)
	}
}

func TestRefreshStoreSeparatesUsers(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore()
	a := seedUser(t, users, "u1", "ana@example.com")
	b := seedUser(t, users, "u2", "bo@example.com")
	store := NewRefreshStore(users, WithBcryptCost(bcrypt.MinCost))

	if err := store.Rotate(ctx, a.ID, "refresh-a"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Rotate(ctx, b.ID, "refresh-b"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	got, err := store.FindPrincipal(ctx, "refresh-b")
	if err != nil || got.ID != b.ID {
		t.Fatalf("FindPrincipal(b)=%v, %v", got, err)
	}
	if ok, _ := store.Matches(ctx, a.ID, "refresh-b"); ok {
		t.Fatal("credential of one user matched another")
	}
}

func TestRefreshStoreMaxScan(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryStore()
	seedUser(t, users, "u1", "ana@example.com")
	seedUser(t, users, "u2", "bo@example.com")
	store := NewRefreshStore(users, WithBcryptCost(bcrypt.MinCost), WithMaxScan(1))

	if err := store.Rotate(ctx, "u1", "refresh-a"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if err := store.Rotate(ctx, "u2", "refresh-b"); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if _, err := store.FindPrincipal(ctx, "refresh-a"); err != nil {
		t.Fatalf("first session should resolve within the limit: %v", err)
	}
	if _, err := store.FindPrincipal(ctx, "refresh-b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected scan limit to stop lookup, got %v", err)
	}
}
