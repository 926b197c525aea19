package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

var userRowColumns = []string{
	"id", "email", "nickname", "profile_image_url", "role", "refresh_token_hash",
	"social_provider", "oauth_id", "last_login_at", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewPGStore(db), mock
}

func TestPGStoreFind(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from users where id=\$1`).WithArgs("u1").WillReturnRows(
		sqlmock.NewRows(userRowColumns).AddRow("u1", nil, "Ana", "", "USER", nil, "KAKAO", "4242", nil, now, now))

	u, err := store.Find(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if u.Email != nil || u.RefreshTokenHash != nil || u.LastLoginAt != nil {
		t.Fatalf("expected null columns to stay nil: %+v", u)
	}
	if u.Role != RoleUser || u.SocialProvider != ProviderKakao || u.OAuthID != "4242" {
		t.Fatalf("unexpected user: %+v", u)
	}

	mock.ExpectQuery(`from users where email=\$1`).WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)
	if _, err := store.FindByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.FindByEmail(context.Background(), " "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank email, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreFindBySocial(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`from users where social_provider=\$1 and oauth_id=\$2`).WithArgs("GOOGLE", "g-1").WillReturnRows(
		sqlmock.NewRows(userRowColumns).AddRow("u2", "gil@example.com", "Gil", "https://img", "ADMIN", "$2a$hash", "GOOGLE", "g-1", now, now, now))

	u, err := store.FindBySocial(context.Background(), ProviderGoogle, "g-1")
	if err != nil {
		t.Fatalf("FindBySocial: %v", err)
	}
	if u.EmailValue() != "gil@example.com" || u.Role != RoleAdmin || u.RefreshTokenHash == nil || u.LastLoginAt == nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreCreate(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`insert into users`).
		WithArgs(sqlmock.AnyArg(), nil, "Ana", "", "USER", "KAKAO", "4242", now).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &User{Nickname: "Ana", SocialProvider: ProviderKakao, OAuthID: "4242", LastLoginAt: &now}
	if err := store.Create(context.Background(), u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" || u.Role != RoleUser || !u.CreatedAt.Equal(now) {
		t.Fatalf("defaults not applied: %+v", u)
	}

	mock.ExpectQuery(`insert into users`).WillReturnError(&pgconn.PgError{Code: "23505"})
	email := "ana@example.com"
	if err := store.Create(context.Background(), &User{Email: &email, SocialProvider: ProviderKakao, OAuthID: "4242"}); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreSetRefreshHash(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	hash := "$2a$04$abc"

	mock.ExpectExec(`update users set refresh_token_hash=\$2`).WithArgs("u1", hash).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update users set refresh_token_hash=\$2`).WithArgs("u1", nil).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update users set refresh_token_hash=\$2`).WithArgs("missing", nil).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`update users set last_login_at=\$2`).WithArgs("u1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SetRefreshHash(ctx, "u1", &hash); err != nil {
		t.Fatalf("SetRefreshHash: %v", err)
	}
	if err := store.SetRefreshHash(ctx, "u1", nil); err != nil {
		t.Fatalf("SetRefreshHash(nil): %v", err)
	}
	if err := store.SetRefreshHash(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.TouchLogin(ctx, "u1", time.Now()); err != nil {
		t.Fatalf("TouchLogin: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreListWithRefreshHash(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`where refresh_token_hash is not null`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "refresh_token_hash"}).
			AddRow("u2", "$2a$04$two").
			AddRow("u1", "$2a$04$one"))

	entries, err := store.ListWithRefreshHash(context.Background())
	if err != nil {
		t.Fatalf("ListWithRefreshHash: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != "u2" || entries[1].Hash != "$2a$04$one" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStorePing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	store := NewPGStore(db)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
