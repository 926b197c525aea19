package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"exportdesk.org/internal/ids"
)

const uniqueViolation = "23505"

var _ UserStore = (*PGStore)(nil)

// PGStore implements UserStore using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

const userColumns = `id, email, nickname, profile_image_url, role, refresh_token_hash,
	social_provider, oauth_id, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u           User
		email       sql.NullString
		refreshHash sql.NullString
		lastLogin   sql.NullTime
		role        string
		provider    string
	)
	if err := row.Scan(&u.ID, &email, &u.Nickname, &u.ProfileImageURL, &role, &refreshHash,
		&provider, &u.OAuthID, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = Role(role)
	u.SocialProvider = Provider(provider)
	if email.Valid {
		u.Email = &email.String
	}
	if refreshHash.Valid {
		u.RefreshTokenHash = &refreshHash.String
	}
	if lastLogin.Valid {
		u.LastLoginAt = &lastLogin.Time
	}
	return &u, nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *PGStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *PGStore) FindBySocial(ctx context.Context, provider Provider, oauthID string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where social_provider=$1 and oauth_id=$2`,
		string(provider), oauthID))
}

func (s *PGStore) Create(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	var email sql.NullString
	if u.Email != nil {
		email = sql.NullString{String: *u.Email, Valid: true}
	}
	var lastLogin sql.NullTime
	if u.LastLoginAt != nil {
		lastLogin = sql.NullTime{Time: *u.LastLoginAt, Valid: true}
	}
	err := s.db.QueryRowContext(ctx,
		`insert into users(id, email, nickname, profile_image_url, role, social_provider, oauth_id, last_login_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8) returning created_at, updated_at`,
		u.ID, email, u.Nickname, u.ProfileImageURL, string(u.Role), string(u.SocialProvider), u.OAuthID, lastLogin,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (s *PGStore) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, `update users set last_login_at=$2, updated_at=now() where id=$1`, id, at)
}

// SetRefreshHash overwrites the column unconditionally; concurrent writers resolve as last-write-wins.
func (s *PGStore) SetRefreshHash(ctx context.Context, id string, hash *string) error {
	var value sql.NullString
	if hash != nil {
		value = sql.NullString{String: *hash, Valid: true}
	}
	return s.execOne(ctx, `update users set refresh_token_hash=$2, updated_at=now() where id=$1`, id, value)
}

func (s *PGStore) ListWithRefreshHash(ctx context.Context) ([]RefreshHashEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, refresh_token_hash from users where refresh_token_hash is not null order by updated_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []RefreshHashEntry
	for rows.Next() {
		var e RefreshHashEntry
		if err := rows.Scan(&e.UserID, &e.Hash); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping reports whether the database is reachable.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
