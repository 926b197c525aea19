package auth

import (
	"context"
	"time"
)

// UserStore describes persistence operations required by the session subsystem.
type UserStore interface {
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindBySocial(ctx context.Context, provider Provider, oauthID string) (*User, error)
	// Create inserts a new user. Returns ErrAlreadyExists when the email or
	// social identity is already taken.
	Create(ctx context.Context, u *User) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
	// SetRefreshHash overwrites the stored refresh hash. A nil hash clears it.
	SetRefreshHash(ctx context.Context, id string, hash *string) error
	// ListWithRefreshHash returns every user that currently holds a refresh hash.
	ListWithRefreshHash(ctx context.Context) ([]RefreshHashEntry, error)
}
