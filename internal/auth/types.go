package auth

import "time"

// Role is the capability level granted to a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Provider identifies a supported social identity provider.
type Provider string

const (
	ProviderKakao  Provider = "KAKAO"
	ProviderGoogle Provider = "GOOGLE"
)

// User is the durable principal record.
type User struct {
	ID              string
	Email           *string
	Nickname        string
	ProfileImageURL string
	Role            Role
	// RefreshTokenHash holds the bcrypt hash of the outstanding refresh
	// credential. Nil means no active session.
	RefreshTokenHash *string
	SocialProvider   Provider
	OAuthID          string
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EmailValue returns the email or an empty string when the provider did not supply one.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Email != nil {
		v := *u.Email
		c.Email = &v
	}
	if u.RefreshTokenHash != nil {
		v := *u.RefreshTokenHash
		c.RefreshTokenHash = &v
	}
	if u.LastLoginAt != nil {
		v := *u.LastLoginAt
		c.LastLoginAt = &v
	}
	return &c
}

// Identity is the authenticated principal attached to a request.
type Identity struct {
	UserID string
	Email  string
	Role   Role
}

// TokenPair represents access and refresh credentials along with their expirations.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// UserInfo is the public profile returned by the /me endpoint.
type UserInfo struct {
	Email           string
	Name            string
	ProfileImageURL string
	Role            Role
}

// RefreshHashEntry pairs a user with its stored refresh hash.
type RefreshHashEntry struct {
	UserID string
	Hash   string
}
