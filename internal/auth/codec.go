package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTTL  = 30 * time.Minute
	defaultRefreshTTL = 14 * 24 * time.Hour
)

// Kind is the subject marker distinguishing access and refresh credentials.
type Kind string

const (
	KindAccess  Kind = "AccessToken"
	KindRefresh Kind = "RefreshToken"
)

var signingMethod = jwt.SigningMethodHS512

// Claims represents the JWT claims carried by issued credentials. Refresh
// credentials carry no identity claims.
type Claims struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"userId,omitempty"`
	jwt.RegisteredClaims
}

// Kind returns the credential kind recorded in the subject claim.
func (c *Claims) Kind() Kind {
	return Kind(c.Subject)
}

// CodecConfig holds the signing secret and lifetimes for issued credentials.
type CodecConfig struct {
	Secret     string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// Now overrides the clock (useful for tests).
	Now func() time.Time
}

// Codec signs and verifies access and refresh credentials with HS512.
type Codec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewCodec validates cfg and constructs a Codec.
func NewCodec(cfg CodecConfig) (*Codec, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	c := &Codec{
		secret:     []byte(secret),
		issuer:     strings.TrimSpace(cfg.Issuer),
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	if cfg.AccessTTL > 0 {
		c.accessTTL = cfg.AccessTTL
	}
	if cfg.RefreshTTL > 0 {
		c.refreshTTL = cfg.RefreshTTL
	}
	if cfg.Now != nil {
		c.now = cfg.Now
	}
	return c, nil
}

// AccessTTL reports the configured access credential lifetime.
func (c *Codec) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL reports the configured refresh credential lifetime.
func (c *Codec) RefreshTTL() time.Duration { return c.refreshTTL }

// IssueAccess signs an access credential for the given principal.
func (c *Codec) IssueAccess(email, userID string) (string, time.Time, error) {
	if strings.TrimSpace(userID) == "" {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return c.Issue(KindAccess, Claims{Email: email, UserID: userID}, c.accessTTL)
}

// IssueRefresh signs a refresh credential. Identity is deliberately absent.
func (c *Codec) IssueRefresh() (string, time.Time, error) {
	return c.Issue(KindRefresh, Claims{}, c.refreshTTL)
}

// Issue signs a credential of the given kind. Subject, timestamps and ID
// in claims are overwritten.
func (c *Codec) Issue(kind Kind, claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	if kind != KindAccess && kind != KindRefresh {
		return "", time.Time{}, fmt.Errorf("%w: unknown credential kind %q", ErrInvalidInput, kind)
	}
	now := c.now()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   string(kind),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

// Verify checks signature, kind and expiry. It returns ErrExpiredToken when
// only the time window failed and ErrInvalidToken for everything else.
func (c *Codec) Verify(token string, kind Kind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, c.keyFunc,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithSubject(string(kind)),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenInvalidSubject):
			return nil, ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		default:
			return nil, ErrInvalidToken
		}
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyAllowExpired checks signature and kind but tolerates an elapsed
// expiry. Used to read the principal out of a stale access credential.
func (c *Codec) VerifyAllowExpired(token string, kind Kind) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, c.keyFunc,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Kind() != kind {
		return nil, ErrInvalidToken
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExpiresAt reads the exp claim without verifying the signature.
func (c *Codec) ExpiresAt(token string) (time.Time, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), claims); err != nil {
		return time.Time{}, ErrInvalidToken
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrInvalidToken
	}
	return claims.ExpiresAt.Time, nil
}

// Now exposes the codec clock so collaborators share one time source.
func (c *Codec) Now() time.Time { return c.now() }

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method != signingMethod {
		return nil, ErrInvalidToken
	}
	return c.secret, nil
}
