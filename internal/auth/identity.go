package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"exportdesk.org/internal/obs"
)

const (
	KakaoIssuer   = "https://kauth.kakao.com"
	KakaoJWKSURL  = "https://kauth.kakao.com/.well-known/jwks.json"
	GoogleIssuer  = "https://accounts.google.com"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleIssuerBare is the scheme-less issuer Google also signs tokens with.
const GoogleIssuerBare = "accounts.google.com"

// ProviderConfig describes one trusted identity provider.
type ProviderConfig struct {
	Provider Provider
	Issuer   string
	Audience string
	JWKSURL  string

	// IssuerAliases are further iss values accepted for this provider.
	IssuerAliases []string

	// Keys overrides the key set built from JWKSURL.
	Keys *KeySet
}

// DefaultProviderConfig returns the well-known issuer and JWKS endpoint for p.
func DefaultProviderConfig(p Provider, audience string) ProviderConfig {
	cfg := ProviderConfig{Provider: p, Audience: audience}
	switch p {
	case ProviderKakao:
		cfg.Issuer, cfg.JWKSURL = KakaoIssuer, KakaoJWKSURL
	case ProviderGoogle:
		cfg.Issuer, cfg.JWKSURL = GoogleIssuer, GoogleJWKSURL
		cfg.IssuerAliases = []string{GoogleIssuerBare}
	}
	return cfg
}

// identityAttributes are the provider-neutral fields extracted from a verified assertion.
type identityAttributes struct {
	Subject  string
	Email    *string
	Nickname string
	Picture  string
}

// AssertionVerifier turns a raw third-party identity token into a local user.
type AssertionVerifier interface {
	Verify(ctx context.Context, raw string) (*User, error)
}

// IdentityVerifier validates OIDC id tokens from configured providers and
// provisions users on first login.
type IdentityVerifier struct {
	users     UserStore
	providers map[string]ProviderConfig
	now       func() time.Time
}

var _ AssertionVerifier = (*IdentityVerifier)(nil)

// IdentityOption configures IdentityVerifier behavior.
type IdentityOption func(*IdentityVerifier)

// WithIdentityClock overrides the time source used for expiry checks.
func WithIdentityClock(fn func() time.Time) IdentityOption {
	return func(v *IdentityVerifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewIdentityVerifier indexes providers by issuer.
func NewIdentityVerifier(users UserStore, providers []ProviderConfig, opts ...IdentityOption) (*IdentityVerifier, error) {
	v := &IdentityVerifier{
		users:     users,
		providers: make(map[string]ProviderConfig, len(providers)),
		now:       time.Now,
	}
	for _, p := range providers {
		switch p.Provider {
		case ProviderKakao, ProviderGoogle:
		default:
			return nil, fmt.Errorf("auth: unsupported provider %q", p.Provider)
		}
		if strings.TrimSpace(p.Issuer) == "" || strings.TrimSpace(p.Audience) == "" {
			return nil, fmt.Errorf("auth: provider %s requires issuer and audience", p.Provider)
		}
		if p.Keys == nil {
			if p.JWKSURL == "" {
				return nil, fmt.Errorf("auth: provider %s requires a JWKS url", p.Provider)
			}
			p.Keys = NewKeySet(p.JWKSURL)
		}
		for _, iss := range append([]string{p.Issuer}, p.IssuerAliases...) {
			if _, dup := v.providers[iss]; dup {
				return nil, fmt.Errorf("auth: duplicate issuer %s", iss)
			}
			v.providers[iss] = p
		}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify validates raw and returns the matching user, creating one if absent.
// Decode, signature, issuer and audience failures all surface as ErrInvalidAssertion.
func (v *IdentityVerifier) Verify(ctx context.Context, raw string) (*User, error) {
	raw = strings.TrimSpace(raw)
	issuer, err := unverifiedIssuer(raw)
	if err != nil {
		obs.Warn("identity assertion decode failed", map[string]any{"error": err})
		return nil, ErrInvalidAssertion
	}
	provider, ok := v.providers[issuer]
	if !ok {
		obs.Warn("identity assertion from unsupported issuer", map[string]any{"issuer": issuer})
		return nil, ErrUnsupportedIssuer
	}
	claims, err := v.verifySignature(ctx, provider, issuer, raw)
	if err != nil {
		obs.Warn("identity assertion verification failed", map[string]any{
			"provider": string(provider.Provider),
			"error":    err,
		})
		return nil, ErrInvalidAssertion
	}
	attrs, err := extractAttributes(provider.Provider, claims)
	if err != nil {
		obs.Warn("identity assertion missing attributes", map[string]any{
			"provider": string(provider.Provider),
			"error":    err,
		})
		return nil, ErrInvalidAssertion
	}
	return v.provision(ctx, provider.Provider, attrs)
}

func unverifiedIssuer(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty assertion")
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", err
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return "", errors.New("issuer claim missing")
	}
	return iss, nil
}

// verifySignature checks raw against p's keys. issuer is the dispatch key and
// must also be the signed iss claim.
func (v *IdentityVerifier) verifySignature(ctx context.Context, p ProviderConfig, issuer, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := p.Keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(p.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// extractAttributes maps verified claims per provider. Providers are a closed set.
func extractAttributes(p Provider, claims jwt.MapClaims) (identityAttributes, error) {
	var attrs identityAttributes
	sub, _ := claims.GetSubject()
	if strings.TrimSpace(sub) == "" {
		return attrs, errors.New("subject claim missing")
	}
	attrs.Subject = sub

	switch p {
	case ProviderKakao:
		attrs.Email = optionalString(claims, "email")
		attrs.Nickname = stringClaim(claims, "nickname")
		attrs.Picture = stringClaim(claims, "picture")
	case ProviderGoogle:
		if verified, ok := claims["email_verified"].(bool); !ok || verified {
			attrs.Email = optionalString(claims, "email")
		}
		attrs.Nickname = stringClaim(claims, "name")
		attrs.Picture = stringClaim(claims, "picture")
	default:
		return attrs, ErrUnsupportedIssuer
	}
	return attrs, nil
}

func (v *IdentityVerifier) provision(ctx context.Context, provider Provider, attrs identityAttributes) (*User, error) {
	now := v.now().UTC()
	user, err := v.users.FindBySocial(ctx, provider, attrs.Subject)
	switch {
	case err == nil:
		if err := v.users.TouchLogin(ctx, user.ID, now); err != nil {
			return nil, err
		}
		user.LastLoginAt = &now
		return user, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	user = &User{
		Email:           attrs.Email,
		Nickname:        attrs.Nickname,
		ProfileImageURL: attrs.Picture,
		Role:            RoleUser,
		SocialProvider:  provider,
		OAuthID:         attrs.Subject,
		LastLoginAt:     &now,
	}
	if err := v.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			// A concurrent login may have provisioned the same subject.
			if existing, findErr := v.users.FindBySocial(ctx, provider, attrs.Subject); findErr == nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("provision user: %w", err)
	}
	obs.Info("user provisioned", map[string]any{
		"user_id":  user.ID,
		"provider": string(provider),
	})
	return user, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func optionalString(claims jwt.MapClaims, key string) *string {
	s, ok := claims[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
