package auth

import (
	"context"
	"errors"
	"strings"

	"exportdesk.org/internal/obs"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRefreshToken  = "RefreshToken"

	bearerScheme = "bearer"
)

// Headers is the read side of an inbound request's headers.
type Headers interface {
	Get(key string) string
}

// Outcome is the result of authenticating one request. At most one field is set.
type Outcome struct {
	// Identity is the authenticated principal, if any.
	Identity *Identity
	// Renewed carries a freshly rotated pair the caller must hand back to the client.
	Renewed *TokenPair
}

// Authenticated reports whether an identity was established.
func (o Outcome) Authenticated() bool { return o.Identity != nil }

// StripBearer trims whitespace and an optional case-insensitive "Bearer" scheme.
func StripBearer(v string) string {
	v = strings.TrimSpace(v)
	n := len(bearerScheme)
	if len(v) >= n && strings.EqualFold(v[:n], bearerScheme) && (len(v) == n || v[n] == ' ') {
		v = strings.TrimSpace(v[n:])
	}
	return v
}

// Authenticator is the per-request gate. It never fails a request: every
// problem is logged and the request continues unauthenticated.
type Authenticator struct {
	sessions *SessionService
}

// NewAuthenticator shares the session service's stores and per-user locks.
func NewAuthenticator(sessions *SessionService) *Authenticator {
	return &Authenticator{sessions: sessions}
}

// Authenticate inspects the refresh and access headers. A refresh credential
// that verifies and resolves takes priority and produces a renewal; the
// access credential is then not examined.
func (a *Authenticator) Authenticate(ctx context.Context, h Headers) Outcome {
	if a == nil || a.sessions == nil || h == nil {
		return Outcome{}
	}
	if raw := StripBearer(h.Get(HeaderRefreshToken)); raw != "" {
		pair, err := a.renew(ctx, raw)
		if err == nil {
			obs.ObserveSilentRenewal()
			return Outcome{Renewed: &pair}
		}
		obs.Debug("silent renewal skipped", map[string]any{"error": err})
	}

	access := StripBearer(h.Get(HeaderAuthorization))
	if access == "" {
		return Outcome{}
	}
	id, err := a.identify(ctx, access)
	if err != nil {
		obs.Debug("access token rejected", map[string]any{"error": err})
		return Outcome{}
	}
	return Outcome{Identity: id}
}

func (a *Authenticator) renew(ctx context.Context, raw string) (TokenPair, error) {
	s := a.sessions
	if _, err := s.codec.Verify(raw, KindRefresh); err != nil {
		return TokenPair{}, err
	}
	user, err := s.refresh.FindPrincipal(ctx, raw)
	if err != nil {
		return TokenPair{}, err
	}
	return s.rotate(ctx, user, raw)
}

func (a *Authenticator) identify(ctx context.Context, access string) (*Identity, error) {
	s := a.sessions
	claims, err := s.codec.Verify(access, KindAccess)
	if err != nil {
		return nil, err
	}
	revoked, err := s.revoked.IsRevoked(ctx, access)
	if err != nil {
		obs.Warn("revocation check failed", map[string]any{"error": err})
		return nil, err
	}
	if revoked {
		return nil, errors.New("access token revoked")
	}
	user, err := s.resolvePrincipal(ctx, claims)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: user.ID, Email: user.EmailValue(), Role: user.Role}, nil
}
