package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"exportdesk.org/internal/audit"
	"exportdesk.org/internal/auth"
	"exportdesk.org/internal/obs"
)

const bearer = "Bearer "

// Paths the request authenticator never inspects. The session endpoints read
// the credential headers themselves.
var publicPaths = []string{
	"/api/auth/login",
	"/api/auth/reissue",
	"/api/auth/logout",
	"/metrics",
	"/healthz",
	"/readyz",
}

// withAuth runs the request authenticator. Failures never reject the request;
// handlers decide whether an identity is required. A silent renewal answers
// the request with the new pair and stops the chain.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.authn == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		outcome := a.authn.Authenticate(r.Context(), r.Header)
		if pair := outcome.Renewed; pair != nil {
			w.Header().Set(auth.HeaderAuthorization, bearer+pair.AccessToken)
			w.Header().Set(auth.HeaderRefreshToken, bearer+pair.RefreshToken)
			_ = audit.LogEvent(r.Context(), "auth.renewed", map[string]any{"path": r.URL.Path})
			writeSuccess(w, "token renewed", tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
			return
		}
		if outcome.Identity == nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), *outcome.Identity)
		obs.Debug("request authenticated", map[string]any{
			"user_id":    outcome.Identity.UserID,
			"request_id": audit.RequestIDFromContext(ctx),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken requires the "Bearer " scheme; session endpoints reject
// anything else as malformed.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
