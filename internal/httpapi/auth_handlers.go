package httpapi

import (
	"net/http"
	"strings"
	"time"

	"exportdesk.org/internal/audit"
	"exportdesk.org/internal/auth"
)

const headerIDToken = "id_token"

type tokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type userInfoResponse struct {
	Email           string `json:"email"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profileImageUrl"`
	Role            string `json:"role"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, codeNotImplemented, "sessions are not configured")
		return
	}
	idToken := strings.TrimSpace(r.Header.Get(headerIDToken))
	if idToken == "" {
		writeError(w, r, http.StatusBadRequest, codeBadRequest, "id_token header is required")
		return
	}

	pair, err := a.sessions.Login(r.Context(), idToken)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"access_expires_at":  pair.AccessExpiresAt.UTC().Format(time.RFC3339),
		"refresh_expires_at": pair.RefreshExpiresAt.UTC().Format(time.RFC3339),
	})
	writeSuccess(w, "login succeeded", tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (a *API) handleReissue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, codeNotImplemented, "sessions are not configured")
		return
	}
	access, err := extractBearerToken(r.Header.Get(auth.HeaderAuthorization))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, err.Error())
		return
	}
	refresh := auth.StripBearer(r.Header.Get(auth.HeaderRefreshToken))
	if refresh == "" {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, "missing refresh token")
		return
	}

	pair, err := a.sessions.Reissue(r.Context(), access, refresh)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.reissue", map[string]any{
		"access_expires_at": pair.AccessExpiresAt.UTC().Format(time.RFC3339),
	})
	writeSuccess(w, "token reissued", tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.sessions == nil {
		writeError(w, r, http.StatusNotImplemented, codeNotImplemented, "sessions are not configured")
		return
	}
	access, err := extractBearerToken(r.Header.Get(auth.HeaderAuthorization))
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, codeUnauthorized, err.Error())
		return
	}

	userID, err := a.sessions.Logout(r.Context(), access)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{"user_id": userID})
	writeSuccess(w, "logged out", nil)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok || a.sessions == nil {
		// Missing and invalid credentials look the same to the caller.
		writeError(w, r, http.StatusNotFound, codeUnauthorized, "no authenticated user")
		return
	}
	info, err := a.sessions.UserInfo(r.Context(), id.UserID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeSuccess(w, "ok", userInfoResponse{
		Email:           info.Email,
		Name:            info.Name,
		ProfileImageURL: info.ProfileImageURL,
		Role:            string(info.Role),
	})
}
