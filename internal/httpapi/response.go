package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"exportdesk.org/internal/audit"
	"exportdesk.org/internal/auth"
	"exportdesk.org/internal/obs"
)

// Response codes carried in the envelope.
const (
	codeOK                = "COMMON200"
	codeBadRequest        = "COMMON400"
	codeNotFound          = "COMMON404"
	codeMethodNotAllowed  = "COMMON405"
	codeTooManyRequests   = "COMMON429"
	codeInternal          = "COMMON500"
	codeNotImplemented    = "COMMON501"
	codeUnauthorized      = "AUTH401"
	codeUnsupportedIssuer = "AUTH4011"
	codeInvalidToken      = "TOKEN4001"
	codeExpiredToken      = "TOKEN4002"
	codeUserNotFound      = "USER4041"
	codeUserConflict      = "USER4091"
)

type envelope struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data"`
	RequestID string `json:"requestId,omitempty"`
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Code:    codeOK,
		Message: message,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, envelope{
		Code:      code,
		Message:   message,
		RequestID: audit.RequestIDFromContext(r.Context()),
	})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

// writeAuthError maps session errors onto status and envelope code.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrUnsupportedIssuer):
		writeError(w, r, http.StatusUnauthorized, codeUnsupportedIssuer, "unsupported identity provider")
	case errors.Is(err, auth.ErrExpiredToken):
		writeError(w, r, http.StatusUnauthorized, codeExpiredToken, "token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, "invalid token")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, r, http.StatusNotFound, codeUserNotFound, "user not found")
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, codeUserConflict, "account already linked to another provider")
	case errors.Is(err, auth.ErrNotImplemented):
		writeError(w, r, http.StatusNotImplemented, codeNotImplemented, "login is not configured")
	default:
		obs.Error("auth request failed", map[string]any{
			"path":       r.URL.Path,
			"request_id": audit.RequestIDFromContext(r.Context()),
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, codeInternal, "internal error")
	}
}
