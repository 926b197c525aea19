package auth

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("auth: not found")
	ErrAlreadyExists  = errors.New("auth: already exists")
	ErrInvalidInput   = errors.New("auth: invalid input")
	ErrNotImplemented = errors.New("auth: not implemented")
)

// Session taxonomy surfaced to API callers.
var (
	// ErrInvalidToken covers bad signatures, wrong credential kind and
	// principal mismatches.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrExpiredToken indicates a well-formed credential whose window elapsed,
	// or a refresh credential that no longer resolves to a session.
	ErrExpiredToken = errors.New("auth: expired token")
	// ErrUserNotFound indicates the principal named by a credential is gone.
	ErrUserNotFound = errors.New("auth: user not found")

	ErrUnsupportedIssuer = fmt.Errorf("%w: unsupported issuer", ErrInvalidToken)
	ErrInvalidAssertion  = fmt.Errorf("%w: identity assertion rejected", ErrInvalidToken)
)
