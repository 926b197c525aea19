package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// digestCredential reduces a raw credential to a fixed 64-char hex string,
// keeping the input below bcrypt's 72-byte limit.
func digestCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// hashCredential digests raw and applies salted bcrypt with the given cost.
func hashCredential(raw string, cost int) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("credential is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(digestCredential(raw)), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// credentialMatches compares raw against a stored bcrypt hash.
func credentialMatches(hash, raw string) bool {
	if hash == "" || raw == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(digestCredential(raw))) == nil
}
