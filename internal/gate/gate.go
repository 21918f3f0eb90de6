// Package gate checks the caller-supplied API key before any scoring work.
package gate

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// HeaderAPIKey is the primary credential header.
const HeaderAPIKey = "X-API-Key"

var (
	// ErrUnauthorized is returned for a missing or mismatched credential.
	ErrUnauthorized = errors.New("invalid or missing API key")
	// ErrNoSecret is returned by New when no secret is configured.
	ErrNoSecret = errors.New("API key secret is not configured")
)

// Gate compares credentials against a single configured secret.
// It holds no per-request state.
type Gate struct {
	digest [sha256.Size]byte
}

// New creates a Gate for secret.
func New(secret string) (*Gate, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Gate{digest: sha256.Sum256([]byte(secret))}, nil
}

// Authorize returns ErrUnauthorized unless credential matches the secret.
// Both sides are hashed first so the comparison time does not depend on
// the credential's length or content.
func (g *Gate) Authorize(credential string) error {
	if credential == "" {
		return ErrUnauthorized
	}
	d := sha256.Sum256([]byte(credential))
	if subtle.ConstantTimeCompare(d[:], g.digest[:]) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Credential extracts the API key from X-API-Key, falling back to
// "Authorization: Bearer <key>".
func Credential(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get(HeaderAPIKey)); k != "" {
		return k
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
