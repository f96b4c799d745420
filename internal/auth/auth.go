// Package auth holds the credentials the realtime coordinator reads at
// connect and publish time: the current bearer token and the current
// identity. It performs no credential storage or verification beyond
// extracting the login id carried in the token's claims.
package auth

import (
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoIdentity = errors.New("no identity available")

// TokenSource is the process-wide accessor for the active bearer token
// or guest identity. The transport fetches from it fresh before every
// (re)connection attempt, so token rotation between reconnects is
// honored.
type TokenSource struct {
	mu       sync.RWMutex
	token    string
	loginID  string
	guestPID string
}

// NewTokenSource returns an empty source. Callers populate it after
// login, or call UseGuest for an anonymous session.
func NewTokenSource() *TokenSource {
	return &TokenSource{}
}

// SetToken installs a bearer token and derives the login id from the
// token's subject claim. The signature is not verified here; the server
// is the authority on token validity.
func (s *TokenSource) SetToken(token string) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return err
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	s.token = token
	s.loginID = subject
	s.guestPID = ""
	s.mu.Unlock()
	return nil
}

// UseGuest switches the source to an anonymous identity with a fresh
// guest pid.
func (s *TokenSource) UseGuest() string {
	pid := uuid.NewString()

	s.mu.Lock()
	s.token = ""
	s.loginID = ""
	s.guestPID = pid
	s.mu.Unlock()
	return pid
}

// Clear drops all credentials (logout).
func (s *TokenSource) Clear() {
	s.mu.Lock()
	s.token = ""
	s.loginID = ""
	s.guestPID = ""
	s.mu.Unlock()
}

// Token returns the current bearer token, or "" when none is set.
func (s *TokenSource) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Identity returns the current login id, falling back to the guest pid.
func (s *TokenSource) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.loginID != "" {
		return s.loginID
	}
	return s.guestPID
}

// GuestPID returns the guest pid, or "" for authenticated sessions.
func (s *TokenSource) GuestPID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guestPID
}
