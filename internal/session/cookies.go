// Package session serializes a token pair to and from the two scoped session
// cookies at the transport boundary. It performs no IdP calls; callers only
// write a pair after the IdP call that produced it fully succeeded.
package session

import (
	"net/http"

	"github.com/proofmarked/stepup-gateway/internal/domain"
)

const (
	// AccessCookie holds the IdP access token.
	AccessCookie = "pm_access"
	// RefreshCookie holds the IdP refresh token.
	RefreshCookie = "pm_refresh"
)

// CookieStore reads and writes the session cookie pair. The Secure flag is
// deployment configuration, not hardcoded.
type CookieStore struct {
	secure bool
}

// NewCookieStore constructs a store with the configured Secure flag.
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{secure: secure}
}

// Read decodes both session cookies into a token pair. A pair is
// all-or-nothing: if either cookie is missing the pair is reported absent.
func (s *CookieStore) Read(r *http.Request) (domain.TokenPair, bool) {
	access, err := r.Cookie(AccessCookie)
	if err != nil || access.Value == "" {
		return domain.TokenPair{}, false
	}
	refresh, err := r.Cookie(RefreshCookie)
	if err != nil || refresh.Value == "" {
		return domain.TokenPair{}, false
	}
	return domain.TokenPair{AccessToken: access.Value, RefreshToken: refresh.Value}, true
}

// Write sets both cookies identically scoped: http-only, SameSite=Lax,
// Path=/, no explicit Max-Age — session lifetime is governed by token expiry,
// not cookie expiry. Fails when either token field is empty.
func (s *CookieStore) Write(w http.ResponseWriter, pair domain.TokenPair) error {
	if !pair.Complete() {
		return domain.ErrInvalidSession
	}
	http.SetCookie(w, s.cookie(AccessCookie, pair.AccessToken, 0))
	http.SetCookie(w, s.cookie(RefreshCookie, pair.RefreshToken, 0))
	return nil
}

// Clear unconditionally deletes both cookies. Idempotent, never fails.
func (s *CookieStore) Clear(w http.ResponseWriter) {
	http.SetCookie(w, s.cookie(AccessCookie, "", -1))
	http.SetCookie(w, s.cookie(RefreshCookie, "", -1))
}

func (s *CookieStore) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	}
}
