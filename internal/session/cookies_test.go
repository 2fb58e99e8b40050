package session_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/session"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := session.NewCookieStore(false)
	rec := httptest.NewRecorder()

	pair := domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}
	require.NoError(t, store.Write(rec, pair))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 2)
	for _, c := range cookies {
		require.True(t, c.HttpOnly)
		require.Equal(t, "/", c.Path)
		require.Equal(t, http.SameSiteLaxMode, c.SameSite)
		require.Zero(t, c.MaxAge)
		require.False(t, c.Secure)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	got, ok := store.Read(req)
	require.True(t, ok)
	require.Equal(t, pair, got)
}

func TestWriteSecureFlag(t *testing.T) {
	store := session.NewCookieStore(true)
	rec := httptest.NewRecorder()

	require.NoError(t, store.Write(rec, domain.TokenPair{AccessToken: "a", RefreshToken: "r"}))
	for _, c := range rec.Result().Cookies() {
		require.True(t, c.Secure)
	}
}

func TestWriteRejectsIncompletePair(t *testing.T) {
	store := session.NewCookieStore(false)

	for _, pair := range []domain.TokenPair{
		{},
		{AccessToken: "a"},
		{RefreshToken: "r"},
	} {
		rec := httptest.NewRecorder()
		err := store.Write(rec, pair)
		require.ErrorIs(t, err, domain.ErrInvalidSession)
		require.Empty(t, rec.Result().Cookies())
	}
}

func TestReadIsAllOrNothing(t *testing.T) {
	store := session.NewCookieStore(false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.AccessCookie, Value: "access-only"})

	_, ok := store.Read(req)
	require.False(t, ok)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.RefreshCookie, Value: "refresh-only"})

	_, ok = store.Read(req)
	require.False(t, ok)
}

func TestClearIsIdempotent(t *testing.T) {
	store := session.NewCookieStore(false)

	rec := httptest.NewRecorder()
	store.Clear(rec)
	store.Clear(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 4)
	for _, c := range cookies {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
	}
}
