package idp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/proofmarked/stepup-gateway/internal/domain"
	"github.com/proofmarked/stepup-gateway/internal/idp"
)

func TestHTTPClientSignIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/token", r.URL.Path)
		require.Equal(t, "password", r.URL.Query().Get("grant_type"))
		require.Equal(t, "anon-key", r.Header.Get("apikey"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "password123" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error_description": "Invalid login credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "", nil)

	pair, err := client.SignIn(context.Background(), "user@example.com", "password123")
	require.NoError(t, err)
	require.Equal(t, domain.TokenPair{AccessToken: "access-1", RefreshToken: "refresh-1"}, pair)

	_, err = client.SignIn(context.Background(), "user@example.com", "wrong")
	require.ErrorIs(t, err, domain.ErrAuthRejected)
	require.Contains(t, err.Error(), "Invalid login credentials")
}

func TestHTTPClientUserParsesFactorsAndMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user", r.URL.Path)
		require.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":    "user-1",
			"email": "user@example.com",
			"factors": []map[string]string{
				{"id": "f1", "friendly_name": "Phone", "factor_type": "totp", "status": "verified"},
				{"id": "f2", "friendly_name": "", "factor_type": "totp", "status": "unverified"},
			},
			"app_metadata": map[string]any{"mfa_enforced": true},
		})
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "", nil)

	info, err := client.User(context.Background(), "access-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", info.ID)
	require.True(t, info.MFAEnforced)
	require.Len(t, info.Factors, 2)
	require.Equal(t, domain.FactorVerified, info.Factors[0].Status)
	require.Equal(t, domain.FactorPending, info.Factors[1].Status)
	require.Equal(t, "Phone", info.Factors[0].Label)
}

func TestHTTPClientVerifyFactorClassifiesRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/factors/f1/verify", r.URL.Path)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]string{"msg": "Invalid TOTP code entered"})
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "", nil)

	_, err := client.VerifyFactor(context.Background(), "access-1", "f1", "ch-1", "000000")
	require.ErrorIs(t, err, domain.ErrVerificationFailed)
	require.Contains(t, err.Error(), "Invalid TOTP code entered")
}

func TestHTTPClientServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "", nil)

	_, err := client.SignIn(context.Background(), "user@example.com", "password123")
	require.ErrorIs(t, err, domain.ErrTransientAuth)
}

func TestHTTPClientUnreachableProviderIsTransient(t *testing.T) {
	client := idp.NewHTTPClient("http://127.0.0.1:1", "anon-key", "", nil)

	_, err := client.SignIn(context.Background(), "user@example.com", "password123")
	require.ErrorIs(t, err, domain.ErrTransientAuth)
}

func TestHTTPClientIncompleteTokenResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "access-only"})
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "", nil)

	_, err := client.SignIn(context.Background(), "user@example.com", "password123")
	require.ErrorIs(t, err, domain.ErrTransientAuth)
}

func TestHTTPClientInviteUsesServiceKey(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/invite", r.URL.Path)
		require.Equal(t, "service-key", r.Header.Get("apikey"))
		require.Equal(t, "Bearer service-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	client := idp.NewHTTPClient(srv.URL, "anon-key", "service-key", nil)

	require.NoError(t, client.InviteUser(context.Background(), "new@example.com", "/login"))
	require.Equal(t, "new@example.com", gotBody["email"])
	data, ok := gotBody["data"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, true, data["mfa_enforced"])
}

func TestHTTPClientInviteWithoutServiceKey(t *testing.T) {
	client := idp.NewHTTPClient("http://unused", "anon-key", "", nil)

	err := client.InviteUser(context.Background(), "new@example.com", "")
	require.ErrorIs(t, err, domain.ErrTransientAuth)
}
