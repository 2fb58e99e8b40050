package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proofmarked/stepup-gateway/internal/adapter/cache"
	"github.com/proofmarked/stepup-gateway/internal/audit"
	"github.com/proofmarked/stepup-gateway/internal/config"
	"github.com/proofmarked/stepup-gateway/internal/domain"
	httptransport "github.com/proofmarked/stepup-gateway/internal/http"
	"github.com/proofmarked/stepup-gateway/internal/http/handler"
	httpmiddleware "github.com/proofmarked/stepup-gateway/internal/http/middleware"
	"github.com/proofmarked/stepup-gateway/internal/idp"
	"github.com/proofmarked/stepup-gateway/internal/idp/idptest"
	"github.com/proofmarked/stepup-gateway/internal/service"
	"github.com/proofmarked/stepup-gateway/internal/session"
)

func testConfig() config.Config {
	return config.Config{
		ServiceName:       "gateway-test",
		ProtectedPrefixes: []string{"/dashboard"},
		BypassPrefixes:    []string{"/api", "/login"},
		LoginPath:         "/login",
		MFASetupPath:      "/mfa/setup",
		MFAVerifyPath:     "/mfa/verify",
		ProtectedHome:     "/dashboard",
	}
}

func newTestRouter(t *testing.T, fake *idptest.Fake, throttle cache.Throttle) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	logger := zap.NewNop()
	factory := idp.NewFactory(fake)
	store := session.NewCookieStore(false)
	recorder := audit.NopRecorder{}
	if throttle == nil {
		throttle = cache.NopThrottle{}
	}

	h := handler.NewAuthHandler(
		cfg,
		service.NewLoginService(fake, factory, recorder, logger),
		service.NewStepUpService(factory, recorder, logger),
		service.NewEnrollService(factory, recorder, logger),
		service.NewAccountService(fake, factory, recorder, logger),
		store,
		throttle,
		recorder,
		logger,
	)
	gateway := httpmiddleware.NewGateway(cfg, store, factory, logger)
	return httptransport.NewRouter(cfg, h, gateway, nil)
}

func postJSON(r *gin.Engine, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func sessionCookies(t *testing.T, rec *httptest.ResponseRecorder) []*http.Cookie {
	t.Helper()
	var out []*http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.AccessCookie || c.Name == session.RefreshCookie {
			require.NotEmpty(t, c.Value)
			out = append(out, c)
		}
	}
	require.Len(t, out, 2)
	return out
}

func TestLoginVerifyFlow(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{
		Email: "user@example.com", Password: "password123", TOTPCode: "123456",
		Factors: []domain.Factor{
			{ID: "factor-totp", Type: domain.FactorTypeTOTP, Label: "Phone", Status: domain.FactorVerified},
		},
	})
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	// No session is persisted until the code is verified.
	require.Empty(t, rec.Result().Cookies())

	var stepUp struct {
		RequiresMFA bool   `json:"requiresMfa"`
		FactorID    string `json:"factorId"`
		FactorLabel string `json:"factorLabel"`
		ChallengeID string `json:"challengeId"`
		TempTokens  struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"tempTokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stepUp))
	require.True(t, stepUp.RequiresMFA)
	require.Equal(t, "factor-totp", stepUp.FactorID)
	require.Equal(t, "Phone", stepUp.FactorLabel)
	require.NotEmpty(t, stepUp.ChallengeID)
	require.NotEmpty(t, stepUp.TempTokens.AccessToken)

	// A wrong code fails and spends the challenge.
	rec = postJSON(r, "/api/auth/mfa/verify", map[string]any{
		"factorId": stepUp.FactorID, "challengeId": stepUp.ChallengeID, "code": "000000",
		"tempTokens": stepUp.TempTokens,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, rec.Result().Cookies())

	// Rotate the challenge, then verify with the right code.
	rec = postJSON(r, "/api/auth/mfa/challenge", map[string]any{
		"factorId": stepUp.FactorID, "tempTokens": stepUp.TempTokens,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated struct {
		ChallengeID string `json:"challengeId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rotated))
	require.NotEqual(t, stepUp.ChallengeID, rotated.ChallengeID)

	rec = postJSON(r, "/api/auth/mfa/verify", map[string]any{
		"factorId": stepUp.FactorID, "challengeId": rotated.ChallengeID, "code": "123456",
		"tempTokens": stepUp.TempTokens,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	cookies := sessionCookies(t, rec)
	var access string
	for _, c := range cookies {
		require.True(t, c.HttpOnly)
		if c.Name == session.AccessCookie {
			access = c.Value
		}
	}
	// Verification rotated the provisional pair.
	require.NotEqual(t, stepUp.TempTokens.AccessToken, access)
	info, err := fake.User(context.Background(), access)
	require.NoError(t, err)
	require.Equal(t, "user@example.com", info.Email)
}

func TestLoginEnrollConfirmFlow(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{
		Email: "user@example.com", Password: "password123", TOTPCode: "123456", MFAEnforced: true,
	})
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)

	var enrollRequired struct {
		EnrollURL string `json:"enrollUrl"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &enrollRequired))
	require.Equal(t, "/mfa/setup", enrollRequired.EnrollURL)
	cookies := sessionCookies(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/mfa/enroll", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	enrollRec := httptest.NewRecorder()
	r.ServeHTTP(enrollRec, req)
	require.Equal(t, http.StatusOK, enrollRec.Code)

	var enrollment struct {
		FactorID string `json:"factorId"`
		Secret   string `json:"secret"`
		URI      string `json:"uri"`
	}
	require.NoError(t, json.Unmarshal(enrollRec.Body.Bytes(), &enrollment))
	require.NotEmpty(t, enrollment.FactorID)
	require.NotEmpty(t, enrollment.Secret)

	form := url.Values{"factorId": {enrollment.FactorID}, "code": {"123456"}}
	confirmReq := httptest.NewRequest(http.MethodPost, "/api/auth/mfa/enroll", strings.NewReader(form.Encode()))
	confirmReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		confirmReq.AddCookie(c)
	}
	confirmRec := httptest.NewRecorder()
	r.ServeHTTP(confirmRec, confirmReq)
	require.Equal(t, http.StatusSeeOther, confirmRec.Code)
	require.Equal(t, "/dashboard", confirmRec.Header().Get("Location"))
	sessionCookies(t, confirmRec)
}

func TestLoginWithoutStepUpSetsCookies(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{Email: "user@example.com", Password: "password123"})
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sessionCookies(t, rec)
}

func TestLoginRejectionStatuses(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{Email: "user@example.com", Password: "password123"})
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "wrongpassword",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "x",
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutClearsCookies(t *testing.T) {
	fake := idptest.New()
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/logout", nil, []*http.Cookie{
		{Name: session.AccessCookie, Value: "stale"},
		{Name: session.RefreshCookie, Value: "stale"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/", rec.Header().Get("Location"))

	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 2)
	for _, c := range cleared {
		require.Empty(t, c.Value)
		require.Equal(t, -1, c.MaxAge)
	}
}

func TestRegisterInvitesUser(t *testing.T) {
	fake := idptest.New()
	r := newTestRouter(t, fake, nil)

	rec := postJSON(r, "/api/auth/register", map[string]string{"email": "new@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"new@example.com"}, fake.Invited())
}

func TestSetPasswordRedirectsToEnrollment(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{Email: "invited@example.com", MFAEnforced: true})
	r := newTestRouter(t, fake, nil)

	pair := fake.MintPair("invited@example.com", domain.AAL1, time.Hour)
	rec := postJSON(r, "/api/auth/set-password", map[string]string{
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
		"password":     "brand-new-password",
	}, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/mfa/setup", rec.Header().Get("Location"))
	sessionCookies(t, rec)
}

type denyThrottle struct{}

func (denyThrottle) Allow(context.Context, string) (bool, error) { return false, nil }

func TestLoginThrottled(t *testing.T) {
	fake := idptest.New()
	fake.AddUser(idptest.User{Email: "user@example.com", Password: "password123"})
	r := newTestRouter(t, fake, denyThrottle{})

	rec := postJSON(r, "/api/auth/login", map[string]string{
		"email": "user@example.com", "password": "password123",
	}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
