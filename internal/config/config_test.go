package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/proofmarked/stepup-gateway/internal/config"
)

func TestLoadRequiresProviderSettings(t *testing.T) {
	t.Setenv("IDP_URL", "")
	t.Setenv("IDP_ANON_KEY", "")

	_, err := config.Load()
	require.Error(t, err)

	t.Setenv("IDP_URL", "https://idp.example.com")
	_, err = config.Load()
	require.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("IDP_URL", "https://idp.example.com/")
	t.Setenv("IDP_ANON_KEY", "anon-key")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "https://idp.example.com", cfg.IdPURL)
	require.Equal(t, "8080", cfg.HTTPPort)
	require.Equal(t, 10*time.Second, cfg.IdPTimeout)
	require.False(t, cfg.SecureCookies)
	require.Equal(t, []string{"/dashboard"}, cfg.ProtectedPrefixes)
	require.Equal(t, []string{"/api", "/login", "/register", "/auth/callback"}, cfg.BypassPrefixes)
	require.Equal(t, "/login", cfg.LoginPath)
	require.Equal(t, "/mfa/setup", cfg.MFASetupPath)
	require.Equal(t, "/mfa/verify", cfg.MFAVerifyPath)
	require.Equal(t, "/dashboard", cfg.ProtectedHome)
	require.Equal(t, 10, cfg.AuthAttemptLimit)
	require.Equal(t, time.Minute, cfg.AuthAttemptTTL)
	require.Equal(t, 600, cfg.RateLimitRPM)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("IDP_URL", "https://idp.example.com")
	t.Setenv("IDP_ANON_KEY", "anon-key")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("PROTECTED_PREFIXES", "/app, /admin")
	t.Setenv("IDP_TIMEOUT", "3s")
	t.Setenv("ADMIN_EMAIL", " Admin@Example.COM ")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.True(t, cfg.SecureCookies)
	require.Equal(t, []string{"/app", "/admin"}, cfg.ProtectedPrefixes)
	require.Equal(t, 3*time.Second, cfg.IdPTimeout)
	require.Equal(t, "admin@example.com", cfg.AdminEmail)
}
