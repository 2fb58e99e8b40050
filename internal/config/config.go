package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains runtime configuration values. It is built once at process
// start and passed by reference into every component; nothing reads the
// environment after Load returns.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	// IdP connectivity.
	IdPURL        string
	IdPAnonKey    string
	IdPServiceKey string
	IdPTimeout    time.Duration

	// SecureCookies drives the Secure flag on both session cookies;
	// deployments behind TLS turn it on.
	SecureCookies bool

	// Request gating. ProtectedPrefixes are gated on AAL2; BypassPrefixes are
	// reachable while unauthenticated. Redirect targets are enumerated here
	// rather than negotiated per-request.
	ProtectedPrefixes []string
	BypassPrefixes    []string
	LoginPath         string
	MFASetupPath      string
	MFAVerifyPath     string
	ProtectedHome     string

	AdminEmail string

	// Optional infrastructure.
	DatabaseURL      string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	RateLimitRPM     int
	AuthAttemptLimit int
	AuthAttemptTTL   time.Duration

	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	idpURL := strings.TrimRight(strings.TrimSpace(os.Getenv("IDP_URL")), "/")
	if idpURL == "" {
		return Config{}, fmt.Errorf("IDP_URL is required")
	}
	anonKey := strings.TrimSpace(os.Getenv("IDP_ANON_KEY"))
	if anonKey == "" {
		return Config{}, fmt.Errorf("IDP_ANON_KEY is required")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "proofmarked-gateway"),

		IdPURL:        idpURL,
		IdPAnonKey:    anonKey,
		IdPServiceKey: os.Getenv("IDP_SERVICE_ROLE_KEY"),
		IdPTimeout:    getDuration("IDP_TIMEOUT", 10*time.Second),

		SecureCookies: getBool("COOKIE_SECURE", false),

		ProtectedPrefixes: getList("PROTECTED_PREFIXES", []string{"/dashboard"}),
		BypassPrefixes:    getList("BYPASS_PREFIXES", []string{"/api", "/login", "/register", "/auth/callback"}),
		LoginPath:         getEnv("LOGIN_PATH", "/login"),
		MFASetupPath:      getEnv("MFA_SETUP_PATH", "/mfa/setup"),
		MFAVerifyPath:     getEnv("MFA_VERIFY_PATH", "/mfa/verify"),
		ProtectedHome:     getEnv("PROTECTED_HOME", "/dashboard"),

		AdminEmail: strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))),

		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          getInt("REDIS_DB", 0),
		RateLimitRPM:     getInt("RATE_LIMIT_RPM", 600),
		AuthAttemptLimit: getInt("AUTH_ATTEMPT_LIMIT", 10),
		AuthAttemptTTL:   getDuration("AUTH_ATTEMPT_TTL", time.Minute),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", true),
	}

	if cfg.IdPTimeout <= 0 {
		cfg.IdPTimeout = 10 * time.Second
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
