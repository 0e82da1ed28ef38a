package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/authsession/pkg/authsdk"
	"github.com/aussiebroadwan/authsession/pkg/httpx"
)

// Storage backends accepted in AUTH_STORAGE.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	ClientID         string   // Required: OAuth client id
	ClientSecret     *string  // Optional: confidential clients only
	AuthorizationURL string   // Required for login: authorization endpoint
	TokenURL         string   // Required: token endpoint
	RevokeURL        string   // Optional: revocation endpoint used by logout
	UserInfoURL      string   // Optional: userinfo endpoint queried after sign-in
	RedirectURL      string   // Loopback redirect (default: http://127.0.0.1:8765/callback)
	Scopes           []string // Space separated scopes (default: openid profile email)
	UsePKCE          bool     // Send a PKCE challenge (default: true)

	Storage       string // Session storage backend (memory, sqlite, postgres, redis) (default: sqlite)
	DatabaseFile  string // SQLite database file (default: ./authsession.db)
	DatabaseURL   string // PostgreSQL connection string
	RedisAddr     string // Redis address (default: localhost:6379)
	RedisPassword string // Optional: Redis password
	RedisDB       int    // Redis logical database (default: 0)
	StorageKey    string // Key the session is stored under (default: authsdk.SessionStorageKey)

	RefreshThreshold time.Duration         // Refresh tokens this close to expiry (default: 5m)
	TokenRateLimit   httpx.RateLimitConfig // Token endpoint budget, see httpx.TokenEndpointLimit
	LoginTimeout     time.Duration         // How long login waits for the callback (default: 2m)
	TOTPSecret       string                // Optional: base32 TOTP secret answering MFA challenges

	Env       string // Environment (dev, staging, prod) (default: dev)
	LogLevel  string // Log level (debug, info, warn, error) (default: warn)
	LogFormat string // Log format (json, text) (default: text)
}

func LoadConfig() Config {
	cfg := Config{
		ClientID:         os.Getenv("AUTH_CLIENT_ID"),
		AuthorizationURL: os.Getenv("AUTH_AUTHORIZATION_URL"),
		TokenURL:         os.Getenv("AUTH_TOKEN_URL"),
		RevokeURL:        os.Getenv("AUTH_REVOKE_URL"),
		UserInfoURL:      os.Getenv("AUTH_USERINFO_URL"),
		RedirectURL:      getEnvOrDefault("AUTH_REDIRECT_URL", "http://127.0.0.1:8765/callback"),
		Scopes:           httpx.ParseSpaceDelimitedFields(getEnvOrDefault("AUTH_SCOPES", "openid profile email")),
		UsePKCE:          getEnvBoolOrDefault("AUTH_USE_PKCE", true),

		Storage:       strings.ToLower(getEnvOrDefault("AUTH_STORAGE", StorageSQLite)),
		DatabaseFile:  getEnvOrDefault("AUTH_DATABASE_FILE", "authsession.db"),
		DatabaseURL:   os.Getenv("AUTH_DATABASE_URL"),
		RedisAddr:     getEnvOrDefault("AUTH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("AUTH_REDIS_PASSWORD"),
		RedisDB:       getEnvIntOrDefault("AUTH_REDIS_DB", 0),
		StorageKey:    getEnvOrDefault("AUTH_STORAGE_KEY", authsdk.SessionStorageKey),

		RefreshThreshold: getEnvDurationOrDefault("AUTH_REFRESH_THRESHOLD", authsdk.DefaultRefreshThreshold),
		TokenRateLimit:   httpx.ParseRateLimitFromEnv("TOKEN", httpx.TokenEndpointLimit),
		LoginTimeout:     getEnvDurationOrDefault("AUTH_LOGIN_TIMEOUT", 2*time.Minute),
		TOTPSecret:       os.Getenv("AUTH_TOTP_SECRET"),

		Env:       getEnvOrDefault("ENV", "dev"),
		LogLevel:  getEnvOrDefault("LOG_LEVEL", "warn"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	// An empty secret means a public client, not a blank password
	if secret := os.Getenv("AUTH_CLIENT_SECRET"); secret != "" {
		cfg.ClientSecret = &secret
	}

	return cfg
}

// OAuthConfig builds the client registration the SDK works with. Endpoint
// checks are left to authsdk so every command reports them the same way.
func (c Config) OAuthConfig() authsdk.OAuthConfig {
	cfg := authsdk.NewOAuthConfig(c.ClientID, c.AuthorizationURL, c.TokenURL, c.RedirectURL, c.Scopes...)
	cfg.ClientSecret = c.ClientSecret
	cfg.UsePKCE = c.UsePKCE
	return cfg
}

// Validate reports settings that no command can work without.
func (c Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("AUTH_CLIENT_ID is required")
	}
	if c.TokenURL == "" {
		return fmt.Errorf("AUTH_TOKEN_URL is required")
	}

	switch c.Storage {
	case StorageMemory, StorageSQLite, StorageRedis:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("AUTH_DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown AUTH_STORAGE %q", c.Storage)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if boolValue, err := strconv.ParseBool(value); err == nil {
		return boolValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	// Try parsing as duration (e.g., "1h", "30m", "90s")
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	// Bare integers are seconds, matching RATELIMIT_*_WINDOW_SEC
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	return defaultValue
}
