package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the roomsync server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	DealService DealServiceConfig
	RoomService RoomServiceConfig
	App         AppConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// DealServiceConfig configures the CRM side: the API base URL and the OAuth
// application used to refresh per-user access tokens.
type DealServiceConfig struct {
	BaseURL           string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthTokenURL     string
	Timeout           time.Duration
}

// RoomServiceConfig configures the collaboration side. The portal base URL is
// per-tenant (stored in Settings); only transport-level knobs live here.
type RoomServiceConfig struct {
	Timeout    time.Duration
	SessionTTL time.Duration
}

// AppConfig holds this deployment's own addresses: BaseURL is where the CRM
// delivers webhooks, FrontendURL is allow-listed in the portal's CSP.
type AppConfig struct {
	BaseURL     string
	FrontendURL string
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("ROOMSYNC_PORT", 8080),
			Env:  envString("ROOMSYNC_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		DealService: DealServiceConfig{
			BaseURL:           os.Getenv("DEAL_SERVICE_BASE_URL"),
			OAuthClientID:     os.Getenv("DEAL_SERVICE_OAUTH_CLIENT_ID"),
			OAuthClientSecret: os.Getenv("DEAL_SERVICE_OAUTH_CLIENT_SECRET"),
			OAuthTokenURL:     os.Getenv("DEAL_SERVICE_OAUTH_TOKEN_URL"),
			Timeout:           envDuration("DEAL_SERVICE_TIMEOUT", 30*time.Second),
		},
		RoomService: RoomServiceConfig{
			Timeout:    envDuration("ROOM_SERVICE_TIMEOUT", 30*time.Second),
			SessionTTL: envDuration("ROOM_SERVICE_SESSION_TTL", 12*time.Hour),
		},
		App: AppConfig{
			BaseURL:     os.Getenv("ROOMSYNC_BASE_URL"),
			FrontendURL: os.Getenv("ROOMSYNC_FRONTEND_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DealService.BaseURL == "" {
		return fmt.Errorf("DEAL_SERVICE_BASE_URL is required")
	}
	if !isHTTPURL(c.DealService.BaseURL) {
		return fmt.Errorf("DEAL_SERVICE_BASE_URL must start with http:// or https://, got %q", c.DealService.BaseURL)
	}

	if c.DealService.OAuthClientID == "" || c.DealService.OAuthClientSecret == "" {
		return fmt.Errorf("DEAL_SERVICE_OAUTH_CLIENT_ID and DEAL_SERVICE_OAUTH_CLIENT_SECRET are required")
	}
	if c.DealService.OAuthTokenURL == "" {
		return fmt.Errorf("DEAL_SERVICE_OAUTH_TOKEN_URL is required")
	}

	if c.App.BaseURL == "" {
		return fmt.Errorf("ROOMSYNC_BASE_URL is required")
	}
	if !isHTTPURL(c.App.BaseURL) {
		return fmt.Errorf("ROOMSYNC_BASE_URL must start with http:// or https://, got %q", c.App.BaseURL)
	}

	return nil
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
