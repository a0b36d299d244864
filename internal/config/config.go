package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/clinic-live/pkg/wire"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthSigningKey string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string        `mapstructure:"AUTH_ISSUER"`
	AuthTokenTTL   time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	AuthToken      string        `mapstructure:"AUTH_TOKEN"`

	APIBaseURL         string `mapstructure:"API_BASE_URL"`
	WSBaseURL          string `mapstructure:"WS_BASE_URL"`
	WSDashboardURL     string `mapstructure:"WS_DASHBOARD_URL"`
	WSLiveDataURL      string `mapstructure:"WS_LIVE_DATA_URL"`
	WSNotificationsURL string `mapstructure:"WS_NOTIFICATIONS_URL"`
	WSCollaborationURL string `mapstructure:"WS_COLLABORATION_URL"`

	ReconnectInterval    time.Duration `mapstructure:"WS_RECONNECT_INTERVAL"`
	MaxReconnectAttempts int           `mapstructure:"WS_MAX_RECONNECT_ATTEMPTS"`
	SendQueueSize        int           `mapstructure:"WS_SEND_QUEUE_SIZE"`
	SendOverflow         string        `mapstructure:"WS_SEND_OVERFLOW"`

	StatsInterval time.Duration `mapstructure:"STATS_INTERVAL"`
	SessionIdle   time.Duration `mapstructure:"COLLAB_SESSION_IDLE"`
	SoundDir      string        `mapstructure:"NOTIFY_SOUND_DIR"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "CORS_ORIGINS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_TOKEN_TTL", "AUTH_TOKEN",
	"API_BASE_URL", "WS_BASE_URL", "WS_DASHBOARD_URL", "WS_LIVE_DATA_URL",
	"WS_NOTIFICATIONS_URL", "WS_COLLABORATION_URL",
	"WS_RECONNECT_INTERVAL", "WS_MAX_RECONNECT_ATTEMPTS", "WS_SEND_QUEUE_SIZE", "WS_SEND_OVERFLOW",
	"STATS_INTERVAL", "COLLAB_SESSION_IDLE", "NOTIFY_SOUND_DIR",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile reads configuration from the environment and the given file. A
// missing file is not an error but an unreadable or malformed one is;
// environment variables win over the file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("AUTH_ISSUER", "clinic-live")
	v.SetDefault("AUTH_TOKEN_TTL", "12h")
	v.SetDefault("API_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("WS_BASE_URL", "ws://localhost:8080/ws")
	v.SetDefault("WS_RECONNECT_INTERVAL", "5s")
	v.SetDefault("WS_MAX_RECONNECT_ATTEMPTS", 5)
	v.SetDefault("WS_SEND_QUEUE_SIZE", 64)
	v.SetDefault("WS_SEND_OVERFLOW", "drop-oldest")
	v.SetDefault("STATS_INTERVAL", "10s")
	v.SetDefault("COLLAB_SESSION_IDLE", "30m")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// A missing file is fine; a file that exists must parse.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the gateway is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Endpoint returns the WebSocket URL for a concern. An explicit per-concern
// URL wins over WS_BASE_URL + "/" + concern.
func (c *Config) Endpoint(concern wire.Concern) string {
	var explicit string
	switch concern {
	case wire.ConcernDashboard:
		explicit = c.WSDashboardURL
	case wire.ConcernLiveData:
		explicit = c.WSLiveDataURL
	case wire.ConcernNotifications:
		explicit = c.WSNotificationsURL
	case wire.ConcernCollaboration:
		explicit = c.WSCollaborationURL
	}
	if explicit != "" {
		return explicit
	}
	return strings.TrimRight(c.WSBaseURL, "/") + "/" + string(concern)
}

// Validate checks that the configuration is safe to run. Production requires
// a signing key of at least 32 bytes.
func (c *Config) Validate() error {
	if c.IsProduction() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}
	if c.AuthSigningKey != "" && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d", len(c.AuthSigningKey))
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("WS_RECONNECT_INTERVAL must be positive, got %s", c.ReconnectInterval)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("WS_MAX_RECONNECT_ATTEMPTS must not be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("WS_SEND_QUEUE_SIZE must be positive, got %d", c.SendQueueSize)
	}
	if c.SendOverflow != "drop-oldest" && c.SendOverflow != "reject" {
		return fmt.Errorf("WS_SEND_OVERFLOW must be \"drop-oldest\" or \"reject\", got %q", c.SendOverflow)
	}
	if c.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be positive, got %s", c.StatsInterval)
	}
	if c.SessionIdle <= 0 {
		return fmt.Errorf("COLLAB_SESSION_IDLE must be positive, got %s", c.SessionIdle)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative")
	}
	return nil
}
