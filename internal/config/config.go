// Package config centralizes runtime settings loaded from environment
// variables with defaults and validation. A .env file is honored when
// present so development setups need no exported shell state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all settings for the chat router process.
type Config struct {
	Database  *DatabaseConfig
	HTTP      *HTTPConfig
	WebSocket *WebSocketConfig
	Hub       *HubConfig
	Auth      *AuthConfig
	Router    *RouterConfig
	Log       *LogConfig
}

// DatabaseConfig configures the SQLite persistence store.
type DatabaseConfig struct {
	Path    string
	Timeout time.Duration
}

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WebSocketConfig configures live connection behavior.
type WebSocketConfig struct {
	PingInterval time.Duration // keepalive heartbeat cadence
	WriteTimeout time.Duration // per-frame write deadline
	BufferSize   int           // outbound frame buffer per connection
	FanoutGrace  time.Duration // settle delay before a message fans out
}

// HubConfig bounds the fanout dispatch queue.
type HubConfig struct {
	QueueSize int // persisted messages awaiting fanout dispatch
}

// AuthConfig configures token issuance.
type AuthConfig struct {
	Secret   string        // HMAC signing key
	TokenTTL time.Duration // fixed validity window from issuance
}

// RouterConfig bounds inbound message throughput per principal.
type RouterConfig struct {
	RatePerSecond float64
	RateBurst     int
}

// LogConfig configures the global structured logger.
type LogConfig struct {
	Level  string // debug|info|warn|error
	Pretty bool   // console writer for development
}

// DefaultConfig returns production defaults. The heartbeat interval and
// token lifetime mirror the protocol constants clients rely on.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./schoolchat.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			WriteTimeout: 5 * time.Second,
			BufferSize:   100,
			FanoutGrace:  100 * time.Millisecond,
		},
		Hub: &HubConfig{
			QueueSize: 256,
		},
		Auth: &AuthConfig{
			Secret:   "",
			TokenTTL: 30 * time.Minute,
		},
		Router: &RouterConfig{
			RatePerSecond: 2,
			RateBurst:     10,
		},
		Log: &LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.FanoutGrace < 0 {
		return fmt.Errorf("fanout grace delay cannot be negative")
	}
	if c.Hub == nil || c.Hub.QueueSize <= 0 {
		return fmt.Errorf("hub queue size must be positive")
	}
	if c.Auth == nil || c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Router == nil || c.Router.RatePerSecond <= 0 || c.Router.RateBurst <= 0 {
		return fmt.Errorf("router rate limit must be positive")
	}
	return nil
}

// LoadFromEnv reads SCHOOLCHAT_* environment variables over defaults.
// A .env file in the working directory is loaded first when present.
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if v := os.Getenv("SCHOOLCHAT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if d, ok := getdur("SCHOOLCHAT_DATABASE_TIMEOUT"); ok {
		cfg.Database.Timeout = d
	}
	if v := os.Getenv("SCHOOLCHAT_HTTP_HOST"); v != "" {
		cfg.HTTP.Host = v
	}
	if n, ok := getint("SCHOOLCHAT_HTTP_PORT"); ok {
		cfg.HTTP.Port = n
	}
	if d, ok := getdur("SCHOOLCHAT_HTTP_READ_TIMEOUT"); ok {
		cfg.HTTP.ReadTimeout = d
	}
	if d, ok := getdur("SCHOOLCHAT_HTTP_WRITE_TIMEOUT"); ok {
		cfg.HTTP.WriteTimeout = d
	}
	if d, ok := getdur("SCHOOLCHAT_WEBSOCKET_PING_INTERVAL"); ok {
		cfg.WebSocket.PingInterval = d
	}
	if d, ok := getdur("SCHOOLCHAT_WEBSOCKET_WRITE_TIMEOUT"); ok {
		cfg.WebSocket.WriteTimeout = d
	}
	if n, ok := getint("SCHOOLCHAT_WEBSOCKET_BUFFER_SIZE"); ok {
		cfg.WebSocket.BufferSize = n
	}
	if d, ok := getdur("SCHOOLCHAT_FANOUT_GRACE"); ok {
		cfg.WebSocket.FanoutGrace = d
	}
	if n, ok := getint("SCHOOLCHAT_HUB_QUEUE_SIZE"); ok {
		cfg.Hub.QueueSize = n
	}
	if v := os.Getenv("SCHOOLCHAT_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if d, ok := getdur("SCHOOLCHAT_TOKEN_TTL"); ok {
		cfg.Auth.TokenTTL = d
	}
	if f, ok := getfloat("SCHOOLCHAT_RATE_PER_SECOND"); ok {
		cfg.Router.RatePerSecond = f
	}
	if n, ok := getint("SCHOOLCHAT_RATE_BURST"); ok {
		cfg.Router.RateBurst = n
	}
	if v := os.Getenv("SCHOOLCHAT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if b, ok := getbool("SCHOOLCHAT_LOG_PRETTY"); ok {
		cfg.Log.Pretty = b
	}

	return cfg
}

func getint(key string) (int, bool) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}

func getdur(key string) (time.Duration, bool) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d, true
		}
	}
	return 0, false
}

func getfloat(key string) (float64, bool) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func getbool(key string) (bool, bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b, true
		}
	}
	return false, false
}
