package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

var tokenPattern = regexp.MustCompile(`^[0-9]+:[0-9a-zA-Z_-]+$`)

var ErrInvalidToken = errors.New("config: TOKEN is required for a service and must look like <digits>:<alphanumerics>")

type Config struct {
	Server     ServerConfig     `json:"server"`
	Auth       AuthConfig       `json:"auth"`
	Store      StoreConfig      `json:"store"`
	Subscriber SubscriberConfig `json:"subscriber"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	RPC        RPCConfig        `json:"rpc"`
	Log        LogConfig        `json:"log"`
}

type ServerConfig struct {
	ListenAddr  string   `json:"listen_addr"`
	Host        string   `json:"host"`
	Port        int      `json:"port"`
	WSPath      string   `json:"ws_path"`
	CORSOrigins []string `json:"cors_origins"`
}

type AuthConfig struct {
	Token             string `json:"token"`
	SessionTTLSeconds int    `json:"session_ttl_seconds"`
}

type StoreConfig struct {
	RedisAddr     string `json:"redis_addr"`
	RedisUsername string `json:"redis_username"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	TimeoutMs     int    `json:"timeout_ms"`
}

type SubscriberConfig struct {
	URL          string `json:"url"`
	Pattern      string `json:"pattern"`
	RetryDelayMs int    `json:"retry_delay_ms"`
}

type RateLimitConfig struct {
	WindowMs int `json:"window_ms"`
	Limit    int `json:"limit"`
}

type RPCConfig struct {
	SuppressNotificationErrors bool `json:"suppress_notification_errors"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			WSPath:     "/ws",
		},
		Store: StoreConfig{
			TimeoutMs: 5000,
		},
		Subscriber: SubscriberConfig{
			Pattern:      "user:*",
			RetryDelayMs: 1000,
		},
		RateLimit: RateLimitConfig{
			WindowMs: 1000,
			Limit:    25,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads an optional JSON-with-comments file over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config failed: %w", err)
		}
		content, err = hujson.Standardize(content)
		if err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config failed: %w", err)
		}
	}

	applyEnv(&cfg)
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Auth.Token, "TOKEN")
	setString(&cfg.Server.ListenAddr, "GATEWAY_LISTEN_ADDR")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("GATEWAY_LISTEN_ADDR") == "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = n
			cfg.Server.ListenAddr = ""
		}
	}
	setString(&cfg.Store.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Store.RedisUsername, "REDIS_USERNAME")
	setString(&cfg.Store.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.Subscriber.URL, "SUBSCRIBER_URL")
	setString(&cfg.Log.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) normalize() {
	if c.Server.WSPath == "" {
		c.Server.WSPath = "/ws"
	}
	if c.Server.ListenAddr == "" {
		if c.Server.Port > 0 {
			c.Server.ListenAddr = fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
		} else {
			c.Server.ListenAddr = ":8080"
		}
	}
	if c.Store.TimeoutMs <= 0 {
		c.Store.TimeoutMs = 5000
	}
	if c.Subscriber.Pattern == "" {
		c.Subscriber.Pattern = "user:*"
	}
	if c.Subscriber.RetryDelayMs <= 0 {
		c.Subscriber.RetryDelayMs = 1000
	}
	if c.RateLimit.WindowMs <= 0 {
		c.RateLimit.WindowMs = 1000
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 25
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c Config) Validate() error {
	if !tokenPattern.MatchString(c.Auth.Token) {
		return ErrInvalidToken
	}
	if c.Auth.SessionTTLSeconds < 0 {
		return errors.New("config: auth.session_ttl_seconds must not be negative")
	}
	return nil
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLSeconds) * time.Second
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutMs) * time.Millisecond
}

func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Subscriber.RetryDelayMs) * time.Millisecond
}

func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowMs) * time.Millisecond
}
