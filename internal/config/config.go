// Package config provides the runtime settings of the chatify server:
// defaults, an optional YAML file, environment overrides, and validation.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
)

// Bridge modes.
const (
	BridgeDirect = "direct"
	BridgeNATS   = "nats"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// LogConfig selects the zap level and encoder.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL"`
	Format string `yaml:"format" env:"LOG_FORMAT"`
}

// AuthConfig configures token verification for websocket and API requests.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	// Required rejects websocket upgrades without a valid token. When false
	// and a token is absent, the identity comes from the user_online
	// handshake alone.
	Required bool `yaml:"required" env:"REQUIRE_AUTH"`
	// SecureCookie marks the session cookie Secure; enable behind HTTPS.
	SecureCookie bool `yaml:"secure_cookie" env:"COOKIE_SECURE"`
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver        string `yaml:"driver" env:"STORE_DRIVER"`
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`
}

// RedisConfig enables the presence mirror when Addr is set.
type RedisConfig struct {
	Addr        string        `yaml:"addr" env:"REDIS_ADDR"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB"`
	PresenceTTL time.Duration `yaml:"presence_ttl" env:"PRESENCE_TTL"`
}

// BridgeConfig selects how persisted messages reach the router.
type BridgeConfig struct {
	Mode    string `yaml:"mode" env:"BRIDGE_MODE"`
	NATSURL string `yaml:"nats_url" env:"NATS_URL"`
	Subject string `yaml:"subject" env:"NATS_SUBJECT"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins  []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize  int64           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBuffer      int             `yaml:"send_buffer" env:"SEND_BUFFER"`
	CloseSuperseded bool            `yaml:"close_superseded" env:"CLOSE_SUPERSEDED"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Log             LogConfig       `yaml:"log"`
	Auth            AuthConfig      `yaml:"auth"`
	Store           StoreConfig     `yaml:"store"`
	Redis           RedisConfig     `yaml:"redis"`
	Bridge          BridgeConfig    `yaml:"bridge"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  4096,
		SendBuffer:      256,
		ShutdownTimeout: 10 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Store: StoreConfig{
			Driver:        StoreMemory,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "chatify",
		},
		Redis: RedisConfig{
			PresenceTTL: 2 * time.Minute,
		},
		Bridge: BridgeConfig{
			Mode:    BridgeDirect,
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "chat.message.persisted",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// when path is not empty, then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config file")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}

	return Sanitize(cfg), nil
}

// Sanitize replaces missing or invalid values with defaults.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	switch cfg.Store.Driver {
	case StoreMemory, StoreMongo:
	default:
		cfg.Store.Driver = def.Store.Driver
	}

	switch cfg.Bridge.Mode {
	case BridgeDirect, BridgeNATS:
	default:
		cfg.Bridge.Mode = def.Bridge.Mode
	}
	if cfg.Bridge.Subject == "" {
		cfg.Bridge.Subject = def.Bridge.Subject
	}

	if cfg.Redis.PresenceTTL <= 0 {
		cfg.Redis.PresenceTTL = def.Redis.PresenceTTL
	}

	return cfg
}
