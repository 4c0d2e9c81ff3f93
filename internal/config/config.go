package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config aggregates every setting of the service.
type Config struct {
	Server  ServerConfig
	Store   StoreConfig
	Session SessionConfig
	Origin  OriginConfig
	Log     LogConfig
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Port string `env:"PORT,default=8080"`
	// Addr is derived from Port.
	Addr              string
	PublicBaseURL     string        `env:"PUBLIC_BASE_URL"`
	MaxUploadBytes    int64         `env:"MAX_UPLOAD_BYTES,default=104857600"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT,default=5s"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}

// StoreConfig is the single connection module for the session store and
// the location of the filesystem mirror.
type StoreConfig struct {
	Driver           string `env:"STORE_DRIVER,default=sqlite"`
	ConnectionString string `env:"DATABASE_URL,default=file:filesync.db"`
	PoolSize         int    `env:"DB_POOL_SIZE,default=4"`
	RedisKeyPrefix   string `env:"REDIS_KEY_PREFIX,default=filesync:"`
	UploadDir        string `env:"UPLOAD_DIR,default=uploads"`
}

// SessionConfig controls lifetimes and housekeeping.
type SessionConfig struct {
	DefaultTTL        time.Duration `env:"SESSION_TTL,default=15m"`
	WatchInterval     time.Duration `env:"WATCH_INTERVAL,default=2s"`
	SweepSchedule     string        `env:"SWEEP_SCHEDULE,default=@every 1m"`
	KeepAliveSchedule string        `env:"KEEPALIVE_SCHEDULE,default=@every 14m"`
	KeepAliveURL      string        `env:"KEEPALIVE_URL"`
	MaxMessageLen     int           `env:"MAX_MESSAGE_LENGTH,default=10000"`
}

// OriginConfig feeds the creator/peer heuristic and CORS. Lists are
// separated by semicolons.
type OriginConfig struct {
	CreatorOrigins    []string `env:"CREATOR_ORIGINS,default=chrome-extension://;moz-extension://;safari-web-extension://"`
	CreatorUserAgents []string `env:"CREATOR_USER_AGENTS,default=chrome-extension"`
	AllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// LogConfig selects level and output.
type LogConfig struct {
	Level string `env:"LOG_LEVEL,default=info"`
	// Pretty is auto, true or false. auto means pretty on a terminal.
	Pretty string `env:"LOG_PRETTY,default=auto"`
	File   string `env:"LOG_FILE"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Server.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.Server.PublicBaseURL), "/")
	cfg.Origin.CreatorOrigins = compact(cfg.Origin.CreatorOrigins)
	cfg.Origin.CreatorUserAgents = compact(cfg.Origin.CreatorUserAgents)
	cfg.Origin.AllowedOrigins = compact(cfg.Origin.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverMemory, DriverRedis:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: want sqlite, memory or redis", c.Store.Driver)
	}
	if c.Store.PoolSize < 1 {
		return fmt.Errorf("invalid DB_POOL_SIZE %d: must be positive", c.Store.PoolSize)
	}
	if strings.TrimSpace(c.Store.UploadDir) == "" {
		return errors.New("UPLOAD_DIR must not be empty")
	}
	if c.Session.DefaultTTL < 0 {
		return fmt.Errorf("invalid SESSION_TTL %s: must not be negative", c.Session.DefaultTTL)
	}
	if c.Session.WatchInterval <= 0 {
		return fmt.Errorf("invalid WATCH_INTERVAL %s: must be positive", c.Session.WatchInterval)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid MAX_UPLOAD_BYTES %d: must be positive", c.Server.MaxUploadBytes)
	}
	if c.Session.MaxMessageLen <= 0 {
		return fmt.Errorf("invalid MAX_MESSAGE_LENGTH %d: must be positive", c.Session.MaxMessageLen)
	}
	return nil
}

// normalizeAddr turns PORT into a listen address.
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" pass through.
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
