package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHIFTSYNC_"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Rate limiter store names.
const (
	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

// maxValueRunes bounds one allowed value.
const maxValueRunes = 64

type Config struct {
	Database  DatabaseConfig  `toml:"database" envPrefix:"DATABASE_"`
	Server    ServerConfig    `toml:"server" envPrefix:"SERVER_"`
	Cells     CellsConfig     `toml:"cells" envPrefix:"CELLS_"`
	Locks     LocksConfig     `toml:"locks" envPrefix:"LOCKS_"`
	Feed      FeedConfig      `toml:"feed" envPrefix:"FEED_"`
	RateLimit RateLimitConfig `toml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Logging   LoggingConfig   `toml:"logging" envPrefix:"LOGGING_"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver" env:"DRIVER"`
	Path   string `toml:"path" env:"PATH"`
	DSN    string `toml:"dsn" env:"DSN"`
}

type ServerConfig struct {
	HTTPBind       string   `toml:"http_bind" env:"HTTP_BIND"`
	APIEndpoint    string   `toml:"api_endpoint" env:"API_ENDPOINT"`
	MCPEndpoint    string   `toml:"mcp_endpoint" env:"MCP_ENDPOINT"`
	AllowedOrigins []string `toml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
}

type CellsConfig struct {
	AllowedValues []string `toml:"allowed_values" env:"ALLOWED_VALUES" envSeparator:","`
}

type LocksConfig struct {
	TTL Duration `toml:"ttl" env:"TTL"`
}

type FeedConfig struct {
	PingInterval    Duration `toml:"ping_interval" env:"PING_INTERVAL"`
	PollInterval    Duration `toml:"poll_interval" env:"POLL_INTERVAL"`
	MaxSession      Duration `toml:"max_session" env:"MAX_SESSION"`
	DefaultOpsLimit int      `toml:"default_ops_limit" env:"DEFAULT_OPS_LIMIT"`
	MaxOpsLimit     int      `toml:"max_ops_limit" env:"MAX_OPS_LIMIT"`
	StreamBatchSize int      `toml:"stream_batch_size" env:"STREAM_BATCH_SIZE"`
}

type RateLimitConfig struct {
	// PerSecond is the write budget per team and actor; 0 disables limiting.
	PerSecond int64  `toml:"per_second" env:"PER_SECOND"`
	Store     string `toml:"store" env:"STORE"` // memory | redis
	RedisURL  string `toml:"redis_url" env:"REDIS_URL"`
}

type LoggingConfig struct {
	Level   string        `toml:"level" env:"LEVEL"`
	DevFile DevFileConfig `toml:"dev_file" envPrefix:"DEV_FILE_"`
}

type DevFileConfig struct {
	Enabled bool   `toml:"enabled" env:"ENABLED"`
	Dir     string `toml:"dir" env:"DIR"`
}

// Duration decodes "30s"-style strings from TOML and env.
type Duration time.Duration

// UnmarshalText parses one Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   dbPath,
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Cells: CellsConfig{
			AllowedValues: []string{"白", "中1", "中2", "夜", "休"},
		},
		Locks: LocksConfig{
			TTL: Duration(30 * time.Second),
		},
		Feed: FeedConfig{
			PingInterval:    Duration(15 * time.Second),
			PollInterval:    Duration(500 * time.Millisecond),
			MaxSession:      Duration(5 * time.Minute),
			DefaultOpsLimit: 200,
			MaxOpsLimit:     500,
			StreamBatchSize: 100,
		},
		RateLimit: RateLimitConfig{
			PerSecond: 5,
			Store:     RateLimitStoreMemory,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".shiftsync/log",
			},
		},
	}
}

// Load reads path over defaults, applies SHIFTSYNC_ environment overrides, and validates.
// A missing or empty file yields the defaults with overrides.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	cfg.Cells.AllowedValues = slices.Clone(defaults.Cells.AllowedValues)
	cfg.Server.AllowedOrigins = slices.Clone(defaults.Server.AllowedOrigins)

	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config: %w", err)
		case len(content) > 0:
			if err := toml.Unmarshal(content, &cfg); err != nil {
				return Config{}, fmt.Errorf("decode toml: %w", err)
			}
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load dotenv %s: %w", path, err)
	}
	return nil
}

func (c Config) Validate() error {
	switch strings.TrimSpace(strings.ToLower(c.Database.Driver)) {
	case DriverSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return errors.New("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.Database.DSN) == "" {
			return errors.New("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database.driver: %q", c.Database.Driver)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}

	if err := ValidateAllowedValues(c.Cells.AllowedValues); err != nil {
		return err
	}

	if c.Locks.TTL <= 0 {
		return errors.New("locks.ttl must be > 0")
	}

	if c.Feed.PingInterval <= 0 {
		return errors.New("feed.ping_interval must be > 0")
	}
	if c.Feed.PollInterval <= 0 {
		return errors.New("feed.poll_interval must be > 0")
	}
	if c.Feed.MaxSession <= 0 {
		return errors.New("feed.max_session must be > 0")
	}
	if c.Feed.MaxOpsLimit <= 0 {
		return errors.New("feed.max_ops_limit must be > 0")
	}
	if c.Feed.DefaultOpsLimit <= 0 || c.Feed.DefaultOpsLimit > c.Feed.MaxOpsLimit {
		return fmt.Errorf("feed.default_ops_limit must be within 1..%d", c.Feed.MaxOpsLimit)
	}
	if c.Feed.StreamBatchSize <= 0 {
		return errors.New("feed.stream_batch_size must be > 0")
	}

	if c.RateLimit.PerSecond < 0 {
		return errors.New("rate_limit.per_second must be >= 0")
	}
	switch strings.TrimSpace(strings.ToLower(c.RateLimit.Store)) {
	case "", RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if strings.TrimSpace(c.RateLimit.RedisURL) == "" {
			return errors.New("rate_limit.redis_url is required for the redis store")
		}
	default:
		return fmt.Errorf("invalid rate_limit.store: %q", c.RateLimit.Store)
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	return nil
}

// ValidateAllowedValues checks one allowed-value list.
func ValidateAllowedValues(values []string) error {
	if len(values) == 0 {
		return errors.New("cells.allowed_values must include at least one value")
	}
	seen := make(map[string]struct{}, len(values))
	for idx, raw := range values {
		value := strings.TrimSpace(raw)
		if value == "" {
			return fmt.Errorf("cells.allowed_values[%d] is empty; clearing is always allowed", idx)
		}
		if utf8.RuneCountInString(value) > maxValueRunes {
			return fmt.Errorf("cells.allowed_values[%d] exceeds %d characters", idx, maxValueRunes)
		}
		if _, ok := seen[value]; ok {
			return fmt.Errorf("cells.allowed_values[%d] is duplicated: %s", idx, value)
		}
		seen[value] = struct{}{}
	}
	return nil
}

// EnsureConfigDir creates the directory that holds path so it can be watched before the file exists.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
