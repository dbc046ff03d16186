package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration. Values come from defaults, an
// optional YAML file, then RELIEFHUB_* environment variables (dots become underscores).
type Config struct {
	Server   Server      `mapstructure:"server"`
	Database Database    `mapstructure:"database"`
	Redis    RedisConfig `mapstructure:"redis"`
	Channel  Channel     `mapstructure:"channel"`
	Ledger   Ledger      `mapstructure:"ledger"`
	Log      Log         `mapstructure:"log"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	JWTSigningKey   string        `mapstructure:"jwt_signing_key"`
	JWTIssuer       string        `mapstructure:"jwt_issuer"`
	JWTAudience     string        `mapstructure:"jwt_audience"`
	WriteRPS        float64       `mapstructure:"write_rps"`
	WriteBurst      int           `mapstructure:"write_burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database configures the postgres pool. With no URL the ledger runs in memory
// and the notification and directory stores use SQLitePath when set.
type Database struct {
	URL          string `mapstructure:"url"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// RedisConfig configures the shared redis client. An empty URL disables redis.
type RedisConfig struct {
	URL               string        `mapstructure:"url"`
	PoolSize          int           `mapstructure:"pool_size"`
	MinIdleConns      int           `mapstructure:"min_idle_conns"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	DirectoryCacheTTL time.Duration `mapstructure:"directory_cache_ttl"`
}

// Channel selects and configures the notification transport.
type Channel struct {
	Driver            string        `mapstructure:"driver"` // memory | kafka | redis
	Topic             string        `mapstructure:"topic"`
	Group             string        `mapstructure:"group"`
	Brokers           []string      `mapstructure:"brokers"`
	Partitions        int32         `mapstructure:"partitions"`
	ReplicationFactor int16         `mapstructure:"replication_factor"`
	StreamMaxLen      int64         `mapstructure:"stream_max_len"`
	Block             time.Duration `mapstructure:"block"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	RetryInitial      time.Duration `mapstructure:"retry_initial"`
	RetryMax          time.Duration `mapstructure:"retry_max"`
}

// Ledger tunes the fulfillment engine.
type Ledger struct {
	LockWait       time.Duration `mapstructure:"lock_wait"`
	LockRetries    uint64        `mapstructure:"lock_retries"`
	RetryBase      time.Duration `mapstructure:"retry_base"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	CapacityPolicy string        `mapstructure:"capacity_policy"` // reject | cap
	AdminFanout    string        `mapstructure:"admin_fanout"`    // broadcast | per_admin
}

// Log configures the slog handler.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
	DriverRedis  = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	// Use a default for development - should be overridden in production
	v.SetDefault("server.jwt_signing_key", "dev-secret-key-change-in-production")
	v.SetDefault("server.jwt_issuer", "reliefhub")
	v.SetDefault("server.jwt_audience", "reliefhub-api")
	v.SetDefault("server.write_rps", 5.0)
	v.SetDefault("server.write_burst", 10)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.url", "")
	v.SetDefault("database.sqlite_path", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.auto_migrate", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.directory_cache_ttl", "1m")

	v.SetDefault("channel.driver", DriverMemory)
	v.SetDefault("channel.topic", "notifications")
	v.SetDefault("channel.group", "notification-materializer")
	v.SetDefault("channel.brokers", []string{"localhost:9092"})
	v.SetDefault("channel.partitions", 6)
	v.SetDefault("channel.replication_factor", 1)
	v.SetDefault("channel.stream_max_len", 0)
	v.SetDefault("channel.block", "2s")
	v.SetDefault("channel.send_timeout", "2s")
	v.SetDefault("channel.retry_initial", "100ms")
	v.SetDefault("channel.retry_max", "10s")

	v.SetDefault("ledger.lock_wait", "2s")
	v.SetDefault("ledger.lock_retries", 3)
	v.SetDefault("ledger.retry_base", "50ms")
	v.SetDefault("ledger.retry_max", "500ms")
	v.SetDefault("ledger.capacity_policy", "reject")
	v.SetDefault("ledger.admin_fanout", "broadcast")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("RELIEFHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			var pathErr *os.PathError
			if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects enum values the process does not understand.
func (c *Config) Validate() error {
	switch c.Channel.Driver {
	case DriverMemory, DriverKafka, DriverRedis:
	default:
		return fmt.Errorf("unsupported channel driver %q", c.Channel.Driver)
	}
	switch c.Ledger.CapacityPolicy {
	case "reject", "cap":
	default:
		return fmt.Errorf("unsupported capacity policy %q", c.Ledger.CapacityPolicy)
	}
	switch c.Ledger.AdminFanout {
	case "broadcast", "per_admin":
	default:
		return fmt.Errorf("unsupported admin fan-out %q", c.Ledger.AdminFanout)
	}
	if c.Ledger.LockWait <= 0 {
		return errors.New("ledger.lock_wait must be positive")
	}
	if c.Channel.Driver == DriverRedis && c.Redis.URL == "" {
		return errors.New("channel.driver=redis requires redis.url")
	}
	if c.Channel.Driver == DriverKafka && len(c.Channel.Brokers) == 0 {
		return errors.New("channel.driver=kafka requires channel.brokers")
	}
	return nil
}
