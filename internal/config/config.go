package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP       HTTPConfig
	Store      StoreConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	Dispatch   DispatchConfig
	Auth       AuthConfig
	Identity   IdentityConfig
	Logging    LoggingConfig
	DeadLetter DeadLetterConfig
	Ratings    RatingsConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// StoreConfig describes the transactional datastore.
type StoreConfig struct {
	Driver         string // sqlite|postgres
	DSN            string
	OpTimeout      time.Duration
	MaxOpenConns   int
	SeedSituations bool
}

// KafkaConfig describes the notification transport.
type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
	GroupID string
}

// RedisConfig describes the read-model store.
type RedisConfig struct {
	Enabled   bool
	Addr      string
	DedupeTTL time.Duration
	FeedSize  int
}

// DispatchConfig controls the outbox relay.
type DispatchConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

type AuthConfig struct {
	JWTSecret string
}

type IdentityConfig struct {
	BaseURL string
	Timeout time.Duration
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string
	Format string // json|console
}

type DeadLetterConfig struct {
	Dir string
}

type RatingsConfig struct {
	SummaryTTL time.Duration
}

// Load reads config.yaml (if present) and MARKETPLACE_* environment variables,
// applying defaults.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("marketplace")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "marketplace.db")
	v.SetDefault("store.op_timeout", 5*time.Second)
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.seed_situations", true)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", "kafka:9092")
	v.SetDefault("kafka.topic", "marketplace.requests")
	v.SetDefault("kafka.group_id", "notification-projector")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.dedupe_ttl", 72*time.Hour)
	v.SetDefault("redis.feed_size", 100)

	v.SetDefault("dispatch.poll_interval", 2*time.Second)
	v.SetDefault("dispatch.batch_size", 100)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("identity.base_url", "")
	v.SetDefault("identity.timeout", 2*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("deadletter.dir", "./data/deadletter")

	v.SetDefault("ratings.summary_ttl", 5*time.Minute)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Addr:            v.GetString("http.addr"),
			ReadTimeout:     v.GetDuration("http.read_timeout"),
			WriteTimeout:    v.GetDuration("http.write_timeout"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		},
		Store: StoreConfig{
			Driver:         strings.ToLower(v.GetString("store.driver")),
			DSN:            v.GetString("store.dsn"),
			OpTimeout:      v.GetDuration("store.op_timeout"),
			MaxOpenConns:   v.GetInt("store.max_open_conns"),
			SeedSituations: v.GetBool("store.seed_situations"),
		},
		Kafka: KafkaConfig{
			Enabled: v.GetBool("kafka.enabled"),
			Brokers: splitCSV(v.GetString("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
			GroupID: v.GetString("kafka.group_id"),
		},
		Redis: RedisConfig{
			Enabled:   v.GetBool("redis.enabled"),
			Addr:      v.GetString("redis.addr"),
			DedupeTTL: v.GetDuration("redis.dedupe_ttl"),
			FeedSize:  v.GetInt("redis.feed_size"),
		},
		Dispatch: DispatchConfig{
			PollInterval: v.GetDuration("dispatch.poll_interval"),
			BatchSize:    v.GetInt("dispatch.batch_size"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
		},
		Identity: IdentityConfig{
			BaseURL: strings.TrimRight(v.GetString("identity.base_url"), "/"),
			Timeout: v.GetDuration("identity.timeout"),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		DeadLetter: DeadLetterConfig{
			Dir: v.GetString("deadletter.dir"),
		},
		Ratings: RatingsConfig{
			SummaryTTL: v.GetDuration("ratings.summary_ttl"),
		},
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("unsupported store.driver %q", cfg.Store.Driver)
	}
	if cfg.Store.OpTimeout <= 0 {
		return Config{}, fmt.Errorf("store.op_timeout must be positive, got %s", cfg.Store.OpTimeout)
	}
	if cfg.Dispatch.BatchSize <= 0 {
		return Config{}, fmt.Errorf("dispatch.batch_size must be positive, got %d", cfg.Dispatch.BatchSize)
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return Config{}, fmt.Errorf("kafka.enabled requires kafka.brokers")
	}
	return cfg, nil
}

func splitCSV(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
