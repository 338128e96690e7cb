package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Database struct {
		Host           string `mapstructure:"host"`
		Port           string `mapstructure:"port"`
		User           string `mapstructure:"user"`
		Password       string `mapstructure:"password"`
		Name           string `mapstructure:"name"`
		SSLMode        string `mapstructure:"sslmode"`
		MigrationsPath string `mapstructure:"migrations_path"`
		RunMigrations  bool   `mapstructure:"run_migrations"`
	} `mapstructure:"database"`
	Redis struct {
		Host     string `mapstructure:"host"`
		Port     string `mapstructure:"port"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Server struct {
		Port            string        `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	JWT struct {
		SecretKey      string        `mapstructure:"secret_key"`
		Issuer         string        `mapstructure:"issuer"`
		AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	} `mapstructure:"jwt"`
	RefreshToken struct {
		TTL   time.Duration `mapstructure:"ttl"`
		Bytes int           `mapstructure:"bytes"`
	} `mapstructure:"refresh_token"`
	Password struct {
		Algorithm  string `mapstructure:"algorithm"`
		BcryptCost int    `mapstructure:"bcrypt_cost"`
	} `mapstructure:"password"`
	// Outbox.MaxAttempts is the number of failed publishes a message gets. The failure
	// that brings attempt_count to MaxAttempts marks it poison; after MaxAttempts-1
	// failures it is still selected.
	Outbox struct {
		Interval       time.Duration `mapstructure:"interval"`
		BatchSize      int           `mapstructure:"batch_size"`
		MaxAttempts    int           `mapstructure:"max_attempts"`
		PublishTimeout time.Duration `mapstructure:"publish_timeout"`
		BaseBackoff    time.Duration `mapstructure:"base_backoff"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"outbox"`
	Publisher struct {
		Driver string `mapstructure:"driver"`

		Kafka struct {
			Brokers []string `mapstructure:"brokers"`
			Topic   string   `mapstructure:"topic"`
		} `mapstructure:"kafka"`
		RabbitMQ struct {
			URL   string `mapstructure:"url"`
			Queue string `mapstructure:"queue"`
		} `mapstructure:"rabbitmq"`
		Redis struct {
			Stream string `mapstructure:"stream"`
			MaxLen int64  `mapstructure:"max_len"`
		} `mapstructure:"redis"`
	} `mapstructure:"publisher"`
}

var AppConfig Config

// MinRefreshTokenBytes is the entropy floor for raw refresh tokens (256 bits).
const MinRefreshTokenBytes = 32

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "file://db/migrations")
	v.SetDefault("database.run_migrations", true)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("jwt.issuer", "techmart-auth")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)

	v.SetDefault("refresh_token.ttl", 7*24*time.Hour)
	v.SetDefault("refresh_token.bytes", MinRefreshTokenBytes)

	v.SetDefault("password.algorithm", "bcrypt")
	v.SetDefault("password.bcrypt_cost", 12)

	v.SetDefault("outbox.interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 10)
	v.SetDefault("outbox.publish_timeout", 10*time.Second)
	v.SetDefault("outbox.base_backoff", time.Second)
	v.SetDefault("outbox.max_backoff", 5*time.Minute)

	v.SetDefault("publisher.driver", "log")
	v.SetDefault("publisher.kafka.topic", "auth-events")
	v.SetDefault("publisher.rabbitmq.queue", "auth-events")
	v.SetDefault("publisher.redis.stream", "auth-events")
	v.SetDefault("publisher.redis.max_len", 100000)
}

func LoadConfig(path string) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	setDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file, %s", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	if AppConfig.RefreshToken.Bytes < MinRefreshTokenBytes {
		AppConfig.RefreshToken.Bytes = MinRefreshTokenBytes
	}
}

// TokenPolicy is the refresh-token issuance policy derived from configuration.
type TokenPolicy struct {
	RefreshTTL   time.Duration
	RefreshBytes int
	AccessTTL    time.Duration
	Issuer       string
	SigningKey   []byte
}

func (c Config) TokenPolicy() TokenPolicy {
	return TokenPolicy{
		RefreshTTL:   c.RefreshToken.TTL,
		RefreshBytes: c.RefreshToken.Bytes,
		AccessTTL:    c.JWT.AccessTokenTTL,
		Issuer:       c.JWT.Issuer,
		SigningKey:   []byte(c.JWT.SecretKey),
	}
}

// DispatcherPolicy is the outbox dispatcher schedule and retry policy.
type DispatcherPolicy struct {
	Interval       time.Duration
	BatchSize      int
	MaxAttempts    int
	PublishTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

func (c Config) DispatcherPolicy() DispatcherPolicy {
	return DispatcherPolicy{
		Interval:       c.Outbox.Interval,
		BatchSize:      c.Outbox.BatchSize,
		MaxAttempts:    c.Outbox.MaxAttempts,
		PublishTimeout: c.Outbox.PublishTimeout,
		BaseBackoff:    c.Outbox.BaseBackoff,
		MaxBackoff:     c.Outbox.MaxBackoff,
	}
}
