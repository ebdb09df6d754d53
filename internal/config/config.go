package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process-level configuration. Newsletter settings that an
// administrator edits (token, sender, unsubscribe policy) live in the
// key/value configuration table; the Postmark section only supplies the
// defaults used when a key is absent there.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AMQP      AMQPConfig      `yaml:"amqp"`
	Logger    LoggerConfig    `yaml:"logger"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Postmark  PostmarkConfig  `yaml:"postmark"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" env:"SERVER_HOST"`
	Port           int      `yaml:"port" env:"PORT"`
	AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Host        string `yaml:"host" env:"DB_HOST"`
	Port        string `yaml:"port" env:"DB_PORT"`
	User        string `yaml:"user" env:"DB_USER"`
	Password    string `yaml:"password" env:"DB_PASSWORD"`
	Name        string `yaml:"name" env:"DB_NAME"`
	SSLMode     string `yaml:"ssl_mode" env:"DB_SSL_MODE"`
	URL         string `yaml:"url" env:"DATABASE_URL"`
	TablePrefix string `yaml:"table_prefix" env:"DB_TABLE_PREFIX"`
	MaxOpenConn int    `yaml:"max_open_conn" env:"DB_MAX_OPEN_CONN"`
}

// DSN returns the explicit URL when set, otherwise builds one from parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type AMQPConfig struct {
	URL   string `yaml:"url" env:"RABBITMQ_URL"`
	Queue string `yaml:"queue" env:"RABBITMQ_DISPATCH_QUEUE"`
}

type LoggerConfig struct {
	Level    string `yaml:"level" env:"LOG_LEVEL"`
	Encoding string `yaml:"encoding" env:"LOG_ENCODING"`
}

// DispatchConfig bounds how fast and how hard a dispatch run talks to the provider.
type DispatchConfig struct {
	BatchSize      int           `yaml:"batch_size" env:"DISPATCH_BATCH_SIZE"`
	RatePerSecond  float64       `yaml:"rate_per_second" env:"DISPATCH_RATE_PER_SECOND"`
	Concurrency    int           `yaml:"concurrency" env:"DISPATCH_CONCURRENCY"`
	MaxAttempts    int           `yaml:"max_attempts" env:"DISPATCH_MAX_ATTEMPTS"`
	BackoffMin     time.Duration `yaml:"backoff_min" env:"DISPATCH_BACKOFF_MIN"`
	BackoffMax     time.Duration `yaml:"backoff_max" env:"DISPATCH_BACKOFF_MAX"`
	SendTimeout    time.Duration `yaml:"send_timeout" env:"DISPATCH_SEND_TIMEOUT"`
	LockTTL        time.Duration `yaml:"lock_ttl" env:"DISPATCH_LOCK_TTL"`
	LockKey        string        `yaml:"lock_key" env:"DISPATCH_LOCK_KEY"`
	LockShardCount int           `yaml:"lock_shard_count" env:"WEBHOOK_LOCK_SHARDS"`
}

type WebhookConfig struct {
	Username string `yaml:"username" env:"WEBHOOK_USERNAME"`
	Password string `yaml:"password" env:"WEBHOOK_PASSWORD"`
	MaxBytes int64  `yaml:"max_bytes" env:"WEBHOOK_MAX_BYTES"`
}

type SchedulerConfig struct {
	Schedule string `yaml:"schedule" env:"CRON_SCHEDULE_DISPATCH"`
}

// PostmarkConfig carries the defaults for every POSTMARK_* setting.
type PostmarkConfig struct {
	BaseURL             string `yaml:"base_url" env:"POSTMARK_BASE_URL"`
	APIToken            string `yaml:"api_token" env:"POSTMARK_API_TOKEN"`
	FromEmail           string `yaml:"from_email" env:"POSTMARK_FROM_EMAIL"`
	FromName            string `yaml:"from_name" env:"POSTMARK_FROM_NAME"`
	MessageStream       string `yaml:"message_stream" env:"POSTMARK_MESSAGE_STREAM"`
	TrackOpens          bool   `yaml:"track_opens" env:"POSTMARK_TRACK_OPENS"`
	TrackLinks          bool   `yaml:"track_links" env:"POSTMARK_TRACK_LINKS"`
	AutoUnsubscribeHard bool   `yaml:"auto_unsubscribe_hard" env:"POSTMARK_AUTO_UNSUBSCRIBE_HARD"`
	AutoUnsubscribeSoft bool   `yaml:"auto_unsubscribe_soft" env:"POSTMARK_AUTO_UNSUBSCRIBE_SOFT"`
	SoftBounceThreshold int    `yaml:"soft_bounce_threshold" env:"POSTMARK_SOFT_BOUNCE_THRESHOLD"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{
		Postmark: PostmarkConfig{
			TrackOpens:          true,
			TrackLinks:          true,
			AutoUnsubscribeHard: true,
			SoftBounceThreshold: 3,
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML file at path (if any), the .env file (if any) and then
// environment variables, later sources overriding earlier ones.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == "" {
		c.Database.Port = "5432"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.TablePrefix == "" {
		c.Database.TablePrefix = "ps_"
	}
	if c.AMQP.Queue == "" {
		c.AMQP.Queue = "newsletter_dispatches"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Encoding == "" {
		c.Logger.Encoding = "json"
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 50
	}
	if c.Dispatch.RatePerSecond == 0 {
		c.Dispatch.RatePerSecond = 10
	}
	if c.Dispatch.Concurrency == 0 {
		c.Dispatch.Concurrency = 4
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.BackoffMin == 0 {
		c.Dispatch.BackoffMin = 500 * time.Millisecond
	}
	if c.Dispatch.BackoffMax == 0 {
		c.Dispatch.BackoffMax = 10 * time.Second
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 15 * time.Second
	}
	if c.Dispatch.LockTTL == 0 {
		c.Dispatch.LockTTL = 2 * time.Minute
	}
	if c.Dispatch.LockKey == "" {
		c.Dispatch.LockKey = "newsletter-dispatch"
	}
	if c.Dispatch.LockShardCount == 0 {
		c.Dispatch.LockShardCount = 64
	}
	if c.Webhook.MaxBytes == 0 {
		c.Webhook.MaxBytes = 5 << 20
	}
	if c.Scheduler.Schedule == "" {
		c.Scheduler.Schedule = "0 * * * * *"
	}
	if c.Postmark.BaseURL == "" {
		c.Postmark.BaseURL = "https://api.postmarkapp.com"
	}
	if c.Postmark.MessageStream == "" {
		c.Postmark.MessageStream = "broadcast"
	}
}
