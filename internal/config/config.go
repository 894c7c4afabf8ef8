package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fan-out backends for the broadcast gateway.
const (
	FanoutRedis = "redis"
	FanoutNATS  = "nats"
	FanoutLocal = "local"
)

// Queue backends for notification intake.
const (
	QueuePostgres = "postgres"
	QueueKafka    = "kafka"
	QueueMemory   = "memory"
)

// Config is the process configuration.
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Redis         RedisConfig         `yaml:"redis"`
	NATS          NATSConfig          `yaml:"nats"`
	Events        EventsConfig        `yaml:"events"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Recipients    []RecipientConfig   `yaml:"recipients"`
	Log           LogConfig           `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type IngestConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	MaxSkew    time.Duration `yaml:"max_skew"`
}

// GatewayConfig configures the broadcast gateway.
type GatewayConfig struct {
	Fanout       string `yaml:"fanout"`
	Channel      string `yaml:"channel"`
	ClientBuffer int    `yaml:"client_buffer"`
	// Revocation selects where revoked token ids live: "redis" or "memory".
	Revocation string `yaml:"revocation"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

// EventsConfig configures the async publisher and the notification queue.
type EventsConfig struct {
	Queue          string        `yaml:"queue"`
	Shards         int           `yaml:"shards"`
	Buffer         int           `yaml:"buffer"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	OutboxInterval time.Duration `yaml:"outbox_interval"`
	OutboxBatch    int           `yaml:"outbox_batch"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// NotificationsConfig configures the dispatcher and worker.
type NotificationsConfig struct {
	Workers         int           `yaml:"workers"`
	Batch           int           `yaml:"batch"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseBackoff     time.Duration `yaml:"base_backoff"`
	MaxBackoff      time.Duration `yaml:"max_backoff"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	Lease           time.Duration `yaml:"lease"`
	ReminderAfter   time.Duration `yaml:"reminder_after"`
	Template        string        `yaml:"template"`
	Recipients      string        `yaml:"recipients"`
}

type ProvidersConfig struct {
	SMS     SMSProviderConfig     `yaml:"sms"`
	Email   EmailProviderConfig   `yaml:"email"`
	Webhook WebhookProviderConfig `yaml:"webhook"`
}

type SMSProviderConfig struct {
	BaseURL    string `yaml:"base_url"`
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type EmailProviderConfig struct {
	BaseURL     string `yaml:"base_url"`
	ServerToken string `yaml:"server_token"`
	From        string `yaml:"from"`
}

type WebhookProviderConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RecipientConfig is a static recipient entry used when recipients are not stored in postgres.
type RecipientConfig struct {
	OrganizationID string `yaml:"organization_id"`
	SiteID         string `yaml:"site_id"`
	Channel        string `yaml:"channel"`
	Address        string `yaml:"address"`
	MinSeverity    string `yaml:"min_severity"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{MaxOpenConns: 20, MaxIdleConns: 5},
		Ingest:   IngestConfig{MaxSkew: 5 * time.Minute},
		Gateway: GatewayConfig{
			Fanout:       FanoutLocal,
			Channel:      "freshtrack.broadcast",
			ClientBuffer: 32,
			Revocation:   "memory",
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS:  NATSConfig{URL: "nats://localhost:4222"},
		Events: EventsConfig{
			Queue:          QueuePostgres,
			Shards:         8,
			Buffer:         1024,
			MaxRetries:     3,
			RetryBackoff:   200 * time.Millisecond,
			OutboxInterval: time.Second,
			OutboxBatch:    100,
		},
		Kafka: KafkaConfig{Topic: "freshtrack.alert-events", GroupID: "freshtrack-notifications"},
		Notifications: NotificationsConfig{
			Workers:         4,
			Batch:           50,
			PollInterval:    2 * time.Second,
			MaxAttempts:     5,
			BaseBackoff:     5 * time.Second,
			MaxBackoff:      5 * time.Minute,
			ProviderTimeout: 10 * time.Second,
			Lease:           time.Minute,
			Recipients:      "postgres",
		},
		Providers: ProvidersConfig{
			SMS:   SMSProviderConfig{BaseURL: "https://api.twilio.com"},
			Email: EmailProviderConfig{BaseURL: "https://api.postmarkapp.com"},
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads an optional YAML file and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("FRESHTRACK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getenvDefault("FRESHTRACK_HTTP_ADDR", getenvDefault("HTTP_ADDR", cfg.HTTP.Addr))
	cfg.Database.URL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.Database.URL))
	cfg.Auth.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.Auth.JWTSecret))
	cfg.Ingest.HMACSecret = getenvDefault("INGEST_HMAC_SECRET", cfg.Ingest.HMACSecret)
	cfg.Ingest.MaxSkew = getenvDuration("INGEST_MAX_SKEW", cfg.Ingest.MaxSkew)

	cfg.Gateway.Fanout = getenvDefault("FRESHTRACK_FANOUT", cfg.Gateway.Fanout)
	cfg.Gateway.Revocation = getenvDefault("FRESHTRACK_REVOCATION", cfg.Gateway.Revocation)
	cfg.Redis.Addr = getenvDefault("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getenvDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getenvIntDefault("REDIS_DB", cfg.Redis.DB)
	cfg.NATS.URL = getenvDefault("NATS_URL", cfg.NATS.URL)

	cfg.Events.Queue = getenvDefault("FRESHTRACK_QUEUE", cfg.Events.Queue)
	if brokers := splitCSV(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Kafka.Brokers = brokers
	}
	cfg.Kafka.Topic = getenvDefault("KAFKA_TOPIC", cfg.Kafka.Topic)

	cfg.Notifications.Workers = getenvIntDefault("NOTIFY_WORKERS", cfg.Notifications.Workers)
	cfg.Notifications.MaxAttempts = getenvIntDefault("NOTIFY_MAX_ATTEMPTS", cfg.Notifications.MaxAttempts)
	cfg.Notifications.ProviderTimeout = getenvDuration("NOTIFY_PROVIDER_TIMEOUT", cfg.Notifications.ProviderTimeout)
	cfg.Notifications.ReminderAfter = getenvDuration("NOTIFY_REMINDER_AFTER", cfg.Notifications.ReminderAfter)

	cfg.Providers.SMS.AccountSID = getenvDefault("SMS_ACCOUNT_SID", cfg.Providers.SMS.AccountSID)
	cfg.Providers.SMS.AuthToken = getenvDefault("SMS_AUTH_TOKEN", cfg.Providers.SMS.AuthToken)
	cfg.Providers.SMS.From = getenvDefault("SMS_FROM", cfg.Providers.SMS.From)
	cfg.Providers.Email.ServerToken = getenvDefault("EMAIL_SERVER_TOKEN", cfg.Providers.Email.ServerToken)
	cfg.Providers.Email.From = getenvDefault("EMAIL_FROM", cfg.Providers.Email.From)

	cfg.Log.Level = getenvDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getenvDefault("LOG_FORMAT", cfg.Log.Format)
}

// Validate rejects configurations that cannot run.
func (c Config) Validate() error {
	switch c.Gateway.Fanout {
	case FanoutLocal, FanoutNATS:
	case FanoutRedis:
		if c.Redis.Addr == "" {
			return errors.New("config: redis fan-out requires redis.addr")
		}
	default:
		return fmt.Errorf("config: unknown gateway fan-out %q", c.Gateway.Fanout)
	}
	switch c.Events.Queue {
	case QueuePostgres, QueueMemory:
	case QueueKafka:
		if len(c.Kafka.Brokers) == 0 {
			return errors.New("config: kafka queue requires kafka.brokers")
		}
		if c.Kafka.Topic == "" {
			return errors.New("config: kafka queue requires kafka.topic")
		}
	default:
		return fmt.Errorf("config: unknown events queue %q", c.Events.Queue)
	}
	if c.Notifications.MaxAttempts <= 0 {
		return errors.New("config: notifications.max_attempts must be positive")
	}
	if c.Notifications.BaseBackoff <= 0 || c.Notifications.MaxBackoff < c.Notifications.BaseBackoff {
		return errors.New("config: notifications backoff must satisfy 0 < base <= max")
	}
	if c.Notifications.ProviderTimeout <= 0 {
		return errors.New("config: notifications.provider_timeout must be positive")
	}
	if c.Gateway.ClientBuffer <= 0 {
		return errors.New("config: gateway.client_buffer must be positive")
	}
	return nil
}

// RequiresDatabase reports whether the configuration needs postgres.
func (c Config) RequiresDatabase() bool {
	return c.Events.Queue == QueuePostgres || c.Notifications.Recipients == "postgres"
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
