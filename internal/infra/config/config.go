package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"staybook/internal/domain/cancellation"
)

const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"

	DispatcherInline = "inline"
	DispatcherAsynq  = "asynq"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env         string   `envconfig:"APP_ENV" default:"dev"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS" default:"*"`
	Storage     string   `envconfig:"STORAGE" default:"memory"`

	MongoURI string `envconfig:"MONGO_URI"`
	MongoDB  string `envconfig:"MONGO_DB" default:"staybook"`

	KafkaBrokers       []string      `envconfig:"KAFKA_BROKERS"`
	KafkaTopicPrefix   string        `envconfig:"KAFKA_TOPIC_PREFIX"`
	KafkaWebhookTopic  string        `envconfig:"KAFKA_WEBHOOK_TOPIC" default:"payments.webhooks.v1"`
	KafkaConsumerGroup string        `envconfig:"KAFKA_CONSUMER_GROUP" default:"staybook-webhooks"`
	OutboxPollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	IdempotencyTTL time.Duration `envconfig:"IDEMP_TTL" default:"168h"`
	HoldTTL        time.Duration `envconfig:"HOLD_TTL" default:"15m"`
	ReaperInterval time.Duration `envconfig:"REAPER_INTERVAL" default:"30s"`
	ReaperBatch    int           `envconfig:"REAPER_BATCH" default:"100"`

	RetryBackoff           []time.Duration `envconfig:"RETRY_BACKOFF" default:"1s,5s,30s"`
	RefundMaxAttempts      int             `envconfig:"REFUND_MAX_ATTEMPTS" default:"5"`
	RefundDispatcher       string          `envconfig:"REFUND_DISPATCHER" default:"inline"`
	RefundProviderURL      string          `envconfig:"REFUND_PROVIDER_URL"`
	RefundProviderTimeout  time.Duration   `envconfig:"REFUND_PROVIDER_TIMEOUT" default:"5s"`
	RefundBreakerThreshold int64           `envconfig:"REFUND_BREAKER_THRESHOLD" default:"5"`
	RefundSweepInterval    time.Duration   `envconfig:"REFUND_SWEEP_INTERVAL" default:"1m"`
	RefundSweepIdle        time.Duration   `envconfig:"REFUND_SWEEP_IDLE" default:"10m"`

	WebhookSecrets         map[string]string `envconfig:"WEBHOOK_SECRETS"`
	WebhookSignatureHeader string            `envconfig:"WEBHOOK_SIGNATURE_HEADER" default:"X-Signature"`
	ReturnResultURL        string            `envconfig:"RETURN_RESULT_URL" default:"/booking/result"`

	CancellationPolicies Policies `envconfig:"CANCELLATION_POLICIES"`
	DefaultPolicy        string   `envconfig:"DEFAULT_CANCELLATION_POLICY" default:"flexible"`
	PropertyFixtures     string   `envconfig:"PROPERTY_FIXTURES"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" default:"minioadmin"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" default:"minioadmin"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"staybook-audit"`
	S3UseSSL    bool   `envconfig:"S3_USE_SSL" default:"false"`
}

// Load parses configuration from the current environment.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	cfg.RefundDispatcher = strings.ToLower(strings.TrimSpace(cfg.RefundDispatcher))
	if len(cfg.CancellationPolicies) == 0 {
		cfg.CancellationPolicies = DefaultPolicies()
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required when STORAGE=%s", StorageMongo)
		}
	default:
		return fmt.Errorf("invalid STORAGE %q", c.Storage)
	}
	switch c.RefundDispatcher {
	case DispatcherInline:
	case DispatcherAsynq:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when REFUND_DISPATCHER=%s", DispatcherAsynq)
		}
	default:
		return fmt.Errorf("invalid REFUND_DISPATCHER %q", c.RefundDispatcher)
	}
	if c.HoldTTL <= 0 {
		return fmt.Errorf("HOLD_TTL must be positive")
	}
	if c.RefundMaxAttempts < 1 {
		return fmt.Errorf("REFUND_MAX_ATTEMPTS must be at least 1")
	}
	for _, d := range c.RetryBackoff {
		if d <= 0 {
			return fmt.Errorf("invalid RETRY_BACKOFF component %s", d)
		}
	}
	if longest := c.longestRetryDelay(); c.RefundSweepIdle <= longest {
		return fmt.Errorf("REFUND_SWEEP_IDLE must exceed the longest retry delay %s", longest)
	}
	return nil
}

// longestRetryDelay is the wait before the last refund attempt.
func (c Config) longestRetryDelay() time.Duration {
	var d time.Duration
	for i := 1; i < c.RefundMaxAttempts && len(c.RetryBackoff) > 0; i++ {
		if i <= len(c.RetryBackoff) {
			d = c.RetryBackoff[i-1]
		} else {
			d *= 2
		}
	}
	return d
}

// PolicyBook builds the live cancellation policy book.
func (c Config) PolicyBook() (*cancellation.Book, error) {
	return cancellation.NewBook(c.DefaultPolicy, c.CancellationPolicies...)
}

// Policies decodes CANCELLATION_POLICIES, a JSON array of policies.
type Policies []cancellation.Policy

func (p *Policies) Decode(value string) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var out []cancellation.Policy
	if err := json.Unmarshal([]byte(value), &out); err != nil {
		return fmt.Errorf("decode cancellation policies: %w", err)
	}
	*p = out
	return nil
}

func DefaultPolicies() Policies {
	return Policies{
		{ID: "flexible", Windows: []cancellation.Window{{MinHoursBefore: 72, RefundPercent: 100}, {MinHoursBefore: 24, RefundPercent: 50}}},
		{ID: "moderate", Windows: []cancellation.Window{{MinHoursBefore: 120, RefundPercent: 100}, {MinHoursBefore: 48, RefundPercent: 50}}},
		{ID: "strict", Windows: []cancellation.Window{{MinHoursBefore: 336, RefundPercent: 50}}},
	}
}
