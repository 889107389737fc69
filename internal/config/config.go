package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server and worker binaries.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Log         LogConfig         `yaml:"log"`
	Dispatcher  DispatcherConfig  `yaml:"dispatcher"`
	Webhooks    WebhookConfig     `yaml:"webhooks"`
	Transport   TransportConfig   `yaml:"transport"`
	SES         SESConfig         `yaml:"ses"`
	Relay       RelayConfig       `yaml:"relay"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Feedback    FeedbackConfig    `yaml:"feedback"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MetricsPort    int      `yaml:"metrics_port"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the pool connection lifetime.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig is optional; an empty Addr disables the analytics cache and
// makes maintenance locks fall back to PostgreSQL advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// DispatcherConfig tunes the message claim loop.
type DispatcherConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_millis"`
	BatchSize          int `yaml:"batch_size"`
	Concurrency        int `yaml:"concurrency"`
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	MaxAttempts        int `yaml:"max_attempts"`
}

// PollInterval returns the poll interval as a duration
func (c DispatcherConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// SendTimeout returns the per-message transport timeout
func (c DispatcherConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// WebhookConfig tunes the webhook fan-out loop.
type WebhookConfig struct {
	PollIntervalMillis int `yaml:"poll_interval_millis"`
	BatchSize          int `yaml:"batch_size"`
	Concurrency        int `yaml:"concurrency"`
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	FailureThreshold   int `yaml:"failure_threshold"`
}

// PollInterval returns the poll interval as a duration
func (c WebhookConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// Timeout returns the per-request delivery timeout
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TransportConfig selects the delivery transport: "ses", "relay" or "log".
// MaxPerSecond and DailyQuota cap sends across all workers when Redis is
// configured; zero disables the cap.
type TransportConfig struct {
	Type         string `yaml:"type"`
	MaxPerSecond int    `yaml:"max_per_second"`
	DailyQuota   int    `yaml:"daily_quota"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string  `yaml:"region"`
	AccessKey        string  `yaml:"access_key"`
	SecretKey        string  `yaml:"secret_key"`
	ConfigurationSet string  `yaml:"configuration_set"`
	MaxSendRate      float64 `yaml:"max_send_rate"`
}

// RelayConfig points at an HTTP delivery relay.
type RelayConfig struct {
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c RelayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrackingConfig controls open/click tracking links.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
	QueueURL   string `yaml:"queue_url"`
}

// FeedbackConfig is the SQS queue that carries tracking hits and SES event
// notifications back into the event log.
type FeedbackConfig struct {
	QueueURL string `yaml:"queue_url"`
	Region   string `yaml:"region"`
}

// MaintenanceConfig schedules the background sweeps.
type MaintenanceConfig struct {
	SuppressionSweepMinutes int `yaml:"suppression_sweep_minutes"`
	RetentionSweepHours     int `yaml:"retention_sweep_hours"`
	RetentionDays           int `yaml:"retention_days"`
}

// AnalyticsConfig controls the overview cache.
type AnalyticsConfig struct {
	CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
}

// CacheTTL returns the analytics cache TTL
func (c AnalyticsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads and parses the configuration file. A missing file yields the
// defaults so the binaries can run from environment variables alone.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Dispatcher.PollIntervalMillis == 0 {
		cfg.Dispatcher.PollIntervalMillis = 1000
	}
	if cfg.Dispatcher.BatchSize == 0 {
		cfg.Dispatcher.BatchSize = 50
	}
	if cfg.Dispatcher.Concurrency == 0 {
		cfg.Dispatcher.Concurrency = 10
	}
	if cfg.Dispatcher.SendTimeoutSeconds == 0 {
		cfg.Dispatcher.SendTimeoutSeconds = 30
	}
	if cfg.Dispatcher.MaxAttempts == 0 {
		cfg.Dispatcher.MaxAttempts = 5
	}
	if cfg.Webhooks.PollIntervalMillis == 0 {
		cfg.Webhooks.PollIntervalMillis = 2000
	}
	if cfg.Webhooks.BatchSize == 0 {
		cfg.Webhooks.BatchSize = 100
	}
	if cfg.Webhooks.Concurrency == 0 {
		cfg.Webhooks.Concurrency = 10
	}
	if cfg.Webhooks.TimeoutSeconds == 0 {
		cfg.Webhooks.TimeoutSeconds = 10
	}
	if cfg.Webhooks.FailureThreshold == 0 {
		cfg.Webhooks.FailureThreshold = 10
	}
	if cfg.Transport.Type == "" {
		cfg.Transport.Type = "log"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.SES.MaxSendRate == 0 {
		cfg.SES.MaxSendRate = 14
	}
	if cfg.Relay.TimeoutSeconds == 0 {
		cfg.Relay.TimeoutSeconds = 30
	}
	if cfg.Relay.MaxRetries == 0 {
		cfg.Relay.MaxRetries = 2
	}
	if cfg.Feedback.Region == "" {
		cfg.Feedback.Region = cfg.SES.Region
	}
	if cfg.Maintenance.SuppressionSweepMinutes == 0 {
		cfg.Maintenance.SuppressionSweepMinutes = 15
	}
	if cfg.Maintenance.RetentionSweepHours == 0 {
		cfg.Maintenance.RetentionSweepHours = 24
	}
	if cfg.Maintenance.RetentionDays == 0 {
		cfg.Maintenance.RetentionDays = 90
	}
	if cfg.Analytics.CacheTTLSeconds == 0 {
		cfg.Analytics.CacheTTLSeconds = 60
	}
}

// RedactPIIEnabled reports whether log redaction is on (default true).
func (c LogConfig) RedactPIIEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRANSPORT_TYPE"); v != "" {
		cfg.Transport.Type = v
	}
	if v := os.Getenv("TRANSPORT_DAILY_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.DailyQuota = n
		}
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_CONFIGURATION_SET"); v != "" {
		cfg.SES.ConfigurationSet = v
	}
	if v := os.Getenv("RELAY_URL"); v != "" {
		cfg.Relay.URL = v
	}
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		cfg.Relay.APIKey = v
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("SQS_TRACKING_QUEUE_URL"); v != "" {
		cfg.Tracking.QueueURL = v
	}
	if v := os.Getenv("SQS_FEEDBACK_QUEUE_URL"); v != "" {
		cfg.Feedback.QueueURL = v
	}

	return cfg, nil
}
