package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. REMINDER_DATABASE_PASSWORD.
const EnvPrefix = "REMINDER"

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	AWS       AWSConfig       `yaml:"aws"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
	APNs      APNsConfig      `yaml:"apns"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Billing   BillingConfig   `yaml:"billing"`
	Media     MediaConfig     `yaml:"media"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// AWSConfig holds blob storage configuration
type AWSConfig struct {
	Region    string `yaml:"region"`
	S3Bucket  string `yaml:"s3_bucket" envconfig:"S3_BUCKET"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
	Endpoint  string `yaml:"endpoint"` // S3-compatible endpoint, path-style addressing when set
	// PublicBaseURL overrides the URL prefix attachments are served from (CDN, public bucket).
	PublicBaseURL string `yaml:"public_base_url" envconfig:"PUBLIC_BASE_URL"`
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// APNsConfig holds Apple push configuration. Push is disabled when KeyFile is empty.
type APNsConfig struct {
	KeyFile    string `yaml:"key_file" envconfig:"KEY_FILE"`
	KeyID      string `yaml:"key_id" envconfig:"KEY_ID"`
	TeamID     string `yaml:"team_id" envconfig:"TEAM_ID"`
	Topic      string `yaml:"topic"`
	Production bool   `yaml:"production"`
}

// SchedulerConfig holds trigger scheduling configuration
type SchedulerConfig struct {
	RearmTimeout    time.Duration `yaml:"rearm_timeout" envconfig:"REARM_TIMEOUT"`
	EventBuffer     int           `yaml:"event_buffer" envconfig:"EVENT_BUFFER"`
	DeliveryWorkers int           `yaml:"delivery_workers" envconfig:"DELIVERY_WORKERS"`
}

// BillingConfig holds billing webhook configuration
type BillingConfig struct {
	WebhookSecret string        `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	Tolerance     time.Duration `yaml:"tolerance"`
}

// MediaConfig holds attachment limits
type MediaConfig struct {
	MaxUploadBytes int64 `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
}

// Load reads configuration from a YAML file and applies environment overrides
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case os.IsNotExist(err):
		// environment-only configuration
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Scheduler.RearmTimeout == 0 {
		c.Scheduler.RearmTimeout = 10 * time.Second
	}
	if c.Scheduler.EventBuffer == 0 {
		c.Scheduler.EventBuffer = 256
	}
	if c.Scheduler.DeliveryWorkers == 0 {
		c.Scheduler.DeliveryWorkers = 8
	}
	if c.Billing.Tolerance == 0 {
		c.Billing.Tolerance = 5 * time.Minute
	}
	if c.Media.MaxUploadBytes == 0 {
		c.Media.MaxUploadBytes = 50 << 20
	}
}

// Validate checks the settings the server cannot start without
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	if c.AWS.S3Bucket == "" {
		return fmt.Errorf("aws.s3_bucket is required")
	}
	if c.Media.MaxUploadBytes < 0 {
		return fmt.Errorf("media.max_upload_bytes must not be negative")
	}
	if c.Scheduler.EventBuffer < 0 {
		return fmt.Errorf("scheduler.event_buffer must not be negative")
	}
	if c.Scheduler.DeliveryWorkers < 0 {
		return fmt.Errorf("scheduler.delivery_workers must not be negative")
	}
	if c.APNs.KeyFile != "" && (c.APNs.KeyID == "" || c.APNs.TeamID == "" || c.APNs.Topic == "") {
		return fmt.Errorf("apns.key_id, apns.team_id and apns.topic are required when apns.key_file is set")
	}
	return nil
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}
