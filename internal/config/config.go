// Package config loads and validates the media registry configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the MREG_ prefix (e.g., MREG_SERVER_PORT
// overrides server.port in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments — no recompilation or different binaries needed.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Download  DownloadConfig  `mapstructure:"download"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (s *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds blob storage backend configuration
type StorageConfig struct {
	DefaultBackend string             `mapstructure:"default_backend"`
	CDN            CDNStorageConfig   `mapstructure:"cdn"`
	S3             S3StorageConfig    `mapstructure:"s3"`
	GCS            GCSStorageConfig   `mapstructure:"gcs"`
	Azure          AzureStorageConfig `mapstructure:"azure"`
	Local          LocalStorageConfig `mapstructure:"local"`
}

// CDNStorageConfig holds configuration for the managed media CDN backend.
// The CDN addresses every asset by (resource type, object id) and requires a
// request signature computed from the account's API secret.
type CDNStorageConfig struct {
	// CloudName is the account identifier embedded in delivery URLs
	CloudName string `mapstructure:"cloud_name"`
	// APIKey identifies the account on the admin and upload APIs
	APIKey string `mapstructure:"api_key"`
	// APISecret signs admin requests and download URLs
	APISecret string `mapstructure:"api_secret"`
	// APIHost is the admin/upload API host (default api.mediacdn.example)
	APIHost string `mapstructure:"api_host"`
	// DeliveryHost is the host used in delivery URLs (default res.mediacdn.example)
	DeliveryHost string `mapstructure:"delivery_host"`
	// Secure selects https delivery URLs by default
	Secure bool `mapstructure:"secure"`
	// ConnectTimeout bounds TCP connection establishment to the CDN API
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// ReadTimeout bounds a single request/response round trip
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
}

// S3StorageConfig holds S3-compatible storage configuration
type S3StorageConfig struct {
	// Endpoint is the S3-compatible endpoint URL (optional, for MinIO etc.)
	Endpoint string `mapstructure:"endpoint"`
	// Region is the AWS region
	Region string `mapstructure:"region"`
	// Bucket is the S3 bucket name
	Bucket string `mapstructure:"bucket"`

	// Authentication method: "default", "static", "assume_role"
	// - "default": AWS default credential chain (env vars, shared config, IAM role)
	// - "static": explicit access key and secret key
	// - "assume_role": assume an IAM role (optionally with external ID)
	AuthMethod string `mapstructure:"auth_method"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	RoleARN         string `mapstructure:"role_arn"`
	RoleSessionName string `mapstructure:"role_session_name"`
	ExternalID      string `mapstructure:"external_id"`
}

// GCSStorageConfig holds Google Cloud Storage configuration
type GCSStorageConfig struct {
	Bucket string `mapstructure:"bucket"`

	// Authentication method: "default" (ADC) or "service_account"
	AuthMethod string `mapstructure:"auth_method"`

	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`

	// Endpoint is an optional custom endpoint (for GCS emulators)
	Endpoint string `mapstructure:"endpoint"`
}

// AzureStorageConfig holds Azure Blob Storage configuration
type AzureStorageConfig struct {
	AccountName   string `mapstructure:"account_name"`
	AccountKey    string `mapstructure:"account_key"`
	ContainerName string `mapstructure:"container_name"`
}

// LocalStorageConfig holds local filesystem storage configuration
type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// CacheConfig holds resource-type cache configuration.
//
// The type cache is a pure performance hint: it records the last confirmed
// resource type per object id and is rebuilt from cold on restart. The
// "redis" backend shares discoveries across instances; "memory" (default)
// is process-local.
type CacheConfig struct {
	// Backend selects the cache implementation: "memory" or "redis"
	Backend string `mapstructure:"backend"`
	// TTL is how long a cached type discovery stays valid
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings, shared by the redis type cache
// and the redis-backed rate limiter.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DownloadConfig holds the bounded download pool configuration
type DownloadConfig struct {
	// Workers is the fixed worker pool size
	Workers int `mapstructure:"workers"`
	// QueueSize is the pending-task queue capacity; a full queue exerts
	// backpressure on callers up to the overall ceiling
	QueueSize int `mapstructure:"queue_size"`
	// Ceiling is the maximum time a caller blocks on a single download
	Ceiling time.Duration `mapstructure:"ceiling"`
	// ShutdownGrace bounds pool draining on shutdown before giving up
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
	// UseRedis selects the Redis-backed limiter (requires cache.redis.address)
	// so limits apply across all instances rather than per process
	UseRedis bool `mapstructure:"use_redis"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested
// structs during Unmarshal. viper.BindEnv only errors when called with zero
// keys; since every key here is a non-empty hardcoded string, any error
// indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// Storage
		"storage.default_backend",
		"storage.cdn.cloud_name",
		"storage.cdn.api_key",
		"storage.cdn.api_secret",
		"storage.cdn.api_host",
		"storage.cdn.delivery_host",
		"storage.cdn.secure",
		"storage.cdn.connect_timeout",
		"storage.cdn.read_timeout",
		"storage.s3.endpoint",
		"storage.s3.region",
		"storage.s3.bucket",
		"storage.s3.auth_method",
		"storage.s3.access_key_id",
		"storage.s3.secret_access_key",
		"storage.s3.role_arn",
		"storage.s3.role_session_name",
		"storage.s3.external_id",
		"storage.gcs.bucket",
		"storage.gcs.auth_method",
		"storage.gcs.credentials_file",
		"storage.gcs.credentials_json",
		"storage.gcs.endpoint",
		"storage.azure.account_name",
		"storage.azure.account_key",
		"storage.azure.container_name",
		"storage.local.base_path",

		// Cache
		"cache.backend",
		"cache.ttl",
		"cache.redis.address",
		"cache.redis.password",
		"cache.redis.db",

		// Download pool
		"download.workers",
		"download.queue_size",
		"download.ceiling",
		"download.shutdown_grace",

		// Security
		"security.rate_limiting.enabled",
		"security.rate_limiting.requests_per_minute",
		"security.rate_limiting.burst",
		"security.rate_limiting.use_redis",

		// Logging
		"logging.level",
		"logging.format",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/media-registry")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("MREG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in sensitive fields so secrets can be injected
	// by infrastructure tooling without appearing in the config file.
	cfg.Storage.CDN.APIKey = os.ExpandEnv(cfg.Storage.CDN.APIKey)
	cfg.Storage.CDN.APISecret = os.ExpandEnv(cfg.Storage.CDN.APISecret)
	cfg.Storage.S3.AccessKeyID = os.ExpandEnv(cfg.Storage.S3.AccessKeyID)
	cfg.Storage.S3.SecretAccessKey = os.ExpandEnv(cfg.Storage.S3.SecretAccessKey)
	cfg.Storage.Azure.AccountKey = os.ExpandEnv(cfg.Storage.Azure.AccountKey)
	cfg.Cache.Redis.Password = os.ExpandEnv(cfg.Cache.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// Storage defaults
	v.SetDefault("storage.default_backend", "local")
	v.SetDefault("storage.local.base_path", "./storage")
	v.SetDefault("storage.cdn.api_host", "api.mediacdn.example")
	v.SetDefault("storage.cdn.delivery_host", "res.mediacdn.example")
	v.SetDefault("storage.cdn.secure", true)
	v.SetDefault("storage.cdn.connect_timeout", "10s")
	v.SetDefault("storage.cdn.read_timeout", "30s")

	// Cache defaults
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.redis.db", 0)

	// Download pool defaults
	v.SetDefault("download.workers", 10)
	v.SetDefault("download.queue_size", 100)
	v.SetDefault("download.ceiling", "2m")
	v.SetDefault("download.shutdown_grace", "60s")

	// Security defaults
	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.requests_per_minute", 120)
	v.SetDefault("security.rate_limiting.burst", 20)
	v.SetDefault("security.rate_limiting.use_redis", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "media-registry")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	validBackends := map[string]bool{"cdn": true, "s3": true, "gcs": true, "azure": true, "local": true}
	if !validBackends[c.Storage.DefaultBackend] {
		return fmt.Errorf("invalid storage backend: %s (must be cdn, s3, gcs, azure, or local)", c.Storage.DefaultBackend)
	}

	switch c.Storage.DefaultBackend {
	case "cdn":
		if c.Storage.CDN.CloudName == "" {
			return fmt.Errorf("storage.cdn.cloud_name is required when using the CDN backend")
		}
		if c.Storage.CDN.APIKey == "" {
			return fmt.Errorf("storage.cdn.api_key is required when using the CDN backend")
		}
		if c.Storage.CDN.APISecret == "" {
			return fmt.Errorf("storage.cdn.api_secret is required when using the CDN backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when using S3 backend")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when using S3 backend")
		}
	case "gcs":
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required when using GCS backend")
		}
	case "azure":
		if c.Storage.Azure.AccountName == "" {
			return fmt.Errorf("storage.azure.account_name is required when using Azure backend")
		}
		if c.Storage.Azure.AccountKey == "" {
			return fmt.Errorf("storage.azure.account_key is required when using Azure backend")
		}
		if c.Storage.Azure.ContainerName == "" {
			return fmt.Errorf("storage.azure.container_name is required when using Azure backend")
		}
	case "local":
		if c.Storage.Local.BasePath == "" {
			return fmt.Errorf("storage.local.base_path is required when using local backend")
		}
	}

	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("invalid cache backend: %s (must be memory or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Address == "" {
		return fmt.Errorf("cache.redis.address is required when using the redis cache backend")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.Download.Workers < 1 {
		return fmt.Errorf("download.workers must be at least 1")
	}
	if c.Download.Ceiling <= 0 {
		return fmt.Errorf("download.ceiling must be positive")
	}

	if c.Security.RateLimiting.UseRedis && c.Cache.Redis.Address == "" {
		return fmt.Errorf("cache.redis.address is required when security.rate_limiting.use_redis is set")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
