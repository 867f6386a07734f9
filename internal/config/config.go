// Package config holds the typed configuration tree and its loader.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// Config is the root configuration.
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Catalog       CatalogConfig       `yaml:"catalog" mapstructure:"catalog"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Queue         QueueConfig         `yaml:"queue" mapstructure:"queue"`
	Worker        WorkerConfig        `yaml:"worker" mapstructure:"worker"`
	Retry         RetryConfig         `yaml:"retry" mapstructure:"retry"`
	Providers     ProvidersConfig     `yaml:"providers" mapstructure:"providers"`
	Prompt        PromptConfig        `yaml:"prompt" mapstructure:"prompt"`
	Storage       StorageConfig       `yaml:"storage" mapstructure:"storage"`
	Notification  NotificationConfig  `yaml:"notification" mapstructure:"notification"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
}

type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

type HTTPServerConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// Addr returns host:port.
func (c HTTPServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the job store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" mapstructure:"auto_migrate"`
}

// DSN builds a libpq connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// CatalogConfig points at the book catalog database. An empty DSN disables it.
type CatalogConfig struct {
	DSN          string        `yaml:"dsn" mapstructure:"dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

type CacheConfig struct {
	Redis  RedisConfig    `yaml:"redis" mapstructure:"redis"`
	JobTTL JobCacheConfig `yaml:"job_ttl" mapstructure:"job_ttl"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JobCacheConfig holds the result cache TTLs.
type JobCacheConfig struct {
	Active   time.Duration `yaml:"active" mapstructure:"active"`
	Terminal time.Duration `yaml:"terminal" mapstructure:"terminal"`
}

// QueueConfig selects the priority queue backend ("memory" or "redis").
type QueueConfig struct {
	Backend               string        `yaml:"backend" mapstructure:"backend"`
	Key                   string        `yaml:"key" mapstructure:"key"`
	AvgProcessingTime     time.Duration `yaml:"avg_processing_time" mapstructure:"avg_processing_time"`
	ProviderResultTTL     time.Duration `yaml:"provider_result_ttl" mapstructure:"provider_result_ttl"`
	ProviderResultKeyRoot string        `yaml:"provider_result_key_root" mapstructure:"provider_result_key_root"`
}

type WorkerConfig struct {
	Embedded     bool          `yaml:"embedded" mapstructure:"embedded"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	JobTimeout   time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
	StatusPoll   time.Duration `yaml:"status_poll" mapstructure:"status_poll"`
	StuckAfter   time.Duration `yaml:"stuck_after" mapstructure:"stuck_after"`
	StuckScan    time.Duration `yaml:"stuck_scan" mapstructure:"stuck_scan"`
	RecoverBatch int           `yaml:"recover_batch" mapstructure:"recover_batch"`
}

// EffectiveConcurrency resolves a non-positive concurrency to the CPU count.
func (c WorkerConfig) EffectiveConcurrency() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return runtime.NumCPU()
}

type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries" mapstructure:"max_retries"`
	PriorityBoost int           `yaml:"priority_boost" mapstructure:"priority_boost"`
	AutoRetry     bool          `yaml:"auto_retry" mapstructure:"auto_retry"`
	Backoff       BackoffConfig `yaml:"backoff" mapstructure:"backoff"`
}

type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial" mapstructure:"initial"`
	Max        time.Duration `yaml:"max" mapstructure:"max"`
	Multiplier float64       `yaml:"multiplier" mapstructure:"multiplier"`
	Jitter     float64       `yaml:"jitter" mapstructure:"jitter"`
}

// ProvidersConfig configures image generation backends keyed by provider name.
type ProvidersConfig struct {
	Items         map[string]ProviderConfig `yaml:"items" mapstructure:"items"`
	FallbackChain []string                  `yaml:"fallback_chain" mapstructure:"fallback_chain"`
	Breaker       BreakerConfig             `yaml:"breaker" mapstructure:"breaker"`
}

type ProviderConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	APIKey  string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string        `yaml:"base_url" mapstructure:"base_url"`
	Model   string        `yaml:"model" mapstructure:"model"`
	Version string        `yaml:"version" mapstructure:"version"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `yaml:"max_requests" mapstructure:"max_requests"`
	Interval     time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MinRequests  uint32        `yaml:"min_requests" mapstructure:"min_requests"`
	FailureRatio float64       `yaml:"failure_ratio" mapstructure:"failure_ratio"`
}

// PromptConfig configures the prompt enhancement step.
type PromptConfig struct {
	Provider     string                       `yaml:"provider" mapstructure:"provider"`
	Timeout      time.Duration                `yaml:"timeout" mapstructure:"timeout"`
	DefaultStyle string                       `yaml:"default_style" mapstructure:"default_style"`
	LLM          map[string]LLMProviderConfig `yaml:"llm" mapstructure:"llm"`
}

type LLMProviderConfig struct {
	APIKey      string        `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string        `yaml:"base_url" mapstructure:"base_url"`
	Model       string        `yaml:"model" mapstructure:"model"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64       `yaml:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StorageConfig selects the image store ("supabase", "s3" or "filesystem").
type StorageConfig struct {
	Backend    string                  `yaml:"backend" mapstructure:"backend"`
	Supabase   SupabaseStorageConfig   `yaml:"supabase" mapstructure:"supabase"`
	S3         S3StorageConfig         `yaml:"s3" mapstructure:"s3"`
	Filesystem FilesystemStorageConfig `yaml:"filesystem" mapstructure:"filesystem"`
	Prefix     string                  `yaml:"prefix" mapstructure:"prefix"`
	MaxBytes   int64                   `yaml:"max_bytes" mapstructure:"max_bytes"`
}

type SupabaseStorageConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	ServiceKey string `yaml:"service_key" mapstructure:"service_key"`
	Bucket     string `yaml:"bucket" mapstructure:"bucket"`
}

// S3StorageConfig targets any S3 compatible endpoint such as MinIO.
type S3StorageConfig struct {
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	Bucket        string `yaml:"bucket" mapstructure:"bucket"`
	UseSSL        bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

type FilesystemStorageConfig struct {
	Root          string `yaml:"root" mapstructure:"root"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
}

// NotificationConfig selects the event transport ("redis" or "memory").
type NotificationConfig struct {
	Backend        string        `yaml:"backend" mapstructure:"backend"`
	ChannelPrefix  string        `yaml:"channel_prefix" mapstructure:"channel_prefix"`
	PublishTimeout time.Duration `yaml:"publish_timeout" mapstructure:"publish_timeout"`
	Heartbeat      time.Duration `yaml:"heartbeat" mapstructure:"heartbeat"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	Output string `yaml:"output" mapstructure:"output"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" mapstructure:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig configures bearer authentication. With Enabled false the caller is
// taken from X-User-ID or DevUserID.
type JWTConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	DevUserID  string        `yaml:"dev_user_id" mapstructure:"dev_user_id"`
	Secret     string        `yaml:"secret" mapstructure:"secret"`
	Issuer     string        `yaml:"issuer" mapstructure:"issuer"`
	Expiration time.Duration `yaml:"expiration" mapstructure:"expiration"`
}

// RateLimitConfig bounds job creation per user.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	Limit   int           `yaml:"limit" mapstructure:"limit"`
	Window  time.Duration `yaml:"window" mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" mapstructure:"max_age"`
}
