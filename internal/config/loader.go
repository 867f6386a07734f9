package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

var envPlaceholder = regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)

// Load reads configs/config.yaml, the APP_ENV overlay and the environment.
// CONFIG_DIR overrides the directory.
func Load() (*Config, error) {
	dir := os.Getenv("CONFIG_DIR")
	if dir == "" {
		dir = "configs"
	}
	return LoadFrom(dir)
}

// LoadFrom loads configuration from dir. Precedence: env vars, env overlay,
// base file, defaults.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), true); err != nil {
		return nil, err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := loadConfigFile(v, filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env)), true); err != nil {
		return nil, err
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// loadConfigFile expands ${VAR:default} placeholders and merges the file into v.
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := v.MergeConfig(strings.NewReader(expandEnv(string(content)))); err != nil {
		return fmt.Errorf("failed to merge config %s: %w", path, err)
	}
	return nil
}

// expandEnv replaces ${VAR} and ${VAR:default}. Unset variables without a
// default are left as written.
func expandEnv(s string) string {
	return envPlaceholder.ReplaceAllStringFunc(s, func(match string) string {
		sub := envPlaceholder.FindStringSubmatch(match)
		if val, ok := os.LookupEnv(sub[1]); ok {
			return val
		}
		if sub[2] != "" {
			return sub[3]
		}
		return match
	})
}

// MustLoad panics when configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "bookviz-api")
	v.SetDefault("app.version", "v0.0.0")
	v.SetDefault("app.env", "development")

	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "0s")
	v.SetDefault("server.http.idle_timeout", "120s")
	v.SetDefault("server.http.shutdown_timeout", "30s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "bookviz")
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 50)
	v.SetDefault("database.postgres.max_idle_conns", 10)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")
	v.SetDefault("database.postgres.auto_migrate", true)

	v.SetDefault("catalog.query_timeout", "5s")

	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 100)
	v.SetDefault("cache.redis.min_idle_conns", 10)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("cache.job_ttl.active", "15s")
	v.SetDefault("cache.job_ttl.terminal", "24h")

	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.key", "viz:queue")
	v.SetDefault("queue.avg_processing_time", "45s")
	v.SetDefault("queue.provider_result_ttl", "1h")
	v.SetDefault("queue.provider_result_key_root", "viz:provider:result")

	v.SetDefault("worker.embedded", false)
	v.SetDefault("worker.concurrency", 0)
	v.SetDefault("worker.poll_interval", "500ms")
	v.SetDefault("worker.job_timeout", "10m")
	v.SetDefault("worker.status_poll", "3s")
	v.SetDefault("worker.stuck_after", "20m")
	v.SetDefault("worker.stuck_scan", "1m")
	v.SetDefault("worker.recover_batch", 500)

	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.priority_boost", 5)
	v.SetDefault("retry.auto_retry", true)
	v.SetDefault("retry.backoff.initial", "5s")
	v.SetDefault("retry.backoff.max", "2m")
	v.SetDefault("retry.backoff.multiplier", 2.0)
	v.SetDefault("retry.backoff.jitter", 0.2)

	v.SetDefault("providers.fallback_chain", []string{"DallE3", "StableDiffusion", "Imagen"})
	v.SetDefault("providers.breaker.max_requests", 1)
	v.SetDefault("providers.breaker.interval", "60s")
	v.SetDefault("providers.breaker.timeout", "30s")
	v.SetDefault("providers.breaker.min_requests", 5)
	v.SetDefault("providers.breaker.failure_ratio", 0.6)

	v.SetDefault("prompt.timeout", "30s")
	v.SetDefault("prompt.default_style", "detailed book illustration")

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.prefix", "visualizations")
	v.SetDefault("storage.max_bytes", 20<<20)
	v.SetDefault("storage.s3.bucket", "visualizations")
	v.SetDefault("storage.filesystem.root", "./data/images")
	v.SetDefault("storage.filesystem.public_base_url", "http://localhost:8080/static/images")

	v.SetDefault("notification.backend", "redis")
	v.SetDefault("notification.channel_prefix", "viz:events")
	v.SetDefault("notification.publish_timeout", "2s")
	v.SetDefault("notification.heartbeat", "25s")

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.output", "stdout")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	v.SetDefault("security.jwt.enabled", true)
	v.SetDefault("security.jwt.dev_user_id", "dev-user")
	v.SetDefault("security.jwt.issuer", "bookviz")
	v.SetDefault("security.jwt.expiration", "24h")
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.limit", 30)
	v.SetDefault("security.rate_limit.window", "1m")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})
	v.SetDefault("security.cors.max_age", 43200)
}
