package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("BOOKVIZ_TEST_HOST", "db.internal")

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "set variable", in: "host: ${BOOKVIZ_TEST_HOST}", want: "host: db.internal"},
		{name: "set variable ignores default", in: "host: ${BOOKVIZ_TEST_HOST:localhost}", want: "host: db.internal"},
		{name: "default used", in: "port: ${BOOKVIZ_TEST_UNSET:5432}", want: "port: 5432"},
		{name: "empty default", in: "key: ${BOOKVIZ_TEST_UNSET:}", want: "key: "},
		{name: "unset without default kept", in: "key: ${BOOKVIZ_TEST_UNSET}", want: "key: ${BOOKVIZ_TEST_UNSET}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, expandEnv(tc.in))
		})
	}
}

func TestLoadFrom(t *testing.T) {
	dir := t.TempDir()
	base := `
retry:
  max_retries: ${BOOKVIZ_TEST_RETRIES:4}
queue:
  avg_processing_time: 30s
providers:
  items:
    DallE3:
      api_key: sk-test
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(base), 0o600))
	overlay := `
queue:
  backend: memory
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.staging.yaml"), []byte(overlay), 0o600))
	t.Setenv("APP_ENV", "staging")

	cfg, err := LoadFrom(dir)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Retry.MaxRetries)
	assert.Equal(t, 5, cfg.Retry.PriorityBoost)
	assert.Equal(t, 30*time.Second, cfg.Queue.AvgProcessingTime)
	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, 15*time.Second, cfg.Cache.JobTTL.Active)
	assert.Equal(t, 24*time.Hour, cfg.Cache.JobTTL.Terminal)
	assert.Equal(t, "sk-test", cfg.Providers.Items["dalle3"].APIKey)
	assert.Equal(t, []string{"DallE3", "StableDiffusion", "Imagen"}, cfg.Providers.FallbackChain)
}

func TestLoadFromMissingDirUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, "bookviz-api", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.HTTP.Port)
}

func TestWorkerEffectiveConcurrency(t *testing.T) {
	assert.Equal(t, 7, WorkerConfig{Concurrency: 7}.EffectiveConcurrency())
	assert.Positive(t, WorkerConfig{}.EffectiveConcurrency())
}
