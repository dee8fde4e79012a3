package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: dpjob-test
transport:
  kind: memory
consumer:
  all_queues:
    concurrency: 4
    install_retry_queue: false
  per_queue_overrides:
    orders:
      parallelism: 3
      region: eu-west-1
  config_feature_flag: dpjob_consumer_config
workers:
  - queue_name: orders
    handler: log_ack
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "dpjob-test", cfg.App.Name)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "none", cfg.Flags.Backend)
	assert.False(t, cfg.HasFlagBackend())

	all := cfg.Consumer.AllQueues
	require.NotNil(t, all.Concurrency)
	assert.Equal(t, 4, *all.Concurrency)
	require.NotNil(t, all.InstallRetryQueue)
	assert.False(t, *all.InstallRetryQueue)
	assert.Nil(t, all.Parallelism)

	orders, ok := cfg.Consumer.PerQueueOverrides["orders"]
	require.True(t, ok)
	require.NotNil(t, orders.Parallelism)
	assert.Equal(t, 3, *orders.Parallelism)
	require.NotNil(t, orders.Region)
	assert.Equal(t, "eu-west-1", *orders.Region)

	assert.Equal(t, "dpjob_consumer_config", cfg.Consumer.ConfigFeatureFlag)
	assert.Equal(t, []string{"orders"}, cfg.QueueNames())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DPJOB_APP_NAME", "from-env")
	t.Setenv("DPJOB_TRANSPORT_KIND", "lmstfy")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.App.Name)
	assert.Equal(t, "lmstfy", cfg.Transport.Kind)
	assert.Error(t, cfg.Validate(), "lmstfy host missing")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:       AppConfig{Name: "dpjob"},
			Transport: TransportConfig{Kind: "sqs"},
			Workers:   []WorkerConfig{{QueueName: "q1", Handler: "log_ack"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"missing app name", func(c *Config) { c.App.Name = "" }},
		{"unknown transport", func(c *Config) { c.Transport.Kind = "kafka" }},
		{"lmstfy without host", func(c *Config) { c.Transport.Kind = "lmstfy" }},
		{"redis without addr", func(c *Config) { c.Flags.Backend = "redis" }},
		{"mysql without dsn", func(c *Config) { c.Flags.Backend = "mysql" }},
		{"unknown flag backend", func(c *Config) { c.Flags.Backend = "etcd" }},
		{"no workers", func(c *Config) { c.Workers = nil }},
		{"worker without handler", func(c *Config) { c.Workers[0].Handler = "" }},
		{"duplicate queue", func(c *Config) { c.Workers = append(c.Workers, c.Workers[0]) }},
	}

	require.NoError(t, valid().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
