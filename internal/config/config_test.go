package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "prmonline.projects", cfg.OplogNamespace)
	assert.Equal(t, "local", cfg.OplogDatabase)
	assert.Equal(t, "oplog.rs", cfg.OplogCollection)
	assert.Equal(t, 2*time.Second, cfg.RestartDelay())
	assert.Equal(t, time.Second, cfg.EmptyPollDelay())
	assert.Equal(t, time.Second, cfg.AwaitTimeout())
	assert.Equal(t, "log", cfg.Sink)
	assert.Equal(t, "oplog.prmonline.projects", cfg.NatsSubject)
	assert.Equal(t, "oplog.prmonline.projects", cfg.KafkaTopic)
	assert.Equal(t, 1.0, cfg.TracingSampleRatio)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tailer.yaml")
	content := []byte(`
mongo_uri: mongodb://file:27017
oplog_namespace: shop.orders
restart_delay_ms: 3000
sink: kafka
kafka_brokers:
  - broker-1:9092
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("MONGO_URI", "mongodb://env:27017")
	t.Setenv("KAFKA_TOPIC", "changes")
	t.Setenv("TRACING_SAMPLE_RATIO", "0.2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://env:27017", cfg.MongoURI)
	assert.Equal(t, "shop.orders", cfg.OplogNamespace)
	assert.Equal(t, 3*time.Second, cfg.RestartDelay())
	assert.Equal(t, []string{"broker-1:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "changes", cfg.KafkaTopic)
	assert.Equal(t, "oplog.shop.orders", cfg.NatsSubject)
	assert.Equal(t, 0.2, cfg.TracingSampleRatio)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "missing uri", mutate: func(c *Config) { c.MongoURI = "" }, wantErr: true},
		{name: "namespace without collection", mutate: func(c *Config) { c.OplogNamespace = "prmonline" }, wantErr: true},
		{name: "namespace with empty db", mutate: func(c *Config) { c.OplogNamespace = ".projects" }, wantErr: true},
		{name: "zero restart delay", mutate: func(c *Config) { c.RestartDelayMs = 0 }, wantErr: true},
		{name: "negative await", mutate: func(c *Config) { c.AwaitTimeoutMs = -1 }, wantErr: true},
		{name: "poll mode", mutate: func(c *Config) { c.AwaitTimeoutMs = 0 }},
		{name: "unknown sink", mutate: func(c *Config) { c.Sink = "redis" }, wantErr: true},
		{name: "nats without url", mutate: func(c *Config) { c.Sink = "nats" }, wantErr: true},
		{name: "nats with url", mutate: func(c *Config) { c.Sink = "nats"; c.NatsURL = "nats://localhost:4222" }},
		{name: "kafka without brokers", mutate: func(c *Config) { c.Sink = "kafka" }, wantErr: true},
		{name: "clickhouse bad port", mutate: func(c *Config) { c.Sink = "clickhouse"; c.ClickHousePort = 70000 }, wantErr: true},
		{name: "clickhouse", mutate: func(c *Config) { c.Sink = "clickhouse" }},
		{name: "bad otlp protocol", mutate: func(c *Config) { c.OTLPProtocol = "udp" }, wantErr: true},
		{name: "zero sample ratio", mutate: func(c *Config) { c.TracingSampleRatio = 0 }, wantErr: true},
		{name: "sample ratio above one", mutate: func(c *Config) { c.TracingSampleRatio = 1.5 }, wantErr: true},
		{name: "partial sampling", mutate: func(c *Config) { c.TracingSampleRatio = 0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConnectionString_RereadsEnvironment(t *testing.T) {
	cfg := Defaults()
	cfg.MongoURI = "mongodb://loaded:27017"

	t.Setenv("MONGO_URI", "")
	assert.Equal(t, "mongodb://loaded:27017", cfg.ConnectionString())

	t.Setenv("MONGO_URI", "mongodb://changed:27017")
	assert.Equal(t, "mongodb://changed:27017", cfg.ConnectionString())
}

func TestParseList(t *testing.T) {
	assert.Nil(t, parseList(""))
	assert.Equal(t, []string{"a:1", "b:2"}, parseList(" a:1 ; ;b:2"))
}
