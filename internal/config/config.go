package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	// MongoDB connection
	MongoURI        string `yaml:"mongo_uri"`
	OplogNamespace  string `yaml:"oplog_namespace"`  // Watched namespace, "db.collection"
	OplogDatabase   string `yaml:"oplog_database"`   // Database holding the oplog (usually "local")
	OplogCollection string `yaml:"oplog_collection"` // Oplog collection (usually "oplog.rs")
	DialTimeoutMs   int    `yaml:"dial_timeout_ms"`

	// Tailing behaviour
	AwaitTimeoutMs   int `yaml:"await_timeout_ms"` // 0 disables server-side await
	RestartDelayMs   int `yaml:"restart_delay_ms"`
	EmptyPollDelayMs int `yaml:"empty_poll_delay_ms"`

	// Downstream sink
	Sink                string   `yaml:"sink"` // log, clickhouse, nats, kafka
	ClickHouseHost      string   `yaml:"clickhouse_host"`
	ClickHousePort      int      `yaml:"clickhouse_port"`
	ClickHouseDB        string   `yaml:"clickhouse_db"`
	ClickHouseTable     string   `yaml:"clickhouse_table"`
	ClickHouseBatchSize int      `yaml:"clickhouse_batch_size"`
	NatsURL             string   `yaml:"nats_url"`
	NatsSubject         string   `yaml:"nats_subject"`
	KafkaBrokers        []string `yaml:"kafka_brokers"`
	KafkaTopic          string   `yaml:"kafka_topic"`

	// Admin HTTP surface
	AdminAddr      string `yaml:"admin_addr"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	// Observability
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	TracingEnabled     bool    `yaml:"tracing_enabled"`
	TracingSampleRatio float64 `yaml:"tracing_sample_ratio"`
	OTLPEndpoint       string  `yaml:"otlp_endpoint"`
	OTLPProtocol       string  `yaml:"otlp_protocol"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		MongoURI:        "mongodb://localhost:27017",
		OplogNamespace:  "prmonline.projects",
		OplogDatabase:   "local",
		OplogCollection: "oplog.rs",
		DialTimeoutMs:   10000,

		AwaitTimeoutMs:   1000,
		RestartDelayMs:   2000,
		EmptyPollDelayMs: 1000,

		Sink:                "log",
		ClickHouseHost:      "localhost",
		ClickHousePort:      9000,
		ClickHouseDB:        "logs",
		ClickHouseTable:     "oplog_changes",
		ClickHouseBatchSize: 500,

		LogLevel:           "info",
		TracingSampleRatio: 1,
		OTLPProtocol:       "grpc",
	}
}

// Load loads configuration from an optional YAML file (CONFIG_FILE) and
// environment variables. Environment variables win over the file.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Subjects and topics follow the namespace unless set explicitly
	if cfg.NatsSubject == "" {
		cfg.NatsSubject = "oplog." + cfg.OplogNamespace
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "oplog." + cfg.OplogNamespace
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.MongoURI = getEnv("MONGO_URI", c.MongoURI)
	c.OplogNamespace = getEnv("OPLOG_NAMESPACE", c.OplogNamespace)
	c.OplogDatabase = getEnv("OPLOG_DATABASE", c.OplogDatabase)
	c.OplogCollection = getEnv("OPLOG_COLLECTION", c.OplogCollection)
	c.DialTimeoutMs = getEnvInt("DIAL_TIMEOUT_MS", c.DialTimeoutMs)

	c.AwaitTimeoutMs = getEnvInt("AWAIT_TIMEOUT_MS", c.AwaitTimeoutMs)
	c.RestartDelayMs = getEnvInt("RESTART_DELAY_MS", c.RestartDelayMs)
	c.EmptyPollDelayMs = getEnvInt("EMPTY_POLL_DELAY_MS", c.EmptyPollDelayMs)

	c.Sink = strings.ToLower(getEnv("SINK", c.Sink))
	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", c.ClickHouseTable)
	c.ClickHouseBatchSize = getEnvInt("CLICKHOUSE_BATCH_SIZE", c.ClickHouseBatchSize)
	c.NatsURL = getEnv("NATS_URL", c.NatsURL)
	c.NatsSubject = getEnv("NATS_SUBJECT", c.NatsSubject)
	if brokers := parseList(os.Getenv("KAFKA_BROKERS")); len(brokers) > 0 {
		c.KafkaBrokers = brokers
	}
	c.KafkaTopic = getEnv("KAFKA_TOPIC", c.KafkaTopic)

	c.AdminAddr = getEnv("ADMIN_ADDR", c.AdminAddr)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingSampleRatio = getEnvFloat("TRACING_SAMPLE_RATIO", c.TracingSampleRatio)
	c.OTLPEndpoint = getEnv("OTLP_ENDPOINT", c.OTLPEndpoint)
	c.OTLPProtocol = getEnv("OTLP_PROTOCOL", c.OTLPProtocol)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MongoURI == "" {
		return fmt.Errorf("MONGO_URI is required")
	}
	if db, coll, ok := strings.Cut(c.OplogNamespace, "."); !ok || db == "" || coll == "" {
		return fmt.Errorf("OPLOG_NAMESPACE must have the form <database>.<collection>, got %q", c.OplogNamespace)
	}
	if c.OplogDatabase == "" || c.OplogCollection == "" {
		return fmt.Errorf("OPLOG_DATABASE and OPLOG_COLLECTION are required")
	}
	if c.DialTimeoutMs <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT_MS must be positive")
	}
	if c.AwaitTimeoutMs < 0 {
		return fmt.Errorf("AWAIT_TIMEOUT_MS must not be negative")
	}
	if c.RestartDelayMs <= 0 || c.EmptyPollDelayMs <= 0 {
		return fmt.Errorf("RESTART_DELAY_MS and EMPTY_POLL_DELAY_MS must be positive")
	}

	switch c.Sink {
	case "log":
	case "clickhouse":
		if c.ClickHouseHost == "" || c.ClickHouseDB == "" || c.ClickHouseTable == "" {
			return fmt.Errorf("CLICKHOUSE_HOST, CLICKHOUSE_DB and CLICKHOUSE_TABLE are required for the clickhouse sink")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseBatchSize < 1 {
			return fmt.Errorf("CLICKHOUSE_BATCH_SIZE must be at least 1")
		}
	case "nats":
		if c.NatsURL == "" {
			return fmt.Errorf("NATS_URL is required for the nats sink")
		}
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown SINK %q (use log, clickhouse, nats or kafka)", c.Sink)
	}

	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("OTLP_PROTOCOL must be grpc or http")
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be in (0, 1]")
	}

	return nil
}

// ConnectionString returns the MongoDB connection string. It re-reads
// MONGO_URI on every call so a changed value is picked up the next time a
// tailing session is opened.
func (c *Config) ConnectionString() string {
	return getEnv("MONGO_URI", c.MongoURI)
}

// DialTimeout returns the per-session connection timeout
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// AwaitTimeout returns how long the server may hold a cursor advance open
func (c *Config) AwaitTimeout() time.Duration {
	return time.Duration(c.AwaitTimeoutMs) * time.Millisecond
}

// RestartDelay returns the fixed delay between tailing sessions
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.RestartDelayMs) * time.Millisecond
}

// EmptyPollDelay returns the fixed delay after a read that returned nothing
func (c *Config) EmptyPollDelay() time.Duration {
	return time.Duration(c.EmptyPollDelayMs) * time.Millisecond
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// parseList parses a semicolon-separated list
func parseList(s string) []string {
	if s == "" {
		return nil
	}

	parts := strings.Split(s, ";")
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
