package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/retry"
)

// Options configures a ClickHouse connection
type Options struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// Client wraps a ClickHouse connection
type Client struct {
	conn     clickhouse.Conn
	database string
	retryCfg retry.Config
}

// NewClient connects to ClickHouse and verifies the connection
func NewClient(ctx context.Context, opts Options, retryCfg retry.Config) (*Client, error) {
	if opts.Username == "" {
		opts.Username = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", opts.Host).
		Int("port", opts.Port).
		Str("database", opts.Database).
		Msg("Connected to ClickHouse")

	return &Client{
		conn:     conn,
		database: opts.Database,
		retryCfg: retryCfg,
	}, nil
}

// Exec executes a non-SELECT query with retry logic
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.conn.Exec(ctx, query, args...)
	})
}

// PrepareBatch starts an INSERT batch
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// EnsureChangesTable creates the table captured changes are written to
func (c *Client) EnsureChangesTable(ctx context.Context, table string) error {
	if err := c.Exec(ctx, changesTableDDL(c.database, table)); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return nil
}

// changesTableDDL returns the schema of the changes table. A change is
// identified by its oplog position, so rows re-inserted when a session
// replays the day collapse into one on merge, keeping the latest capture.
func changesTableDDL(database, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ts           DateTime,
	ordinal      UInt32,
	namespace    LowCardinality(String),
	op           LowCardinality(String),
	document_id  String,
	document     String,
	session_id   String,
	captured_at  DateTime64(3)
) ENGINE = ReplacingMergeTree(captured_at)
PARTITION BY toYYYYMMDD(ts)
ORDER BY (namespace, ts, ordinal)`, database, table)
}

// Database returns the database the client is bound to
func (c *Client) Database() string {
	return c.database
}

// RetryConfig returns the retry policy used by the client
func (c *Client) RetryConfig() retry.Config {
	return c.retryCfg
}

// Close closes the connection
func (c *Client) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return c.conn.Close()
}
