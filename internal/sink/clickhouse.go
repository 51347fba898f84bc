package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/clickhouse"
	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
	"github.com/SteelMorgan/oplog-tailer/internal/retry"
)

func init() {
	Register("clickhouse", func(ctx context.Context, cfg *config.Config) (Sink, error) {
		client, err := clickhouse.NewClient(ctx, clickhouse.Options{
			Host:     cfg.ClickHouseHost,
			Port:     cfg.ClickHousePort,
			Database: cfg.ClickHouseDB,
		}, retry.DefaultConfig())
		if err != nil {
			return nil, err
		}
		if err := client.EnsureChangesTable(ctx, cfg.ClickHouseTable); err != nil {
			client.Close()
			return nil, err
		}
		return NewClickHouseSink(client, cfg.ClickHouseTable, cfg.ClickHouseBatchSize), nil
	})
}

// rowBatch is the part of driver.Batch the sink uses
type rowBatch interface {
	Append(v ...any) error
	Send() error
}

type batchFunc func(ctx context.Context, query string) (rowBatch, error)

// changeRow is one buffered row of the changes table
type changeRow struct {
	ts         time.Time
	ordinal    uint32
	namespace  string
	op         string
	documentID string
	document   string
	sessionID  string
	capturedAt time.Time
}

// ClickHouseSink writes captured entries to ClickHouse in batches
type ClickHouseSink struct {
	prepare  batchFunc
	closer   func() error
	query    string
	maxSize  int
	retryCfg retry.Config

	rows []changeRow
}

// NewClickHouseSink creates a sink inserting into table through client
func NewClickHouseSink(client *clickhouse.Client, table string, maxSize int) *ClickHouseSink {
	prepare := func(ctx context.Context, query string) (rowBatch, error) {
		return client.PrepareBatch(ctx, query)
	}
	return newClickHouseSink(prepare, client.Close, client.Database()+"."+table, maxSize, client.RetryConfig())
}

func newClickHouseSink(prepare batchFunc, closer func() error, table string, maxSize int, retryCfg retry.Config) *ClickHouseSink {
	if maxSize < 1 {
		maxSize = 1
	}
	return &ClickHouseSink{
		prepare:  prepare,
		closer:   closer,
		query:    "INSERT INTO " + table,
		maxSize:  maxSize,
		retryCfg: retryCfg,
		rows:     make([]changeRow, 0, maxSize),
	}
}

// Handle buffers the entry and writes the batch once it is full
func (s *ClickHouseSink) Handle(ctx context.Context, entry *oplog.Entry) error {
	doc, err := json.Marshal(normalizeMap(entry.Object))
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	s.rows = append(s.rows, changeRow{
		ts:         entry.Time(),
		ordinal:    oplog.TimestampOrdinal(entry.Timestamp),
		namespace:  entry.Namespace,
		op:         string(entry.Operation()),
		documentID: entry.DocumentKey(),
		document:   string(doc),
		sessionID:  oplog.SessionID(ctx),
		capturedAt: time.Now().UTC(),
	})

	if len(s.rows) >= s.maxSize {
		return s.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered rows. Rows stay buffered if the write fails.
func (s *ClickHouseSink) Flush(ctx context.Context) error {
	if len(s.rows) == 0 {
		return nil
	}

	start := time.Now()
	err := retry.Do(ctx, s.retryCfg, func() error {
		return s.send(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to write %d changes to clickhouse: %w", len(s.rows), err)
	}

	log.Debug().
		Int("rows", len(s.rows)).
		Dur("duration", time.Since(start)).
		Msg("Changes written to ClickHouse")

	s.rows = s.rows[:0]
	return nil
}

func (s *ClickHouseSink) send(ctx context.Context) error {
	batch, err := s.prepare(ctx, s.query)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range s.rows {
		if err := batch.Append(
			r.ts,
			r.ordinal,
			r.namespace,
			r.op,
			r.documentID,
			r.document,
			r.sessionID,
			r.capturedAt,
		); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Close flushes pending rows and closes the connection
func (s *ClickHouseSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushErr := s.Flush(ctx)
	if s.closer != nil {
		if err := s.closer(); err != nil && flushErr == nil {
			return err
		}
	}
	return flushErr
}
