package sink

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/config"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
)

func init() {
	Register("log", func(ctx context.Context, cfg *config.Config) (Sink, error) {
		return NewLogSink(log.Logger), nil
	})
}

// LogSink only logs captured entries
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink writing to logger
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(ctx context.Context, entry *oplog.Entry) error {
	s.logger.Debug().
		Str("session_id", oplog.SessionID(ctx)).
		Str("namespace", entry.Namespace).
		Str("op", string(entry.Operation())).
		Str("document_id", entry.DocumentKey()).
		Time("oplog_time", entry.Time()).
		Interface("document", entry.Object).
		Msg("Processing change")
	return nil
}

func (s *LogSink) Close() error {
	return nil
}
