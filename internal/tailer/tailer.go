// Package tailer follows the oplog of a replica set for one namespace and
// hands every entry to a Handler, reopening the cursor whenever it ends.
package tailer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SteelMorgan/oplog-tailer/internal/observability"
	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
	"github.com/SteelMorgan/oplog-tailer/internal/service"
	"github.com/SteelMorgan/oplog-tailer/internal/sink"
	"github.com/SteelMorgan/oplog-tailer/internal/telemetry"
)

// ServiceName is the diagnostic name of the tailing service
const ServiceName = "Tail service"

// Clock provides the current time and waits
type Clock interface {
	Now() time.Time
	After(time.Duration) <-chan time.Time
}

// Handler receives entries in oplog order. The entry is reused after
// Handle returns and must not be retained.
type Handler interface {
	Handle(ctx context.Context, entry *oplog.Entry) error
}

// Config contains the parameters for a New Tailer
type Config struct {
	// Namespace is the "db.collection" whose entries are followed.
	Namespace string
	// Dialer opens one oplog session per tailing attempt.
	Dialer oplog.Dialer
	// Handler receives the entries. If it implements sink.Flusher it is
	// flushed whenever the cursor has nothing to return.
	Handler Handler
	Clock   Clock
	// RestartDelay separates consecutive sessions.
	RestartDelay time.Duration
	// EmptyPollDelay follows every read that returned nothing.
	EmptyPollDelay time.Duration
	// Logger is optional; the global logger is used when nil.
	Logger *zerolog.Logger
}

// Validate ensures that all the values that have to be set are set
func (c Config) Validate() error {
	if c.Namespace == "" {
		return errors.New("missing Namespace")
	}
	if c.Dialer == nil {
		return errors.New("missing Dialer")
	}
	if c.Handler == nil {
		return errors.New("missing Handler")
	}
	if c.Clock == nil {
		return errors.New("missing Clock")
	}
	if c.RestartDelay <= 0 {
		return errors.New("RestartDelay must be positive")
	}
	if c.EmptyPollDelay <= 0 {
		return errors.New("EmptyPollDelay must be positive")
	}
	return nil
}

// Status is a snapshot of the tailer's progress
type Status struct {
	Running          bool      `json:"running"`
	SessionID        string    `json:"session_id,omitempty"`
	SessionsOpened   int64     `json:"sessions_opened"`
	EntriesDelivered int64     `json:"entries_delivered"`
	LastEntryTime    time.Time `json:"last_entry_time,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Tailer runs the supervisor loop on a background goroutine
type Tailer struct {
	*service.TaskService

	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	status Status
}

// New returns a Tailer that does nothing until Start is called
func New(cfg Config) (*Tailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tailer config: %w", err)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	t := &Tailer{
		cfg:    cfg,
		logger: logger.With().Str("service", ServiceName).Str("namespace", cfg.Namespace).Logger(),
	}
	t.TaskService = service.NewTaskService(ServiceName, t.run)
	t.OnStop(func() {
		t.logger.Info().Msg("Stop called")
	})
	return t, nil
}

// Status returns a snapshot of the tailer's progress
func (t *Tailer) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// run restarts tailing sessions until ctx is cancelled. Every session end
// other than cancellation is followed by RestartDelay.
func (t *Tailer) run(ctx context.Context) error {
	t.setRunning(true)
	defer func() {
		t.setRunning(false)
		t.logger.Info().Msg("Tail shut down")
	}()

	for {
		if ctx.Err() != nil {
			t.logger.Info().Msg("Oplog tailing cancelled")
			return nil
		}

		err := t.tailOplog(ctx)
		if ctx.Err() != nil {
			t.logger.Info().Msg("Oplog tailing cancelled")
			return nil
		}
		if err != nil {
			telemetry.SessionFailures.Inc()
			t.setError(err)
			t.logger.WithLevel(zerolog.FatalLevel).
				Err(err).
				Msg("Oplog tailing failed")
		}

		t.logger.Info().
			Dur("delay", t.cfg.RestartDelay).
			Msgf("Restarting %s after sleep", t.Name())
		if err := t.wait(ctx, t.cfg.RestartDelay); err != nil {
			t.logger.Info().Msg("Oplog tailing cancelled")
			return nil
		}
	}
}

// tailOplog runs one session: dial, open the cursor and consume it until
// the cursor dies, an error occurs or ctx is cancelled. A dead cursor is a
// normal return.
func (t *Tailer) tailOplog(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	sessionID := uuid.NewString()
	ctx = oplog.WithSessionID(ctx, sessionID)
	logger := t.logger.With().Str("session_id", sessionID).Logger()

	ctx, span := observability.StartSpan(ctx, "oplog.session",
		attribute.String("session.id", sessionID),
		attribute.String("oplog.namespace", t.cfg.Namespace),
	)
	var delivered int64
	defer func() {
		span.SetAttributes(attribute.Int64("oplog.delivered", delivered))
		if errors.Is(err, context.Canceled) {
			observability.EndSpan(span, nil)
			return
		}
		observability.EndSpan(span, err)
	}()

	session, err := t.cfg.Dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to open oplog session: %w", err)
	}
	defer session.Close()

	since := oplog.StartOfDay(t.cfg.Clock.Now())
	logger.Info().Time("since", since).Msg("Tailing oplog")

	cursor, err := session.Tail(ctx, oplog.Query{Namespace: t.cfg.Namespace, Since: since})
	if err != nil {
		return fmt.Errorf("failed to open tailable cursor: %w", err)
	}
	defer func() {
		if cerr := cursor.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("Failed to close cursor")
		}
	}()

	telemetry.SessionsOpened.Inc()
	t.sessionOpened(sessionID)

	defer func() {
		if err != nil && ctx.Err() == nil {
			if ferr := t.flush(ctx); ferr != nil {
				logger.Warn().Err(ferr).Msg("Failed to flush handler after session failure")
			}
		}
	}()

	awaitLabel := strconv.FormatBool(cursor.AwaitCapable())
	var entry oplog.Entry
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		logger.Debug().Msg("Enumerating")
		if cursor.Next(&entry) {
			if err := t.cfg.Handler.Handle(ctx, &entry); err != nil {
				return fmt.Errorf("failed to handle %s entry at %s: %w",
					entry.Operation(), entry.Time().Format(time.RFC3339), err)
			}
			delivered++
			t.entryDelivered(&entry)
			continue
		}

		if err := cursor.Err(); err != nil {
			return fmt.Errorf("oplog cursor failed: %w", err)
		}
		if err := t.flush(ctx); err != nil {
			return err
		}
		if cursor.Dead() {
			telemetry.CursorDeaths.Inc()
			logger.Info().Int64("delivered", delivered).Msg("Cursor has ended and is dead")
			return nil
		}

		telemetry.EmptyPolls.With(awaitLabel).Inc()
		if cursor.AwaitCapable() {
			logger.Debug().Msg("Didn't get anything")
		} else {
			if err := ctx.Err(); err != nil {
				return err
			}
			logger.Info().Msg("Throttling next cursor attempt")
		}
		if err := t.wait(ctx, t.cfg.EmptyPollDelay); err != nil {
			return err
		}
	}
}

// wait blocks for d or until ctx is cancelled
func (t *Tailer) wait(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.cfg.Clock.After(d):
		return nil
	}
}

func (t *Tailer) flush(ctx context.Context) error {
	f, ok := t.cfg.Handler.(sink.Flusher)
	if !ok {
		return nil
	}
	if err := f.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush handler: %w", err)
	}
	return nil
}

func (t *Tailer) setRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.Running = running
	if !running {
		t.status.SessionID = ""
	}
}

func (t *Tailer) sessionOpened(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.SessionID = id
	t.status.SessionsOpened++
}

func (t *Tailer) entryDelivered(e *oplog.Entry) {
	ts := e.Time()
	telemetry.EntriesDelivered.With(string(e.Operation())).Inc()
	telemetry.LastEntryTimestamp.Set(float64(ts.Unix()))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.EntriesDelivered++
	t.status.LastEntryTime = ts
}

func (t *Tailer) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status.LastError = err.Error()
}
