package oplog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
	"github.com/rs/zerolog/log"

	"github.com/SteelMorgan/oplog-tailer/internal/telemetry"
)

// MgoConfig contains the parameters for a NewMgoDialer
type MgoConfig struct {
	// ConnectionString is called once per Dial, so a changed value
	// applies to the next session.
	ConnectionString func() string
	// Database holding the oplog, usually "local".
	Database string
	// Collection is the oplog collection, usually "oplog.rs".
	Collection string
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// AwaitTimeout is how long the server may block a cursor advance
	// waiting for new entries. Zero makes every advance a plain poll.
	AwaitTimeout time.Duration
}

// Validate ensures that all the values that have to be set are set
func (c MgoConfig) Validate() error {
	if c.ConnectionString == nil {
		return fmt.Errorf("missing ConnectionString")
	}
	if c.Database == "" {
		return fmt.Errorf("missing Database")
	}
	if c.Collection == "" {
		return fmt.Errorf("missing Collection")
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("DialTimeout must be positive")
	}
	if c.AwaitTimeout < 0 {
		return fmt.Errorf("AwaitTimeout must not be negative")
	}
	return nil
}

// MgoDialer opens oplog sessions with the mgo driver
type MgoDialer struct {
	cfg MgoConfig
}

// NewMgoDialer returns a Dialer backed by mgo
func NewMgoDialer(cfg MgoConfig) (*MgoDialer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mgo dialer config: %w", err)
	}
	return &MgoDialer{cfg: cfg}, nil
}

// Dial connects to the server
func (d *MgoDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := mgo.DialWithTimeout(d.cfg.ConnectionString(), d.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	return &mgoSession{
		session:    session,
		database:   d.cfg.Database,
		collection: d.cfg.Collection,
		await:      d.cfg.AwaitTimeout,
	}, nil
}

type mgoSession struct {
	session    *mgo.Session
	database   string
	collection string
	await      time.Duration
}

// Tail opens a tailable, await-data cursor in natural order
func (s *mgoSession) Tail(ctx context.Context, q Query) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	iter := s.session.DB(s.database).C(s.collection).
		Find(q.Selector()).
		Sort("$natural").
		LogReplay().
		Tail(s.await)

	return newCursor(iter, s.await > 0), nil
}

func (s *mgoSession) Close() {
	s.session.Close()
}

// iterator is the subset of *mgo.Iter used by the cursor
type iterator interface {
	Next(result interface{}) bool
	Timeout() bool
	Err() error
	Close() error
}

type mgoCursor struct {
	iter         iterator
	awaitCapable bool
	dead         bool
	err          error
}

func newCursor(iter iterator, awaitCapable bool) *mgoCursor {
	return &mgoCursor{iter: iter, awaitCapable: awaitCapable}
}

func (c *mgoCursor) Next(entry *Entry) bool {
	if c.dead || c.err != nil {
		return false
	}

	for {
		var raw bson.Raw
		if !c.iter.Next(&raw) {
			break
		}
		if err := decodeEntry(raw, entry); err != nil {
			telemetry.EntriesSkipped.Inc()
			log.Warn().Err(err).Int("bytes", len(raw.Data)).Msg("Skipping undecodable oplog entry")
			continue
		}
		return true
	}

	if c.iter.Timeout() {
		return false
	}

	if err := c.iter.Err(); err != nil && !errors.Is(err, mgo.ErrCursor) {
		c.err = fmt.Errorf("oplog cursor error: %w", err)
		return false
	}

	c.dead = true
	return false
}

func (c *mgoCursor) Err() error {
	return c.err
}

func (c *mgoCursor) Dead() bool {
	return c.dead
}

func (c *mgoCursor) AwaitCapable() bool {
	return c.awaitCapable
}

func (c *mgoCursor) Close() error {
	if err := c.iter.Close(); err != nil && !errors.Is(err, mgo.ErrCursor) {
		return fmt.Errorf("failed to close oplog cursor: %w", err)
	}
	return nil
}
