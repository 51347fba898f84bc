package tailer

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/mgo/v3/bson"

	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
)

// read is one scripted cursor advance
type read struct {
	entry *oplog.Entry
	err   error
}

// fakeCursor returns its script in order. An exhausted script reports a
// dead cursor unless endless is set, in which case every further read is
// empty.
type fakeCursor struct {
	script       []read
	awaitCapable bool
	endless      bool

	err    error
	dead   bool
	closed bool
}

func (c *fakeCursor) Next(e *oplog.Entry) bool {
	if len(c.script) == 0 {
		c.dead = !c.endless
		return false
	}
	r := c.script[0]
	c.script = c.script[1:]
	if r.err != nil {
		c.err = r.err
		return false
	}
	if r.entry == nil {
		return false
	}
	*e = *r.entry
	return true
}

func (c *fakeCursor) Err() error         { return c.err }
func (c *fakeCursor) Dead() bool         { return c.dead }
func (c *fakeCursor) AwaitCapable() bool { return c.awaitCapable }

func (c *fakeCursor) Close() error {
	c.closed = true
	return nil
}

type fakeSession struct {
	cursor  *fakeCursor
	tailErr error
	queries []oplog.Query
	closed  bool
}

func (s *fakeSession) Tail(ctx context.Context, q oplog.Query) (oplog.Cursor, error) {
	s.queries = append(s.queries, q)
	if s.tailErr != nil {
		return nil, s.tailErr
	}
	return s.cursor, nil
}

func (s *fakeSession) Close() {
	s.closed = true
}

// dialResult is one scripted Dial outcome
type dialResult struct {
	session *fakeSession
	err     error
}

// fakeDialer returns its script in order. Once the script is exhausted
// Dial closes exhausted and blocks until ctx is cancelled.
type fakeDialer struct {
	mu        sync.Mutex
	script    []dialResult
	dials     int
	exhausted chan struct{}
	once      sync.Once
}

func newFakeDialer(script ...dialResult) *fakeDialer {
	return &fakeDialer{script: script, exhausted: make(chan struct{})}
}

func (d *fakeDialer) Dial(ctx context.Context) (oplog.Session, error) {
	d.mu.Lock()
	d.dials++
	if len(d.script) == 0 {
		d.mu.Unlock()
		d.once.Do(func() { close(d.exhausted) })
		<-ctx.Done()
		return nil, ctx.Err()
	}
	r := d.script[0]
	d.script = d.script[1:]
	d.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return r.session, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// recordingHandler keeps the document ids it was given
type recordingHandler struct {
	mu      sync.Mutex
	ids     []string
	err     error
	flushes int
}

func (h *recordingHandler) Handle(ctx context.Context, e *oplog.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		err := h.err
		h.err = nil
		return err
	}
	h.ids = append(h.ids, e.DocumentKey())
	return nil
}

func (h *recordingHandler) Flush(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushes++
	return nil
}

func (h *recordingHandler) IDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.ids...)
}

// recordingClock fires every wait at once and remembers its length
type recordingClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *recordingClock) Now() time.Time {
	return c.now
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *recordingClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

// syncBuffer is a log destination safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func entry(id string) read {
	return read{entry: &oplog.Entry{
		Timestamp: oplog.NewTimestamp(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), 1),
		Op:        "i",
		Namespace: "prmonline.projects",
		Object:    bson.M{"_id": id},
	}}
}

func empty() read {
	return read{}
}

func failure(msg string) read {
	return read{err: errors.New(msg)}
}
