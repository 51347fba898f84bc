package oplog

import "context"

// Cursor is a live, naturally ordered read over the oplog.
//
// Next returns false when no entry is available. The caller then tells the
// outcomes apart: Err reports a failure, Dead reports that the server closed
// the cursor, and otherwise the read was simply empty. AwaitCapable reports
// whether the server holds an advance open waiting for new data.
type Cursor interface {
	Next(entry *Entry) bool
	Err() error
	Dead() bool
	AwaitCapable() bool
	Close() error
}

// Session is one connection to the oplog
type Session interface {
	Tail(ctx context.Context, q Query) (Cursor, error)
	Close()
}

// Dialer opens sessions
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
