package oplog

import "context"

type sessionIDKey struct{}

// WithSessionID returns a context carrying the id of the tailing session
// that produced the entries handled under it.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID returns the tailing session id carried by ctx, or ""
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
