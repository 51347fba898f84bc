package oplog

import (
	"time"

	"github.com/juju/mgo/v3/bson"
)

// Query is the resume predicate of a tailing session
type Query struct {
	Namespace string
	Since     time.Time
}

// Selector returns the server-side filter: entries after Since for Namespace
func (q Query) Selector() bson.M {
	return bson.M{
		"ts": bson.M{"$gt": NewTimestamp(q.Since, 0)},
		"ns": q.Namespace,
	}
}

// StartOfDay returns midnight of now's calendar day in now's location
func StartOfDay(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}
