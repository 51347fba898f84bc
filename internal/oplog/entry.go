// Package oplog models the replication log of a MongoDB replica set and
// provides tailing sessions over it.
package oplog

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
)

// Operation is the kind of write recorded by an oplog entry
type Operation string

const (
	OpInsert  Operation = "insert"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpCommand Operation = "command"
	OpNoop    Operation = "noop"
	OpUnknown Operation = "unknown"
)

// Entry is one document read from the oplog. Raw holds the complete
// document as read; the other fields are decoded from it.
type Entry struct {
	Timestamp bson.MongoTimestamp `bson:"ts"`
	Term      int64               `bson:"t,omitempty"`
	Op        string              `bson:"op"`
	Namespace string              `bson:"ns"`
	Object    bson.M              `bson:"o,omitempty"`
	Selector  bson.M              `bson:"o2,omitempty"`
	Wall      time.Time           `bson:"wall,omitempty"`

	Raw []byte `bson:"-"`
}

// Operation maps the single-letter op code to an Operation
func (e *Entry) Operation() Operation {
	switch e.Op {
	case "i":
		return OpInsert
	case "u":
		return OpUpdate
	case "d":
		return OpDelete
	case "c":
		return OpCommand
	case "n":
		return OpNoop
	default:
		return OpUnknown
	}
}

// DocumentID returns the _id of the affected document, or nil.
// Updates carry it in the selector (o2), other operations in o.
func (e *Entry) DocumentID() interface{} {
	if e.Op == "u" {
		if id, ok := e.Selector["_id"]; ok {
			return id
		}
	}
	return e.Object["_id"]
}

// DocumentKey returns DocumentID formatted as a string
func (e *Entry) DocumentKey() string {
	switch id := e.DocumentID().(type) {
	case nil:
		return ""
	case bson.ObjectId:
		return id.Hex()
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// Time returns the wall-clock second encoded in the entry's position
func (e *Entry) Time() time.Time {
	return TimestampTime(e.Timestamp)
}

// NewTimestamp builds an oplog position from a time and an ordinal
func NewTimestamp(t time.Time, ordinal uint32) bson.MongoTimestamp {
	return bson.MongoTimestamp(t.Unix()<<32 | int64(ordinal))
}

// TimestampTime returns the seconds part of ts as a time
func TimestampTime(ts bson.MongoTimestamp) time.Time {
	return time.Unix(int64(uint64(ts)>>32), 0)
}

// TimestampOrdinal returns the increment part of ts
func TimestampOrdinal(ts bson.MongoTimestamp) uint32 {
	return uint32(uint64(ts) & 0xffffffff)
}

func decodeEntry(raw bson.Raw, e *Entry) error {
	*e = Entry{}
	if err := raw.Unmarshal(e); err != nil {
		return fmt.Errorf("failed to decode oplog entry: %w", err)
	}
	e.Raw = raw.Data
	return nil
}
