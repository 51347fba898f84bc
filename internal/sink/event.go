package sink

import (
	"context"
	"math"
	"time"

	"github.com/juju/mgo/v3/bson"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
)

// Event is the wire form of a captured entry published to brokers
type Event struct {
	SessionID  string                 `msgpack:"session" json:"session_id"`
	Namespace  string                 `msgpack:"ns" json:"namespace"`
	Operation  string                 `msgpack:"op" json:"op"`
	DocumentID string                 `msgpack:"id" json:"document_id"`
	Timestamp  int64                  `msgpack:"ts" json:"ts"`      // Oplog time, unix seconds
	Ordinal    uint32                 `msgpack:"ord" json:"ordinal"` // Position within the second
	Document   map[string]interface{} `msgpack:"doc" json:"document"`
	Selector   map[string]interface{} `msgpack:"sel,omitempty" json:"selector,omitempty"`
	CapturedAt time.Time              `msgpack:"captured" json:"captured_at"`
}

// NewEvent converts an entry to an Event
func NewEvent(ctx context.Context, e *oplog.Entry) Event {
	return Event{
		SessionID:  oplog.SessionID(ctx),
		Namespace:  e.Namespace,
		Operation:  string(e.Operation()),
		DocumentID: e.DocumentKey(),
		Timestamp:  oplog.TimestampTime(e.Timestamp).Unix(),
		Ordinal:    oplog.TimestampOrdinal(e.Timestamp),
		Document:   normalizeMap(e.Object),
		Selector:   normalizeMap(e.Selector),
		CapturedAt: time.Now().UTC(),
	}
}

// Encode serializes the event with msgpack
func (ev Event) Encode() ([]byte, error) {
	return msgpack.Marshal(ev)
}

// DecodeEvent parses a msgpack-encoded event
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	err := msgpack.Unmarshal(data, &ev)
	return ev, err
}

func normalizeMap(m bson.M) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalize(v)
	}
	return out
}

// normalize turns BSON-specific values into plain ones that encode the
// same way in msgpack and JSON. Non-finite doubles become strings since
// JSON has no representation for them.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.M:
		return normalizeMap(val)
	case map[string]interface{}:
		return normalizeMap(val)
	case bson.D:
		out := make(map[string]interface{}, len(val))
		for _, elem := range val {
			out[elem.Name] = normalize(elem.Value)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case bson.ObjectId:
		return val.Hex()
	case bson.MongoTimestamp:
		return int64(val)
	case bson.Binary:
		return val.Data
	case float64:
		return normalizeFloat(val)
	default:
		return v
	}
}

func normalizeFloat(f float64) interface{} {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}
