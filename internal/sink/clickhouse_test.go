package sink

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/juju/mgo/v3/bson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteelMorgan/oplog-tailer/internal/oplog"
)

type fakeBatch struct {
	owner   *fakeBatches
	rows    [][]any
	sendErr error
}

func (b *fakeBatch) Append(v ...any) error {
	b.rows = append(b.rows, v)
	return nil
}

func (b *fakeBatch) Send() error {
	if b.sendErr != nil {
		return b.sendErr
	}
	b.owner.sent = append(b.owner.sent, b.rows...)
	return nil
}

type fakeBatches struct {
	queries  []string
	sent     [][]any
	sendErrs []error
	closed   bool
}

func (f *fakeBatches) prepare(ctx context.Context, query string) (rowBatch, error) {
	f.queries = append(f.queries, query)
	b := &fakeBatch{owner: f}
	if len(f.sendErrs) > 0 {
		b.sendErr = f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
	}
	return b, nil
}

func (f *fakeBatches) close() error {
	f.closed = true
	return nil
}

func TestClickHouseSink_FlushesWhenBatchIsFull(t *testing.T) {
	fake := &fakeBatches{}
	s := newClickHouseSink(fake.prepare, fake.close, "logs.oplog_changes", 2, testRetryConfig())
	ctx := oplog.WithSessionID(context.Background(), "s-1")

	require.NoError(t, s.Handle(ctx, insertEntry("a", "alpha")))
	assert.Empty(t, fake.sent)

	require.NoError(t, s.Handle(ctx, insertEntry("b", "beta")))
	require.Len(t, fake.sent, 2)
	assert.Equal(t, []string{"INSERT INTO logs.oplog_changes"}, fake.queries)

	row := fake.sent[0]
	require.Len(t, row, 8)
	assert.Equal(t, uint32(3), row[1])
	assert.Equal(t, "prmonline.projects", row[2])
	assert.Equal(t, "insert", row[3])
	assert.Equal(t, "a", row[4])
	assert.JSONEq(t, `{"_id":"a","name":"alpha"}`, row[5].(string))
	assert.Equal(t, "s-1", row[6])
}

func TestClickHouseSink_FlushRetriesTransientFailure(t *testing.T) {
	fake := &fakeBatches{sendErrs: []error{errors.New("connection reset by peer")}}
	s := newClickHouseSink(fake.prepare, fake.close, "t", 10, testRetryConfig())

	require.NoError(t, s.Handle(context.Background(), insertEntry("a", "alpha")))
	require.NoError(t, s.Flush(context.Background()))

	assert.Len(t, fake.queries, 2)
	assert.Len(t, fake.sent, 1)
}

func TestClickHouseSink_KeepsRowsOnFailure(t *testing.T) {
	fake := &fakeBatches{sendErrs: []error{errors.New("code: 60, table does not exist")}}
	s := newClickHouseSink(fake.prepare, fake.close, "t", 10, testRetryConfig())

	require.NoError(t, s.Handle(context.Background(), insertEntry("a", "alpha")))
	err := s.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write 1 changes")

	require.NoError(t, s.Flush(context.Background()))
	assert.Len(t, fake.sent, 1)
}

func TestClickHouseSink_CloseFlushesPendingRows(t *testing.T) {
	fake := &fakeBatches{}
	s := newClickHouseSink(fake.prepare, fake.close, "t", 10, testRetryConfig())

	require.NoError(t, s.Handle(context.Background(), insertEntry("a", "alpha")))
	require.NoError(t, s.Close())

	assert.Len(t, fake.sent, 1)
	assert.True(t, fake.closed)
}

func TestClickHouseSink_FlushWithoutRows(t *testing.T) {
	fake := &fakeBatches{}
	s := newClickHouseSink(fake.prepare, fake.close, "t", 0, testRetryConfig())

	require.NoError(t, s.Flush(context.Background()))
	assert.Empty(t, fake.queries)
	assert.Equal(t, 1, s.maxSize)
}

func TestClickHouseSink_NonFiniteDoubles(t *testing.T) {
	fake := &fakeBatches{}
	s := newClickHouseSink(fake.prepare, fake.close, "t", 1, testRetryConfig())

	entry := insertEntry("x", "delta")
	entry.Object = bson.M{"_id": "x", "score": math.NaN(), "limits": bson.M{"max": math.Inf(1), "min": math.Inf(-1)}}

	require.NoError(t, s.Handle(context.Background(), entry))
	require.Len(t, fake.sent, 1)
	assert.JSONEq(t,
		`{"_id":"x","score":"NaN","limits":{"max":"Infinity","min":"-Infinity"}}`,
		fake.sent[0][5].(string))
}
