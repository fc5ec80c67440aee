package queue

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/climate-cache/internal/climate"
	"github.com/smukkama/climate-cache/internal/protocol"
	"github.com/smukkama/climate-cache/internal/refresh"
)

type fakeProducer struct {
	mu   sync.Mutex
	keys []string
	vals [][]byte
	err  error
}

func (p *fakeProducer) Publish(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.vals = append(p.vals, value)
	return nil
}

type fakeReader struct {
	msgs      chan kafka.Message
	mu        sync.Mutex
	committed []int64
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeReader) Consume(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) Commit(_ context.Context, msg kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msg.Offset)
	return nil
}

func (r *fakeReader) Committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeRunner struct {
	mu   sync.Mutex
	reqs []refresh.Request
	err  error
}

func (f *fakeRunner) Run(_ context.Context, req refresh.Request) (*refresh.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return &refresh.Report{BatchID: uuid.New()}, f.err
	}
	return &refresh.Report{BatchID: uuid.New(), RequestID: req.RequestID, Committed: true}, nil
}

func (f *fakeRunner) Requests() []refresh.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]refresh.Request(nil), f.reqs...)
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func requestMessage(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	data, err := protocol.EncodeBatchRequest(&protocol.BatchRequestMessage{
		RequestID: id,
		Lats:      []float64{1, 2},
		Lons:      []float64{3},
		DateStart: "1950-01-01",
		DateEnd:   "1950-06-30",
	})
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: data}
}

func TestBatchConsumer_RunsAndCommits(t *testing.T) {
	reader := newFakeReader(
		requestMessage(t, 1, "a"),
		kafka.Message{Offset: 2, Value: []byte(`{"type":"batch_request"}`)},
		requestMessage(t, 3, "b"),
	)
	runner := &fakeRunner{}

	bc := NewBatchConsumer(reader, runner, quietLogger())
	require.NoError(t, bc.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(reader.Committed()) == 3
	}, 2*time.Second, 10*time.Millisecond)
	bc.Stop()

	assert.Equal(t, []int64{1, 2, 3}, reader.Committed())

	reqs := runner.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "a", reqs[0].RequestID)
	assert.Equal(t, []float64{1, 2}, reqs[0].Lats)
	assert.Equal(t, time.Date(1950, 6, 30, 0, 0, 0, 0, time.UTC), reqs[0].End)
	assert.Equal(t, "b", reqs[1].RequestID)
}

func TestBatchConsumer_HandleReportsFailure(t *testing.T) {
	runner := &fakeRunner{err: climate.ErrAdapter}
	bc := NewBatchConsumer(newFakeReader(), runner, quietLogger())

	assert.False(t, bc.handle(context.Background(), requestMessage(t, 1, "x")))
	assert.False(t, bc.handle(context.Background(), kafka.Message{Value: []byte("garbage")}))

	runner.err = nil
	assert.True(t, bc.handle(context.Background(), requestMessage(t, 2, "y")))
}

func TestBatchConsumer_StopWithoutMessages(t *testing.T) {
	bc := NewBatchConsumer(newFakeReader(), &fakeRunner{}, quietLogger())
	require.NoError(t, bc.Start(context.Background()))
	bc.Stop()
}

func TestEventPublisher_PublishBatchCompleted(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewEventPublisher(producer)

	report := &refresh.Report{
		BatchID:   uuid.New(),
		RequestID: "req-7",
		Cells:     4,
		Fetched:   3,
		Skipped:   1,
		Rows:      42,
	}
	require.NoError(t, pub.PublishBatchCompleted(context.Background(), report))

	require.Len(t, producer.keys, 1)
	assert.Equal(t, report.BatchID.String(), producer.keys[0])

	parsed, err := protocol.ParseMessage(producer.vals[0])
	require.NoError(t, err)
	event := parsed.(*protocol.BatchCompletedEvent)
	assert.Equal(t, "req-7", event.RequestID)
	assert.Equal(t, int64(42), event.Rows)
	assert.Equal(t, 3, event.Fetched)
}

func TestRequestQueue_Enqueue(t *testing.T) {
	producer := &fakeProducer{}
	q := NewRequestQueue(producer)

	msg := &protocol.BatchRequestMessage{
		RequestID: "r1",
		Lats:      []float64{0},
		Lons:      []float64{0},
		DateStart: "1950-01-01",
		DateEnd:   "1950-01-31",
	}
	require.NoError(t, q.Enqueue(context.Background(), msg))
	require.Len(t, producer.vals, 1)
	assert.Equal(t, "r1", producer.keys[0])

	decoded, err := protocol.DecodeBatchRequest(producer.vals[0])
	require.NoError(t, err)
	assert.Equal(t, "1950-01-31", decoded.DateEnd)

	producer.err = errors.New("broker down")
	assert.Error(t, q.Enqueue(context.Background(), msg))
}

type failingReader struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *failingReader) Consume(_ context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return kafka.Message{}, r.err
}

func (r *failingReader) Commit(context.Context, kafka.Message) error { return nil }

func (r *failingReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestBatchConsumer_BacksOffOnConsumeError(t *testing.T) {
	reader := &failingReader{err: errors.New("broker unavailable")}
	bc := NewBatchConsumer(reader, &fakeRunner{}, quietLogger())
	bc.retryDelay = 50 * time.Millisecond

	require.NoError(t, bc.Start(context.Background()))
	time.Sleep(200 * time.Millisecond)
	bc.Stop()

	assert.GreaterOrEqual(t, reader.Calls(), 2)
	assert.LessOrEqual(t, reader.Calls(), 6)
}

func TestBatchConsumer_StopsWhenConsumerClosed(t *testing.T) {
	reader := &failingReader{err: ErrConsumerClosed}
	bc := NewBatchConsumer(reader, &fakeRunner{}, quietLogger())
	bc.retryDelay = time.Millisecond

	require.NoError(t, bc.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	bc.Stop()

	assert.Equal(t, 1, reader.Calls())
}

func TestBatchConsumer_IgnoresCompletionEvents(t *testing.T) {
	event, err := protocol.EncodeBatchCompleted(&protocol.BatchCompletedEvent{BatchID: uuid.NewString()})
	require.NoError(t, err)

	reader := newFakeReader(kafka.Message{Offset: 5, Value: event}, requestMessage(t, 6, "c"))
	runner := &fakeRunner{}
	bc := NewBatchConsumer(reader, runner, quietLogger())
	require.NoError(t, bc.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(reader.Committed()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	bc.Stop()

	reqs := runner.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "c", reqs[0].RequestID)
}

func TestFetchError(t *testing.T) {
	assert.ErrorIs(t, fetchError("climate.batches", io.EOF), ErrConsumerClosed)

	err := fetchError("climate.batches", kafka.RequestTimedOut)
	assert.NotErrorIs(t, err, ErrConsumerClosed)
	assert.ErrorIs(t, err, kafka.RequestTimedOut)
	assert.Contains(t, err.Error(), "climate.batches")
}

func TestEnsureTopics_NoBrokers(t *testing.T) {
	assert.Error(t, EnsureTopics(nil, 1, "climate.batches"))
}
