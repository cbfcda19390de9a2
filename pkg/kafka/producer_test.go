package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducer_PublishEncodes(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "lz4")

	require.NoError(t, p.Publish(context.Background(), "tam.records", []byte("AAPL"), map[string]string{"state": "ESCAPE"}))
	require.NoError(t, p.PublishBatch(context.Background(), "tam.records", []Message{
		{Key: []byte("a"), Value: []byte("raw")},
		{Key: []byte("b"), Value: "text"},
	}))
	require.NoError(t, p.PublishBatch(context.Background(), "tam.records", nil))

	require.Len(t, w.msgs, 3)
	assert.JSONEq(t, `{"state":"ESCAPE"}`, string(w.msgs[0].Value))
	assert.Equal(t, "AAPL", string(w.msgs[0].Key))
	assert.Equal(t, "tam.records", w.msgs[0].Topic)
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, "text", string(w.msgs[2].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestProducer_Errors(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := newProducer(w, "lz4")

	err := p.PublishMessage(context.Background(), "tam.logs", []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tam.logs")

	err = p.Publish(context.Background(), "t", nil, func() {})
	assert.ErrorContains(t, err, "marshal value")

	_, err = NewProducer()
	assert.Error(t, err)
}

func TestProducerConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		opts []ProducerOption
		want string
	}{
		{"no brokers", nil, "brokers are required"},
		{"bad acks", []ProducerOption{WithBrokers("b:9092"), WithDelivery(2, 3, false)}, "required acks 2"},
		{"bad codec", []ProducerOption{WithBrokers("b:9092"), WithCompression("brotli")}, "unknown compression"},
		{"empty batch", []ProducerOption{WithBrokers("b:9092"), WithBatching(0, 1024, time.Millisecond)}, "batch size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProducer(tt.opts...)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestProducerConfig_Writer(t *testing.T) {
	cfg := defaultProducerConfig()
	for _, opt := range []ProducerOption{
		WithBrokers("k1:9092", "k2:9092"),
		WithCompression("zstd"),
		WithDelivery(1, 5, true),
		WithBatching(500, 4096, 20*time.Millisecond),
		WithTimeouts(3*time.Second, 4*time.Second),
	} {
		opt(cfg)
	}
	require.NoError(t, cfg.validate())

	w := cfg.writer()
	assert.Equal(t, "k1:9092,k2:9092", w.Addr.String())
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.Equal(t, kafka.Zstd, w.Compression)
	assert.Equal(t, 5, w.MaxAttempts)
	assert.True(t, w.Async)
	assert.Equal(t, 500, w.BatchSize)
	assert.Equal(t, int64(4096), w.BatchBytes)
	assert.Equal(t, 20*time.Millisecond, w.BatchTimeout)
	assert.Equal(t, 3*time.Second, w.WriteTimeout)
	assert.Equal(t, 4*time.Second, w.ReadTimeout)
}
