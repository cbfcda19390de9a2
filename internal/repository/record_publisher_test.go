package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
	pkgkafka "TAMObserver/pkg/kafka"
)

type fakeProducer struct {
	topic  string
	keys   []string
	values []interface{}
	closed bool
}

func (f *fakeProducer) Publish(_ context.Context, topic string, key []byte, value interface{}) error {
	f.topic = topic
	f.keys = append(f.keys, string(key))
	f.values = append(f.values, value)
	return nil
}

func (f *fakeProducer) PublishBatch(_ context.Context, topic string, msgs []pkgkafka.Message) error {
	for _, m := range msgs {
		_ = f.Publish(context.Background(), topic, m.Key, m.Value)
	}
	return nil
}

func (f *fakeProducer) Close() error { f.closed = true; return nil }

func TestKafkaRecordPublisher_KeysBySymbol(t *testing.T) {
	fp := &fakeProducer{}
	pub := &KafkaRecordPublisher{producer: fp, topic: "tam.records"}

	a := sampleObservation(1, "t1", models.StateBasin)
	b := sampleObservation(2, "t2", models.StateTension)
	b.Symbol = "MSFT"

	require.NoError(t, pub.Publish(context.Background(), a))
	require.NoError(t, pub.PublishBatch(context.Background(), []*models.StreamObservation{b, nil}))
	require.NoError(t, pub.PublishBatch(context.Background(), nil))

	assert.Equal(t, "tam.records", fp.topic)
	assert.Equal(t, []string{"AAPL", "MSFT"}, fp.keys)
	assert.Same(t, a, fp.values[0])

	require.NoError(t, pub.Close())
	assert.True(t, fp.closed)
}
