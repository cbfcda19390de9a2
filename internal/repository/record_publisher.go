package repository

import (
	"context"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/domain/repository"
	pkgkafka "TAMObserver/pkg/kafka"
)

// recordProducer is the part of *pkgkafka.Producer the publisher uses.
type recordProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaRecordPublisher publishes observations keyed by symbol, so one
// stream's records stay in order on one partition.
type KafkaRecordPublisher struct {
	producer recordProducer
	topic    string
}

func NewKafkaRecordPublisher(producer *pkgkafka.Producer, topic string) *KafkaRecordPublisher {
	return &KafkaRecordPublisher{producer: producer, topic: topic}
}

var _ repository.RecordPublisher = (*KafkaRecordPublisher)(nil)

func (p *KafkaRecordPublisher) Publish(ctx context.Context, obs *models.StreamObservation) error {
	return p.producer.Publish(ctx, p.topic, []byte(obs.Symbol), obs)
}

func (p *KafkaRecordPublisher) PublishBatch(ctx context.Context, batch []*models.StreamObservation) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, 0, len(batch))
	for _, obs := range batch {
		if obs == nil {
			continue
		}
		msgs = append(msgs, pkgkafka.Message{Key: []byte(obs.Symbol), Value: obs})
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaRecordPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
