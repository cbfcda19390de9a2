package repository

import (
	"context"
	"errors"
	"time"

	"TAMObserver/internal/domain/models"
)

// ErrNotFound is returned when a lookup has no result.
var ErrNotFound = errors.New("not found")

type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// RecordPublisher pushes observations to downstream consumers.
type RecordPublisher interface {
	Publish(ctx context.Context, obs *models.StreamObservation) error
	PublishBatch(ctx context.Context, obs []*models.StreamObservation) error
	Close() error
}

// RecordStore persists observations for later inspection.
type RecordStore interface {
	Init(ctx context.Context) error
	Store(ctx context.Context, obs *models.StreamObservation) error
	StoreBatch(ctx context.Context, obs []*models.StreamObservation) error
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.StreamObservation, error)
	Health(ctx context.Context) error
	Close() error
}

// LatestRecords keeps the most recent observation per stream.
type LatestRecords interface {
	PutLatest(ctx context.Context, obs *models.StreamObservation) error
	GetLatest(ctx context.Context, symbol string) (*models.StreamObservation, error)
}

type Metrics interface {
	RecordObservation(symbol string, state models.AdmissibilityState)
	RecordTransition(symbol, event string)
	RecordInvalidation(symbol, reason string)
	RecordRejectedBar(symbol string)
	RecordMessageSent(backend, symbol string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
