package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/pkg/logger"
)

// Backends an ObservationProcessor can route to.
const (
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
	BackendBoth       = "both"
)

// ObservationProcessor classifies bars through the registry and routes the
// resulting observations to the configured backend(s).
type ObservationProcessor struct {
	registry *StreamRegistry
	pub      domrepo.RecordPublisher
	store    domrepo.RecordStore
	latest   domrepo.LatestRecords
	metrics  domrepo.Metrics
	log      *logger.Logger
	backend  string
}

// NewObservationProcessor wires the sinks. latest may be nil when no cache is
// configured.
func NewObservationProcessor(
	registry *StreamRegistry,
	pub domrepo.RecordPublisher,
	store domrepo.RecordStore,
	latest domrepo.LatestRecords,
	metrics domrepo.Metrics,
	log *logger.Logger,
	backend string,
) *ObservationProcessor {
	if log == nil {
		log = logger.Nop()
	}
	return &ObservationProcessor{
		registry: registry,
		pub:      pub,
		store:    store,
		latest:   latest,
		metrics:  metrics,
		log:      log,
		backend:  backend,
	}
}

func (p *ObservationProcessor) Registry() *StreamRegistry { return p.registry }

// Ingest observes bar on symbol's live stream and delivers the observation.
// Validation failures are counted and returned without touching any sink. A
// sink failure returns the observation together with the error; ingesting the
// same bar again re-delivers it without advancing the stream.
func (p *ObservationProcessor) Ingest(ctx context.Context, symbol string, bar models.Bar) (*models.StreamObservation, error) {
	start := time.Now()
	obs, fresh, err := p.registry.Observe(ctx, symbol, bar)
	if err != nil {
		if errors.Is(err, models.ErrValidation) {
			p.metrics.RecordRejectedBar(symbol)
			p.log.Debug("bar rejected", logger.String("symbol", symbol), logger.Error(err))
		} else {
			p.metrics.RecordError("observe")
		}
		return nil, err
	}
	if fresh {
		p.recordMetrics(obs)
	}
	if err := p.Process(ctx, obs); err != nil {
		return obs, err
	}
	p.metrics.RecordLatency("ingest", time.Since(start).Seconds())
	return obs, nil
}

func (p *ObservationProcessor) recordMetrics(obs *models.StreamObservation) {
	rec := obs.Record
	p.metrics.RecordObservation(obs.Symbol, rec.State)
	if rec.BoundaryEvent != "" {
		p.metrics.RecordTransition(obs.Symbol, rec.BoundaryEvent)
	}
	if rec.InvalidationReason != "" {
		p.metrics.RecordInvalidation(obs.Symbol, rec.InvalidationReason)
	}
}

// Process delivers one observation to the configured backend(s) and refreshes
// the latest-record cache.
func (p *ObservationProcessor) Process(ctx context.Context, obs *models.StreamObservation) error {
	if obs == nil {
		return fmt.Errorf("observation is nil")
	}
	start := time.Now()

	err := p.route(
		func() error { return p.pub.Publish(ctx, obs) },
		func() error { return p.store.Store(ctx, obs) },
		func(backend string) { p.metrics.RecordMessageSent(backend, obs.Symbol) },
	)
	if err != nil {
		p.metrics.RecordError("process")
		return fmt.Errorf("process observation %s#%d: %w", obs.Symbol, obs.Seq, err)
	}
	p.putLatest(ctx, obs)
	p.metrics.RecordLatency("process", time.Since(start).Seconds())
	return nil
}

// ProcessBatch delivers observations in one write per backend.
func (p *ObservationProcessor) ProcessBatch(ctx context.Context, batch []*models.StreamObservation) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()

	err := p.route(
		func() error { return p.pub.PublishBatch(ctx, batch) },
		func() error { return p.store.StoreBatch(ctx, batch) },
		func(backend string) {
			for _, obs := range batch {
				p.metrics.RecordMessageSent(backend, obs.Symbol)
			}
		},
	)
	if err != nil {
		p.metrics.RecordError("process_batch")
		return fmt.Errorf("process batch: %w", err)
	}
	p.metrics.RecordLatency("process_batch", time.Since(start).Seconds())
	return nil
}

func (p *ObservationProcessor) route(publish, store func() error, sent func(string)) error {
	var errs []error
	if p.backend == BackendKafka || p.backend == BackendBoth {
		if p.pub == nil {
			errs = append(errs, fmt.Errorf("kafka backend not configured"))
		} else if err := publish(); err != nil {
			errs = append(errs, err)
		} else {
			sent(BackendKafka)
		}
	}
	if p.backend == BackendClickHouse || p.backend == BackendBoth {
		if p.store == nil {
			errs = append(errs, fmt.Errorf("clickhouse backend not configured"))
		} else if err := store(); err != nil {
			errs = append(errs, err)
		} else {
			sent(BackendClickHouse)
		}
	}
	switch p.backend {
	case BackendKafka, BackendClickHouse, BackendBoth:
	default:
		errs = append(errs, fmt.Errorf("unknown backend: %s", p.backend))
	}
	return errors.Join(errs...)
}

func (p *ObservationProcessor) putLatest(ctx context.Context, obs *models.StreamObservation) {
	if p.latest == nil {
		return
	}
	if err := p.latest.PutLatest(ctx, obs); err != nil {
		p.metrics.RecordError("latest_cache")
		p.log.Warn("latest cache update failed", logger.String("symbol", obs.Symbol), logger.Error(err))
	}
}

// Close releases the sinks.
func (p *ObservationProcessor) Close() {
	if p.pub != nil {
		_ = p.pub.Close()
	}
	if p.store != nil {
		_ = p.store.Close()
	}
}
