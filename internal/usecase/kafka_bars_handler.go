package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	pkgkafka "TAMObserver/pkg/kafka"
)

// BarIngester is the part of ObservationProcessor the bar consumers need.
type BarIngester interface {
	Ingest(ctx context.Context, symbol string, bar models.Bar) (*models.StreamObservation, error)
}

// KafkaBarsHandler feeds bars from a Kafka topic into the live streams.
type KafkaBarsHandler struct {
	topic   string
	ingest  BarIngester
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, ingest BarIngester, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, ingest: ingest, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// barMessage is the wire form: {symbol, t, o, h, l, c, v}. t is unix seconds
// or milliseconds.
type barMessage struct {
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

func (m barMessage) eventTime() time.Time {
	if m.T > 1e11 {
		return time.UnixMilli(m.T).UTC()
	}
	return time.Unix(m.T, 0).UTC()
}

func (m barMessage) bar() models.Bar {
	return models.Bar{
		Timestamp: m.eventTime().Format(time.RFC3339),
		Open:      m.O,
		High:      m.H,
		Low:       m.L,
		Close:     m.C,
		Volume:    m.V,
	}
}

// Handle observes one bar. Undecodable messages are permanent failures.
// Invalid bars are counted by the processor and acknowledged, since a retry
// cannot fix them. Sink errors are returned so the consumer retries; the
// message id travels as the delivery id, so the registry recognises the
// redelivered bar and does not observe it twice.
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m barMessage
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("decode bar: %w", err))
	}
	if m.Symbol == "" || m.T <= 0 {
		h.metrics.RecordError("consumer_unmarshal")
		return pkgkafka.Permanent(fmt.Errorf("bar message missing symbol or t"))
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(m.eventTime()).Seconds())

	_, err := h.ingest.Ingest(WithDeliveryID(ctx, pkgkafka.MessageID(ctx)), m.Symbol, m.bar())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrValidation):
		return nil
	case errors.Is(err, models.ErrConfiguration):
		return pkgkafka.Permanent(err)
	default:
		h.metrics.RecordError("consumer_ingest")
		return err
	}
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
