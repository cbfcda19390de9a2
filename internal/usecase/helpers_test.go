package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/pkg/config"
)

var testObserverConfig = config.ObserverConfig{
	ConstraintConfig: config.ConstraintConfig{FrictionFloor: 0.0015, MinMove: 0.01},
	Overrides: map[string]config.ConstraintConfig{
		"BTCUSDT": {FrictionFloor: 0.0005, MinMove: 0.02},
	},
}

func flatBar(i int, price float64) models.Bar {
	return models.Bar{
		Timestamp: fmt.Sprintf("2025-01-02T09:%02d:%02dZ", i/60, i%60),
		Open:      price,
		High:      price * 1.0005,
		Low:       price * 0.9995,
		Close:     price,
		Volume:    1000,
	}
}

// escapeRun is a quiet stretch followed by a steady advance; under the
// default test constraints it passes through TENSION into ESCAPE.
func escapeRun() []models.Bar {
	var out []models.Bar
	for i := 0; i < 20; i++ {
		out = append(out, flatBar(i, 100))
	}
	prev := 100.0
	for i := 0; i < 30; i++ {
		next := prev * 1.002
		out = append(out, models.Bar{
			Timestamp: fmt.Sprintf("2025-01-02T10:%02d:00Z", i),
			Open:      prev,
			High:      next * 1.0001,
			Low:       prev * 0.9999,
			Close:     next,
			Volume:    1500,
		})
		prev = next
	}
	return out
}

type fakeMetrics struct {
	mu          sync.Mutex
	observed    map[models.AdmissibilityState]int
	transitions []string
	rejected    int
	sent        map[string]int
	errs        []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{observed: map[models.AdmissibilityState]int{}, sent: map[string]int{}}
}

func (m *fakeMetrics) RecordObservation(_ string, s models.AdmissibilityState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observed[s]++
}

func (m *fakeMetrics) RecordTransition(_, event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, event)
}

func (m *fakeMetrics) RecordInvalidation(string, string) {}

func (m *fakeMetrics) RecordRejectedBar(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected++
}

func (m *fakeMetrics) RecordMessageSent(backend, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[backend]++
}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, kind)
}

func (m *fakeMetrics) RecordLatency(string, float64) {}

func (m *fakeMetrics) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errs...)
}

// memSink implements RecordPublisher and RecordStore.
type memSink struct {
	mu   sync.Mutex
	recs []*models.StreamObservation
	fail error
}

func (s *memSink) Init(context.Context) error { return nil }

func (s *memSink) Publish(_ context.Context, obs *models.StreamObservation) error {
	return s.PublishBatch(context.Background(), []*models.StreamObservation{obs})
}

func (s *memSink) PublishBatch(_ context.Context, batch []*models.StreamObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.recs = append(s.recs, batch...)
	return nil
}

func (s *memSink) Store(ctx context.Context, obs *models.StreamObservation) error {
	return s.Publish(ctx, obs)
}

func (s *memSink) StoreBatch(ctx context.Context, batch []*models.StreamObservation) error {
	return s.PublishBatch(ctx, batch)
}

func (s *memSink) Query(context.Context, string, time.Time, time.Time, int) ([]*models.StreamObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.StreamObservation(nil), s.recs...), nil
}

func (s *memSink) Health(context.Context) error { return nil }
func (s *memSink) Close() error                 { return nil }

func (s *memSink) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type memLatest struct {
	mu sync.Mutex
	m  map[string]*models.StreamObservation
}

func (l *memLatest) PutLatest(_ context.Context, obs *models.StreamObservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = map[string]*models.StreamObservation{}
	}
	l.m[obs.Symbol] = obs
	return nil
}

func (l *memLatest) GetLatest(_ context.Context, symbol string) (*models.StreamObservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	obs, ok := l.m[symbol]
	if !ok {
		return nil, domrepo.ErrNotFound
	}
	return obs, nil
}

// fakeCandles serves a fixed candle slice and counts reads.
type fakeCandles struct {
	mu      sync.Mutex
	candles []models.Candle
	err     error
	calls   int
}

func (f *fakeCandles) GetCandles(_ context.Context, symbol string, from, to time.Time, _ domrepo.Timeframe) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Candle
	for _, c := range f.candles {
		if c.Symbol == symbol && !c.Bucket.Before(from) && !c.Bucket.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCandles) GetLatestNCandles(_ context.Context, symbol string, n int, _ domrepo.Timeframe) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Candle
	for _, c := range f.candles {
		if c.Symbol == symbol {
			out = append(out, c)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (f *fakeCandles) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// minuteCandles builds n one-minute candles for symbol starting at start,
// drifting by step per bar.
func minuteCandles(symbol string, start time.Time, n int, step float64) []models.Candle {
	out := make([]models.Candle, n)
	price := 100.0
	for i := range out {
		next := price * (1 + step)
		out[i] = models.Candle{
			Bucket: start.Add(time.Duration(i) * time.Minute),
			Symbol: symbol,
			Open:   price,
			High:   max(price, next) * 1.0002,
			Low:    min(price, next) * 0.9998,
			Close:  next,
			Volume: 10,
		}
		price = next
	}
	return out
}

var errSinkDown = errors.New("sink down")
