package middleware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
)

type nopMetrics struct {
	mu   sync.Mutex
	errs []string
}

func (m *nopMetrics) RecordObservation(string, models.AdmissibilityState) {}
func (m *nopMetrics) RecordTransition(string, string)                     {}
func (m *nopMetrics) RecordInvalidation(string, string)                   {}
func (m *nopMetrics) RecordRejectedBar(string)                            {}
func (m *nopMetrics) RecordMessageSent(string, string)                    {}
func (m *nopMetrics) RecordLatency(string, float64)                       {}

func (m *nopMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, kind)
}

func (m *nopMetrics) has(kind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.errs {
		if k == kind {
			return true
		}
	}
	return false
}

// flakyProc observes every bar but fails delivery while down is set.
type flakyProc struct {
	mu        sync.Mutex
	down      bool
	ingested  []models.Bar
	delivered []*models.StreamObservation
}

var errDown = errors.New("downstream unavailable")

func (p *flakyProc) Ingest(ctx context.Context, symbol string, bar models.Bar) (*models.StreamObservation, error) {
	p.mu.Lock()
	p.ingested = append(p.ingested, bar)
	obs := &models.StreamObservation{Symbol: symbol, Seq: uint64(len(p.ingested))}
	p.mu.Unlock()
	return obs, p.Process(ctx, obs)
}

func (p *flakyProc) Process(_ context.Context, obs *models.StreamObservation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return errDown
	}
	p.delivered = append(p.delivered, obs)
	return nil
}

func (p *flakyProc) setDown(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.down = v
}

func (p *flakyProc) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ingested), len(p.delivered)
}

var t0 = time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC)

func candle(symbol string, minute int) models.Candle {
	return models.Candle{
		Bucket: t0.Add(time.Duration(minute) * time.Minute),
		Symbol: symbol,
		Open:   10, High: 11, Low: 9, Close: 10.5, Volume: 1,
	}
}

func TestRealtimePipeline_DropsNonAdvancingBuckets(t *testing.T) {
	proc := &flakyProc{}
	m := &nopMetrics{}
	p := NewRealtimePipeline(proc, m)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, candle("AAPL", 1)))
	require.NoError(t, p.Process(ctx, candle("AAPL", 1)))
	require.NoError(t, p.Process(ctx, candle("AAPL", 0)))
	require.NoError(t, p.Process(ctx, candle("MSFT", 0)))
	require.NoError(t, p.Process(ctx, candle("AAPL", 2)))

	ingested, delivered := proc.counts()
	assert.Equal(t, 3, ingested)
	assert.Equal(t, 3, delivered)
	assert.True(t, m.has("pipeline_out_of_order"))

	assert.Error(t, p.Process(ctx, models.Candle{}))
}

func TestRealtimePipeline_RedeliversFailedObservations(t *testing.T) {
	proc := &flakyProc{down: true}
	m := &nopMetrics{}
	p := NewRealtimePipeline(proc, m, WithRetryBackoff(5*time.Millisecond, 20*time.Millisecond))
	ctx := context.Background()

	err := p.Process(ctx, candle("AAPL", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 1, p.Pending())

	p.Start(ctx)
	defer p.Stop()
	time.Sleep(30 * time.Millisecond)
	proc.setDown(false)

	require.Eventually(t, func() bool {
		_, delivered := proc.counts()
		return delivered == 1
	}, time.Second, 5*time.Millisecond)

	ingested, _ := proc.counts()
	assert.Equal(t, 1, ingested, "redelivery must not observe the bar again")
	assert.True(t, m.has("pipeline_flush"))
}

func flat(symbol string, minute int, price, volume float64) models.Candle {
	return models.Candle{
		Bucket: t0.Add(time.Duration(minute) * time.Minute),
		Symbol: symbol,
		Open:   price, High: price, Low: price, Close: price, Volume: volume,
	}
}

func TestRealtimePipeline_HoldsFlatBucketUntilNextCandle(t *testing.T) {
	proc := &flakyProc{}
	m := &nopMetrics{}
	p := NewRealtimePipeline(proc, m)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, flat("AAPL", 0, 12, 2)))
	ingested, _ := proc.counts()
	assert.Equal(t, 0, ingested)
	assert.True(t, m.has("pipeline_flat_bucket"))

	require.NoError(t, p.Process(ctx, candle("MSFT", 1)))
	require.NoError(t, p.Process(ctx, candle("AAPL", 1)))
	require.Len(t, proc.ingested, 2)
	assert.Equal(t, candle("MSFT", 1).Bar(), proc.ingested[0])
	assert.Equal(t, models.Bar{
		Timestamp: t0.Add(time.Minute).Format(time.RFC3339),
		Open:      12, High: 12, Low: 9, Close: 10.5, Volume: 3,
	}, proc.ingested[1])

	require.NoError(t, p.Process(ctx, candle("AAPL", 2)))
	require.Len(t, proc.ingested, 3)
	assert.Equal(t, candle("AAPL", 2).Bar(), proc.ingested[2], "held candle is consumed once")
}

func TestRealtimePipeline_FlatBucketsAccumulate(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, &nopMetrics{})
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, flat("AAPL", 0, 10, 1)))
	require.NoError(t, p.Process(ctx, flat("AAPL", 1, 10, 1)))
	ingested, _ := proc.counts()
	assert.Equal(t, 0, ingested)

	require.NoError(t, p.Process(ctx, flat("AAPL", 2, 10.25, 4)))
	require.Len(t, proc.ingested, 1)
	assert.Equal(t, models.Bar{
		Timestamp: t0.Add(2 * time.Minute).Format(time.RFC3339),
		Open:      10, High: 10.25, Low: 10, Close: 10.25, Volume: 6,
	}, proc.ingested[0])
	assert.NoError(t, proc.ingested[0].Validate())
}

func TestRealtimePipeline_ZeroVolumeFlatBucketPassesThrough(t *testing.T) {
	proc := &flakyProc{}
	p := NewRealtimePipeline(proc, &nopMetrics{})

	require.NoError(t, p.Process(context.Background(), flat("AAPL", 0, 10, 0)))
	ingested, _ := proc.counts()
	assert.Equal(t, 1, ingested)
}

func TestRealtimePipeline_BufferOverflow(t *testing.T) {
	proc := &flakyProc{down: true}
	m := &nopMetrics{}
	p := NewRealtimePipeline(proc, m, WithBufferSize(1))

	_ = p.Process(context.Background(), candle("AAPL", 0))
	_ = p.Process(context.Background(), candle("AAPL", 1))
	assert.Equal(t, 1, p.Pending())
	assert.True(t, m.has("pipeline_buffer_full"))
}
