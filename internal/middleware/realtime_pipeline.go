package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
)

// Proc is the minimal processor interface the pipeline needs.
type Proc interface {
	Ingest(ctx context.Context, symbol string, bar models.Bar) (*models.StreamObservation, error)
	Process(ctx context.Context, obs *models.StreamObservation) error
}

// RealtimePipeline sits between the bar aggregator and the stream processor.
// It drops candles that do not advance their symbol, holds flat buckets (a
// single price with volume, e.g. one trade) and folds them into the symbol's
// next candle, forwards the rest, and buffers observations whose delivery
// failed for background redelivery.
type RealtimePipeline struct {
	proc     Proc
	metrics  domrepo.Metrics
	bufSize  int
	bufCh    chan *models.StreamObservation
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-symbol last forwarded bucket
	held     map[string]models.Candle

	minDelay time.Duration
	maxDelay time.Duration
}

type PipelineOption func(*RealtimePipeline)

// WithBufferSize sets how many undelivered observations are held for retry.
func WithBufferSize(n int) PipelineOption {
	return func(p *RealtimePipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithRetryBackoff sets the redelivery backoff bounds.
func WithRetryBackoff(minDelay, maxDelay time.Duration) PipelineOption {
	return func(p *RealtimePipeline) {
		if minDelay > 0 && maxDelay >= minDelay {
			p.minDelay, p.maxDelay = minDelay, maxDelay
		}
	}
}

func NewRealtimePipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *RealtimePipeline {
	p := &RealtimePipeline{
		proc:     proc,
		metrics:  metrics,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
		held:     make(map[string]models.Candle),
		minDelay: 50 * time.Millisecond,
		maxDelay: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.StreamObservation, p.bufSize)
	return p
}

// Start launches background redelivery of buffered observations.
func (p *RealtimePipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := p.minDelay
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case obs := <-p.bufCh:
				if err := p.proc.Process(ctx, obs); err != nil {
					p.metrics.RecordError("pipeline_flush")
					select {
					case <-time.After(backoff):
					case <-p.stopCh:
						return
					case <-ctx.Done():
						return
					}
					backoff = min(backoff*2, p.maxDelay)
					p.buffer(obs)
					continue
				}
				backoff = p.minDelay
			}
		}
	}()
}

// Stop stops background redelivery. Buffered observations are dropped.
func (p *RealtimePipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	close(p.stopCh)
}

// Pending is the number of observations waiting for redelivery.
func (p *RealtimePipeline) Pending() int { return len(p.bufCh) }

// Process observes one closed candle. A candle whose bucket does not follow
// the last forwarded one for its symbol is dropped. A flat candle is held
// back; the observer would read its zero range as broken structure.
func (p *RealtimePipeline) Process(ctx context.Context, c models.Candle) error {
	start := time.Now()
	if c.Symbol == "" {
		p.metrics.RecordError("pipeline_validate")
		return fmt.Errorf("candle without symbol")
	}
	if !p.advance(c.Symbol, c.Bucket) {
		p.metrics.RecordError("pipeline_out_of_order")
		return nil
	}
	c, ready := p.fold(c)
	if !ready {
		p.metrics.RecordError("pipeline_flat_bucket")
		return nil
	}

	obs, err := p.proc.Ingest(ctx, c.Symbol, c.Bar())
	if err != nil {
		if obs == nil {
			return err
		}
		p.metrics.RecordError("pipeline_process")
		p.buffer(obs)
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func (p *RealtimePipeline) buffer(obs *models.StreamObservation) {
	select {
	case p.bufCh <- obs:
	default:
		p.metrics.RecordError("pipeline_buffer_full")
	}
}

// fold merges any held flat candle into c. ready is false when the result is
// still flat and has been held in its place.
func (p *RealtimePipeline) fold(c models.Candle) (models.Candle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.held[c.Symbol]; ok {
		delete(p.held, c.Symbol)
		c = c.Absorb(h)
	}
	if c.Flat() {
		p.held[c.Symbol] = c
		return c, false
	}
	return c, true
}

func (p *RealtimePipeline) advance(symbol string, bucket time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if last, ok := p.lastSeen[symbol]; ok && !bucket.After(last) {
		return false
	}
	p.lastSeen[symbol] = bucket
	return true
}
