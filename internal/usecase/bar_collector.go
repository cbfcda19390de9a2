package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	drepo "TAMObserver/internal/domain/repository"
	mid "TAMObserver/internal/middleware"
	"TAMObserver/pkg/logger"
)

// CandleWriter persists closed candles so replays can see live data.
type CandleWriter interface {
	StoreCandles(ctx context.Context, tf drepo.Timeframe, candles []models.Candle) error
}

// BarCollector reads live trades, aggregates them into bars and feeds the
// closed bars through the pipeline into the live streams.
type BarCollector struct {
	stream  drepo.MarketStream
	agg     *BarAggregator
	pipe    *mid.RealtimePipeline
	candles CandleWriter
	metrics drepo.Metrics
	log     *logger.Logger

	// grace is how long past a bucket's end FlushBefore waits for stragglers.
	grace time.Duration
	now   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBarCollector wires the collector. candles may be nil.
func NewBarCollector(
	stream drepo.MarketStream,
	agg *BarAggregator,
	pipe *mid.RealtimePipeline,
	candles CandleWriter,
	metrics drepo.Metrics,
	log *logger.Logger,
) *BarCollector {
	if log == nil {
		log = logger.Nop()
	}
	return &BarCollector{
		stream:  stream,
		agg:     agg,
		pipe:    pipe,
		candles: candles,
		metrics: metrics,
		log:     log.With(logger.String("component", "bar_collector")),
		grace:   2 * time.Second,
		now:     time.Now,
	}
}

// IsConnected returns true if the market stream is connected.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.pipe.Start(ctx)
	c.wg.Add(1)
	go c.consume(ctx)
	return nil
}

func (c *BarCollector) consume(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.flushInterval())
	defer ticker.Stop()

	trCh, errCh := c.stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.emit(ctx, c.agg.FlushBefore(c.now().Add(-c.grace)))
		case err, ok := <-errCh:
			if ok && err == nil {
				continue
			}
			if err != nil {
				c.metrics.RecordError("stream")
				c.log.Warn("market stream failed, reconnecting", logger.Error(err))
			}
			if !c.reconnect(ctx) {
				return
			}
			trCh, errCh = c.stream.Read(ctx)
		case t, ok := <-trCh:
			if !ok {
				// the error channel reports why; wait for it
				trCh = nil
				continue
			}
			c.handleTrade(ctx, t)
		}
	}
}

func (c *BarCollector) reconnect(ctx context.Context) bool {
	for {
		err := c.stream.Reconnect(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.metrics.RecordError("stream_reconnect")
		c.log.Warn("reconnect failed", logger.Error(err))
	}
}

func (c *BarCollector) handleTrade(ctx context.Context, t *models.Trade) {
	closed, err := c.agg.Add(t)
	if err != nil {
		if errors.Is(err, ErrLateTrade) {
			c.metrics.RecordError("late_trade")
		} else {
			c.metrics.RecordError("invalid_trade")
		}
		return
	}
	if closed != nil {
		c.emit(ctx, []models.Candle{*closed})
	}
}

func (c *BarCollector) emit(ctx context.Context, closed []models.Candle) {
	if len(closed) == 0 {
		return
	}
	if c.candles != nil {
		if err := c.candles.StoreCandles(ctx, c.agg.Timeframe(), closed); err != nil {
			c.metrics.RecordError("candle_store")
			c.log.Warn("store candles failed", logger.Int("count", len(closed)), logger.Error(err))
		}
	}
	for _, cd := range closed {
		if err := c.pipe.Process(ctx, cd); err != nil {
			c.log.Debug("bar not delivered",
				logger.String("symbol", cd.Symbol),
				logger.String("bucket", cd.Bucket.Format(time.RFC3339)),
				logger.Error(err))
		}
	}
}

func (c *BarCollector) flushInterval() time.Duration {
	d := c.agg.Timeframe().Duration()
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

// Shutdown stops the pipeline and closes the stream. The open partial bars
// are discarded.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	err := c.stream.Close()
	c.pipe.Stop()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}
