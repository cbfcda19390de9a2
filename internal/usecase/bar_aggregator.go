package usecase

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
)

// ErrLateTrade is returned for a trade whose bucket has already closed.
var ErrLateTrade = errors.New("trade belongs to a closed bar")

// BarAggregator buckets trades into OHLCV candles per symbol. A candle
// closes when a trade for a later bucket arrives or when FlushBefore passes
// its end.
type BarAggregator struct {
	tf domrepo.Timeframe

	mu     sync.Mutex
	open   map[string]*models.Candle
	closed map[string]time.Time // bucket of the last closed candle
}

func NewBarAggregator(tf domrepo.Timeframe) *BarAggregator {
	return &BarAggregator{
		tf:     tf,
		open:   make(map[string]*models.Candle),
		closed: make(map[string]time.Time),
	}
}

func (a *BarAggregator) Timeframe() domrepo.Timeframe { return a.tf }

func validateTrade(t *models.Trade) error {
	if t == nil {
		return fmt.Errorf("trade nil")
	}
	if strings.TrimSpace(t.Symbol) == "" {
		return fmt.Errorf("symbol empty")
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp invalid")
	}
	if math.IsNaN(t.Price) || math.IsInf(t.Price, 0) || t.Price <= 0 {
		return fmt.Errorf("price invalid: %v", t.Price)
	}
	if math.IsNaN(t.Volume) || math.IsInf(t.Volume, 0) || t.Volume < 0 {
		return fmt.Errorf("volume invalid: %v", t.Volume)
	}
	return nil
}

// Add folds t into its symbol's open candle. When t opens a later bucket the
// previous candle is returned as closed.
func (a *BarAggregator) Add(t *models.Trade) (*models.Candle, error) {
	if err := validateTrade(t); err != nil {
		return nil, err
	}
	bucket := a.tf.Bucket(time.UnixMilli(t.Timestamp))

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.open[t.Symbol]
	if cur == nil {
		if last, ok := a.closed[t.Symbol]; ok && !bucket.After(last) {
			return nil, ErrLateTrade
		}
		a.open[t.Symbol] = newCandle(t, bucket)
		return nil, nil
	}

	switch {
	case bucket.Before(cur.Bucket):
		return nil, ErrLateTrade
	case bucket.Equal(cur.Bucket):
		cur.High = math.Max(cur.High, t.Price)
		cur.Low = math.Min(cur.Low, t.Price)
		cur.Close = t.Price
		cur.Volume += t.Volume
		return nil, nil
	}

	a.closed[t.Symbol] = cur.Bucket
	a.open[t.Symbol] = newCandle(t, bucket)
	return cur, nil
}

// FlushBefore closes every open candle whose bucket ended at or before
// cutoff, ordered by symbol.
func (a *BarAggregator) FlushBefore(cutoff time.Time) []models.Candle {
	width := a.tf.Duration()

	a.mu.Lock()
	defer a.mu.Unlock()

	var out []models.Candle
	for sym, c := range a.open {
		if c.Bucket.Add(width).After(cutoff) {
			continue
		}
		out = append(out, *c)
		a.closed[sym] = c.Bucket
		delete(a.open, sym)
	}
	slices.SortFunc(out, func(x, y models.Candle) int { return strings.Compare(x.Symbol, y.Symbol) })
	return out
}

func newCandle(t *models.Trade, bucket time.Time) *models.Candle {
	return &models.Candle{
		Bucket: bucket,
		Symbol: t.Symbol,
		Open:   t.Price,
		High:   t.Price,
		Low:    t.Price,
		Close:  t.Price,
		Volume: t.Volume,
	}
}
