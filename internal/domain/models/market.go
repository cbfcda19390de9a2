package models

import "time"

// Regime is the label returned by the remote regime detector.
type Regime struct {
	Symbol     string
	Timestamp  time.Time
	State      string    // "bull", "bear", "volatile", "quiet"
	Prob       []float64 // probabilities per state
	Confidence float64
}

// Trade is a single print received from the live market stream.
type Trade struct {
	Symbol    string   `json:"s"`
	Price     float64  `json:"p"`
	Volume    float64  `json:"v"`
	Timestamp int64    `json:"t"` // unix milliseconds
	Condition []string `json:"c,omitempty"`
}

// Candle represents an OHLCV record stored in ClickHouse.
type Candle struct {
	Bucket time.Time
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Bar converts the candle into an observation input keyed by its bucket time.
func (c Candle) Bar() Bar {
	return Bar{
		Timestamp: c.Bucket.UTC().Format(time.RFC3339),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// Flat reports a candle that traded at a single price, such as a bucket
// holding one trade.
func (c Candle) Flat() bool { return c.High == c.Low && c.Volume > 0 }

// Absorb folds an earlier candle of the same symbol into c. The result keeps
// c's bucket and close and takes the earlier open.
func (c Candle) Absorb(prev Candle) Candle {
	c.Open = prev.Open
	c.High = max(c.High, prev.High)
	c.Low = min(c.Low, prev.Low)
	c.Volume += prev.Volume
	return c
}
