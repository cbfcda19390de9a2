package models

import "math"

// Bar is one OHLCV interval. Timestamp is an opaque, sortable token; the
// observer never parses it.
type Bar struct {
	Timestamp string  `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Validate checks the OHLC envelope and sign constraints of the bar.
func (b Bar) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
		{"volume", b.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Timestamp: b.Timestamp, Field: f.name, Reason: "must be finite"}
		}
		if f.value < 0 {
			return &ValidationError{Timestamp: b.Timestamp, Field: f.name, Reason: "must be non-negative"}
		}
	}
	if b.Low > b.High {
		return &ValidationError{Timestamp: b.Timestamp, Field: "low", Reason: "low exceeds high"}
	}
	if b.Open < b.Low || b.Open > b.High {
		return &ValidationError{Timestamp: b.Timestamp, Field: "open", Reason: "open outside [low, high]"}
	}
	if b.Close < b.Low || b.Close > b.High {
		return &ValidationError{Timestamp: b.Timestamp, Field: "close", Reason: "close outside [low, high]"}
	}
	return nil
}

// Range is High-Low.
func (b Bar) Range() float64 { return b.High - b.Low }
