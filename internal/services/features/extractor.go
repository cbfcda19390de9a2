package features

import (
	"math"

	"TAMObserver/internal/domain/models"
)

// ComputeLogReturns computes log returns r_t = ln(C_t / C_{t-1}).
// It returns a slice of length len(candles)-1, or nil if insufficient data.
// Pairs with a non-positive close contribute 0.
func ComputeLogReturns(candles []models.Candle) []float64 {
	if len(candles) < 2 {
		return nil
	}
	out := make([]float64, 0, len(candles)-1)
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		cur := candles[i].Close
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the last window
// returns, annualized with barsPerYear. It is 0 when fewer than window
// returns are available.
func RealizedVolatility(logReturns []float64, window int, barsPerYear float64) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	rs := logReturns[len(logReturns)-window:]

	// deviations are taken from the first return, so a constant series is
	// exactly zero
	shift := rs[0]
	mean := 0.0
	for _, r := range rs {
		mean += r - shift
	}
	mean /= float64(window)

	ss := 0.0
	for _, r := range rs {
		d := r - shift - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(window-1) * barsPerYear)
}

// BarsPerYear returns the approximate number of bars of width tf per year.
func BarsPerYear(tf string) float64 {
	switch tf {
	case "1s":
		return 365 * 24 * 60 * 60
	case "5m":
		return 365 * 24 * 12
	default:
		return 365 * 24 * 60
	}
}
