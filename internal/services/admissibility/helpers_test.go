package admissibility

import (
	"fmt"

	"TAMObserver/internal/domain/models"
)

var testConstraints = models.MustExecutionConstraints(0.0015, 0.01)

// flatBars returns n identical bars with a 0.1% range around price.
func flatBars(n int, price float64) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		out[i] = models.Bar{
			Timestamp: fmt.Sprintf("flat-%03d", i),
			Open:      price,
			High:      price * 1.0005,
			Low:       price * 0.9995,
			Close:     price,
			Volume:    1000,
		}
	}
	return out
}

// trendBars continues from prev with n bars, each closing step (fractional)
// beyond the previous close.
func trendBars(prev float64, n int, step float64) []models.Bar {
	out := make([]models.Bar, n)
	for i := range out {
		next := prev * (1 + step)
		hi, lo := max(prev, next), min(prev, next)
		out[i] = models.Bar{
			Timestamp: fmt.Sprintf("run-%03d", i),
			Open:      prev,
			High:      hi * 1.0001,
			Low:       lo * 0.9999,
			Close:     next,
			Volume:    1500,
		}
		prev = next
	}
	return out
}

func concat(parts ...[]models.Bar) []models.Bar {
	var out []models.Bar
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
