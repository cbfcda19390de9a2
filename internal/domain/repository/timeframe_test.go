package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTimeframe(t *testing.T) {
	assert.Equal(t, TF1m, NormalizeTimeframe(""))
	assert.Equal(t, TF5m, NormalizeTimeframe("5m"))
	assert.Equal(t, TF1m, NormalizeTimeframe("1h"))
}

func TestTimeframeBucket(t *testing.T) {
	ts := time.Date(2025, 1, 2, 9, 33, 41, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 1, 2, 9, 33, 0, 0, time.UTC), TF1m.Bucket(ts))
	assert.Equal(t, time.Date(2025, 1, 2, 9, 30, 0, 0, time.UTC), TF5m.Bucket(ts))
	assert.Equal(t, ts, TF1s.Bucket(ts))
	assert.Equal(t, time.Second, TF1s.Duration())
}
