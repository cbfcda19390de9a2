package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
environment: test
observer:
  friction_floor: 0.0015
  min_move: 0.01
  overrides:
    BTCUSDT:
      friction_floor: 0.0004
      min_move: 0.005
kafka:
  brokers: ["localhost:9092"]
finnhub:
  enabled: true
  api_key: secret
  symbols: ["AAPL", "BTCUSDT"]
`

func TestParse_DefaultsAndOverrides(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "test", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "both", c.Backend.Type)
	assert.Equal(t, "tam.bars", c.Kafka.BarsTopic)
	assert.Equal(t, 15*time.Second, c.Server.ShutdownTimeout)
	assert.Equal(t, "1m", c.Observer.Timeframe)
	assert.Equal(t, []string{"volatile"}, c.Analytics.RegimeVeto.VetoedStates)

	assert.Equal(t, ConstraintConfig{FrictionFloor: 0.0015, MinMove: 0.01}, c.Observer.ConstraintsFor("AAPL"))
	assert.Equal(t, ConstraintConfig{FrictionFloor: 0.0004, MinMove: 0.005}, c.Observer.ConstraintsFor("BTCUSDT"))
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"negative friction": "observer: {friction_floor: -1}\nkafka: {brokers: [x]}",
		"bad backend":       "backend: {type: s3}\nkafka: {brokers: [x]}",
		"no brokers":        "environment: dev",
		"finnhub w/o key":   "kafka: {brokers: [x]}\nfinnhub: {enabled: true, symbols: [A]}",
		"queue w/o redis":   "kafka: {brokers: [x]}\nqueue: {enabled: true}",
		"bad override":      "kafka: {brokers: [x]}\nobserver: {overrides: {A: {min_move: -0.1}}}",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	t.Setenv("SYMBOLS", "MSFT, NVDA,")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT", "NVDA"}, c.Finnhub.Symbols)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
}
