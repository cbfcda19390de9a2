package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
)

type fakeDetector struct {
	mu     sync.Mutex
	state  string
	err    error
	called map[string]int
}

func (d *fakeDetector) Detect(_ context.Context, symbol string, returns []float64) (models.Regime, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.called == nil {
		d.called = map[string]int{}
	}
	d.called[symbol]++
	if d.err != nil {
		return models.Regime{}, d.err
	}
	return models.Regime{Symbol: symbol, State: d.state, Confidence: 0.8}, nil
}

func (d *fakeDetector) set(state string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state, d.err = state, err
}

func newTestGate(det *fakeDetector, symbols ...string) (*RegimeGate, *time.Time) {
	src := &fakeCandles{}
	for _, sym := range symbols {
		src.candles = append(src.candles, minuteCandles(sym, replayStart, 40, 0.001)...)
	}
	gate := NewRegimeGate(src, det, func() []string { return symbols }, RegimeGateConfig{
		Timeframe:    domrepo.TF1m,
		Lookback:     30,
		Interval:     time.Minute,
		VetoedStates: []string{"Volatile"},
	}, nil)
	now := replayStart
	gate.now = func() time.Time { return now }
	return gate, &now
}

func TestRegimeGate_VetoesConfiguredStates(t *testing.T) {
	det := &fakeDetector{state: "volatile"}
	gate, _ := newTestGate(det, "AAPL")

	reason, vetoed := gate.For("AAPL").Veto(models.Bar{}, nil)
	assert.False(t, vetoed, "no label yet")
	assert.Empty(t, reason)

	st, err := gate.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.True(t, st.Vetoed)

	reason, vetoed = gate.For("AAPL").Veto(models.Bar{}, nil)
	assert.True(t, vetoed)
	assert.Equal(t, "regime volatile (confidence 0.80)", reason)

	_, vetoed = gate.For("MSFT").Veto(models.Bar{}, nil)
	assert.False(t, vetoed)

	det.set("quiet", nil)
	_, err = gate.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)
	_, vetoed = gate.For("AAPL").Veto(models.Bar{}, nil)
	assert.False(t, vetoed)
}

func TestRegimeGate_StaleLabelStopsVetoing(t *testing.T) {
	det := &fakeDetector{state: "volatile"}
	gate, now := newTestGate(det, "AAPL")
	_, err := gate.Refresh(context.Background(), "AAPL")
	require.NoError(t, err)

	*now = now.Add(3 * time.Minute)
	_, vetoed := gate.For("AAPL").Veto(models.Bar{}, nil)
	assert.True(t, vetoed)

	*now = now.Add(time.Second)
	_, vetoed = gate.For("AAPL").Veto(models.Bar{}, nil)
	assert.False(t, vetoed)

	st, ok := gate.Status("AAPL")
	require.True(t, ok)
	assert.Equal(t, "volatile", st.State)
}

func TestRegimeGate_FailedRefreshKeepsLabel(t *testing.T) {
	det := &fakeDetector{state: "volatile"}
	gate, _ := newTestGate(det, "AAPL", "MSFT")
	gate.RefreshAll(context.Background())

	det.set("", errors.New("analytics down"))
	gate.RefreshAll(context.Background())

	st, ok := gate.Status("MSFT")
	require.True(t, ok)
	assert.True(t, st.Vetoed)
	assert.Equal(t, 2, det.called["AAPL"])
}

func TestRegimeGate_NeedsCandles(t *testing.T) {
	gate, _ := newTestGate(&fakeDetector{state: "bull"})
	_, err := gate.Refresh(context.Background(), "AAPL")
	assert.ErrorContains(t, err, "not enough candles")
	_, ok := gate.Status("AAPL")
	assert.False(t, ok)
}

func TestRegimeGate_StartRefreshesImmediately(t *testing.T) {
	det := &fakeDetector{state: "bull"}
	gate, _ := newTestGate(det, "AAPL")
	gate.Start(context.Background())
	defer gate.Stop()

	require.Eventually(t, func() bool {
		_, ok := gate.Status("AAPL")
		return ok
	}, time.Second, 10*time.Millisecond)
}
