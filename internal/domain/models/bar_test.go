package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarValidate(t *testing.T) {
	ok := Bar{Timestamp: "2025-01-02T09:30:00", Open: 100, High: 101, Low: 99.5, Close: 100.5, Volume: 10}
	require.NoError(t, ok.Validate())

	flat := Bar{Timestamp: "t", Open: 5, High: 5, Low: 5, Close: 5}
	require.NoError(t, flat.Validate(), "zero-range bars are structurally valid")

	cases := map[string]struct {
		bar   Bar
		field string
	}{
		"high below low":   {Bar{Open: 100, High: 99, Low: 101, Close: 100}, "low"},
		"open above high":  {Bar{Open: 102, High: 101, Low: 99, Close: 100}, "open"},
		"close below low":  {Bar{Open: 100, High: 101, Low: 99, Close: 98}, "close"},
		"negative volume":  {Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: -1}, "volume"},
		"negative price":   {Bar{Open: -1, High: 1, Low: -2, Close: 0}, "open"},
		"nan close":        {Bar{Open: 100, High: 101, Low: 99, Close: math.NaN()}, "close"},
		"infinite volumes": {Bar{Open: 100, High: 101, Low: 99, Close: 100, Volume: math.Inf(1)}, "volume"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := tc.bar.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
}

func TestObservationRecordJSON(t *testing.T) {
	rec := ObservationRecord{
		Timestamp:     "2025-01-02T09:30:00",
		State:         StateEscape,
		DominantMode:  ModeUnknown,
		FrictionFloor: 0.0015,
		MinMove:       0.01,
		MReq:          0.013,
		Diagnostics:   DiagnosticVector{DiagEscapeSlope: 1.2},
		BoundaryEvent: "TENSION->ESCAPE",
	}
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, true, m["admissible"])
	assert.Equal(t, "ESCAPE", m["state"])
	assert.NotContains(t, m, "invalidation_reason")

	var back ObservationRecord
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, rec, back)
}

func TestCandleBar(t *testing.T) {
	c := Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3}
	b := c.Bar()
	assert.Equal(t, "0001-01-01T00:00:00Z", b.Timestamp)
	assert.Equal(t, 1.5, b.Close)
	assert.NoError(t, b.Validate())
}

func TestDiagnosticVectorClone(t *testing.T) {
	d := DiagnosticVector{DiagPersistence: 3}
	c := d.Clone()
	c[DiagPersistence] = 4
	assert.Equal(t, 3.0, d[DiagPersistence])
}
