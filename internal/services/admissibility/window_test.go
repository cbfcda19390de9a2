package admissibility

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
)

func stamp(i int) models.Bar {
	return models.Bar{Timestamp: fmt.Sprintf("t%03d", i), Open: 1, High: 1, Low: 1, Close: 1}
}

func TestWindow_PushAndEvict(t *testing.T) {
	w := NewWindow(3)
	assert.Equal(t, 0.0, w.FillRatio())
	assert.Empty(t, w.Snapshot())

	for i := 0; i < 5; i++ {
		w.Push(stamp(i))
	}

	snap := w.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "t002", snap[0].Timestamp)
	assert.Equal(t, "t004", snap[2].Timestamp)
	assert.Equal(t, 1.0, w.FillRatio())
}

func TestWindow_DefaultCapacityAndPartialFill(t *testing.T) {
	w := NewWindow(0)
	assert.Equal(t, WindowSize, w.Capacity())

	for i := 0; i < 16; i++ {
		w.Push(stamp(i))
	}
	assert.Equal(t, 16, w.Len())
	assert.InDelta(t, 0.25, w.FillRatio(), 1e-12)
}

func TestWindow_SnapshotIsCopy(t *testing.T) {
	w := NewWindow(2)
	w.Push(stamp(1))
	snap := w.Snapshot()
	snap[0].Timestamp = "mutated"
	assert.Equal(t, "t001", w.Snapshot()[0].Timestamp)
}
