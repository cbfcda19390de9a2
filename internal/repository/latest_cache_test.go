package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	"TAMObserver/pkg/cache"
)

func TestLatestRecordCache(t *testing.T) {
	mem := cache.NewMemoryCache()
	defer mem.Close()
	lc := NewLatestRecordCache(mem, time.Hour)
	ctx := context.Background()

	_, err := lc.GetLatest(ctx, "AAPL")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)

	first := sampleObservation(1, "t1", models.StateTension)
	second := sampleObservation(2, "t2", models.StateEscape)
	require.NoError(t, lc.PutLatest(ctx, first))
	require.NoError(t, lc.PutLatest(ctx, second))

	got, err := lc.GetLatest(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Seq)
	assert.Equal(t, models.StateEscape, got.Record.State)
	assert.Equal(t, 1.25, got.Record.Diagnostics[models.DiagEscapeSlope])
	assert.True(t, observedAt.Equal(got.ObservedAt))

	many, err := lc.GetLatestMany(ctx, []string{"AAPL", "MSFT"})
	require.NoError(t, err)
	assert.Len(t, many, 1)
	assert.Equal(t, "t2", many["AAPL"].Record.Timestamp)

	require.NoError(t, lc.Forget(ctx, "AAPL"))
	_, err = lc.GetLatest(ctx, "AAPL")
	assert.ErrorIs(t, err, domrepo.ErrNotFound)
}
