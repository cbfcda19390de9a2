package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
)

var candleCols = []string{"bucket", "symbol", "open", "high", "low", "close", "vol"}

func TestCandleSource_GetCandles(t *testing.T) {
	ch, mock := newMockCH(t)
	src := NewCHCandleSource(ch, "candles_1m", "candles_1s", nil)

	from := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	to := from.Add(2 * time.Minute)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tam.candles_1m")).
		WithArgs("AAPL", from, to).
		WillReturnRows(sqlmock.NewRows(candleCols).
			AddRow(from, "AAPL", 100.0, 100.2, 99.9, 100.1, 1200.0).
			AddRow(from.Add(time.Minute), "AAPL", 100.1, 100.3, 100.0, 100.25, 900.0))

	got, err := src.GetCandles(context.Background(), "AAPL", from, to, domrepo.TF1m)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2026-01-05T14:31:00Z", got[1].Bar().Timestamp)
	assert.Equal(t, 100.25, got[1].Close)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleSource_FiveMinuteFoldsMinuteTable(t *testing.T) {
	ch, mock := newMockCH(t)
	src := NewCHCandleSource(ch, "candles_1m", "candles_1s", nil)

	mock.ExpectQuery(regexp.QuoteMeta("toStartOfFiveMinutes(m.bucket)")).
		WillReturnRows(sqlmock.NewRows(candleCols))

	got, err := src.GetCandles(context.Background(), "AAPL", time.Time{}, time.Now(), domrepo.TF5m)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCandleSource_LatestNAscending(t *testing.T) {
	ch, mock := newMockCH(t)
	src := NewCHCandleSource(ch, "candles_1m", "candles_1s", nil)

	t0 := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("FROM tam.candles_1s")).
		WithArgs("MSFT", 3).
		WillReturnRows(sqlmock.NewRows(candleCols).
			AddRow(t0.Add(2*time.Second), "MSFT", 1.0, 1.0, 1.0, 3.0, 1.0).
			AddRow(t0.Add(time.Second), "MSFT", 1.0, 1.0, 1.0, 2.0, 1.0).
			AddRow(t0, "MSFT", 1.0, 1.0, 1.0, 1.0, 1.0))

	got, err := src.GetLatestNCandles(context.Background(), "MSFT", 3, domrepo.TF1s)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{got[0].Close, got[1].Close, got[2].Close})
}

func TestCandleSource_UnsupportedTimeframe(t *testing.T) {
	ch, _ := newMockCH(t)
	src := NewCHCandleSource(ch, "candles_1m", "candles_1s", nil)

	_, err := src.GetCandles(context.Background(), "AAPL", time.Time{}, time.Now(), domrepo.Timeframe("1h"))
	assert.ErrorContains(t, err, "unsupported timeframe")
	assert.Error(t, src.StoreCandles(context.Background(), domrepo.TF5m, []models.Candle{{}}))
}

func TestCandleSource_StoreCandles(t *testing.T) {
	ch, mock := newMockCH(t)
	src := NewCHCandleSource(ch, "candles_1m", "candles_1s", nil)
	bucket := time.Date(2026, 1, 5, 14, 30, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO tam.candles_1m")).
		ExpectExec().WithArgs(bucket, "AAPL", 1.0, 2.0, 0.5, 1.5, 10.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := src.StoreCandles(context.Background(), domrepo.TF1m, []models.Candle{
		{Bucket: bucket, Symbol: "AAPL", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
