package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TAMObserver/internal/domain/models"
	pkgch "TAMObserver/pkg/clickhouse"
)

func newMockCH(t *testing.T) (*pkgch.Client, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return pkgch.NewFromDB(db, "tam"), mock
}

var observedAt = time.Date(2026, 2, 3, 14, 30, 5, 0, time.UTC)

func sampleObservation(seq uint64, ts string, state models.AdmissibilityState) *models.StreamObservation {
	return &models.StreamObservation{
		Symbol:        "AAPL",
		SessionID:     "sess-1",
		Seq:           seq,
		EngineVersion: "tam-diag/1",
		ObservedAt:    observedAt,
		Record: models.ObservationRecord{
			Timestamp:     ts,
			State:         state,
			DominantMode:  models.ModeUnknown,
			FrictionFloor: 0.0015,
			MinMove:       0.01,
			MReq:          0.01,
			Diagnostics:   models.DiagnosticVector{models.DiagEscapeSlope: 1.25},
			BoundaryEvent: "TENSION->ESCAPE",
		},
	}
}

func TestRecordStore_Store(t *testing.T) {
	ch, mock := newMockCH(t)
	store := NewClickHouseRecordStore(ch, "observations", nil)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tam.observations (symbol, session_id, seq")).
		WithArgs("AAPL", "sess-1", uint64(7), "2026-02-03T14:30:00Z",
			time.Date(2026, 2, 3, 14, 30, 0, 0, time.UTC),
			"ESCAPE", "UNKNOWN", uint8(1), 0.0015, 0.01, 0.01,
			`{"escape_slope":1.25}`, "TENSION->ESCAPE", "", "tam-diag/1", observedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Store(context.Background(), sampleObservation(7, "2026-02-03T14:30:00Z", models.StateEscape)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_OpaqueTimestampFallsBackToObservedAt(t *testing.T) {
	args, err := recordArgs(sampleObservation(1, "bar-0001", models.StateBasin))
	require.NoError(t, err)
	assert.Equal(t, observedAt, args[4])
	assert.Equal(t, uint8(0), args[7])
}

func TestRecordStore_StoreBatchSingleBlock(t *testing.T) {
	ch, mock := newMockCH(t)
	store := NewClickHouseRecordStore(ch, "observations", nil)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO tam.observations"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := []*models.StreamObservation{
		sampleObservation(1, "2026-02-03T14:30:00Z", models.StateBasin),
		nil,
		sampleObservation(2, "2026-02-03T14:31:00Z", models.StateTension),
	}
	require.NoError(t, store.StoreBatch(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_StoreBatchRollsBackOnError(t *testing.T) {
	ch, mock := newMockCH(t)
	store := NewClickHouseRecordStore(ch, "observations", nil)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO").ExpectExec().WillReturnError(errors.New("too many parts"))
	mock.ExpectRollback()

	err := store.StoreBatch(context.Background(), []*models.StreamObservation{sampleObservation(1, "x", models.StateBasin)})
	assert.ErrorContains(t, err, "too many parts")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_QueryOldestFirst(t *testing.T) {
	ch, mock := newMockCH(t)
	store := NewClickHouseRecordStore(ch, "observations", nil)
	from := observedAt.Add(-time.Hour)

	cols := []string{"symbol", "session_id", "seq", "bar_timestamp", "state", "dominant_mode",
		"friction_floor", "min_move", "m_req", "diagnostics", "boundary_event", "invalidation_reason",
		"engine_version", "observed_at"}
	rows := sqlmock.NewRows(cols).
		AddRow("AAPL", "s", uint64(2), "t2", "ESCAPE", "UNKNOWN", 0.0015, 0.01, 0.01, `{"escape_slope":2}`, "TENSION->ESCAPE", "", "tam-diag/1", observedAt).
		AddRow("AAPL", "s", uint64(1), "t1", "TENSION", "UNKNOWN", 0.0015, 0.01, 0.01, `{"escape_slope":0.5}`, "BASIN->TENSION", "", "tam-diag/1", observedAt)

	mock.ExpectQuery(regexp.QuoteMeta("FROM tam.observations")).
		WithArgs("AAPL", from, observedAt, 50).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), "AAPL", from, observedAt, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t1", got[0].Record.Timestamp)
	assert.Equal(t, models.StateEscape, got[1].Record.State)
	assert.Equal(t, 2.0, got[1].Record.Diagnostics[models.DiagEscapeSlope])
	assert.True(t, got[1].Record.Admissible())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_InitRunsSchema(t *testing.T) {
	ch, mock := newMockCH(t)
	stmts := Schema("tam", "observations", "candles_1m", "candles_1s")
	store := NewClickHouseRecordStore(ch, "observations", stmts)

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS tam").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tam.observations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tam.candles_1m")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS tam.candles_1s")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStore_Health(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	store := NewClickHouseRecordStore(pkgch.NewFromDB(db, "tam"), "observations", nil)

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, store.Health(context.Background()), sql.ErrConnDone)
}
