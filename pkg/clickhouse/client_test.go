package clickhouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig_DSN(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddr("ch", 9000),
		WithDatabase("tam", "default", "p@ss"),
		WithTimeouts(5*time.Second, 0, time.Minute),
		WithAsyncInsert(true, true),
	} {
		opt(cfg)
	}
	assert.Equal(t, "clickhouse://default:p%40ss@ch:9000/tam?async_insert=1&dial_timeout=5s&max_execution_time=60&wait_for_async_insert=1", cfg.dsn())

	WithHTTP(true)(cfg)
	WithAddr("ch", 8123)(cfg)
	assert.Contains(t, cfg.dsn(), "http://default:p%40ss@ch:8123/tam?")
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient()
	assert.ErrorContains(t, err, "host is required")

	_, err = NewClient(WithAddr("ch", 0))
	assert.ErrorContains(t, err, "port 0 out of range")
}

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	c := NewFromDB(db, "tam")
	assert.Equal(t, "tam.observations", c.Table("observations"))

	mock.ExpectExec("CREATE DATABASE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("syntax"))

	err = c.InitSchema(context.Background(), []string{"CREATE DATABASE IF NOT EXISTS tam", "CREATE TABLE x"})
	assert.ErrorContains(t, err, "init schema")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, c.Close())
}
