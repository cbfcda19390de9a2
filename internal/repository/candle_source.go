package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	domrepo "TAMObserver/internal/domain/repository"
	pkgch "TAMObserver/pkg/clickhouse"
	applogger "TAMObserver/pkg/logger"
)

// CHCandleSource reads and writes OHLCV candles. 5m candles are folded from
// the 1m table at query time.
type CHCandleSource struct {
	db     *sql.DB
	minute string
	second string
	l      *applogger.Logger
}

func NewCHCandleSource(ch *pkgch.Client, minuteTable, secondTable string, l *applogger.Logger) *CHCandleSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &CHCandleSource{
		db:     ch.DB(),
		minute: ch.Table(minuteTable),
		second: ch.Table(secondTable),
		l:      l,
	}
}

var _ domrepo.CandleSource = (*CHCandleSource)(nil)

// selectFor returns the candle projection for tf. Every variant yields
// bucket, symbol, open, high, low, close, vol.
func (s *CHCandleSource) selectFor(tf domrepo.Timeframe) (string, error) {
	switch tf {
	case domrepo.TF1s:
		return fmt.Sprintf(`SELECT bucket, symbol, open, high, low, close, vol FROM %s`, s.second), nil
	case domrepo.TF1m:
		return fmt.Sprintf(`SELECT bucket, symbol, open, high, low, close, vol FROM %s`, s.minute), nil
	case domrepo.TF5m:
		return fmt.Sprintf(`SELECT b5 AS bucket, symbol, o AS open, h AS high, l AS low, c AS close, v AS vol FROM (
    SELECT toStartOfFiveMinutes(m.bucket) AS b5, m.symbol AS symbol,
        argMin(m.open, m.bucket) AS o, max(m.high) AS h, min(m.low) AS l,
        argMax(m.close, m.bucket) AS c, sum(m.vol) AS v
    FROM %s AS m
    GROUP BY b5, symbol
)`, s.minute), nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", tf)
	}
}

func (s *CHCandleSource) GetCandles(ctx context.Context, symbol string, from, to time.Time, tf domrepo.Timeframe) ([]models.Candle, error) {
	start := time.Now()
	base, err := s.selectFor(tf)
	if err != nil {
		return nil, err
	}
	q := base + `
WHERE symbol = ? AND bucket >= ? AND bucket <= ?
ORDER BY bucket ASC`

	out, err := s.query(ctx, q, symbol, from.UTC(), to.UTC())
	if err != nil {
		s.l.Error("clickhouse get_candles failed",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Error(err))
		return nil, fmt.Errorf("get candles: %w", err)
	}
	s.l.Debug("clickhouse get_candles ok",
		applogger.String("symbol", symbol),
		applogger.String("tf", string(tf)),
		applogger.Int("rows", len(out)),
		applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}

// GetLatestNCandles returns the n most recent candles, oldest first.
func (s *CHCandleSource) GetLatestNCandles(ctx context.Context, symbol string, n int, tf domrepo.Timeframe) ([]models.Candle, error) {
	base, err := s.selectFor(tf)
	if err != nil {
		return nil, err
	}
	q := base + `
WHERE symbol = ?
ORDER BY bucket DESC
LIMIT ?`

	out, err := s.query(ctx, q, symbol, n)
	if err != nil {
		s.l.Error("clickhouse latest_candles failed",
			applogger.String("symbol", symbol),
			applogger.String("tf", string(tf)),
			applogger.Int("limit", n),
			applogger.Error(err))
		return nil, fmt.Errorf("get latest candles: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *CHCandleSource) query(ctx context.Context, q string, args ...interface{}) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Bucket, &c.Symbol, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// StoreCandles writes closed live bars so later replays can read them back.
// Only 1s and 1m are stored; 5m is derived.
func (s *CHCandleSource) StoreCandles(ctx context.Context, tf domrepo.Timeframe, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	var table string
	switch tf {
	case domrepo.TF1s:
		table = s.second
	case domrepo.TF1m:
		table = s.minute
	default:
		return fmt.Errorf("candles are not stored at %s", tf)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin candles: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (bucket, symbol, open, high, low, close, vol) VALUES (?, ?, ?, ?, ?, ?, ?)", table))
	if err != nil {
		return fmt.Errorf("prepare candles: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.Bucket.UTC(), c.Symbol, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("append candle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit candles: %w", err)
	}
	return nil
}
