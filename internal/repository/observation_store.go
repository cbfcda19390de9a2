package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"TAMObserver/internal/domain/models"
	"TAMObserver/internal/domain/repository"
	pkgch "TAMObserver/pkg/clickhouse"
	"TAMObserver/pkg/util"
)

const recordColumns = `symbol, session_id, seq, bar_timestamp, ts, state, dominant_mode, admissible,
    friction_floor, min_move, m_req, diagnostics, boundary_event, invalidation_reason,
    engine_version, observed_at`

// ClickHouseRecordStore implements RecordStore on the observations table.
type ClickHouseRecordStore struct {
	db     *sql.DB
	table  string
	schema []string
}

// NewClickHouseRecordStore stores into ch.Table(table). schema is run by
// Init; pass nil to leave DDL to migrations.
func NewClickHouseRecordStore(ch *pkgch.Client, table string, schema []string) *ClickHouseRecordStore {
	return &ClickHouseRecordStore{db: ch.DB(), table: ch.Table(table), schema: schema}
}

var _ repository.RecordStore = (*ClickHouseRecordStore)(nil)

func (s *ClickHouseRecordStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init observations schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseRecordStore) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, recordColumns)
}

func (s *ClickHouseRecordStore) Store(ctx context.Context, obs *models.StreamObservation) error {
	args, err := recordArgs(obs)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.insertSQL(), args...); err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// StoreBatch sends the whole batch as one block: clickhouse-go buffers the
// prepared statement's rows until Commit.
func (s *ClickHouseRecordStore) StoreBatch(ctx context.Context, batch []*models.StreamObservation) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.insertSQL())
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, obs := range batch {
		if obs == nil {
			continue
		}
		args, err := recordArgs(obs)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("append observation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func recordArgs(obs *models.StreamObservation) ([]interface{}, error) {
	rec := obs.Record
	diag, err := json.Marshal(rec.Diagnostics)
	if err != nil {
		return nil, fmt.Errorf("encode diagnostics: %w", err)
	}
	var admissible uint8
	if rec.Admissible() {
		admissible = 1
	}
	return []interface{}{
		obs.Symbol,
		obs.SessionID,
		obs.Seq,
		rec.Timestamp,
		barTime(rec.Timestamp, obs.ObservedAt),
		string(rec.State),
		string(rec.DominantMode),
		admissible,
		rec.FrictionFloor,
		rec.MinMove,
		rec.MReq,
		string(diag),
		rec.BoundaryEvent,
		rec.InvalidationReason,
		obs.EngineVersion,
		obs.ObservedAt.UTC(),
	}, nil
}

// barTime orders rows by bar time when the opaque timestamp parses, and by
// arrival otherwise.
func barTime(ts string, observedAt time.Time) time.Time {
	return util.ParseTimeDefault(ts, observedAt).UTC()
}

// Query returns up to limit records of symbol with bar time in [from, to],
// oldest first. It reads the newest rows when the range holds more.
func (s *ClickHouseRecordStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]*models.StreamObservation, error) {
	q := fmt.Sprintf(`SELECT symbol, session_id, seq, bar_timestamp, state, dominant_mode,
    friction_floor, min_move, m_req, diagnostics, boundary_event, invalidation_reason,
    engine_version, observed_at
FROM %s
WHERE symbol = ? AND ts >= ? AND ts <= ?
ORDER BY ts DESC, seq DESC
LIMIT ?`, s.table)

	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var out []*models.StreamObservation
	for rows.Next() {
		var (
			obs   models.StreamObservation
			rec   = &obs.Record
			state string
			mode  string
			diag  string
		)
		if err := rows.Scan(&obs.Symbol, &obs.SessionID, &obs.Seq, &rec.Timestamp, &state, &mode,
			&rec.FrictionFloor, &rec.MinMove, &rec.MReq, &diag, &rec.BoundaryEvent,
			&rec.InvalidationReason, &obs.EngineVersion, &obs.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		rec.State = models.AdmissibilityState(state)
		rec.DominantMode = models.DominantMode(mode)
		if err := json.Unmarshal([]byte(diag), &rec.Diagnostics); err != nil {
			return nil, fmt.Errorf("decode diagnostics: %w", err)
		}
		out = append(out, &obs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *ClickHouseRecordStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the connection belongs to pkg/clickhouse.Client.
func (s *ClickHouseRecordStore) Close() error {
	return nil
}
