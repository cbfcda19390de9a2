package repository

import "fmt"

// Schema returns the idempotent DDL for the observation and candle tables,
// qualified with database.
func Schema(database, records, minute, second string) []string {
	return []string{
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s`, database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    symbol              LowCardinality(String),
    session_id          String,
    seq                 UInt64,
    bar_timestamp       String,
    ts                  DateTime64(3, 'UTC'),
    state               LowCardinality(String),
    dominant_mode       LowCardinality(String),
    admissible          UInt8,
    friction_floor      Float64,
    min_move            Float64,
    m_req               Float64,
    diagnostics         String,
    boundary_event      LowCardinality(String),
    invalidation_reason String,
    engine_version      LowCardinality(String),
    observed_at         DateTime64(3, 'UTC')
) ENGINE = MergeTree
PARTITION BY toYYYYMM(ts)
ORDER BY (symbol, ts, session_id, seq)`, database, records),
		candleDDL(database, minute),
		candleDDL(database, second),
	}
}

func candleDDL(database, table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
    bucket DateTime('UTC'),
    symbol LowCardinality(String),
    open   Float64,
    high   Float64,
    low    Float64,
    close  Float64,
    vol    Float64
) ENGINE = ReplacingMergeTree
PARTITION BY toYYYYMM(bucket)
ORDER BY (symbol, bucket)`, database, table)
}
