// Ingestwatch - Ingestion Pipeline Observability and Alerting
// Copyright 2026 Ingestwatch contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ingestwatch/ingestwatch

// Package metricstore persists finalized session records to DuckDB and
// maintains hourly/daily rollups. Durable writes are guarded by a
// circuit breaker; when the store is unreachable the record is appended
// to a local line-delimited failover log instead, and a background
// replayer re-applies logged entries once the store recovers.
//
// Persist never surfaces store failures to the caller: the contract is
// degrade, never block, never lose.
package metricstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ingestwatch/ingestwatch/internal/config"
	"github.com/ingestwatch/ingestwatch/internal/logging"
	"github.com/ingestwatch/ingestwatch/internal/metrics"
	"github.com/ingestwatch/ingestwatch/internal/models"
)

// Outcome classifies one durable write attempt.
type Outcome int

const (
	// OutcomeStored means the realtime row was written.
	OutcomeStored Outcome = iota

	// OutcomeDuplicate means a row for this session id already exists.
	// Replays hit this path; it is not an error.
	OutcomeDuplicate

	// OutcomeFailover means the store was unreachable and the record
	// went to the failover log instead.
	OutcomeFailover
)

// ErrStoreClosed is returned for operations on a closed store.
var ErrStoreClosed = fmt.Errorf("metrics store is closed")

// Store wraps the DuckDB connection, the rollup tables, and the
// failover log. The write path is serialized by writeMu; aggregate
// reads run concurrently and tolerate eventual consistency.
type Store struct {
	conn     *sql.DB
	cfg      config.StoreConfig
	failover *FailoverLog
	breaker  *gobreaker.CircuitBreaker[any]
	logger   zerolog.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

// Open creates the DuckDB connection (or in-memory database when the
// path is empty), initializes the schema, and attaches the failover log.
func Open(cfg config.StoreConfig) (*Store, error) {
	if dir := filepath.Dir(cfg.Path); cfg.Path != "" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open DuckDB: %w", err)
	}

	// DuckDB is embedded; a small pool avoids write contention.
	conn.SetMaxOpenConns(4)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{
		conn:     conn,
		cfg:      cfg,
		failover: NewFailoverLog(cfg.FailoverPath),
		breaker:  newStoreBreaker(cfg),
		logger:   logging.With().Str("component", "metricstore").Logger(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.applySettings(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.createTables(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s.logger.Info().
		Str("path", cfg.Path).
		Str("failover_path", cfg.FailoverPath).
		Msg("Metrics store opened")
	return s, nil
}

// newStoreBreaker builds the circuit breaker guarding durable writes.
// Consecutive failures past the threshold open the circuit so persists
// go straight to failover until the cooldown expires.
func newStoreBreaker(cfg config.StoreConfig) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:    "metricstore",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.StoreBreakerState.Set(1)
			} else {
				metrics.StoreBreakerState.Set(0)
			}
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Store circuit breaker state changed")
		},
	}
	return gobreaker.NewCircuitBreaker[any](settings)
}

// applySettings applies DuckDB tuning from the config.
func (s *Store) applySettings(ctx context.Context) error {
	if s.cfg.MaxMemory != "" {
		if strings.ContainsAny(s.cfg.MaxMemory, "';\"") {
			return fmt.Errorf("invalid max_memory value %q", s.cfg.MaxMemory)
		}
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET memory_limit = '%s'", s.cfg.MaxMemory)); err != nil {
			return fmt.Errorf("set memory_limit: %w", err)
		}
	}

	threads := s.cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("SET threads TO %d", threads)); err != nil {
		return fmt.Errorf("set threads: %w", err)
	}
	return nil
}

// tableCreationQueries returns the schema DDL: one realtime table keyed
// by session id and two derived rollup tables keyed by time bucket.
func tableCreationQueries() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ingestion_metrics (
			session_id    TEXT PRIMARY KEY,
			source        TEXT NOT NULL,
			category      TEXT,
			quality       DOUBLE,
			status        TEXT NOT NULL,
			produced      INTEGER NOT NULL,
			failed        INTEGER NOT NULL,
			stages_total  INTEGER NOT NULL,
			stages_failed INTEGER NOT NULL,
			duration_ms   BIGINT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ NOT NULL,
			stages        JSON
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_metrics_hourly (
			bucket            TIMESTAMPTZ PRIMARY KEY,
			sessions          BIGINT NOT NULL,
			succeeded         BIGINT NOT NULL,
			partial           BIGINT NOT NULL,
			failed            BIGINT NOT NULL,
			produced          BIGINT NOT NULL,
			failed_units      BIGINT NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			max_duration_ms   BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ingestion_metrics_daily (
			bucket            TIMESTAMPTZ PRIMARY KEY,
			sessions          BIGINT NOT NULL,
			succeeded         BIGINT NOT NULL,
			partial           BIGINT NOT NULL,
			failed            BIGINT NOT NULL,
			produced          BIGINT NOT NULL,
			failed_units      BIGINT NOT NULL,
			total_duration_ms BIGINT NOT NULL,
			max_duration_ms   BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_finished_at ON ingestion_metrics (finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_category ON ingestion_metrics (category)`,
	}
}

func (s *Store) createTables(ctx context.Context) error {
	for _, q := range tableCreationQueries() {
		if _, err := s.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// Persist attempts a durable write for one finalized session record.
// On store failure the record is appended to the failover log and nil
// is returned; the caller proceeds as if persisted (degraded success).
// The only error Persist surfaces is a failover log write failure,
// which the recorder logs and contains.
func (s *Store) Persist(ctx context.Context, rec models.MetricsRecord) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	start := time.Now()
	outcome, err := s.WriteDurable(ctx, rec)
	if err == nil {
		metrics.RecordPersist(outcomeLabel(outcome), time.Since(start))
		return nil
	}

	// Store unreachable: degrade to the failover log.
	s.logger.Warn().Err(err).
		Str("session_id", rec.SessionID).
		Msg("Durable write failed, writing failover entry")

	if logErr := s.failover.Append(rec); logErr != nil {
		metrics.RecordPersist("lost", time.Since(start))
		return fmt.Errorf("failover append after store failure: %w", logErr)
	}

	metrics.RecordPersist(outcomeLabel(OutcomeFailover), time.Since(start))
	if n, err := s.failover.Count(); err == nil {
		metrics.FailoverPending.Set(float64(n))
	}
	return nil
}

// WriteDurable performs one breaker-guarded durable write: the realtime
// insert plus best-effort rollup updates. Used by Persist and by the
// failover replayer. Idempotent by session id.
func (s *Store) WriteDurable(ctx context.Context, rec models.MetricsRecord) (Outcome, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return OutcomeFailover, ErrStoreClosed
	}
	s.mu.RUnlock()

	result, err := s.breaker.Execute(func() (any, error) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return s.insertRealtime(ctx, rec)
	})
	if err != nil {
		return OutcomeFailover, err
	}

	outcome := result.(Outcome)
	if outcome == OutcomeStored {
		// Rollups are derived data; a failed update is logged and left
		// for RebuildRollups rather than failing the write.
		if err := s.updateRollups(ctx, rec); err != nil {
			s.logger.Warn().Err(err).
				Str("session_id", rec.SessionID).
				Msg("Rollup update failed, aggregates stale until rebuild")
		}
	}
	return outcome, nil
}

// insertRealtime writes the realtime row. ON CONFLICT DO NOTHING makes
// replay idempotent: an existing session id reports OutcomeDuplicate.
func (s *Store) insertRealtime(ctx context.Context, rec models.MetricsRecord) (Outcome, error) {
	stagesJSON, err := json.Marshal(rec.Stages)
	if err != nil {
		return OutcomeFailover, fmt.Errorf("marshal stages: %w", err)
	}

	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO ingestion_metrics (
			session_id, source, category, quality, status,
			produced, failed, stages_total, stages_failed,
			duration_ms, started_at, finished_at, stages
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.Source, rec.Category, rec.Quality, string(rec.Status),
		rec.Produced, rec.Failed, rec.StagesTotal, rec.StagesFailed,
		rec.DurationMS, rec.StartedAt, rec.FinishedAt, string(stagesJSON),
	)
	if err != nil {
		return OutcomeFailover, fmt.Errorf("insert realtime record: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return OutcomeDuplicate, nil
	}
	return OutcomeStored, nil
}

// updateRollups applies the record to the current hour and day buckets.
func (s *Store) updateRollups(ctx context.Context, rec models.MetricsRecord) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	hour := rec.FinishedAt.UTC().Truncate(time.Hour)
	day := time.Date(hour.Year(), hour.Month(), hour.Day(), 0, 0, 0, 0, time.UTC)

	if err := s.upsertBucket(ctx, "ingestion_metrics_hourly", hour, rec); err != nil {
		return fmt.Errorf("hourly bucket: %w", err)
	}
	if err := s.upsertBucket(ctx, "ingestion_metrics_daily", day, rec); err != nil {
		return fmt.Errorf("daily bucket: %w", err)
	}
	return nil
}

func (s *Store) upsertBucket(ctx context.Context, table string, bucket time.Time, rec models.MetricsRecord) error {
	succeeded, partial, failed := statusCounts(rec.Status)

	//nolint:gosec // table is one of two compile-time constants
	query := fmt.Sprintf(`
		INSERT INTO %s (
			bucket, sessions, succeeded, partial, failed,
			produced, failed_units, total_duration_ms, max_duration_ms
		) VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (bucket) DO UPDATE SET
			sessions          = %s.sessions + 1,
			succeeded         = %s.succeeded + excluded.succeeded,
			partial           = %s.partial + excluded.partial,
			failed            = %s.failed + excluded.failed,
			produced          = %s.produced + excluded.produced,
			failed_units      = %s.failed_units + excluded.failed_units,
			total_duration_ms = %s.total_duration_ms + excluded.total_duration_ms,
			max_duration_ms   = greatest(%s.max_duration_ms, excluded.max_duration_ms)`,
		table, table, table, table, table, table, table, table, table)

	_, err := s.conn.ExecContext(ctx, query,
		bucket, succeeded, partial, failed,
		rec.Produced, rec.Failed, rec.DurationMS, rec.DurationMS,
	)
	return err
}

func statusCounts(status models.SessionStatus) (succeeded, partial, failed int) {
	switch status {
	case models.StatusSuccess:
		succeeded = 1
	case models.StatusPartial:
		partial = 1
	case models.StatusFailed:
		failed = 1
	}
	return succeeded, partial, failed
}

// HourlyStats returns hourly aggregate rows since the given time.
// During a store outage these undercount: unreplayed failover entries
// are part of ground truth until the replayer catches up. Use
// FailoverPending to detect that condition.
func (s *Store) HourlyStats(ctx context.Context, since time.Time) ([]models.BucketStats, error) {
	return s.bucketStats(ctx, "ingestion_metrics_hourly", since)
}

// DailyStats returns daily aggregate rows since the given time.
func (s *Store) DailyStats(ctx context.Context, since time.Time) ([]models.BucketStats, error) {
	return s.bucketStats(ctx, "ingestion_metrics_daily", since)
}

func (s *Store) bucketStats(ctx context.Context, table string, since time.Time) ([]models.BucketStats, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	s.mu.RUnlock()

	//nolint:gosec // table is one of two compile-time constants
	query := fmt.Sprintf(`
		SELECT bucket, sessions, succeeded, partial, failed,
		       produced, failed_units, total_duration_ms, max_duration_ms
		FROM %s
		WHERE bucket >= ?
		ORDER BY bucket`, table)

	rows, err := s.conn.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []models.BucketStats
	for rows.Next() {
		var b models.BucketStats
		var totalMS int64
		if err := rows.Scan(&b.Bucket, &b.Sessions, &b.Succeeded, &b.Partial, &b.Failed,
			&b.Produced, &b.FailedUnits, &totalMS, &b.MaxDurationMS); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if b.Sessions > 0 {
			b.AvgDurationMS = float64(totalMS) / float64(b.Sessions)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// RealtimeCount returns the number of realtime rows. Used by tests and
// the replay invariant check.
func (s *Store) RealtimeCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx, `SELECT count(*) FROM ingestion_metrics`).Scan(&n)
	return n, err
}

// RebuildRollups regenerates both rollup tables from realtime rows.
// Safe to run at any time; rollups are fully derived data.
func (s *Store) RebuildRollups(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, stmt := range []struct{ table, trunc string }{
		{"ingestion_metrics_hourly", "hour"},
		{"ingestion_metrics_daily", "day"},
	} {
		//nolint:gosec // identifiers are compile-time constants
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, stmt.table)); err != nil {
			return fmt.Errorf("truncate %s: %w", stmt.table, err)
		}

		//nolint:gosec // identifiers are compile-time constants
		rebuild := fmt.Sprintf(`
			INSERT INTO %s
			SELECT date_trunc('%s', finished_at) AS bucket,
			       count(*),
			       count(*) FILTER (WHERE status = 'success'),
			       count(*) FILTER (WHERE status = 'partial'),
			       count(*) FILTER (WHERE status = 'failed'),
			       coalesce(sum(produced), 0),
			       coalesce(sum(failed), 0),
			       coalesce(sum(duration_ms), 0),
			       coalesce(max(duration_ms), 0)
			FROM ingestion_metrics
			GROUP BY bucket`, stmt.table, stmt.trunc)

		if _, err := s.conn.ExecContext(ctx, rebuild); err != nil {
			return fmt.Errorf("rebuild %s: %w", stmt.table, err)
		}
	}
	return nil
}

// Failover exposes the failover log, used by the replayer and the
// status endpoint.
func (s *Store) Failover() *FailoverLog {
	return s.failover
}

// BreakerState returns the current circuit breaker state string.
func (s *Store) BreakerState() string {
	return s.breaker.State().String()
}

// Close shuts down the store. Pending failover entries stay on disk
// for the next process to replay.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Info().Msg("Closing metrics store")
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close DuckDB: %w", err)
	}
	return nil
}

func outcomeLabel(o Outcome) string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeFailover:
		return "failover"
	default:
		return "unknown"
	}
}
