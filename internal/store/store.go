// Package store adapts the TimescaleDB instance holding the vitals
// hypertable and the alerts table.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"healthmon/internal/metrics"
	"healthmon/internal/models"
	"healthmon/internal/vitals"
	"healthmon/pkg/logging"
)

// statementTimeout bounds every individual statement
const statementTimeout = 5 * time.Second

// BucketPoint is one downsampled trend value
type BucketPoint struct {
	Bucket time.Time
	Mean   float64
}

// Store wraps the connection pool with the schema and queries the
// service needs
type Store struct {
	db      *sql.DB
	logger  logging.Logger
	metrics *metrics.Metrics
}

// New creates a store over an established pool. metrics may be nil in
// tests.
func New(db *sql.DB, logger logging.Logger, m *metrics.Metrics) *Store {
	return &Store{db: db, logger: logger, metrics: m}
}

// DB exposes the underlying pool for health checks
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the vitals and alerts tables if needed and
// promotes vitals to a hypertable. A missing timescaledb extension is
// tolerated: the table still works, only partitioned pruning is lost.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vitals (
			time TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL DEFAULT 'default',
			activity DOUBLE PRECISION,
			heart_rate DOUBLE PRECISION,
			blood_pressure_systolic DOUBLE PRECISION,
			blood_pressure_diastolic DOUBLE PRECISION,
			temperature DOUBLE PRECISION,
			oxygen_saturation DOUBLE PRECISION
		)`); err != nil {
		return fmt.Errorf("create vitals table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`SELECT create_hypertable('vitals', 'time', if_not_exists => TRUE)`); err != nil {
		if strings.Contains(err.Error(), "already a hypertable") {
			s.logger.Debug("vitals is already a hypertable")
		} else {
			s.logger.WithError(err).Warn("Could not promote vitals to a hypertable; continuing with a plain table")
		}
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id BIGSERIAL PRIMARY KEY,
			time TIMESTAMPTZ NOT NULL,
			user_id TEXT NOT NULL DEFAULT 'default',
			parameter TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			activity_level TEXT,
			normal_low DOUBLE PRECISION,
			normal_high DOUBLE PRECISION,
			deviation_percent DOUBLE PRECISION,
			severity TEXT,
			detector_type TEXT
		)`); err != nil {
		return fmt.Errorf("create alerts table: %w", err)
	}

	return nil
}

// InsertVitals persists one enriched sample. Callers treat failures
// as non-fatal; ingestion must not block on store errors.
func (s *Store) InsertVitals(ctx context.Context, sample models.EnrichedSample) error {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vitals (time, user_id, activity, heart_rate, blood_pressure_systolic,
		                    blood_pressure_diastolic, temperature, oxygen_saturation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sample.Time, sample.UserID, sample.Activity,
		sample.HeartRate, sample.BloodPressureSystolic, sample.BloodPressureDiastolic,
		sample.Temperature, sample.OxygenSaturation,
	)
	s.countWrite("vitals", err)
	if err != nil {
		return fmt.Errorf("insert vitals: %w", err)
	}
	return nil
}

// InsertAlert persists one alert, same contract as InsertVitals
func (s *Store) InsertAlert(ctx context.Context, alert models.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (time, user_id, parameter, value, activity_level,
		                    normal_low, normal_high, deviation_percent, severity, detector_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		alert.Time, alert.UserID, alert.Parameter, alert.Value, alert.ActivityLevel,
		alert.NormalRange[0], alert.NormalRange[1], alert.DeviationPercent,
		alert.Severity, alert.DetectorType,
	)
	s.countWrite("alerts", err)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *Store) countWrite(table string, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreWrites.WithLabelValues(table, status).Inc()
}

// BucketMeans returns per-bucket means of one parameter since a start
// time, ordered by bucket ascending. Buckets with no samples are
// simply absent. parameter and interval are interpolated into the
// query text, so both must come from the fixed trend tables, never
// from user input.
func (s *Store) BucketMeans(ctx context.Context, parameter, interval string, since time.Time) ([]BucketPoint, error) {
	if !isTrendParameter(parameter) {
		return nil, fmt.Errorf("unknown trend parameter: %q", parameter)
	}

	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT time_bucket('%s', time) AS bucket, AVG(%s) AS mean
		FROM vitals
		WHERE %s IS NOT NULL AND time >= $1
		GROUP BY bucket
		ORDER BY bucket`, interval, parameter, parameter)

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query trend buckets: %w", err)
	}
	defer rows.Close()

	var points []BucketPoint
	for rows.Next() {
		var p BucketPoint
		if err := rows.Scan(&p.Bucket, &p.Mean); err != nil {
			return nil, fmt.Errorf("scan trend bucket: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// QueryAlertHistory returns a user's alerts, newest first
func (s *Store) QueryAlertHistory(ctx context.Context, userID string, limit int) ([]models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, statementTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time, user_id, parameter, value, activity_level,
		       normal_low, normal_high, deviation_percent, severity, detector_type
		FROM alerts
		WHERE user_id = $1
		ORDER BY time DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0, limit)
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.Time, &a.UserID, &a.Parameter, &a.Value, &a.ActivityLevel,
			&a.NormalRange[0], &a.NormalRange[1], &a.DeviationPercent, &a.Severity, &a.DetectorType); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Timestamp = a.Time.Format(time.RFC3339)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func isTrendParameter(parameter string) bool {
	for _, p := range vitals.TrendParameters {
		if p == parameter {
			return true
		}
	}
	return false
}
