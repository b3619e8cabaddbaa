package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertPriceSampleSQL = `INSERT INTO price_samples (
        cycle_id,
        symbol,
        market_kind,
        price,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    );`

	listSamplesBetweenSQL = `SELECT
        id,
        cycle_id,
        symbol,
        market_kind,
        price,
        observed_at,
        created_at
    FROM price_samples
    WHERE symbol = $1
      AND market_kind = $2
      AND observed_at >= $3
      AND observed_at < $4
    ORDER BY observed_at;`

	deleteSamplesBeforeSQL = `DELETE FROM price_samples WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        cycle_id,
        symbol,
        market_kind,
        window_minutes,
        start_price,
        current_price,
        change_pct,
        threshold_pct,
        direction,
        triggered_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        cycle_id,
        symbol,
        market_kind,
        window_minutes,
        start_price,
        current_price,
        change_pct,
        threshold_pct,
        direction,
        triggered_at,
        created_at
    FROM alerts
    ORDER BY triggered_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// SampleStore mirrors recorded price samples.
type SampleStore interface {
	InsertSample(ctx context.Context, sample PriceSampleRecord) error
	ListSamplesBetween(ctx context.Context, symbol, kind string, from, to time.Time) ([]PriceSampleRecord, error)
	DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the audit tables.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ SampleStore    = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
// The lock is session scoped, so the connection stays checked out until release.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// 解锁失败时直接丢弃连接，会话结束后锁自动释放
			conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertSample mirrors one price observation.
func (s *Store) InsertSample(ctx context.Context, sample PriceSampleRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertPriceSampleSQL,
		sample.CycleID,
		sample.Symbol,
		sample.MarketKind,
		sample.Price.String(),
		sample.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert price sample: %w", execErr)
	}
	return nil
}

// ListSamplesBetween lists one series within a time window.
func (s *Store) ListSamplesBetween(ctx context.Context, symbol, kind string, from, to time.Time) ([]PriceSampleRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesBetweenSQL, symbol, kind, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list samples between: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]PriceSampleRecord, 0)
	for rows.Next() {
		sample, scanErr := scanPriceSample(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

// DeleteSamplesBefore prunes mirrored samples.
func (s *Store) DeleteSamplesBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSamplesBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete samples before: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.CycleID,
		alert.Symbol,
		alert.MarketKind,
		alert.WindowMinutes,
		alert.StartPrice.String(),
		alert.CurrentPrice.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		alert.TriggeredAt,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var startStr, currentStr, changeStr, thresholdStr string
		if err := rows.Scan(
			&rec.ID,
			&rec.CycleID,
			&rec.Symbol,
			&rec.MarketKind,
			&rec.WindowMinutes,
			&startStr,
			&currentStr,
			&changeStr,
			&thresholdStr,
			&rec.Direction,
			&rec.TriggeredAt,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		parsed, convErr := parseDecimals(startStr, currentStr, changeStr, thresholdStr)
		if convErr != nil {
			return nil, convErr
		}
		rec.StartPrice, rec.CurrentPrice, rec.ChangePct, rec.ThresholdPct = parsed[0], parsed[1], parsed[2], parsed[3]

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanPriceSample(rows pgx.Rows) (PriceSampleRecord, error) {
	var (
		rec      PriceSampleRecord
		priceStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.CycleID,
		&rec.Symbol,
		&rec.MarketKind,
		&priceStr,
		&rec.ObservedAt,
		&rec.CreatedAt,
	); err != nil {
		return PriceSampleRecord{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceSampleRecord{}, fmt.Errorf("parse price: %w", err)
	}
	rec.Price = price
	return rec, nil
}

func parseDecimals(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}
