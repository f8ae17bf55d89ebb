package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qzbxw/velox-sub000/internal/monitor"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrStateNotFound means no monitoring state has been saved for the group yet.
	ErrStateNotFound = errors.New("storage: monitoring state not found")
)

const (
	loadStateSQL = `SELECT document FROM monitoring_states WHERE group_name = $1;`

	saveStateSQL = `INSERT INTO monitoring_states (group_name, document, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (group_name) DO UPDATE
    SET document   = EXCLUDED.document,
        updated_at = EXCLUDED.updated_at;`

	insertSnapshotSQL = `INSERT INTO portfolio_snapshots (
        group_name,
        pass_id,
        taken_at,
        wallet_count,
        portfolio_value,
        spot_value,
        delta_usd,
        delta_pct,
        margin_health_pct,
        margin_level,
        funding_24h,
        funding_all,
        coins,
        degraded
    ) VALUES (
        $1,$2::uuid,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
    )
    RETURNING id, created_at;`

	snapshotColumns = `id,
        group_name,
        pass_id::text,
        taken_at,
        wallet_count,
        portfolio_value::text,
        spot_value::text,
        delta_usd::text,
        delta_pct::text,
        margin_health_pct::text,
        margin_level,
        funding_24h::text,
        funding_all::text,
        coins,
        degraded,
        created_at`

	listRecentSnapshotsSQL = `SELECT ` + snapshotColumns + `
    FROM portfolio_snapshots
    WHERE group_name = $1
    ORDER BY taken_at DESC
    LIMIT $2;`

	listSnapshotsBetweenSQL = `SELECT ` + snapshotColumns + `
    FROM portfolio_snapshots
    WHERE group_name = $1
      AND taken_at >= $2
      AND taken_at < $3
    ORDER BY taken_at
    LIMIT NULLIF($4::int, 0);`

	deleteSnapshotsBeforeSQL = `DELETE FROM portfolio_snapshots WHERE taken_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        group_name,
        pass_id,
        kind,
        symbol,
        value,
        threshold,
        channels,
        delivered
    ) VALUES (
        $1,$2::uuid,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        group_name,
        pass_id::text,
        kind,
        symbol,
        value::text,
        threshold::text,
        channels,
        delivered,
        created_at
    FROM alerts
    WHERE ($1 = '' OR group_name = $1)
    ORDER BY created_at DESC
    LIMIT $2;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// StateStore persists one monitoring state document per group.
type StateStore interface {
	LoadState(ctx context.Context, group string) (monitor.State, error)
	SaveState(ctx context.Context, group string, state monitor.State) error
}

// SnapshotStore defines operations for snapshot history.
type SnapshotStore interface {
	InsertSnapshot(ctx context.Context, rec SnapshotRecord) (SnapshotRecord, error)
	ListRecentSnapshots(ctx context.Context, group string, limit int) ([]SnapshotRecord, error)
	ListSnapshotsBetween(ctx context.Context, group string, from, to time.Time, limit int) ([]SnapshotRecord, error)
	DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, group string, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to states, snapshots and alerts.
type Store struct {
	pool *pgxpool.Pool
}

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
		// a failed unlock is released with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
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

// LoadState returns the group's state document, or ErrStateNotFound with an empty state.
func (s *Store) LoadState(ctx context.Context, group string) (monitor.State, error) {
	pool, err := s.getPool()
	if err != nil {
		return monitor.NewState(), err
	}

	var raw []byte
	if scanErr := pool.QueryRow(ctx, loadStateSQL, group).Scan(&raw); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return monitor.NewState(), ErrStateNotFound
		}
		return monitor.NewState(), fmt.Errorf("load state: %w", scanErr)
	}
	return monitor.DecodeState(raw), nil
}

// SaveState upserts the group's state document.
func (s *Store) SaveState(ctx context.Context, group string, state monitor.State) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	raw, err := state.Encode()
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if _, execErr := pool.Exec(ctx, saveStateSQL, group, raw); execErr != nil {
		return fmt.Errorf("save state: %w", execErr)
	}
	return nil
}

// InsertSnapshot persists a snapshot record.
func (s *Store) InsertSnapshot(ctx context.Context, rec SnapshotRecord) (SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return SnapshotRecord{}, err
	}

	coins, err := encodeCoins(rec.Coins)
	if err != nil {
		return SnapshotRecord{}, err
	}
	degraded := rec.Degraded
	if degraded == nil {
		degraded = []string{}
	}

	row := pool.QueryRow(ctx, insertSnapshotSQL,
		rec.Group,
		rec.PassID.String(),
		rec.TakenAt,
		rec.WalletCount,
		rec.PortfolioValue.String(),
		rec.SpotValue.String(),
		rec.DeltaUSD.String(),
		rec.DeltaPct.String(),
		rec.MarginHealthPct.String(),
		rec.MarginLevel,
		rec.Funding24h.String(),
		rec.FundingAll.String(),
		coins,
		degraded,
	)
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return SnapshotRecord{}, fmt.Errorf("insert snapshot: %w", scanErr)
	}
	return rec, nil
}

// ListRecentSnapshots lists the newest snapshots of a group, newest first.
func (s *Store) ListRecentSnapshots(ctx context.Context, group string, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentSnapshotsSQL, group, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent snapshots: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// ListSnapshotsBetween lists a group's snapshots within [from, to), oldest first.
func (s *Store) ListSnapshotsBetween(ctx context.Context, group string, from, to time.Time, limit int) ([]SnapshotRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listSnapshotsBetweenSQL, group, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list snapshots between: %w", queryErr)
	}
	return collectSnapshots(rows)
}

// DeleteSnapshotsBefore deletes historical snapshots.
func (s *Store) DeleteSnapshotsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteSnapshotsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete snapshots before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}
	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Group,
		alert.PassID.String(),
		alert.Kind,
		alert.Symbol,
		alert.Value.String(),
		alert.Threshold.String(),
		channels,
		alert.Delivered,
	)
	if scanErr := row.Scan(&alert.ID, &alert.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return alert, nil
}

// ListRecentAlerts lists most recent alerts; an empty group lists every group.
func (s *Store) ListRecentAlerts(ctx context.Context, group string, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, group, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var (
			rec                    AlertRecord
			passID                 string
			valueStr, thresholdStr string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Group,
			&passID,
			&rec.Kind,
			&rec.Symbol,
			&valueStr,
			&thresholdStr,
			&rec.Channels,
			&rec.Delivered,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		var convErr error
		if rec.PassID, convErr = uuid.Parse(passID); convErr != nil {
			return nil, fmt.Errorf("parse pass id: %w", convErr)
		}
		if rec.Value, convErr = decimal.NewFromString(valueStr); convErr != nil {
			return nil, fmt.Errorf("parse alert value: %w", convErr)
		}
		if rec.Threshold, convErr = decimal.NewFromString(thresholdStr); convErr != nil {
			return nil, fmt.Errorf("parse alert threshold: %w", convErr)
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func collectSnapshots(rows pgx.Rows) ([]SnapshotRecord, error) {
	defer rows.Close()
	records := make([]SnapshotRecord, 0)
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanSnapshot(rows pgx.Rows) (SnapshotRecord, error) {
	var (
		rec       SnapshotRecord
		passID    string
		numerics  [7]string
		coinsJSON []byte
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Group,
		&passID,
		&rec.TakenAt,
		&rec.WalletCount,
		&numerics[0],
		&numerics[1],
		&numerics[2],
		&numerics[3],
		&numerics[4],
		&rec.MarginLevel,
		&numerics[5],
		&numerics[6],
		&coinsJSON,
		&rec.Degraded,
		&rec.CreatedAt,
	); err != nil {
		return SnapshotRecord{}, err
	}

	id, err := uuid.Parse(passID)
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("parse pass id: %w", err)
	}
	rec.PassID = id

	targets := []*decimal.Decimal{
		&rec.PortfolioValue, &rec.SpotValue, &rec.DeltaUSD, &rec.DeltaPct,
		&rec.MarginHealthPct, &rec.Funding24h, &rec.FundingAll,
	}
	for i, target := range targets {
		d, err := decimal.NewFromString(numerics[i])
		if err != nil {
			return SnapshotRecord{}, fmt.Errorf("parse snapshot numeric %d: %w", i, err)
		}
		*target = d
	}

	if rec.Coins, err = decodeCoins(coinsJSON); err != nil {
		return SnapshotRecord{}, err
	}
	return rec, nil
}

var (
	_ StateStore     = (*Store)(nil)
	_ SnapshotStore  = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
