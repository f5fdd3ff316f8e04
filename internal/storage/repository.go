package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/badge"
	"offset-rewards/internal/offset"
	"offset-rewards/internal/telemetry"
	"offset-rewards/internal/tracker"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertOffsetRecordSQL = `INSERT INTO offset_records (
        user_id,
        period_kind,
        bucket_ts,
        total_offset_tons,
        breakdown,
        verified,
        generated_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (user_id, period_kind, bucket_ts) DO UPDATE
    SET
        total_offset_tons = EXCLUDED.total_offset_tons,
        breakdown         = EXCLUDED.breakdown,
        verified          = EXCLUDED.verified,
        generated_at      = EXCLUDED.generated_at;`

	listOffsetRecordsSQL = `SELECT
        user_id,
        period_kind,
        bucket_ts,
        total_offset_tons,
        breakdown,
        verified,
        generated_at,
        created_at
    FROM offset_records
    WHERE user_id = $1
      AND period_kind = $2
      AND bucket_ts >= $3
      AND bucket_ts < $4
    ORDER BY bucket_ts;`

	listRecentOffsetRecordsSQL = `SELECT
        user_id,
        period_kind,
        bucket_ts,
        total_offset_tons,
        breakdown,
        verified,
        generated_at,
        created_at
    FROM offset_records
    WHERE user_id = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	sumDailyOffsetsSQL = `SELECT COALESCE(SUM(total_offset_tons), 0)
    FROM offset_records
    WHERE user_id = $1
      AND period_kind = 'daily';`

	loadRewardStatesSQL = `SELECT user_id, state FROM reward_states;`

	upsertRewardStateSQL = `INSERT INTO reward_states (user_id, state, updated_at)
    VALUES ($1, $2, NOW())
    ON CONFLICT (user_id) DO UPDATE
    SET state = EXCLUDED.state, updated_at = NOW();`

	loadTransactionsSQL = `SELECT payload FROM tracked_transactions;`

	upsertTransactionSQL = `INSERT INTO tracked_transactions (tx_hash, tx_state, payload, updated_at)
    VALUES ($1, $2, $3, NOW())
    ON CONFLICT (tx_hash) DO UPDATE
    SET tx_state = EXCLUDED.tx_state, payload = EXCLUDED.payload, updated_at = NOW();`

	deleteTransactionSQL = `DELETE FROM tracked_transactions WHERE tx_hash = $1;`

	listSamplesSQL = `SELECT
        device_id,
        sampled_at,
        energy_type,
        direction,
        kwh
    FROM telemetry_samples
    WHERE user_id = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OffsetRecordStore defines operations for offset record persistence.
type OffsetRecordStore interface {
	UpsertOffsetRecord(ctx context.Context, rec offset.Record, bucket time.Time) error
	ListOffsetRecords(ctx context.Context, userID string, period offset.PeriodKind, from, to time.Time) ([]StoredRecord, error)
	ListRecentOffsetRecords(ctx context.Context, userID string, limit int) ([]StoredRecord, error)
	SumDailyOffsets(ctx context.Context, userID string) (decimal.Decimal, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to offset records, reward states, tracked
// transactions, and telemetry samples.
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

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
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
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

// UpsertOffsetRecord persists an offset record, superseding any earlier
// aggregation for the same (user, period, bucket).
func (s *Store) UpsertOffsetRecord(ctx context.Context, rec offset.Record, bucket time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal breakdown: %w", err)
	}

	_, execErr := pool.Exec(ctx, upsertOffsetRecordSQL,
		rec.UserID,
		string(rec.Period),
		bucket,
		rec.TotalOffset.String(),
		breakdown,
		rec.Verified,
		rec.GeneratedAt,
	)
	if execErr != nil {
		return fmt.Errorf("upsert offset record: %w", execErr)
	}
	return nil
}

// ListOffsetRecords lists a user's records of one period kind within a window.
func (s *Store) ListOffsetRecords(ctx context.Context, userID string, period offset.PeriodKind, from, to time.Time) ([]StoredRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOffsetRecordsSQL, userID, string(period), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list offset records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]StoredRecord, 0)
	for rows.Next() {
		rec, scanErr := scanStoredRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// ListRecentOffsetRecords lists a user's most recent records, newest bucket first.
func (s *Store) ListRecentOffsetRecords(ctx context.Context, userID string, limit int) ([]StoredRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOffsetRecordsSQL, userID, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent offset records: %w", queryErr)
	}
	defer rows.Close()

	records := make([]StoredRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanStoredRecord(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// SumDailyOffsets projects a user's cumulative lifetime offset from the
// stored daily records.
func (s *Store) SumDailyOffsets(ctx context.Context, userID string) (decimal.Decimal, error) {
	pool, err := s.getPool()
	if err != nil {
		return decimal.Decimal{}, err
	}

	var totalStr string
	if scanErr := pool.QueryRow(ctx, sumDailyOffsetsSQL, userID).Scan(&totalStr); scanErr != nil {
		return decimal.Decimal{}, fmt.Errorf("sum daily offsets: %w", scanErr)
	}
	total, convErr := decimal.NewFromString(totalStr)
	if convErr != nil {
		return decimal.Decimal{}, fmt.Errorf("parse lifetime offset: %w", convErr)
	}
	return total, nil
}

// LoadRewardStates loads every persisted reward state.
func (s *Store) LoadRewardStates(ctx context.Context) (map[string]badge.UserState, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadRewardStatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load reward states: %w", queryErr)
	}
	defer rows.Close()

	states := make(map[string]badge.UserState)
	for rows.Next() {
		var userID string
		var payload []byte
		if err := rows.Scan(&userID, &payload); err != nil {
			return nil, err
		}
		var state badge.UserState
		if err := json.Unmarshal(payload, &state); err != nil {
			return nil, fmt.Errorf("unmarshal reward state for %s: %w", userID, err)
		}
		states[userID] = state
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return states, nil
}

// SaveRewardState upserts one user's reward state.
func (s *Store) SaveRewardState(ctx context.Context, state badge.UserState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal reward state: %w", err)
	}
	if _, execErr := pool.Exec(ctx, upsertRewardStateSQL, state.UserID, payload); execErr != nil {
		return fmt.Errorf("save reward state: %w", execErr)
	}
	return nil
}

// LoadTransactions loads every persisted tracked transaction keyed by hash.
func (s *Store) LoadTransactions(ctx context.Context) (map[string]tracker.Transaction, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, loadTransactionsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("load transactions: %w", queryErr)
	}
	defer rows.Close()

	txs := make(map[string]tracker.Transaction)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var tx tracker.Transaction
		if err := json.Unmarshal(payload, &tx); err != nil {
			return nil, fmt.Errorf("unmarshal tracked transaction: %w", err)
		}
		txs[tx.Hash] = tx
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return txs, nil
}

// SaveTransaction upserts one tracked transaction.
func (s *Store) SaveTransaction(ctx context.Context, tx tracker.Transaction) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal tracked transaction: %w", err)
	}
	if _, execErr := pool.Exec(ctx, upsertTransactionSQL, tx.Hash, string(tx.State), payload); execErr != nil {
		return fmt.Errorf("save tracked transaction: %w", execErr)
	}
	return nil
}

// DeleteTransaction removes one tracked transaction.
func (s *Store) DeleteTransaction(ctx context.Context, hash string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTransactionSQL, hash); execErr != nil {
		return fmt.Errorf("delete tracked transaction: %w", execErr)
	}
	return nil
}

// FetchSamples returns a user's telemetry samples within [from, to).
func (s *Store) FetchSamples(ctx context.Context, userID string, from, to time.Time) ([]telemetry.Sample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSamplesSQL, userID, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list telemetry samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]telemetry.Sample, 0)
	for rows.Next() {
		var (
			deviceID  string
			sampledAt time.Time
			energy    string
			direction string
			kwhStr    string
		)
		if err := rows.Scan(&deviceID, &sampledAt, &energy, &direction, &kwhStr); err != nil {
			return nil, err
		}
		kwh, convErr := decimal.NewFromString(kwhStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse sample kwh: %w", convErr)
		}
		samples = append(samples, telemetry.Sample{
			DeviceID:  deviceID,
			Timestamp: sampledAt,
			Energy:    telemetry.EnergyType(energy),
			Direction: telemetry.FlowDirection(direction),
			KWh:       kwh,
		})
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func scanStoredRecord(rows pgx.Rows) (StoredRecord, error) {
	var (
		userID      string
		period      string
		bucket      time.Time
		totalStr    string
		breakdown   []byte
		verified    bool
		generatedAt time.Time
		createdAt   time.Time
	)

	if err := rows.Scan(
		&userID,
		&period,
		&bucket,
		&totalStr,
		&breakdown,
		&verified,
		&generatedAt,
		&createdAt,
	); err != nil {
		return StoredRecord{}, err
	}

	total, err := decimal.NewFromString(totalStr)
	if err != nil {
		return StoredRecord{}, fmt.Errorf("parse total offset: %w", err)
	}

	rec := StoredRecord{
		Record: offset.Record{
			UserID:      userID,
			Period:      offset.PeriodKind(period),
			TotalOffset: total,
			Verified:    verified,
			GeneratedAt: generatedAt,
		},
		Bucket:    bucket,
		CreatedAt: createdAt,
	}

	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &rec.Breakdown); err != nil {
			return StoredRecord{}, fmt.Errorf("unmarshal breakdown: %w", err)
		}
	}
	if rec.Breakdown == nil {
		rec.Breakdown = map[telemetry.EnergyType]offset.Contribution{}
	}

	return rec, nil
}

var (
	_ OffsetRecordStore = (*Store)(nil)
	_ AdvisoryLocker    = (*Store)(nil)
	_ badge.Store       = (*Store)(nil)
	_ tracker.Store     = (*Store)(nil)
	_ telemetry.Source  = (*Store)(nil)
)
