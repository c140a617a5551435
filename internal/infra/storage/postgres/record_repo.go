package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/gaswatch/internal/core/domain"
	"github.com/vietddude/gaswatch/internal/infra/storage"
)

var _ storage.RecordStore = (*RecordRepo)(nil)

// Null values in EXCLUDED never clobber stored ones, and observed_at
// keeps whatever was written first.
const upsertRecordQuery = `
	INSERT INTO block_records (
		height, observed_at, base_fee,
		predicted_50, predicted_70, predicted_90, predicted_99, actual_price
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (height) DO UPDATE SET
		base_fee     = COALESCE(EXCLUDED.base_fee, block_records.base_fee),
		predicted_50 = COALESCE(EXCLUDED.predicted_50, block_records.predicted_50),
		predicted_70 = COALESCE(EXCLUDED.predicted_70, block_records.predicted_70),
		predicted_90 = COALESCE(EXCLUDED.predicted_90, block_records.predicted_90),
		predicted_99 = COALESCE(EXCLUDED.predicted_99, block_records.predicted_99),
		actual_price = COALESCE(EXCLUDED.actual_price, block_records.actual_price)
`

// RecordRepo implements storage.RecordStore using PostgreSQL.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

// UpsertBatch writes all records in one transaction.
func (r *RecordRepo) UpsertBatch(ctx context.Context, records []*domain.BlockRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertRecordQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		observedAt := rec.ObservedAt
		if observedAt.IsZero() {
			observedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			int64(rec.Height),
			observedAt.UTC(),
			nullable(rec.BaseFee),
			nullable(rec.Predicted50),
			nullable(rec.Predicted70),
			nullable(rec.Predicted90),
			nullable(rec.Predicted99),
			nullable(rec.ActualPrice),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert height %d: %w", rec.Height, err)
		}
	}

	return tx.Commit()
}

type recordRow struct {
	Height      int64           `db:"height"`
	ObservedAt  time.Time       `db:"observed_at"`
	BaseFee     sql.NullFloat64 `db:"base_fee"`
	Predicted50 sql.NullFloat64 `db:"predicted_50"`
	Predicted70 sql.NullFloat64 `db:"predicted_70"`
	Predicted90 sql.NullFloat64 `db:"predicted_90"`
	Predicted99 sql.NullFloat64 `db:"predicted_99"`
	ActualPrice sql.NullFloat64 `db:"actual_price"`
}

func (row *recordRow) toDomain() *domain.BlockRecord {
	return &domain.BlockRecord{
		Height:      uint64(row.Height),
		ObservedAt:  row.ObservedAt,
		BaseFee:     ptr(row.BaseFee),
		Predicted50: ptr(row.Predicted50),
		Predicted70: ptr(row.Predicted70),
		Predicted90: ptr(row.Predicted90),
		Predicted99: ptr(row.Predicted99),
		ActualPrice: ptr(row.ActualPrice),
	}
}

// Range returns records observed within [from, to] in height order.
func (r *RecordRepo) Range(ctx context.Context, from, to time.Time) ([]*domain.BlockRecord, error) {
	query := `
		SELECT height, observed_at, base_fee,
			predicted_50, predicted_70, predicted_90, predicted_99, actual_price
		FROM block_records
		WHERE observed_at >= $1 AND observed_at <= $2
		ORDER BY height ASC
	`
	var rows []recordRow
	if err := r.db.SelectContext(ctx, &rows, query, from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}

	out := make([]*domain.BlockRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ExistingHeights returns the subset of heights that already have a row.
func (r *RecordRepo) ExistingHeights(ctx context.Context, heights []uint64) (map[uint64]struct{}, error) {
	out := make(map[uint64]struct{})
	if len(heights) == 0 {
		return out, nil
	}

	args := make([]int64, len(heights))
	for i, h := range heights {
		args[i] = int64(h)
	}
	query, qargs, err := sqlx.In(`SELECT height FROM block_records WHERE height IN (?)`, args)
	if err != nil {
		return nil, err
	}

	var found []int64
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), qargs...); err != nil {
		return nil, fmt.Errorf("failed to look up heights: %w", err)
	}
	for _, h := range found {
		out[uint64(h)] = struct{}{}
	}
	return out, nil
}

// LatestHeight returns the highest stored height.
func (r *RecordRepo) LatestHeight(ctx context.Context) (uint64, bool, error) {
	var h sql.NullInt64
	if err := r.db.GetContext(ctx, &h, `SELECT MAX(height) FROM block_records`); err != nil {
		return 0, false, fmt.Errorf("failed to get latest height: %w", err)
	}
	if !h.Valid {
		return 0, false, nil
	}
	return uint64(h.Int64), true, nil
}

// DeleteOlderThan removes rows observed before cutoff.
func (r *RecordRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM block_records WHERE observed_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, tx.Commit()
}

// Reclaim runs VACUUM, which cannot run inside a transaction.
func (r *RecordRepo) Reclaim(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `VACUUM (ANALYZE) block_records`); err != nil {
		return fmt.Errorf("failed to vacuum: %w", err)
	}
	return nil
}

func (r *RecordRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM block_records`); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (r *RecordRepo) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

func (r *RecordRepo) Close() error {
	return r.db.Close()
}

func nullable(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func ptr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
