package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/threadline/internal/domain/commission"
)

const (
	createCommissionSQL = `INSERT INTO commissions (id, referrer_id, account_id, order_id, reward, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	commissionColumns = `id, referrer_id, account_id, order_id, reward, status, created_at`

	getCommissionByOrderSQL = `SELECT ` + commissionColumns + ` FROM commissions WHERE order_id = $1`

	settleCommissionSQL = `UPDATE commissions SET status = 'Credited'
		WHERE order_id = $1 AND status = 'Pending'
		RETURNING ` + commissionColumns
)

var _ commission.Repository = (*CommissionRepository)(nil)

// CommissionRepository implements commission.Repository backed by
// PostgreSQL.
type CommissionRepository struct {
	pool *pgxpool.Pool
}

// NewCommissionRepository returns a CommissionRepository that uses the
// given pool.
func NewCommissionRepository(pool *pgxpool.Pool) *CommissionRepository {
	return &CommissionRepository{pool: pool}
}

// Create persists a commission record. The order_id unique constraint
// guarantees at most one record per order.
func (r *CommissionRepository) Create(ctx context.Context, rec *commission.Record) error {
	_, err := r.pool.Exec(ctx, createCommissionSQL,
		rec.ID, rec.ReferrerID, rec.AccountID, rec.OrderID, rec.Reward, rec.Status, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating commission for order %q: %w", rec.OrderID, err)
	}
	return nil
}

func scanCommission(row pgx.CollectableRow) (commission.Record, error) {
	var rec commission.Record
	err := row.Scan(&rec.ID, &rec.ReferrerID, &rec.AccountID, &rec.OrderID, &rec.Reward, &rec.Status, &rec.CreatedAt)
	return rec, err
}

// GetByOrder returns the commission record for an order.
func (r *CommissionRepository) GetByOrder(ctx context.Context, orderID string) (*commission.Record, error) {
	rows, err := r.pool.Query(ctx, getCommissionByOrderSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting commission for order %q: %w", orderID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanCommission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, commission.ErrNotFound
		}
		return nil, fmt.Errorf("getting commission for order %q: %w", orderID, err)
	}
	return &rec, nil
}

// Settle conditionally flips the record from Pending to Credited. The
// RETURNING clause only yields a row for the caller that actually made the
// transition, so at most one concurrent delivery confirmation settles it.
func (r *CommissionRepository) Settle(ctx context.Context, orderID string) (*commission.Record, bool, error) {
	rows, err := r.pool.Query(ctx, settleCommissionSQL, orderID)
	if err != nil {
		return nil, false, fmt.Errorf("settling commission for order %q: %w", orderID, err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanCommission)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("settling commission for order %q: %w", orderID, err)
	}
	return &rec, true, nil
}
