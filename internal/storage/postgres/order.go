package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/threadline/internal/domain/order"
)

const (
	createOrderSQL = `INSERT INTO orders (id, account_id, address_id, lines, payable, payment_method,
		payment_status, fulfillment_status, gateway_order_id, referred_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)`

	orderColumns = `id, account_id, address_id, lines, payable, payment_method,
		payment_status, fulfillment_status, gateway_order_id, gateway_payment_id,
		gateway_signature, COALESCE(referred_by::text, ''), created_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	resolvePaymentSQL = `UPDATE orders
		SET payment_status = $2, gateway_payment_id = $3, gateway_signature = $4
		WHERE id = $1 AND payment_status = 'Pending'`

	advanceFulfillmentSQL = `UPDATE orders
		SET fulfillment_status = $3
		WHERE id = $1 AND fulfillment_status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. The
// conditional UPDATEs here are the persistence half of the state machine:
// a transition applies only when the row still holds the expected prior
// state, so concurrent duplicates affect zero rows.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Lines are serialized to JSON for the JSONB
// column; they never change after this insert.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	linesJSON, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.AccountID, o.AddressID, linesJSON, o.Payable, o.PaymentMethod,
		o.PaymentStatus, o.FulfillmentStatus, o.GatewayOrderID, o.ReferredBy, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		linesJSON []byte
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.AddressID, &linesJSON, &o.Payable, &o.PaymentMethod,
		&o.PaymentStatus, &o.FulfillmentStatus, &o.GatewayOrderID, &o.GatewayPaymentID,
		&o.GatewaySignature, &o.ReferredBy, &o.CreatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	return o, nil
}

// Get returns one order by id.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// List returns a filtered, paged order listing.
func (r *OrderRepository) List(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AccountID != "" {
		where = append(where, "account_id = "+arg(f.AccountID))
	}
	if f.Status != "" {
		where = append(where, "fulfillment_status = "+arg(string(f.Status)))
	}
	if f.PaymentMethod != "" {
		where = append(where, "payment_method = "+arg(f.PaymentMethod))
	}

	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	if f.SortDesc {
		sql += " ORDER BY created_at DESC"
	} else {
		sql += " ORDER BY created_at"
	}
	sql += " LIMIT " + arg(f.PageSize) + " OFFSET " + arg((f.Page-1)*f.PageSize)

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// ResolvePayment resolves a Pending payment. Zero affected rows means the
// payment was already resolved.
func (r *OrderRepository) ResolvePayment(ctx context.Context, id string, status order.PaymentStatus, paymentID, signature string) (bool, error) {
	tag, err := r.pool.Exec(ctx, resolvePaymentSQL, id, status, paymentID, signature)
	if err != nil {
		return false, fmt.Errorf("resolving payment for order %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceFulfillment applies a fulfillment transition conditional on the
// prior state. Zero affected rows means a concurrent transition won.
func (r *OrderRepository) AdvanceFulfillment(ctx context.Context, id string, from, to order.FulfillmentStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, advanceFulfillmentSQL, id, from, to)
	if err != nil {
		return false, fmt.Errorf("advancing order %q: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
