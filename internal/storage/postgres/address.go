package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/threadline/internal/domain/address"
)

const getAddressSQL = `SELECT id, account_id, name, phone, pincode, landmark, line, city, state, country
	FROM addresses WHERE id = $1`

const listAddressesSQL = `SELECT id, account_id, name, phone, pincode, landmark, line, city, state, country
	FROM addresses WHERE account_id = $1 ORDER BY id`

var _ address.Repository = (*AddressRepository)(nil)

// AddressRepository implements address.Repository backed by PostgreSQL.
type AddressRepository struct {
	pool *pgxpool.Pool
}

// NewAddressRepository returns an AddressRepository that uses the given pool.
func NewAddressRepository(pool *pgxpool.Pool) *AddressRepository {
	return &AddressRepository{pool: pool}
}

// GetByID returns a single address.
func (r *AddressRepository) GetByID(ctx context.Context, id string) (*address.Address, error) {
	var a address.Address
	err := r.pool.QueryRow(ctx, getAddressSQL, id).Scan(
		&a.ID, &a.AccountID, &a.Name, &a.Phone, &a.Pincode,
		&a.Landmark, &a.Line, &a.City, &a.State, &a.Country,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, address.ErrNotFound
		}
		return nil, fmt.Errorf("getting address %q: %w", id, err)
	}
	return &a, nil
}

// ListByAccount returns every address owned by the account.
func (r *AddressRepository) ListByAccount(ctx context.Context, accountID string) ([]address.Address, error) {
	rows, err := r.pool.Query(ctx, listAddressesSQL, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing addresses: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (address.Address, error) {
		var a address.Address
		err := row.Scan(
			&a.ID, &a.AccountID, &a.Name, &a.Phone, &a.Pincode,
			&a.Landmark, &a.Line, &a.City, &a.State, &a.Country,
		)
		return a, err
	})
}
