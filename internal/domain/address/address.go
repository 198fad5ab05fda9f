// Package address exposes the shipping address book consumed at checkout.
// Address CRUD is a collaborator concern; checkout only verifies ownership
// and deliverability.
package address

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested address does not exist.
var ErrNotFound = errors.New("address not found")

// Address is a deliverable shipping address owned by one account.
type Address struct {
	ID        string
	AccountID string
	Name      string
	Phone     string
	Pincode   string
	Landmark  string
	Line      string
	City      string
	State     string
	Country   string
}

// Repository defines address lookups.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Address, error)
	ListByAccount(ctx context.Context, accountID string) ([]Address, error)
}
