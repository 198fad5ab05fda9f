// Package commission is the affiliate commission book: one record per
// referred order, created when the order's payment succeeds and settled at
// most once when the order is delivered.
package commission

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no commission record exists for an order.
var ErrNotFound = errors.New("commission record not found")

// Status tracks a commission record's settlement state.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusCredited Status = "Credited"
	StatusDeclined Status = "Declined"
)

var commissionPercent = decimal.NewFromInt(1)

// Reward computes the referral reward for an order payable: 1%, rounded
// down to the smallest currency unit.
func Reward(payable decimal.Decimal) decimal.Decimal {
	return payable.Mul(commissionPercent).Div(decimal.NewFromInt(100)).RoundFloor(2)
}

// Record ties a referrer's reward to one referred order.
type Record struct {
	ID         string
	ReferrerID string
	AccountID  string
	OrderID    string
	Reward     decimal.Decimal
	Status     Status
	CreatedAt  time.Time
}

// Repository defines persistence for commission records. Settle is a
// conditional update so that under concurrent delivery confirmations at
// most one caller credits the record.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	GetByOrder(ctx context.Context, orderID string) (*Record, error)

	// Settle flips the order's record from Pending to Credited and returns
	// it. The boolean is false when the order has no record or the record
	// was already settled.
	Settle(ctx context.Context, orderID string) (*Record, bool, error)
}
