// Package order owns the order aggregate and its lifecycle state machine.
// An order snapshots its lines and payable amount at checkout, so later
// catalog changes never alter a placed order. All status changes flow
// through the transition checks here plus a conditional check-and-set in
// the repository, which together make every transition exactly-once.
package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested order does not exist.
var ErrNotFound = errors.New("order not found")

// ConflictError indicates an illegal lifecycle transition, such as
// cancelling an already-cancelled order or confirming delivery twice.
type ConflictError struct {
	OrderID string
	From    FulfillmentStatus
	To      FulfillmentStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order %s: illegal transition %s -> %s", e.OrderID, e.From, e.To)
}

// PaymentStatus is the payment leg of the order lifecycle. It resolves from
// Pending to Success or Failed exactly once.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentSuccess PaymentStatus = "Success"
	PaymentFailed  PaymentStatus = "Failed"
)

// FulfillmentStatus is the fulfillment leg of the order lifecycle.
type FulfillmentStatus string

const (
	FulfillmentPending        FulfillmentStatus = "Pending"
	FulfillmentOrdered        FulfillmentStatus = "Ordered"
	FulfillmentShipped        FulfillmentStatus = "Shipped"
	FulfillmentOutForDelivery FulfillmentStatus = "OutForDelivery"
	FulfillmentDelivered      FulfillmentStatus = "Delivered"
	FulfillmentCancelled      FulfillmentStatus = "Cancelled"
)

var fulfillmentRank = map[FulfillmentStatus]int{
	FulfillmentPending:        0,
	FulfillmentOrdered:        1,
	FulfillmentShipped:        2,
	FulfillmentOutForDelivery: 3,
	FulfillmentDelivered:      4,
}

// Valid reports whether s is a known fulfillment status.
func (s FulfillmentStatus) Valid() bool {
	if s == FulfillmentCancelled {
		return true
	}
	_, ok := fulfillmentRank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed from s.
func (s FulfillmentStatus) Terminal() bool {
	return s == FulfillmentDelivered || s == FulfillmentCancelled
}

// CanAdvance reports whether the fulfillment status may move from one state
// to another: strictly forward along the delivery path, or from any
// non-terminal state to Cancelled.
func CanAdvance(from, to FulfillmentStatus) bool {
	if from.Terminal() {
		return false
	}
	if to == FulfillmentCancelled {
		return true
	}
	fromRank, ok := fulfillmentRank[from]
	if !ok {
		return false
	}
	toRank, ok := fulfillmentRank[to]
	if !ok {
		return false
	}
	return toRank > fromRank
}

// Line is one immutable order line, snapshotted from the cart at checkout.
type Line struct {
	ItemID    string          `json:"item_id"`
	Quantity  int             `json:"quantity"`
	Size      string          `json:"size,omitempty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is the order aggregate. Identity and lines are immutable after
// creation; only the two status fields and the gateway correlation fields
// change, and only through the repository's conditional updates.
type Order struct {
	ID                string
	AccountID         string
	AddressID         string
	Lines             []Line
	Payable           decimal.Decimal
	PaymentMethod     string
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus
	GatewayOrderID    string
	GatewayPaymentID  string
	GatewaySignature  string
	ReferredBy        string
	CreatedAt         time.Time
}

// ListFilter narrows and pages an order listing.
type ListFilter struct {
	AccountID     string
	Status        FulfillmentStatus
	PaymentMethod string
	Page          int
	PageSize      int
	SortDesc      bool
}

// Repository defines persistence for orders. The two mutation methods are
// conditional check-and-set updates: they apply only when the stored state
// still matches the expected prior state, and report whether this call made
// the change.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]Order, error)

	// ResolvePayment moves payment status from Pending to the given
	// resolution and records the gateway correlation fields. It returns
	// false without touching the row when the payment is already resolved.
	ResolvePayment(ctx context.Context, id string, status PaymentStatus, paymentID, signature string) (bool, error)

	// AdvanceFulfillment moves fulfillment status from exactly `from` to
	// `to`. It returns false when the stored status no longer equals
	// `from`, which is how concurrent duplicate transitions lose.
	AdvanceFulfillment(ctx context.Context, id string, from, to FulfillmentStatus) (bool, error)
}
