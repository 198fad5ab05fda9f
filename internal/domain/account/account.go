// Package account holds the customer account aggregate: wallet balances,
// membership tier, referral code, and the shopping cart. Every balance
// mutation goes through a method on Account so the invariants (non-negative
// spendable balance, monotone lifetime spend) cannot be bypassed.
package account

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrInsufficientBalance is returned when a debit would drive the
	// spendable balance below zero.
	ErrInsufficientBalance = errors.New("insufficient spendable balance")
	// ErrLineNotFound is returned when a cart mutation targets an item
	// that is not in the cart.
	ErrLineNotFound = errors.New("cart line not found")
)

// Tier is the membership tier derived from lifetime spend. It never moves
// backwards because lifetime spend never decreases.
type Tier string

const (
	TierBase Tier = "Base"
	TierMid  Tier = "Mid"
	TierTop  Tier = "Top"
)

var (
	midThreshold = decimal.NewFromInt(5000)
	topThreshold = decimal.NewFromInt(15000)

	rewardPercent = map[Tier]decimal.Decimal{
		TierBase: decimal.NewFromInt(3),
		TierMid:  decimal.NewFromInt(6),
		TierTop:  decimal.NewFromInt(9),
	}

	hundred = decimal.NewFromInt(100)
)

// TierFor returns the tier a given lifetime spend qualifies for.
func TierFor(lifetimeSpend decimal.Decimal) Tier {
	switch {
	case lifetimeSpend.GreaterThanOrEqual(topThreshold):
		return TierTop
	case lifetimeSpend.GreaterThanOrEqual(midThreshold):
		return TierMid
	default:
		return TierBase
	}
}

// RewardPercent returns the cashback percentage for the tier.
func (t Tier) RewardPercent() decimal.Decimal {
	if p, ok := rewardPercent[t]; ok {
		return p
	}
	return rewardPercent[TierBase]
}

// Reward computes the locked-credit amount for an order payable at this
// tier, rounded down to the smallest currency unit.
func (t Tier) Reward(payable decimal.Decimal) decimal.Decimal {
	return payable.Mul(t.RewardPercent()).Div(hundred).RoundFloor(2)
}

// LockedCredit is a wallet credit held for the maturation period. It leaves
// the locked list only by maturing into the spendable balance.
type LockedCredit struct {
	ID         string
	Amount     decimal.Decimal
	CreditedAt time.Time
}

// CartLine is one entry of the customer's cart.
type CartLine struct {
	ItemID   string
	Quantity int
	Size     string
}

// Account is the customer aggregate.
type Account struct {
	ID               string
	Username         string
	SpendableBalance decimal.Decimal
	LifetimeSpend    decimal.Decimal
	Tier             Tier
	ReferralCode     string
	LockedCredits    []LockedCredit
	Cart             []CartLine
}

// Debit removes amount from the spendable balance. The balance never goes
// negative; callers must bound the amount beforehand.
func (a *Account) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.New("debit amount must not be negative")
	}
	next := a.SpendableBalance.Sub(amount)
	if next.IsNegative() {
		return ErrInsufficientBalance
	}
	a.SpendableBalance = next
	return nil
}

// CreditLocked appends a locked credit. Zero or negative amounts are ignored
// rather than recorded, so rounding a tiny reward down to zero leaves no
// empty ledger entry behind.
func (a *Account) CreditLocked(id string, amount decimal.Decimal, at time.Time) {
	if !amount.IsPositive() {
		return
	}
	a.LockedCredits = append(a.LockedCredits, LockedCredit{ID: id, Amount: amount, CreditedAt: at})
}

// RecordSpend adds a settled order's payable to the lifetime spend and
// recomputes the tier. Lifetime spend is monotone, so the tier is too.
func (a *Account) RecordSpend(payable decimal.Decimal) {
	if payable.IsNegative() {
		return
	}
	a.LifetimeSpend = a.LifetimeSpend.Add(payable)
	a.Tier = TierFor(a.LifetimeSpend)
}

// AddCartLine adds a line, merging quantity into an existing line for the
// same item.
func (a *Account) AddCartLine(itemID string, quantity int, size string) error {
	if quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	for i := range a.Cart {
		if a.Cart[i].ItemID == itemID {
			a.Cart[i].Quantity += quantity
			a.Cart[i].Size = size
			return nil
		}
	}
	a.Cart = append(a.Cart, CartLine{ItemID: itemID, Quantity: quantity, Size: size})
	return nil
}

// UpdateCartLine replaces quantity and size of an existing line.
func (a *Account) UpdateCartLine(itemID string, quantity int, size string) error {
	if quantity < 1 {
		return errors.New("quantity must be at least 1")
	}
	for i := range a.Cart {
		if a.Cart[i].ItemID == itemID {
			a.Cart[i].Quantity = quantity
			a.Cart[i].Size = size
			return nil
		}
	}
	return ErrLineNotFound
}

// RemoveCartLine deletes the line for the given item.
func (a *Account) RemoveCartLine(itemID string) error {
	for i := range a.Cart {
		if a.Cart[i].ItemID == itemID {
			a.Cart = append(a.Cart[:i], a.Cart[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// ConsumeCartLine subtracts an ordered quantity from a line, dropping the
// line once nothing remains. A missing line is ignored: it was already
// removed by a concurrent edit. Quantity added to a line after the order
// was priced stays in the cart.
func (a *Account) ConsumeCartLine(itemID string, quantity int) {
	for i := range a.Cart {
		if a.Cart[i].ItemID == itemID {
			a.Cart[i].Quantity -= quantity
			if a.Cart[i].Quantity <= 0 {
				a.Cart = append(a.Cart[:i], a.Cart[i+1:]...)
			}
			return
		}
	}
}

// Repository defines persistence for accounts. Update applies fn inside a
// per-account critical section (row lock or equivalent) so concurrent
// checkouts, delivery confirmations, and maturation passes on the same
// account cannot interleave partial writes.
type Repository interface {
	Get(ctx context.Context, id string) (*Account, error)
	Update(ctx context.Context, id string, fn func(*Account) error) error
	FindByReferralCode(ctx context.Context, code string) (*Account, error)
	SetReferralCode(ctx context.Context, id, code string) error
	ReferralCodes(ctx context.Context) ([]string, error)
}
