// Package pricing computes a cart's payable amount. It is a pure function
// of the cart, the catalog snapshot, the referral resolution, and the
// customer's spendable balance; the actual wallet debit happens atomically
// at checkout, not here.
package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/catalog"
)

// ErrEmptyCart is returned when nothing purchasable remains after stock
// filtering: an empty cart and a fully out-of-stock cart price identically.
var ErrEmptyCart = errors.New("no items available in stock")

var (
	hundred = decimal.NewFromInt(100)

	referralPercent      = decimal.NewFromInt(10)
	redemptionCapPercent = decimal.NewFromInt(10)
)

// Line is a priced cart line that survived stock filtering.
type Line struct {
	ItemID    string
	Quantity  int
	Size      string
	UnitPrice decimal.Decimal
}

// Quote is the result of pricing a cart. Payable = Total - ReferralDiscount
// - WalletRedemption, and both discounts are bounded so Payable is never
// negative.
type Quote struct {
	Lines            []Line
	Total            decimal.Decimal
	ReferralDiscount decimal.Decimal
	WalletRedemption decimal.Decimal
	Payable          decimal.Decimal
}

// Discount returns the combined discount applied to the quote.
func (q Quote) Discount() decimal.Decimal {
	return q.ReferralDiscount.Add(q.WalletRedemption)
}

// Compute prices the cart against the given catalog snapshot.
//
// Lines whose item is missing or out of stock are dropped silently; that is
// never an error on its own. A referrer grants a 10% discount; a positive
// spendable balance grants a redemption of min(balance, 10% of total). The
// two stack additively.
func Compute(cart []account.CartLine, items map[string]catalog.Item, hasReferrer bool, spendable decimal.Decimal) (Quote, error) {
	q := Quote{
		Total:            decimal.Zero,
		ReferralDiscount: decimal.Zero,
		WalletRedemption: decimal.Zero,
	}

	for _, line := range cart {
		item, ok := items[line.ItemID]
		if !ok || !item.InStock {
			continue
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		q.Total = q.Total.Add(item.Price.Mul(qty))
		q.Lines = append(q.Lines, Line{
			ItemID:    line.ItemID,
			Quantity:  line.Quantity,
			Size:      line.Size,
			UnitPrice: item.Price,
		})
	}

	if !q.Total.IsPositive() {
		return Quote{}, ErrEmptyCart
	}

	if hasReferrer {
		q.ReferralDiscount = q.Total.Mul(referralPercent).Div(hundred).Round(2)
	}

	if spendable.IsPositive() {
		// Rounded down so the redemption never exceeds 10% of the total.
		cap := q.Total.Mul(redemptionCapPercent).Div(hundred).RoundFloor(2)
		q.WalletRedemption = decimal.Min(spendable, cap)
	}

	q.Payable = q.Total.Sub(q.Discount()).Round(2)
	return q, nil
}
