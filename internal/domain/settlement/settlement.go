// Package settlement applies the ledger side effects of a delivered order:
// the buyer's tier cashback and lifetime-spend update, and the referrer's
// commission credit. Callers must invoke it exactly once per order; the
// order state machine's conditional Delivered transition is that guard.
package settlement

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/commission"
	"github.com/xenking/threadline/internal/domain/order"
)

// Settler executes delivery settlement against the wallet ledger and the
// commission book.
type Settler struct {
	accounts    account.Repository
	commissions commission.Repository
	now         func() time.Time
	lg          *zap.Logger
}

// NewSettler creates a Settler.
func NewSettler(accounts account.Repository, commissions commission.Repository, lg *zap.Logger) *Settler {
	return &Settler{
		accounts:    accounts,
		commissions: commissions,
		now:         time.Now,
		lg:          lg,
	}
}

// OnDelivered credits the buyer's wallet with the tier-based cashback as a
// locked credit, bumps lifetime spend (recomputing the tier), and settles
// the order's commission record, crediting the reward to the referrer's
// wallet. The commission credit goes to the referrer, never the buyer.
func (s *Settler) OnDelivered(ctx context.Context, o *order.Order) error {
	creditedAt := s.now()

	err := s.accounts.Update(ctx, o.AccountID, func(a *account.Account) error {
		reward := a.Tier.Reward(o.Payable)
		a.CreditLocked(uuid.New().String(), reward, creditedAt)
		a.RecordSpend(o.Payable)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "credit buyer wallet")
	}

	rec, settled, err := s.commissions.Settle(ctx, o.ID)
	if err != nil {
		return errors.Wrap(err, "settle commission")
	}
	if !settled {
		// No record (unreferred order) or a concurrent confirmation
		// already credited it.
		return nil
	}

	err = s.accounts.Update(ctx, rec.ReferrerID, func(a *account.Account) error {
		a.CreditLocked(uuid.New().String(), rec.Reward, creditedAt)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "credit referrer wallet")
	}

	s.lg.Info("commission settled",
		zap.String("order_id", o.ID),
		zap.String("referrer_id", rec.ReferrerID),
		zap.String("reward", rec.Reward.String()),
	)
	return nil
}
