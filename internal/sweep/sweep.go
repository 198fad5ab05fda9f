// Package sweep promotes matured locked credits to spendable balance. It
// runs as a single periodic background task; each account's promotion is
// one atomic conditional update, so the sweep never holds more than one
// account's critical section at a time and re-running it is a no-op.
package sweep

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ledger is the wallet-ledger surface the sweep needs.
type Ledger interface {
	// DueAccounts lists ids of accounts holding at least one locked credit
	// with creditedAt <= cutoff.
	DueAccounts(ctx context.Context, cutoff time.Time) ([]string, error)

	// Mature promotes, in one atomic step, every locked credit of the
	// account with creditedAt <= cutoff: each amount is added to the
	// spendable balance and the credit row removed. Returns the total
	// promoted and the number of credits.
	Mature(ctx context.Context, accountID string, cutoff time.Time) (decimal.Decimal, int, error)
}

// Config controls the sweep schedule.
type Config struct {
	Interval      time.Duration
	HoldingPeriod time.Duration
	Parallelism   int
}

// Sweeper is the maturation background job.
type Sweeper struct {
	ledger Ledger
	cfg    Config
	lg     *zap.Logger
	now    func() time.Time

	matured metric.Int64Counter
}

// New creates a Sweeper. The meter is used for a matured-credits counter.
func New(ledger Ledger, cfg Config, lg *zap.Logger, meter metric.Meter) (*Sweeper, error) {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 4
	}
	matured, err := meter.Int64Counter("wallet.credits.matured")
	if err != nil {
		return nil, err
	}
	return &Sweeper{
		ledger:  ledger,
		cfg:     cfg,
		lg:      lg,
		now:     time.Now,
		matured: matured,
	}, nil
}

// Run executes a pass on every tick until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.lg.Error("maturation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs a single maturation pass. The cutoff is recomputed from the
// current time on every pass, never captured at startup. A failure on one
// account is logged and skipped; the remaining accounts still mature.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.cfg.HoldingPeriod)

	ids, err := s.ledger.DueAccounts(ctx, cutoff)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Parallelism)

	for _, id := range ids {
		g.Go(func() error {
			amount, n, err := s.ledger.Mature(ctx, id, cutoff)
			if err != nil {
				s.lg.Error("mature account credits",
					zap.String("account_id", id), zap.Error(err))
				return nil
			}
			if n > 0 {
				s.matured.Add(ctx, int64(n))
				s.lg.Info("credits matured",
					zap.String("account_id", id),
					zap.Int("credits", n),
					zap.String("amount", amount.String()),
				)
			}
			return nil
		})
	}

	return g.Wait()
}
