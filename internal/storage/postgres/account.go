package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/threadline/internal/domain/account"
)

const (
	getAccountSQL = `SELECT id, username, spendable_balance, lifetime_spend, tier, COALESCE(referral_code, '')
		FROM accounts WHERE id = $1`

	// FOR UPDATE serializes all mutators of one account: checkout,
	// delivery settlement, and the maturation sweep.
	lockAccountSQL = getAccountSQL + ` FOR UPDATE`

	getLockedCreditsSQL = `SELECT id, amount, credited_at
		FROM locked_credits WHERE account_id = $1 ORDER BY credited_at`

	getCartSQL = `SELECT item_id, quantity, size
		FROM cart_lines WHERE account_id = $1 ORDER BY item_id`

	saveAccountSQL = `UPDATE accounts
		SET spendable_balance = $2, lifetime_spend = $3, tier = $4, updated_at = now()
		WHERE id = $1`

	insertCreditSQL = `INSERT INTO locked_credits (id, account_id, amount, credited_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING`

	deleteCartSQL = `DELETE FROM cart_lines WHERE account_id = $1`

	upsertCartLineSQL = `INSERT INTO cart_lines (account_id, item_id, quantity, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, item_id) DO UPDATE SET quantity = $3, size = $4`

	findByReferralCodeSQL = `SELECT id, username, spendable_balance, lifetime_spend, tier, COALESCE(referral_code, '')
		FROM accounts WHERE referral_code = $1`

	setReferralCodeSQL = `UPDATE accounts SET referral_code = $2, updated_at = now()
		WHERE id = $1 AND referral_code IS NULL`

	listReferralCodesSQL = `SELECT referral_code FROM accounts WHERE referral_code IS NOT NULL`

	dueAccountsSQL = `SELECT DISTINCT account_id FROM locked_credits WHERE credited_at <= $1`

	matureCreditsSQL = `DELETE FROM locked_credits
		WHERE account_id = $1 AND credited_at <= $2
		RETURNING amount`

	promoteBalanceSQL = `UPDATE accounts
		SET spendable_balance = spendable_balance + $2, updated_at = now()
		WHERE id = $1`
)

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository and sweep.Ledger backed
// by PostgreSQL.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

func scanAccountRow(row pgx.Row, a *account.Account) error {
	return row.Scan(&a.ID, &a.Username, &a.SpendableBalance, &a.LifetimeSpend, &a.Tier, &a.ReferralCode)
}

func loadAccountDetails(ctx context.Context, q querier, a *account.Account) error {
	rows, err := q.Query(ctx, getLockedCreditsSQL, a.ID)
	if err != nil {
		return fmt.Errorf("loading locked credits: %w", err)
	}
	a.LockedCredits, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (account.LockedCredit, error) {
		var c account.LockedCredit
		err := row.Scan(&c.ID, &c.Amount, &c.CreditedAt)
		return c, err
	})
	if err != nil {
		return err
	}

	rows, err = q.Query(ctx, getCartSQL, a.ID)
	if err != nil {
		return fmt.Errorf("loading cart: %w", err)
	}
	a.Cart, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (account.CartLine, error) {
		var l account.CartLine
		err := row.Scan(&l.ItemID, &l.Quantity, &l.Size)
		return l, err
	})
	return err
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Get loads an account with its locked credits and cart.
func (r *AccountRepository) Get(ctx context.Context, id string) (*account.Account, error) {
	var a account.Account
	if err := scanAccountRow(r.pool.QueryRow(ctx, getAccountSQL, id), &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("getting account %q: %w", id, err)
	}
	if err := loadAccountDetails(ctx, r.pool, &a); err != nil {
		return nil, fmt.Errorf("getting account %q: %w", id, err)
	}
	return &a, nil
}

// Update applies fn to the account inside a transaction holding the row
// lock, then writes back balances, new locked credits, and the cart. This
// is the single atomic read-modify-write required for per-account state.
func (r *AccountRepository) Update(ctx context.Context, id string, fn func(*account.Account) error) error {
	return inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var a account.Account
		if err := scanAccountRow(tx.QueryRow(ctx, lockAccountSQL, id), &a); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return account.ErrNotFound
			}
			return fmt.Errorf("locking account %q: %w", id, err)
		}
		if err := loadAccountDetails(ctx, tx, &a); err != nil {
			return fmt.Errorf("loading account %q: %w", id, err)
		}

		before := len(a.LockedCredits)
		if err := fn(&a); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, saveAccountSQL, a.ID, a.SpendableBalance, a.LifetimeSpend, a.Tier); err != nil {
			return fmt.Errorf("saving account %q: %w", id, err)
		}
		for _, c := range a.LockedCredits[before:] {
			if _, err := tx.Exec(ctx, insertCreditSQL, c.ID, a.ID, c.Amount, c.CreditedAt); err != nil {
				return fmt.Errorf("inserting locked credit: %w", err)
			}
		}

		// The cart is small; rewriting it keeps the checkout clear atomic
		// with the wallet debit.
		if _, err := tx.Exec(ctx, deleteCartSQL, a.ID); err != nil {
			return fmt.Errorf("clearing cart: %w", err)
		}
		for _, l := range a.Cart {
			if _, err := tx.Exec(ctx, upsertCartLineSQL, a.ID, l.ItemID, l.Quantity, l.Size); err != nil {
				return fmt.Errorf("writing cart line: %w", err)
			}
		}
		return nil
	})
}

// FindByReferralCode returns the account owning a referral code.
func (r *AccountRepository) FindByReferralCode(ctx context.Context, code string) (*account.Account, error) {
	var a account.Account
	if err := scanAccountRow(r.pool.QueryRow(ctx, findByReferralCodeSQL, code), &a); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("finding referral code %q: %w", code, err)
	}
	return &a, nil
}

// SetReferralCode stores a referral code once; a second registration keeps
// the first code.
func (r *AccountRepository) SetReferralCode(ctx context.Context, id, code string) error {
	_, err := r.pool.Exec(ctx, setReferralCodeSQL, id, code)
	if err != nil {
		return fmt.Errorf("setting referral code for %q: %w", id, err)
	}
	return nil
}

// ReferralCodes lists all registered referral codes.
func (r *AccountRepository) ReferralCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listReferralCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing referral codes: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var code string
		err := row.Scan(&code)
		return code, err
	})
}

// DueAccounts lists accounts holding credits at or past the cutoff.
func (r *AccountRepository) DueAccounts(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, dueAccountsSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing due accounts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}

// Mature promotes all of one account's matured credits in a single
// transaction: the DELETE is keyed on credited_at, so credits added after
// the cutoff was taken are untouched, and a re-run finds nothing to do.
func (r *AccountRepository) Mature(ctx context.Context, accountID string, cutoff time.Time) (decimal.Decimal, int, error) {
	total := decimal.Zero
	count := 0

	err := inTx(ctx, r.pool, func(tx pgx.Tx) error {
		var a account.Account
		if err := scanAccountRow(tx.QueryRow(ctx, lockAccountSQL, accountID), &a); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return account.ErrNotFound
			}
			return fmt.Errorf("locking account %q: %w", accountID, err)
		}

		rows, err := tx.Query(ctx, matureCreditsSQL, accountID, cutoff)
		if err != nil {
			return fmt.Errorf("removing matured credits: %w", err)
		}
		amounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (decimal.Decimal, error) {
			var amount decimal.Decimal
			err := row.Scan(&amount)
			return amount, err
		})
		if err != nil {
			return err
		}
		for _, amount := range amounts {
			total = total.Add(amount)
		}
		count = len(amounts)
		if count == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, promoteBalanceSQL, accountID, total); err != nil {
			return fmt.Errorf("promoting balance: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	return total, count, nil
}
