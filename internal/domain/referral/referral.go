// Package referral resolves affiliate referral codes to referrer accounts
// and issues new codes. A bloom filter over the known codes rejects the
// common case of a bogus code without a database round trip; a filter hit
// still goes to the repository because of false positives.
package referral

import (
	"context"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"

	"github.com/xenking/threadline/internal/domain/account"
)

const (
	bloomCapacity = 1_000_000
	bloomFPR      = 0.001

	codeSuffixLen = 4
)

// Resolver maps referral codes to accounts.
type Resolver struct {
	accounts account.Repository

	mu     sync.RWMutex
	filter *bloom.BloomFilter
}

// NewResolver creates a Resolver. Call Warm before serving to seed the
// bloom filter with the existing codes.
func NewResolver(accounts account.Repository) *Resolver {
	return &Resolver{
		accounts: accounts,
		filter:   bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}
}

// Warm loads every registered referral code into the bloom filter.
func (r *Resolver) Warm(ctx context.Context) error {
	codes, err := r.accounts.ReferralCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list referral codes")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, code := range codes {
		r.filter.AddString(code)
	}
	return nil
}

// Resolve returns the referrer for a code, or nil when the code is empty,
// unknown, or belongs to the purchasing customer (no self-referral). An
// unknown code never fails the purchase; it simply earns no discount.
func (r *Resolver) Resolve(ctx context.Context, code, customerID string) (*account.Account, error) {
	if code == "" {
		return nil, nil
	}

	r.mu.RLock()
	maybe := r.filter.TestString(code)
	r.mu.RUnlock()
	if !maybe {
		return nil, nil
	}

	referrer, err := r.accounts.FindByReferralCode(ctx, code)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "find referrer")
	}
	if referrer.ID == customerID {
		return nil, nil
	}
	return referrer, nil
}

// Register issues a referral code for the account, derived from the
// username and the account id tail. Registering twice returns the existing
// code unchanged.
func (r *Resolver) Register(ctx context.Context, accountID string) (string, error) {
	acc, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return "", errors.Wrap(err, "get account")
	}
	if acc.ReferralCode != "" {
		return acc.ReferralCode, nil
	}

	code := acc.Username + tail(acc.ID, codeSuffixLen)
	if err := r.accounts.SetReferralCode(ctx, accountID, code); err != nil {
		return "", errors.Wrap(err, "store referral code")
	}

	r.mu.Lock()
	r.filter.AddString(code)
	r.mu.Unlock()

	return code, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
