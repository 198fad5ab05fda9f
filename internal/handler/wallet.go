package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/threadline/internal/domain/auth"
)

// getWallet reports the two-tier wallet view: spendable balance, the locked
// credits still maturing, and the membership tier.
func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	acc, err := h.accounts.Get(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	locked := decimal.Zero
	for _, c := range acc.LockedCredits {
		locked = locked.Add(c.Amount)
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("spendable_balance", func(e *jx.Encoder) { e.Float64(acc.SpendableBalance.InexactFloat64()) })
		e.Field("locked_balance", func(e *jx.Encoder) { e.Float64(locked.InexactFloat64()) })
		e.Field("lifetime_spend", func(e *jx.Encoder) { e.Float64(acc.LifetimeSpend.InexactFloat64()) })
		e.Field("tier", func(e *jx.Encoder) { e.Str(string(acc.Tier)) })
		e.Field("locked_credits", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, c := range acc.LockedCredits {
					e.Obj(func(e *jx.Encoder) {
						e.Field("amount", func(e *jx.Encoder) { e.Float64(c.Amount.InexactFloat64()) })
						e.Field("credited_at", func(e *jx.Encoder) { e.Str(c.CreditedAt.Format(time.RFC3339)) })
					})
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}
