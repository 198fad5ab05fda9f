package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/threadline/internal/domain/auth"
)

// registerAffiliate issues (or returns the existing) referral code for the
// calling customer.
func (h *Handler) registerAffiliate(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	code, err := h.referrals.Register(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("referral_code", func(e *jx.Encoder) { e.Str(code) })
	})
	writeJSON(w, http.StatusOK, &e)
}
