package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/threadline/internal/domain/auth"
)

// listAddresses returns the caller's address book.
func (h *Handler) listAddresses(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	addrs, err := h.addresses.ListByAccount(r.Context(), id.AccountID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.Arr(func(e *jx.Encoder) {
		for _, a := range addrs {
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(a.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(a.Name) })
				e.Field("phone", func(e *jx.Encoder) { e.Str(a.Phone) })
				e.Field("pincode", func(e *jx.Encoder) { e.Str(a.Pincode) })
				if a.Landmark != "" {
					e.Field("landmark", func(e *jx.Encoder) { e.Str(a.Landmark) })
				}
				e.Field("line", func(e *jx.Encoder) { e.Str(a.Line) })
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("state", func(e *jx.Encoder) { e.Str(a.State) })
				e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
			})
		}
	})
	writeJSON(w, http.StatusOK, &e)
}
