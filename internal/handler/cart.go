package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/pricing"
)

type cartLineReq struct {
	ItemID   string
	Quantity int
	Size     string
}

func decodeCartLine(r *http.Request) (cartLineReq, error) {
	var req cartLineReq
	err := jx.Decode(r.Body, 512).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "item_id":
			req.ItemID, err = d.Str()
		case "quantity":
			req.Quantity, err = d.Int()
		case "size":
			req.Size, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func encodeQuote(e *jx.Encoder, q pricing.Quote) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range q.Lines {
					e.Obj(func(e *jx.Encoder) {
						e.Field("item_id", func(e *jx.Encoder) { e.Str(l.ItemID) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
						if l.Size != "" {
							e.Field("size", func(e *jx.Encoder) { e.Str(l.Size) })
						}
						e.Field("unit_price", func(e *jx.Encoder) { e.Float64(l.UnitPrice.InexactFloat64()) })
					})
				}
			})
		})
		e.Field("total", func(e *jx.Encoder) { e.Float64(q.Total.InexactFloat64()) })
		e.Field("referral_discount", func(e *jx.Encoder) { e.Float64(q.ReferralDiscount.InexactFloat64()) })
		e.Field("wallet_redemption", func(e *jx.Encoder) { e.Float64(q.WalletRedemption.InexactFloat64()) })
		e.Field("payable", func(e *jx.Encoder) { e.Float64(q.Payable.InexactFloat64()) })
	})
}

func (h *Handler) cartTotal(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	q, err := h.service.ComputeCartTotal(r.Context(), id.AccountID, r.URL.Query().Get("referral_code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeQuote(&e, q)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) addCartLine(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	req, err := decodeCartLine(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ItemID == "" || req.Quantity < 1 {
		writeErrorCode(w, http.StatusBadRequest, "item_id and a positive quantity are required")
		return
	}
	if err := h.service.AddCartLine(r.Context(), id.AccountID, req.ItemID, req.Quantity, req.Size); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateCartLine(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	req, err := decodeCartLine(r)
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Quantity < 1 {
		writeErrorCode(w, http.StatusBadRequest, "a positive quantity is required")
		return
	}
	if err := h.service.UpdateCartLine(r.Context(), id.AccountID, r.PathValue("itemID"), req.Quantity, req.Size); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeCartLine(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	if err := h.service.RemoveCartLine(r.Context(), id.AccountID, r.PathValue("itemID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
