package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/checkout"
	"github.com/xenking/threadline/internal/domain/order"
)

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Str(o.AccountID) })
		e.Field("address_id", func(e *jx.Encoder) { e.Str(o.AddressID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range o.Lines {
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
		e.Field("payable", func(e *jx.Encoder) { e.Float64(o.Payable.InexactFloat64()) })
		e.Field("payment_method", func(e *jx.Encoder) { e.Str(o.PaymentMethod) })
		e.Field("payment_status", func(e *jx.Encoder) { e.Str(string(o.PaymentStatus)) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.FulfillmentStatus)) })
		e.Field("gateway_order_id", func(e *jx.Encoder) { e.Str(o.GatewayOrderID) })
		e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.Format(time.RFC3339)) })
	})
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	var req checkout.CheckoutRequest
	err := jx.Decode(r.Body, 512).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "address_id":
			req.AddressID, err = d.Str()
		case "payment_method":
			req.PaymentMethod, err = d.Str()
		case "referral_code":
			req.ReferralCode, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed request body")
		return
	}
	req.CustomerID = id.AccountID

	o, err := h.service.Checkout(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusCreated, &e)
}

func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	var orderID, paymentID, signature string
	err := jx.Decode(r.Body, 512).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			orderID, err = d.Str()
		case "gateway_payment_id":
			paymentID, err = d.Str()
		case "signature":
			signature, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if orderID == "" {
		writeErrorCode(w, http.StatusBadRequest, "order_id is required")
		return
	}

	o, err := h.service.VerifyPayment(r.Context(), orderID, paymentID, signature)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	q := r.URL.Query()
	req := checkout.ListRequest{
		CustomerID:    q.Get("customer_id"),
		Status:        q.Get("status"),
		PaymentMethod: q.Get("payment_method"),
		SortDesc:      q.Get("sort") != "asc",
	}
	req.Page, _ = strconv.Atoi(q.Get("page"))
	req.PageSize, _ = strconv.Atoi(q.Get("page_size"))

	orders, err := h.service.ListOrders(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("orders", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for i := range orders {
					encodeOrder(e, &orders[i])
				}
			})
		})
	})
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	o, err := h.service.GetOrder(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request, id auth.Identity) {
	o, err := h.service.CancelOrder(r.Context(), id, r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, _ auth.Identity) {
	var status string
	err := jx.Decode(r.Body, 512).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "status":
			status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, "malformed request body")
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), r.PathValue("id"), order.FulfillmentStatus(status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}
