// Package handler exposes the settlement engine over HTTP. Handlers decode
// requests, delegate to the checkout service, and map domain errors to
// status codes; no business rules live here.
package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/address"
	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/catalog"
	"github.com/xenking/threadline/internal/domain/checkout"
	"github.com/xenking/threadline/internal/domain/order"
	"github.com/xenking/threadline/internal/domain/pricing"
	"github.com/xenking/threadline/internal/domain/referral"
	"github.com/xenking/threadline/internal/payment"
)

// Handler wires HTTP routes to the domain services.
type Handler struct {
	service   *checkout.Service
	referrals *referral.Resolver
	accounts  account.Repository
	items     catalog.Repository
	addresses address.Repository
	verifier  *auth.Verifier
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	service *checkout.Service,
	referrals *referral.Resolver,
	accounts account.Repository,
	items catalog.Repository,
	addresses address.Repository,
	verifier *auth.Verifier,
) *Handler {
	return &Handler{
		service:   service,
		referrals: referrals,
		accounts:  accounts,
		items:     items,
		addresses: addresses,
		verifier:  verifier,
	}
}

// Register mounts all API routes on mux. Catalog reads are public; every
// other route requires an API key, and status updates additionally require
// an admin key.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/catalog", h.listCatalog)
	mux.HandleFunc("GET /api/catalog/{id}", h.getCatalogItem)

	mux.Handle("GET /api/wallet", h.authenticated(h.getWallet))
	mux.Handle("GET /api/addresses", h.authenticated(h.listAddresses))

	mux.Handle("GET /api/cart/total", h.authenticated(h.cartTotal))
	mux.Handle("POST /api/cart/items", h.authenticated(h.addCartLine))
	mux.Handle("PUT /api/cart/items/{itemID}", h.authenticated(h.updateCartLine))
	mux.Handle("DELETE /api/cart/items/{itemID}", h.authenticated(h.removeCartLine))

	mux.Handle("POST /api/checkout", h.authenticated(h.checkout))
	mux.Handle("POST /api/payments/verify", h.authenticated(h.verifyPayment))

	mux.Handle("GET /api/orders", h.authenticated(h.listOrders))
	mux.Handle("GET /api/orders/{id}", h.authenticated(h.getOrder))
	mux.Handle("POST /api/orders/{id}/cancel", h.authenticated(h.cancelOrder))
	mux.Handle("PUT /api/orders/{id}/status", h.admin(h.updateStatus))

	mux.Handle("POST /api/affiliate/register", h.authenticated(h.registerAffiliate))
}

func writeJSON(w http.ResponseWriter, status int, e *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeErrorCode(w http.ResponseWriter, status int, message string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Int(status) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
	})
	writeJSON(w, status, &e)
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *order.ConflictError
	var gwErr *payment.GatewayError
	switch {
	case errors.Is(err, account.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, address.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, account.ErrLineNotFound):
		writeErrorCode(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidPaymentMethod),
		errors.Is(err, checkout.ErrUnknownStatus):
		writeErrorCode(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, payment.ErrSignatureMismatch):
		writeErrorCode(w, http.StatusBadRequest, "payment verification failed")
	case errors.Is(err, account.ErrInsufficientBalance):
		writeErrorCode(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &conflict):
		writeErrorCode(w, http.StatusConflict, conflict.Error())
	case errors.As(err, &gwErr):
		zctx.From(r.Context()).Error("payment gateway failure", zap.Error(err))
		writeErrorCode(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		zctx.From(r.Context()).Error("internal error", zap.Error(err))
		writeErrorCode(w, http.StatusInternalServerError, "internal error")
	}
}
