// Package checkout is the settlement engine's service layer: it prices
// carts, places orders against the payment gateway, drives the order
// lifecycle state machine, and triggers wallet and commission settlement.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/address"
	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/catalog"
	"github.com/xenking/threadline/internal/domain/commission"
	"github.com/xenking/threadline/internal/domain/order"
	"github.com/xenking/threadline/internal/domain/pricing"
	"github.com/xenking/threadline/internal/payment"
)

// Sentinel validation errors.
var (
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrUnknownStatus        = errors.New("unknown order status")
	ErrNotYourOrder         = errors.New("order belongs to another customer")
)

// PaymentMethods lists the accepted payment methods.
var PaymentMethods = []string{
	"Cash on delivery",
	"Credit/Debit card",
	"Net banking",
	"UPI",
	"Wallet",
}

func validPaymentMethod(m string) bool {
	for _, pm := range PaymentMethods {
		if pm == m {
			return true
		}
	}
	return false
}

// ReferrerResolver resolves a referral code to the referring account.
type ReferrerResolver interface {
	Resolve(ctx context.Context, code, customerID string) (*account.Account, error)
}

// DeliverySettler applies delivery-time ledger side effects.
type DeliverySettler interface {
	OnDelivered(ctx context.Context, o *order.Order) error
}

// Identity is the authenticated caller, produced by the session/API-key
// collaborator.
type Identity = auth.Identity

// Service wires the settlement engine together.
type Service struct {
	accounts    account.Repository
	items       catalog.Repository
	addresses   address.Repository
	orders      order.Repository
	commissions commission.Repository
	referrals   ReferrerResolver
	gateway     payment.Gateway
	verifier    *payment.Verifier
	settler     DeliverySettler

	currency string
	lg       *zap.Logger
}

// NewService creates the checkout Service.
func NewService(
	accounts account.Repository,
	items catalog.Repository,
	addresses address.Repository,
	orders order.Repository,
	commissions commission.Repository,
	referrals ReferrerResolver,
	gateway payment.Gateway,
	verifier *payment.Verifier,
	settler DeliverySettler,
	currency string,
	lg *zap.Logger,
) *Service {
	return &Service{
		accounts:    accounts,
		items:       items,
		addresses:   addresses,
		orders:      orders,
		commissions: commissions,
		referrals:   referrals,
		gateway:     gateway,
		verifier:    verifier,
		settler:     settler,
		currency:    currency,
		lg:          lg,
	}
}

// quote prices the account's current cart with an optional referral code.
func (s *Service) quote(ctx context.Context, acc *account.Account, referralCode string) (pricing.Quote, *account.Account, error) {
	referrer, err := s.referrals.Resolve(ctx, referralCode, acc.ID)
	if err != nil {
		return pricing.Quote{}, nil, errors.Wrap(err, "resolve referral")
	}

	ids := make([]string, len(acc.Cart))
	for i, line := range acc.Cart {
		ids[i] = line.ItemID
	}
	fetched, err := s.items.GetByIDs(ctx, ids)
	if err != nil {
		return pricing.Quote{}, nil, errors.Wrap(err, "get catalog items")
	}
	itemMap := make(map[string]catalog.Item, len(fetched))
	for _, it := range fetched {
		itemMap[it.ID] = it
	}

	q, err := pricing.Compute(acc.Cart, itemMap, referrer != nil, acc.SpendableBalance)
	if err != nil {
		return pricing.Quote{}, nil, err
	}
	return q, referrer, nil
}

// ComputeCartTotal prices the customer's cart without placing an order.
func (s *Service) ComputeCartTotal(ctx context.Context, customerID, referralCode string) (pricing.Quote, error) {
	acc, err := s.accounts.Get(ctx, customerID)
	if err != nil {
		return pricing.Quote{}, errors.Wrap(err, "get account")
	}
	q, _, err := s.quote(ctx, acc, referralCode)
	return q, err
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	CustomerID    string
	AddressID     string
	PaymentMethod string
	ReferralCode  string
}

// Checkout prices the cart, creates a gateway payment intent, and persists
// the order with payment Pending. A gateway failure aborts before anything
// is persisted. The wallet redemption is debited and the quoted lines
// removed from the cart in a single atomic account update; if that debit
// loses a race with another spend, the freshly created order is cancelled
// rather than left payable.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*order.Order, error) {
	if !validPaymentMethod(req.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}

	acc, err := s.accounts.Get(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "get account")
	}

	addr, err := s.addresses.GetByID(ctx, req.AddressID)
	if err != nil {
		return nil, errors.Wrap(err, "get address")
	}
	if addr.AccountID != req.CustomerID {
		// Do not reveal other customers' addresses.
		return nil, address.ErrNotFound
	}

	q, referrer, err := s.quote(ctx, acc, req.ReferralCode)
	if err != nil {
		return nil, err
	}

	orderID := uuid.New().String()
	notes := map[string]string{"customer_id": req.CustomerID}
	gatewayOrderID, err := s.gateway.CreateIntent(ctx, payment.IntentRequest{
		Amount:         q.Payable,
		Currency:       s.currency,
		IdempotencyKey: orderID,
		Notes:          notes,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]order.Line, len(q.Lines))
	for i, l := range q.Lines {
		lines[i] = order.Line{
			ItemID:    l.ItemID,
			Quantity:  l.Quantity,
			Size:      l.Size,
			UnitPrice: l.UnitPrice,
		}
	}
	o := &order.Order{
		ID:                orderID,
		AccountID:         req.CustomerID,
		AddressID:         req.AddressID,
		Lines:             lines,
		Payable:           q.Payable,
		PaymentMethod:     req.PaymentMethod,
		PaymentStatus:     order.PaymentPending,
		FulfillmentStatus: order.FulfillmentPending,
		GatewayOrderID:    gatewayOrderID,
		CreatedAt:         time.Now(),
	}
	if referrer != nil {
		o.ReferredBy = referrer.ID
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	err = s.accounts.Update(ctx, req.CustomerID, func(a *account.Account) error {
		if q.WalletRedemption.IsPositive() {
			if err := a.Debit(q.WalletRedemption); err != nil {
				return err
			}
		}
		// Only the quoted lines leave the cart; anything added while the
		// gateway call was in flight stays for the next checkout.
		for _, l := range q.Lines {
			a.ConsumeCartLine(l.ItemID, l.Quantity)
		}
		return nil
	})
	if err != nil {
		// The redemption could not be applied; void the order instead of
		// leaving it payable at a discounted amount.
		if _, advErr := s.orders.AdvanceFulfillment(ctx, orderID, order.FulfillmentPending, order.FulfillmentCancelled); advErr != nil {
			s.lg.Error("cancel order after failed wallet debit",
				zap.String("order_id", orderID), zap.Error(advErr))
		}
		return nil, errors.Wrap(err, "apply wallet redemption")
	}

	return o, nil
}

// VerifyPayment checks the gateway signature and resolves the order's
// payment exactly once. Re-verifying an already-resolved order returns the
// stored result without any further ledger effect.
func (s *Service) VerifyPayment(ctx context.Context, orderID, gatewayPaymentID, signature string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.PaymentStatus != order.PaymentPending {
		return o, nil
	}

	if err := s.verifier.Verify(o.GatewayOrderID, gatewayPaymentID, signature); err != nil {
		if _, resErr := s.orders.ResolvePayment(ctx, orderID, order.PaymentFailed, gatewayPaymentID, signature); resErr != nil {
			s.lg.Error("mark payment failed", zap.String("order_id", orderID), zap.Error(resErr))
		}
		return nil, err
	}

	changed, err := s.orders.ResolvePayment(ctx, orderID, order.PaymentSuccess, gatewayPaymentID, signature)
	if err != nil {
		return nil, errors.Wrap(err, "resolve payment")
	}
	if changed && o.ReferredBy != "" {
		rec := &commission.Record{
			ID:         uuid.New().String(),
			ReferrerID: o.ReferredBy,
			AccountID:  o.AccountID,
			OrderID:    o.ID,
			Reward:     commission.Reward(o.Payable),
			Status:     commission.StatusPending,
			CreatedAt:  time.Now(),
		}
		if err := s.commissions.Create(ctx, rec); err != nil {
			return nil, errors.Wrap(err, "record commission")
		}
	}

	return s.orders.Get(ctx, orderID)
}

// ListRequest pages and filters an order listing.
type ListRequest struct {
	CustomerID    string // admin only: list another customer's orders
	Status        string
	PaymentMethod string
	Page          int
	PageSize      int
	SortDesc      bool
}

// ListOrders lists orders for the requesting customer. Administrators may
// list any customer's orders, or all orders when CustomerID is empty.
func (s *Service) ListOrders(ctx context.Context, requester Identity, req ListRequest) ([]order.Order, error) {
	f := order.ListFilter{
		AccountID:     requester.AccountID,
		PaymentMethod: req.PaymentMethod,
		Page:          req.Page,
		PageSize:      req.PageSize,
		SortDesc:      req.SortDesc,
	}
	if requester.IsAdmin {
		f.AccountID = req.CustomerID
	}
	if req.Status != "" {
		st := order.FulfillmentStatus(req.Status)
		if !st.Valid() {
			return nil, ErrUnknownStatus
		}
		f.Status = st
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 || f.PageSize > 100 {
		f.PageSize = 10
	}
	return s.orders.List(ctx, f)
}

// GetOrder fetches one order. Non-admin requesters may only fetch their own.
func (s *Service) GetOrder(ctx context.Context, requester Identity, orderID string) (*order.Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !requester.IsAdmin && o.AccountID != requester.AccountID {
		// Same shape as an unknown id, so order ids cannot be probed.
		return nil, order.ErrNotFound
	}
	return o, nil
}

// CancelOrder cancels an order. Cancelling an already-cancelled or
// delivered order is a conflict, and the losing side of a concurrent
// cancellation race gets the same conflict.
func (s *Service) CancelOrder(ctx context.Context, requester Identity, orderID string) (*order.Order, error) {
	o, err := s.GetOrder(ctx, requester, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanAdvance(o.FulfillmentStatus, order.FulfillmentCancelled) {
		return nil, &order.ConflictError{OrderID: orderID, From: o.FulfillmentStatus, To: order.FulfillmentCancelled}
	}
	ok, err := s.orders.AdvanceFulfillment(ctx, orderID, o.FulfillmentStatus, order.FulfillmentCancelled)
	if err != nil {
		return nil, errors.Wrap(err, "cancel order")
	}
	if !ok {
		return nil, &order.ConflictError{OrderID: orderID, From: o.FulfillmentStatus, To: order.FulfillmentCancelled}
	}
	return s.orders.Get(ctx, orderID)
}

// UpdateStatus drives the fulfillment state machine (administrator
// operation). Reaching Delivered fires wallet and commission settlement
// exactly once: the conditional fulfillment advance is the guard, so a
// concurrent duplicate confirmation returns a conflict instead of
// re-running side effects.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to order.FulfillmentStatus) (*order.Order, error) {
	if !to.Valid() {
		return nil, ErrUnknownStatus
	}
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.CanAdvance(o.FulfillmentStatus, to) {
		return nil, &order.ConflictError{OrderID: orderID, From: o.FulfillmentStatus, To: to}
	}
	ok, err := s.orders.AdvanceFulfillment(ctx, orderID, o.FulfillmentStatus, to)
	if err != nil {
		return nil, errors.Wrap(err, "advance fulfillment")
	}
	if !ok {
		return nil, &order.ConflictError{OrderID: orderID, From: o.FulfillmentStatus, To: to}
	}

	if to == order.FulfillmentDelivered {
		if err := s.settler.OnDelivered(ctx, o); err != nil {
			// The Delivered transition is already committed; a re-delivery
			// conflicts, so this order needs manual settlement.
			s.lg.Error("delivery settlement failed, order needs manual settlement",
				zap.String("order_id", orderID), zap.Error(err))
			return nil, errors.Wrap(err, "settle delivery")
		}
	}

	return s.orders.Get(ctx, orderID)
}

// AddCartLine, UpdateCartLine, RemoveCartLine mutate the customer's cart
// inside the per-account critical section.
func (s *Service) AddCartLine(ctx context.Context, customerID, itemID string, quantity int, size string) error {
	if _, err := s.items.GetByID(ctx, itemID); err != nil {
		return errors.Wrap(err, "get catalog item")
	}
	return s.accounts.Update(ctx, customerID, func(a *account.Account) error {
		return a.AddCartLine(itemID, quantity, size)
	})
}

func (s *Service) UpdateCartLine(ctx context.Context, customerID, itemID string, quantity int, size string) error {
	return s.accounts.Update(ctx, customerID, func(a *account.Account) error {
		return a.UpdateCartLine(itemID, quantity, size)
	})
}

func (s *Service) RemoveCartLine(ctx context.Context, customerID, itemID string) error {
	return s.accounts.Update(ctx, customerID, func(a *account.Account) error {
		return a.RemoveCartLine(itemID)
	})
}
