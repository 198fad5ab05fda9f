package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/address"
	"github.com/xenking/threadline/internal/domain/catalog"
	"github.com/xenking/threadline/internal/domain/commission"
	"github.com/xenking/threadline/internal/domain/order"
	"github.com/xenking/threadline/internal/payment"
)

// --- Mock implementations ---

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*account.Account
}

func newMemAccounts(accounts ...*account.Account) *memAccounts {
	m := &memAccounts{byID: make(map[string]*account.Account)}
	for _, a := range accounts {
		m.byID[a.ID] = a
	}
	return m
}

func cloneAccount(a *account.Account) *account.Account {
	c := *a
	c.LockedCredits = append([]account.LockedCredit(nil), a.LockedCredits...)
	c.Cart = append([]account.CartLine(nil), a.Cart...)
	return &c
}

func (m *memAccounts) Get(_ context.Context, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return cloneAccount(a), nil
}

func (m *memAccounts) Update(_ context.Context, id string, fn func(*account.Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	c := cloneAccount(a)
	if err := fn(c); err != nil {
		return err
	}
	m.byID[id] = c
	return nil
}

func (m *memAccounts) FindByReferralCode(_ context.Context, code string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.ReferralCode == code {
			return cloneAccount(a), nil
		}
	}
	return nil, account.ErrNotFound
}

func (m *memAccounts) SetReferralCode(_ context.Context, id, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.byID[id]; ok && a.ReferralCode == "" {
		a.ReferralCode = code
	}
	return nil
}

func (m *memAccounts) ReferralCodes(_ context.Context) ([]string, error) {
	return nil, nil
}

// failingDebitAccounts makes every Update fail, simulating a wallet debit
// losing a race with a concurrent spend.
type failingDebitAccounts struct {
	*memAccounts
}

func (m *failingDebitAccounts) Update(context.Context, string, func(*account.Account) error) error {
	return account.ErrInsufficientBalance
}

type memCatalog struct {
	byID map[string]catalog.Item
}

func (m *memCatalog) GetByID(_ context.Context, id string) (*catalog.Item, error) {
	it, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return &it, nil
}

func (m *memCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, id := range ids {
		if it, ok := m.byID[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memCatalog) List(context.Context) ([]catalog.Item, error) {
	return nil, nil
}

type memAddresses struct {
	byID map[string]*address.Address
}

func (m *memAddresses) GetByID(_ context.Context, id string) (*address.Address, error) {
	a, ok := m.byID[id]
	if !ok {
		return nil, address.ErrNotFound
	}
	return a, nil
}

func (m *memAddresses) ListByAccount(_ context.Context, accountID string) ([]address.Address, error) {
	var out []address.Address
	for _, a := range m.byID {
		if a.AccountID == accountID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memOrders struct {
	mu        sync.Mutex
	byID      map[string]*order.Order
	createErr error
}

func newMemOrders() *memOrders {
	return &memOrders{byID: make(map[string]*order.Order)}
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *o
	m.byID[o.ID] = &c
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	c := *o
	return &c, nil
}

func (m *memOrders) List(_ context.Context, f order.ListFilter) ([]order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []order.Order
	for _, o := range m.byID {
		if f.AccountID != "" && o.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && o.FulfillmentStatus != f.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memOrders) ResolvePayment(_ context.Context, id string, status order.PaymentStatus, paymentID, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.PaymentStatus != order.PaymentPending {
		return false, nil
	}
	o.PaymentStatus = status
	o.GatewayPaymentID = paymentID
	o.GatewaySignature = signature
	return true, nil
}

func (m *memOrders) AdvanceFulfillment(_ context.Context, id string, from, to order.FulfillmentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok || o.FulfillmentStatus != from {
		return false, nil
	}
	o.FulfillmentStatus = to
	return true, nil
}

type memCommissions struct {
	mu      sync.Mutex
	byOrder map[string]*commission.Record
}

func newMemCommissions() *memCommissions {
	return &memCommissions{byOrder: make(map[string]*commission.Record)}
}

func (m *memCommissions) Create(_ context.Context, rec *commission.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byOrder[rec.OrderID]; exists {
		return errors.New("duplicate commission for order")
	}
	c := *rec
	m.byOrder[rec.OrderID] = &c
	return nil
}

func (m *memCommissions) GetByOrder(_ context.Context, orderID string) (*commission.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byOrder[orderID]
	if !ok {
		return nil, commission.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (m *memCommissions) Settle(_ context.Context, orderID string) (*commission.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byOrder[orderID]
	if !ok || rec.Status != commission.StatusPending {
		return nil, false, nil
	}
	rec.Status = commission.StatusCredited
	c := *rec
	return &c, true, nil
}

type stubResolver struct {
	byCode map[string]*account.Account
}

func (s *stubResolver) Resolve(_ context.Context, code, customerID string) (*account.Account, error) {
	ref, ok := s.byCode[code]
	if !ok || ref.ID == customerID {
		return nil, nil
	}
	return ref, nil
}

type stubGateway struct {
	intentID string
	err      error
	calls    atomic.Int32
	onCreate func() // runs before returning, while checkout is in flight
}

func (s *stubGateway) CreateIntent(context.Context, payment.IntentRequest) (string, error) {
	s.calls.Add(1)
	if s.onCreate != nil {
		s.onCreate()
	}
	if s.err != nil {
		return "", s.err
	}
	return s.intentID, nil
}

type countingSettler struct {
	calls atomic.Int32
}

func (s *countingSettler) OnDelivered(context.Context, *order.Order) error {
	s.calls.Add(1)
	return nil
}

type failingSettler struct{}

func (failingSettler) OnDelivered(context.Context, *order.Order) error {
	return errors.New("ledger unavailable")
}

// --- Fixture ---

const signatureSecret = "test-signature-secret"

type fixture struct {
	accounts    *memAccounts
	orders      *memOrders
	commissions *memCommissions
	gateway     *stubGateway
	settler     *countingSettler
	svc         *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	buyer := &account.Account{
		ID:               "buyer",
		Username:         "ravi",
		SpendableBalance: decimal.RequireFromString("200.00"),
		Tier:             account.TierBase,
		Cart: []account.CartLine{
			{ItemID: "tee", Quantity: 2, Size: "M"},
		},
	}
	referrer := &account.Account{
		ID:           "referrer",
		Username:     "meera",
		Tier:         account.TierBase,
		ReferralCode: "meeraff01",
	}

	f := &fixture{
		accounts:    newMemAccounts(buyer, referrer),
		orders:      newMemOrders(),
		commissions: newMemCommissions(),
		gateway:     &stubGateway{intentID: "gw_order_1"},
		settler:     &countingSettler{},
	}

	items := &memCatalog{byID: map[string]catalog.Item{
		"tee":   {ID: "tee", Price: decimal.RequireFromString("500.00"), InStock: true},
		"jeans": {ID: "jeans", Price: decimal.RequireFromString("250.00"), InStock: true},
	}}
	addresses := &memAddresses{byID: map[string]*address.Address{
		"addr1": {ID: "addr1", AccountID: "buyer", Line: "12 MG Road", City: "Bengaluru"},
		"addr2": {ID: "addr2", AccountID: "referrer", Line: "4 Park St", City: "Kolkata"},
	}}
	resolver := &stubResolver{byCode: map[string]*account.Account{
		"meeraff01": referrer,
	}}

	f.svc = NewService(
		f.accounts,
		items,
		addresses,
		f.orders,
		f.commissions,
		resolver,
		f.gateway,
		payment.NewVerifier([]byte(signatureSecret)),
		f.settler,
		"INR",
		zap.NewNop(),
	)
	return f
}

func (f *fixture) checkout(t *testing.T, referralCode string) *order.Order {
	t.Helper()
	o, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    "buyer",
		AddressID:     "addr1",
		PaymentMethod: "UPI",
		ReferralCode:  referralCode,
	})
	require.NoError(t, err)
	return o
}

func sign(gatewayOrderID, gatewayPaymentID string) string {
	return payment.NewVerifier([]byte(signatureSecret)).Sign(gatewayOrderID, gatewayPaymentID)
}

// --- Tests ---

func TestComputeCartTotal(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.ComputeCartTotal(context.Background(), "buyer", "meeraff01")
	require.NoError(t, err)

	// 1000 total, 10% referral discount, 10% wallet cap.
	assert.True(t, decimal.RequireFromString("1000.00").Equal(q.Total))
	assert.True(t, decimal.RequireFromString("100.00").Equal(q.ReferralDiscount))
	assert.True(t, decimal.RequireFromString("100.00").Equal(q.WalletRedemption))
	assert.True(t, decimal.RequireFromString("800.00").Equal(q.Payable))
}

func TestCheckout_InvalidPaymentMethod(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    "buyer",
		AddressID:     "addr1",
		PaymentMethod: "IOU",
	})
	require.ErrorIs(t, err, ErrInvalidPaymentMethod)
}

func TestCheckout_Success(t *testing.T) {
	f := newFixture(t)

	o := f.checkout(t, "meeraff01")

	assert.Equal(t, "buyer", o.AccountID)
	assert.Equal(t, "referrer", o.ReferredBy)
	assert.Equal(t, "gw_order_1", o.GatewayOrderID)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Equal(t, order.FulfillmentPending, o.FulfillmentStatus)
	assert.True(t, decimal.RequireFromString("800.00").Equal(o.Payable))

	// The redemption was debited and the cart cleared atomically.
	acc, err := f.accounts.Get(context.Background(), "buyer")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100.00").Equal(acc.SpendableBalance))
	assert.Empty(t, acc.Cart)
}

func TestCheckout_MidCheckoutCartEditSurvives(t *testing.T) {
	f := newFixture(t)

	// While the gateway call is in flight, the customer adds a new line
	// and bumps the quantity of one already being ordered.
	f.gateway.onCreate = func() {
		_ = f.accounts.Update(context.Background(), "buyer", func(a *account.Account) error {
			if err := a.AddCartLine("jeans", 1, "32"); err != nil {
				return err
			}
			return a.AddCartLine("tee", 1, "M")
		})
	}

	o := f.checkout(t, "")
	require.Len(t, o.Lines, 1)
	assert.Equal(t, 2, o.Lines[0].Quantity)

	// Only the quoted quantities left the cart.
	acc, err := f.accounts.Get(context.Background(), "buyer")
	require.NoError(t, err)
	require.Len(t, acc.Cart, 2)
	for _, l := range acc.Cart {
		assert.Equal(t, 1, l.Quantity, "line %s", l.ItemID)
	}
}

func TestCheckout_ForeignAddressRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    "buyer",
		AddressID:     "addr2",
		PaymentMethod: "UPI",
	})
	require.ErrorIs(t, err, address.ErrNotFound)
}

func TestCheckout_GatewayFailureAborts(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &payment.GatewayError{StatusCode: 503, Body: "unavailable"}

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    "buyer",
		AddressID:     "addr1",
		PaymentMethod: "UPI",
	})

	var gwErr *payment.GatewayError
	require.ErrorAs(t, err, &gwErr)

	// Nothing persisted, wallet and cart untouched.
	assert.Empty(t, f.orders.byID)
	acc, getErr := f.accounts.Get(context.Background(), "buyer")
	require.NoError(t, getErr)
	assert.True(t, decimal.RequireFromString("200.00").Equal(acc.SpendableBalance))
	assert.Len(t, acc.Cart, 1)
}

func TestCheckout_DebitFailureCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.svc.accounts = &failingDebitAccounts{f.accounts}

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		CustomerID:    "buyer",
		AddressID:     "addr1",
		PaymentMethod: "UPI",
	})
	require.ErrorIs(t, err, account.ErrInsufficientBalance)

	// The order row exists but was voided, never left payable.
	require.Len(t, f.orders.byID, 1)
	for _, o := range f.orders.byID {
		assert.Equal(t, order.FulfillmentCancelled, o.FulfillmentStatus)
	}
}

func TestVerifyPayment_Success(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "meeraff01")

	got, err := f.svc.VerifyPayment(context.Background(), o.ID, "pay_1", sign(o.GatewayOrderID, "pay_1"))
	require.NoError(t, err)
	assert.Equal(t, order.PaymentSuccess, got.PaymentStatus)

	// A referred order gets a pending commission record for the referrer.
	rec, err := f.commissions.GetByOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "referrer", rec.ReferrerID)
	assert.Equal(t, commission.StatusPending, rec.Status)
	assert.True(t, decimal.RequireFromString("8.00").Equal(rec.Reward), "1 percent of 800")
}

func TestVerifyPayment_UnreferredOrderHasNoCommission(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")

	_, err := f.svc.VerifyPayment(context.Background(), o.ID, "pay_1", sign(o.GatewayOrderID, "pay_1"))
	require.NoError(t, err)

	_, err = f.commissions.GetByOrder(context.Background(), o.ID)
	require.ErrorIs(t, err, commission.ErrNotFound)
}

func TestVerifyPayment_Idempotent(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "meeraff01")
	sig := sign(o.GatewayOrderID, "pay_1")

	_, err := f.svc.VerifyPayment(context.Background(), o.ID, "pay_1", sig)
	require.NoError(t, err)

	// Re-verifying returns the stored result and records nothing new.
	got, err := f.svc.VerifyPayment(context.Background(), o.ID, "pay_1", sig)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentSuccess, got.PaymentStatus)
	assert.Len(t, f.commissions.byOrder, 1)
}

func TestVerifyPayment_ForgedSignature(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "meeraff01")

	_, err := f.svc.VerifyPayment(context.Background(), o.ID, "pay_1", "deadbeef")
	require.ErrorIs(t, err, payment.ErrSignatureMismatch)

	got, getErr := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, getErr)
	assert.Equal(t, order.PaymentFailed, got.PaymentStatus)
	assert.Empty(t, f.commissions.byOrder)
}

func TestVerifyPayment_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyPayment(context.Background(), "nope", "pay", "sig")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")

	_, err := f.svc.GetOrder(context.Background(), Identity{AccountID: "referrer"}, o.ID)
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err := f.svc.GetOrder(context.Background(), Identity{AccountID: "buyer"}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	got, err = f.svc.GetOrder(context.Background(), Identity{AccountID: "referrer", IsAdmin: true}, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
}

func TestListOrders_ScopedToRequester(t *testing.T) {
	f := newFixture(t)
	f.checkout(t, "")

	// Non-admins always see their own orders, whatever they ask for.
	got, err := f.svc.ListOrders(context.Background(), Identity{AccountID: "referrer"}, ListRequest{CustomerID: "buyer"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.svc.ListOrders(context.Background(), Identity{AccountID: "buyer"}, ListRequest{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.svc.ListOrders(context.Background(), Identity{AccountID: "admin", IsAdmin: true}, ListRequest{CustomerID: "buyer"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestListOrders_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListOrders(context.Background(), Identity{AccountID: "buyer"}, ListRequest{Status: "Teleported"})
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")
	requester := Identity{AccountID: "buyer"}

	got, err := f.svc.CancelOrder(context.Background(), requester, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentCancelled, got.FulfillmentStatus)

	// Cancelling again is a conflict.
	_, err = f.svc.CancelOrder(context.Background(), requester, o.ID)
	var conflict *order.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestCancelOrder_AfterDelivery(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentDelivered)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), Identity{AccountID: "buyer"}, o.ID)
	var conflict *order.ConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentStatus("Returned"))
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestUpdateStatus_DeliveredSettlesOnce(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "meeraff01")

	got, err := f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentDelivered)
	require.NoError(t, err)
	assert.Equal(t, order.FulfillmentDelivered, got.FulfillmentStatus)
	assert.Equal(t, int32(1), f.settler.calls.Load())

	// A duplicate confirmation conflicts instead of settling again.
	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentDelivered)
	var conflict *order.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int32(1), f.settler.calls.Load())
}

func TestUpdateStatus_SettlementFailureIsLogged(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "")

	core, logs := observer.New(zap.ErrorLevel)
	f.svc.lg = zap.New(core)
	f.svc.settler = failingSettler{}

	_, err := f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentDelivered)
	require.Error(t, err)

	// The transition is already committed; the failure is flagged for
	// manual settlement rather than silently swallowed.
	got, getErr := f.orders.Get(context.Background(), o.ID)
	require.NoError(t, getErr)
	assert.Equal(t, order.FulfillmentDelivered, got.FulfillmentStatus)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Contains(t, entry.Message, "manual settlement")
	assert.Equal(t, o.ID, entry.ContextMap()["order_id"])
}

func TestUpdateStatus_ConcurrentDeliveryConfirmations(t *testing.T) {
	f := newFixture(t)
	o := f.checkout(t, "meeraff01")

	const n = 8
	var wg sync.WaitGroup
	var successes atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.UpdateStatus(context.Background(), o.ID, order.FulfillmentDelivered); err == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(1), f.settler.calls.Load())
}

func TestCartOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.svc.AddCartLine(ctx, "buyer", "ghost", 1, ""), catalog.ErrNotFound)

	require.NoError(t, f.svc.AddCartLine(ctx, "buyer", "jeans", 1, "32"))
	require.NoError(t, f.svc.UpdateCartLine(ctx, "buyer", "jeans", 3, "34"))
	require.NoError(t, f.svc.RemoveCartLine(ctx, "buyer", "tee"))

	acc, err := f.accounts.Get(ctx, "buyer")
	require.NoError(t, err)
	require.Len(t, acc.Cart, 1)
	assert.Equal(t, "jeans", acc.Cart[0].ItemID)
	assert.Equal(t, 3, acc.Cart[0].Quantity)
	assert.Equal(t, "34", acc.Cart[0].Size)

	require.ErrorIs(t, f.svc.RemoveCartLine(ctx, "buyer", "tee"), account.ErrLineNotFound)
}
