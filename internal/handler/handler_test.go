package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/threadline/internal/domain/account"
	"github.com/xenking/threadline/internal/domain/address"
	"github.com/xenking/threadline/internal/domain/auth"
	"github.com/xenking/threadline/internal/domain/catalog"
	"github.com/xenking/threadline/internal/domain/checkout"
	"github.com/xenking/threadline/internal/domain/commission"
	"github.com/xenking/threadline/internal/domain/order"
	"github.com/xenking/threadline/internal/domain/referral"
	"github.com/xenking/threadline/internal/payment"
)

// --- In-memory repositories ---

type memAccounts struct {
	mu   sync.Mutex
	byID map[string]*account.Account
}

func (m *memAccounts) Get(_ context.Context, id string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	c := *a
	c.Cart = append([]account.CartLine(nil), a.Cart...)
	return &c, nil
}

func (m *memAccounts) Update(_ context.Context, id string, fn func(*account.Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return account.ErrNotFound
	}
	return fn(a)
}

func (m *memAccounts) FindByReferralCode(_ context.Context, code string) (*account.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byID {
		if a.ReferralCode == code {
			c := *a
			return &c, nil
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

func (m *memAccounts) ReferralCodes(context.Context) ([]string, error) { return nil, nil }

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
	var out []catalog.Item
	for _, it := range m.byID {
		out = append(out, it)
	}
	return out, nil
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
	mu   sync.Mutex
	byID map[string]*order.Order
}

func (m *memOrders) Create(_ context.Context, o *order.Order) error {
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
		if f.AccountID == "" || o.AccountID == f.AccountID {
			out = append(out, *o)
		}
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

type memCommissions struct{}

func (memCommissions) Create(context.Context, *commission.Record) error { return nil }
func (memCommissions) GetByOrder(context.Context, string) (*commission.Record, error) {
	return nil, commission.ErrNotFound
}
func (memCommissions) Settle(context.Context, string) (*commission.Record, bool, error) {
	return nil, false, nil
}

type memKeys struct {
	byHash map[string]*auth.KeyInfo
}

func (m *memKeys) FindByHash(_ context.Context, hash string) (*auth.KeyInfo, error) {
	info, ok := m.byHash[hash]
	if !ok {
		return nil, auth.ErrUnauthorized
	}
	return info, nil
}

type stubGateway struct {
	err error
}

func (s *stubGateway) CreateIntent(context.Context, payment.IntentRequest) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "gw_1", nil
}

type noopSettler struct{}

func (noopSettler) OnDelivered(context.Context, *order.Order) error { return nil }

// --- Fixture ---

const (
	pepper      = "test-pepper"
	buyerKey    = "key-buyer"
	adminKey    = "key-admin"
	otherKey    = "key-other"
	buyerBalance = "200.00"
)

type fixture struct {
	mux      *http.ServeMux
	orders   *memOrders
	accounts *memAccounts
	gateway  *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accounts := &memAccounts{byID: map[string]*account.Account{
		"buyer": {
			ID: "buyer", Username: "ravi", Tier: account.TierBase,
			SpendableBalance: decimal.RequireFromString(buyerBalance),
			Cart:             []account.CartLine{{ItemID: "tee", Quantity: 2, Size: "M"}},
		},
		"other": {ID: "other", Username: "meera", Tier: account.TierBase},
	}}
	items := &memCatalog{byID: map[string]catalog.Item{
		"tee": {ID: "tee", Name: "Tee", Price: decimal.RequireFromString("500.00"), Category: "tops", InStock: true},
	}}
	addresses := &memAddresses{byID: map[string]*address.Address{
		"addr1": {ID: "addr1", AccountID: "buyer", Line: "12 MG Road", City: "Bengaluru"},
	}}
	orders := &memOrders{byID: map[string]*order.Order{}}
	gateway := &stubGateway{}
	resolver := referral.NewResolver(accounts)

	svc := checkout.NewService(
		accounts, items, addresses, orders, memCommissions{}, resolver,
		gateway, payment.NewVerifier([]byte("sig-secret")), noopSettler{},
		"INR", zap.NewNop(),
	)

	keys := &memKeys{byHash: map[string]*auth.KeyInfo{}}
	for raw, info := range map[string]*auth.KeyInfo{
		buyerKey: {ID: "k1", AccountID: "buyer"},
		adminKey: {ID: "k2", AccountID: "other", IsAdmin: true},
		otherKey: {ID: "k3", AccountID: "other"},
	} {
		hash := auth.HashKey([]byte(pepper), raw)
		info.KeyHash = hash
		keys.byHash[hash] = info
	}

	h := NewHandler(svc, resolver, accounts, items, addresses, auth.NewVerifier(keys, []byte(pepper)))
	mux := http.NewServeMux()
	h.Register(mux)

	return &fixture{mux: mux, orders: orders, accounts: accounts, gateway: gateway}
}

func (f *fixture) do(method, path, apiKey, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if apiKey != "" {
		req.Header.Set(APIKeyHeader, apiKey)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

// --- Tests ---

func TestCatalogIsPublic(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/catalog", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(http.MethodGet, "/api/catalog/tee", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "Tee", body["name"])
	assert.Equal(t, 500.0, body["price"])

	w = f.do(http.MethodGet, "/api/catalog/ghost", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/wallet", "/api/cart/total", "/api/orders"} {
		w := f.do(http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w := f.do(http.MethodGet, "/api/wallet", "bogus-key", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCartTotal(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/cart/total", buyerKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, 1000.0, body["total"])
	// Wallet redemption capped at 10% of the total.
	assert.Equal(t, 100.0, body["wallet_redemption"])
	assert.Equal(t, 900.0, body["payable"])
}

func TestCheckoutFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/checkout", buyerKey,
		`{"address_id":"addr1","payment_method":"UPI"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decode(t, w)
	assert.Equal(t, "Pending", body["payment_status"])
	assert.Equal(t, 900.0, body["payable"])
	orderID, _ := body["id"].(string)
	require.NotEmpty(t, orderID)

	// The order is visible to its owner and hidden from others.
	w = f.do(http.MethodGet, "/api/orders/"+orderID, buyerKey, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, "/api/orders/"+orderID, otherKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(http.MethodGet, "/api/orders/"+orderID, adminKey, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckout_InvalidPaymentMethod(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/checkout", buyerKey,
		`{"address_id":"addr1","payment_method":"IOU"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckout_GatewayDown(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = &payment.GatewayError{StatusCode: 503, Body: "down"}

	w := f.do(http.MethodPost, "/api/checkout", buyerKey,
		`{"address_id":"addr1","payment_method":"UPI"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestStatusUpdate_AdminOnly(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/checkout", buyerKey,
		`{"address_id":"addr1","payment_method":"UPI"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["id"].(string)

	w = f.do(http.MethodPut, "/api/orders/"+orderID+"/status", buyerKey, `{"status":"Shipped"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPut, "/api/orders/"+orderID+"/status", adminKey, `{"status":"Shipped"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Shipped", decode(t, w)["status"])

	// Backwards transition conflicts.
	w = f.do(http.MethodPut, "/api/orders/"+orderID+"/status", adminKey, `{"status":"Ordered"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelOrder_Conflict(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/checkout", buyerKey,
		`{"address_id":"addr1","payment_method":"UPI"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	orderID := decode(t, w)["id"].(string)

	w = f.do(http.MethodPost, "/api/orders/"+orderID+"/cancel", buyerKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Cancelled", decode(t, w)["status"])

	w = f.do(http.MethodPost, "/api/orders/"+orderID+"/cancel", buyerKey, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCartEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/cart/items", buyerKey, `{"item_id":"ghost","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodPost, "/api/cart/items", buyerKey, `{"item_id":"tee","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/cart/items", buyerKey, `{"item_id":"tee","quantity":1,"size":"M"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodPut, "/api/cart/items/tee", buyerKey, `{"quantity":5,"size":"L"}`)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = f.do(http.MethodDelete, "/api/cart/items/ghost", buyerKey, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodDelete, "/api/cart/items/tee", buyerKey, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestWallet(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodGet, "/api/wallet", buyerKey, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, 200.0, body["spendable_balance"])
	assert.Equal(t, "Base", body["tier"])
}

func TestAffiliateRegister(t *testing.T) {
	f := newFixture(t)

	w := f.do(http.MethodPost, "/api/affiliate/register", buyerKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	code := decode(t, w)["referral_code"].(string)
	assert.NotEmpty(t, code)

	// Idempotent.
	w = f.do(http.MethodPost, "/api/affiliate/register", buyerKey, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, code, decode(t, w)["referral_code"])
}
