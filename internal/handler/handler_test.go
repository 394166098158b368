package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/inventory"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/product"
)

// --- In-memory fakes ---

type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*order.Order
}

func newMemOrderRepo() *memOrderRepo {
	return &memOrderRepo{orders: make(map[string]*order.Order)}
}

func (m *memOrderRepo) Create(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *memOrderRepo) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memOrderRepo) GetByReference(_ context.Context, reference string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Billing.GatewayReference == reference {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrNotFound
}

func (m *memOrderRepo) ClaimPayment(_ context.Context, id string, to order.PaymentStatus) (bool, order.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, "", order.ErrNotFound
	}
	if o.Billing.Status != order.PaymentPending {
		return false, o.Billing.Status, nil
	}
	o.Billing.Status = to
	return true, to, nil
}

func (m *memOrderRepo) UpdatePaymentStatus(_ context.Context, id string, from, to order.PaymentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok && o.Billing.Status == from {
		o.Billing.Status = to
	}
	return nil
}

func (m *memOrderRepo) SetGatewaySession(_ context.Context, id, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Billing.GatewayReference = reference
	}
	return nil
}

func (m *memOrderRepo) FinalizeSuccess(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Billing.AuthorizationToken = token
		o.Status = order.StatusProcessing
	}
	return nil
}

func (m *memOrderRepo) UpdateStatus(_ context.Context, id string, status order.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Status = status
	}
	return nil
}

type memProductRepo struct {
	products map[string]product.Product
}

func (m *memProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type memCartRepo struct {
	mu    sync.Mutex
	carts map[string]*cart.Cart
}

func newMemCartRepo() *memCartRepo {
	return &memCartRepo{carts: make(map[string]*cart.Cart)}
}

func (m *memCartRepo) Get(_ context.Context, shopperID string) (*cart.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[shopperID]
	if !ok {
		return nil, cart.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCartRepo) Put(_ context.Context, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.carts[c.ShopperID] = &cp
	return nil
}

func (m *memCartRepo) Delete(_ context.Context, shopperID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, shopperID)
	return nil
}

type memCouponRepo struct {
	coupons map[string]*coupon.Coupon
	usages  []coupon.Usage
}

func (m *memCouponRepo) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	c, ok := m.coupons[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	return c, nil
}

func (m *memCouponRepo) CountShopperUsages(_ context.Context, _, _ string) (int, error) {
	return 0, nil
}

func (m *memCouponRepo) AppendUsage(_ context.Context, u coupon.Usage) error {
	m.usages = append(m.usages, u)
	return nil
}

type memShopperProfile struct{}

func (memShopperProfile) SuccessfulOrderCount(_ context.Context, _ string) (int, error) {
	return 0, nil
}
func (memShopperProfile) IsSubscriber(_ context.Context, _ string) (bool, error) { return false, nil }
func (memShopperProfile) TopBuyerID(_ context.Context) (string, error)           { return "", nil }

const webhookSecret = "sk_test_secret"

type fakeGateway struct {
	initErr      error
	verification payment.Verification
	verifyErr    error
}

func (g *fakeGateway) InitializeSession(_ context.Context, req payment.InitRequest) (*payment.Session, error) {
	if g.initErr != nil {
		return nil, g.initErr
	}
	return &payment.Session{
		RedirectURL: "https://pay.example.com/" + req.OrderID,
		Reference:   req.OrderID,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, _ string) (*payment.Verification, error) {
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	v := g.verification
	return &v, nil
}

func (g *fakeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) bool {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(payload)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signatureHeader))
}

type fakeInventory struct {
	mu      sync.Mutex
	commits int
	err     error
}

func (f *fakeInventory) CommitReservation(_ context.Context, _ string, _ []inventory.Reservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.commits++
	return nil
}

// --- Fixture ---

type fixture struct {
	router  *gin.Engine
	orders  *memOrderRepo
	carts   *memCartRepo
	coupons *memCouponRepo
	gateway *fakeGateway
	stock   *fakeInventory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{
		orders:  newMemOrderRepo(),
		carts:   newMemCartRepo(),
		coupons: &memCouponRepo{coupons: make(map[string]*coupon.Coupon)},
		gateway: &fakeGateway{},
		stock:   &fakeInventory{},
	}
	products := &memProductRepo{products: map[string]product.Product{
		"p1": {ID: "p1", Title: "Waffle", Price: decimal.NewFromFloat(5.00), Category: "waffles", Stock: 10},
	}}
	ledger := coupon.NewLedger(f.coupons, memShopperProfile{})
	svc := order.NewService(f.orders, products, ledger, f.gateway, f.stock, f.carts, nil,
		"USD", "https://shop.example.com/return")

	h := New(svc, f.carts, products, ledger, f.gateway)
	f.router = gin.New()
	h.Register(f.router.Group("/api"))
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func placeOrderBody() map[string]any {
	return map[string]any{
		"shopper_id": "s1",
		"email":      "s1@example.com",
		"items": []map[string]any{
			{"product_id": "p1", "quantity": 2},
		},
		"shipping_address": map[string]any{
			"line1": "1 Main St", "city": "Springfield", "postal_code": "12345", "country": "US",
		},
		"shipment_method": "standard",
		"payment_method":  "card",
	}
}

func (f *fixture) place(t *testing.T) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/orders", placeOrderBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp placeOrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.OrderID
}

func sign(payload []byte) string {
	mac := hmac.New(sha512.New, []byte(webhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// --- Tests ---

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/orders", placeOrderBody(), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp placeOrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, "pending", resp.PaymentStatus)
	assert.Equal(t, "10.00", resp.TotalAmount)
	assert.NotEmpty(t, resp.RedirectURL)
}

func TestPlaceOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	body := placeOrderBody()
	body["items"] = []map[string]any{{"product_id": "ghost", "quantity": 1}}
	w := f.do(t, http.MethodPost, "/api/orders", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPlaceOrder_RejectedCoupon(t *testing.T) {
	f := newFixture(t)

	body := placeOrderBody()
	body["coupon_code"] = "NOPE"
	w := f.do(t, http.MethodPost, "/api/orders", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestPlaceOrder_AmountMismatch(t *testing.T) {
	f := newFixture(t)

	body := placeOrderBody()
	body["original_amount"] = "9.99"
	w := f.do(t, http.MethodPost, "/api/orders", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body["original_amount"] = "10.00"
	w = f.do(t, http.MethodPost, "/api/orders", body, nil)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestPlaceOrder_GatewayDown(t *testing.T) {
	f := newFixture(t)
	f.gateway.initErr = payment.ErrGatewayUnavailable

	w := f.do(t, http.MethodPost, "/api/orders", placeOrderBody(), nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestConfirmOrder(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)
	f.gateway.verification = payment.Verification{Succeeded: true, AmountMinor: 1000, AuthorizationToken: "auth"}

	w := f.do(t, http.MethodPost, "/api/orders/confirm", map[string]any{"order_id": id}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp confirmOrderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.PaymentStatus)
	assert.False(t, resp.Duplicate)
	assert.Equal(t, 1, f.stock.commits)

	// Second signal is a no-op.
	w = f.do(t, http.MethodPost, "/api/orders/confirm", map[string]any{"order_id": id}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Duplicate)
	assert.Equal(t, 1, f.stock.commits)
}

func TestConfirmOrder_ReferenceMismatch(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)
	f.gateway.verification = payment.Verification{Succeeded: true, AmountMinor: 1000}

	w := f.do(t, http.MethodPost, "/api/orders/confirm",
		map[string]any{"order_id": id, "reference": "someone-elses-session"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Zero(t, f.stock.commits)

	w = f.do(t, http.MethodPost, "/api/orders/confirm",
		map[string]any{"order_id": id, "reference": id}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, f.stock.commits)
}

func TestConfirmOrder_NotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/orders/confirm", map[string]any{"order_id": "nope"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)
	f.gateway.verification = payment.Verification{Succeeded: true, AmountMinor: 1000}

	payload := []byte(`{"event":"charge.success","data":{"reference":"` + id + `"}}`)

	t.Run("missing signature rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/orders/webhook", payload, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("valid signature confirms", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/orders/webhook", payload,
			map[string]string{signatureHeader: sign(payload)})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, 1, f.stock.commits)
	})

	t.Run("other events acknowledged and ignored", func(t *testing.T) {
		other := []byte(`{"event":"charge.dispute","data":{"reference":"` + id + `"}}`)
		w := f.do(t, http.MethodPost, "/api/orders/webhook", other,
			map[string]string{signatureHeader: sign(other)})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, 1, f.stock.commits)
	})

	t.Run("unknown order acknowledged", func(t *testing.T) {
		ghost := []byte(`{"event":"charge.success","data":{"reference":"11111111-1111-1111-1111-111111111111"}}`)
		w := f.do(t, http.MethodPost, "/api/orders/webhook", ghost,
			map[string]string{signatureHeader: sign(ghost)})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestWebhook_TransientVerifyFailureRetriable(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)
	f.gateway.verifyErr = payment.ErrGatewayUnavailable

	payload := []byte(`{"event":"charge.success","data":{"reference":"` + id + `"}}`)
	w := f.do(t, http.MethodPost, "/api/orders/webhook", payload,
		map[string]string{signatureHeader: sign(payload)})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// Provider retry succeeds after the gateway recovers.
	f.gateway.verifyErr = nil
	f.gateway.verification = payment.Verification{Succeeded: true, AmountMinor: 1000}
	w = f.do(t, http.MethodPost, "/api/orders/webhook", payload,
		map[string]string{signatureHeader: sign(payload)})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.stock.commits)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)

	w := f.do(t, http.MethodGet, "/api/orders/"+id, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp orderResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.OrderID)
	assert.Equal(t, "10.00", resp.TotalAmount)

	w = f.do(t, http.MethodGet, "/api/orders/unknown", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)
	id := f.place(t)
	f.gateway.verification = payment.Verification{Succeeded: true, AmountMinor: 1000}
	f.do(t, http.MethodPost, "/api/orders/confirm", map[string]any{"order_id": id}, nil)

	w := f.do(t, http.MethodPatch, "/api/orders/"+id+"/status", map[string]any{"status": "shipped"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPatch, "/api/orders/"+id+"/status", map[string]any{"status": "pending"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCartFlow(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/carts/s1", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp cartResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Items)

	w = f.do(t, http.MethodPost, "/api/carts/s1/items", map[string]any{"product_id": "p1", "quantity": 2}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Same product merges quantities.
	w = f.do(t, http.MethodPost, "/api/carts/s1/items", map[string]any{"product_id": "p1", "quantity": 1}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].Quantity)

	w = f.do(t, http.MethodPost, "/api/carts/s1/items", map[string]any{"product_id": "ghost", "quantity": 1}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodDelete, "/api/carts/s1", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPreviewCoupon(t *testing.T) {
	f := newFixture(t)
	f.coupons.coupons["SAVE10"] = &coupon.Coupon{
		Code:         "SAVE10",
		DiscountType: coupon.DiscountPercentage,
		Value:        decimal.NewFromInt(10),
		IsActive:     true,
	}

	w := f.do(t, http.MethodPost, "/api/coupons/preview", map[string]any{
		"code": "save10", "order_amount": "200",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp previewCouponResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "20.00", resp.DiscountAmount)
	assert.Equal(t, "180.00", resp.TotalAmount)

	// Preview never spends the coupon.
	assert.Empty(t, f.coupons.usages)

	w = f.do(t, http.MethodPost, "/api/coupons/preview", map[string]any{
		"code": "NOPE", "order_amount": "200",
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
