package handlers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"shoporder/internal/gateways/vnpay"
	"shoporder/internal/handlers"
	"shoporder/internal/middleware"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/internal/services"
	"shoporder/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testJWTSecret = "test_jwt_secret"
	vnpaySecret   = "vnpay-secret"
)

var (
	customer = models.Actor{UserID: 100, Role: models.RoleCustomer}
	stranger = models.Actor{UserID: 200, Role: models.RoleCustomer}
	staff    = models.Actor{UserID: 1, Role: models.RoleStaff}
)

// stubVNPay hands out a fixed checkout URL.
type stubVNPay struct{}

func (stubVNPay) BuildPaymentURL(req vnpay.PaymentRequest) (string, error) {
	return "https://pay.example/vnpay?ref=" + req.TxnRef, nil
}

type testServer struct {
	app  *fiber.App
	db   *gorm.DB
	auth *services.AuthService
}

// setupApp builds a Fiber app over in-memory SQLite with every order route mounted.
func setupApp(t *testing.T) *testServer {
	t.Helper()
	db, err := repositories.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))

	tx := repositories.NewGORMTxManager(db)
	inventory := services.NewInventoryService()
	rc := services.NewReconciler(tx, inventory, nil)
	authService := services.NewAuthService(testJWTSecret)
	orderService := services.NewOrderService(rc, tx.Repos(), inventory, stubVNPay{}, nil, nil)
	shippingService := services.NewShippingService(rc, tx.Repos(), nil, decimal.NewFromInt(30000))
	webhookService := services.NewWebhookService(rc, vnpaySecret, "zalopay-key2")

	app := fiber.New()
	handlers.NewWebhookHandler(webhookService).RegisterRoutes(app)

	apiV1 := app.Group("/api/v1", middleware.AuthRequired(authService))
	orderHandler := handlers.NewOrderHandler(orderService)
	orderHandler.RegisterRoutes(apiV1)
	orderHandler.RegisterAdminRoutes(apiV1)
	handlers.NewShippingHandler(shippingService).RegisterRoutes(apiV1)

	return &testServer{app: app, db: db, auth: authService}
}

// TestMain silences the application logger for cleaner output.
func TestMain(m *testing.M) {
	logger.Set(zap.NewNop())
	os.Exit(m.Run())
}

func (s *testServer) seedCart(t *testing.T, userID int64, price string, stock, qty int64) *models.Product {
	t.Helper()
	p := &models.Product{Name: "Test Laptop", Price: decimal.RequireFromString(price), Stock: stock, WeightGrams: 1200}
	require.NoError(t, s.db.Create(p).Error)
	require.NoError(t, s.db.Create(&models.CartItem{UserID: userID, ProductID: p.ID, Quantity: qty}).Error)
	return p
}

func (s *testServer) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	var p models.Product
	require.NoError(t, s.db.First(&p, productID).Error)
	return p.Stock
}

// call sends a JSON request as actor (anonymous when actor is nil) and decodes
// the envelope's data into out when out is non-nil.
func (s *testServer) call(t *testing.T, actor *models.Actor, method, path string, body interface{}, out interface{}) (int, services.Response) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := s.auth.IssueToken(*actor)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if out != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return resp.StatusCode, services.Response{Code: env.Code, Message: env.Message}
}

var shipTo = map[string]interface{}{
	"recipient_name": "Nguyen Van A",
	"phone":          "0900000000",
	"line":           "1 Le Loi",
	"ward_code":      "20308",
	"district_id":    1444,
	"province_id":    202,
}

func checkoutBody(method string) map[string]interface{} {
	return map[string]interface{}{"payment_method": method, "shipping_address": shipTo}
}

func TestOrderEndpointsWithoutAuth(t *testing.T) {
	s := setupApp(t)

	status, env := s.call(t, nil, http.MethodPost, "/api/v1/orders", checkoutBody("cod"), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, http.StatusUnauthorized, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/1", nil)
	req.Header.Set("Authorization", "Token abc")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckoutCODAndShopLifecycle(t *testing.T) {
	s := setupApp(t)
	p := s.seedCart(t, customer.UserID, "250000", 5, 2)

	var placed services.CheckoutResult
	status, _ := s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("cod"), &placed)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, placed.Order)
	assert.Equal(t, models.OrderStatusPending, placed.Order.Status)
	assert.True(t, decimal.NewFromInt(500000).Equal(placed.Order.TotalPrice))
	assert.Equal(t, models.PaymentStatusCOD, placed.Payment.Status)
	assert.Empty(t, placed.PaymentURL)
	assert.Equal(t, int64(3), s.stock(t, p.ID))

	orderPath := fmt.Sprintf("/api/v1/orders/%d", placed.Order.ID)
	adminPath := fmt.Sprintf("/api/v1/admin/orders/%d", placed.Order.ID)

	// Customers cannot drive fulfilment.
	status, _ = s.call(t, &customer, http.MethodPost, adminPath+"/confirm", nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var shipping models.Shipping
	status, _ = s.call(t, &customer, http.MethodPost, orderPath+"/shipping", map[string]interface{}{"method": "SHOP"}, &shipping)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, models.ShippingMethodShop, shipping.Method)
	assert.Nil(t, shipping.CarrierOrderCode)
	assert.True(t, decimal.NewFromInt(30000).Equal(shipping.Fee))

	status, _ = s.call(t, &customer, http.MethodPost, orderPath+"/shipping", map[string]interface{}{"method": "SHOP"}, nil)
	assert.Equal(t, http.StatusConflict, status)

	for _, step := range []struct {
		command string
		want    models.OrderStatus
	}{
		{"confirm", models.OrderStatusConfirmed},
		{"process", models.OrderStatusProcessing},
		{"ship", models.OrderStatusShipping},
		{"deliver", models.OrderStatusCompleted},
	} {
		var order models.Order
		status, env := s.call(t, &staff, http.MethodPost, adminPath+"/"+step.command, nil, &order)
		require.Equal(t, http.StatusOK, status, "%s: %s", step.command, env.Message)
		assert.Equal(t, step.want, order.Status, step.command)
	}

	var detail services.OrderDetail
	status, _ = s.call(t, &customer, http.MethodGet, orderPath, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OrderStatusCompleted, detail.Order.Status)
	assert.Equal(t, models.PaymentStatusCompleted, detail.Payment.Status)
	assert.Equal(t, models.ShippingStatusDelivered, detail.Shipping.Status)
	assert.NotEmpty(t, detail.History)

	// Completed orders stay completed, for staff as well as the owner.
	status, _ = s.call(t, &customer, http.MethodPost, orderPath+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	status, env := s.call(t, &staff, http.MethodPost, adminPath+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "order no longer cancellable", env.Message)
	status, _ = s.call(t, &staff, http.MethodPost, orderPath+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.call(t, &staff, http.MethodGet, orderPath, nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OrderStatusCompleted, detail.Order.Status)
	assert.Equal(t, int64(3), s.stock(t, p.ID))
}

func TestGetOrderVisibility(t *testing.T) {
	s := setupApp(t)
	s.seedCart(t, customer.UserID, "100000", 5, 1)

	var placed services.CheckoutResult
	status, _ := s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("cod"), &placed)
	require.Equal(t, http.StatusCreated, status)
	path := fmt.Sprintf("/api/v1/orders/%d", placed.Order.ID)

	status, _ = s.call(t, &stranger, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.call(t, &staff, http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.call(t, &customer, http.MethodGet, "/api/v1/orders/999999", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env := s.call(t, &customer, http.MethodGet, "/api/v1/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid order id", env.Message)
}

func TestCheckoutValidation(t *testing.T) {
	s := setupApp(t)

	status, _ := s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("cod"), nil)
	assert.Equal(t, http.StatusBadRequest, status, "empty cart")

	s.seedCart(t, customer.UserID, "100000", 5, 1)
	status, _ = s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("bitcoin"), nil)
	assert.Equal(t, http.StatusBadRequest, status)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	token, err := s.auth.IssueToken(customer)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelRestoresStock(t *testing.T) {
	s := setupApp(t)
	p := s.seedCart(t, customer.UserID, "100000", 4, 3)

	var placed services.CheckoutResult
	status, _ := s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("cod"), &placed)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(1), s.stock(t, p.ID))

	path := fmt.Sprintf("/api/v1/orders/%d/cancel", placed.Order.ID)
	status, _ = s.call(t, &stranger, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var cancelled models.Order
	status, _ = s.call(t, &customer, http.MethodPost, path, nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, int64(4), s.stock(t, p.ID))

	status, _ = s.call(t, &customer, http.MethodPost, path, nil, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, int64(4), s.stock(t, p.ID))
}

func TestVNPayCheckoutAndIPN(t *testing.T) {
	s := setupApp(t)
	s.seedCart(t, customer.UserID, "150000", 5, 1)

	var placed services.CheckoutResult
	status, _ := s.call(t, &customer, http.MethodPost, "/api/v1/orders", checkoutBody("vnpay"), &placed)
	require.Equal(t, http.StatusCreated, status)
	require.NotNil(t, placed.Payment.TransactionID)
	ref := *placed.Payment.TransactionID
	assert.Equal(t, "https://pay.example/vnpay?ref="+ref, placed.PaymentURL)

	params := map[string]string{
		"vnp_TmnCode":           "TESTTMN",
		"vnp_TxnRef":            ref,
		"vnp_Amount":            "15000000",
		"vnp_ResponseCode":      "00",
		"vnp_TransactionStatus": "00",
		"vnp_TransactionNo":     "14000001",
		"vnp_BankCode":          "NCB",
		"vnp_PayDate":           "20260101120000",
	}
	params["vnp_SecureHash"] = vnpay.Sign(vnpaySecret, params)
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}

	ipn := func() services.VNPayAck {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/webhooks/vnpay-ipn?"+q.Encode(), nil), -1)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var ack services.VNPayAck
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		return ack
	}

	assert.Equal(t, services.VNPayRspOK, ipn().RspCode)
	assert.Equal(t, services.VNPayRspAlreadyConfirmed, ipn().RspCode)

	var detail services.OrderDetail
	status, _ = s.call(t, &customer, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", placed.Order.ID), nil, &detail)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.OrderStatusConfirmed, detail.Order.Status)
	assert.Equal(t, models.PaymentStatusCompleted, detail.Payment.Status)
	assert.Equal(t, "14000001", detail.Payment.ProviderRef)
}

func TestShippingMasterDataValidation(t *testing.T) {
	s := setupApp(t)

	status, _ := s.call(t, &customer, http.MethodGet, "/api/v1/shipping/districts", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.call(t, &customer, http.MethodGet, "/api/v1/shipping/wards?district_id=0", nil, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = s.call(t, &customer, http.MethodPost, "/api/v1/shipping/fee", map[string]interface{}{"to_district_id": 0}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
