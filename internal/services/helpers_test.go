package services_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"shoporder/internal/gateways/ghn"
	"shoporder/internal/gateways/vnpay"
	"shoporder/internal/gateways/zalopay"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/internal/services"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	vnpaySecret = "vnpay-secret"
	zalopayKey2 = "zalopay-key2"
)

// MockVNPay is a mock implementation of services.VNPayClient.
type MockVNPay struct {
	mock.Mock
}

func (m *MockVNPay) BuildPaymentURL(req vnpay.PaymentRequest) (string, error) {
	args := m.Called(req)
	return args.String(0), args.Error(1)
}

// MockZalopay is a mock implementation of services.ZalopayClient.
type MockZalopay struct {
	mock.Mock
}

func (m *MockZalopay) CreateOrder(ctx context.Context, req zalopay.OrderRequest) (*zalopay.OrderResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zalopay.OrderResult), args.Error(1)
}

// MockCarrier is a mock implementation of services.CarrierClient.
type MockCarrier struct {
	mock.Mock
}

func (m *MockCarrier) CreateOrder(ctx context.Context, req ghn.CreateOrderRequest) (*ghn.CreatedOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ghn.CreatedOrder), args.Error(1)
}

func (m *MockCarrier) CancelOrder(ctx context.Context, orderCode string) error {
	return m.Called(ctx, orderCode).Error(0)
}

func (m *MockCarrier) CalculateFee(ctx context.Context, req ghn.FeeRequest) (*ghn.Fee, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ghn.Fee), args.Error(1)
}

func (m *MockCarrier) Provinces(ctx context.Context) ([]ghn.Province, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ghn.Province), args.Error(1)
}

func (m *MockCarrier) Districts(ctx context.Context, provinceID int) ([]ghn.District, error) {
	args := m.Called(ctx, provinceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ghn.District), args.Error(1)
}

func (m *MockCarrier) Wards(ctx context.Context, districtID int) ([]ghn.Ward, error) {
	args := m.Called(ctx, districtID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ghn.Ward), args.Error(1)
}

// recordingPublisher keeps every published routing key.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// env is a fully wired service layer over an in-memory SQLite database.
type env struct {
	db        *gorm.DB
	vnpay     *MockVNPay
	zalopay   *MockZalopay
	carrier   *MockCarrier
	publisher *recordingPublisher
	rc        *services.Reconciler
	orders    *services.OrderService
	shipping  *services.ShippingService
	webhooks  *services.WebhookService
}

var (
	customer      = models.Actor{UserID: 100, Role: models.RoleCustomer}
	otherCustomer = models.Actor{UserID: 200, Role: models.RoleCustomer}
	staff         = models.Actor{UserID: 1, Role: models.RoleStaff}
)

var testAddress = models.Address{
	RecipientName: "Nguyen Van A",
	Phone:         "0900000000",
	Line:          "1 Le Loi",
	WardCode:      "20308",
	DistrictID:    1444,
	ProvinceID:    202,
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := repositories.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))

	e := &env{
		db:        db,
		vnpay:     new(MockVNPay),
		zalopay:   new(MockZalopay),
		carrier:   new(MockCarrier),
		publisher: &recordingPublisher{},
	}
	tx := repositories.NewGORMTxManager(db)
	inventory := services.NewInventoryService()
	e.rc = services.NewReconciler(tx, inventory, e.publisher)
	e.orders = services.NewOrderService(e.rc, tx.Repos(), inventory, e.vnpay, e.zalopay, e.carrier)
	e.shipping = services.NewShippingService(e.rc, tx.Repos(), e.carrier, decimal.NewFromInt(30000))
	e.webhooks = services.NewWebhookService(e.rc, vnpaySecret, zalopayKey2)

	e.vnpay.On("BuildPaymentURL", mock.Anything).Return("https://pay.example/vnpay", nil).Maybe()
	return e
}

func (e *env) seedProduct(t *testing.T, name string, price string, stock int64) *models.Product {
	t.Helper()
	p := &models.Product{Name: name, Price: decimal.RequireFromString(price), Stock: stock, WeightGrams: 500}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func (e *env) addToCart(t *testing.T, userID, productID, qty int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.CartItem{UserID: userID, ProductID: productID, Quantity: qty}).Error)
}

func (e *env) stock(t *testing.T, productID int64) int64 {
	t.Helper()
	var p models.Product
	require.NoError(t, e.db.First(&p, productID).Error)
	return p.Stock
}

func (e *env) order(t *testing.T, id int64) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, e.db.First(&o, id).Error)
	return o
}

func (e *env) payment(t *testing.T, orderID int64) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, e.db.Where("order_id = ?", orderID).First(&p).Error)
	return p
}

func (e *env) shippingRow(t *testing.T, orderID int64) models.Shipping {
	t.Helper()
	var s models.Shipping
	require.NoError(t, e.db.Where("order_id = ?", orderID).First(&s).Error)
	return s
}

func (e *env) logs(t *testing.T, orderID int64, kind models.LogKind) []models.OrderStatusLog {
	t.Helper()
	var out []models.OrderStatusLog
	require.NoError(t, e.db.Where("order_id = ? AND kind = ?", orderID, kind).Order("id asc").Find(&out).Error)
	return out
}

// checkout places an order for customer with one line of qty units.
func (e *env) checkout(t *testing.T, method models.PaymentMethod, product *models.Product, qty int64) *services.CheckoutResult {
	t.Helper()
	e.addToCart(t, customer.UserID, product.ID, qty)
	addr := testAddress
	res, err := e.orders.CreateOrderFromCart(context.Background(), customer, services.CheckoutInput{
		PaymentMethod:   method,
		ShippingAddress: &addr,
		ClientIP:        "127.0.0.1",
	})
	require.NoError(t, err)
	return res
}

// setOrderStatus forces an order into status, bypassing the state machine.
func (e *env) setOrderStatus(t *testing.T, orderID int64, status models.OrderStatus) {
	t.Helper()
	require.NoError(t, e.db.Model(&models.Order{}).Where("id = ?", orderID).Update("status", status).Error)
}

func requireAppCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	ae, ok := services.AsAppError(err)
	require.True(t, ok, "expected *AppError, got %v", err)
	require.Equal(t, code, ae.Code, ae.Message)
}
