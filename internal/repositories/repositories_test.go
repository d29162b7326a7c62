package repositories_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"shoporder/internal/models"
	"shoporder/internal/repositories"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repositories.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	require.NoError(t, repositories.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createOrder(t *testing.T, db *gorm.DB) *models.Order {
	t.Helper()
	o := &models.Order{UserID: 9, Status: models.OrderStatusPending, TotalPrice: decimal.NewFromInt(100)}
	require.NoError(t, repositories.NewGORMOrderRepository(db).Create(context.Background(), o))
	return o
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := repositories.Open("mysql", "whatever")
	assert.Error(t, err)
}

func TestOrderRepository_CreateAndGet(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repositories.NewGORMOrderRepository(db)

	o := createOrder(t, db)
	assert.NotZero(t, o.ID)
	assert.Equal(t, int64(1), o.Version)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)
	assert.True(t, decimal.NewFromInt(100).Equal(got.TotalPrice))

	_, err = repo.GetByID(ctx, o.ID+1000)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestOrderRepository_UpdateStatusIsCompareAndSwap(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repositories.NewGORMOrderRepository(db)
	o := createOrder(t, db)

	require.NoError(t, repo.UpdateStatus(ctx, o.ID, models.OrderStatusPending, models.OrderStatusConfirmed))

	err := repo.UpdateStatus(ctx, o.ID, models.OrderStatusPending, models.OrderStatusCancelled)
	assert.ErrorIs(t, err, repositories.ErrStatusConflict)

	got, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, int64(2), got.Version)
}

func TestOrderItemAndStatusLogRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	o := createOrder(t, db)

	items := []models.OrderItem{
		{ProductID: 1, ProductName: "Kettle", Quantity: 1, UnitPrice: decimal.NewFromInt(40), LineTotal: decimal.NewFromInt(40)},
		{ProductID: 2, ProductName: "Mug", Quantity: 3, UnitPrice: decimal.NewFromInt(20), LineTotal: decimal.NewFromInt(60)},
	}
	itemRepo := repositories.NewGORMOrderItemRepository(db)
	require.NoError(t, itemRepo.CreateBulk(ctx, o.ID, items))
	require.NoError(t, itemRepo.CreateBulk(ctx, o.ID, nil))

	got, err := itemRepo.ListByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Kettle", got[0].ProductName)
	assert.Equal(t, o.ID, got[1].OrderID)

	logRepo := repositories.NewGORMStatusLogRepository(db)
	require.NoError(t, logRepo.Create(ctx, &models.OrderStatusLog{
		OrderID: o.ID, Kind: models.LogKindTransition, ToStatus: models.OrderStatusPending, Source: models.SourceCustomer,
	}))
	entries, err := logRepo.ListByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestPaymentRepository_UpdateStatusAndRearm(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	o := createOrder(t, db)
	repo := repositories.NewGORMPaymentRepository(db)

	ref := "TXN-1"
	p := &models.Payment{
		OrderID: o.ID, Method: models.PaymentMethodVNPay, Status: models.PaymentStatusPending,
		Amount: decimal.NewFromInt(100), TransactionID: &ref,
	}
	require.NoError(t, repo.Create(ctx, p))

	byRef, err := repo.GetByTransactionID(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byRef.ID)

	_, err = repo.GetByTransactionID(ctx, "TXN-404")
	assert.ErrorIs(t, err, repositories.ErrNotFound)

	// Rearm only applies to failed payments.
	assert.ErrorIs(t, repo.Rearm(ctx, p.ID, "TXN-2"), repositories.ErrStatusConflict)

	require.NoError(t, repo.UpdateStatus(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusFailed,
		repositories.PaymentChange{ProviderRef: "GW-77", BankCode: "NCB"}))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, p.ID, models.PaymentStatusPending, models.PaymentStatusCompleted,
		repositories.PaymentChange{}), repositories.ErrStatusConflict)

	failed, err := repo.GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "GW-77", failed.ProviderRef)
	assert.Equal(t, "NCB", failed.BankCode)

	require.NoError(t, repo.Rearm(ctx, p.ID, "TXN-2"))
	rearmed, err := repo.GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, rearmed.Status)
	require.NotNil(t, rearmed.TransactionID)
	assert.Equal(t, "TXN-2", *rearmed.TransactionID)
	assert.Empty(t, rearmed.ProviderRef)

	_, err = repo.GetByTransactionID(ctx, "TXN-1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestPaymentRepository_RearmWithoutReferenceStoresNull(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repositories.NewGORMPaymentRepository(db)

	// Two COD payments without references must not collide on the unique index.
	for i := 0; i < 2; i++ {
		o := createOrder(t, db)
		p := &models.Payment{OrderID: o.ID, Method: models.PaymentMethodCOD, Status: models.PaymentStatusFailed, Amount: decimal.NewFromInt(100)}
		require.NoError(t, repo.Create(ctx, p))
		require.NoError(t, repo.Rearm(ctx, p.ID, ""))

		got, err := repo.GetByOrderID(ctx, o.ID)
		require.NoError(t, err)
		assert.Nil(t, got.TransactionID)
		assert.Equal(t, models.PaymentStatusPending, got.Status)
	}
}

func TestPaymentRepository_PaidAtIsStored(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	o := createOrder(t, db)
	repo := repositories.NewGORMPaymentRepository(db)

	p := &models.Payment{OrderID: o.ID, Method: models.PaymentMethodCOD, Status: models.PaymentStatusCOD, Amount: decimal.NewFromInt(100)}
	require.NoError(t, repo.Create(ctx, p))

	paidAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateStatus(ctx, p.ID, models.PaymentStatusCOD, models.PaymentStatusCompleted,
		repositories.PaymentChange{PaidAt: &paidAt}))

	got, err := repo.GetByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.NotNil(t, got.PaidAt)
	assert.True(t, paidAt.Equal(*got.PaidAt))
}

func TestShippingRepository(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repositories.NewGORMShippingRepository(db)

	t.Run("rejects GHN without carrier code", func(t *testing.T) {
		o := createOrder(t, db)
		err := repo.Create(ctx, &models.Shipping{OrderID: o.ID, Method: models.ShippingMethodGHN, Status: models.ShippingStatusPending})
		assert.ErrorIs(t, err, models.ErrCarrierCodeRequired)
	})

	t.Run("create, look up and move forward", func(t *testing.T) {
		o := createOrder(t, db)
		code := "GHN-ABC"
		s := &models.Shipping{OrderID: o.ID, Method: models.ShippingMethodGHN, Status: models.ShippingStatusPending, CarrierOrderCode: &code, Fee: decimal.NewFromInt(30000)}
		require.NoError(t, repo.Create(ctx, s))

		got, err := repo.GetByCarrierOrderCode(ctx, "GHN-ABC")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.OrderID)

		require.NoError(t, repo.UpdateStatus(ctx, s.ID, models.ShippingStatusPending, models.ShippingStatusShipped))
		assert.ErrorIs(t, repo.UpdateStatus(ctx, s.ID, models.ShippingStatusPending, models.ShippingStatusCancelled), repositories.ErrStatusConflict)

		_, err = repo.GetByOrderID(ctx, o.ID+1000)
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestProductRepository_Stock(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := repositories.NewGORMProductRepository(db)

	p := &models.Product{Name: "Teapot", Price: decimal.NewFromInt(50), Stock: 3}
	require.NoError(t, db.Create(p).Error)

	ok, err := repo.DecreaseStockIfEnough(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.DecreaseStockIfEnough(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.IncreaseStock(ctx, p.ID, 4))
	got, err := repo.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Stock)

	assert.ErrorIs(t, repo.IncreaseStock(ctx, p.ID+1000, 1), repositories.ErrNotFound)
	_, err = repo.GetByID(ctx, p.ID+1000)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestCartAndPromotionRepositories(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.Create(&[]models.CartItem{
		{UserID: 5, ProductID: 1, Quantity: 2},
		{UserID: 5, ProductID: 2, Quantity: 1},
		{UserID: 6, ProductID: 1, Quantity: 4},
	}).Error)

	carts := repositories.NewGORMCartRepository(db)
	items, err := carts.ListByUserID(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	require.NoError(t, carts.ClearByUserID(ctx, 5))
	items, err = carts.ListByUserID(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, items)
	items, err = carts.ListByUserID(ctx, 6)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	promos := repositories.NewGORMPromotionRepository(db)
	require.NoError(t, db.Create(&[]models.Promotion{
		{ProductID: 1, Kind: models.PromotionPercent, Value: decimal.NewFromInt(5), StartsAt: now.Add(-2 * time.Hour), EndsAt: now.Add(time.Hour)},
		{ProductID: 1, Kind: models.PromotionFixed, Value: decimal.NewFromInt(3), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour)},
		{ProductID: 1, Kind: models.PromotionFixed, Value: decimal.NewFromInt(9), StartsAt: now.Add(-3 * time.Hour), EndsAt: now.Add(-2 * time.Hour)},
	}).Error)

	active, err := promos.ActiveForProduct(ctx, 1, now)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.PromotionFixed, active.Kind)
	assert.True(t, decimal.NewFromInt(3).Equal(active.Value))

	none, err := promos.ActiveForProduct(ctx, 2, now)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	tm := repositories.NewGORMTxManager(db)
	boom := errors.New("boom")

	var orderID int64
	err := tm.WithinTx(ctx, func(r repositories.TxRepos) error {
		o := &models.Order{UserID: 1, Status: models.OrderStatusPending, TotalPrice: decimal.NewFromInt(10)}
		if err := r.Orders().Create(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = tm.Repos().Orders().GetByID(ctx, orderID)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestTxManager_Commits(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	tm := repositories.NewGORMTxManager(db)

	var orderID int64
	require.NoError(t, tm.WithinTx(ctx, func(r repositories.TxRepos) error {
		o := &models.Order{UserID: 1, Status: models.OrderStatusPending, TotalPrice: decimal.NewFromInt(10)}
		if err := r.Orders().Create(ctx, o); err != nil {
			return err
		}
		orderID = o.ID
		return r.Orders().UpdateStatus(ctx, o.ID, models.OrderStatusPending, models.OrderStatusConfirmed)
	}))

	got, err := tm.Repos().Orders().GetByID(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
}
