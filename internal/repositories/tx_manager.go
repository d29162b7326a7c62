package repositories

import (
	"context"

	"gorm.io/gorm"
)

// TxRepos exposes repositories bound to one open transaction.
type TxRepos interface {
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Payments() PaymentRepository
	Shippings() ShippingRepository
	Products() ProductRepository
	Carts() CartRepository
	Promotions() PromotionRepository
	StatusLogs() StatusLogRepository
}

// TxManager runs fn inside a transaction; fn returning an error rolls everything back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(r TxRepos) error) error
}

type gormTxRepos struct {
	orders     OrderRepository
	orderItems OrderItemRepository
	payments   PaymentRepository
	shippings  ShippingRepository
	products   ProductRepository
	carts      CartRepository
	promotions PromotionRepository
	statusLogs StatusLogRepository
}

func newGormTxRepos(db *gorm.DB) *gormTxRepos {
	return &gormTxRepos{
		orders:     NewGORMOrderRepository(db),
		orderItems: NewGORMOrderItemRepository(db),
		payments:   NewGORMPaymentRepository(db),
		shippings:  NewGORMShippingRepository(db),
		products:   NewGORMProductRepository(db),
		carts:      NewGORMCartRepository(db),
		promotions: NewGORMPromotionRepository(db),
		statusLogs: NewGORMStatusLogRepository(db),
	}
}

func (r *gormTxRepos) Orders() OrderRepository         { return r.orders }
func (r *gormTxRepos) OrderItems() OrderItemRepository { return r.orderItems }
func (r *gormTxRepos) Payments() PaymentRepository     { return r.payments }
func (r *gormTxRepos) Shippings() ShippingRepository   { return r.shippings }
func (r *gormTxRepos) Products() ProductRepository     { return r.products }
func (r *gormTxRepos) Carts() CartRepository           { return r.carts }
func (r *gormTxRepos) Promotions() PromotionRepository { return r.promotions }
func (r *gormTxRepos) StatusLogs() StatusLogRepository { return r.statusLogs }

// GORMTxManager is a GORM implementation of TxManager.
type GORMTxManager struct {
	db *gorm.DB
}

// NewGORMTxManager creates a new instance of GORMTxManager.
func NewGORMTxManager(db *gorm.DB) *GORMTxManager {
	return &GORMTxManager{db: db}
}

func (tm *GORMTxManager) WithinTx(ctx context.Context, fn func(r TxRepos) error) error {
	return tm.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newGormTxRepos(tx))
	})
}

// Repos returns repositories bound to the plain connection, for reads outside a transaction.
func (tm *GORMTxManager) Repos() TxRepos {
	return newGormTxRepos(tm.db)
}
