package repositories

import (
	"context"
	"time"

	"shoporder/internal/models"
)

// PaymentChange carries the gateway details stored alongside a status change.
type PaymentChange struct {
	ProviderRef string
	BankCode    string
	PaidAt      *time.Time
}

// PaymentRepository defines the interface for payment data access.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByOrderID(ctx context.Context, orderID int64) (*models.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error)
	// UpdateStatus moves the payment from → to only if it is still in from.
	UpdateStatus(ctx context.Context, id int64, from, to models.PaymentStatus, change PaymentChange) error
	// Rearm puts a failed payment back to pending under a new transaction reference.
	Rearm(ctx context.Context, id int64, transactionID string) error
}

// ShippingRepository defines the interface for shipping data access.
type ShippingRepository interface {
	Create(ctx context.Context, shipping *models.Shipping) error
	GetByOrderID(ctx context.Context, orderID int64) (*models.Shipping, error)
	GetByCarrierOrderCode(ctx context.Context, code string) (*models.Shipping, error)
	// UpdateStatus moves the shipment from → to only if it is still in from.
	UpdateStatus(ctx context.Context, id int64, from, to models.ShippingStatus) error
}
