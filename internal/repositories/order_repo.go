package repositories

import (
	"context"
	"errors"

	"shoporder/internal/models"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrStatusConflict is returned when a compare-and-swap status update
	// finds the row no longer in the expected status.
	ErrStatusConflict = errors.New("status changed concurrently")
)

// OrderRepository defines the interface for order data access.
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	// UpdateStatus moves the order from → to only if it is still in from.
	UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error
}

// OrderItemRepository defines the interface for order line data access.
type OrderItemRepository interface {
	CreateBulk(ctx context.Context, orderID int64, items []models.OrderItem) error
	ListByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
}

// StatusLogRepository stores the order status audit trail.
type StatusLogRepository interface {
	Create(ctx context.Context, entry *models.OrderStatusLog) error
	ListByOrderID(ctx context.Context, orderID int64) ([]models.OrderStatusLog, error)
}
