package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shoporder/internal/models"

	"gorm.io/gorm"
)

// GORMOrderRepository is a GORM implementation of OrderRepository.
type GORMOrderRepository struct {
	db *gorm.DB
}

// NewGORMOrderRepository creates a new instance of GORMOrderRepository.
func NewGORMOrderRepository(db *gorm.DB) *GORMOrderRepository {
	return &GORMOrderRepository{db: db}
}

// Create inserts a new order; the generated ID is written back into order.
func (r *GORMOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if order.Version == 0 {
		order.Version = 1
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetByID retrieves a single order by its ID.
func (r *GORMOrderRepository) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).First(&order, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	return &order, nil
}

// UpdateStatus is a compare-and-swap on the current status; the version column
// is bumped on every successful change.
func (r *GORMOrderRepository) UpdateStatus(ctx context.Context, id int64, from, to models.OrderStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update status of order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// GORMOrderItemRepository is a GORM implementation of OrderItemRepository.
type GORMOrderItemRepository struct {
	db *gorm.DB
}

// NewGORMOrderItemRepository creates a new instance of GORMOrderItemRepository.
func NewGORMOrderItemRepository(db *gorm.DB) *GORMOrderItemRepository {
	return &GORMOrderItemRepository{db: db}
}

func (r *GORMOrderItemRepository) CreateBulk(ctx context.Context, orderID int64, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].OrderID = orderID
	}
	if err := r.db.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("failed to create items of order %d: %w", orderID, err)
	}
	return nil
}

func (r *GORMOrderItemRepository) ListByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list items of order %d: %w", orderID, err)
	}
	return items, nil
}

// GORMStatusLogRepository is a GORM implementation of StatusLogRepository.
type GORMStatusLogRepository struct {
	db *gorm.DB
}

// NewGORMStatusLogRepository creates a new instance of GORMStatusLogRepository.
func NewGORMStatusLogRepository(db *gorm.DB) *GORMStatusLogRepository {
	return &GORMStatusLogRepository{db: db}
}

func (r *GORMStatusLogRepository) Create(ctx context.Context, entry *models.OrderStatusLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to write status log for order %d: %w", entry.OrderID, err)
	}
	return nil
}

func (r *GORMStatusLogRepository) ListByOrderID(ctx context.Context, orderID int64) ([]models.OrderStatusLog, error) {
	var entries []models.OrderStatusLog
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list status log of order %d: %w", orderID, err)
	}
	return entries, nil
}
