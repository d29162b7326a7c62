package repositories

import (
	"context"
	"time"

	"shoporder/internal/models"
)

// ProductRepository defines the interface for product reads and atomic stock adjustment.
type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Product, error)
	// DecreaseStockIfEnough subtracts qty only when at least qty is in stock.
	// It reports false, without error, when stock is insufficient.
	DecreaseStockIfEnough(ctx context.Context, id int64, qty int64) (bool, error)
	IncreaseStock(ctx context.Context, id int64, qty int64) error
}

// CartRepository reads and clears a user's cart at checkout.
type CartRepository interface {
	ListByUserID(ctx context.Context, userID int64) ([]models.CartItem, error)
	ClearByUserID(ctx context.Context, userID int64) error
}

// PromotionRepository looks up the promotion applying to a product.
type PromotionRepository interface {
	ActiveForProduct(ctx context.Context, productID int64, at time.Time) (*models.Promotion, error)
}
