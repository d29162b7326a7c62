package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shoporder/internal/models"

	"gorm.io/gorm"
)

// GORMProductRepository is a GORM implementation of ProductRepository.
type GORMProductRepository struct {
	db *gorm.DB
}

// NewGORMProductRepository creates a new instance of GORMProductRepository.
func NewGORMProductRepository(db *gorm.DB) *GORMProductRepository {
	return &GORMProductRepository{
		db: db,
	}
}

// GetByID retrieves a single product by its ID from the database.
func (r *GORMProductRepository) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product by ID %d: %w", id, err)
	}
	return &product, nil
}

// DecreaseStockIfEnough is a single conditional UPDATE, so concurrent
// reservations of the same product cannot lose updates.
func (r *GORMProductRepository) DecreaseStockIfEnough(ctx context.Context, id int64, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND stock >= ?", id, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return false, fmt.Errorf("failed to decrease stock of product %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// IncreaseStock puts qty units back.
func (r *GORMProductRepository) IncreaseStock(ctx context.Context, id int64, qty int64) error {
	res := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Update("stock", gorm.Expr("stock + ?", qty))
	if res.Error != nil {
		return fmt.Errorf("failed to increase stock of product %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		// The product row is gone; there is nothing to restore into.
		return fmt.Errorf("product with ID %d not found for restock: %w", id, ErrNotFound)
	}
	return nil
}

// GORMCartRepository is a GORM implementation of CartRepository.
type GORMCartRepository struct {
	db *gorm.DB
}

// NewGORMCartRepository creates a new instance of GORMCartRepository.
func NewGORMCartRepository(db *gorm.DB) *GORMCartRepository {
	return &GORMCartRepository{db: db}
}

func (r *GORMCartRepository) ListByUserID(ctx context.Context, userID int64) ([]models.CartItem, error) {
	var items []models.CartItem
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("id asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list cart of user %d: %w", userID, err)
	}
	return items, nil
}

func (r *GORMCartRepository) ClearByUserID(ctx context.Context, userID int64) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.CartItem{}).Error; err != nil {
		return fmt.Errorf("failed to clear cart of user %d: %w", userID, err)
	}
	return nil
}

// GORMPromotionRepository is a GORM implementation of PromotionRepository.
type GORMPromotionRepository struct {
	db *gorm.DB
}

// NewGORMPromotionRepository creates a new instance of GORMPromotionRepository.
func NewGORMPromotionRepository(db *gorm.DB) *GORMPromotionRepository {
	return &GORMPromotionRepository{db: db}
}

// ActiveForProduct returns the most recently created promotion active at the
// given time, or nil when none applies.
func (r *GORMPromotionRepository) ActiveForProduct(ctx context.Context, productID int64, at time.Time) (*models.Promotion, error) {
	var promo models.Promotion
	err := r.db.WithContext(ctx).
		Where("product_id = ? AND starts_at <= ? AND ends_at > ?", productID, at, at).
		Order("id desc").
		First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promotion for product %d: %w", productID, err)
	}
	return &promo, nil
}
