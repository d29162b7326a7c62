package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the store. Catalog fields are owned by the
// catalog service; this core only reads them and adjusts Stock.
type Product struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string          `json:"name" gorm:"type:varchar(255);not null" validate:"required,min=3,max=255"`
	Price       decimal.Decimal `json:"price" gorm:"type:decimal(15,2);not null"`
	Stock       int64           `json:"stock" gorm:"not null" validate:"gte=0"`
	WeightGrams int             `json:"weight_grams" gorm:"not null;default:0"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// CartItem is a line in a user's cart waiting for checkout.
type CartItem struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID    int64     `json:"user_id" gorm:"not null;index"`
	ProductID int64     `json:"product_id" gorm:"not null"`
	Quantity  int64     `json:"quantity" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}
