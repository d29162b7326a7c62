package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PromotionKind selects how a promotion discounts a line.
type PromotionKind string

const (
	PromotionPercent PromotionKind = "percent"
	PromotionFixed   PromotionKind = "fixed"
)

// Promotion is a per-product discount valid between StartsAt and EndsAt.
// For PromotionPercent, Value is a percentage (0-100); for PromotionFixed it
// is an amount off each unit.
type Promotion struct {
	ID        int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	ProductID int64           `json:"product_id" gorm:"not null;index"`
	Kind      PromotionKind   `json:"kind" gorm:"type:varchar(10);not null"`
	Value     decimal.Decimal `json:"value" gorm:"type:decimal(15,2);not null"`
	StartsAt  time.Time       `json:"starts_at"`
	EndsAt    time.Time       `json:"ends_at"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActiveAt reports whether the promotion applies at t.
func (p Promotion) ActiveAt(t time.Time) bool {
	return !t.Before(p.StartsAt) && t.Before(p.EndsAt)
}

var hundred = decimal.NewFromInt(100)

// ComputeLineTotal returns the discount and the total for quantity units at
// unitPrice, rounded to 2 decimals. The discount never exceeds the gross amount.
func ComputeLineTotal(unitPrice decimal.Decimal, quantity int64, promotion *Promotion) (discount, total decimal.Decimal) {
	gross := unitPrice.Mul(decimal.NewFromInt(quantity))
	discount = decimal.Zero

	if promotion != nil && promotion.Value.IsPositive() {
		switch promotion.Kind {
		case PromotionPercent:
			pct := decimal.Min(promotion.Value, hundred)
			discount = gross.Mul(pct).Div(hundred)
		case PromotionFixed:
			discount = promotion.Value.Mul(decimal.NewFromInt(quantity))
		}
	}

	discount = decimal.Min(discount, gross).Round(2)
	total = gross.Sub(discount).Round(2)
	return discount, total
}
