package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the logical lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipping   OrderStatus = "shipping"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

// OrderStatuses lists every order status in lifecycle order, side states last.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipping,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusFailed,
}

// orderTransitions is the complete table of legal order status changes.
// Cancellation is reachable from every non-terminal state.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipping, OrderStatusCancelled},
	OrderStatusShipping:   {OrderStatusCompleted, OrderStatusCancelled},
	OrderStatusCompleted:  {},
	OrderStatusCancelled:  {},
	OrderStatusFailed:     {OrderStatusPending},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// CanTransitionTo reports whether the table allows moving from s to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	allowed, ok := orderTransitions[s]
	return ok && len(allowed) == 0
}

// Rank orders the forward path pending < confirmed < processing < shipping < completed.
// Side states (cancelled, failed) return -1.
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPending:
		return 0
	case OrderStatusConfirmed:
		return 1
	case OrderStatusProcessing:
		return 2
	case OrderStatusShipping:
		return 3
	case OrderStatusCompleted:
		return 4
	default:
		return -1
	}
}

// IllegalTransitionError is returned when a status change is not in the transition table.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition from %s to %s", e.Entity, e.From, e.To)
}

// CheckOrderTransition returns an *IllegalTransitionError when from → to is not allowed.
func CheckOrderTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return &IllegalTransitionError{Entity: "order", From: string(from), To: string(to)}
	}
	return nil
}

// Address is a delivery address. It is snapshotted onto orders and copied onto shippings.
type Address struct {
	RecipientName string `json:"recipient_name" gorm:"type:varchar(120)" validate:"required,max=120"`
	Phone         string `json:"phone" gorm:"type:varchar(20)" validate:"required,max=20"`
	Line          string `json:"line" gorm:"type:varchar(255)" validate:"required,max=255"`
	WardCode      string `json:"ward_code" gorm:"type:varchar(20)" validate:"required"`
	DistrictID    int    `json:"district_id" validate:"required,gt=0"`
	ProvinceID    int    `json:"province_id" validate:"required,gt=0"`
}

// IsZero reports whether no address was captured.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Order is the aggregate root of a customer's purchase.
type Order struct {
	ID              int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID          int64           `json:"user_id" gorm:"not null;index"`
	Status          OrderStatus     `json:"status" gorm:"type:varchar(20);not null;index"`
	TotalPrice      decimal.Decimal `json:"total_price" gorm:"type:decimal(15,2);not null"`
	Version         int64           `json:"version" gorm:"not null;default:1"`
	ShippingAddress Address         `json:"shipping_address" gorm:"embedded;embeddedPrefix:ship_"`
	Items           []OrderItem     `json:"items,omitempty" gorm:"-"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderItem is a single line within an order. UnitPrice is the price at
// checkout and is never re-read from the catalog afterwards.
type OrderItem struct {
	ID          int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID     int64           `json:"order_id" gorm:"not null;index"`
	ProductID   int64           `json:"product_id" gorm:"not null;index"`
	ProductName string          `json:"product_name" gorm:"type:varchar(255);not null"`
	Quantity    int64           `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:decimal(15,2);not null"`
	Discount    decimal.Decimal `json:"discount" gorm:"type:decimal(15,2);not null"`
	LineTotal   decimal.Decimal `json:"line_total" gorm:"type:decimal(15,2);not null"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// SumLineTotals returns the order total implied by items.
func SumLineTotals(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal)
	}
	return total
}
