package models

import "time"

// ChangeSource names who or what caused a status change.
type ChangeSource string

const (
	SourceCustomer        ChangeSource = "customer"
	SourceAdmin           ChangeSource = "admin"
	SourcePaymentWebhook  ChangeSource = "payment_webhook"
	SourceShippingWebhook ChangeSource = "shipping_webhook"
)

// LogKind separates applied transitions from recorded inconsistencies.
type LogKind string

const (
	LogKindTransition    LogKind = "transition"
	LogKindInconsistency LogKind = "inconsistency"
)

// OrderStatusLog is the audit trail of order status changes. Inconsistency
// rows record a mapped transition the table refused while the payment or
// shipping write still went through.
type OrderStatusLog struct {
	ID         int64        `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID    int64        `json:"order_id" gorm:"not null;index"`
	FromStatus OrderStatus  `json:"from_status" gorm:"type:varchar(20);not null"`
	ToStatus   OrderStatus  `json:"to_status" gorm:"type:varchar(20);not null"`
	Source     ChangeSource `json:"source" gorm:"type:varchar(30);not null"`
	ActorID    *int64       `json:"actor_id,omitempty"`
	Kind       LogKind      `json:"kind" gorm:"type:varchar(20);not null;index"`
	Note       string       `json:"note" gorm:"type:text"`
	CreatedAt  time.Time    `json:"created_at"`
}
