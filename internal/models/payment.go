package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	PaymentMethodVNPay        PaymentMethod = "vnpay"
	PaymentMethodZalopay      PaymentMethod = "zalopay"
	PaymentMethodCOD          PaymentMethod = "cod"
	PaymentMethodMomo         PaymentMethod = "momo"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodVNPay, PaymentMethodZalopay, PaymentMethodCOD, PaymentMethodMomo, PaymentMethodBankTransfer:
		return true
	}
	return false
}

// PaymentStatus is the money-movement status reported by a gateway.
// PaymentStatusCOD means cash is due on delivery and has not been collected yet.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCOD       PaymentStatus = "cod"
)

// PaymentStatuses lists every payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCOD,
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCOD},
	PaymentStatusCOD:       {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:    {PaymentStatusPending, PaymentStatusCompleted},
	PaymentStatusCompleted: {PaymentStatusRefunded},
	PaymentStatusRefunded:  {},
}

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	_, ok := paymentTransitions[s]
	return ok
}

// CanTransitionTo reports whether a payment may move from s to next.
// A report that is not allowed is treated as stale by the reconciler.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Payment records the money-movement state of exactly one order.
type Payment struct {
	ID      int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID int64           `json:"order_id" gorm:"not null;uniqueIndex"`
	Method  PaymentMethod   `json:"method" gorm:"type:varchar(20);not null"`
	Status  PaymentStatus   `json:"status" gorm:"type:varchar(20);not null;index"`
	Amount  decimal.Decimal `json:"amount" gorm:"type:decimal(15,2);not null"`
	// TransactionID is the reference sent to the gateway and echoed back by its
	// callbacks. It is the lookup and replay key for webhooks.
	TransactionID *string    `json:"transaction_id,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	ProviderRef   string     `json:"provider_ref,omitempty" gorm:"type:varchar(64)"`
	BankCode      string     `json:"bank_code,omitempty" gorm:"type:varchar(20)"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// PaymentProvider identifies the source of a payment event.
type PaymentProvider string

const (
	PaymentProviderVNPay   PaymentProvider = "vnpay"
	PaymentProviderZalopay PaymentProvider = "zalopay"
	PaymentProviderCOD     PaymentProvider = "cod"
)

// PaymentEvent is a verified, provider-neutral payment status report.
type PaymentEvent struct {
	Provider    PaymentProvider
	ExternalID  string
	Status      PaymentStatus
	Amount      decimal.Decimal
	ProviderRef string
	BankCode    string
	ReportedAt  time.Time
}
