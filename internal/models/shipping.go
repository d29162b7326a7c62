package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ShippingMethod identifies who delivers the parcel.
type ShippingMethod string

const (
	ShippingMethodGHN  ShippingMethod = "GHN"
	ShippingMethodShop ShippingMethod = "SHOP"
)

// Valid reports whether m is a known shipping method.
func (m ShippingMethod) Valid() bool {
	return m == ShippingMethodGHN || m == ShippingMethodShop
}

// ShippingStatus is the internal fulfillment vocabulary carrier statuses are mapped onto.
type ShippingStatus string

const (
	ShippingStatusPending    ShippingStatus = "pending"
	ShippingStatusProcessing ShippingStatus = "processing"
	ShippingStatusShipped    ShippingStatus = "shipped"
	ShippingStatusDelivered  ShippingStatus = "delivered"
	ShippingStatusCancelled  ShippingStatus = "cancelled"
)

// ShippingStatuses lists every shipping status.
var ShippingStatuses = []ShippingStatus{
	ShippingStatusPending,
	ShippingStatusProcessing,
	ShippingStatusShipped,
	ShippingStatusDelivered,
	ShippingStatusCancelled,
}

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingStatusPending:    {ShippingStatusProcessing, ShippingStatusShipped, ShippingStatusDelivered, ShippingStatusCancelled},
	ShippingStatusProcessing: {ShippingStatusShipped, ShippingStatusDelivered, ShippingStatusCancelled},
	ShippingStatusShipped:    {ShippingStatusDelivered, ShippingStatusCancelled},
	ShippingStatusDelivered:  {},
	ShippingStatusCancelled:  {},
}

// Valid reports whether s is a known shipping status.
func (s ShippingStatus) Valid() bool {
	_, ok := shippingTransitions[s]
	return ok
}

// CanTransitionTo reports whether a shipment may move from s to next.
func (s ShippingStatus) CanTransitionTo(next ShippingStatus) bool {
	for _, allowed := range shippingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Shipping records the fulfillment state of exactly one order.
type Shipping struct {
	ID                 int64           `json:"id" gorm:"primaryKey;autoIncrement"`
	OrderID            int64           `json:"order_id" gorm:"not null;uniqueIndex"`
	Method             ShippingMethod  `json:"method" gorm:"type:varchar(10);not null"`
	Status             ShippingStatus  `json:"status" gorm:"type:varchar(20);not null;index"`
	CarrierOrderCode   *string         `json:"carrier_order_code,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	Address            Address         `json:"address" gorm:"embedded"`
	Fee                decimal.Decimal `json:"fee" gorm:"type:decimal(15,2);not null"`
	ExpectedDeliveryAt *time.Time      `json:"expected_delivery_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

var (
	ErrCarrierCodeRequired  = errors.New("GHN shipping requires a carrier order code")
	ErrCarrierCodeForbidden = errors.New("only GHN shipping may carry a carrier order code")
)

// Validate enforces that a carrier order code exists if and only if the method is GHN.
func (s Shipping) Validate() error {
	hasCode := s.CarrierOrderCode != nil && *s.CarrierOrderCode != ""
	if s.Method == ShippingMethodGHN && !hasCode {
		return ErrCarrierCodeRequired
	}
	if s.Method != ShippingMethodGHN && hasCode {
		return ErrCarrierCodeForbidden
	}
	return nil
}

// IsCarrierManaged reports whether status changes come from the carrier rather than staff.
func (s Shipping) IsCarrierManaged() bool {
	return s.Method == ShippingMethodGHN
}

// ShippingProvider identifies the source of a shipping event.
type ShippingProvider string

const (
	ShippingProviderGHN  ShippingProvider = "ghn"
	ShippingProviderShop ShippingProvider = "shop"
)

// ShippingEvent is a verified, provider-neutral shipping status report.
type ShippingEvent struct {
	Provider      ShippingProvider
	ExternalID    string
	Status        ShippingStatus
	CarrierStatus string
}
