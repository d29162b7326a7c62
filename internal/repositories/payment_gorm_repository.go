package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shoporder/internal/models"

	"gorm.io/gorm"
)

// GORMPaymentRepository is a GORM implementation of PaymentRepository.
type GORMPaymentRepository struct {
	db *gorm.DB
}

// NewGORMPaymentRepository creates a new instance of GORMPaymentRepository.
func NewGORMPaymentRepository(db *gorm.DB) *GORMPaymentRepository {
	return &GORMPaymentRepository{db: db}
}

func (r *GORMPaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if err := r.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to create payment for order %d: %w", payment.OrderID, err)
	}
	return nil
}

func (r *GORMPaymentRepository) GetByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *GORMPaymentRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.Payment, error) {
	return r.first(ctx, "transaction_id = ?", transactionID)
}

func (r *GORMPaymentRepository) first(ctx context.Context, query string, arg interface{}) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Where(query, arg).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &payment, nil
}

func (r *GORMPaymentRepository) UpdateStatus(ctx context.Context, id int64, from, to models.PaymentStatus, change PaymentChange) error {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if change.ProviderRef != "" {
		updates["provider_ref"] = change.ProviderRef
	}
	if change.BankCode != "" {
		updates["bank_code"] = change.BankCode
	}
	if change.PaidAt != nil {
		updates["paid_at"] = *change.PaidAt
	}

	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to update status of payment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// Rearm stores a NULL reference when transactionID is empty, as COD payments have none.
func (r *GORMPaymentRepository) Rearm(ctx context.Context, id int64, transactionID string) error {
	var ref interface{}
	if transactionID != "" {
		ref = transactionID
	}
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, models.PaymentStatusFailed).
		Updates(map[string]interface{}{
			"status":         models.PaymentStatusPending,
			"transaction_id": ref,
			"provider_ref":   "",
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to rearm payment %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// GORMShippingRepository is a GORM implementation of ShippingRepository.
type GORMShippingRepository struct {
	db *gorm.DB
}

// NewGORMShippingRepository creates a new instance of GORMShippingRepository.
func NewGORMShippingRepository(db *gorm.DB) *GORMShippingRepository {
	return &GORMShippingRepository{db: db}
}

// Create validates the carrier-code invariant before inserting.
func (r *GORMShippingRepository) Create(ctx context.Context, shipping *models.Shipping) error {
	if err := shipping.Validate(); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(shipping).Error; err != nil {
		return fmt.Errorf("failed to create shipping for order %d: %w", shipping.OrderID, err)
	}
	return nil
}

func (r *GORMShippingRepository) GetByOrderID(ctx context.Context, orderID int64) (*models.Shipping, error) {
	return r.first(ctx, "order_id = ?", orderID)
}

func (r *GORMShippingRepository) GetByCarrierOrderCode(ctx context.Context, code string) (*models.Shipping, error) {
	return r.first(ctx, "carrier_order_code = ?", code)
}

func (r *GORMShippingRepository) first(ctx context.Context, query string, arg interface{}) (*models.Shipping, error) {
	var shipping models.Shipping
	if err := r.db.WithContext(ctx).Where(query, arg).First(&shipping).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get shipping: %w", err)
	}
	return &shipping, nil
}

func (r *GORMShippingRepository) UpdateStatus(ctx context.Context, id int64, from, to models.ShippingStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Shipping{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update status of shipping %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}
