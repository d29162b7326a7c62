package services

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"shoporder/internal/gateways/ghn"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CarrierClient is the GHN surface the services rely on.
type CarrierClient interface {
	CreateOrder(ctx context.Context, req ghn.CreateOrderRequest) (*ghn.CreatedOrder, error)
	CancelOrder(ctx context.Context, orderCode string) error
	CalculateFee(ctx context.Context, req ghn.FeeRequest) (*ghn.Fee, error)
	Provinces(ctx context.Context) ([]ghn.Province, error)
	Districts(ctx context.Context, provinceID int) ([]ghn.District, error)
	Wards(ctx context.Context, districtID int) ([]ghn.Ward, error)
}

// ShippingService opens shipments and exposes carrier quotes and master data.
type ShippingService struct {
	rc       *Reconciler
	repos    repositories.TxRepos
	carrier  CarrierClient
	shopFee  decimal.Decimal
	validate *validator.Validate
}

// NewShippingService creates a new ShippingService. shopFee is the flat fee
// charged when the shop delivers the parcel itself.
func NewShippingService(rc *Reconciler, repos repositories.TxRepos, carrier CarrierClient, shopFee decimal.Decimal) *ShippingService {
	return &ShippingService{
		rc:       rc,
		repos:    repos,
		carrier:  carrier,
		shopFee:  shopFee,
		validate: validator.New(),
	}
}

// CreateShippingInput selects how an order is delivered.
type CreateShippingInput struct {
	Method  models.ShippingMethod `json:"method" validate:"required,oneof=GHN SHOP"`
	Address *models.Address       `json:"address" validate:"omitempty"`
}

// FeeInput is a shipping quote request.
type FeeInput struct {
	FromDistrictID int             `json:"from_district_id" validate:"gte=0"`
	ToDistrictID   int             `json:"to_district_id" validate:"required,gt=0"`
	ToWardCode     string          `json:"to_ward_code" validate:"required"`
	WeightGrams    int             `json:"weight_grams" validate:"required,gt=0"`
	DeclaredValue  decimal.Decimal `json:"declared_value"`
}

func shippable(s models.OrderStatus) bool {
	switch s {
	case models.OrderStatusPending, models.OrderStatusConfirmed, models.OrderStatusProcessing:
		return true
	}
	return false
}

// CreateShipping opens the order's shipment. For GHN the carrier order is
// created first, outside the transaction, and cancelled again if the local
// write fails.
func (s *ShippingService) CreateShipping(ctx context.Context, orderID int64, actor models.Actor, in CreateShippingInput) (*models.Shipping, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	order, err := loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if !actor.IsStaff() && !actor.Owns(*order) {
		return nil, ErrForbidden
	}
	if !shippable(order.Status) {
		return nil, NewAppError(http.StatusConflict, fmt.Sprintf("order in status %s cannot be shipped", order.Status))
	}
	existing, err := shippingOf(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if existing != nil {
		return nil, NewAppError(http.StatusConflict, "order already has a shipment")
	}

	address := order.ShippingAddress
	if in.Address != nil {
		address = *in.Address
	}
	if err := s.validate.Struct(address); err != nil {
		return nil, validationError(err)
	}

	shipping := &models.Shipping{
		OrderID: orderID,
		Method:  in.Method,
		Status:  models.ShippingStatusPending,
		Address: address,
		Fee:     s.shopFee,
	}

	if in.Method == models.ShippingMethodGHN {
		created, err := s.openCarrierOrder(ctx, order, address)
		if err != nil {
			logger.Warn("carrier rejected shipment", zap.Int64("order_id", orderID), zap.Error(err))
			return nil, wrap(err)
		}
		code := created.OrderCode
		shipping.CarrierOrderCode = &code
		shipping.Fee = created.TotalFee
		if !created.ExpectedDeliveryTime.IsZero() {
			at := created.ExpectedDeliveryTime
			shipping.ExpectedDeliveryAt = &at
		}
	}

	err = s.rc.run(ctx, func(u *unitOfWork) error {
		current, err := loadOrder(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		if !shippable(current.Status) {
			return NewAppError(http.StatusConflict, fmt.Sprintf("order in status %s cannot be shipped", current.Status))
		}
		return u.r.Shippings().Create(ctx, shipping)
	})
	if err != nil {
		if shipping.CarrierOrderCode != nil {
			if cerr := s.carrier.CancelOrder(ctx, *shipping.CarrierOrderCode); cerr != nil {
				logger.Error("failed to cancel orphaned carrier order",
					zap.Int64("order_id", orderID), zap.String("carrier_order_code", *shipping.CarrierOrderCode), zap.Error(cerr))
			}
		}
		return nil, wrap(err)
	}

	logger.Info("shipment created",
		zap.Int64("order_id", orderID), zap.String("method", string(shipping.Method)), zap.String("fee", shipping.Fee.String()))
	return shipping, nil
}

func (s *ShippingService) openCarrierOrder(ctx context.Context, order *models.Order, address models.Address) (*ghn.CreatedOrder, error) {
	items, err := s.repos.OrderItems().ListByOrderID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]ghn.Item, 0, len(items))
	weight := 0
	for _, it := range items {
		w := 0
		if p, err := s.repos.Products().GetByID(ctx, it.ProductID); err == nil {
			w = p.WeightGrams
		}
		weight += w * int(it.Quantity)
		lines = append(lines, ghn.Item{
			Name:     it.ProductName,
			Code:     strconv.FormatInt(it.ProductID, 10),
			Quantity: it.Quantity,
			Price:    it.UnitPrice.Round(0).IntPart(),
			Weight:   w,
		})
	}

	cod := decimal.Zero
	payment, err := paymentOf(ctx, s.repos, order.ID)
	if err != nil {
		return nil, err
	}
	if payment != nil && payment.Status == models.PaymentStatusCOD {
		cod = payment.Amount
	}

	return s.carrier.CreateOrder(ctx, ghn.CreateOrderRequest{
		ClientOrderCode: strconv.FormatInt(order.ID, 10),
		ToName:          address.RecipientName,
		ToPhone:         address.Phone,
		ToAddress:       address.Line,
		ToWardCode:      address.WardCode,
		ToDistrictID:    address.DistrictID,
		WeightGrams:     weight,
		CODAmount:       cod,
		InsuranceValue:  order.TotalPrice,
		Items:           lines,
	})
}

// CalculateShippingFee quotes a GHN delivery.
func (s *ShippingService) CalculateShippingFee(ctx context.Context, in FeeInput) (*ghn.Fee, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	fee, err := s.carrier.CalculateFee(ctx, ghn.FeeRequest{
		FromDistrictID: in.FromDistrictID,
		ToDistrictID:   in.ToDistrictID,
		ToWardCode:     in.ToWardCode,
		WeightGrams:    in.WeightGrams,
		DeclaredValue:  in.DeclaredValue,
	})
	return fee, wrap(err)
}

func (s *ShippingService) Provinces(ctx context.Context) ([]ghn.Province, error) {
	out, err := s.carrier.Provinces(ctx)
	return out, wrap(err)
}

func (s *ShippingService) Districts(ctx context.Context, provinceID int) ([]ghn.District, error) {
	if provinceID <= 0 {
		return nil, NewAppError(http.StatusBadRequest, "province_id is required")
	}
	out, err := s.carrier.Districts(ctx, provinceID)
	return out, wrap(err)
}

func (s *ShippingService) Wards(ctx context.Context, districtID int) ([]ghn.Ward, error) {
	if districtID <= 0 {
		return nil, NewAppError(http.StatusBadRequest, "district_id is required")
	}
	out, err := s.carrier.Wards(ctx, districtID)
	return out, wrap(err)
}
