package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shoporder/internal/gateways/vnpay"
	"shoporder/internal/gateways/zalopay"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VNPayClient builds signed checkout redirects.
type VNPayClient interface {
	BuildPaymentURL(req vnpay.PaymentRequest) (string, error)
}

// ZalopayClient opens Zalopay payment orders.
type ZalopayClient interface {
	CreateOrder(ctx context.Context, req zalopay.OrderRequest) (*zalopay.OrderResult, error)
}

// OrderService handles checkout, order queries and order commands.
type OrderService struct {
	rc        *Reconciler
	repos     repositories.TxRepos
	inventory *InventoryService
	vnpay     VNPayClient
	zalopay   ZalopayClient
	carrier   CarrierClient
	validate  *validator.Validate
	now       func() time.Time
}

// NewOrderService creates a new OrderService. repos is used for reads
// outside transactions.
func NewOrderService(rc *Reconciler, repos repositories.TxRepos, inventory *InventoryService, vnp VNPayClient, zlp ZalopayClient, carrier CarrierClient) *OrderService {
	return &OrderService{
		rc:        rc,
		repos:     repos,
		inventory: inventory,
		vnpay:     vnp,
		zalopay:   zlp,
		carrier:   carrier,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// CheckoutInput is the customer's choice at checkout.
type CheckoutInput struct {
	PaymentMethod   models.PaymentMethod `json:"payment_method" validate:"required,oneof=vnpay zalopay cod"`
	ShippingAddress *models.Address      `json:"shipping_address"`
	BankCode        string               `json:"bank_code" validate:"omitempty,max=20"`
	ClientIP        string               `json:"-"`
}

// CheckoutResult is a placed order and where to pay for it.
type CheckoutResult struct {
	Order      *models.Order   `json:"order"`
	Payment    *models.Payment `json:"payment"`
	PaymentURL string          `json:"payment_url,omitempty"`
}

// OrderDetail is an order with everything attached to it.
type OrderDetail struct {
	Order    *models.Order           `json:"order"`
	Payment  *models.Payment         `json:"payment,omitempty"`
	Shipping *models.Shipping        `json:"shipping,omitempty"`
	History  []models.OrderStatusLog `json:"history"`
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return toAppError(err)
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
		}
		return NewAppError(http.StatusBadRequest, "invalid input: "+strings.Join(fields, ", "))
	}
	return NewAppError(http.StatusBadRequest, "invalid input")
}

func newTransactionRef(method models.PaymentMethod, now time.Time) string {
	switch method {
	case models.PaymentMethodZalopay:
		return zalopay.NewAppTransID(now)
	case models.PaymentMethodVNPay:
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	return ""
}

// priceCart turns the user's cart into priced order items.
func (s *OrderService) priceCart(ctx context.Context, r repositories.TxRepos, userID int64, at time.Time) ([]models.OrderItem, decimal.Decimal, error) {
	cart, err := r.Carts().ListByUserID(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if len(cart) == 0 {
		return nil, decimal.Zero, ErrCartEmpty
	}

	items := make([]models.OrderItem, 0, len(cart))
	for _, ci := range cart {
		if ci.Quantity <= 0 {
			return nil, decimal.Zero, NewAppError(http.StatusBadRequest, fmt.Sprintf("invalid quantity for product %d", ci.ProductID))
		}
		p, err := r.Products().GetByID(ctx, ci.ProductID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, decimal.Zero, NewAppError(http.StatusBadRequest, fmt.Sprintf("product %d is no longer available", ci.ProductID))
		}
		if err != nil {
			return nil, decimal.Zero, err
		}
		promo, err := r.Promotions().ActiveForProduct(ctx, p.ID, at)
		if err != nil {
			return nil, decimal.Zero, err
		}
		discount, lineTotal := models.ComputeLineTotal(p.Price, ci.Quantity, promo)
		items = append(items, models.OrderItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    ci.Quantity,
			UnitPrice:   p.Price,
			Discount:    discount,
			LineTotal:   lineTotal,
		})
	}
	return items, models.SumLineTotals(items), nil
}

func sameLines(a, b []models.OrderItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity || !a[i].LineTotal.Equal(b[i].LineTotal) {
			return false
		}
	}
	return true
}

// openPayment registers the payment with its gateway and returns the URL the
// customer pays at. It runs before any transaction opens.
func (s *OrderService) openPayment(ctx context.Context, method models.PaymentMethod, ref string, amount decimal.Decimal, userID int64, clientIP, bankCode string) (string, error) {
	switch method {
	case models.PaymentMethodCOD:
		return "", nil
	case models.PaymentMethodVNPay:
		return s.vnpay.BuildPaymentURL(vnpay.PaymentRequest{
			TxnRef:    ref,
			Amount:    amount,
			OrderInfo: "Thanh toan don hang " + ref,
			IPAddr:    clientIP,
			BankCode:  bankCode,
		})
	case models.PaymentMethodZalopay:
		res, err := s.zalopay.CreateOrder(ctx, zalopay.OrderRequest{
			AppTransID:  ref,
			AppUser:     strconv.FormatInt(userID, 10),
			Amount:      amount.Round(0).IntPart(),
			Description: "Thanh toan don hang " + ref,
		})
		if err != nil {
			return "", err
		}
		return res.OrderURL, nil
	}
	return "", NewAppError(http.StatusBadRequest, fmt.Sprintf("payment method %s is not supported", method))
}

// CreateOrderFromCart prices the user's cart, opens the payment at the
// gateway and then, in one transaction, reserves stock, stores the order
// with its items and payment, and empties the cart.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, actor models.Actor, in CheckoutInput) (*CheckoutResult, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	now := s.now()
	items, total, err := s.priceCart(ctx, s.repos, actor.UserID, now)
	if err != nil {
		return nil, wrap(err)
	}
	if !total.IsPositive() && in.PaymentMethod != models.PaymentMethodCOD {
		return nil, NewAppError(http.StatusBadRequest, "online payment requires a positive total")
	}

	ref := newTransactionRef(in.PaymentMethod, now)
	paymentURL, err := s.openPayment(ctx, in.PaymentMethod, ref, total, actor.UserID, in.ClientIP, in.BankCode)
	if err != nil {
		logger.Warn("failed to open payment", zap.Int64("user_id", actor.UserID), zap.Error(err))
		return nil, wrap(err)
	}

	var result CheckoutResult
	err = s.rc.run(ctx, func(u *unitOfWork) error {
		current, currentTotal, err := s.priceCart(ctx, u.r, actor.UserID, now)
		if err != nil {
			return err
		}
		if !sameLines(items, current) || !total.Equal(currentTotal) {
			return NewAppError(http.StatusConflict, "cart changed during checkout")
		}

		if err := s.inventory.Reserve(ctx, u.r.Products(), StockLinesFromItems(items)); err != nil {
			return err
		}

		order := &models.Order{
			UserID:     actor.UserID,
			Status:     models.OrderStatusPending,
			TotalPrice: total,
		}
		if in.ShippingAddress != nil {
			order.ShippingAddress = *in.ShippingAddress
		}
		if err := u.r.Orders().Create(ctx, order); err != nil {
			return err
		}
		if err := u.r.OrderItems().CreateBulk(ctx, order.ID, items); err != nil {
			return err
		}
		order.Items = items

		payment := &models.Payment{
			OrderID: order.ID,
			Method:  in.PaymentMethod,
			Status:  models.PaymentStatusPending,
			Amount:  total,
		}
		if in.PaymentMethod == models.PaymentMethodCOD {
			payment.Status = models.PaymentStatusCOD
		}
		if ref != "" {
			payment.TransactionID = &ref
		}
		if err := u.r.Payments().Create(ctx, payment); err != nil {
			return err
		}

		if err := u.r.Carts().ClearByUserID(ctx, actor.UserID); err != nil {
			return err
		}

		actorID := actor.UserID
		if err := u.r.StatusLogs().Create(ctx, &models.OrderStatusLog{
			OrderID:  order.ID,
			ToStatus: models.OrderStatusPending,
			Source:   models.SourceCustomer,
			ActorID:  &actorID,
			Kind:     models.LogKindTransition,
			Note:     "order placed with " + string(in.PaymentMethod),
		}); err != nil {
			return err
		}

		ev := s.rc.newEvent(order, "", models.OrderStatusPending, models.SourceCustomer)
		ev.Type = "order.created"
		u.events = append(u.events, ev)

		result = CheckoutResult{Order: order, Payment: payment, PaymentURL: paymentURL}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}

	logger.Info("order placed",
		zap.Int64("order_id", result.Order.ID), zap.Int64("user_id", actor.UserID),
		zap.String("total", total.String()), zap.String("method", string(in.PaymentMethod)))
	return &result, nil
}

func shippingOf(ctx context.Context, r repositories.TxRepos, orderID int64) (*models.Shipping, error) {
	s, err := r.Shippings().GetByOrderID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return s, err
}

func paymentOf(ctx context.Context, r repositories.TxRepos, orderID int64) (*models.Payment, error) {
	p, err := r.Payments().GetByOrderID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func loadOrder(ctx context.Context, r repositories.TxRepos, orderID int64) (*models.Order, error) {
	o, err := r.Orders().GetByID(ctx, orderID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	return o, err
}

// GetOrder returns an order with its items, payment, shipping and history.
// Customers only see their own orders.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64, actor models.Actor) (*OrderDetail, error) {
	order, err := loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if !actor.IsStaff() && !actor.Owns(*order) {
		return nil, ErrForbidden
	}

	detail := &OrderDetail{Order: order}
	if order.Items, err = s.repos.OrderItems().ListByOrderID(ctx, orderID); err != nil {
		return nil, wrap(err)
	}
	if detail.Payment, err = paymentOf(ctx, s.repos, orderID); err != nil {
		return nil, wrap(err)
	}
	if detail.Shipping, err = shippingOf(ctx, s.repos, orderID); err != nil {
		return nil, wrap(err)
	}
	if detail.History, err = s.repos.StatusLogs().ListByOrderID(ctx, orderID); err != nil {
		return nil, wrap(err)
	}
	return detail, nil
}

// checkCancellable enforces who may cancel what. Owners may cancel only
// pending orders; staff may cancel anything not completed, not cancelled
// and not delivered.
func checkCancellable(actor models.Actor, order *models.Order, shipping *models.Shipping) error {
	if !actor.IsStaff() {
		if !actor.Owns(*order) {
			return ErrForbidden
		}
		if order.Status != models.OrderStatusPending {
			return ErrNotCancellable
		}
	}
	if !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
		return ErrNotCancellable
	}
	if shipping != nil && shipping.Status == models.ShippingStatusDelivered {
		return ErrNotCancellable
	}
	return nil
}

// CancelOrder cancels an order. A live GHN shipment is cancelled at the
// carrier first; if that fails nothing changes locally. The local
// cancellation then re-checks every precondition inside its transaction, so
// a concurrent webhook that moved the order wins and the cancel reports a
// conflict.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	order, err := loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	shipping, err := shippingOf(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if err := checkCancellable(actor, order, shipping); err != nil {
		return nil, err
	}

	carrierCancelled := false
	if shipping != nil && shipping.IsCarrierManaged() && shipping.CarrierOrderCode != nil &&
		shipping.Status != models.ShippingStatusCancelled {
		if err := s.carrier.CancelOrder(ctx, *shipping.CarrierOrderCode); err != nil {
			logger.Warn("carrier cancel failed, order left unchanged",
				zap.Int64("order_id", orderID), zap.String("carrier_order_code", *shipping.CarrierOrderCode), zap.Error(err))
			return nil, wrap(err)
		}
		carrierCancelled = true
	}

	source := models.SourceCustomer
	if actor.IsStaff() {
		source = models.SourceAdmin
	}
	ch := actorChange(source, actor)
	ch.note = "cancelled by " + string(actor.Role)

	err = s.rc.run(ctx, func(u *unitOfWork) error {
		current, err := loadOrder(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		sh, err := shippingOf(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		if err := checkCancellable(actor, current, sh); err != nil {
			return err
		}
		if err := s.rc.transitionOrder(ctx, u, current, models.OrderStatusCancelled, ch); err != nil {
			if errors.Is(err, repositories.ErrStatusConflict) {
				return ErrNotCancellable
			}
			return err
		}
		if sh != nil && sh.Status.CanTransitionTo(models.ShippingStatusCancelled) {
			if err := u.r.Shippings().UpdateStatus(ctx, sh.ID, sh.Status, models.ShippingStatusCancelled); err != nil {
				if errors.Is(err, repositories.ErrStatusConflict) {
					return ErrNotCancellable
				}
				return err
			}
		}
		if p, err := paymentOf(ctx, u.r, orderID); err == nil && p != nil && p.Status == models.PaymentStatusCompleted {
			logger.Warn("cancelled order has a completed payment and needs a refund",
				zap.Int64("order_id", orderID), zap.Int64("payment_id", p.ID))
		}
		order = current
		return nil
	})
	if err != nil {
		if carrierCancelled {
			logger.Error("carrier shipment cancelled but local cancellation failed",
				zap.Int64("order_id", orderID), zap.Error(err))
		}
		return nil, wrap(err)
	}
	return order, nil
}

// runCommand applies one staff-driven order transition together with the
// matching shop-delivery shipping and cash-on-delivery payment changes.
func (s *OrderService) runCommand(ctx context.Context, orderID int64, actor models.Actor, to models.OrderStatus) (*models.Order, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	if !actor.IsStaff() {
		return nil, ErrForbidden
	}

	var order *models.Order
	err := s.rc.run(ctx, func(u *unitOfWork) error {
		current, err := loadOrder(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		sh, err := shippingOf(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		if to == models.OrderStatusShipping || to == models.OrderStatusCompleted {
			if sh != nil && sh.IsCarrierManaged() {
				return NewAppError(http.StatusBadRequest, "shipment is managed by the carrier")
			}
			if sh == nil && to == models.OrderStatusShipping {
				return NewAppError(http.StatusBadRequest, "order has no shipment")
			}
		}

		ch := actorChange(models.SourceAdmin, actor)
		if err := s.rc.transitionOrder(ctx, u, current, to, ch); err != nil {
			return err
		}

		if sh != nil && !sh.IsCarrierManaged() {
			var next models.ShippingStatus
			switch to {
			case models.OrderStatusProcessing:
				next = models.ShippingStatusProcessing
			case models.OrderStatusShipping:
				next = models.ShippingStatusShipped
			case models.OrderStatusCompleted:
				next = models.ShippingStatusDelivered
			}
			if next != "" && sh.Status.CanTransitionTo(next) {
				if err := u.r.Shippings().UpdateStatus(ctx, sh.ID, sh.Status, next); err != nil {
					return err
				}
			}
		}

		if to == models.OrderStatusCompleted {
			p, err := paymentOf(ctx, u.r, orderID)
			if err != nil {
				return err
			}
			if p != nil && p.Status == models.PaymentStatusCOD {
				if _, err := s.rc.applyPayment(ctx, u, p, models.PaymentStatusCompleted, repositories.PaymentChange{}, ch); err != nil {
					return err
				}
			}
		}
		order = current
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return order, nil
}

// ConfirmOrder moves a pending order to confirmed, e.g. a verified COD order.
func (s *OrderService) ConfirmOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	return s.runCommand(ctx, orderID, actor, models.OrderStatusConfirmed)
}

// ProcessOrder starts fulfilment of a confirmed order.
func (s *OrderService) ProcessOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	return s.runCommand(ctx, orderID, actor, models.OrderStatusProcessing)
}

// ShipOrder hands a shop-delivered order to the courier.
func (s *OrderService) ShipOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	return s.runCommand(ctx, orderID, actor, models.OrderStatusShipping)
}

// DeliverOrder completes a shop-delivered order and collects cash on delivery.
func (s *OrderService) DeliverOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	return s.runCommand(ctx, orderID, actor, models.OrderStatusCompleted)
}

// RetryOrder puts a failed order back to pending with a fresh payment
// reference and payment URL.
func (s *OrderService) RetryOrder(ctx context.Context, orderID int64, actor models.Actor, clientIP string) (*CheckoutResult, error) {
	if actor.UserID <= 0 {
		return nil, ErrUnauthorized
	}
	order, err := loadOrder(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if !actor.IsStaff() && !actor.Owns(*order) {
		return nil, ErrForbidden
	}
	if err := models.CheckOrderTransition(order.Status, models.OrderStatusPending); err != nil {
		return nil, wrap(err)
	}
	payment, err := paymentOf(ctx, s.repos, orderID)
	if err != nil {
		return nil, wrap(err)
	}
	if payment == nil || payment.Status != models.PaymentStatusFailed {
		return nil, NewAppError(http.StatusConflict, "payment is not in a failed state")
	}

	ref := newTransactionRef(payment.Method, s.now())
	paymentURL, err := s.openPayment(ctx, payment.Method, ref, payment.Amount, order.UserID, clientIP, "")
	if err != nil {
		return nil, wrap(err)
	}

	source := models.SourceCustomer
	if actor.IsStaff() {
		source = models.SourceAdmin
	}
	ch := actorChange(source, actor)
	ch.note = "payment retried"

	var result CheckoutResult
	err = s.rc.run(ctx, func(u *unitOfWork) error {
		current, err := loadOrder(ctx, u.r, orderID)
		if err != nil {
			return err
		}
		if err := s.rc.transitionOrder(ctx, u, current, models.OrderStatusPending, ch); err != nil {
			return err
		}
		if err := u.r.Payments().Rearm(ctx, payment.ID, ref); err != nil {
			return err
		}
		if payment.Method == models.PaymentMethodCOD {
			if err := u.r.Payments().UpdateStatus(ctx, payment.ID, models.PaymentStatusPending, models.PaymentStatusCOD, repositories.PaymentChange{}); err != nil {
				return err
			}
		}
		p, err := u.r.Payments().GetByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		result = CheckoutResult{Order: current, Payment: p, PaymentURL: paymentURL}
		return nil
	})
	if err != nil {
		return nil, wrap(err)
	}
	return &result, nil
}
