package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Outcome reports what applying a status report did.
type Outcome string

const (
	// OutcomeApplied means the report changed state.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the row already had the reported status.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeStale means the report is not a legal move from the current
	// status, typically because a later report was processed first.
	OutcomeStale Outcome = "stale"
)

// ErrAmountMismatch is returned when a gateway reports an amount different from the payment's.
var ErrAmountMismatch = errors.New("reported amount does not match payment amount")

// OrderEvent is published after a transaction that changed an order commits.
type OrderEvent struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	OrderID    int64               `json:"order_id"`
	UserID     int64               `json:"user_id"`
	From       models.OrderStatus  `json:"from,omitempty"`
	To         models.OrderStatus  `json:"to"`
	Source     models.ChangeSource `json:"source"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// EventPublisher delivers order events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}

// change describes who is causing a status change.
type change struct {
	source  models.ChangeSource
	actorID *int64
	note    string
}

func actorChange(source models.ChangeSource, actor models.Actor) change {
	id := actor.UserID
	return change{source: source, actorID: &id}
}

// unitOfWork carries the state of one reconciler transaction. Events are
// only published once the transaction has committed.
type unitOfWork struct {
	r      repositories.TxRepos
	events []OrderEvent
}

// Reconciler keeps an order's status consistent with its payment and
// shipping. Every mutation runs in one transaction, and every order status
// change goes through transitionOrder.
type Reconciler struct {
	tx        repositories.TxManager
	inventory *InventoryService
	publisher EventPublisher
	now       func() time.Time
}

// NewReconciler creates a new Reconciler. publisher may be nil.
func NewReconciler(tx repositories.TxManager, inventory *InventoryService, publisher EventPublisher) *Reconciler {
	return &Reconciler{
		tx:        tx,
		inventory: inventory,
		publisher: publisher,
		now:       time.Now,
	}
}

// run executes fn in a transaction and publishes the collected events after commit.
func (rc *Reconciler) run(ctx context.Context, fn func(u *unitOfWork) error) error {
	var u *unitOfWork
	err := rc.tx.WithinTx(ctx, func(r repositories.TxRepos) error {
		u = &unitOfWork{r: r}
		return fn(u)
	})
	if err != nil {
		return err
	}
	rc.publish(ctx, u.events)
	return nil
}

func (rc *Reconciler) publish(ctx context.Context, events []OrderEvent) {
	if rc.publisher == nil {
		return
	}
	for _, ev := range events {
		if err := rc.publisher.Publish(ctx, ev.Type, ev); err != nil {
			logger.Warn("failed to publish order event",
				zap.String("type", ev.Type), zap.Int64("order_id", ev.OrderID), zap.Error(err))
		}
	}
}

func (rc *Reconciler) newEvent(order *models.Order, from, to models.OrderStatus, source models.ChangeSource) OrderEvent {
	return OrderEvent{
		ID:         uuid.NewString(),
		Type:       "order." + string(to),
		OrderID:    order.ID,
		UserID:     order.UserID,
		From:       from,
		To:         to,
		Source:     source,
		OccurredAt: rc.now(),
	}
}

// transitionOrder is the only place an order status changes. It checks the
// transition table, performs a compare-and-swap on the current status,
// writes the audit row and restores inventory when the order is cancelled.
func (rc *Reconciler) transitionOrder(ctx context.Context, u *unitOfWork, order *models.Order, to models.OrderStatus, ch change) error {
	from := order.Status
	if err := models.CheckOrderTransition(from, to); err != nil {
		return err
	}
	if err := u.r.Orders().UpdateStatus(ctx, order.ID, from, to); err != nil {
		return err
	}
	order.Status = to
	order.Version++

	if to == models.OrderStatusCancelled {
		items, err := u.r.OrderItems().ListByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := rc.inventory.Restore(ctx, u.r.Products(), StockLinesFromItems(items)); err != nil {
			return err
		}
	}

	entry := &models.OrderStatusLog{
		OrderID:    order.ID,
		FromStatus: from,
		ToStatus:   to,
		Source:     ch.source,
		ActorID:    ch.actorID,
		Kind:       models.LogKindTransition,
		Note:       ch.note,
	}
	if err := u.r.StatusLogs().Create(ctx, entry); err != nil {
		return err
	}

	logger.Info("order status changed",
		zap.Int64("order_id", order.ID), zap.String("from", string(from)),
		zap.String("to", string(to)), zap.String("source", string(ch.source)))
	u.events = append(u.events, rc.newEvent(order, from, to, ch.source))
	return nil
}

// reconcileOrder moves order towards target on behalf of a payment or
// shipping report. A target the order already reached is a no-op. From
// confirmed onwards the order walks forward through each intermediate
// status. Anything the table refuses is recorded as an inconsistency
// instead of failing the report.
func (rc *Reconciler) reconcileOrder(ctx context.Context, u *unitOfWork, order *models.Order, target models.OrderStatus, ch change) error {
	if order.Status == target {
		return nil
	}
	if target.Rank() >= 0 && order.Status.Rank() > target.Rank() {
		return nil
	}

	if order.Status.Rank() >= models.OrderStatusConfirmed.Rank() && target.Rank() > order.Status.Rank() {
		for order.Status.Rank() < target.Rank() {
			next := models.OrderStatuses[order.Status.Rank()+1]
			if err := rc.transitionOrder(ctx, u, order, next, ch); err != nil {
				return err
			}
		}
		return nil
	}

	if err := models.CheckOrderTransition(order.Status, target); err != nil {
		return rc.recordInconsistency(ctx, u, order, target, ch, err)
	}
	return rc.transitionOrder(ctx, u, order, target, ch)
}

func (rc *Reconciler) recordInconsistency(ctx context.Context, u *unitOfWork, order *models.Order, target models.OrderStatus, ch change, cause error) error {
	note := cause.Error()
	if ch.note != "" {
		note = ch.note + ": " + note
	}
	logger.Warn("order status inconsistency",
		zap.Int64("order_id", order.ID), zap.String("status", string(order.Status)),
		zap.String("wanted", string(target)), zap.String("source", string(ch.source)))
	return u.r.StatusLogs().Create(ctx, &models.OrderStatusLog{
		OrderID:    order.ID,
		FromStatus: order.Status,
		ToStatus:   target,
		Source:     ch.source,
		ActorID:    ch.actorID,
		Kind:       models.LogKindInconsistency,
		Note:       note,
	})
}

// amountMatches compares a reported amount with the stored one. Zalopay
// only carries whole dong, so the stored amount is rounded first.
func amountMatches(provider models.PaymentProvider, reported, expected decimal.Decimal) bool {
	switch provider {
	case models.PaymentProviderCOD:
		return true
	case models.PaymentProviderZalopay:
		return reported.Equal(expected.Round(0))
	}
	return reported.Equal(expected)
}

// paymentTarget maps a payment status to the order status it implies.
func paymentTarget(status models.PaymentStatus, order models.OrderStatus) (models.OrderStatus, bool) {
	switch status {
	case models.PaymentStatusCompleted:
		return models.OrderStatusConfirmed, true
	case models.PaymentStatusFailed:
		if order == models.OrderStatusPending {
			return models.OrderStatusFailed, true
		}
	}
	return "", false
}

// shippingTarget maps a shipping status to the order status it implies.
func shippingTarget(status models.ShippingStatus) (models.OrderStatus, bool) {
	switch status {
	case models.ShippingStatusProcessing:
		return models.OrderStatusProcessing, true
	case models.ShippingStatusShipped:
		return models.OrderStatusShipping, true
	case models.ShippingStatusDelivered:
		return models.OrderStatusCompleted, true
	case models.ShippingStatusCancelled:
		return models.OrderStatusCancelled, true
	}
	return "", false
}

func (rc *Reconciler) applyPayment(ctx context.Context, u *unitOfWork, p *models.Payment, next models.PaymentStatus, pc repositories.PaymentChange, ch change) (Outcome, error) {
	if p.Status == next {
		return OutcomeDuplicate, nil
	}
	if !p.Status.CanTransitionTo(next) {
		logger.Info("stale payment status ignored",
			zap.Int64("payment_id", p.ID), zap.String("status", string(p.Status)), zap.String("reported", string(next)))
		return OutcomeStale, nil
	}
	if next == models.PaymentStatusCompleted && pc.PaidAt == nil {
		now := rc.now()
		pc.PaidAt = &now
	}
	if err := u.r.Payments().UpdateStatus(ctx, p.ID, p.Status, next, pc); err != nil {
		return "", err
	}
	p.Status = next

	order, err := u.r.Orders().GetByID(ctx, p.OrderID)
	if err != nil {
		return "", err
	}
	if target, ok := paymentTarget(next, order.Status); ok {
		if err := rc.reconcileOrder(ctx, u, order, target, ch); err != nil {
			return "", err
		}
	}
	return OutcomeApplied, nil
}

func (rc *Reconciler) applyShipping(ctx context.Context, u *unitOfWork, s *models.Shipping, next models.ShippingStatus, ch change) (Outcome, error) {
	if s.Status == next {
		return OutcomeDuplicate, nil
	}
	if !s.Status.CanTransitionTo(next) {
		logger.Info("stale shipping status ignored",
			zap.Int64("shipping_id", s.ID), zap.String("status", string(s.Status)), zap.String("reported", string(next)))
		return OutcomeStale, nil
	}
	if err := u.r.Shippings().UpdateStatus(ctx, s.ID, s.Status, next); err != nil {
		return "", err
	}
	s.Status = next

	// Cash on delivery is collected by whoever delivers the parcel. The
	// payment settles first so a still-pending COD order is confirmed
	// before the order walks forward to completed.
	if next == models.ShippingStatusDelivered {
		p, err := u.r.Payments().GetByOrderID(ctx, s.OrderID)
		if err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return "", err
		}
		if p != nil && p.Status == models.PaymentStatusCOD {
			if _, err := rc.applyPayment(ctx, u, p, models.PaymentStatusCompleted, repositories.PaymentChange{}, ch); err != nil {
				return "", err
			}
		}
	}

	order, err := u.r.Orders().GetByID(ctx, s.OrderID)
	if err != nil {
		return "", err
	}
	if target, ok := shippingTarget(next); ok {
		if err := rc.reconcileOrder(ctx, u, order, target, ch); err != nil {
			return "", err
		}
	}
	return OutcomeApplied, nil
}

// FindShippingByCarrierCode returns the shipment a carrier order code belongs
// to, or repositories.ErrNotFound.
func (rc *Reconciler) FindShippingByCarrierCode(ctx context.Context, code string) (*models.Shipping, error) {
	var out *models.Shipping
	err := rc.tx.WithinTx(ctx, func(r repositories.TxRepos) error {
		s, err := r.Shippings().GetByCarrierOrderCode(ctx, code)
		out = s
		return err
	})
	return out, err
}

// ApplyPaymentStatus records a new status for payment and reconciles its order.
func (rc *Reconciler) ApplyPaymentStatus(ctx context.Context, payment *models.Payment, newStatus models.PaymentStatus) (Outcome, error) {
	if !newStatus.Valid() {
		return "", NewAppError(http.StatusBadRequest, fmt.Sprintf("unknown payment status %q", newStatus))
	}
	var outcome Outcome
	err := rc.run(ctx, func(u *unitOfWork) error {
		current, err := u.r.Payments().GetByOrderID(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		outcome, err = rc.applyPayment(ctx, u, current, newStatus, repositories.PaymentChange{}, change{source: models.SourcePaymentWebhook})
		if err == nil {
			*payment = *current
		}
		return err
	})
	return outcome, err
}

// ApplyShippingStatus records a new status for shipping and reconciles its order.
func (rc *Reconciler) ApplyShippingStatus(ctx context.Context, shipping *models.Shipping, newStatus models.ShippingStatus) (Outcome, error) {
	if !newStatus.Valid() {
		return "", NewAppError(http.StatusBadRequest, fmt.Sprintf("unknown shipping status %q", newStatus))
	}
	var outcome Outcome
	err := rc.run(ctx, func(u *unitOfWork) error {
		current, err := u.r.Shippings().GetByOrderID(ctx, shipping.OrderID)
		if err != nil {
			return err
		}
		outcome, err = rc.applyShipping(ctx, u, current, newStatus, change{source: models.SourceShippingWebhook})
		if err == nil {
			*shipping = *current
		}
		return err
	})
	return outcome, err
}

// ApplyPaymentEvent locates the payment by the gateway transaction reference
// and applies the reported status. Unknown references return
// repositories.ErrNotFound; gateway amounts that differ from the payment
// return ErrAmountMismatch. Neither writes anything.
func (rc *Reconciler) ApplyPaymentEvent(ctx context.Context, ev models.PaymentEvent) (Outcome, error) {
	var outcome Outcome
	err := rc.run(ctx, func(u *unitOfWork) error {
		p, err := u.r.Payments().GetByTransactionID(ctx, ev.ExternalID)
		if err != nil {
			return err
		}
		if !amountMatches(ev.Provider, ev.Amount, p.Amount) {
			return fmt.Errorf("%w: payment %d expects %s, got %s", ErrAmountMismatch, p.ID, p.Amount, ev.Amount)
		}
		pc := repositories.PaymentChange{ProviderRef: ev.ProviderRef, BankCode: ev.BankCode}
		if ev.Status == models.PaymentStatusCompleted && !ev.ReportedAt.IsZero() {
			at := ev.ReportedAt
			pc.PaidAt = &at
		}
		ch := change{source: models.SourcePaymentWebhook, note: fmt.Sprintf("%s reported %s", ev.Provider, ev.Status)}
		outcome, err = rc.applyPayment(ctx, u, p, ev.Status, pc, ch)
		return err
	})
	return outcome, err
}

// ApplyShippingEvent locates the shipment by carrier order code and applies
// the reported status. Unknown codes return repositories.ErrNotFound.
func (rc *Reconciler) ApplyShippingEvent(ctx context.Context, ev models.ShippingEvent) (Outcome, error) {
	var outcome Outcome
	err := rc.run(ctx, func(u *unitOfWork) error {
		s, err := u.r.Shippings().GetByCarrierOrderCode(ctx, ev.ExternalID)
		if err != nil {
			return err
		}
		ch := change{source: models.SourceShippingWebhook, note: fmt.Sprintf("%s reported %s", ev.Provider, ev.CarrierStatus)}
		outcome, err = rc.applyShipping(ctx, u, s, ev.Status, ch)
		return err
	})
	return outcome, err
}
