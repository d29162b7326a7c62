package services

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"shoporder/internal/gateways/ghn"
	"shoporder/internal/gateways/vnpay"
	"shoporder/internal/gateways/zalopay"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// VNPay IPN response codes.
const (
	VNPayRspOK               = "00"
	VNPayRspOrderNotFound    = "01"
	VNPayRspAlreadyConfirmed = "02"
	VNPayRspInvalidAmount    = "04"
	VNPayRspInvalidSignature = "97"
	VNPayRspUnknown          = "99"
)

// VNPayAck is the body VNPay expects in reply to an IPN.
type VNPayAck struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// ZalopayAck is the body Zalopay expects in reply to a callback.
type ZalopayAck struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// GHNAck is the body returned to GHN webhooks.
type GHNAck struct {
	Message string `json:"message"`
}

// WebhookService verifies provider callbacks and feeds them to the reconciler.
type WebhookService struct {
	rc          *Reconciler
	vnpaySecret string
	zalopayKey2 string
}

// NewWebhookService creates a new WebhookService.
func NewWebhookService(rc *Reconciler, vnpaySecret, zalopayKey2 string) *WebhookService {
	return &WebhookService{rc: rc, vnpaySecret: vnpaySecret, zalopayKey2: zalopayKey2}
}

// HandleVNPayIPN verifies and applies a VNPay IPN. The HTTP status is 200
// for every verdict except structurally missing fields, which get 400.
func (s *WebhookService) HandleVNPayIPN(ctx context.Context, params map[string]string) (VNPayAck, int) {
	ipn, err := vnpay.VerifyIPN(s.vnpaySecret, params)
	switch {
	case errors.Is(err, vnpay.ErrMissingField):
		return VNPayAck{RspCode: VNPayRspUnknown, Message: "Input data required"}, http.StatusBadRequest
	case errors.Is(err, vnpay.ErrInvalidSignature):
		logger.Warn("vnpay ipn rejected: invalid signature", zap.String("txn_ref", params["vnp_TxnRef"]))
		return VNPayAck{RspCode: VNPayRspInvalidSignature, Message: "Invalid signature"}, http.StatusOK
	case err != nil:
		return VNPayAck{RspCode: VNPayRspUnknown, Message: "Unknown error"}, http.StatusOK
	}

	ev := models.PaymentEvent{
		Provider:    models.PaymentProviderVNPay,
		ExternalID:  ipn.TxnRef,
		Status:      models.PaymentStatusFailed,
		Amount:      ipn.Amount,
		ProviderRef: ipn.TransactionNo,
		BankCode:    ipn.BankCode,
		ReportedAt:  ipn.PayDate,
	}
	if ipn.Success() {
		ev.Status = models.PaymentStatusCompleted
	}

	outcome, err := s.rc.ApplyPaymentEvent(ctx, ev)
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		logger.Warn("vnpay ipn for unknown transaction", zap.String("txn_ref", ipn.TxnRef))
		return VNPayAck{RspCode: VNPayRspOrderNotFound, Message: "Order not found"}, http.StatusOK
	case errors.Is(err, ErrAmountMismatch):
		logger.Warn("vnpay ipn amount mismatch", zap.String("txn_ref", ipn.TxnRef), zap.Error(err))
		return VNPayAck{RspCode: VNPayRspInvalidAmount, Message: "Invalid amount"}, http.StatusOK
	case err != nil:
		logger.Error("failed to apply vnpay ipn", zap.String("txn_ref", ipn.TxnRef), zap.Error(err))
		return VNPayAck{RspCode: VNPayRspUnknown, Message: "Unknown error"}, http.StatusOK
	}

	if outcome != OutcomeApplied {
		return VNPayAck{RspCode: VNPayRspAlreadyConfirmed, Message: "Order already confirmed"}, http.StatusOK
	}
	return VNPayAck{RspCode: VNPayRspOK, Message: "Confirm Success"}, http.StatusOK
}

// HandleZalopayCallback verifies the mac before decoding data, then applies
// the reported status.
func (s *WebhookService) HandleZalopayCallback(ctx context.Context, data, mac string) ZalopayAck {
	failed := ZalopayAck{ReturnCode: 0, ReturnMessage: "failed"}

	if err := zalopay.VerifyCallback(s.zalopayKey2, data, mac); err != nil {
		logger.Warn("zalopay callback rejected: invalid mac")
		return failed
	}
	cb, err := zalopay.ParseCallbackData(data)
	if err != nil {
		logger.Warn("zalopay callback rejected: malformed data", zap.Error(err))
		return failed
	}

	ev := models.PaymentEvent{
		Provider:    models.PaymentProviderZalopay,
		ExternalID:  cb.AppTransID,
		Status:      models.PaymentStatusFailed,
		Amount:      decimal.NewFromInt(cb.Amount),
		ProviderRef: strconv.FormatInt(cb.ZPTransID, 10),
	}
	if cb.Success() {
		ev.Status = models.PaymentStatusCompleted
	}
	if cb.ServerTime > 0 {
		ev.ReportedAt = time.UnixMilli(cb.ServerTime)
	}

	if _, err := s.rc.ApplyPaymentEvent(ctx, ev); err != nil {
		logger.Warn("failed to apply zalopay callback", zap.String("app_trans_id", cb.AppTransID), zap.Error(err))
		return failed
	}
	return ZalopayAck{ReturnCode: 1, ReturnMessage: "success"}
}

// HandleGHN applies a GHN status webhook. GHN signs nothing, so a known
// carrier order code is the only acceptance check.
func (s *WebhookService) HandleGHN(ctx context.Context, body []byte) (GHNAck, int) {
	wh, err := ghn.ParseWebhook(body)
	if err != nil {
		return GHNAck{Message: "invalid payload"}, http.StatusBadRequest
	}
	ev, ok := wh.Event()
	if !ok {
		// Unmapped tokens are only acknowledged for shipments we know.
		if _, err := s.rc.FindShippingByCarrierCode(ctx, wh.OrderCode); err != nil {
			return ghnFailure(wh.OrderCode, err)
		}
		logger.Info("ghn status ignored", zap.String("order_code", wh.OrderCode), zap.String("status", wh.Status))
		return GHNAck{Message: "ignored"}, http.StatusOK
	}

	outcome, err := s.rc.ApplyShippingEvent(ctx, ev)
	if err != nil {
		return ghnFailure(wh.OrderCode, err)
	}
	return GHNAck{Message: string(outcome)}, http.StatusOK
}

func ghnFailure(orderCode string, err error) (GHNAck, int) {
	if errors.Is(err, repositories.ErrNotFound) {
		logger.Warn("ghn webhook for unknown order code", zap.String("order_code", orderCode))
		return GHNAck{Message: "shipping not found"}, http.StatusNotFound
	}
	logger.Error("failed to apply ghn webhook", zap.String("order_code", orderCode), zap.Error(err))
	return GHNAck{Message: "internal error"}, http.StatusInternalServerError
}
