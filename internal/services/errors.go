package services

import (
	"errors"
	"fmt"
	"net/http"

	"shoporder/internal/gateways"
	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"go.uber.org/zap"
)

// AppError is an error carrying the HTTP-style code reported to callers.
type AppError struct {
	Code    int
	Message string
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%d: %s", e.Code, e.Message)
}

// NewAppError builds an *AppError.
func NewAppError(code int, message string) error {
	return &AppError{Code: code, Message: message}
}

// AsAppError extracts an *AppError from err's chain.
func AsAppError(err error) (*AppError, bool) {
	var ae *AppError
	ok := errors.As(err, &ae)
	return ae, ok
}

var (
	ErrUnauthorized      = NewAppError(http.StatusUnauthorized, "unauthorized")
	ErrForbidden         = NewAppError(http.StatusForbidden, "forbidden")
	ErrOrderNotFound     = NewAppError(http.StatusNotFound, "order not found")
	ErrNotCancellable    = NewAppError(http.StatusConflict, "order no longer cancellable")
	ErrCartEmpty         = NewAppError(http.StatusBadRequest, "cart is empty")
	ErrInsufficientStock = NewAppError(http.StatusBadRequest, "insufficient stock")
	ErrInternal          = NewAppError(http.StatusInternalServerError, "internal error")
)

// toAppError classifies err for callers. Unknown errors are logged and
// reported as a bare 500 so details never leak.
func toAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := AsAppError(err); ok {
		return ae
	}
	if f, ok := gateways.AsFailure(err); ok {
		return &AppError{Code: http.StatusBadGateway, Message: f.Message}
	}
	var ite *models.IllegalTransitionError
	if errors.As(err, &ite) {
		return &AppError{Code: http.StatusConflict, Message: ite.Error()}
	}
	switch {
	case errors.Is(err, repositories.ErrStatusConflict):
		return &AppError{Code: http.StatusConflict, Message: "status changed concurrently"}
	case errors.Is(err, repositories.ErrNotFound):
		return &AppError{Code: http.StatusNotFound, Message: "not found"}
	case errors.Is(err, models.ErrCarrierCodeRequired), errors.Is(err, models.ErrCarrierCodeForbidden):
		return &AppError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	logger.Error("unclassified error", zap.Error(err))
	return ErrInternal.(*AppError)
}

// Response is the {code, message, data} envelope returned to API callers.
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Envelope wraps a service result. A nil err yields code 200.
func Envelope(data interface{}, err error) Response {
	if err != nil {
		ae := toAppError(err)
		return Response{Code: ae.Code, Message: ae.Message}
	}
	return Response{Code: http.StatusOK, Message: "success", Data: data}
}
