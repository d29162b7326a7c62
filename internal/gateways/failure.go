package gateways

import (
	"errors"
	"fmt"
)

// Failure codes shared by every provider client. Provider-specific codes
// (e.g. "ZALOPAY_-54", "VNPAY_91", "GHN_400") are built by the clients.
const (
	CodeTimeout   = "TIMEOUT"
	CodeTransport = "TRANSPORT"
	CodeDecode    = "DECODE"
	CodeCancelled = "CANCELLED"
)

// Failure is the only error type returned by outbound provider calls.
type Failure struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s gateway failure [%s]: %s", f.Provider, f.Code, f.Message)
}

// NewFailure builds a *Failure.
func NewFailure(provider, code, message string) *Failure {
	return &Failure{Provider: provider, Code: code, Message: message}
}

// AsFailure extracts a *Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
