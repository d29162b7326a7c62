package ghn

import (
	"encoding/json"
	"errors"
	"strings"

	"shoporder/internal/models"
)

// ErrMalformedWebhook is returned when a webhook body lacks order_code or status.
var ErrMalformedWebhook = errors.New("ghn: malformed webhook")

var statusMap = map[string]models.ShippingStatus{
	"ready_to_pick":            models.ShippingStatusPending,
	"picking":                  models.ShippingStatusProcessing,
	"picked":                   models.ShippingStatusProcessing,
	"money_collect_picking":    models.ShippingStatusProcessing,
	"storing":                  models.ShippingStatusShipped,
	"transporting":             models.ShippingStatusShipped,
	"sorting":                  models.ShippingStatusShipped,
	"delivering":               models.ShippingStatusShipped,
	"money_collect_delivering": models.ShippingStatusShipped,
	"delivery_fail":            models.ShippingStatusShipped,
	"waiting_to_return":        models.ShippingStatusShipped,
	"delivered":                models.ShippingStatusDelivered,
	"cancel":                   models.ShippingStatusCancelled,
	"cancelled":                models.ShippingStatusCancelled,
	"returned":                 models.ShippingStatusCancelled,
}

// MapStatus translates a GHN status token into the internal shipping
// vocabulary. Tokens such as exception, damage or lost have no mapping and
// report false; callers acknowledge and ignore them.
func MapStatus(token string) (models.ShippingStatus, bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if s, ok := statusMap[token]; ok {
		return s, true
	}
	// return, returning, return_transporting, return_sorting, return_fail:
	// the parcel is still moving, back towards the shop.
	if strings.HasPrefix(token, "return") {
		return models.ShippingStatusShipped, true
	}
	return "", false
}

// Webhook is a parsed GHN status callback.
type Webhook struct {
	OrderCode       string
	Status          string
	ClientOrderCode string
	Reason          string
	Type            string
}

type webhookBody struct {
	OrderCode       string `json:"order_code"`
	OrderCodeAlt    string `json:"OrderCode"`
	Status          string `json:"status"`
	ClientOrderCode string `json:"ClientOrderCode"`
	Reason          string `json:"Reason"`
	Type            string `json:"Type"`
}

// ParseWebhook decodes a webhook body. GHN sends no signature; the caller
// must still check the order code against known shipments.
func ParseWebhook(body []byte) (*Webhook, error) {
	var b webhookBody
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, ErrMalformedWebhook
	}
	code := b.OrderCode
	if code == "" {
		code = b.OrderCodeAlt
	}
	status := strings.ToLower(strings.TrimSpace(b.Status))
	if code == "" || status == "" {
		return nil, ErrMalformedWebhook
	}
	return &Webhook{
		OrderCode:       code,
		Status:          status,
		ClientOrderCode: b.ClientOrderCode,
		Reason:          b.Reason,
		Type:            b.Type,
	}, nil
}

// Event converts a webhook into a ShippingEvent. ok is false for unmapped statuses.
func (w Webhook) Event() (models.ShippingEvent, bool) {
	status, ok := MapStatus(w.Status)
	if !ok {
		return models.ShippingEvent{}, false
	}
	return models.ShippingEvent{
		Provider:      models.ShippingProviderGHN,
		ExternalID:    w.OrderCode,
		Status:        status,
		CarrierStatus: w.Status,
	}, true
}
