package handlers

import (
	"shoporder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// WebhookHandler receives provider callbacks. Its routes must be mounted
// outside the authenticated group.
type WebhookHandler struct {
	service *services.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// RegisterRoutes registers the webhook routes.
func (h *WebhookHandler) RegisterRoutes(router fiber.Router) {
	webhooks := router.Group("/webhooks")
	webhooks.Get("/vnpay-ipn", h.HandleVNPayIPN)
	webhooks.Post("/vnpay-ipn", h.HandleVNPayIPN)
	webhooks.Post("/zalopay/callback", h.HandleZalopayCallback)
	webhooks.Post("/ghn", h.HandleGHN)
}

// HandleVNPayIPN accepts the IPN as query string or form body.
func (h *WebhookHandler) HandleVNPayIPN(c *fiber.Ctx) error {
	params := c.Queries()
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		params[string(k)] = string(v)
	})
	ack, status := h.service.HandleVNPayIPN(c.UserContext(), params)
	return c.Status(status).JSON(ack)
}

type zalopayCallbackBody struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

func (h *WebhookHandler) HandleZalopayCallback(c *fiber.Ctx) error {
	var body zalopayCallbackBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusOK).JSON(services.ZalopayAck{ReturnCode: 0, ReturnMessage: "failed"})
	}
	return c.Status(fiber.StatusOK).JSON(h.service.HandleZalopayCallback(c.UserContext(), body.Data, body.Mac))
}

func (h *WebhookHandler) HandleGHN(c *fiber.Ctx) error {
	ack, status := h.service.HandleGHN(c.UserContext(), c.Body())
	return c.Status(status).JSON(ack)
}
