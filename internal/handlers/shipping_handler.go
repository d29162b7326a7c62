package handlers

import (
	"shoporder/internal/middleware"
	"shoporder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ShippingHandler handles shipment creation, fee quotes and address master data.
type ShippingHandler struct {
	service *services.ShippingService
}

// NewShippingHandler creates a new ShippingHandler.
func NewShippingHandler(service *services.ShippingService) *ShippingHandler {
	return &ShippingHandler{service: service}
}

// RegisterRoutes registers the shipping routes.
func (h *ShippingHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/orders/:id/shipping", h.HandleCreateShipping)

	shippingRoutes := router.Group("/shipping")
	shippingRoutes.Post("/fee", h.HandleCalculateFee)
	shippingRoutes.Get("/provinces", h.HandleProvinces)
	shippingRoutes.Get("/districts", h.HandleDistricts)
	shippingRoutes.Get("/wards", h.HandleWards)
}

func (h *ShippingHandler) HandleCreateShipping(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid order id")
	}
	var in services.CreateShippingInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}
	shipping, err := h.service.CreateShipping(c.UserContext(), id, middleware.CurrentActor(c), in)
	return respond(c, fiber.StatusCreated, shipping, err)
}

func (h *ShippingHandler) HandleCalculateFee(c *fiber.Ctx) error {
	var in services.FeeInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}
	fee, err := h.service.CalculateShippingFee(c.UserContext(), in)
	return respond(c, fiber.StatusOK, fee, err)
}

func (h *ShippingHandler) HandleProvinces(c *fiber.Ctx) error {
	out, err := h.service.Provinces(c.UserContext())
	return respond(c, fiber.StatusOK, out, err)
}

func (h *ShippingHandler) HandleDistricts(c *fiber.Ctx) error {
	out, err := h.service.Districts(c.UserContext(), c.QueryInt("province_id"))
	return respond(c, fiber.StatusOK, out, err)
}

func (h *ShippingHandler) HandleWards(c *fiber.Ctx) error {
	out, err := h.service.Wards(c.UserContext(), c.QueryInt("district_id"))
	return respond(c, fiber.StatusOK, out, err)
}
