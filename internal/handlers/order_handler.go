package handlers

import (
	"context"

	"shoporder/internal/middleware"
	"shoporder/internal/models"
	"shoporder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// OrderHandler handles HTTP requests for orders.
type OrderHandler struct {
	service *services.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(service *services.OrderService) *OrderHandler {
	return &OrderHandler{
		service: service,
	}
}

// RegisterRoutes registers the customer order routes.
func (h *OrderHandler) RegisterRoutes(router fiber.Router) {
	orderRoutes := router.Group("/orders")
	orderRoutes.Post("/", h.HandleCreateOrder)
	orderRoutes.Get("/:id", h.HandleGetOrder)
	orderRoutes.Post("/:id/cancel", h.HandleCancelOrder)
	orderRoutes.Post("/:id/retry", h.HandleRetryOrder)
}

// RegisterAdminRoutes registers the staff order commands.
func (h *OrderHandler) RegisterAdminRoutes(router fiber.Router) {
	adminRoutes := router.Group("/admin/orders", middleware.StaffOnly())
	adminRoutes.Post("/:id/confirm", h.command(h.service.ConfirmOrder))
	adminRoutes.Post("/:id/process", h.command(h.service.ProcessOrder))
	adminRoutes.Post("/:id/ship", h.command(h.service.ShipOrder))
	adminRoutes.Post("/:id/deliver", h.command(h.service.DeliverOrder))
	adminRoutes.Post("/:id/cancel", h.HandleCancelOrder)
}

// HandleCreateOrder checks out the caller's cart.
func (h *OrderHandler) HandleCreateOrder(c *fiber.Ctx) error {
	var in services.CheckoutInput
	if err := c.BodyParser(&in); err != nil {
		return badRequest(c, "Invalid request body")
	}
	in.ClientIP = c.IP()

	result, err := h.service.CreateOrderFromCart(c.UserContext(), middleware.CurrentActor(c), in)
	return respond(c, fiber.StatusCreated, result, err)
}

// HandleGetOrder returns an order with its payment, shipping and history.
func (h *OrderHandler) HandleGetOrder(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid order id")
	}
	detail, err := h.service.GetOrder(c.UserContext(), id, middleware.CurrentActor(c))
	return respond(c, fiber.StatusOK, detail, err)
}

// HandleCancelOrder cancels an order on behalf of its owner or staff.
func (h *OrderHandler) HandleCancelOrder(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid order id")
	}
	order, err := h.service.CancelOrder(c.UserContext(), id, middleware.CurrentActor(c))
	return respond(c, fiber.StatusOK, order, err)
}

// HandleRetryOrder re-opens payment for a failed order.
func (h *OrderHandler) HandleRetryOrder(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "Invalid order id")
	}
	result, err := h.service.RetryOrder(c.UserContext(), id, middleware.CurrentActor(c), c.IP())
	return respond(c, fiber.StatusOK, result, err)
}

type orderCommand func(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error)

func (h *OrderHandler) command(run orderCommand) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := paramID(c, "id")
		if !ok {
			return badRequest(c, "Invalid order id")
		}
		order, err := run(c.UserContext(), id, middleware.CurrentActor(c))
		return respond(c, fiber.StatusOK, order, err)
	}
}
