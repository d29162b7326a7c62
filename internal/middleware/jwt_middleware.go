package middleware

import (
	"strings"

	"shoporder/internal/models"
	"shoporder/internal/services"
	"shoporder/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ActorKey is the fiber.Ctx Locals key holding the authenticated models.Actor.
const ActorKey = "actor"

// AuthRequired is a Fiber middleware to check for a valid JWT token.
func AuthRequired(authService *services.AuthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(services.Response{
				Code:    fiber.StatusUnauthorized,
				Message: "Authorization header is required",
			})
		}

		// Expected format: "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if !(len(parts) == 2 && parts[0] == "Bearer") {
			return c.Status(fiber.StatusUnauthorized).JSON(services.Response{
				Code:    fiber.StatusUnauthorized,
				Message: "Authorization header format must be 'Bearer <token>'",
			})
		}

		actor, err := authService.ValidateToken(parts[1])
		if err != nil {
			logger.Info("jwt rejected", zap.String("path", c.Path()), zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(services.Response{
				Code:    fiber.StatusUnauthorized,
				Message: "Invalid or expired token",
			})
		}

		c.Locals(ActorKey, actor)
		return c.Next()
	}
}

// StaffOnly rejects actors without a back-office role. It must run after AuthRequired.
func StaffOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !CurrentActor(c).IsStaff() {
			return c.Status(fiber.StatusForbidden).JSON(services.Response{
				Code:    fiber.StatusForbidden,
				Message: "forbidden",
			})
		}
		return c.Next()
	}
}

// CurrentActor returns the authenticated actor, or the zero Actor.
func CurrentActor(c *fiber.Ctx) models.Actor {
	actor, _ := c.Locals(ActorKey).(models.Actor)
	return actor
}
