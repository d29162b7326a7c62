package handlers

import (
	"net/http"
	"strconv"

	"shoporder/internal/services"

	"github.com/gofiber/fiber/v2"
)

// respond writes the {code, message, data} envelope with a transport status
// mirroring code. ok is the status used on success.
func respond(c *fiber.Ctx, ok int, data interface{}, err error) error {
	env := services.Envelope(data, err)
	if err == nil {
		env.Code = ok
	}
	return c.Status(env.Code).JSON(env)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return respond(c, http.StatusOK, nil, services.NewAppError(http.StatusBadRequest, msg))
}

// paramID reads a positive integer path parameter.
func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
