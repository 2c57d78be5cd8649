package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"fixmarket/internal/domain"
	applog "fixmarket/internal/log"
)

// respondError maps the engine's typed errors onto HTTP statuses. Conflicts
// are surfaced as "no longer available, refresh" so clients re-query.
func respondError(c *fiber.Ctx, action string, err error) error {
	var (
		ve *domain.ValidationError
		ne *domain.NotFoundError
		ae *domain.AuthorizationError
		ce *domain.ConflictError
		te *domain.TransientError
	)
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Error()})
	case errors.As(err, &ne):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": ne.Error()})
	case errors.As(err, &ae):
		applog.Security(c, action+".denied", map[string]any{"reason": ae.Msg})
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": ae.Error()})
	case errors.As(err, &ce):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": ce.Error()})
	case errors.As(err, &te):
		applog.Error(c, action+".transient", err, nil)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "temporarily unavailable, retry with the same idempotency key"})
	default:
		applog.Error(c, action+".fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
