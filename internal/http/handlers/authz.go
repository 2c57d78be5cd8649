package handlers

import (
	"github.com/gofiber/fiber/v2"

	"fixmarket/internal/domain"
	applog "fixmarket/internal/log"
	"fixmarket/internal/validate"
)

// RequireActor resolves the caller from the gateway headers that stand in
// for the auth collaborator: X-Actor-Id and X-Actor-Role. The core trusts
// the gateway; it never verifies credentials itself.
func RequireActor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := validate.ID(c.Get("X-Actor-Id"))
		if !ok {
			applog.Security(c, "actor.missing", nil)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or malformed X-Actor-Id"})
		}
		role, ok := validate.Role(c.Get("X-Actor-Role"))
		if !ok {
			applog.Security(c, "actor.role.invalid", map[string]any{"actor": id})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing or malformed X-Actor-Role"})
		}
		c.Locals("actor_id", id)
		c.Locals("actor_role", role)
		return c.Next()
	}
}

// RequireRole gates a command on the actor's side of the marketplace:
// customers post, cancel and arbitrate; providers bid and advance the work.
// Payment resolution takes either party, so those routes carry no role gate.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if act := actor(c); act.Role != role {
			applog.Security(c, "actor.role.denied", map[string]any{"actor": act.ID, "role": act.Role, "required": role})
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not allowed for role " + act.Role})
		}
		return c.Next()
	}
}

func actor(c *fiber.Ctx) domain.Actor {
	id, _ := c.Locals("actor_id").(string)
	role, _ := c.Locals("actor_role").(string)
	return domain.Actor{ID: id, Role: role}
}
