package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "fixmarket/internal/log"
	"fixmarket/internal/services"
	"fixmarket/internal/validate"
)

type RequestHandler struct {
	Registry *services.RequestRegistry
	Guard    *services.IdempotencyGuard
}

type createRequestBody struct {
	CategoryID  string   `json:"category_id"`
	ServiceIDs  []string `json:"service_ids"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	ImageRefs   []string `json:"image_refs"`
}

func (h *RequestHandler) Create(c *fiber.Ctx) error {
	act := actor(c)

	var body createRequestBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	categoryID, ok := validate.ID(body.CategoryID)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid category_id"})
	}
	serviceIDs, ok := validate.ServiceIDs(body.ServiceIDs)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "service_ids must be a non-empty list of ids"})
	}
	description, ok := validate.Description(body.Description)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "description too long"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	id, replayed, err := h.Guard.Run(key, act.ID, "create_request", func() (string, error) {
		req, err := h.Registry.Create(services.CreateRequestInput{
			CustomerID:  act.ID,
			CategoryID:  categoryID,
			ServiceIDs:  serviceIDs,
			Description: description,
			Location:    body.Location,
			ImageRefs:   body.ImageRefs,
		})
		if err != nil {
			return "", err
		}
		return req.ID, nil
	})
	if err != nil {
		return respondError(c, "request.create", err)
	}

	req, err := h.Registry.Get(id)
	if err != nil {
		return respondError(c, "request.create.read", err)
	}
	applog.Audit(c, "request.create", map[string]any{"request_id": req.ID, "replayed": replayed})
	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(req)
}

func (h *RequestHandler) Get(c *fiber.Ctx) error {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	req, err := h.Registry.Get(id)
	if err != nil {
		return respondError(c, "request.get", err)
	}
	return c.JSON(req)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(c *fiber.Ctx) error {
	act := actor(c)
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	var body cancelBody
	_ = c.BodyParser(&body)
	reason, ok := validate.Reason(body.Reason)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reason is required"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	_, replayed, err := h.Guard.Run(key, act.ID, "cancel_request", func() (string, error) {
		req, err := h.Registry.Cancel(id, act.ID, reason)
		if err != nil {
			return "", err
		}
		return req.ID, nil
	})
	if err != nil {
		return respondError(c, "request.cancel", err)
	}

	req, err := h.Registry.Get(id)
	if err != nil {
		return respondError(c, "request.cancel.read", err)
	}
	applog.Audit(c, "request.cancel", map[string]any{"request_id": id, "replayed": replayed})
	return c.JSON(req)
}

func (h *RequestHandler) ListForCategory(c *fiber.Ctx) error {
	categoryID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid category id"})
	}
	reqs, err := h.Registry.ListPendingForCategory(categoryID)
	if err != nil {
		return respondError(c, "request.list_category", err)
	}
	return c.JSON(fiber.Map{"requests": reqs})
}

func (h *RequestHandler) ActiveForCustomer(c *fiber.Ctx) error {
	act := actor(c)
	customerID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid customer id"})
	}
	if act.ID != customerID {
		applog.Security(c, "request.active.denied", map[string]any{"customer": customerID})
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not allowed: not your feed"})
	}
	req, err := h.Registry.ActiveForCustomer(customerID)
	if err != nil {
		return respondError(c, "request.active", err)
	}
	return c.JSON(req)
}

func (h *RequestHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.Registry.Stats()
	if err != nil {
		return respondError(c, "request.stats", err)
	}
	return c.JSON(fiber.Map{"requests_by_status": stats})
}
