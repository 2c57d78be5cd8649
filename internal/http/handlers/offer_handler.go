package handlers

import (
	"github.com/gofiber/fiber/v2"

	applog "fixmarket/internal/log"
	"fixmarket/internal/services"
	"fixmarket/internal/validate"
)

type OfferHandler struct {
	Book    *services.OfferBook
	Arbiter *services.AcceptanceArbiter
	Guard   *services.IdempotencyGuard
}

type submitOfferBody struct {
	Price float64 `json:"price"`
}

func (h *OfferHandler) Submit(c *fiber.Ctx) error {
	act := actor(c)
	requestID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	var body submitOfferBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	if body.Price <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "price must be greater than zero"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	id, replayed, err := h.Guard.Run(key, act.ID, "submit_offer", func() (string, error) {
		offer, err := h.Book.Submit(requestID, act.ID, body.Price)
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "offer.submit", err)
	}

	offer, err := h.Book.Get(id)
	if err != nil {
		return respondError(c, "offer.submit.read", err)
	}
	applog.Audit(c, "offer.submit", map[string]any{"offer_id": offer.ID, "request_id": requestID, "replayed": replayed})
	status := fiber.StatusCreated
	if replayed {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(offer)
}

func (h *OfferHandler) List(c *fiber.Ctx) error {
	requestID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	offers, err := h.Book.List(requestID)
	if err != nil {
		return respondError(c, "offer.list", err)
	}
	return c.JSON(fiber.Map{"offers": offers})
}

func (h *OfferHandler) Accept(c *fiber.Ctx) error {
	act := actor(c)
	requestID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	offerID, ok := validate.ID(c.Params("offerID"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid offer id"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	id, replayed, err := h.Guard.Run(key, act.ID, "accept_offer", func() (string, error) {
		offer, err := h.Arbiter.Accept(requestID, offerID, act.ID)
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "offer.accept", err)
	}

	offer, err := h.Book.Get(id)
	if err != nil {
		return respondError(c, "offer.accept.read", err)
	}
	applog.Audit(c, "offer.accept", map[string]any{"offer_id": offerID, "request_id": requestID, "replayed": replayed})
	return c.JSON(offer)
}

func (h *OfferHandler) Reject(c *fiber.Ctx) error {
	act := actor(c)
	requestID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	offerID, ok := validate.ID(c.Params("offerID"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid offer id"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	_, _, err := h.Guard.Run(key, act.ID, "reject_offer", func() (string, error) {
		offer, err := h.Arbiter.Reject(requestID, offerID, act.ID)
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "offer.reject", err)
	}

	offer, err := h.Book.Get(offerID)
	if err != nil {
		return respondError(c, "offer.reject.read", err)
	}
	applog.Audit(c, "offer.reject", map[string]any{"offer_id": offerID, "request_id": requestID})
	return c.JSON(offer)
}

func (h *OfferHandler) ListForProvider(c *fiber.Ctx) error {
	act := actor(c)
	providerID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid provider id"})
	}
	if act.ID != providerID {
		applog.Security(c, "offer.history.denied", map[string]any{"provider": providerID})
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "not allowed: not your history"})
	}
	offers, err := h.Book.ListByProvider(providerID)
	if err != nil {
		return respondError(c, "offer.history", err)
	}
	return c.JSON(fiber.Map{"offers": offers})
}
