package handlers

import (
	"github.com/gofiber/fiber/v2"

	"fixmarket/internal/domain"
	applog "fixmarket/internal/log"
	"fixmarket/internal/services"
	"fixmarket/internal/validate"
)

type WorkflowHandler struct {
	Workflow *services.WorkflowStateMachine
	Book     *services.OfferBook
	Guard    *services.IdempotencyGuard
}

type advanceBody struct {
	Stage string `json:"stage"`
}

func (h *WorkflowHandler) Advance(c *fiber.Ctx) error {
	act := actor(c)
	requestID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request id"})
	}
	offerID, ok := validate.ID(c.Params("offerID"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid offer id"})
	}
	var body advanceBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed body"})
	}
	stage, ok := validate.Stage(body.Stage)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "stage must be IN_PROGRESS or COMPLETED"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	_, replayed, err := h.Guard.Run(key, act.ID, "advance_"+stage, func() (string, error) {
		offer, err := h.Workflow.Advance(requestID, offerID, act.ID, domain.OfferStatus(stage))
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "workflow.advance", err)
	}

	offer, err := h.Book.Get(offerID)
	if err != nil {
		return respondError(c, "workflow.advance.read", err)
	}
	applog.Audit(c, "workflow.advance", map[string]any{"offer_id": offerID, "stage": stage, "replayed": replayed})
	return c.JSON(offer)
}

func (h *WorkflowHandler) ConfirmPayment(c *fiber.Ctx) error {
	act := actor(c)
	offerID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid offer id"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	_, _, err := h.Guard.Run(key, act.ID, "confirm_payment", func() (string, error) {
		offer, err := h.Workflow.ConfirmPayment(offerID, act.ID)
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "payment.confirm", err)
	}

	offer, err := h.Book.Get(offerID)
	if err != nil {
		return respondError(c, "payment.confirm.read", err)
	}
	applog.Audit(c, "payment.confirm", map[string]any{"offer_id": offerID})
	return c.JSON(offer)
}

type disputeBody struct {
	Reason string `json:"reason"`
}

func (h *WorkflowHandler) DisputePayment(c *fiber.Ctx) error {
	act := actor(c)
	offerID, ok := validate.ID(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid offer id"})
	}
	var body disputeBody
	_ = c.BodyParser(&body)
	reason, ok := validate.Reason(body.Reason)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reason is required"})
	}
	key, ok := validate.IdempotencyKey(c.Get("Idempotency-Key"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed Idempotency-Key"})
	}

	_, _, err := h.Guard.Run(key, act.ID, "dispute_payment", func() (string, error) {
		offer, err := h.Workflow.DisputePayment(offerID, act.ID, reason)
		if err != nil {
			return "", err
		}
		return offer.ID, nil
	})
	if err != nil {
		return respondError(c, "payment.dispute", err)
	}

	offer, err := h.Book.Get(offerID)
	if err != nil {
		return respondError(c, "payment.dispute.read", err)
	}
	applog.Audit(c, "payment.dispute", map[string]any{"offer_id": offerID})
	return c.JSON(offer)
}
