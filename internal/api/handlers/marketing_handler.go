package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
)

type MarketingHandler struct {
	s service.MarketingService
}

func NewMarketingHandler(service service.MarketingService) *MarketingHandler {
	return &MarketingHandler{s: service}
}

func (h *MarketingHandler) CreateEntry(c *fiber.Ctx) error {
	var req transfer.CreateEntryRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	entry, err := h.s.Create(c.Context(), GetStoreID(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    entry,
	})
}

func (h *MarketingHandler) ListEntries(c *fiber.Ctx) error {
	entries, err := h.s.List(c.Context(), GetStoreID(c), c.Query("status"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entries})
}

func (h *MarketingHandler) ListPending(c *fiber.Ctx) error {
	entries, err := h.s.ListPending(c.Context(), GetStoreID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entries})
}

func (h *MarketingHandler) GetEntry(c *fiber.Ctx) error {
	entry, err := h.s.Get(c.Context(), GetStoreID(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entry})
}

func (h *MarketingHandler) ApproveEntry(c *fiber.Ctx) error {
	entry, err := h.s.Approve(c.Context(), GetStoreID(c), c.Params("id"), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entry})
}

func (h *MarketingHandler) RejectEntry(c *fiber.Ctx) error {
	var req transfer.RejectEntryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	entry, err := h.s.Reject(c.Context(), GetStoreID(c), c.Params("id"), GetUserID(c), req.Reason)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entry})
}

func (h *MarketingHandler) RetryEntry(c *fiber.Ctx) error {
	entry, err := h.s.Retry(c.Context(), GetStoreID(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": entry})
}

func (h *MarketingHandler) DeleteEntry(c *fiber.Ctx) error {
	if err := h.s.Delete(c.Context(), GetStoreID(c), c.Params("id")); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "entry deleted"})
}

func (h *MarketingHandler) ListDeliveries(c *fiber.Ctx) error {
	logs, err := h.s.Deliveries(c.Context(), GetStoreID(c), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": logs})
}
