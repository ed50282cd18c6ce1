package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/marketing-dispatch/internal/models"
	"github.com/maheshrc27/marketing-dispatch/internal/service"
	"github.com/maheshrc27/marketing-dispatch/internal/transfer"
)

type TokenHandler struct {
	s service.TokenService
}

func NewTokenHandler(service service.TokenService) *TokenHandler {
	return &TokenHandler{s: service}
}

func tokenInfo(t *models.ChannelToken) transfer.TokenInfoResponse {
	return transfer.TokenInfoResponse{
		Platform:      t.Platform,
		AccountID:     t.AccountID,
		TokenExpiry:   t.TokenExpiry,
		RefreshStatus: t.RefreshStatus,
		LastRefreshAt: t.LastRefreshAt,
		RefreshError:  t.RefreshError,
		IsActive:      t.IsActive,
	}
}

func (h *TokenHandler) SaveToken(c *fiber.Ctx) error {
	var req transfer.SaveTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	rec, err := h.s.SaveToken(c.Context(), GetStoreID(c), &req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": tokenInfo(rec)})
}

func (h *TokenHandler) GetTokenInfo(c *fiber.Ctx) error {
	rec, err := h.s.GetTokenInfo(c.Context(), GetStoreID(c), c.Params("platform"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": tokenInfo(rec)})
}

func (h *TokenHandler) RefreshToken(c *fiber.Ctx) error {
	storeID, platform := GetStoreID(c), c.Params("platform")
	if _, err := h.s.ForceRefresh(c.Context(), storeID, platform); err != nil {
		return errorResponse(c, err)
	}

	rec, err := h.s.GetTokenInfo(c.Context(), storeID, platform)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "data": tokenInfo(rec)})
}

func (h *TokenHandler) RemoveToken(c *fiber.Ctx) error {
	if err := h.s.RemoveToken(c.Context(), GetStoreID(c), c.Params("platform")); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "token removed"})
}
