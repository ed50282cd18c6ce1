package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/marketing-dispatch/internal/apperrors"
)

func GetStoreID(c *fiber.Ctx) string {
	storeID, _ := c.Locals("store_id").(string)
	return storeID
}

func GetUserID(c *fiber.Ctx) string {
	userID, _ := c.Locals("user_id").(string)
	return userID
}

// errorResponse maps the error taxonomy onto a status code and a stable code string.
func errorResponse(c *fiber.Ctx, err error) error {
	status := apperrors.HTTPStatus(err)
	message := err.Error()
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed",
			slog.String("path", c.Path()),
			slog.String("method", c.Method()),
			slog.Any("error", err))
	}
	if status == fiber.StatusInternalServerError {
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    apperrors.Code(err),
			"message": message,
		},
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"code":    apperrors.CodeValidation,
			"message": message,
		},
	})
}
