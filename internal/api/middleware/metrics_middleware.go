package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/marketing-dispatch/internal/metrics"
)

// Metrics counts requests by route pattern, so entry ids do not explode the label set.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}
		metrics.RequestCount.WithLabelValues(c.Route().Path, c.Method(), strconv.Itoa(status)).Inc()
		return err
	}
}
