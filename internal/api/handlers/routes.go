package handlers

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the queue and token endpoints on an authenticated group.
func RegisterRoutes(api fiber.Router, marketing *MarketingHandler, tokens *TokenHandler) {
	queue := api.Group("/marketing")
	queue.Post("/queue", marketing.CreateEntry)
	queue.Get("/queue", marketing.ListEntries)
	queue.Get("/pending", marketing.ListPending)
	queue.Get("/queue/:id", marketing.GetEntry)
	queue.Post("/queue/:id/approve", marketing.ApproveEntry)
	queue.Post("/queue/:id/reject", marketing.RejectEntry)
	queue.Post("/queue/:id/retry", marketing.RetryEntry)
	queue.Get("/queue/:id/deliveries", marketing.ListDeliveries)
	queue.Delete("/queue/:id", marketing.DeleteEntry)

	api.Post("/tokens", tokens.SaveToken)
	api.Get("/tokens/:platform", tokens.GetTokenInfo)
	api.Post("/tokens/:platform/refresh", tokens.RefreshToken)
	api.Delete("/tokens/:platform", tokens.RemoveToken)
}
