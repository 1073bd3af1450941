package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/benefitpay/benefits/internal/benefits"
)

// RegisterBenefitRoutes wires benefit and transfer endpoints.
func RegisterBenefitRoutes(r fiber.Router, h *benefits.Handler) {
	r.Get("/benefits/:id", h.Get)
	r.Post("/transfers", h.Transfer)
	r.Get("/transfers", h.History)
}
