package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/medical"
)

// RegisterMedicalRoutes wires the medical needs assessment.
func RegisterMedicalRoutes(r fiber.Router, h *medical.Handler, guard fiber.Handler) {
	r.Group("/medical", guard).Post("/assess", h.Assess)
}
