package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/loan"
)

// RegisterLoanRoutes wires the applicant loan history and repayment endpoints.
func RegisterLoanRoutes(r fiber.Router, h *loan.Handler, guard, idem fiber.Handler) {
	group := r.Group("/loans", guard)
	group.Get("", h.PastLoans)
	group.Get("/active", h.ActiveLoans)
	group.Post("/:id/pay", idem, h.Pay)
}

// RegisterAdminRoutes wires the staff dashboard and review endpoints.
func RegisterAdminRoutes(r fiber.Router, h *loan.Handler) {
	r.Get("/stats", h.Stats)
	r.Get("/applications", h.Dashboard)
	r.Get("/applications/stream", h.Stream)
	r.Get("/applications/:id", h.Review)
	r.Patch("/applications/:id/status", h.UpdateStatus)
}
