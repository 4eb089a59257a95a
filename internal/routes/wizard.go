package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/wizard"
)

// RegisterWizardRoutes wires the loan application wizard under its own
// prefixes, each behind guard. idem guards the final submission.
func RegisterWizardRoutes(r fiber.Router, h *wizard.Handler, guard, idem fiber.Handler) {
	r.Group("/loan/request", guard).Post("/:sector", h.Create)

	drafts := r.Group("/drafts", guard).Group("/:id")
	drafts.Get("", h.Get)
	drafts.Delete("", h.Discard)
	drafts.Post("/files/:category", h.AddFiles)
	drafts.Delete("/files/:category/:index", h.RemoveFile)
	drafts.Get("/previews/:token", h.Preview)
	drafts.Patch("/fields", h.UpdateFields)
	drafts.Post("/continue", h.Continue)
	drafts.Post("/back", h.Back)
	drafts.Put("/guarantors/:position", h.SetGuarantor)
	drafts.Post("/guarantors/process", h.ProcessGuarantors)
	drafts.Post("/submit", idem, h.Submit)
}
