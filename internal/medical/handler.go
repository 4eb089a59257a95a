package medical

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/auth"
)

// Handler exposes the medical assessment endpoint.
type Handler struct {
	svc *Service
}

// NewHandler builds a medical HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Assess accepts multipart "medicaments" or "prescriptions" files.
func (h *Handler) Assess(c *fiber.Ctx) error {
	p, ok := auth.Current(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "multipart form expected")
	}
	medicaments, err := analysis.FromHeaders(form.File["medicaments"])
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	prescriptions, err := analysis.FromHeaders(form.File["prescriptions"])
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.svc.Assess(c.UserContext(), p.ID, medicaments, prescriptions)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(res)
}

const chooseOneMode = "Please upload either medicament pictures OR doctor's prescription"

// httpError maps service errors to the messages shown to applicants.
func httpError(err error) error {
	var failed *AnalysisError
	switch {
	case errors.Is(err, ErrNoInput):
		return fiber.NewError(http.StatusUnprocessableEntity, chooseOneMode)
	case errors.Is(err, ErrBothInputs):
		return fiber.NewError(http.StatusUnprocessableEntity, chooseOneMode+", not both")
	case errors.Is(err, ErrUnsupportedType):
		return fiber.NewError(http.StatusUnsupportedMediaType, err.Error())
	case errors.As(err, &failed):
		return fiber.NewError(http.StatusBadGateway, "Error analyzing "+failed.Category+". Please try again.")
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
