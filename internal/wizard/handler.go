package wizard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/analysis"
	"github.com/mediloan/mediloan/internal/auth"
)

// Handler exposes the draft lifecycle over HTTP.
type Handler struct {
	registry *Registry
}

// NewHandler builds a wizard HTTP handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

func (h *Handler) draft(c *fiber.Ctx) (*Wizard, error) {
	p, ok := auth.Current(c)
	if !ok {
		return nil, fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	w, err := h.registry.Get(c.Params("id"), p.ID)
	if err != nil {
		return nil, httpError(err)
	}
	return w, nil
}

// Create mounts a draft for the sector in the path.
func (h *Handler) Create(c *fiber.Ctx) error {
	p, ok := auth.Current(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	sector, err := ParseSector(c.Params("sector"))
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	w, err := h.registry.Create(p.ID, sector)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(w.Snapshot())
}

// Get returns the draft state.
func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	return c.JSON(w.Snapshot())
}

// Discard drops the draft.
func (h *Handler) Discard(c *fiber.Ctx) error {
	p, ok := auth.Current(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	if err := h.registry.Discard(c.Params("id"), p.ID); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// AddFiles stores the multipart "files" of a category.
func (h *Handler) AddFiles(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	category, err := ParseCategory(c.Params("category"))
	if err != nil {
		return httpError(err)
	}
	form, err := c.MultipartForm()
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "multipart form with files is required")
	}
	files, err := analysis.FromHeaders(form.File["files"])
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	snap, err := w.AddFiles(category, files)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// RemoveFile drops one file of a category.
func (h *Handler) RemoveFile(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	category, err := ParseCategory(c.Params("category"))
	if err != nil {
		return httpError(err)
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "index must be a number")
	}
	snap, err := w.RemoveFile(category, index)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// Preview streams the bytes behind a live preview token.
func (h *Handler) Preview(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	f, err := w.Preview(c.Params("token"))
	if err != nil {
		return httpError(err)
	}
	c.Set(fiber.HeaderContentType, f.MediaType())
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(f.Data)
}

// UpdateFields patches the form values.
func (h *Handler) UpdateFields(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	var patch FieldsPatch
	if err := c.BodyParser(&patch); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	snap, err := w.UpdateFields(patch)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// Continue runs the current step.
func (h *Handler) Continue(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	snap, err := w.Continue(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// Back returns to the previous step.
func (h *Handler) Back(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	snap, err := w.Back()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// SetGuarantor stores the guarantor at :position.
func (h *Handler) SetGuarantor(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	position, err := strconv.Atoi(c.Params("position"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "position must be 1 or 2")
	}
	var g Guarantor
	if err := c.BodyParser(&g); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	snap, err := w.SetGuarantor(position, g)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// ProcessGuarantors analyses the id_1 and id_2 scans.
func (h *Handler) ProcessGuarantors(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	ids := make([]analysis.File, 0, GuarantorCount)
	for _, field := range []string{"id_1", "id_2"} {
		fh, err := c.FormFile(field)
		if err != nil {
			return fiber.NewError(http.StatusUnprocessableEntity, "both guarantor ID scans (id_1, id_2) are required")
		}
		f, err := analysis.FromHeader(fh)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		ids = append(ids, f)
	}
	snap, err := w.ProcessGuarantors(c.UserContext(), ids)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(snap)
}

// Submit performs the single create call and closes the draft.
func (h *Handler) Submit(c *fiber.Ctx) error {
	w, err := h.draft(c)
	if err != nil {
		return err
	}
	res, err := w.Submit(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	h.registry.Sweep()
	return c.Status(http.StatusCreated).JSON(res)
}

func httpError(err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, ErrValidation):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrUnsupportedType):
		return fiber.NewError(http.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, ErrAnalysisFailed), errors.Is(err, ErrSubmissionFailed):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, ErrBusy), errors.Is(err, ErrWrongStep), errors.Is(err, ErrClosed):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
