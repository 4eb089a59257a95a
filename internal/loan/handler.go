package loan

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/mediloan/mediloan/internal/auth"
)

const streamKeepAlive = 15 * time.Second

// Handler exposes the review and repayment surfaces.
type Handler struct {
	svc *Service
}

// NewHandler builds a loan HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func principal(c *fiber.Ctx) (auth.Principal, error) {
	p, ok := auth.Current(c)
	if !ok {
		return auth.Principal{}, fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	return p, nil
}

// PastLoans lists the caller's applications.
func (h *Handler) PastLoans(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	apps, err := h.svc.PastLoans(c.UserContext(), p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"loans": apps})
}

// ActiveLoans lists the caller's approved loans with days until due.
func (h *Handler) ActiveLoans(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	loans, err := h.svc.ActiveLoans(c.UserContext(), p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"loans": loans})
}

type payRequest struct {
	Amount float64 `json:"amount"`
}

// Pay repays one of the caller's approved loans.
func (h *Handler) Pay(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req payRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	receipt, err := h.svc.Pay(c.UserContext(), p.ID, c.Params("id"), req.Amount)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(receipt)
}

// Dashboard lists every application for staff.
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	entries, err := h.svc.Dashboard(c.UserContext(), c.Query("sort"), c.Query("order"), c.Query("q"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"applications": entries})
}

// Stats returns the dashboard counters.
func (h *Handler) Stats(c *fiber.Ctx) error {
	stats, err := h.svc.Stats(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(stats)
}

// Review returns the full record of one application.
func (h *Handler) Review(c *fiber.Ctx) error {
	review, err := h.svc.Review(c.UserContext(), c.Params("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(review)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus sets the reviewer decision.
func (h *Handler) UpdateStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	app, err := h.svc.UpdateStatus(c.UserContext(), c.Params("id"), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(app)
}

// Stream relays application changes as server-sent events until the client
// goes away.
func (h *Handler) Stream(c *fiber.Ctx) error {
	ctx, cancel := context.WithCancel(context.Background())
	changes, err := h.svc.Subscribe(ctx)
	if err != nil {
		cancel()
		return fiber.NewError(http.StatusServiceUnavailable, "change feed unavailable")
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}
		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case change, ok := <-changes:
				if !ok {
					return
				}
				data, err := json.Marshal(change)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Op, data)
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}))
	return nil
}

func httpError(err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrInvalidID),
		errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidQuery):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicate):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
