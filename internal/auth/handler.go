package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes sign-up, sign-in, sign-out and profile endpoints.
type Handler struct {
	svc *Service
}

// NewHandler builds an auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

// SignUp registers a new applicant.
func (h *Handler) SignUp(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.svc.SignUp(c.UserContext(), SignUpInput{Email: req.Email, Password: req.Password, FullName: req.FullName})
	if err != nil {
		return authError(err)
	}
	return c.Status(http.StatusCreated).JSON(account)
}

// SignIn returns a session for valid credentials.
func (h *Handler) SignIn(c *fiber.Ctx) error {
	var req credentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := h.svc.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return authError(err)
	}
	return c.Status(http.StatusOK).JSON(account)
}

// SignOut ends the caller's session.
func (h *Handler) SignOut(c *fiber.Ctx) error {
	p, ok := Current(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	if err := h.svc.SignOut(c.UserContext(), p.AccessToken); err != nil {
		return fiber.NewError(http.StatusBadGateway, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "signed_out"})
}

// Me returns the caller's profile and role.
func (h *Handler) Me(c *fiber.Ctx) error {
	p, ok := Current(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "authentication required")
	}
	profile, err := h.svc.Me(c.UserContext(), p)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"id":        p.ID,
		"email":     p.Email,
		"full_name": profile.FullName,
		"admin":     p.Admin,
	})
}

// authError keeps auth failures on 4xx so clients can show the message inline.
func authError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return fiber.NewError(http.StatusUnauthorized, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrUserExists):
		return fiber.NewError(http.StatusConflict, ErrUserExists.Error())
	case errors.Is(err, ErrWeakPassword):
		return fiber.NewError(http.StatusUnprocessableEntity, ErrWeakPassword.Error())
	default:
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
}
