package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediloan/mediloan/internal/auth"
)

// RegisterAuthRoutes wires the public authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/signup", h.SignUp)
	if rateLimiter != nil {
		group.Post("/signin", rateLimiter, h.SignIn)
	} else {
		group.Post("/signin", h.SignIn)
	}
}

// RegisterSessionRoutes wires the endpoints that need a signed-in caller.
func RegisterSessionRoutes(r fiber.Router, h *auth.Handler) {
	r.Post("/auth/signout", h.SignOut)
	r.Get("/me", h.Me)
}
