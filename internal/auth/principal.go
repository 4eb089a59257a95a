package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrUserExists         = errors.New("User already registered")
	ErrWeakPassword       = errors.New("Password should be at least 6 characters")
)

const principalKey = "auth_principal"

// Principal is the authenticated caller.
type Principal struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Admin       bool   `json:"admin"`
	AccessToken string `json:"-"`
}

// Current returns the principal stored by Authenticate.
func Current(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalKey).(Principal)
	return p, ok && p.ID != ""
}

// Authenticate verifies the bearer token and stores the principal. isAdmin
// decides the staff role from the token email; revoked, when set, rejects
// signed-out tokens.
func Authenticate(secret []byte, isAdmin func(email string) bool, revoked func(token string) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		// The principal outlives the request when the token is revoked on
		// sign-out, so it must not alias the header buffer.
		token := utils.CopyString(strings.TrimSpace(authz[len("bearer "):]))
		claims, err := ParseAccessToken(secret, token)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if revoked != nil && revoked(token) {
			return fiber.NewError(http.StatusUnauthorized, "token revoked")
		}
		p := Principal{ID: claims.Subject, Email: strings.ToLower(claims.Email), AccessToken: token}
		if isAdmin != nil {
			p.Admin = isAdmin(p.Email)
		}
		c.Locals(principalKey, p)
		return c.Next()
	}
}

// RequireAdmin only lets staff through.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := Current(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "authentication required")
		}
		if !p.Admin {
			return fiber.NewError(http.StatusForbidden, "staff access required")
		}
		return c.Next()
	}
}

// RequireApplicant keeps staff accounts out of applicant surfaces.
func RequireApplicant() fiber.Handler {
	return func(c *fiber.Ctx) error {
		p, ok := Current(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "authentication required")
		}
		if p.Admin {
			return fiber.NewError(http.StatusForbidden, "staff accounts cannot use applicant features")
		}
		return c.Next()
	}
}
