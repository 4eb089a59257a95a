package auth

import (
	"context"
	"time"
)

// User is an account held by the auth provider.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is the token pair handed to a signed-in user.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

// Provider is the external identity service. Passwords never reach this
// service's storage.
type Provider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
}
