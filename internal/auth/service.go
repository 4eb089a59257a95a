package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// Service fronts the auth provider and keeps profiles in step with it.
type Service struct {
	provider Provider
	profiles ProfileRepository
	isAdmin  func(email string) bool
	logger   *slog.Logger
}

// NewService builds the auth service.
func NewService(provider Provider, profiles ProfileRepository, isAdmin func(string) bool, logger *slog.Logger) *Service {
	return &Service{provider: provider, profiles: profiles, isAdmin: isAdmin, logger: logger}
}

// SignUpInput captures a registration.
type SignUpInput struct {
	Email    string
	Password string
	FullName string
}

// Account is a session plus the caller's profile and role.
type Account struct {
	Session Session `json:"session"`
	Profile Profile `json:"profile"`
	Admin   bool    `json:"admin"`
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email address", ErrInvalidCredentials)
	}
	return strings.ToLower(addr.Address), nil
}

// SignUp creates the provider account and its profile. The full name
// defaults to the local part of the email.
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (Account, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return Account{}, err
	}
	if len(in.Password) < MinPasswordLength {
		return Account{}, ErrWeakPassword
	}
	fullName := strings.TrimSpace(in.FullName)
	if fullName == "" {
		fullName = strings.SplitN(email, "@", 2)[0]
	}

	session, err := s.provider.SignUp(ctx, email, in.Password, map[string]any{"full_name": fullName})
	if err != nil {
		return Account{}, err
	}
	profile := Profile{ID: session.User.ID, Email: email, FullName: fullName, CreatedAt: time.Now().UTC()}
	if err := s.profiles.Upsert(ctx, profile); err != nil {
		return Account{}, fmt.Errorf("create profile: %w", err)
	}
	s.logger.Info("account created", slog.String("user_id", profile.ID))
	return Account{Session: session, Profile: profile, Admin: s.admin(email)}, nil
}

// SignIn exchanges credentials for a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Account, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Account{}, ErrInvalidCredentials
	}
	session, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		return Account{}, err
	}
	profile, err := s.profiles.Get(ctx, session.User.ID)
	if errors.Is(err, ErrProfileNotFound) {
		profile = Profile{ID: session.User.ID, Email: email, FullName: strings.SplitN(email, "@", 2)[0], CreatedAt: time.Now().UTC()}
		if err := s.profiles.Upsert(ctx, profile); err != nil {
			return Account{}, fmt.Errorf("create profile: %w", err)
		}
	} else if err != nil {
		return Account{}, err
	}
	return Account{Session: session, Profile: profile, Admin: s.admin(email)}, nil
}

// SignOut ends the session behind accessToken.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	return s.provider.SignOut(ctx, accessToken)
}

// Me returns the profile of the principal.
func (s *Service) Me(ctx context.Context, p Principal) (Profile, error) {
	profile, err := s.profiles.Get(ctx, p.ID)
	if errors.Is(err, ErrProfileNotFound) {
		return Profile{ID: p.ID, Email: p.Email, FullName: strings.SplitN(p.Email, "@", 2)[0]}, nil
	}
	return profile, err
}

func (s *Service) admin(email string) bool {
	return s.isAdmin != nil && s.isAdmin(email)
}
