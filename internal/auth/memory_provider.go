package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength mirrors the provider's default password policy.
const MinPasswordLength = 6

type memoryAccount struct {
	user User
	hash []byte
}

// MemoryProvider is an in-process identity service for development and
// tests. It issues access tokens signed with the same secret the
// middleware verifies.
type MemoryProvider struct {
	secret []byte
	ttl    time.Duration

	mu       sync.RWMutex
	accounts map[string]memoryAccount
	revoked  map[string]struct{}
}

// NewMemoryProvider builds an empty provider.
func NewMemoryProvider(secret []byte, ttl time.Duration) *MemoryProvider {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryProvider{
		secret:   secret,
		ttl:      ttl,
		accounts: make(map[string]memoryAccount),
		revoked:  make(map[string]struct{}),
	}
}

func (p *MemoryProvider) SignUp(_ context.Context, email, password string, _ map[string]any) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if len(password) < MinPasswordLength {
		return Session{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, err
	}

	p.mu.Lock()
	if _, exists := p.accounts[email]; exists {
		p.mu.Unlock()
		return Session{}, ErrUserExists
	}
	user := User{ID: uuid.NewString(), Email: email, CreatedAt: time.Now().UTC()}
	p.accounts[email] = memoryAccount{user: user, hash: hash}
	p.mu.Unlock()

	return p.issue(user)
}

func (p *MemoryProvider) SignIn(_ context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	p.mu.RLock()
	account, ok := p.accounts[email]
	p.mu.RUnlock()
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(account.hash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return p.issue(account.user)
}

func (p *MemoryProvider) SignOut(_ context.Context, accessToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[accessToken] = struct{}{}
	return nil
}

// Revoked reports whether the token was signed out.
func (p *MemoryProvider) Revoked(accessToken string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.revoked[accessToken]
	return ok
}

func (p *MemoryProvider) issue(user User) (Session, error) {
	token, err := SignAccessToken(p.secret, user.ID, user.Email, p.ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{AccessToken: token, ExpiresIn: int64(p.ttl.Seconds()), User: user}, nil
}
