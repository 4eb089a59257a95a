package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GoTrueProvider talks to the hosted auth REST API (/auth/v1).
type GoTrueProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
}

// NewGoTrueProvider builds a provider for the project at baseURL.
func NewGoTrueProvider(baseURL, anonKey string) *GoTrueProvider {
	return &GoTrueProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type gotrueSession struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *User  `json:"user"`
	// Sign-up without a session returns the bare user.
	ID    string `json:"id"`
	Email string `json:"email"`
}

type gotrueError struct {
	Message          string `json:"msg"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e gotrueError) text() string {
	for _, s := range []string{e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (p *GoTrueProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (Session, error) {
	body := map[string]any{"email": email, "password": password, "data": metadata}
	var out gotrueSession
	status, err := p.do(ctx, http.MethodPost, "/auth/v1/signup", "", body, &out)
	if err != nil {
		if status == http.StatusUnprocessableEntity || status == http.StatusBadRequest {
			return Session{}, fmt.Errorf("%w: %v", ErrUserExists, err)
		}
		return Session{}, err
	}
	return out.session(), nil
}

func (p *GoTrueProvider) SignIn(ctx context.Context, email, password string) (Session, error) {
	body := map[string]any{"email": email, "password": password}
	var out gotrueSession
	status, err := p.do(ctx, http.MethodPost, "/auth/v1/token?grant_type=password", "", body, &out)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	return out.session(), nil
}

func (p *GoTrueProvider) SignOut(ctx context.Context, accessToken string) error {
	_, err := p.do(ctx, http.MethodPost, "/auth/v1/logout", accessToken, nil, nil)
	return err
}

func (s gotrueSession) session() Session {
	out := Session{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken, ExpiresIn: s.ExpiresIn}
	if s.User != nil {
		out.User = *s.User
	} else {
		out.User = User{ID: s.ID, Email: s.Email}
	}
	return out
}

func (p *GoTrueProvider) do(ctx context.Context, method, path, bearer string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("auth provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read auth response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr gotrueError
		_ = json.Unmarshal(raw, &apiErr)
		msg := apiErr.text()
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return resp.StatusCode, fmt.Errorf("auth provider returned %d: %s", resp.StatusCode, msg)
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode auth response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
