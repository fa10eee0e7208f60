// Package identity abstracts the backend that verifies username/password
// pairs and creates accounts. The authorization flow only sees this narrow
// contract; the concrete backend is a remote identity service.
package identity

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

const requestTimeout = 10 * time.Second

// User is the identity returned by a successful verification or signup.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Error is a backend failure whose message is safe to surface verbatim in
// the login or signup form banner.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Provider verifies credentials and creates accounts.
type Provider interface {
	VerifyPassword(ctx context.Context, email, password string) (*User, error)
	CreateAccount(ctx context.Context, email, password string) (*User, error)
}

// HTTPProvider talks to a GoTrue-style identity API over HTTP.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the identity service at baseURL,
// authenticating with the given API key.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User             *User  `json:"user"`
	ID               string `json:"id"`
	Email            string `json:"email"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

// user normalizes the two response shapes the API uses: a nested user
// object on token responses, top-level fields on signup responses.
func (r *authResponse) user() *User {
	if r.User != nil && r.User.ID != "" {
		return r.User
	}
	if r.ID != "" {
		return &User{ID: r.ID, Email: r.Email}
	}
	return nil
}

func (r *authResponse) errorMessage() string {
	if r.ErrorDescription != "" {
		return r.ErrorDescription
	}
	return r.Message
}

func (p *HTTPProvider) post(ctx context.Context, path string, body any) (*authResponse, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity service unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity response: %w", err)
	}

	var parsed authResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := parsed.errorMessage()
		if msg == "" {
			msg = fmt.Sprintf("identity service returned status %d", resp.StatusCode)
		}
		return nil, &Error{Message: msg}
	}
	return &parsed, nil
}

// VerifyPassword checks the email/password pair against the identity
// service. Bad credentials come back as *Error with the backend's message.
func (p *HTTPProvider) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	resp, err := p.post(ctx, "/auth/v1/token?grant_type=password", credentialsRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	user := resp.user()
	if user == nil {
		return nil, &Error{Message: "Invalid email or password"}
	}
	return user, nil
}

// CreateAccount registers a new account with the identity service.
func (p *HTTPProvider) CreateAccount(ctx context.Context, email, password string) (*User, error) {
	resp, err := p.post(ctx, "/auth/v1/signup", credentialsRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	user := resp.user()
	if user == nil {
		return nil, &Error{Message: "Failed to create account"}
	}
	return user, nil
}

// StaticProvider accepts any credentials and returns a fixed user. It backs
// deployments without an identity service and tests.
type StaticProvider struct {
	UserID string
}

// VerifyPassword accepts any email/password pair.
func (s *StaticProvider) VerifyPassword(ctx context.Context, email, password string) (*User, error) {
	return &User{ID: s.userID(), Email: email}, nil
}

// CreateAccount accepts any signup.
func (s *StaticProvider) CreateAccount(ctx context.Context, email, password string) (*User, error) {
	return &User{ID: s.userID(), Email: email}, nil
}

func (s *StaticProvider) userID() string {
	if s.UserID != "" {
		return s.UserID
	}
	return "demo-user"
}
