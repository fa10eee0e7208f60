package core

import "context"

// PendingAuthorization holds the OAuth parameters of an /authorize request
// while the user walks through the login and consent pages. It is keyed by
// an opaque session identifier and expires ten minutes after creation.
type PendingAuthorization struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	State               string `json:"state,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

// AuthenticatedSession records a successful login for a pending
// authorization. It shares its key with the PendingAuthorization and is
// deleted together with it after consent.
type AuthenticatedSession struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthorizationCode is the single-use proof of consent exchanged at the
// token endpoint. Redemption deletes it before the response is written.
type AuthorizationCode struct {
	Code                string `json:"code"`
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	Scope               string `json:"scope"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
	UserID              string `json:"user_id"`
	UserEmail           string `json:"user_email"`
	CreatedAt           int64  `json:"created_at"`
	ExpiresAt           int64  `json:"expires_at"`
}

// RegisteredClient is the result of dynamic client registration (RFC 7591).
// Records are immutable once created.
type RegisteredClient struct {
	ID              string   `json:"client_id"`
	Secret          string   `json:"client_secret"`
	Name            string   `json:"client_name"`
	RedirectURIs    []string `json:"redirect_uris"`
	GrantTypes      []string `json:"grant_types"`
	ResponseTypes   []string `json:"response_types"`
	TokenAuthMethod string   `json:"token_endpoint_auth_method"`
	CreatedAt       int64    `json:"created_at"`
}

// Store defines the keyed mappings shared by the authorization flow.
// Implementations must be safe for concurrent use and must treat entries
// past their ExpiresAt as absent, deleting them on read.
type Store interface {
	SavePendingAuthorization(ctx context.Context, sessionID string, auth *PendingAuthorization) error
	GetPendingAuthorization(ctx context.Context, sessionID string) (*PendingAuthorization, error)
	DeletePendingAuthorization(ctx context.Context, sessionID string) error

	SaveAuthenticatedSession(ctx context.Context, sessionID string, session *AuthenticatedSession) error
	GetAuthenticatedSession(ctx context.Context, sessionID string) (*AuthenticatedSession, error)
	DeleteAuthenticatedSession(ctx context.Context, sessionID string) error

	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error
	// ConsumeAuthorizationCode removes the code and returns it in one step,
	// so a concurrent replay of the same code observes it as absent.
	// Expired codes are deleted and reported as not found.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	CreateClient(ctx context.Context, client *RegisteredClient) error
	GetClient(ctx context.Context, clientID string) (*RegisteredClient, error)
}
