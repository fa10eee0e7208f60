package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mcp-labs/simple-mcp-server/pkg/core"
)

var (
	// ErrSessionNotFound is returned when a pending authorization or
	// authenticated session is absent or expired.
	ErrSessionNotFound = errors.New("session not found or expired")
	// ErrCodeNotFound is returned when an authorization code is absent,
	// expired, or already consumed.
	ErrCodeNotFound = errors.New("authorization code not found")
	// ErrClientNotFound is returned when a client is not found in the store.
	ErrClientNotFound = errors.New("client not found")
	// ErrNilEntry is returned when attempting to save a nil record.
	ErrNilEntry = errors.New("store entry cannot be nil")
	// ErrEmptyKey is returned when a session ID, code, or client ID is empty.
	ErrEmptyKey = errors.New("store key cannot be empty")
)

// MemoryStore implements the core.Store interface using in-memory maps.
// It provides thread-safe storage for the authorization flow's short-lived
// state. Expiry is enforced lazily: a read of an expired entry deletes it
// and reports it as absent.
type MemoryStore struct {
	mu       sync.RWMutex
	pending  map[string]*core.PendingAuthorization
	sessions map[string]*core.AuthenticatedSession
	codes    map[string]*core.AuthorizationCode
	clients  map[string]*core.RegisteredClient
}

// NewMemoryStore creates a new instance of MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pending:  make(map[string]*core.PendingAuthorization),
		sessions: make(map[string]*core.AuthenticatedSession),
		codes:    make(map[string]*core.AuthorizationCode),
		clients:  make(map[string]*core.RegisteredClient),
	}
}

// SavePendingAuthorization stores the OAuth parameters for a new session.
func (m *MemoryStore) SavePendingAuthorization(ctx context.Context, sessionID string, auth *core.PendingAuthorization) error {
	if auth == nil {
		return ErrNilEntry
	}
	if sessionID == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending[sessionID] = auth
	return nil
}

// GetPendingAuthorization retrieves a pending authorization by session ID.
// Expired entries are deleted and reported via ErrSessionNotFound.
func (m *MemoryStore) GetPendingAuthorization(ctx context.Context, sessionID string) (*core.PendingAuthorization, error) {
	if sessionID == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	auth, exists := m.pending[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if expired(auth.ExpiresAt) {
		delete(m.pending, sessionID)
		return nil, ErrSessionNotFound
	}
	return auth, nil
}

// DeletePendingAuthorization removes a pending authorization. Deleting an
// absent entry is not an error.
func (m *MemoryStore) DeletePendingAuthorization(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pending, sessionID)
	return nil
}

// SaveAuthenticatedSession records a successful login for the session.
func (m *MemoryStore) SaveAuthenticatedSession(ctx context.Context, sessionID string, session *core.AuthenticatedSession) error {
	if session == nil {
		return ErrNilEntry
	}
	if sessionID == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = session
	return nil
}

// GetAuthenticatedSession retrieves an authenticated session by session ID.
// Expired entries are deleted and reported via ErrSessionNotFound.
func (m *MemoryStore) GetAuthenticatedSession(ctx context.Context, sessionID string) (*core.AuthenticatedSession, error) {
	if sessionID == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if expired(session.ExpiresAt) {
		delete(m.sessions, sessionID)
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// DeleteAuthenticatedSession removes an authenticated session. Deleting an
// absent entry is not an error.
func (m *MemoryStore) DeleteAuthenticatedSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	return nil
}

// SaveAuthorizationCode stores a single-use authorization code.
func (m *MemoryStore) SaveAuthorizationCode(ctx context.Context, code *core.AuthorizationCode) error {
	if code == nil {
		return ErrNilEntry
	}
	if code.Code == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.codes[code.Code] = code
	return nil
}

// ConsumeAuthorizationCode removes and returns the code under a single lock,
// so exactly one of any set of concurrent redemptions succeeds. Expired
// codes are deleted and reported via ErrCodeNotFound.
func (m *MemoryStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	authCode, exists := m.codes[code]
	if !exists {
		return nil, ErrCodeNotFound
	}
	delete(m.codes, code)

	if expired(authCode.ExpiresAt) {
		return nil, ErrCodeNotFound
	}
	return authCode, nil
}

// CreateClient stores a new registered client.
func (m *MemoryStore) CreateClient(ctx context.Context, client *core.RegisteredClient) error {
	if client == nil {
		return ErrNilEntry
	}
	if client.ID == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.clients[client.ID] = client
	return nil
}

// GetClient retrieves a registered client by its client ID.
// It returns ErrClientNotFound if the client does not exist.
func (m *MemoryStore) GetClient(ctx context.Context, clientID string) (*core.RegisteredClient, error) {
	if clientID == "" {
		return nil, ErrEmptyKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil, ErrClientNotFound
	}
	return client, nil
}

func expired(expiresAt int64) bool {
	return expiresAt > 0 && time.Now().Unix() > expiresAt
}
