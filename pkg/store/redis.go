package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mcp-labs/simple-mcp-server/pkg/core"
	"github.com/redis/rueidis"
)

const (
	// Key prefixes for Redis storage
	pendingPrefix  = "pending_auth:"
	sessionPrefix  = "auth_session:"
	authCodePrefix = "auth_code:"
	clientPrefix   = "client:"
)

// RedisStore implements the core.Store interface using Redis via rueidis.
// Session and code TTLs map onto native Redis key expiry, and single-use
// code consumption uses GETDEL so replays across processes fail too.
type RedisStore struct {
	client rueidis.Client
}

// NewRedisStore creates a new instance of RedisStore with the provided rueidis client.
func NewRedisStore(client rueidis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// RedisOptions contains configuration for Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStoreFromOptions creates a new RedisStore with simplified options.
func NewRedisStoreFromOptions(opts RedisOptions) (*RedisStore, error) {
	clientOpts := rueidis.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	client, err := rueidis.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// NewRedisStoreFromClientOption creates a new RedisStore with full rueidis client options.
func NewRedisStoreFromClientOption(opts rueidis.ClientOption) (*RedisStore, error) {
	client, err := rueidis.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return NewRedisStore(client), nil
}

// Close closes the Redis client connection.
func (r *RedisStore) Close() {
	r.client.Close()
}

// setWithTTL serializes v and stores it under key with an expiry derived
// from expiresAt. Entries that are already expired are rejected.
func (r *RedisStore) setWithTTL(ctx context.Context, key string, v any, expiresAt int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal store entry: %w", err)
	}

	ttl := time.Until(time.Unix(expiresAt, 0))
	if ttl <= 0 {
		return errors.New("store entry is already expired")
	}

	cmd := r.client.B().Set().Key(key).Value(string(data)).ExSeconds(int64(ttl.Seconds())).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to save entry to redis: %w", err)
	}
	return nil
}

// SavePendingAuthorization stores a pending authorization with TTL.
func (r *RedisStore) SavePendingAuthorization(ctx context.Context, sessionID string, auth *core.PendingAuthorization) error {
	if auth == nil {
		return ErrNilEntry
	}
	if sessionID == "" {
		return ErrEmptyKey
	}
	return r.setWithTTL(ctx, pendingPrefix+sessionID, auth, auth.ExpiresAt)
}

// GetPendingAuthorization retrieves a pending authorization by session ID.
// Redis key expiry enforces the TTL; a vanished key reports ErrSessionNotFound.
func (r *RedisStore) GetPendingAuthorization(ctx context.Context, sessionID string) (*core.PendingAuthorization, error) {
	if sessionID == "" {
		return nil, ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(pendingPrefix + sessionID).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get pending authorization from redis: %w", err)
	}

	var auth core.PendingAuthorization
	if err := json.Unmarshal([]byte(result), &auth); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending authorization: %w", err)
	}

	// Double-check expiration (Redis TTL should handle this, but being explicit)
	if time.Now().Unix() > auth.ExpiresAt {
		_ = r.DeletePendingAuthorization(ctx, sessionID)
		return nil, ErrSessionNotFound
	}
	return &auth, nil
}

// DeletePendingAuthorization removes a pending authorization by session ID.
func (r *RedisStore) DeletePendingAuthorization(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptyKey
	}
	cmd := r.client.B().Del().Key(pendingPrefix + sessionID).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete pending authorization from redis: %w", err)
	}
	return nil
}

// SaveAuthenticatedSession stores an authenticated session with TTL.
func (r *RedisStore) SaveAuthenticatedSession(ctx context.Context, sessionID string, session *core.AuthenticatedSession) error {
	if session == nil {
		return ErrNilEntry
	}
	if sessionID == "" {
		return ErrEmptyKey
	}
	return r.setWithTTL(ctx, sessionPrefix+sessionID, session, session.ExpiresAt)
}

// GetAuthenticatedSession retrieves an authenticated session by session ID.
func (r *RedisStore) GetAuthenticatedSession(ctx context.Context, sessionID string) (*core.AuthenticatedSession, error) {
	if sessionID == "" {
		return nil, ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(sessionPrefix + sessionID).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get authenticated session from redis: %w", err)
	}

	var session core.AuthenticatedSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authenticated session: %w", err)
	}

	if time.Now().Unix() > session.ExpiresAt {
		_ = r.DeleteAuthenticatedSession(ctx, sessionID)
		return nil, ErrSessionNotFound
	}
	return &session, nil
}

// DeleteAuthenticatedSession removes an authenticated session by session ID.
func (r *RedisStore) DeleteAuthenticatedSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrEmptyKey
	}
	cmd := r.client.B().Del().Key(sessionPrefix + sessionID).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to delete authenticated session from redis: %w", err)
	}
	return nil
}

// SaveAuthorizationCode stores an authorization code with TTL.
func (r *RedisStore) SaveAuthorizationCode(ctx context.Context, code *core.AuthorizationCode) error {
	if code == nil {
		return ErrNilEntry
	}
	if code.Code == "" {
		return ErrEmptyKey
	}
	return r.setWithTTL(ctx, authCodePrefix+code.Code, code, code.ExpiresAt)
}

// ConsumeAuthorizationCode atomically removes and returns the code via
// GETDEL, so exactly one of any set of concurrent redemptions succeeds.
func (r *RedisStore) ConsumeAuthorizationCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	if code == "" {
		return nil, ErrEmptyKey
	}

	cmd := r.client.B().Getdel().Key(authCodePrefix + code).Build()
	result, err := r.client.Do(ctx, cmd).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume authorization code from redis: %w", err)
	}

	var authCode core.AuthorizationCode
	if err := json.Unmarshal([]byte(result), &authCode); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	// The key is already gone either way; an expired code is simply invalid.
	if time.Now().Unix() > authCode.ExpiresAt {
		return nil, ErrCodeNotFound
	}
	return &authCode, nil
}

// CreateClient stores a new registered client. Clients do not expire.
func (r *RedisStore) CreateClient(ctx context.Context, client *core.RegisteredClient) error {
	if client == nil {
		return ErrNilEntry
	}
	if client.ID == "" {
		return ErrEmptyKey
	}

	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	cmd := r.client.B().Set().Key(clientPrefix + client.ID).Value(string(data)).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("failed to create client in redis: %w", err)
	}
	return nil
}

// GetClient retrieves a registered client by its client ID.
// Uses client-side caching with 60 second TTL since clients are immutable.
func (r *RedisStore) GetClient(ctx context.Context, clientID string) (*core.RegisteredClient, error) {
	if clientID == "" {
		return nil, ErrEmptyKey
	}

	cmd := r.client.B().Get().Key(clientPrefix + clientID).Cache()
	result, err := r.client.DoCache(ctx, cmd, 60*time.Second).ToString()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client from redis: %w", err)
	}

	var client core.RegisteredClient
	if err := json.Unmarshal([]byte(result), &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}
