// Package token issues and verifies the signed credentials handed out by
// the authorization flow. Tokens are stateless JWTs: validity is established
// by signature and claim checks alone, so they survive server restarts as
// long as the signing secret is unchanged.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AccessTokenTTL is the default lifetime of access tokens.
	AccessTokenTTL = 24 * time.Hour
	// RefreshTokenTTL is the default lifetime of refresh tokens.
	RefreshTokenTTL = 30 * 24 * time.Hour

	// TypeAccess marks a token usable as a Bearer credential.
	TypeAccess = "access"
	// TypeRefresh marks a token usable only at the token endpoint.
	TypeRefresh = "refresh"

	// SecretEnvVar overrides the persisted signing secret when set.
	SecretEnvVar = "JWT_SECRET"

	secretFileName = "jwt_secret"
	secretBytes    = 64
)

// ErrInvalidToken is returned for every verification failure: bad signature,
// expired, missing claims, issuer mismatch, or wrong token type. Callers
// turn it into a uniform 401 without inspecting the cause.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the payload of both access and refresh tokens.
type Claims struct {
	Email     string `json:"email,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// Signer creates and verifies HS256-signed tokens with a symmetric secret
// persisted on disk or supplied by the environment.
type Signer struct {
	secretFile string

	mu     sync.Mutex
	secret []byte
}

// NewSigner returns a Signer backed by the given secret file. An empty path
// selects DefaultSecretFile().
func NewSigner(secretFile string) *Signer {
	if secretFile == "" {
		secretFile = DefaultSecretFile()
	}
	return &Signer{secretFile: secretFile}
}

// DefaultSecretFile returns the standard location of the signing secret,
// ~/.simple-mcp-server/jwt_secret.
func DefaultSecretFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".simple-mcp-server", secretFileName)
	}
	return filepath.Join(home, ".simple-mcp-server", secretFileName)
}

// Secret resolves the signing secret: environment override first, then the
// persisted file, then a freshly generated secret written with owner-only
// permissions. The result is cached, so repeated calls within a process
// return the identical secret; across restarts the file keeps it stable.
func (s *Signer) Secret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.secret) > 0 {
		return s.secret
	}

	if env := os.Getenv(SecretEnvVar); env != "" {
		slog.Info("Using JWT secret from environment")
		s.secret = []byte(env)
		return s.secret
	}

	if data, err := os.ReadFile(s.secretFile); err == nil && len(data) > 0 {
		slog.Info("Loaded JWT secret from file", "path", s.secretFile)
		s.secret = data
		return s.secret
	}

	buf := make([]byte, secretBytes)
	rand.Read(buf)
	s.secret = []byte(base64.RawURLEncoding.EncodeToString(buf))

	if err := os.MkdirAll(filepath.Dir(s.secretFile), 0o700); err != nil {
		slog.Warn("Could not create secret directory, using in-memory secret", "error", err)
		return s.secret
	}
	if err := os.WriteFile(s.secretFile, s.secret, 0o600); err != nil {
		// Degraded mode: tokens become invalid on the next restart.
		slog.Warn("Could not persist JWT secret, using in-memory secret", "error", err)
		return s.secret
	}
	slog.Info("Generated and saved new JWT secret", "path", s.secretFile)
	return s.secret
}

// IssueAccessToken creates a signed access token for the given user. A zero
// ttl selects AccessTokenTTL.
func (s *Signer) IssueAccessToken(userID, email, clientID, scope, issuer string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = AccessTokenTTL
	}
	return s.issue(userID, email, clientID, scope, issuer, TypeAccess, ttl)
}

// IssueRefreshToken creates a signed refresh token for the given user. A
// zero ttl selects RefreshTokenTTL.
func (s *Signer) IssueRefreshToken(userID, email, clientID, scope, issuer string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = RefreshTokenTTL
	}
	return s.issue(userID, email, clientID, scope, issuer, TypeRefresh, ttl)
}

func (s *Signer) issue(userID, email, clientID, scope, issuer, tokenType string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Email:     email,
		ClientID:  clientID,
		Scope:     scope,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret())
}

// Verify parses and validates a token, returning its claims. The issuer is
// checked only when expectedIssuer is non-empty; the type discriminator is
// checked only when wantType is non-empty. All failures, including malformed
// input, return ErrInvalidToken.
func (s *Signer) Verify(tokenString, expectedIssuer, wantType string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if expectedIssuer != "" {
		opts = append(opts, jwt.WithIssuer(expectedIssuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return s.Secret(), nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if wantType != "" && claims.TokenType != wantType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
