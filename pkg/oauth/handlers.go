// Package oauth implements the OAuth 2.1 Authorization Code + PKCE flow
// that gates access to the MCP endpoints: discovery metadata, dynamic
// client registration, the authorize/login/signup/consent pages, the token
// endpoint, and the Bearer middleware protecting the transports.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/client/transport"
	"golang.org/x/oauth2"

	"github.com/mcp-labs/simple-mcp-server/pkg/config"
	"github.com/mcp-labs/simple-mcp-server/pkg/core"
	"github.com/mcp-labs/simple-mcp-server/pkg/identity"
	"github.com/mcp-labs/simple-mcp-server/pkg/token"
)

const (
	// sessionTTL bounds the whole authorize -> login -> consent walk.
	sessionTTL = 10 * time.Minute
	// codeTTL bounds the window between consent and token exchange.
	codeTTL = 10 * time.Minute

	defaultScope = "mcp:tools"

	defaultClientName  = "MCP Client"
	defaultRedirectURI = "https://chatgpt.com/connector_platform_oauth_redirect"
)

var supportedScopes = []string{"mcp:tools", "mcp:read"}

// Flow orchestrates one authorization attempt from /authorize through the
// token exchange. It is the sole writer of the session store's mappings.
type Flow struct {
	store    core.Store
	signer   *token.Signer
	identity identity.Provider
	cfg      *config.Config
}

// NewFlow creates a Flow bound to the given collaborators.
func NewFlow(store core.Store, signer *token.Signer, provider identity.Provider, cfg *config.Config) *Flow {
	return &Flow{
		store:    store,
		signer:   signer,
		identity: provider,
		cfg:      cfg,
	}
}

// RegisterRoutes attaches all flow endpoints to the router.
func (f *Flow) RegisterRoutes(r gin.IRouter) {
	r.GET("/.well-known/oauth-protected-resource", f.ProtectedResourceMetadata)
	r.GET("/.well-known/oauth-authorization-server", f.AuthorizationServerMetadata)
	r.POST("/register", f.Register)
	r.GET("/authorize", f.Authorize)
	r.GET("/login", f.LoginPage)
	r.POST("/login", f.LoginSubmit)
	r.GET("/signup", f.SignupPage)
	r.POST("/signup", f.SignupSubmit)
	r.GET("/consent", f.ConsentPage)
	r.POST("/consent", f.ConsentSubmit)
	r.POST("/token", f.Token)
}

// ProtectedResourceMetadata serves the OAuth 2.0 Protected Resource
// Metadata document (RFC 9728).
func (f *Flow) ProtectedResourceMetadata(c *gin.Context) {
	serverURL := f.cfg.ServerURL()
	c.JSON(http.StatusOK, &transport.OAuthProtectedResource{
		Resource:             serverURL,
		AuthorizationServers: []string{serverURL},
		ResourceName:         f.resourceName(),
	})
}

// AuthorizationServerMetadata serves the OAuth 2.0 Authorization Server
// Metadata document (RFC 8414).
func (f *Flow) AuthorizationServerMetadata(c *gin.Context) {
	serverURL := f.cfg.ServerURL()
	c.JSON(http.StatusOK, &transport.AuthServerMetadata{
		Issuer:                            serverURL,
		AuthorizationEndpoint:             serverURL + "/authorize",
		TokenEndpoint:                     serverURL + "/token",
		RegistrationEndpoint:              serverURL + "/register",
		ScopesSupported:                   supportedScopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "refresh_token"},
		TokenEndpointAuthMethodsSupported: []string{"none", "client_secret_post"},
		CodeChallengeMethodsSupported:     []string{"S256"},
	})
}

type clientRegistration struct {
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
}

// Register implements OAuth 2.0 Dynamic Client Registration (RFC 7591).
// Any client may self-register; absent fields fall back to defaults.
func (f *Flow) Register(c *gin.Context) {
	var req clientRegistration
	// An unparseable or empty body registers a client with pure defaults.
	_ = c.ShouldBindJSON(&req)

	if req.ClientName == "" {
		req.ClientName = defaultClientName
	}
	if len(req.RedirectURIs) == 0 {
		req.RedirectURIs = []string{defaultRedirectURI}
	}
	if len(req.GrantTypes) == 0 {
		req.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(req.ResponseTypes) == 0 {
		req.ResponseTypes = []string{"code"}
	}
	if req.TokenEndpointAuthMethod == "" {
		req.TokenEndpointAuthMethod = "none"
	}

	client := &core.RegisteredClient{
		ID:              uuid.New().String(),
		Secret:          randomToken(32),
		Name:            req.ClientName,
		RedirectURIs:    req.RedirectURIs,
		GrantTypes:      req.GrantTypes,
		ResponseTypes:   req.ResponseTypes,
		TokenAuthMethod: req.TokenEndpointAuthMethod,
		CreatedAt:       time.Now().Unix(),
	}
	if err := f.store.CreateClient(c.Request.Context(), client); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create client"})
		return
	}

	logger := core.LoggerFromCtx(c.Request.Context())
	logger.Debug("Client registered", "client_id", client.ID, "client_name", client.Name)

	c.JSON(http.StatusCreated, client)
}

// Authorize starts the flow: it parks the OAuth parameters under a fresh
// session identifier and sends the user agent to the login page. Only the
// opaque session id travels in the URL from here on.
func (f *Flow) Authorize(c *gin.Context) {
	responseType := c.DefaultQuery("response_type", "code")
	if responseType != "code" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_response_type"})
		return
	}

	now := time.Now()
	pending := &core.PendingAuthorization{
		ClientID:            c.Query("client_id"),
		RedirectURI:         c.Query("redirect_uri"),
		Scope:               c.DefaultQuery("scope", defaultScope),
		State:               c.Query("state"),
		CodeChallenge:       c.Query("code_challenge"),
		CodeChallengeMethod: c.DefaultQuery("code_challenge_method", "S256"),
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(sessionTTL).Unix(),
	}

	sessionID := randomToken(32)
	if err := f.store.SavePendingAuthorization(c.Request.Context(), sessionID, pending); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.Redirect(http.StatusFound, "/login?session="+url.QueryEscape(sessionID))
}

// LoginPage renders the login form for a pending session.
func (f *Flow) LoginPage(c *gin.Context) {
	sessionID := c.Query("session")
	if _, ok := f.pendingSession(c, sessionID); !ok {
		return
	}

	success := ""
	if c.Query("registered") == "1" {
		success = "Account created successfully! Please sign in."
	}
	f.renderHTML(c, http.StatusOK, loginTmpl, loginData{Session: sessionID, Success: success})
}

// LoginSubmit verifies credentials against the identity backend. Success
// creates an authenticated session and moves on to consent; failure
// re-renders the form with the backend's message, keeping the session so
// the user can retry within the original window.
func (f *Flow) LoginSubmit(c *gin.Context) {
	sessionID := c.PostForm("session")
	pending, ok := f.pendingSession(c, sessionID)
	if !ok {
		return
	}

	email := c.PostForm("email")
	password := c.PostForm("password")

	user, err := f.identity.VerifyPassword(c.Request.Context(), email, password)
	if err != nil {
		msg := "Invalid email or password"
		var identityErr *identity.Error
		if errors.As(err, &identityErr) {
			msg = identityErr.Message
		}
		f.renderHTML(c, http.StatusOK, loginTmpl, loginData{Session: sessionID, Error: msg})
		return
	}

	logger := core.LoggerFromCtx(c.Request.Context())
	logger.Info("User authenticated", "email", user.Email)

	session := &core.AuthenticatedSession{
		UserID:    user.ID,
		Email:     user.Email,
		CreatedAt: time.Now().Unix(),
		ExpiresAt: pending.ExpiresAt,
	}
	if err := f.store.SaveAuthenticatedSession(c.Request.Context(), sessionID, session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.Redirect(http.StatusFound, "/consent?session="+url.QueryEscape(sessionID))
}

// SignupPage renders the signup form for a pending session.
func (f *Flow) SignupPage(c *gin.Context) {
	sessionID := c.Query("session")
	if _, ok := f.pendingSession(c, sessionID); !ok {
		return
	}
	f.renderHTML(c, http.StatusOK, signupTmpl, signupData{Session: sessionID})
}

// SignupSubmit validates the form, creates the account through the identity
// backend, and bounces back to login with a success banner.
func (f *Flow) SignupSubmit(c *gin.Context) {
	sessionID := c.PostForm("session")
	if _, ok := f.pendingSession(c, sessionID); !ok {
		return
	}

	email := c.PostForm("email")
	password := c.PostForm("password")
	confirm := c.PostForm("confirm_password")

	if password != confirm {
		f.renderHTML(c, http.StatusOK, signupTmpl, signupData{Session: sessionID, Error: "Passwords do not match"})
		return
	}
	if len(password) < 6 {
		f.renderHTML(c, http.StatusOK, signupTmpl, signupData{Session: sessionID, Error: "Password must be at least 6 characters"})
		return
	}

	if _, err := f.identity.CreateAccount(c.Request.Context(), email, password); err != nil {
		msg := "Failed to create account"
		var identityErr *identity.Error
		if errors.As(err, &identityErr) {
			if strings.Contains(strings.ToLower(identityErr.Message), "already registered") {
				msg = "An account with this email already exists"
			} else {
				msg = identityErr.Message
			}
		}
		f.renderHTML(c, http.StatusOK, signupTmpl, signupData{Session: sessionID, Error: msg})
		return
	}

	c.Redirect(http.StatusFound, "/login?session="+url.QueryEscape(sessionID)+"&registered=1")
}

// ConsentPage renders the consent form. A pending session whose user has
// not logged in yet is sent back to login.
func (f *Flow) ConsentPage(c *gin.Context) {
	sessionID := c.Query("session")
	if _, ok := f.pendingSession(c, sessionID); !ok {
		return
	}

	session, err := f.store.GetAuthenticatedSession(c.Request.Context(), sessionID)
	if err != nil {
		c.Redirect(http.StatusFound, "/login?session="+url.QueryEscape(sessionID))
		return
	}

	f.renderHTML(c, http.StatusOK, consentTmpl, consentData{Session: sessionID, UserEmail: session.Email})
}

// ConsentSubmit finishes the interactive part of the flow. Deny cleans up
// and reports access_denied to the client; allow mints the single-use
// authorization code and hands it back through the redirect URI.
func (f *Flow) ConsentSubmit(c *gin.Context) {
	sessionID := c.PostForm("session")
	pending, ok := f.pendingSession(c, sessionID)
	if !ok {
		return
	}

	ctx := c.Request.Context()

	if c.PostForm("action") == "deny" {
		_ = f.store.DeletePendingAuthorization(ctx, sessionID)
		_ = f.store.DeleteAuthenticatedSession(ctx, sessionID)

		params := url.Values{}
		params.Set("error", "access_denied")
		params.Set("error_description", "User denied access")
		if pending.State != "" {
			params.Set("state", pending.State)
		}
		c.Redirect(http.StatusFound, pending.RedirectURI+"?"+params.Encode())
		return
	}

	session, err := f.store.GetAuthenticatedSession(ctx, sessionID)
	if err != nil {
		c.Redirect(http.StatusFound, "/login?session="+url.QueryEscape(sessionID))
		return
	}

	now := time.Now()
	authCode := &core.AuthorizationCode{
		Code:                randomToken(32),
		ClientID:            pending.ClientID,
		RedirectURI:         pending.RedirectURI,
		Scope:               pending.Scope,
		CodeChallenge:       pending.CodeChallenge,
		CodeChallengeMethod: pending.CodeChallengeMethod,
		UserID:              session.UserID,
		UserEmail:           session.Email,
		CreatedAt:           now.Unix(),
		ExpiresAt:           now.Add(codeTTL).Unix(),
	}
	if err := f.store.SaveAuthorizationCode(ctx, authCode); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	_ = f.store.DeletePendingAuthorization(ctx, sessionID)
	_ = f.store.DeleteAuthenticatedSession(ctx, sessionID)

	params := url.Values{}
	params.Set("code", authCode.Code)
	if pending.State != "" {
		params.Set("state", pending.State)
	}
	c.Redirect(http.StatusFound, pending.RedirectURI+"?"+params.Encode())
}

type tokenRequest struct {
	GrantType    string `form:"grant_type" json:"grant_type"`
	Code         string `form:"code" json:"code"`
	RedirectURI  string `form:"redirect_uri" json:"redirect_uri"`
	ClientID     string `form:"client_id" json:"client_id"`
	ClientSecret string `form:"client_secret" json:"client_secret"`
	CodeVerifier string `form:"code_verifier" json:"code_verifier"`
	RefreshToken string `form:"refresh_token" json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// Token implements the OAuth 2.0 Token Endpoint for the
// authorization_code and refresh_token grants. The body may be
// form-encoded or JSON.
func (f *Flow) Token(c *gin.Context) {
	var req tokenRequest
	var err error
	if strings.Contains(c.ContentType(), "json") {
		err = c.ShouldBindJSON(&req)
	} else {
		err = c.ShouldBind(&req)
	}
	if err != nil || req.GrantType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	logger := core.LoggerFromCtx(c.Request.Context())
	logger.Debug("Token request received", "grant_type", req.GrantType, "client_id", req.ClientID)

	switch req.GrantType {
	case "authorization_code":
		f.exchangeCode(c, &req)
	case "refresh_token":
		f.refreshTokens(c, &req)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported_grant_type"})
	}
}

// exchangeCode redeems a single-use authorization code for a token pair.
// The consume is atomic: a concurrent replay of the same code fails.
func (f *Flow) exchangeCode(c *gin.Context, req *tokenRequest) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	authCode, err := f.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		logger.Debug("Invalid authorization code", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant"})
		return
	}

	if authCode.CodeChallenge != "" {
		if req.CodeVerifier == "" ||
			oauth2.S256ChallengeFromVerifier(req.CodeVerifier) != authCode.CodeChallenge {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             "invalid_grant",
				"error_description": "PKCE verification failed",
			})
			return
		}
	}

	f.issueTokenPair(c, authCode.UserID, authCode.UserEmail, authCode.ClientID, authCode.Scope)
	logger.Info("Access token issued", "user_email", authCode.UserEmail, "client_id", authCode.ClientID)
}

// refreshTokens issues a fresh pair from a presented refresh token. The
// token's signature, expiry, issuer, and type are all verified before any
// new credential is minted.
func (f *Flow) refreshTokens(c *gin.Context, req *tokenRequest) {
	if req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "refresh_token is required"})
		return
	}

	claims, err := f.signer.Verify(req.RefreshToken, f.cfg.ServerURL(), token.TypeRefresh)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_grant", "error_description": "Invalid refresh token"})
		return
	}

	f.issueTokenPair(c, claims.Subject, claims.Email, claims.ClientID, claims.Scope)
}

func (f *Flow) issueTokenPair(c *gin.Context, userID, email, clientID, scope string) {
	issuer := f.cfg.ServerURL()

	accessToken, err := f.signer.IssueAccessToken(userID, email, clientID, scope, issuer, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}
	refreshToken, err := f.signer.IssueRefreshToken(userID, email, clientID, scope, issuer, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error"})
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(token.AccessTokenTTL.Seconds()),
		RefreshToken: refreshToken,
		Scope:        scope,
	})
}

// pendingSession looks up the pending authorization for the session id and
// writes the uniform invalid-session response when it is absent or expired.
// Whether the session never existed or lapsed is not distinguished.
func (f *Flow) pendingSession(c *gin.Context, sessionID string) (*core.PendingAuthorization, bool) {
	if sessionID == "" {
		f.invalidSession(c)
		return nil, false
	}
	pending, err := f.store.GetPendingAuthorization(c.Request.Context(), sessionID)
	if err != nil {
		f.invalidSession(c)
		return nil, false
	}
	return pending, true
}

func (f *Flow) invalidSession(c *gin.Context) {
	c.Data(http.StatusBadRequest, "text/html; charset=utf-8",
		[]byte("<h1>Invalid or expired session. Please try again.</h1>"))
}

func (f *Flow) renderHTML(c *gin.Context, status int, tmpl *template.Template, data any) {
	c.Status(status)
	c.Header("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(c.Writer, data); err != nil {
		core.LoggerFromCtx(c.Request.Context()).Error("Template render failed", "error", err)
	}
}

func (f *Flow) resourceName() string {
	if f.cfg.RobotName != "" {
		return f.cfg.RobotName
	}
	return "Simple MCP Server"
}

// randomToken returns n cryptographically random bytes, base64url encoded
// without padding. Used for session ids, authorization codes, and client
// secrets.
func randomToken(n int) string {
	b := make([]byte, n)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
