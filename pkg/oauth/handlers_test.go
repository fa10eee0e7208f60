package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"

	"github.com/mcp-labs/simple-mcp-server/pkg/config"
	"github.com/mcp-labs/simple-mcp-server/pkg/identity"
	"github.com/mcp-labs/simple-mcp-server/pkg/store"
	"github.com/mcp-labs/simple-mcp-server/pkg/token"
)

const testServerURL = "https://server.example.com"

func newTestFlow(t *testing.T, provider identity.Provider) (*gin.Engine, *Flow) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	t.Setenv(token.SecretEnvVar, "")
	signer := token.NewSigner(filepath.Join(t.TempDir(), "jwt_secret"))

	if provider == nil {
		provider = &identity.StaticProvider{UserID: "user-1"}
	}

	cfg := &config.Config{TunnelURL: testServerURL}
	flow := NewFlow(store.NewMemoryStore(), signer, provider, cfg)

	router := gin.New()
	flow.RegisterRoutes(router)
	return router, flow
}

func doRequest(router *gin.Engine, method, target string, form url.Values) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// sessionFromRedirect extracts the session query parameter from a 302
// Location header.
func sessionFromRedirect(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d: %s", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse Location header: %v", err)
	}
	session := loc.Query().Get("session")
	if session == "" {
		t.Fatalf("no session in redirect %q", w.Header().Get("Location"))
	}
	return session
}

func TestFlow_AuthorizationCodeWithPKCE(t *testing.T) {
	router, flow := newTestFlow(t, nil)

	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	// Step 1: /authorize parks the parameters and redirects to login.
	w := doRequest(router, http.MethodGet,
		"/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb")+
			"&state=xyz&scope=mcp:tools&code_challenge="+challenge+"&code_challenge_method=S256", nil)
	session := sessionFromRedirect(t, w)
	if !strings.HasPrefix(w.Header().Get("Location"), "/login?") {
		t.Fatalf("expected redirect to /login, got %q", w.Header().Get("Location"))
	}

	// Step 2: login against the identity backend.
	w = doRequest(router, http.MethodPost, "/login", url.Values{
		"session":  {session},
		"email":    {"user@example.com"},
		"password": {"secret"},
	})
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/consent?") {
		t.Fatalf("expected redirect to /consent, got %d %q", w.Code, w.Header().Get("Location"))
	}

	// Step 3: consent allow mints the authorization code.
	w = doRequest(router, http.MethodPost, "/consent", url.Values{
		"session": {session},
		"action":  {"allow"},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302 redirect, got %d: %s", w.Code, w.Body.String())
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect: %v", err)
	}
	if loc.Host != "client.example.com" || loc.Path != "/cb" {
		t.Errorf("redirect went to %v, want client.example.com/cb", loc)
	}
	if got := loc.Query().Get("state"); got != "xyz" {
		t.Errorf("state = %v, want xyz", got)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatal("no authorization code in redirect")
	}

	// The interactive session is gone once the code is minted.
	w = doRequest(router, http.MethodGet, "/consent?session="+url.QueryEscape(session), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("consent after code minting = %d, want 400", w.Code)
	}

	// Step 4: exchange the code with the PKCE verifier.
	w = doRequest(router, http.MethodPost, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
		"client_id":     {"client-1"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token exchange = %d: %s", w.Code, w.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode token response: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %v, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != int64(token.AccessTokenTTL.Seconds()) {
		t.Errorf("expires_in = %v, want %v", resp.ExpiresIn, int64(token.AccessTokenTTL.Seconds()))
	}
	if resp.Scope != "mcp:tools" {
		t.Errorf("scope = %v, want mcp:tools", resp.Scope)
	}

	claims, err := flow.signer.Verify(resp.AccessToken, testServerURL, token.TypeAccess)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "user@example.com" {
		t.Errorf("claims = %v / %v, want user-1 / user@example.com", claims.Subject, claims.Email)
	}
	if _, err := flow.signer.Verify(resp.RefreshToken, testServerURL, token.TypeRefresh); err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}

	// Step 5: replaying the code must fail, it was consumed.
	w = doRequest(router, http.MethodPost, "/token", url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("code replay = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_grant") {
		t.Errorf("code replay body = %s, want invalid_grant", w.Body.String())
	}

	// Step 6: the refresh token mints a fresh pair.
	w = doRequest(router, http.MethodPost, "/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {resp.RefreshToken},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh grant = %d: %s", w.Code, w.Body.String())
	}
	var refreshed tokenResponse
	if err := json.Unmarshal(w.Body.Bytes(), &refreshed); err != nil {
		t.Fatalf("failed to decode refresh response: %v", err)
	}
	if _, err := flow.signer.Verify(refreshed.AccessToken, testServerURL, token.TypeAccess); err != nil {
		t.Errorf("refreshed access token does not verify: %v", err)
	}
}

func TestFlow_PKCEVerifierMismatch(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	challenge := oauth2.S256ChallengeFromVerifier(oauth2.GenerateVerifier())

	w := doRequest(router, http.MethodGet,
		"/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb")+
			"&code_challenge="+challenge, nil)
	session := sessionFromRedirect(t, w)

	doRequest(router, http.MethodPost, "/login", url.Values{
		"session": {session}, "email": {"user@example.com"}, "password": {"secret"},
	})
	w = doRequest(router, http.MethodPost, "/consent", url.Values{
		"session": {session}, "action": {"allow"},
	})
	loc, _ := url.Parse(w.Header().Get("Location"))
	code := loc.Query().Get("code")

	tests := []struct {
		name     string
		verifier string
	}{
		{"wrong verifier", oauth2.GenerateVerifier()},
		{"missing verifier", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{
				"grant_type": {"authorization_code"},
				"code":       {code},
			}
			if tt.verifier != "" {
				form.Set("code_verifier", tt.verifier)
			}
			w := doRequest(router, http.MethodPost, "/token", form)
			if w.Code != http.StatusBadRequest {
				t.Errorf("token exchange = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), "PKCE verification failed") {
				t.Errorf("body = %s, want PKCE verification failed", w.Body.String())
			}
		})
	}
}

func TestFlow_ConsentDeny(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodGet,
		"/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb")+"&state=abc", nil)
	session := sessionFromRedirect(t, w)

	doRequest(router, http.MethodPost, "/login", url.Values{
		"session": {session}, "email": {"user@example.com"}, "password": {"secret"},
	})

	w = doRequest(router, http.MethodPost, "/consent", url.Values{
		"session": {session}, "action": {"deny"},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("consent deny = %d, want 302", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("failed to parse redirect: %v", err)
	}
	if got := loc.Query().Get("error"); got != "access_denied" {
		t.Errorf("error = %v, want access_denied", got)
	}
	if got := loc.Query().Get("state"); got != "abc" {
		t.Errorf("state = %v, want abc", got)
	}
	if loc.Query().Get("code") != "" {
		t.Error("deny redirect must not carry a code")
	}

	// Both session mappings are gone.
	w = doRequest(router, http.MethodGet, "/login?session="+url.QueryEscape(session), nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("login after deny = %d, want 400", w.Code)
	}
}

func TestFlow_Authorize_UnsupportedResponseType(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodGet, "/authorize?response_type=token&client_id=client-1", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("authorize = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unsupported_response_type") {
		t.Errorf("body = %s, want unsupported_response_type", w.Body.String())
	}
}

func TestFlow_InvalidSession(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	paths := []string{
		"/login?session=missing",
		"/signup?session=missing",
		"/consent?session=missing",
		"/login",
	}
	for _, path := range paths {
		w := doRequest(router, http.MethodGet, path, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Invalid or expired session") {
			t.Errorf("GET %s body = %s, want invalid session page", path, w.Body.String())
		}
	}
}

func TestFlow_ConsentWithoutLogin(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodGet, "/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb"), nil)
	session := sessionFromRedirect(t, w)

	// Consent before login bounces back to the login page.
	w = doRequest(router, http.MethodGet, "/consent?session="+url.QueryEscape(session), nil)
	if w.Code != http.StatusFound || !strings.HasPrefix(w.Header().Get("Location"), "/login?") {
		t.Errorf("consent without login = %d %q, want redirect to /login", w.Code, w.Header().Get("Location"))
	}
}

type failingProvider struct{}

func (failingProvider) VerifyPassword(ctx context.Context, email, password string) (*identity.User, error) {
	return nil, &identity.Error{Message: "Invalid login credentials"}
}

func (failingProvider) CreateAccount(ctx context.Context, email, password string) (*identity.User, error) {
	return nil, &identity.Error{Message: "User already registered"}
}

func TestFlow_LoginFailureKeepsSession(t *testing.T) {
	router, _ := newTestFlow(t, failingProvider{})

	w := doRequest(router, http.MethodGet, "/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb"), nil)
	session := sessionFromRedirect(t, w)

	w = doRequest(router, http.MethodPost, "/login", url.Values{
		"session": {session}, "email": {"user@example.com"}, "password": {"wrong"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("failed login = %d, want 200 with form", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Invalid login credentials") {
		t.Errorf("body should surface the backend message, got %s", w.Body.String())
	}

	// The session survives so the user can retry.
	w = doRequest(router, http.MethodGet, "/login?session="+url.QueryEscape(session), nil)
	if w.Code != http.StatusOK {
		t.Errorf("login page after failed attempt = %d, want 200", w.Code)
	}
}

func TestFlow_Signup(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodGet, "/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb"), nil)
	session := sessionFromRedirect(t, w)

	tests := []struct {
		name     string
		form     url.Values
		wantBody string
	}{
		{
			name: "password mismatch",
			form: url.Values{
				"session": {session}, "email": {"new@example.com"},
				"password": {"secret123"}, "confirm_password": {"different"},
			},
			wantBody: "Passwords do not match",
		},
		{
			name: "password too short",
			form: url.Values{
				"session": {session}, "email": {"new@example.com"},
				"password": {"abc"}, "confirm_password": {"abc"},
			},
			wantBody: "Password must be at least 6 characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/signup", tt.form)
			if w.Code != http.StatusOK {
				t.Fatalf("signup = %d, want 200 with form", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}

	// A successful signup bounces back to login with a banner.
	w = doRequest(router, http.MethodPost, "/signup", url.Values{
		"session": {session}, "email": {"new@example.com"},
		"password": {"secret123"}, "confirm_password": {"secret123"},
	})
	if w.Code != http.StatusFound {
		t.Fatalf("signup = %d, want 302", w.Code)
	}
	loc := w.Header().Get("Location")
	if !strings.Contains(loc, "registered=1") {
		t.Errorf("signup redirect = %q, want registered=1", loc)
	}

	w = doRequest(router, http.MethodGet, "/login?session="+url.QueryEscape(session)+"&registered=1", nil)
	if !strings.Contains(w.Body.String(), "Account created successfully") {
		t.Errorf("login page should show the signup banner, got %s", w.Body.String())
	}
}

func TestFlow_Signup_AlreadyRegistered(t *testing.T) {
	router, _ := newTestFlow(t, failingProvider{})

	w := doRequest(router, http.MethodGet, "/authorize?client_id=client-1&redirect_uri="+url.QueryEscape("https://client.example.com/cb"), nil)
	session := sessionFromRedirect(t, w)

	w = doRequest(router, http.MethodPost, "/signup", url.Values{
		"session": {session}, "email": {"dup@example.com"},
		"password": {"secret123"}, "confirm_password": {"secret123"},
	})
	if !strings.Contains(w.Body.String(), "An account with this email already exists") {
		t.Errorf("body = %s, want friendly already-exists message", w.Body.String())
	}
}

func TestFlow_Register(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	body := `{"client_name": "My Client", "redirect_uris": ["https://client.example.com/cb"]}`
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", w.Code, w.Body.String())
	}

	var client struct {
		ID            string   `json:"client_id"`
		Secret        string   `json:"client_secret"`
		Name          string   `json:"client_name"`
		RedirectURIs  []string `json:"redirect_uris"`
		GrantTypes    []string `json:"grant_types"`
		ResponseTypes []string `json:"response_types"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &client); err != nil {
		t.Fatalf("failed to decode registration response: %v", err)
	}
	if client.ID == "" || client.Secret == "" {
		t.Error("registration must assign client_id and client_secret")
	}
	if client.Name != "My Client" {
		t.Errorf("client_name = %v, want My Client", client.Name)
	}
	if len(client.GrantTypes) != 2 {
		t.Errorf("grant_types = %v, want authorization_code and refresh_token defaults", client.GrantTypes)
	}
}

func TestFlow_Register_EmptyBody(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodPost, "/register", url.Values{})
	if w.Code != http.StatusCreated {
		t.Fatalf("register with empty body = %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), defaultClientName) {
		t.Errorf("body = %s, want default client name", w.Body.String())
	}
}

func TestFlow_Token_InvalidRequests(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	tests := []struct {
		name     string
		form     url.Values
		wantBody string
	}{
		{
			name:     "missing grant_type",
			form:     url.Values{},
			wantBody: "invalid_request",
		},
		{
			name:     "unsupported grant_type",
			form:     url.Values{"grant_type": {"client_credentials"}},
			wantBody: "unsupported_grant_type",
		},
		{
			name:     "missing refresh token",
			form:     url.Values{"grant_type": {"refresh_token"}},
			wantBody: "invalid_request",
		},
		{
			name:     "garbage refresh token",
			form:     url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"garbage"}},
			wantBody: "invalid_grant",
		},
		{
			name:     "unknown authorization code",
			form:     url.Values{"grant_type": {"authorization_code"}, "code": {"missing"}},
			wantBody: "invalid_grant",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodPost, "/token", tt.form)
			if w.Code != http.StatusBadRequest {
				t.Errorf("token = %d, want 400", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %s, want %s", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestFlow_Token_AccessTokenRejectedAsRefresh(t *testing.T) {
	router, flow := newTestFlow(t, nil)

	accessToken, err := flow.signer.IssueAccessToken("user-1", "user@example.com", "client-1", "mcp:tools", testServerURL, 0)
	if err != nil {
		t.Fatalf("IssueAccessToken() error = %v", err)
	}

	w := doRequest(router, http.MethodPost, "/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {accessToken},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("refresh with access token = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "invalid_grant") {
		t.Errorf("body = %s, want invalid_grant", w.Body.String())
	}
}

func TestFlow_Token_JSONBody(t *testing.T) {
	router, flow := newTestFlow(t, nil)

	refreshToken, err := flow.signer.IssueRefreshToken("user-1", "user@example.com", "client-1", "mcp:tools", testServerURL, 0)
	if err != nil {
		t.Fatalf("IssueRefreshToken() error = %v", err)
	}

	body := `{"grant_type": "refresh_token", "refresh_token": "` + refreshToken + `"}`
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("token with JSON body = %d: %s", w.Code, w.Body.String())
	}
}

func TestFlow_Metadata(t *testing.T) {
	router, _ := newTestFlow(t, nil)

	w := doRequest(router, http.MethodGet, "/.well-known/oauth-authorization-server", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authorization server metadata = %d", w.Code)
	}
	var meta struct {
		Issuer                        string   `json:"issuer"`
		AuthorizationEndpoint         string   `json:"authorization_endpoint"`
		TokenEndpoint                 string   `json:"token_endpoint"`
		RegistrationEndpoint          string   `json:"registration_endpoint"`
		GrantTypesSupported           []string `json:"grant_types_supported"`
		CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.Issuer != testServerURL {
		t.Errorf("issuer = %v, want %v", meta.Issuer, testServerURL)
	}
	if meta.AuthorizationEndpoint != testServerURL+"/authorize" {
		t.Errorf("authorization_endpoint = %v", meta.AuthorizationEndpoint)
	}
	if meta.TokenEndpoint != testServerURL+"/token" {
		t.Errorf("token_endpoint = %v", meta.TokenEndpoint)
	}
	if len(meta.CodeChallengeMethodsSupported) != 1 || meta.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", meta.CodeChallengeMethodsSupported)
	}

	w = doRequest(router, http.MethodGet, "/.well-known/oauth-protected-resource", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("protected resource metadata = %d", w.Code)
	}
	var resource struct {
		Resource             string   `json:"resource"`
		AuthorizationServers []string `json:"authorization_servers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resource); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if resource.Resource != testServerURL {
		t.Errorf("resource = %v, want %v", resource.Resource, testServerURL)
	}
	if len(resource.AuthorizationServers) != 1 || resource.AuthorizationServers[0] != testServerURL {
		t.Errorf("authorization_servers = %v, want [%v]", resource.AuthorizationServers, testServerURL)
	}
}
