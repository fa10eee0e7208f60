package oauth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mcp-labs/simple-mcp-server/pkg/access"
	"github.com/mcp-labs/simple-mcp-server/pkg/config"
	"github.com/mcp-labs/simple-mcp-server/pkg/core"
	"github.com/mcp-labs/simple-mcp-server/pkg/token"
)

// RequireAuth validates the Bearer token and applies the owner-or-shared
// access decision. Every protected entry point (the streamable HTTP
// transport and the legacy SSE transport) mounts this same handler, so the
// decision logic cannot diverge between them.
func RequireAuth(signer *token.Signer, cfg *config.Config, checker access.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		serverURL := cfg.ServerURL()
		logger := core.LoggerFromCtx(c.Request.Context())

		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			logger.Info("Request rejected: no Bearer token")
			unauthorized(c, serverURL, "Missing or invalid Authorization header")
			return
		}

		claims, err := signer.Verify(strings.TrimPrefix(authHeader, "Bearer "), serverURL, token.TypeAccess)
		if err != nil {
			logger.Info("Request rejected: invalid or expired token")
			unauthorized(c, serverURL, "Invalid or expired token")
			return
		}

		decision := access.Authorize(c.Request.Context(), cfg.UserID, cfg.RobotName, claims.Subject, checker)
		if !decision.Allowed {
			logger.Warn("Access denied", "user_id", claims.Subject)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":             "forbidden",
				"error_description": "Access denied: not authorized for this server",
			})
			return
		}
		logger.Info("Request authorized", "reason", decision.Reason, "email", claims.Email)

		ctx := core.WithUser(c.Request.Context(), &core.AuthenticatedUser{
			ID:    claims.Subject,
			Email: claims.Email,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// unauthorized writes the 401 response with a WWW-Authenticate header
// pointing at the protected-resource discovery document (RFC 9728).
func unauthorized(c *gin.Context, serverURL, description string) {
	c.Header("WWW-Authenticate",
		`Bearer resource_metadata="`+serverURL+`/.well-known/oauth-protected-resource"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "unauthorized",
		"error_description": description,
	})
}

// CORSMiddleware is an optimized CORS handler for Gin.
// It merges allowed headers with defaults and sets standard options.
func CORSMiddleware(allowedHeaders ...string) gin.HandlerFunc {
	defaultHeaders := []string{"Mcp-Protocol-Version", "Authorization", "Content-Type"}
	headers := defaultHeaders
	for _, h := range allowedHeaders {
		hNorm := strings.TrimSpace(h)
		if hNorm != "" && hNorm != "*" && !containsCI(headers, hNorm) {
			headers = append(headers, hNorm)
		}
	}
	headersList := strings.Join(headers, ", ")

	allowedMethods := "GET, POST, DELETE, OPTIONS"
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Vary", "Origin")
		c.Header("Access-Control-Allow-Methods", allowedMethods)
		c.Header("Access-Control-Allow-Headers", headersList)
		c.Header("Access-Control-Max-Age", "86400")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// containsCI checks if slice contains item (case-insensitive).
func containsCI(slice []string, item string) bool {
	item = strings.ToLower(item)
	for _, s := range slice {
		if strings.ToLower(s) == item {
			return true
		}
	}
	return false
}
