// Command simple-mcp-server runs an MCP server whose tools are protected by
// an in-process OAuth 2.1 authorization flow. MCP clients connect over the
// streamable HTTP transport (/mcp) or the legacy SSE transport
// (/sse + /message); both sit behind the same Bearer middleware.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcp-labs/simple-mcp-server/pkg/access"
	"github.com/mcp-labs/simple-mcp-server/pkg/config"
	"github.com/mcp-labs/simple-mcp-server/pkg/core"
	"github.com/mcp-labs/simple-mcp-server/pkg/identity"
	"github.com/mcp-labs/simple-mcp-server/pkg/logger"
	"github.com/mcp-labs/simple-mcp-server/pkg/oauth"
	"github.com/mcp-labs/simple-mcp-server/pkg/operation"
	"github.com/mcp-labs/simple-mcp-server/pkg/store"
	"github.com/mcp-labs/simple-mcp-server/pkg/token"
)

// MCPServer wraps the underlying MCP server instance.
type MCPServer struct {
	server *server.MCPServer
}

// NewMCPServer creates and configures a new MCPServer instance with the
// default tools and the tool observability middleware.
func NewMCPServer(ownerEmail string) *MCPServer {
	mcpServer := server.NewMCPServer(
		"simple-mcp-server",
		"1.1.0",
		server.WithToolCapabilities(true),
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(operation.ToolHandlerMiddleware()),
	)

	operation.RegisterCommonTool(mcpServer, ownerEmail)

	return &MCPServer{
		server: mcpServer,
	}
}

// ServeHTTP returns a streamable HTTP server that injects the auth token
// from HTTP requests into the context.
func (s *MCPServer) ServeHTTP() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s.server,
		server.WithHeartbeatInterval(30*time.Second),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = core.AuthFromRequest(ctx, r)
			return core.WithRequestID(ctx)
		}),
	)
}

// ServeSSE returns the legacy SSE server for clients that don't support
// streamable HTTP. It mounts /sse and /message.
func (s *MCPServer) ServeSSE() *server.SSEServer {
	return server.NewSSEServer(s.server,
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			ctx = core.AuthFromRequest(ctx, r)
			return core.WithRequestID(ctx)
		}),
	)
}

func main() {
	var addr string
	var logLevel string
	var configPath string
	var serverURL string
	var identityURL string
	var identityKey string
	var cloudURL string
	var storeType string
	var redisAddr string
	var redisPassword string
	var redisDB int
	flag.StringVar(&addr, "addr", ":8000", "address to listen on")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.StringVar(&configPath, "config", "", "path to the local config file (default ~/.simple-mcp-server/config.json)")
	flag.StringVar(&serverURL, "server-url", "", "public URL of this server (overrides the tunnel URL from the config)")
	flag.StringVar(&identityURL, "identity-url", os.Getenv("IDENTITY_URL"), "base URL of the identity service; empty accepts any login")
	flag.StringVar(&identityKey, "identity-key", os.Getenv("IDENTITY_ANON_KEY"), "API key for the identity service")
	flag.StringVar(&cloudURL, "cloud-url", os.Getenv("CLOUD_URL"), "base URL of the shared-access policy service; empty disables shared access")
	flag.StringVar(&storeType, "store", "memory", "Store type: memory or redis")
	flag.StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address (only used when store=redis)")
	flag.StringVar(&redisPassword, "redis-password", "", "Redis password (only used when store=redis)")
	flag.IntVar(&redisDB, "redis-db", 0, "Redis database (only used when store=redis)")
	flag.Parse()

	logger.NewWithLevel(logLevel)

	cfg := config.Load(configPath)
	if serverURL != "" {
		cfg.TunnelURL = serverURL
	}
	slog.Info("Config loaded", "valid", cfg.IsValid(), "email", cfg.Email, "server_url", cfg.ServerURL())

	// Session store
	storeConfig := store.Config{
		Type: store.ParseStoreType(storeType),
		Redis: store.RedisOptions{
			Addr:     redisAddr,
			Password: redisPassword,
			DB:       redisDB,
		},
	}
	sessionStore, err := store.NewStore(storeConfig)
	if err != nil {
		slog.Error("Failed to create store", "type", storeType, "error", err)
		os.Exit(1)
	}
	switch storeConfig.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", redisAddr, "db", redisDB)
	}

	// Credential signer
	signer := token.NewSigner("")

	// Identity backend
	var identityProvider identity.Provider
	if identityURL != "" {
		identityProvider = identity.NewHTTPProvider(identityURL, identityKey)
		slog.Info("Using HTTP identity provider", "url", identityURL)
	} else {
		identityProvider = &identity.StaticProvider{}
		slog.Warn("No identity backend configured, any login will be accepted")
	}

	// Shared-access policy backend
	var policyChecker access.Checker
	if cloudURL != "" {
		policyChecker = access.NewClient(cloudURL)
		slog.Info("Using shared-access policy service", "url", cloudURL)
	}

	mcpServer := NewMCPServer(cfg.Email)

	router := gin.Default()
	router.Use(oauth.CORSMiddleware())

	// Authorization flow endpoints
	flow := oauth.NewFlow(sessionStore, signer, identityProvider, cfg)
	flow.RegisterRoutes(router)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Protected MCP endpoints: both transports behind the same middleware.
	authMiddleware := oauth.RequireAuth(signer, cfg, policyChecker)

	streamable := mcpServer.ServeHTTP()
	for _, method := range []string{http.MethodPost, http.MethodGet, http.MethodDelete} {
		router.Handle(method, "/mcp", authMiddleware, gin.WrapH(streamable))
	}

	sseServer := mcpServer.ServeSSE()
	router.GET("/sse", authMiddleware, gin.WrapH(sseServer))
	router.POST("/message", authMiddleware, gin.WrapH(sseServer))

	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second, // 10 seconds
		WriteTimeout: 10 * time.Second, // 10 seconds
		IdleTimeout:  60 * time.Second, // 60 seconds
	}

	slog.Info("MCP HTTP server listening", "addr", addr)

	m := graceful.NewManager()
	m.AddRunningJob(func(ctx context.Context) error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		if redisStore, ok := sessionStore.(*store.RedisStore); ok {
			redisStore.Close()
		}
		slog.Info("Server shutdown gracefully")
		return nil
	})
	<-m.Done()
}
