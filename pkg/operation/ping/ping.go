// Package ping provides the ping MCP tool.
package ping

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// PingTool answers with a pong naming the server owner, so a client can
// confirm which server instance it reached.
var PingTool = mcp.NewTool("ping",
	mcp.WithDescription("Simple ping tool to test connectivity. Returns a pong response naming the server owner."),
)

// NewPingHandler returns a handler that answers with the owner's identity.
// An empty ownerEmail yields a generic pong.
func NewPingHandler(ownerEmail string) func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner := ownerEmail
		if owner == "" {
			owner = "unknown"
		}
		return mcp.NewToolResultText(fmt.Sprintf("pong from %s's MCP server", owner)), nil
	}
}
