// Package echo provides the echo_message MCP tool.
package echo

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// EchoMessageTool returns the input message prefixed with "Echo: ". Useful
// for testing connectivity and tool invocation end to end.
var EchoMessageTool = mcp.NewTool("echo_message",
	mcp.WithDescription(`Echo back the input message, prefixed with "Echo: ". Useful for testing connectivity, argument passing, and tool integration.`),
	mcp.WithString("message",
		mcp.Description("The message to echo back in the response."),
		mcp.Required(),
	),
)

// HandleEchoMessageTool is the handler function for the MCP tool "echo_message".
func HandleEchoMessageTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message, ok := req.GetArguments()["message"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid message argument")
	}
	return mcp.NewToolResultText(fmt.Sprintf("Echo: %s", message)), nil
}
