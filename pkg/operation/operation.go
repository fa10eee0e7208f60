// Package operation registers the MCP tools exposed by the server and the
// observability middleware around their handlers. The tool set is
// deliberately swappable: nothing in the authorization core depends on what
// the tools do.
package operation

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/mcp-labs/simple-mcp-server/pkg/operation/echo"
	"github.com/mcp-labs/simple-mcp-server/pkg/operation/ping"
)

// RegisterCommonTool registers the default tools (echo, ping) to the given
// MCPServer instance. ownerEmail personalizes the ping response.
func RegisterCommonTool(s *server.MCPServer, ownerEmail string) {
	tool := &Tool{}

	tool.RegisterRead(server.ServerTool{
		Tool:    echo.EchoMessageTool,
		Handler: echo.HandleEchoMessageTool,
	})
	tool.RegisterRead(server.ServerTool{
		Tool:    ping.PingTool,
		Handler: ping.NewPingHandler(ownerEmail),
	})

	s.AddTools(tool.Tools()...)
}

// Tool manages collections of tools to be registered with an MCPServer,
// split by read and write operations.
type Tool struct {
	write []server.ServerTool
	read  []server.ServerTool
}

// RegisterWrite registers a ServerTool as a write operation.
func (t *Tool) RegisterWrite(s server.ServerTool) {
	t.write = append(t.write, s)
}

// RegisterRead registers a ServerTool as a read operation.
func (t *Tool) RegisterRead(s server.ServerTool) {
	t.read = append(t.read, s)
}

// Tools returns all registered ServerTools, write tools first.
func (t *Tool) Tools() []server.ServerTool {
	tools := make([]server.ServerTool, 0, len(t.write)+len(t.read))
	tools = append(tools, t.write...)
	tools = append(tools, t.read...)
	return tools
}
