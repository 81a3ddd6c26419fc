package host

import (
	"context"

	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/llms"
)

// Callback receives the events of the Host.
// Implementations must be safe for concurrent use when ParallelTools is set.
type Callback interface {
	OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool)

	OnChatStart(ctx context.Context, messages []llms.Message)
	OnChatEnd(ctx context.Context, result *ChatResult)
	OnChatError(ctx context.Context, err error)

	OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message)
	OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, serverID, toolName, args string)
	OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult)
	OnToolError(ctx context.Context, serverID, toolName, args string, err error)
	OnToolNotFound(ctx context.Context, toolName string)
}
