// Package mcp wraps the MCP client SDK with the narrow session surface the
// host needs: list the advertised tools, call a tool, close.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphost", "mcp")

const (
	// ClientName is reported to servers during the handshake.
	ClientName = "mcphost"
	// ClientVersion is reported to servers during the handshake.
	ClientVersion = "v1.0.0"
)

// Tool is a capability advertised by a server.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolResult is the flattened result of a tool invocation.
type ToolResult struct {
	// Content is the textual rendering of the returned content blocks.
	Content string
	// IsError is set when the server reported the call as failed.
	IsError bool
}

// Session is a live connection to one MCP server.
type Session interface {
	// ListTools returns the tools advertised by the server, following
	// pagination until the last page.
	ListTools(ctx context.Context) ([]Tool, error)
	// CallTool invokes the named tool with arguments.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)
	// Close releases the connection and its transport.
	Close() error
}

// NewClient returns an SDK client identifying itself as mcphost.
func NewClient() *mcpsdk.Client {
	return mcpsdk.NewClient(&mcpsdk.Implementation{Name: ClientName, Version: ClientVersion}, nil)
}

// ClientSession implements Session over an SDK client session.
type ClientSession struct {
	cs *mcpsdk.ClientSession
}

var _ Session = (*ClientSession)(nil)

// Connect performs the transport handshake and returns the session.
func Connect(ctx context.Context, client *mcpsdk.Client, transport mcpsdk.Transport) (*ClientSession, error) {
	if client == nil {
		client = NewClient()
	}
	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect")
	}
	if res := cs.InitializeResult(); res != nil && res.ServerInfo != nil {
		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "connected",
			"server", res.ServerInfo.Name,
			"version", res.ServerInfo.Version,
		)
	}
	return &ClientSession{cs: cs}, nil
}

// ListTools implements Session.
func (s *ClientSession) ListTools(ctx context.Context) ([]Tool, error) {
	var list []Tool
	params := &mcpsdk.ListToolsParams{}
	for {
		res, err := s.cs.ListTools(ctx, params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to list tools")
		}
		for _, t := range res.Tools {
			tool, err := toTool(t)
			if err != nil {
				return nil, err
			}
			list = append(list, tool)
		}
		if res.NextCursor == "" || res.NextCursor == params.Cursor {
			break
		}
		params = &mcpsdk.ListToolsParams{Cursor: res.NextCursor}
	}
	return list, nil
}

// CallTool implements Session.
func (s *ClientSession) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	res, err := s.cs.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool %q", name)
	}
	return &ToolResult{
		Content: FlattenContent(res),
		IsError: res.IsError,
	}, nil
}

// Close implements Session.
func (s *ClientSession) Close() error {
	return errors.WithStack(s.cs.Close())
}

func toTool(t *mcpsdk.Tool) (Tool, error) {
	tool := Tool{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema != nil {
		js, err := json.Marshal(t.InputSchema)
		if err != nil {
			return Tool{}, errors.Wrapf(err, "invalid input schema for tool %q", t.Name)
		}
		tool.InputSchema = js
	}
	return tool, nil
}
