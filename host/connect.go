package host

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/go-playground/validator/v10"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Supported server transports.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

// ServerConfig describes how to connect to one MCP server.
type ServerConfig struct {
	// ID identifies the server in the registry.
	ID string `json:"id" yaml:"id" validate:"required"`
	// Transport is one of stdio|http|sse, stdio when empty.
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty" validate:"omitempty,oneof=stdio http sse"`

	// Command and Args launch a stdio server.
	Command string   `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`
	// Env is added to the environment of a stdio server.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// URL is the endpoint of an http or sse server.
	URL string `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	// Headers are sent with every request to an http or sse server.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// GetTransport returns the transport, stdio when not set.
func (c *ServerConfig) GetTransport() string {
	return values.StringsCoalesce(c.Transport, TransportStdio)
}

// Validate returns an error marked as ErrInvalidServerConfig when the
// configuration cannot be used to connect.
func (c *ServerConfig) Validate() error {
	if c == nil {
		return errors.Mark(errors.New("server configuration is missing"), ErrInvalidServerConfig)
	}
	if err := validator.New().Struct(c); err != nil {
		return errors.Mark(errors.Wrapf(err, "server %q", c.ID), ErrInvalidServerConfig)
	}
	switch c.GetTransport() {
	case TransportStdio:
		if c.Command == "" {
			return errors.Mark(errors.Newf("server %q: command is required for stdio transport", c.ID), ErrInvalidServerConfig)
		}
	default:
		if c.URL == "" {
			return errors.Mark(errors.Newf("server %q: url is required for %s transport", c.ID, c.Transport), ErrInvalidServerConfig)
		}
	}
	return nil
}

// Connect connects the server described by cfg.
func (h *Host) Connect(ctx context.Context, cfg *ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	switch cfg.GetTransport() {
	case TransportHTTP:
		return h.ConnectHTTP(ctx, cfg.ID, cfg.URL, cfg.Headers)
	case TransportSSE:
		return h.ConnectSSE(ctx, cfg.ID, cfg.URL, cfg.Headers)
	default:
		return h.ConnectStdio(ctx, cfg.ID, cfg.Command, cfg.Args, cfg.Env)
	}
}

// ConnectStdio launches command as a subprocess and connects to it over
// stdin/stdout.
func (h *Host) ConnectStdio(ctx context.Context, id, command string, args []string, env map[string]string) error {
	return h.ConnectTransport(ctx, id, mcp.StdioTransport(command, args, env))
}

// ConnectHTTP connects to a streamable HTTP server.
func (h *Host) ConnectHTTP(ctx context.Context, id, url string, headers map[string]string) error {
	return h.ConnectTransport(ctx, id, mcp.HTTPTransport(url, headers))
}

// ConnectSSE connects to a server-sent events server.
func (h *Host) ConnectSSE(ctx context.Context, id, url string, headers map[string]string) error {
	return h.ConnectTransport(ctx, id, mcp.SSETransport(url, headers))
}

// ConnectTransport performs the handshake over transport, then lists and
// registers the tools of the server.
func (h *Host) ConnectTransport(ctx context.Context, id string, transport mcpsdk.Transport) error {
	session, err := mcp.Connect(ctx, h.cfg.Client, transport)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "failed_to_connect",
			"server", id,
			"err", err.Error(),
		)
		return errors.WithMessagef(err, "server %q", id)
	}
	return h.ConnectSession(ctx, id, session)
}

// ConnectSession registers an established session.
// The session is released by Close even when listing its tools fails.
func (h *Host) ConnectSession(ctx context.Context, id string, session mcp.Session) error {
	started := time.Now()
	h.closers.push(id, session)

	tools, err := session.ListTools(ctx)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "failed_to_list_tools",
			"server", id,
			"err", err.Error(),
		)
		return errors.WithMessagef(err, "server %q", id)
	}

	if err = h.registry.Register(id, session, tools); err != nil {
		return err
	}

	metricskey.StatsServersRegistered.IncrCounter(1, id)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "registered",
		"server", id,
		"tools", len(tools),
		"list_elapsed", time.Since(started).String(),
	)
	if h.cfg.Callback != nil {
		h.cfg.Callback.OnServerConnected(ctx, id, tools)
	}
	return nil
}
