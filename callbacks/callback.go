// Package callbacks provides host.Callback implementations for printing,
// logging and collecting statistics of a conversation.
package callbacks

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ host.Callback = (*Noop)(nil)
	_ host.Callback = (*Printer)(nil)
	_ host.Callback = (*PackageLogger)(nil)
	_ host.Callback = (*Fanout)(nil)
	_ host.Callback = (*Stats)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []host.Callback
}

func NewFanout(callbacks ...host.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback host.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool) {
	for _, callback := range l.callbacks {
		callback.OnServerConnected(ctx, serverID, tools)
	}
}

func (l *Fanout) OnChatStart(ctx context.Context, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnChatStart(ctx, messages)
	}
}

func (l *Fanout) OnChatEnd(ctx context.Context, result *host.ChatResult) {
	for _, callback := range l.callbacks {
		callback.OnChatEnd(ctx, result)
	}
}

func (l *Fanout) OnChatError(ctx context.Context, err error) {
	for _, callback := range l.callbacks {
		callback.OnChatError(ctx, err)
	}
}

func (l *Fanout) OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnModelCallStart(ctx, model, messages)
	}
}

func (l *Fanout) OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnModelCallEnd(ctx, model, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, serverID, toolName, args string) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, serverID, toolName, args)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, serverID, toolName, args, result)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, serverID, toolName, args string, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, serverID, toolName, args, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, toolName string) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, toolName)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool) {}
func (l *Noop) OnChatStart(ctx context.Context, messages []llms.Message)                 {}
func (l *Noop) OnChatEnd(ctx context.Context, result *host.ChatResult)                   {}
func (l *Noop) OnChatError(ctx context.Context, err error)                               {}
func (l *Noop) OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
}
func (l *Noop) OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
}
func (l *Noop) OnToolStart(ctx context.Context, serverID, toolName, args string) {}
func (l *Noop) OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult) {
}
func (l *Noop) OnToolError(ctx context.Context, serverID, toolName, args string, err error) {}
func (l *Noop) OnToolNotFound(ctx context.Context, toolName string)                        {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "\nConnected to server '%s' with tools: [%s]\n", serverID, strings.Join(toolNames(tools), ", "))
}

func (l *Printer) OnChatStart(ctx context.Context, messages []llms.Message) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Chat Start: %d messages\n", len(messages))
}

func (l *Printer) OnChatEnd(ctx context.Context, result *host.ChatResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "[Model Response]: %s\n", result.Answer)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Chat End: %s, %d rounds, %d tool calls\n", result.State, result.Rounds, result.ToolCalls)
	}
}

func (l *Printer) OnChatError(ctx context.Context, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Chat Error: %s\n", err.Error())
}

func (l *Printer) OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call: %s model, %d messages\n", model.GetName(), len(messages))
}

func (l *Printer) OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Model Call End: %s model, %d choices, %d tool calls\n", model.GetName(), len(resp.Choices), len(resp.ToolCalls()))
}

func (l *Printer) OnToolStart(ctx context.Context, serverID, toolName, args string) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", toolName, serverID)
}

func (l *Printer) OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	content := result.Content
	if l.Mode != ModeVerbose {
		content = slices.StringUpto(content, 256)
	}
	fmt.Fprintf(l.Out, "[Server '%s' call tool '%s' with args %s]: %s\n", serverID, toolName, args, content)
}

func (l *Printer) OnToolError(ctx context.Context, serverID, toolName, args string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", toolName, serverID, err.Error())
}

func (l *Printer) OnToolNotFound(ctx context.Context, toolName string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", toolName)
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "server_connected",
		"server", serverID,
		"tools", toolNames(tools),
	)
}

func (l *PackageLogger) OnChatStart(ctx context.Context, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "chat_start",
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnChatEnd(ctx context.Context, result *host.ChatResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "chat_end",
		"state", result.State,
		"rounds", result.Rounds,
		"tool_calls", result.ToolCalls,
		"answer", slices.StringUpto(result.Answer, 64),
	)
}

func (l *PackageLogger) OnChatError(ctx context.Context, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "chat_error",
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_start",
		"model", model.GetName(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "model_call_end",
		"model", model.GetName(),
		"choices", len(resp.Choices),
		"tool_calls", len(resp.ToolCalls()),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, serverID, toolName, args string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"server", serverID,
		"tool", toolName,
		"args", args,
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"server", serverID,
		"tool", toolName,
		"is_error", result.IsError,
		"output", slices.StringUpto(result.Content, 64),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, serverID, toolName, args string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"server", serverID,
		"tool", toolName,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, toolName string) {
	l.logger.ContextKV(ctx, xlog.WARNING,
		"event", "tool_not_found",
		"tool", toolName,
	)
}

func toolNames(tools []mcp.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}
