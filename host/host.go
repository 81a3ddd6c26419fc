// Package host connects to MCP servers, routes the tool calls requested by an
// inference model to the server that owns the tool, and drives the
// conversation until the model answers in text.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/pkg/llmutils"
	"github.com/effective-security/mcphost/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphost", "host")

// State is the terminal state of a Chat.
type State string

const (
	// StateDone means the model answered without requesting tools.
	StateDone State = "DONE"
	// StateAborted means a budget was exhausted before the model answered.
	StateAborted State = "ABORTED"
)

// ChatResult is the outcome of a Chat.
type ChatResult struct {
	State State `json:"state"`
	// Messages is the full conversation, including the input messages.
	Messages []llms.Message `json:"messages"`
	// Answer is the final text of the model, empty when aborted.
	Answer string `json:"answer,omitempty"`
	// Rounds is the number of model calls.
	Rounds int `json:"rounds"`
	// ToolCalls is the number of tool calls requested by the model.
	ToolCalls int `json:"tool_calls"`
}

// Host is a tool-routing session over a set of connected MCP servers.
type Host struct {
	model    llms.Model
	cfg      *Config
	registry *Registry
	closers  closeStack
}

// New returns a Host that uses model for inference.
func New(model llms.Model, opts ...Option) (*Host, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	cfg := NewConfig(opts...)
	return &Host{
		model:    model,
		cfg:      cfg,
		registry: NewRegistry(cfg.StrictToolNames),
	}, nil
}

// Config returns the effective configuration.
func (h *Host) Config() *Config {
	return h.cfg
}

// Registry returns the server registry.
func (h *Host) Registry() *Registry {
	return h.registry
}

// Tools returns the flattened tool catalog.
func (h *Host) Tools() []mcp.Tool {
	return h.registry.Catalog()
}

// Close releases every opened session in reverse order, each once,
// then waits for SettleDelay. It is safe to call Close more than once.
func (h *Host) Close() error {
	if h.closers.len() == 0 {
		return nil
	}
	err := h.closers.closeAll()
	if h.cfg.SettleDelay > 0 {
		time.Sleep(h.cfg.SettleDelay)
	}
	return err
}

// Chat runs the conversation until the model answers without requesting
// tools, or a budget is exhausted. The messages slice is not modified.
//
// When a budget is exhausted the partial result is returned in the
// StateAborted state together with ErrBudgetExceeded.
func (h *Host) Chat(ctx context.Context, messages []llms.Message) (*ChatResult, error) {
	if h.registry.Len() == 0 {
		return nil, errors.WithStack(ErrNoServers)
	}

	cfg := h.cfg
	modelName := values.StringsCoalesce(cfg.Model, h.model.GetName())

	started := time.Now()
	defer metricskey.PerfChatRun.MeasureSince(started, modelName)

	if cfg.Callback != nil {
		cfg.Callback.OnChatStart(ctx, messages)
	}

	res, err := h.run(ctx, messages, modelName)
	if err != nil {
		if errors.Is(err, ErrBudgetExceeded) {
			metricskey.StatsChatRunsAborted.IncrCounter(1, modelName)
			logger.ContextKV(ctx, xlog.WARNING,
				"status", "aborted",
				"model", modelName,
				"rounds", res.Rounds,
				"tool_calls", res.ToolCalls,
				"err", err.Error(),
			)
		} else {
			metricskey.StatsChatRunsFailed.IncrCounter(1, modelName)
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "failed",
				"model", modelName,
				"err", err.Error(),
			)
		}
		if cfg.Callback != nil {
			cfg.Callback.OnChatError(ctx, err)
		}
		return res, err
	}

	metricskey.StatsChatRunsSucceeded.IncrCounter(1, modelName)
	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "done",
		"model", modelName,
		"rounds", res.Rounds,
		"tool_calls", res.ToolCalls,
	)
	if cfg.Callback != nil {
		cfg.Callback.OnChatEnd(ctx, res)
	}
	return res, nil
}

func (h *Host) run(ctx context.Context, messages []llms.Message, modelName string) (*ChatResult, error) {
	cfg := h.cfg

	conversation := make([]llms.Message, 0, len(messages)+8)
	conversation = append(conversation, messages...)

	catalog := h.registry.Catalog()
	availableTools := strings.Join(h.registry.ToolNames(), ", ")

	callOpts := []llms.CallOption{
		llms.WithTemperature(cfg.Temperature),
		llms.WithTopP(cfg.TopP),
		llms.WithTools(ToolDefinitions(catalog)),
	}
	if cfg.Model != "" {
		callOpts = append(callOpts, llms.WithModel(cfg.Model))
	}
	if cfg.ResponseFormat != nil {
		callOpts = append(callOpts, llms.WithResponseFormat(cfg.ResponseFormat))
	}

	res := &ChatResult{}
	aborted := func(format string, args ...any) (*ChatResult, error) {
		res.State = StateAborted
		res.Messages = conversation
		return res, errors.WithMessagef(ErrBudgetExceeded, format, args...)
	}

	for {
		if cfg.MaxRounds > 0 && res.Rounds >= cfg.MaxRounds {
			return aborted("max rounds %d reached", cfg.MaxRounds)
		}

		resp, err := h.generate(ctx, conversation, modelName, callOpts)
		if err != nil {
			return nil, err
		}
		res.Rounds++

		toolCalls := resp.ToolCalls()
		if len(toolCalls) == 0 {
			res.State = StateDone
			res.Answer = resp.Content()
			conversation = append(conversation, llms.MessageFromTextParts(llms.RoleAI, res.Answer))
			res.Messages = conversation
			return res, nil
		}

		if cfg.MaxToolCalls > 0 && res.ToolCalls+len(toolCalls) > cfg.MaxToolCalls {
			return aborted("max tool calls %d reached", cfg.MaxToolCalls)
		}
		offset := res.ToolCalls
		res.ToolCalls += len(toolCalls)

		conversation, err = h.executeToolCalls(ctx, conversation, toolCalls, offset, availableTools)
		if err != nil {
			return nil, err
		}
	}
}

func (h *Host) generate(ctx context.Context, conversation []llms.Message, modelName string, callOpts []llms.CallOption) (*llms.ContentResponse, error) {
	cfg := h.cfg
	if cfg.Callback != nil {
		cfg.Callback.OnModelCallStart(ctx, h.model, conversation)
	}

	bytesSent := llmutils.CountMessagesContentSize(conversation)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(conversation)), modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), modelName)

	callCtx := ctx
	if cfg.ModelTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ModelTimeout)
		defer cancel()
	}

	started := time.Now()
	resp, err := h.model.GenerateContent(callCtx, conversation, callOpts...)
	metricskey.PerfModelCall.MeasureSince(started, modelName)
	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrapf(err, "model call timed out after %s", cfg.ModelTimeout)
		}
		return nil, errors.Wrap(err, "failed to generate content from LLM")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.WithStack(ErrEmptyResponse)
	}

	if cfg.Callback != nil {
		cfg.Callback.OnModelCallEnd(ctx, h.model, resp)
	}

	bytesReceived := llmutils.CountResponseContentSize(resp)
	metricskey.StatsLLMBytesReceived.IncrCounter(float64(bytesReceived), modelName)
	metricskey.StatsLLMBytesTotal.IncrCounter(float64(bytesSent+bytesReceived), modelName)

	tokensIn, tokensOut, tokensTotal := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), modelName)
	metricskey.StatsLLMTotalTokens.IncrCounter(float64(tokensTotal), modelName)

	return resp, nil
}

// executeToolCalls appends a request message and a result message for every
// tool call, in the order of toolCalls.
// Missing ids are numbered from offset, the count of earlier calls of the chat.
func (h *Host) executeToolCalls(ctx context.Context, conversation []llms.Message, toolCalls []llms.ToolCall, offset int, availableTools string) ([]llms.Message, error) {
	for i := range toolCalls {
		tc := &toolCalls[i]
		if tc.FunctionCall == nil {
			tc.FunctionCall = &llms.FunctionCall{}
		}
		if tc.ID == "" {
			tc.ID = fmt.Sprintf("%s_%d", tc.FunctionCall.Name, offset+i)
		}
		tc.Type = values.StringsCoalesce(tc.Type, "function")
	}

	if !h.cfg.ParallelTools {
		for _, tc := range toolCalls {
			conversation = append(conversation, llms.MessageFromToolCalls(llms.RoleAI, tc))
			content, err := h.callTool(ctx, tc, availableTools)
			if err != nil {
				return conversation, err
			}
			conversation = append(conversation, toolResponse(tc, content))
		}
		return conversation, nil
	}

	type toolCallResult struct {
		content string
		err     error
	}

	results := make([]toolCallResult, len(toolCalls))
	var wg sync.WaitGroup
	wg.Add(len(toolCalls))
	for i, toolCall := range toolCalls {
		go func(index int, tc llms.ToolCall) {
			defer wg.Done()
			content, err := h.callTool(ctx, tc, availableTools)
			results[index] = toolCallResult{content: content, err: err}
		}(i, toolCall)
	}
	wg.Wait()

	for i, tc := range toolCalls {
		conversation = append(conversation, llms.MessageFromToolCalls(llms.RoleAI, tc))
		if results[i].err != nil {
			return conversation, results[i].err
		}
		conversation = append(conversation, toolResponse(tc, results[i].content))
	}
	return conversation, nil
}

func toolResponse(tc llms.ToolCall, content string) llms.Message {
	return llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
		ToolCallID: tc.ID,
		Name:       tc.FunctionCall.Name,
		Content:    content,
	})
}

// callTool returns the content for the tool result message.
// Unknown tools, invalid arguments and timeouts are reported to the model
// as content; other failures are returned as error.
func (h *Host) callTool(ctx context.Context, tc llms.ToolCall, availableTools string) (string, error) {
	cfg := h.cfg
	toolName := tc.FunctionCall.Name
	toolArgs := tc.FunctionCall.Arguments

	serverID, err := h.registry.Resolve(toolName)
	if err != nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolNotFound(ctx, toolName)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_not_found",
			"tool_name", toolName,
			"available_tools", availableTools,
		)
		return fmt.Sprintf("Tool `%s` not found. Please check the tool name and try again with exact match. Available tools: %s", toolName, availableTools), nil
	}

	args, err := DecodeArguments(toolArgs)
	if err != nil {
		metricskey.StatsToolCallsInvalidArgs.IncrCounter(1, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolError(ctx, serverID, toolName, toolArgs, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "invalid_arguments",
			"server", serverID,
			"tool_name", toolName,
			"err", err.Error(),
		)
		return fmt.Sprintf("Tool `%s` arguments must be a JSON object: %s. Please check the input schema and try again.", toolName, err.Error()), nil
	}

	handle, ok := h.registry.Server(serverID)
	if !ok {
		return "", errors.Newf("server %q is not registered", serverID)
	}

	if cfg.Callback != nil {
		cfg.Callback.OnToolStart(ctx, serverID, toolName, toolArgs)
	}

	callCtx := ctx
	cancel := func() {}
	if cfg.ToolTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
	}

	started := time.Now()
	res, err := handle.Session.CallTool(callCtx, toolName, args)
	timedOut := err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()
	metricskey.PerfToolCall.MeasureSince(started, serverID, toolName)

	if timedOut {
		metricskey.StatsToolCallsTimedOut.IncrCounter(1, serverID, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolError(ctx, serverID, toolName, toolArgs, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_timed_out",
			"server", serverID,
			"tool_name", toolName,
			"timeout", cfg.ToolTimeout.String(),
		)
		return fmt.Sprintf("Tool `%s` timed out after %s.", toolName, cfg.ToolTimeout), nil
	}
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, serverID, toolName)
		if cfg.Callback != nil {
			cfg.Callback.OnToolError(ctx, serverID, toolName, toolArgs, err)
		}
		return "", errors.WithMessagef(err, "server %q", serverID)
	}

	if res.IsError {
		metricskey.StatsToolCallsFailed.IncrCounter(1, serverID, toolName)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, serverID, toolName)
	}
	if cfg.Callback != nil {
		cfg.Callback.OnToolEnd(ctx, serverID, toolName, toolArgs, res)
	}
	return res.Content, nil
}

// DecodeArguments parses the tool arguments produced by the model.
// Empty or null arguments decode to an empty object.
func DecodeArguments(args string) (map[string]any, error) {
	s := strings.TrimSpace(args)
	if s == "" || s == "null" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, errors.Wrap(err, "invalid tool arguments")
	}
	return m, nil
}
