package host_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/mocks/mockllms"
	"github.com/effective-security/mcphost/pkg/llms"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type addInput struct {
	A float64 `json:"a,omitempty"`
	B float64 `json:"b,omitempty"`
}

type searchInput struct {
	Query string `json:"query"`
}

func calcServer() *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "calc", Version: "v0.0.1"}, nil)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "add", Description: "Add two numbers"},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in addInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprint(in.A + in.B)}},
			}, nil, nil
		})
	return srv
}

func searchServer(name string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: "v0.0.1"}, nil)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{Name: "search", Description: "Search " + name},
		func(_ context.Context, _ *mcpsdk.CallToolRequest, in searchInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: name + ": " + in.Query}},
			}, nil, nil
		})
	return srv
}

// connectServer runs srv over an in-memory transport and connects it to h.
func connectServer(t *testing.T, h *host.Host, id string, srv *mcpsdk.Server) {
	t.Helper()
	ctx := context.Background()
	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })
	require.NoError(t, h.ConnectTransport(ctx, id, ct))
}

func newHost(t *testing.T, model llms.Model, opts ...host.Option) *host.Host {
	t.Helper()
	h, err := host.New(model, append([]host.Option{host.WithSettleDelay(0)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func newModel(t *testing.T) *mockllms.MockModel {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("gpt-4o").AnyTimes()
	return m
}

func toolCallResponse(calls ...llms.ToolCall) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{ToolCalls: calls}},
	}
}

func textResponse(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}
}

func call(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func lastToolResponse(t *testing.T, msgs []llms.Message) llms.ToolCallResponse {
	t.Helper()
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1]
	require.Equal(t, llms.RoleTool, last.Role)
	require.Len(t, last.Parts, 1)
	resp, ok := last.Parts[0].(llms.ToolCallResponse)
	require.True(t, ok)
	return resp
}

func conversation() []llms.Message {
	return []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a calculator."),
		llms.MessageFromTextParts(llms.RoleHuman, "what is 2+3?"),
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := host.New(nil)
	assert.EqualError(t, err, "model is required")

	h, err := host.New(newModel(t))
	require.NoError(t, err)
	cfg := h.Config()
	assert.Equal(t, host.DefaultTemperature, cfg.Temperature)
	assert.Equal(t, host.DefaultTopP, cfg.TopP)
	assert.Equal(t, llms.ResponseFormatText, cfg.ResponseFormat)
	assert.Equal(t, time.Second, cfg.SettleDelay)
	assert.Equal(t, 0, cfg.MaxRounds)
	assert.NotNil(t, h.Registry())
	assert.Empty(t, h.Tools())

	// nothing opened, nothing to wait for
	require.NoError(t, h.Close())
}

func TestChat_NoServers(t *testing.T) {
	t.Parallel()

	// no expectations: any model call fails the test
	ctrl := gomock.NewController(t)
	h := newHost(t, mockllms.NewMockModel(ctrl))

	res, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, host.ErrNoServers))
}

func TestChat_ScenarioAdd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newModel(t)
	h := newHost(t, model, host.WithModel("openai/gpt-4o"))
	connectServer(t, h, "calc", calcServer())

	input := conversation()
	inputCopy := append([]llms.Message(nil), input...)

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
				assert.Len(t, msgs, 2)

				opts := llms.NewCallOptions(options...)
				assert.Equal(t, "openai/gpt-4o", opts.Model)
				assert.Equal(t, 1.0, *opts.Temperature)
				assert.Equal(t, 1.0, *opts.TopP)
				assert.Equal(t, "text", opts.ResponseFormat.Type)
				require.Len(t, opts.Tools, 1)
				assert.Equal(t, "add", opts.Tools[0].Function.Name)

				var schema map[string]any
				require.NoError(t, json.Unmarshal(opts.Tools[0].Function.Parameters.(json.RawMessage), &schema))
				assert.Equal(t, "object", schema["type"])

				return toolCallResponse(call("call_1", "add", `{"a":2,"b":3}`)), nil
			}),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				require.Len(t, msgs, 4)
				assert.Equal(t, llms.RoleAI, msgs[2].Role)
				tc, ok := msgs[2].Parts[0].(llms.ToolCall)
				require.True(t, ok)
				assert.Equal(t, "call_1", tc.ID)
				assert.Equal(t, `{"a":2,"b":3}`, tc.FunctionCall.Arguments)

				resp := lastToolResponse(t, msgs)
				assert.Equal(t, "call_1", resp.ToolCallID)
				assert.Equal(t, "add", resp.Name)
				assert.Equal(t, "5", resp.Content)
				return textResponse("2+3 is 5"), nil
			}),
	)

	res, err := h.Chat(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, host.StateDone, res.State)
	assert.Equal(t, "2+3 is 5", res.Answer)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 1, res.ToolCalls)
	require.Len(t, res.Messages, 5)
	assert.Equal(t, llms.RoleAI, res.Messages[4].Role)
	assert.Equal(t, "2+3 is 5", res.Messages[4].GetText())

	// caller's conversation is not modified
	assert.Equal(t, inputCopy, input)
}

func TestChat_ScenarioDuplicateSearch(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "alpha", searchServer("alpha"))
	connectServer(t, h, "beta", searchServer("beta"))

	id, err := h.Registry().Resolve("search")
	require.NoError(t, err)
	assert.Equal(t, "beta", id)
	assert.Len(t, h.Tools(), 2)

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, _ []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
				assert.Len(t, llms.NewCallOptions(options...).Tools, 2)
				return toolCallResponse(call("", "search", `{"query":"go"}`)), nil
			}),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				resp := lastToolResponse(t, msgs)
				assert.Equal(t, "search_0", resp.ToolCallID)
				assert.Equal(t, "beta: go", resp.Content)
				return textResponse("found"), nil
			}),
	)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "found", res.Answer)
}

func TestChat_GeneratedIDsUniqueAcrossRounds(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(call("", "add", `{"a":1,"b":1}`)), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(
				call("", "add", `{"a":2,"b":2}`),
				call("", "add", `{"a":3,"b":3}`),
			), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(textResponse("done"), nil),
	)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCalls)

	var ids []string
	for _, m := range res.Messages {
		if m.Role != llms.RoleTool {
			continue
		}
		ids = append(ids, m.Parts[0].(llms.ToolCallResponse).ToolCallID)
	}
	assert.Equal(t, []string{"add_0", "add_1", "add_2"}, ids)
}

func TestChat_ScenarioSingleRound(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(textResponse("I can answer that directly: 5"), nil).
		Times(1)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, host.StateDone, res.State)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 0, res.ToolCalls)
	require.Len(t, res.Messages, 3)
	assert.Equal(t, "I can answer that directly: 5", res.Messages[2].GetText())
}

func TestChat_MultipleChoices(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&llms.ContentResponse{Choices: []*llms.ContentChoice{
			{Content: "first"},
			{Content: ""},
			{Content: "second"},
		}}, nil)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "first\n\nsecond", res.Answer)
}

func TestChat_ToolErrorsReportedToModel(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(
				call("c1", "subtract", `{"a":1}`),
				call("c2", "add", `[1,2]`),
				call("c3", "add", ``),
			), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				require.Len(t, msgs, 8)
				for i, exp := range []string{"c1", "c2", "c3"} {
					ai := msgs[2+2*i]
					assert.Equal(t, llms.RoleAI, ai.Role)
					assert.Equal(t, exp, ai.Parts[0].(llms.ToolCall).ID)
					tool := msgs[3+2*i]
					assert.Equal(t, exp, tool.Parts[0].(llms.ToolCallResponse).ToolCallID)
				}

				notFound := msgs[3].Parts[0].(llms.ToolCallResponse).Content
				assert.Equal(t, "Tool `subtract` not found. Please check the tool name and try again with exact match. Available tools: add", notFound)

				badArgs := msgs[5].Parts[0].(llms.ToolCallResponse).Content
				assert.True(t, strings.HasPrefix(badArgs, "Tool `add` arguments must be a JSON object"), badArgs)

				// empty arguments are sent as an empty object
				assert.Equal(t, "0", msgs[7].Parts[0].(llms.ToolCallResponse).Content)
				return textResponse("done"), nil
			}),
	)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCalls)
}

func TestChat_ToolCallErrorPropagates(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	errBroken := errors.New("broken pipe")
	s := &fakeSession{
		tools: tools("echo"),
		call: func(context.Context, string, map[string]any) (*mcp.ToolResult, error) {
			return nil, errBroken
		},
	}
	require.NoError(t, h.ConnectSession(context.Background(), "echo", s))

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolCallResponse(call("c1", "echo", `{}`)), nil)

	res, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errBroken))
	assert.Contains(t, err.Error(), `server "echo"`)
}

func TestChat_ServerReportedError(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	s := &fakeSession{
		tools: tools("echo"),
		call: func(context.Context, string, map[string]any) (*mcp.ToolResult, error) {
			return &mcp.ToolResult{Content: "permission denied", IsError: true}, nil
		},
	}
	require.NoError(t, h.ConnectSession(context.Background(), "echo", s))

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(call("c1", "echo", `{}`)), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				assert.Equal(t, "permission denied", lastToolResponse(t, msgs).Content)
				return textResponse("sorry"), nil
			}),
	)

	_, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
}

func TestChat_ModelError(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	errAPI := errors.New("API returned unexpected status code: 500")
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errAPI)

	_, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errAPI))
	assert.Contains(t, err.Error(), "failed to generate content from LLM")
}

func TestChat_EmptyResponse(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model)
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(&llms.ContentResponse{}, nil)

	_, err := h.Chat(context.Background(), conversation())
	assert.True(t, errors.Is(err, host.ErrEmptyResponse))
}

func TestChat_MaxRounds(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model, host.WithMaxRounds(2))
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolCallResponse(call("", "add", `{"a":1,"b":1}`)), nil).
		Times(2)

	res, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrBudgetExceeded))
	assert.Contains(t, err.Error(), "max rounds 2 reached")
	require.NotNil(t, res)
	assert.Equal(t, host.StateAborted, res.State)
	assert.Equal(t, 2, res.Rounds)
	assert.Equal(t, 2, res.ToolCalls)
	assert.Empty(t, res.Answer)
	assert.Len(t, res.Messages, 6)
}

func TestChat_MaxToolCalls(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model, host.WithMaxToolCalls(1))
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(toolCallResponse(
			call("c1", "add", `{"a":1,"b":1}`),
			call("c2", "add", `{"a":2,"b":2}`),
		), nil)

	res, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrBudgetExceeded))
	require.NotNil(t, res)
	assert.Equal(t, host.StateAborted, res.State)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, 0, res.ToolCalls)
	assert.Len(t, res.Messages, 2)
}

func TestChat_ToolTimeout(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model, host.WithToolTimeout(20*time.Millisecond))
	s := &fakeSession{
		tools: tools("slow"),
		call: func(ctx context.Context, _ string, _ map[string]any) (*mcp.ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, h.ConnectSession(context.Background(), "slow", s))

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(call("c1", "slow", `{}`)), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				assert.Equal(t, "Tool `slow` timed out after 20ms.", lastToolResponse(t, msgs).Content)
				return textResponse("the tool is slow"), nil
			}),
	)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, "the tool is slow", res.Answer)
}

func TestChat_ModelTimeout(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model, host.WithModelTimeout(20*time.Millisecond))
	connectServer(t, h, "calc", calcServer())

	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := h.Chat(context.Background(), conversation())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "model call timed out after 20ms")
}

func TestChat_ParallelTools(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	h := newHost(t, model, host.WithParallelTools(true))

	// every call waits until all three are in flight
	var started sync.WaitGroup
	started.Add(3)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	s := &fakeSession{
		tools: tools("a", "b", "c"),
		call: func(_ context.Context, name string, _ map[string]any) (*mcp.ToolResult, error) {
			started.Done()
			select {
			case <-allStarted:
			case <-time.After(5 * time.Second):
				return nil, errors.New("calls were not concurrent")
			}
			// finish in reverse order
			time.Sleep(time.Duration('c'-name[0]) * 10 * time.Millisecond)
			return &mcp.ToolResult{Content: "result " + name}, nil
		},
	}
	require.NoError(t, h.ConnectSession(context.Background(), "abc", s))

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(call("1", "a", ""), call("2", "b", ""), call("3", "c", "")), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, msgs []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
				require.Len(t, msgs, 8)
				for i, name := range []string{"a", "b", "c"} {
					assert.Equal(t, name, msgs[2+2*i].Parts[0].(llms.ToolCall).FunctionCall.Name)
					assert.Equal(t, "result "+name, msgs[3+2*i].Parts[0].(llms.ToolCallResponse).Content)
				}
				return textResponse("ok"), nil
			}),
	)

	res, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ToolCalls)
}

func TestChat_Callback(t *testing.T) {
	t.Parallel()

	model := newModel(t)
	cb := &recorder{}
	h := newHost(t, model, host.WithCallback(cb))
	connectServer(t, h, "calc", calcServer())

	gomock.InOrder(
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(toolCallResponse(call("c1", "add", `{"a":2,"b":3}`), call("c2", "nope", `{}`)), nil),
		model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(textResponse("5"), nil),
	)

	_, err := h.Chat(context.Background(), conversation())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"connected calc [add]",
		"chat start 2",
		"model start 2",
		"model end",
		"tool start calc add",
		"tool end calc add 5",
		"tool not found nope",
		"model start 6",
		"model end",
		"chat end DONE 5",
	}, cb.events())
}

func TestClose_ReverseOrderOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	model := newModel(t)
	h, err := host.New(model, host.WithSettleDelay(10*time.Millisecond))
	require.NoError(t, err)

	var log closeLog
	errClose := errors.New("close failed")
	first := &fakeSession{id: "first", tools: tools("a"), log: &log}
	broken := &fakeSession{id: "broken", listErr: errors.New("list failed"), log: &log, closeErr: errClose}
	third := &fakeSession{id: "third", tools: tools("c"), log: &log}

	require.NoError(t, h.ConnectSession(ctx, "first", first))
	require.Error(t, h.ConnectSession(ctx, "broken", broken))
	require.NoError(t, h.ConnectSession(ctx, "third", third))
	assert.Equal(t, 2, h.Registry().Len())

	// the conversation fails mid-run
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))
	_, err = h.Chat(ctx, conversation())
	require.Error(t, err)

	started := time.Now()
	err = h.Close()
	assert.True(t, errors.Is(err, errClose))
	assert.GreaterOrEqual(t, time.Since(started), 10*time.Millisecond)
	assert.Equal(t, []string{"third", "broken", "first"}, log.list())

	require.NoError(t, h.Close())
	assert.Equal(t, []string{"third", "broken", "first"}, log.list())
	for _, s := range []*fakeSession{first, broken, third} {
		assert.Equal(t, 1, s.closes, s.id)
	}
}

func TestConnect_StrictDuplicate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHost(t, newModel(t), host.WithStrictToolNames(true))
	connectServer(t, h, "alpha", searchServer("alpha"))

	ct, st := mcpsdk.NewInMemoryTransports()
	ss, err := searchServer("beta").Connect(ctx, st, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()

	err = h.ConnectTransport(ctx, "beta", ct)
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrDuplicateTool))
	assert.Equal(t, []string{"alpha"}, h.Registry().ServerIDs())
}

func TestConnect_Config(t *testing.T) {
	t.Parallel()

	h := newHost(t, newModel(t))
	tcases := []struct {
		cfg *host.ServerConfig
		err string
	}{
		{cfg: nil, err: "server configuration is missing"},
		{cfg: &host.ServerConfig{Command: "npx"}, err: "Field validation for 'ID' failed on the 'required' tag"},
		{cfg: &host.ServerConfig{ID: "x", Transport: "grpc", URL: "http://localhost"}, err: "failed on the 'oneof' tag"},
		{cfg: &host.ServerConfig{ID: "x"}, err: `server "x": command is required for stdio transport`},
		{cfg: &host.ServerConfig{ID: "x", Transport: "http"}, err: `server "x": url is required for http transport`},
		{cfg: &host.ServerConfig{ID: "x", Transport: "sse", URL: "not a url"}, err: "failed on the 'url' tag"},
	}
	for _, tc := range tcases {
		err := h.Connect(context.Background(), tc.cfg)
		require.Error(t, err)
		assert.True(t, errors.Is(err, host.ErrInvalidServerConfig), err.Error())
		assert.Contains(t, err.Error(), tc.err)
	}

	valid := &host.ServerConfig{ID: "x", Transport: "http", URL: "http://localhost:8080/mcp"}
	assert.NoError(t, valid.Validate())
	assert.Equal(t, host.TransportStdio, (&host.ServerConfig{}).GetTransport())
}

func TestConnect_StdioFailure(t *testing.T) {
	t.Parallel()

	h := newHost(t, newModel(t))
	err := h.Connect(context.Background(), &host.ServerConfig{
		ID:      "missing",
		Command: "/nonexistent/mcp-server-binary",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `server "missing"`)
	assert.Equal(t, 0, h.Registry().Len())
}

type closeLog struct {
	lock sync.Mutex
	ids  []string
}

func (l *closeLog) add(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.ids = append(l.ids, id)
}

func (l *closeLog) list() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]string(nil), l.ids...)
}

type fakeSession struct {
	id       string
	tools    []mcp.Tool
	listErr  error
	closeErr error
	call     func(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
	log      *closeLog
	closes   int
}

func (s *fakeSession) ListTools(context.Context) ([]mcp.Tool, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.tools, nil
}

func (s *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	if s.call == nil {
		return &mcp.ToolResult{Content: name}, nil
	}
	return s.call(ctx, name, args)
}

func (s *fakeSession) Close() error {
	s.closes++
	if s.log != nil {
		s.log.add(s.id)
	}
	return s.closeErr
}

type recorder struct {
	lock sync.Mutex
	list []string
}

var _ host.Callback = (*recorder)(nil)

func (r *recorder) add(format string, args ...any) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.list = append(r.list, fmt.Sprintf(format, args...))
}

func (r *recorder) events() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.list...)
}

func (r *recorder) OnServerConnected(_ context.Context, id string, tools []mcp.Tool) {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	r.add("connected %s %v", id, names)
}

func (r *recorder) OnChatStart(_ context.Context, msgs []llms.Message) {
	r.add("chat start %d", len(msgs))
}

func (r *recorder) OnChatEnd(_ context.Context, res *host.ChatResult) {
	r.add("chat end %s %s", res.State, res.Answer)
}

func (r *recorder) OnChatError(_ context.Context, err error) {
	r.add("chat error %s", err.Error())
}

func (r *recorder) OnModelCallStart(_ context.Context, _ llms.Model, msgs []llms.Message) {
	r.add("model start %d", len(msgs))
}

func (r *recorder) OnModelCallEnd(context.Context, llms.Model, *llms.ContentResponse) {
	r.add("model end")
}

func (r *recorder) OnToolStart(_ context.Context, serverID, toolName, _ string) {
	r.add("tool start %s %s", serverID, toolName)
}

func (r *recorder) OnToolEnd(_ context.Context, serverID, toolName, _ string, res *mcp.ToolResult) {
	r.add("tool end %s %s %s", serverID, toolName, res.Content)
}

func (r *recorder) OnToolError(_ context.Context, serverID, toolName, _ string, err error) {
	r.add("tool error %s %s %s", serverID, toolName, err.Error())
}

func (r *recorder) OnToolNotFound(_ context.Context, toolName string) {
	r.add("tool not found %s", toolName)
}
