package store_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MemoryStore(t *testing.T) {
	t.Parallel()
	testStore(t, store.NewMemoryStore(3))
}

// testStore runs the conformance checks against st, which must keep
// at most 3 messages per chat.
func testStore(t *testing.T, st store.MessageStore) {
	ctx := context.Background()

	msg1 := llms.MessageFromTextParts(llms.RoleHuman, "Hello")
	msg2 := llms.MessageFromTextParts(llms.RoleAI, "Hi there!")

	assert.ErrorIs(t, st.Reset(ctx, ""), store.ErrChatIDRequired)
	assert.ErrorIs(t, st.Add(ctx, "", msg1), store.ErrChatIDRequired)
	assert.ErrorIs(t, st.UpdateChat(ctx, "", "", nil), store.ErrChatIDRequired)
	_, err := st.Messages(ctx, "")
	assert.ErrorIs(t, err, store.ErrChatIDRequired)
	_, err = st.GetChatInfo(ctx, "")
	assert.ErrorIs(t, err, store.ErrChatIDRequired)

	chatID := store.NewChatID()
	msgs, err := st.Messages(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = st.GetChatInfo(ctx, chatID)
	assert.True(t, errors.Is(err, store.ErrChatNotFound))

	require.NoError(t, st.Add(ctx, chatID, msg1, msg2))

	msgs, err = st.Messages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, llms.RoleHuman, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].GetText())
	assert.Equal(t, "Hi there!", msgs[1].GetText())

	info, err := st.GetChatInfo(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, chatID, info.ChatID)
	assert.Equal(t, "New Chat", info.Title)
	assert.Len(t, info.Messages, 2)
	assert.False(t, info.CreatedAt.IsZero())

	require.NoError(t, st.UpdateChat(ctx, chatID, "Greetings", map[string]any{"model": "gpt-4o"}))
	info, err = st.GetChatInfo(ctx, chatID)
	require.NoError(t, err)
	assert.Equal(t, "Greetings", info.Title)
	assert.Equal(t, "gpt-4o", info.Metadata["model"])
	assert.False(t, info.UpdatedAt.Before(info.CreatedAt))

	// tool messages survive the round trip
	call := llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "add", Arguments: `{"a":2,"b":3}`}}
	require.NoError(t, st.Add(ctx, chatID,
		llms.MessageFromToolCalls(llms.RoleAI, call),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "c1", Name: "add", Content: "5"}),
	))

	// only the 3 most recent are kept
	msgs, err = st.Messages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Hi there!", msgs[0].GetText())
	assert.Equal(t, call, msgs[1].Parts[0])
	assert.Equal(t, llms.ToolCallResponse{ToolCallID: "c1", Name: "add", Content: "5"}, msgs[2].Parts[0])

	other := store.NewChatID()
	require.NoError(t, st.UpdateChat(ctx, other, "", nil))
	list, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Contains(t, list, chatID)
	assert.Contains(t, list, other)

	require.NoError(t, st.Reset(ctx, chatID))
	msgs, err = st.Messages(ctx, chatID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	list, err = st.ListChats(ctx)
	require.NoError(t, err)
	assert.NotContains(t, list, chatID)
}

func TestNew(t *testing.T) {
	t.Parallel()

	st, err := store.New(nil)
	require.NoError(t, err)
	assert.NotNil(t, st)

	st, err = store.New(&store.Config{Kind: "redis", RedisURL: "redis://localhost:6379/0", Prefix: "test"})
	require.NoError(t, err)
	assert.NotNil(t, st)

	_, err = store.New(&store.Config{Kind: "redis", RedisURL: "localhost"})
	assert.ErrorContains(t, err, "invalid redis URL")

	_, err = store.New(&store.Config{Kind: "sql"})
	assert.EqualError(t, err, `unsupported store kind: "sql"`)
}

func TestChatTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "New Chat", store.ChatTitle(nil))
	assert.Equal(t, "what is 2+3?", store.ChatTitle([]llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a calculator."),
		llms.MessageFromTextParts(llms.RoleHuman, "what is 2+3?"),
	}))
	long := "Please list all of the files in the current directory and summarize each one of them"
	title := store.ChatTitle([]llms.Message{llms.MessageFromTextParts(llms.RoleHuman, long)})
	assert.Equal(t, long[:64]+"...", title)

	assert.NotEqual(t, store.NewChatID(), store.NewChatID())
}
