package host_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/mcp"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tools(names ...string) []mcp.Tool {
	list := make([]mcp.Tool, len(names))
	for i, n := range names {
		list[i] = mcp.Tool{Name: n, Description: "tool " + n}
	}
	return list
}

func TestRegistry_CatalogLength(t *testing.T) {
	t.Parallel()

	f := gofakeit.New(42)
	r := host.NewRegistry(false)

	total := 0
	for i := range 5 {
		var names []string
		for range f.IntRange(0, 6) {
			// duplicates across servers are expected and counted
			names = append(names, f.Noun())
		}
		require.NoError(t, r.Register(fmt.Sprintf("server-%d", i), nil, tools(names...)))
		total += len(names)
	}
	assert.Len(t, r.Catalog(), total)
	assert.Equal(t, 5, r.Len())
}

func TestRegistry_Resolve(t *testing.T) {
	t.Parallel()

	r := host.NewRegistry(false)
	require.NoError(t, r.Register("fs", nil, tools("read_file", "write_file")))
	require.NoError(t, r.Register("web", nil, tools("fetch")))

	for name, exp := range map[string]string{
		"read_file":  "fs",
		"write_file": "fs",
		"fetch":      "web",
	} {
		id, err := r.Resolve(name)
		require.NoError(t, err)
		assert.Equal(t, exp, id, name)
	}

	_, err := r.Resolve("unknown")
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrToolNotRegistered))
	assert.Contains(t, err.Error(), `"unknown"`)
}

func TestRegistry_LaterRegistrationWins(t *testing.T) {
	t.Parallel()

	r := host.NewRegistry(false)
	require.NoError(t, r.Register("first", nil, tools("search")))
	require.NoError(t, r.Register("second", nil, tools("search")))

	id, err := r.Resolve("search")
	require.NoError(t, err)
	assert.Equal(t, "second", id)

	// both are listed to the model
	assert.Equal(t, []string{"search", "search"}, r.ToolNames())
}

func TestRegistry_CatalogOrder(t *testing.T) {
	t.Parallel()

	r := host.NewRegistry(false)
	require.NoError(t, r.Register("b", nil, tools("b1", "b2")))
	require.NoError(t, r.Register("a", nil, tools("a1")))
	require.NoError(t, r.Register("c", nil, tools("c2", "c1")))

	exp := tools("b1", "b2", "a1", "c2", "c1")
	if diff := cmp.Diff(exp, r.Catalog()); diff != "" {
		t.Fatalf("catalog mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"b", "a", "c"}, r.ServerIDs())

	// re-registering keeps the position and replaces the tools
	require.NoError(t, r.Register("b", nil, tools("b3")))
	assert.Equal(t, []string{"b", "a", "c"}, r.ServerIDs())
	assert.Equal(t, []string{"b3", "a1", "c2", "c1"}, r.ToolNames())

	h, ok := r.Server("b")
	require.True(t, ok)
	assert.Equal(t, "b", h.ID)
	assert.Len(t, h.Tools, 1)

	_, ok = r.Server("missing")
	assert.False(t, ok)
}

func TestRegistry_Strict(t *testing.T) {
	t.Parallel()

	r := host.NewRegistry(true)
	require.NoError(t, r.Register("first", nil, tools("search", "fetch")))

	err := r.Register("second", nil, tools("lookup", "search"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, host.ErrDuplicateTool))
	assert.Contains(t, err.Error(), `tool "search" is already provided by server "first"`)

	// rejected registration leaves no trace
	assert.Equal(t, 1, r.Len())
	_, err = r.Resolve("lookup")
	assert.True(t, errors.Is(err, host.ErrToolNotRegistered))

	// the owner may register again
	require.NoError(t, r.Register("first", nil, tools("search")))
}

func TestRegistry_EmptyID(t *testing.T) {
	t.Parallel()
	assert.Error(t, host.NewRegistry(false).Register("", nil, nil))
}

func TestRegistry_Concurrent(t *testing.T) {
	t.Parallel()

	r := host.NewRegistry(false)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(fmt.Sprintf("s%d", i), nil, tools(fmt.Sprintf("t%d", i)))
			_ = r.Catalog()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, r.Len())
	assert.Len(t, r.Catalog(), 20)
}

func TestToolDefinitions(t *testing.T) {
	t.Parallel()

	defs := host.ToolDefinitions([]mcp.Tool{
		{Name: "add", Description: "Add numbers", InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`)},
		{Name: "now"},
	})
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "add", defs[0].Function.Name)
	assert.Equal(t, "Add numbers", defs[0].Function.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"a":{"type":"number"}}}`, string(defs[0].Function.Parameters.(json.RawMessage)))
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(defs[1].Function.Parameters.(json.RawMessage)))

	assert.Empty(t, host.ToolDefinitions(nil))
}

func TestDecodeArguments(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", " ", "null"} {
		m, err := host.DecodeArguments(s)
		require.NoError(t, err)
		assert.Empty(t, m)
		assert.NotNil(t, m)
	}

	m, err := host.DecodeArguments(`{"a":2,"b":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": float64(2), "b": "x"}, m)

	for _, s := range []string{"[1,2]", `"text"`, "{", "42"} {
		_, err = host.DecodeArguments(s)
		assert.Error(t, err, s)
	}
}
