package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/mcp"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/mcphost/pkg/llmutils"
)

// TimeNowFn is used to measure the run duration.
var TimeNowFn = time.Now

// RunStats provides the counters of one Chat.
type RunStats struct {
	Duration time.Duration `json:"duration"`
	State    string        `json:"state,omitempty"`

	Servers             uint32 `json:"servers"`
	TotalMessages       uint32 `json:"total_messages"`
	LLMCalls            uint32 `json:"llm_calls"`
	LLMBytesOut         uint64 `json:"llm_bytes_out"`
	LLMBytesIn          uint64 `json:"llm_bytes_in"`
	LLMInputTokens      uint64 `json:"llm_input_tokens"`
	LLMOutputTokens     uint64 `json:"llm_output_tokens"`
	LLMTotalTokens      uint64 `json:"llm_total_tokens"`
	ToolsCalls          uint32 `json:"tools_calls"`
	ToolsCallsSucceeded uint32 `json:"tools_calls_succeeded"`
	ToolsCallsFailed    uint32 `json:"tools_calls_failed"`
	ToolNotFound        uint32 `json:"tool_not_found"`
}

// Stats is a callback handler that collects RunStats.
type Stats struct {
	lock    sync.Mutex
	stats   RunStats
	started time.Time
}

func NewStats() *Stats {
	return &Stats{}
}

// Get returns a copy of the collected stats.
func (l *Stats) Get() RunStats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.stats
}

// Print writes the stats to w.
func (l *Stats) Print(w io.Writer) {
	s := l.Get()
	fmt.Fprintf(w, "Duration: %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "State: %s\n", s.State)
	fmt.Fprintf(w, "Servers: %d\n", s.Servers)
	fmt.Fprintf(w, "Messages: %d\n", s.TotalMessages)
	fmt.Fprintf(w, "LLM calls: %d, bytes out: %d, bytes in: %d\n", s.LLMCalls, s.LLMBytesOut, s.LLMBytesIn)
	fmt.Fprintf(w, "LLM tokens: input %d, output %d, total %d\n", s.LLMInputTokens, s.LLMOutputTokens, s.LLMTotalTokens)
	fmt.Fprintf(w, "Tool calls: %d, succeeded: %d, failed: %d, not found: %d\n",
		s.ToolsCalls, s.ToolsCallsSucceeded, s.ToolsCallsFailed, s.ToolNotFound)
}

func (l *Stats) update(fn func(s *RunStats)) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fn(&l.stats)
}

func (l *Stats) OnServerConnected(ctx context.Context, serverID string, tools []mcp.Tool) {
	l.update(func(s *RunStats) { s.Servers++ })
}

func (l *Stats) OnChatStart(ctx context.Context, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	servers := l.stats.Servers
	l.stats = RunStats{Servers: servers}
	l.started = TimeNowFn()
}

func (l *Stats) OnChatEnd(ctx context.Context, result *host.ChatResult) {
	l.update(func(s *RunStats) {
		s.Duration = TimeNowFn().Sub(l.started)
		s.State = string(result.State)
		s.TotalMessages = uint32(len(result.Messages))
	})
}

func (l *Stats) OnChatError(ctx context.Context, err error) {
	l.update(func(s *RunStats) {
		s.Duration = TimeNowFn().Sub(l.started)
		s.State = "FAILED"
	})
}

func (l *Stats) OnModelCallStart(ctx context.Context, model llms.Model, messages []llms.Message) {
	size := llmutils.CountMessagesContentSize(messages)
	l.update(func(s *RunStats) {
		s.LLMCalls++
		s.LLMBytesOut += size
	})
}

func (l *Stats) OnModelCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse) {
	size := llmutils.CountResponseContentSize(resp)
	in, out, total := llmutils.CountTokens(resp)
	l.update(func(s *RunStats) {
		s.LLMBytesIn += size
		s.LLMInputTokens += uint64(in)
		s.LLMOutputTokens += uint64(out)
		s.LLMTotalTokens += uint64(total)
	})
}

func (l *Stats) OnToolStart(ctx context.Context, serverID, toolName, args string) {
	l.update(func(s *RunStats) { s.ToolsCalls++ })
}

func (l *Stats) OnToolEnd(ctx context.Context, serverID, toolName, args string, result *mcp.ToolResult) {
	l.update(func(s *RunStats) {
		if result.IsError {
			s.ToolsCallsFailed++
		} else {
			s.ToolsCallsSucceeded++
		}
	})
}

func (l *Stats) OnToolError(ctx context.Context, serverID, toolName, args string, err error) {
	l.update(func(s *RunStats) { s.ToolsCallsFailed++ })
}

func (l *Stats) OnToolNotFound(ctx context.Context, toolName string) {
	l.update(func(s *RunStats) { s.ToolNotFound++ })
}
