package host

import (
	"time"

	"github.com/effective-security/mcphost/pkg/llms"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultTemperature is the neutral sampling temperature.
	DefaultTemperature = 1.0
	// DefaultTopP is the neutral nucleus sampling value.
	DefaultTopP = 1.0
	// DefaultSettleDelay is the pause after Close to let subprocesses and
	// streams finish their teardown.
	DefaultSettleDelay = time.Second
)

// Option is a function that can be used to modify the behavior of the Host Config.
type Option func(*Config)

// Config holds the settings of the Host.
type Config struct {
	// Model overrides the model name sent with each request.
	Model string
	// Temperature for sampling.
	Temperature float64
	// TopP for nucleus sampling.
	TopP float64
	// ResponseFormat hints the expected response format.
	ResponseFormat *llms.ResponseFormat

	// MaxRounds limits the model round-trips of one Chat, 0 means no limit.
	MaxRounds int
	// MaxToolCalls limits the tool calls of one Chat, 0 means no limit.
	MaxToolCalls int

	// ModelTimeout bounds each model call, 0 means no timeout.
	ModelTimeout time.Duration
	// ToolTimeout bounds each tool call, 0 means no timeout.
	ToolTimeout time.Duration
	// SettleDelay is the pause after Close.
	SettleDelay time.Duration

	// ParallelTools runs the tool calls of one response concurrently.
	ParallelTools bool
	// StrictToolNames rejects servers advertising a tool name that is
	// already provided by another server.
	StrictToolNames bool

	// Callback receives the conversation events, optional.
	Callback Callback
	// Client is the MCP client used to connect servers, optional.
	Client *mcpsdk.Client
}

// NewConfig returns a Config with defaults, modified by opts.
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		Temperature:    DefaultTemperature,
		TopP:           DefaultTopP,
		ResponseFormat: llms.ResponseFormatText,
		SettleDelay:    DefaultSettleDelay,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithModel sets the model name sent with each request.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
	}
}

// WithTopP sets the nucleus sampling value.
func WithTopP(topP float64) Option {
	return func(o *Config) {
		o.TopP = topP
	}
}

// WithResponseFormat sets the response format hint.
func WithResponseFormat(format *llms.ResponseFormat) Option {
	return func(o *Config) {
		o.ResponseFormat = format
	}
}

// WithMaxRounds limits the model round-trips of one Chat.
func WithMaxRounds(n int) Option {
	return func(o *Config) {
		o.MaxRounds = n
	}
}

// WithMaxToolCalls limits the tool calls of one Chat.
func WithMaxToolCalls(n int) Option {
	return func(o *Config) {
		o.MaxToolCalls = n
	}
}

// WithModelTimeout bounds each model call.
func WithModelTimeout(d time.Duration) Option {
	return func(o *Config) {
		o.ModelTimeout = d
	}
}

// WithToolTimeout bounds each tool call.
func WithToolTimeout(d time.Duration) Option {
	return func(o *Config) {
		o.ToolTimeout = d
	}
}

// WithSettleDelay sets the pause after Close, 0 disables it.
func WithSettleDelay(d time.Duration) Option {
	return func(o *Config) {
		o.SettleDelay = d
	}
}

// WithParallelTools enables concurrent tool calls within one response.
func WithParallelTools(parallel bool) Option {
	return func(o *Config) {
		o.ParallelTools = parallel
	}
}

// WithStrictToolNames rejects duplicate tool names across servers.
func WithStrictToolNames(strict bool) Option {
	return func(o *Config) {
		o.StrictToolNames = strict
	}
}

// WithCallback sets the callback handler.
func WithCallback(cb Callback) Option {
	return func(o *Config) {
		o.Callback = cb
	}
}

// WithClient sets the MCP client used to connect servers.
func WithClient(client *mcpsdk.Client) Option {
	return func(o *Config) {
		o.Client = client
	}
}
