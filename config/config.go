// Package config provides the configuration of the mcphost CLI.
package config

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/host"
	"github.com/effective-security/mcphost/pkg/llmfactory"
	"github.com/effective-security/mcphost/store"
	"github.com/effective-security/x/configloader"
	"github.com/go-playground/validator/v10"
)

// Config is the configuration file of the CLI.
type Config struct {
	// LLM specifies the inference providers.
	LLM llmfactory.Config `json:"llm" yaml:"llm"`
	// Servers specifies the MCP servers to connect.
	Servers []*host.ServerConfig `json:"servers" yaml:"servers"`
	// Chat specifies the conversation settings.
	Chat ChatConfig `json:"chat" yaml:"chat"`
	// Store specifies where transcripts are kept.
	Store store.Config `json:"store" yaml:"store"`
}

// ChatConfig specifies the conversation settings.
// Durations are Go duration strings, like 30s or 2m.
type ChatConfig struct {
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	TopP        *float64 `json:"top_p,omitempty" yaml:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`

	MaxRounds    int `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty" validate:"gte=0"`
	MaxToolCalls int `json:"max_tool_calls,omitempty" yaml:"max_tool_calls,omitempty" validate:"gte=0"`

	ModelTimeout string `json:"model_timeout,omitempty" yaml:"model_timeout,omitempty"`
	ToolTimeout  string `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty"`
	SettleDelay  string `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`

	ParallelTools   bool `json:"parallel_tools,omitempty" yaml:"parallel_tools,omitempty"`
	StrictToolNames bool `json:"strict_tool_names,omitempty" yaml:"strict_tool_names,omitempty"`
}

// Load returns the configuration from file, an empty file name returns
// the default configuration.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if file != "" {
		if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
			return nil, errors.WithMessagef(err, "failed to load config %q", file)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns an error if the configuration is not valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	ids := map[string]bool{}
	for _, s := range c.Servers {
		if err := s.Validate(); err != nil {
			return err
		}
		if ids[s.ID] {
			return errors.Newf("duplicate server id %q", s.ID)
		}
		ids[s.ID] = true
	}

	for name, val := range map[string]string{
		"model_timeout": c.Chat.ModelTimeout,
		"tool_timeout":  c.Chat.ToolTimeout,
		"settle_delay":  c.Chat.SettleDelay,
	} {
		if d, err := parseDuration(val, 0); err != nil {
			return errors.Wrapf(err, "invalid chat.%s", name)
		} else if d < 0 {
			return errors.Newf("invalid chat.%s: must not be negative", name)
		}
	}
	return nil
}

// HostOptions returns the host options of the chat settings.
func (c *ChatConfig) HostOptions() []host.Option {
	opts := []host.Option{
		host.WithModel(c.Model),
		host.WithMaxRounds(c.MaxRounds),
		host.WithMaxToolCalls(c.MaxToolCalls),
		host.WithParallelTools(c.ParallelTools),
		host.WithStrictToolNames(c.StrictToolNames),
	}
	if c.Temperature != nil {
		opts = append(opts, host.WithTemperature(*c.Temperature))
	}
	if c.TopP != nil {
		opts = append(opts, host.WithTopP(*c.TopP))
	}
	// validated by Load
	modelTimeout, _ := parseDuration(c.ModelTimeout, 0)
	toolTimeout, _ := parseDuration(c.ToolTimeout, 0)
	settleDelay, _ := parseDuration(c.SettleDelay, host.DefaultSettleDelay)

	return append(opts,
		host.WithModelTimeout(modelTimeout),
		host.WithToolTimeout(toolTimeout),
		host.WithSettleDelay(settleDelay),
	)
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
