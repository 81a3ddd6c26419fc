package host

import "github.com/cockroachdb/errors"

var (
	// ErrNoServers is returned by Chat when no server is connected.
	ErrNoServers = errors.New("no servers connected")
	// ErrToolNotRegistered is returned when no server advertised the tool.
	ErrToolNotRegistered = errors.New("tool not registered")
	// ErrDuplicateTool is returned in strict mode when a tool name
	// is already routed to another server.
	ErrDuplicateTool = errors.New("duplicate tool name")
	// ErrBudgetExceeded is returned when the conversation is aborted
	// because MaxRounds or MaxToolCalls was reached.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrEmptyResponse is returned when the model response has no choices.
	ErrEmptyResponse = errors.New("empty response from model")
	// ErrInvalidServerConfig is returned when a server configuration fails validation.
	ErrInvalidServerConfig = errors.New("invalid server configuration")
)
