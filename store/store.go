// Package store persists chat transcripts so a conversation can be resumed
// by its chat id.
package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcphost", "store")

// DefaultMaxMessages is the number of most recent messages kept per chat.
const DefaultMaxMessages = 100

// Supported store kinds.
const (
	KindMemory = "memory"
	KindRedis  = "redis"
)

var (
	// ErrChatIDRequired is returned when an operation is called without a chat id.
	ErrChatIDRequired = errors.New("chat id is required")
	// ErrChatNotFound is returned by GetChatInfo for an unknown chat.
	ErrChatNotFound = errors.New("chat not found")
)

// ChatInfo describes a persisted chat.
type ChatInfo struct {
	ChatID    string         `json:"chat_id"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Messages  []llms.Message `json:"messages,omitempty"`
}

// MessageStore keeps the messages of chats.
type MessageStore interface {
	// Messages returns the stored messages of the chat, oldest first.
	Messages(ctx context.Context, chatID string) ([]llms.Message, error)
	// Add appends messages to the chat, keeping the most recent ones.
	Add(ctx context.Context, chatID string, msgs ...llms.Message) error
	// Reset removes the chat.
	Reset(ctx context.Context, chatID string) error
	// UpdateChat sets the title and merges metadata, creating the chat if needed.
	UpdateChat(ctx context.Context, chatID, title string, metadata map[string]any) error
	// GetChatInfo returns the chat with its messages.
	GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error)
	// ListChats returns the ids of the stored chats.
	ListChats(ctx context.Context) ([]string, error)
}

// Config specifies the store.
type Config struct {
	// Kind is memory|redis, memory when empty.
	Kind string `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=memory redis"`
	// RedisURL is the connection URL, for example redis://localhost:6379/0
	RedisURL string `json:"redis_url,omitempty" yaml:"redis_url,omitempty" validate:"required_if=Kind redis"`
	// Prefix is prepended to the redis keys.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// MaxMessages limits the messages kept per chat.
	MaxMessages int `json:"max_messages,omitempty" yaml:"max_messages,omitempty" validate:"gte=0"`
}

// New returns the store specified by cfg.
func New(cfg *Config) (MessageStore, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	maxMessages := values.NumbersCoalesce(cfg.MaxMessages, DefaultMaxMessages)

	switch values.StringsCoalesce(cfg.Kind, KindMemory) {
	case KindMemory:
		return NewMemoryStore(maxMessages), nil
	case KindRedis:
		options, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "invalid redis URL")
		}
		return NewRedisStore(redis.NewClient(options), cfg.Prefix, maxMessages), nil
	default:
		return nil, errors.Newf("unsupported store kind: %q", cfg.Kind)
	}
}

// NewChatID returns a new random chat id.
func NewChatID() string {
	return uuid.NewString()
}

// ChatTitle returns a title for the chat from its first human message.
func ChatTitle(msgs []llms.Message) string {
	for _, m := range msgs {
		if m.Role == llms.RoleHuman {
			if text := m.GetText(); text != "" {
				return truncate(text, 64)
			}
		}
	}
	return "New Chat"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
