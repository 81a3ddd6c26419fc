package store

import (
	"context"
	"encoding/json"
	"maps"
	"path"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/pkg/llms"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The redis store keeps each chat in three keys:
// - `<prefix>/chatstore/messages/<chatID>` list of JSON encoded messages
// - `<prefix>/chatstore/info/<chatID>` JSON encoded ChatInfo without messages
// - `<prefix>/chatstore/chats` set of chat IDs

type redisStore struct {
	client      *redis.Client
	prefix      string
	maxMessages int
}

// NewRedisStore returns a store backed by Redis.
func NewRedisStore(client *redis.Client, prefix string, maxMessages int) MessageStore {
	return &redisStore{
		client:      client,
		prefix:      prefix,
		maxMessages: maxMessages,
	}
}

func (m *redisStore) getRedisMessagesKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "messages", chatID)
}

func (m *redisStore) getRedisChatInfoKey(chatID string) string {
	return path.Join(m.prefix, "chatstore", "info", chatID)
}

func (m *redisStore) getRedisChatListKey() string {
	return path.Join(m.prefix, "chatstore", "chats")
}

func (m *redisStore) Messages(ctx context.Context, chatID string) ([]llms.Message, error) {
	if chatID == "" {
		return nil, ErrChatIDRequired
	}

	data, err := m.client.LRange(ctx, m.getRedisMessagesKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get messages from Redis")
	}

	messages := make([]llms.Message, 0, len(data))
	for _, item := range data {
		var msg llms.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"reason", "unmarshal_message",
				"chat_id", chatID,
				"err", err.Error(),
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func (m *redisStore) Add(ctx context.Context, chatID string, msgs ...llms.Message) error {
	if chatID == "" {
		return ErrChatIDRequired
	}
	if len(msgs) == 0 {
		return nil
	}

	items := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal message")
		}
		items = append(items, data)
	}

	key := m.getRedisMessagesKey(chatID)
	pipe := m.client.Pipeline()
	pipe.RPush(ctx, key, items...)
	if m.maxMessages > 0 {
		pipe.LTrim(ctx, key, int64(-m.maxMessages), -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store messages in Redis")
	}

	// Update the time
	return m.UpdateChat(ctx, chatID, "", nil)
}

func (m *redisStore) Reset(ctx context.Context, chatID string) error {
	if chatID == "" {
		return ErrChatIDRequired
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, m.getRedisMessagesKey(chatID))
	pipe.Del(ctx, m.getRedisChatInfoKey(chatID))
	pipe.SRem(ctx, m.getRedisChatListKey(), chatID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to reset chat in Redis")
	}
	return nil
}

func (m *redisStore) UpdateChat(ctx context.Context, chatID, title string, metadata map[string]any) error {
	if chatID == "" {
		return ErrChatIDRequired
	}

	chat, isNew, err := m.getChatInfo(ctx, chatID)
	if err != nil {
		return err
	}
	if isNew {
		chat = &ChatInfo{
			ChatID:    chatID,
			Title:     "New Chat",
			CreatedAt: time.Now(),
		}
	}
	if title != "" {
		chat.Title = title
	}
	if metadata != nil {
		if chat.Metadata == nil {
			chat.Metadata = make(map[string]any)
		}
		maps.Copy(chat.Metadata, metadata)
	}
	chat.UpdatedAt = time.Now()

	chatData, err := json.Marshal(chat)
	if err != nil {
		return errors.Wrap(err, "failed to marshal chat info")
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.getRedisChatInfoKey(chatID), chatData, 0)
	if isNew {
		pipe.SAdd(ctx, m.getRedisChatListKey(), chatID)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store chat info in Redis")
	}
	return nil
}

func (m *redisStore) GetChatInfo(ctx context.Context, chatID string) (*ChatInfo, error) {
	if chatID == "" {
		return nil, ErrChatIDRequired
	}
	chat, isNew, err := m.getChatInfo(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if isNew {
		return nil, errors.WithMessagef(ErrChatNotFound, "%q", chatID)
	}
	chat.Messages, err = m.Messages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

func (m *redisStore) ListChats(ctx context.Context) ([]string, error) {
	chatIDs, err := m.client.SMembers(ctx, m.getRedisChatListKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list chats from Redis")
	}
	sort.Strings(chatIDs)
	return chatIDs, nil
}

// getChatInfo returns the chat information without messages,
// or isNew when the chat is not persisted.
func (m *redisStore) getChatInfo(ctx context.Context, chatID string) (chat *ChatInfo, isNew bool, err error) {
	data, err := m.client.Get(ctx, m.getRedisChatInfoKey(chatID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, true, nil
		}
		return nil, false, errors.Wrap(err, "failed to get chat info from Redis")
	}

	chat = &ChatInfo{}
	if err = json.Unmarshal([]byte(data), chat); err != nil {
		return nil, false, errors.Wrap(err, "failed to unmarshal chat info")
	}
	return chat, false, nil
}
