package store

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcphost/pkg/llms"
)

type memoryChat struct {
	info     ChatInfo
	messages []llms.Message
}

type inMemory struct {
	mu          sync.RWMutex
	maxMessages int
	storage     map[string]*memoryChat
}

// NewMemoryStore returns a store that keeps chats in process memory.
func NewMemoryStore(maxMessages int) MessageStore {
	return &inMemory{
		maxMessages: maxMessages,
		storage:     make(map[string]*memoryChat),
	}
}

func (m *inMemory) Messages(_ context.Context, chatID string) ([]llms.Message, error) {
	if chatID == "" {
		return nil, ErrChatIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat := m.storage[chatID]
	if chat == nil {
		return nil, nil
	}
	return append([]llms.Message(nil), chat.messages...), nil
}

func (m *inMemory) Add(_ context.Context, chatID string, msgs ...llms.Message) error {
	if chatID == "" {
		return ErrChatIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	chat := m.getOrCreate(chatID)
	chat.messages = append(chat.messages, msgs...)
	if m.maxMessages > 0 && len(chat.messages) > m.maxMessages {
		chat.messages = append([]llms.Message(nil), chat.messages[len(chat.messages)-m.maxMessages:]...)
	}
	chat.info.UpdatedAt = time.Now()
	return nil
}

func (m *inMemory) Reset(_ context.Context, chatID string) error {
	if chatID == "" {
		return ErrChatIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, chatID)
	return nil
}

func (m *inMemory) UpdateChat(_ context.Context, chatID, title string, metadata map[string]any) error {
	if chatID == "" {
		return ErrChatIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	chat := m.getOrCreate(chatID)
	if title != "" {
		chat.info.Title = title
	}
	if metadata != nil {
		if chat.info.Metadata == nil {
			chat.info.Metadata = make(map[string]any)
		}
		maps.Copy(chat.info.Metadata, metadata)
	}
	chat.info.UpdatedAt = time.Now()
	return nil
}

func (m *inMemory) GetChatInfo(_ context.Context, chatID string) (*ChatInfo, error) {
	if chatID == "" {
		return nil, ErrChatIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	chat := m.storage[chatID]
	if chat == nil {
		return nil, errors.WithMessagef(ErrChatNotFound, "%q", chatID)
	}
	info := chat.info
	info.Metadata = maps.Clone(chat.info.Metadata)
	info.Messages = append([]llms.Message(nil), chat.messages...)
	return &info, nil
}

func (m *inMemory) ListChats(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]string, 0, len(m.storage))
	for id := range m.storage {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}

func (m *inMemory) getOrCreate(chatID string) *memoryChat {
	chat := m.storage[chatID]
	if chat == nil {
		now := time.Now()
		chat = &memoryChat{
			info: ChatInfo{
				ChatID:    chatID,
				Title:     "New Chat",
				CreatedAt: now,
				UpdatedAt: now,
			},
		}
		m.storage[chatID] = chat
	}
	return chat
}
