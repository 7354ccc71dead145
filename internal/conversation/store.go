// Package conversation keeps a bounded, in-memory message history per conversation.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Error variables for conversation lookups
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyConversationRef = errors.New("conversation reference cannot be empty")
)

// DefaultHistoryLimit is the number of messages kept per conversation.
const DefaultHistoryLimit = 50

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// RepliedToOutreach marks a user message that answered a proactive message.
	RepliedToOutreach bool `json:"replied_to_outreach,omitempty"`
	// Proactive marks an assistant message sent by an outreach campaign.
	Proactive bool `json:"proactive,omitempty"`
}

// MemoryStore is a concurrency-safe history store that drops the oldest
// messages once a conversation exceeds its limit.
type MemoryStore struct {
	mu    sync.RWMutex
	limit int
	convs map[string][]Message
}

// NewMemoryStore creates a MemoryStore keeping at most limit messages per
// conversation. A non-positive limit selects DefaultHistoryLimit.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryStore{limit: limit, convs: make(map[string][]Message)}
}

// Append adds msg to the conversation identified by ref.
func (s *MemoryStore) Append(ctx context.Context, ref string, msg Message) error {
	if ref == "" {
		return ErrEmptyConversationRef
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := append(s.convs[ref], msg)
	if len(msgs) > s.limit {
		trimmed := make([]Message, s.limit)
		copy(trimmed, msgs[len(msgs)-s.limit:])
		msgs = trimmed
		slog.Debug("Conversation history trimmed", "conversation_ref", ref, "limit", s.limit)
	}
	s.convs[ref] = msgs
	return nil
}

// Recent returns up to n of the latest messages of ref, oldest first. A
// non-positive n returns the whole retained history.
func (s *MemoryStore) Recent(ctx context.Context, ref string, n int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.convs[ref]
	if !ok {
		return nil, ErrConversationNotFound
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]Message(nil), msgs...), nil
}

// Len returns the number of tracked conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
