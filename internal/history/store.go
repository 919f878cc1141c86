// Package history keeps a bounded in-memory conversation transcript per
// chat, used to give the agent context for follow-up turns.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/cardbridge/pkg/models"
)

// DefaultMaxPerChat limits messages retained per chat. When exceeded, the
// oldest messages are trimmed.
const DefaultMaxPerChat = 100

// Store holds recent messages keyed by chat ID. All methods are safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	messages   map[string][]*models.Message
	maxPerChat int
}

// NewStore creates a history store. maxPerChat <= 0 selects DefaultMaxPerChat.
func NewStore(maxPerChat int) *Store {
	if maxPerChat <= 0 {
		maxPerChat = DefaultMaxPerChat
	}
	return &Store{
		messages:   map[string][]*models.Message{},
		maxPerChat: maxPerChat,
	}
}

// Append records a message in the chat's transcript, assigning an ID and
// timestamp if the caller left them empty.
func (s *Store) Append(chatID string, msg *models.Message) {
	if chatID == "" || msg == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.messages[chatID] = append(s.messages[chatID], clone)

	if excess := len(s.messages[chatID]) - s.maxPerChat; excess > 0 {
		s.messages[chatID] = s.messages[chatID][excess:]
	}
}

// Recent returns up to limit most recent messages for the chat, oldest
// first. limit <= 0 returns the full retained transcript.
func (s *Store) Recent(chatID string, limit int) []*models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := s.messages[chatID]
	if len(messages) == 0 {
		return nil
	}
	start := 0
	if limit > 0 && len(messages) > limit {
		start = len(messages) - limit
	}
	out := make([]*models.Message, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out
}

// Len reports the number of retained messages for the chat.
func (s *Store) Len(chatID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[chatID])
}

// Clear drops the chat's transcript.
func (s *Store) Clear(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.messages, chatID)
}

func cloneMessage(msg *models.Message) *models.Message {
	clone := *msg
	if msg.Metadata != nil {
		meta := make(map[string]any, len(msg.Metadata))
		for k, v := range msg.Metadata {
			meta[k] = v
		}
		clone.Metadata = meta
	}
	return &clone
}
