package history

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/comigor/quotebot/internal/logger"
)

// MemoryStore is a bounded in-process Store. It holds at most maxConversations
// histories, evicting the least recently used, and drops a conversation once it
// has gone idleTTL without a new turn.
type MemoryStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, []Turn]
}

// NewMemoryStore creates a MemoryStore. A non-positive idleTTL disables expiry.
func NewMemoryStore(maxConversations int, idleTTL time.Duration) *MemoryStore {
	onEvict := func(id string, turns []Turn) {
		logger.L.Debug("conversation evicted from history", "conversation_id", id, "turns", len(turns))
	}
	return &MemoryStore{lru: expirable.NewLRU[string, []Turn](maxConversations, onEvict, idleTTL)}
}

// Append adds turn to the end of the conversation and restarts its idle timer.
func (s *MemoryStore) Append(_ context.Context, conversationID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, _ := s.lru.Get(conversationID)
	next := make([]Turn, len(turns), len(turns)+1)
	copy(next, turns)
	s.lru.Add(conversationID, append(next, turn))
	return nil
}

// Get returns a copy of the conversation's turns.
func (s *MemoryStore) Get(_ context.Context, conversationID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.lru.Get(conversationID)
	if !ok {
		return []Turn{}, nil
	}
	return slices.Clone(turns), nil
}

// Len is the number of conversations currently held.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}
