package store

import (
	"log/slog"
	"sync"

	"github.com/BTreeMap/OutlineBot/internal/models"
)

// DefaultMaxTurns is the number of turns a conversation keeps for generation context.
const DefaultMaxTurns = 5

// HistoryStore keeps a bounded, ordered history of turns per conversation address.
// Conversations never expire on their own; only Clear removes them.
type HistoryStore struct {
	mu       sync.RWMutex
	history  map[string][]models.Turn
	maxTurns int
}

// NewHistoryStore creates an empty history store.
func NewHistoryStore(opts ...Option) *HistoryStore {
	cfg := applyOptions(opts)
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	slog.Debug("HistoryStore created", "max_turns", maxTurns)
	return &HistoryStore{
		history:  make(map[string][]models.Turn),
		maxTurns: maxTurns,
	}
}

// Get returns a copy of the stored turns, oldest first. Unknown conversations yield
// an empty slice.
func (s *HistoryStore) Get(conversationID string) []models.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns := s.history[conversationID]
	out := make([]models.Turn, len(turns))
	copy(out, turns)
	return out
}

// Append records one exchange and discards the oldest turns beyond the limit.
func (s *HistoryStore) Append(conversationID, userText, assistantText string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.history[conversationID], models.UserTurn(userText), models.AssistantTurn(assistantText))
	if over := len(turns) - s.maxTurns; over > 0 {
		// copy into a fresh slice so the dropped prefix can be collected
		trimmed := make([]models.Turn, s.maxTurns)
		copy(trimmed, turns[over:])
		turns = trimmed
	}
	s.history[conversationID] = turns
	slog.Debug("HistoryStore.Append", "conversation", conversationID, "turns", len(turns))
}

// Clear removes the conversation entirely.
func (s *HistoryStore) Clear(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, conversationID)
	slog.Debug("HistoryStore.Clear", "conversation", conversationID)
}

// Len returns the number of tracked conversations.
func (s *HistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// MaxTurns returns the retention limit.
func (s *HistoryStore) MaxTurns() int {
	return s.maxTurns
}
