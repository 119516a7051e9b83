package store

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum spacing between automated replies to one conversation.
const DefaultCooldown = 5 * time.Second

// CooldownStore holds, per conversation, the moment it becomes eligible for another
// automated reply.
type CooldownStore struct {
	mu        sync.Mutex
	deadlines map[string]time.Time
	now       Clock
}

// NewCooldownStore creates an empty cooldown store.
func NewCooldownStore(opts ...Option) *CooldownStore {
	cfg := applyOptions(opts)
	return &CooldownStore{
		deadlines: make(map[string]time.Time),
		now:       cfg.Clock,
	}
}

// IsSuppressed reports whether a deadline exists and has not passed yet.
func (c *CooldownStore) IsSuppressed(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.deadlines[conversationID]
	if !ok {
		return false
	}
	if !c.now().Before(deadline) {
		delete(c.deadlines, conversationID)
		return false
	}
	return true
}

// Arm suppresses replies to the conversation for d from now.
func (c *CooldownStore) Arm(conversationID string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadlines[conversationID] = c.now().Add(d)
}

// Deadline returns the stored deadline, if any.
func (c *CooldownStore) Deadline(conversationID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline, ok := c.deadlines[conversationID]
	return deadline, ok
}
