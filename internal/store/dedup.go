package store

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const (
	// DefaultDedupTTL is how long a message id is remembered after receipt.
	DefaultDedupTTL = 60 * time.Second
	// DefaultDedupCapacity bounds the number of remembered ids.
	DefaultDedupCapacity = 4096
)

// DedupFilter remembers recently received message ids so that a redelivered event is
// processed only once. Entries expire after the TTL; the LRU capacity caps memory when
// ids arrive faster than they expire.
type DedupFilter struct {
	mu    sync.Mutex // makes check-and-record atomic
	cache *lru.Cache
	ttl   time.Duration
	now   Clock
}

// NewDedupFilter creates a dedup filter.
func NewDedupFilter(opts ...Option) (*DedupFilter, error) {
	cfg := applyOptions(opts)
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	slog.Debug("DedupFilter created", "capacity", capacity, "ttl", ttl)
	return &DedupFilter{cache: cache, ttl: ttl, now: cfg.Clock}, nil
}

// Seen reports whether the id was recorded within the retention window.
func (d *DedupFilter) Seen(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seenLocked(messageID)
}

// Record remembers the id for the retention window, restarting it if already known.
func (d *DedupFilter) Record(messageID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Add(messageID, d.now())
}

// RecordIfNew records the id and returns true, or returns false without touching the
// existing record when the id is still within its retention window.
func (d *DedupFilter) RecordIfNew(messageID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seenLocked(messageID) {
		return false
	}
	d.cache.Add(messageID, d.now())
	return true
}

// Len returns the number of ids currently held, expired ones included until touched.
func (d *DedupFilter) Len() int {
	return d.cache.Len()
}

func (d *DedupFilter) seenLocked(messageID string) bool {
	v, ok := d.cache.Peek(messageID)
	if !ok {
		return false
	}
	recordedAt, _ := v.(time.Time)
	if d.now().Sub(recordedAt) >= d.ttl {
		d.cache.Remove(messageID)
		return false
	}
	return true
}
