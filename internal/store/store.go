// Package store provides the volatile per-conversation state of OutlineBot.
//
// It includes the bounded conversation history, the reply cooldowns and the inbound
// message dedup filter. Nothing here survives a restart; the WhatsApp session itself
// is persisted by whatsmeow's sqlstore, whose DSN flavour is detected here too.
package store

import (
	"strings"
	"time"
)

// Clock returns the current time. Stores take one so tests can move time by hand.
type Clock func() time.Time

// Opts holds configuration options shared by the in-memory stores.
type Opts struct {
	Clock    Clock
	MaxTurns int
	Capacity int
	TTL      time.Duration
}

// Option defines a configuration option for the in-memory stores.
type Option func(*Opts)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// WithMaxTurns sets how many turns a conversation history retains.
func WithMaxTurns(n int) Option {
	return func(o *Opts) {
		o.MaxTurns = n
	}
}

// WithCapacity bounds how many message ids the dedup filter tracks at once.
func WithCapacity(n int) Option {
	return func(o *Opts) {
		o.Capacity = n
	}
}

// WithTTL sets how long the dedup filter remembers a message id.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

func applyOptions(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3"
// for everything else (file paths and file: URIs).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	// libpq key=value form
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
