package bot

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/metrics"
	"github.com/BTreeMap/OutlineBot/internal/models"
)

// DefaultReconnectDelay is the pause before reconnecting after a recoverable close.
const DefaultReconnectDelay = 5 * time.Second

// Reconnector re-establishes the transport session.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

// PairingSink receives the pairing code to show to the operator.
type PairingSink interface {
	Set(code string)
	Clear()
}

// LifecycleOpts configures a Lifecycle.
type LifecycleOpts struct {
	ReconnectDelay time.Duration
	// OnOpen runs after every successful open. Errors are logged.
	OnOpen func(ctx context.Context) error
}

// LifecycleOption modifies LifecycleOpts.
type LifecycleOption func(*LifecycleOpts)

// WithReconnectDelay sets the pause before reconnecting.
func WithReconnectDelay(d time.Duration) LifecycleOption {
	return func(o *LifecycleOpts) {
		o.ReconnectDelay = d
	}
}

// WithOnOpen registers a hook run whenever the session opens.
func WithOnOpen(fn func(ctx context.Context) error) LifecycleOption {
	return func(o *LifecycleOpts) {
		o.OnOpen = fn
	}
}

// Lifecycle reacts to connection updates: it publishes pairing codes, starts
// dependent jobs on open, and reconnects after every close except a logout.
type Lifecycle struct {
	conn    Reconnector
	pairing PairingSink
	opts    LifecycleOpts

	// afterFunc runs f after d; replaced in tests.
	afterFunc func(d time.Duration, f func())

	mu        sync.Mutex
	pending   bool
	connected bool
	terminal  chan struct{}
	termOnce  sync.Once
}

// NewLifecycle creates a Lifecycle driving conn and publishing codes to pairing.
func NewLifecycle(conn Reconnector, pairing PairingSink, opts ...LifecycleOption) *Lifecycle {
	cfg := LifecycleOpts{ReconnectDelay: DefaultReconnectDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Lifecycle{
		conn:      conn,
		pairing:   pairing,
		opts:      cfg,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		terminal:  make(chan struct{}),
	}
}

// HandleUpdate applies one connection update.
func (l *Lifecycle) HandleUpdate(ctx context.Context, u models.ConnectionUpdate) {
	reason := ""
	if u.ReasonCode != 0 {
		reason = strconv.Itoa(u.ReasonCode)
	}
	metrics.RecordConnectionUpdate(string(u.State), reason)

	switch u.State {
	case models.ConnectionPairing:
		slog.Info("Lifecycle.HandleUpdate: pairing code issued, scan it from /qr or the terminal")
		l.pairing.Set(u.PairingCode)

	case models.ConnectionOpen:
		slog.Info("Lifecycle.HandleUpdate: connected to WhatsApp")
		l.pairing.Clear()
		l.setConnected(true)
		if l.opts.OnOpen != nil {
			if err := l.opts.OnOpen(ctx); err != nil {
				slog.Error("Lifecycle.HandleUpdate: open hook failed", "error", err)
			}
		}

	case models.ConnectionClosed:
		l.setConnected(false)
		if u.IsTerminal() {
			slog.Error("Lifecycle.HandleUpdate: session logged out; delete the session directory and pair again", "reason", u.ReasonCode)
			l.termOnce.Do(func() { close(l.terminal) })
			return
		}
		slog.Warn("Lifecycle.HandleUpdate: connection closed, reconnecting", "reason", u.ReasonCode, "delay", l.opts.ReconnectDelay)
		l.scheduleReconnect(ctx)

	default:
		slog.Debug("Lifecycle.HandleUpdate: ignoring update", "state", u.State)
	}
}

// scheduleReconnect arms a single delayed reconnect; closes arriving while one is
// pending are absorbed by it.
func (l *Lifecycle) scheduleReconnect(ctx context.Context) {
	l.mu.Lock()
	if l.pending || l.isTerminal() {
		l.mu.Unlock()
		return
	}
	l.pending = true
	l.mu.Unlock()
	metrics.RecordReconnect()

	l.afterFunc(l.opts.ReconnectDelay, func() {
		l.mu.Lock()
		l.pending = false
		l.mu.Unlock()
		if ctx.Err() != nil || l.isTerminal() {
			return
		}
		if err := l.conn.Reconnect(ctx); err != nil {
			// A failed dial emits no close event, so retry from here.
			slog.Error("Lifecycle.reconnect: reconnect failed", "error", err)
			l.scheduleReconnect(ctx)
		}
	})
}

// Terminal is closed once the session has been logged out.
func (l *Lifecycle) Terminal() <-chan struct{} {
	return l.terminal
}

// Connected reports whether the last update opened the session.
func (l *Lifecycle) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *Lifecycle) setConnected(v bool) {
	l.mu.Lock()
	l.connected = v
	l.mu.Unlock()
}

func (l *Lifecycle) isTerminal() bool {
	select {
	case <-l.terminal:
		return true
	default:
		return false
	}
}
