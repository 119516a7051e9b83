// Package whatsapp wraps the Whatsmeow client for WhatsApp integration in OutlineBot.
//
// It owns the linked-device session (persisted by whatsmeow's sqlstore), the QR
// pairing flow and the outbound send operations.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BTreeMap/OutlineBot/internal/models"
	"github.com/BTreeMap/OutlineBot/internal/store"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultAuthDir is the directory holding the session credentials.
	DefaultAuthDir = "auth_info"
	// DefaultDBFileName is the whatsmeow SQLite database inside the auth directory.
	DefaultDBFileName = "whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users
	JIDSuffix = types.DefaultUserServer
)

// Sender is the outbound surface used by the dispatcher and the broadcaster.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendPresence(ctx context.Context, to string, state models.PresenceState) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	AuthDir  string    // directory for the default SQLite session store
	DBDSN    string    // explicit session store DSN (SQLite path or PostgreSQL)
	QROutput io.Writer // where pairing codes are drawn; nil disables terminal output
	LogLevel string    // whatsmeow internal log level
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithAuthDir sets the session directory used when no DSN is given.
func WithAuthDir(dir string) Option {
	return func(o *Opts) {
		o.AuthDir = dir
	}
}

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput draws pairing QR codes on w.
func WithQRCodeOutput(w io.Writer) Option {
	return func(o *Opts) {
		o.QROutput = w
	}
}

// WithLogLevel sets the log level of whatsmeow internals (DEBUG, INFO, WARN, ERROR).
func WithLogLevel(level string) Option {
	return func(o *Opts) {
		o.LogLevel = level
	}
}

// DefaultDSN returns the SQLite DSN inside authDir, with foreign keys enabled as
// whatsmeow requires.
func DefaultDSN(authDir string) string {
	if authDir == "" {
		authDir = DefaultAuthDir
	}
	return "file:" + filepath.Join(authDir, DefaultDBFileName) + "?_foreign_keys=on"
}

// Client wraps the Whatsmeow client for modular use
type Client struct {
	waClient *whatsmeow.Client
	qrOutput io.Writer
	mu       sync.Mutex // serializes Connect/Disconnect
}

// NewClient opens the session store and prepares a client. It does not connect.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	slog.Debug("WhatsApp NewClient options set", "auth_dir", cfg.AuthDir, "DBDSN_set", cfg.DBDSN != "", "qr_output", cfg.QROutput != nil)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		authDir := cfg.AuthDir
		if authDir == "" {
			authDir = DefaultAuthDir
		}
		if err := os.MkdirAll(authDir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create auth directory %s: %w", authDir, err)
		}
		dbDSN = DefaultDSN(authDir)
		slog.Debug("No WhatsApp database DSN provided, using SQLite in auth directory", "auth_dir", authDir)
	}

	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !HasForeignKeys(dbDSN) {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", cfg.LogLevel, true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", cfg.LogLevel, true))
	// Reconnects, including after keepalive failures, are driven by the bot lifecycle.
	waClient.EnableAutoReconnect = false

	return &Client{waClient: waClient, qrOutput: cfg.QROutput}, nil
}

// IsLoggedIn reports whether the device store already holds a paired session.
func (c *Client) IsLoggedIn() bool {
	return c.waClient != nil && c.waClient.Store != nil && c.waClient.Store.ID != nil
}

// AddEventHandler registers a raw whatsmeow event handler.
func (c *Client) AddEventHandler(handler func(evt interface{})) uint32 {
	return c.waClient.AddEventHandler(handler)
}

// Connect opens the websocket. When no session exists yet it starts the QR pairing
// flow and reports each issued code, and a pairing timeout, through onUpdate.
func (c *Client) Connect(ctx context.Context, onUpdate func(models.ConnectionUpdate)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if c.waClient.IsConnected() {
		slog.Debug("WhatsApp Connect: already connected")
		return nil
	}

	if c.IsLoggedIn() {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := c.waClient.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		return nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := c.waClient.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	go c.consumeQR(qrChan, onUpdate)
	return nil
}

func (c *Client) consumeQR(qrChan <-chan whatsmeow.QRChannelItem, onUpdate func(models.ConnectionUpdate)) {
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			slog.Debug("WhatsApp pairing code issued", "timeout", evt.Timeout)
			if c.qrOutput != nil {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, c.qrOutput)
			}
			if onUpdate != nil {
				onUpdate(models.ConnectionUpdate{State: models.ConnectionPairing, PairingCode: evt.Code})
			}
		case "success":
			slog.Info("WhatsApp pairing succeeded")
		case "timeout":
			slog.Warn("WhatsApp pairing timed out without a scan")
			if onUpdate != nil {
				onUpdate(models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: models.ReasonTimedOut})
			}
		default:
			slog.Warn("WhatsApp pairing event", "event", evt.Event, "error", evt.Error)
		}
	}
}

// Disconnect closes the websocket without logging out.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// SendMessage sends a WhatsApp text message to the specified address.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if body == "" {
		return models.ErrEmptyBody
	}
	jid, err := ParseAddress(to)
	if err != nil {
		return err
	}

	slog.Debug("Sending WhatsApp message", "to", jid.String(), "body_length", len(body))
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", jid.String(), err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", jid.String())
	return nil
}

// SendPresence shows or clears the typing indicator in a chat.
func (c *Client) SendPresence(ctx context.Context, to string, state models.PresenceState) error {
	if c.waClient == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	jid, err := ParseAddress(to)
	if err != nil {
		return err
	}
	presence := types.ChatPresencePaused
	if state == models.PresenceComposing {
		presence = types.ChatPresenceComposing
	}
	if err := c.waClient.SendChatPresence(jid, presence, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("failed to send presence to %s: %w", jid.String(), err)
	}
	return nil
}

// ParseAddress accepts a full JID ("123@s.whatsapp.net", "123-456@g.us") or a bare
// phone number, which is addressed as a regular user.
func ParseAddress(addr string) (types.JID, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return types.EmptyJID, models.ErrEmptyRecipient
	}
	if strings.Contains(addr, "@") {
		jid, err := types.ParseJID(addr)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		return jid, nil
	}
	user := strings.TrimPrefix(addr, "+")
	for _, r := range user {
		if r < '0' || r > '9' {
			return types.EmptyJID, fmt.Errorf("invalid address %q: phone numbers must be digits", addr)
		}
	}
	return types.NewJID(user, JIDSuffix), nil
}

// HasForeignKeys reports whether a SQLite DSN enables foreign keys. Non-SQLite DSNs
// always report true.
func HasForeignKeys(dsn string) bool {
	if store.DetectDSNType(dsn) != "sqlite3" {
		return true
	}
	return strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "foreign_keys")
}

// MockClient implements Sender and records what was sent (for tests).
type MockClient struct {
	mu        sync.Mutex
	Sent      []SentMessage
	Presences []SentPresence
	SendErr   error
}

// SentMessage is a message recorded by MockClient.
type SentMessage struct {
	To   string
	Body string
}

// SentPresence is a presence update recorded by MockClient.
type SentPresence struct {
	To    string
	State models.PresenceState
}

// NewMockClient returns an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendPresence(ctx context.Context, to string, state models.PresenceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Presences = append(m.Presences, SentPresence{To: to, State: state})
	return nil
}

// Messages returns a copy of the recorded messages.
func (m *MockClient) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// PresenceUpdates returns a copy of the recorded presence updates.
func (m *MockClient) PresenceUpdates() []SentPresence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentPresence, len(m.Presences))
	copy(out, m.Presences)
	return out
}

// SetSendErr makes subsequent SendMessage calls fail with err (nil restores success).
func (m *MockClient) SetSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SendErr = err
}
