package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/OutlineBot/internal/models"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for message and update channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines how long an event may wait for a blocked channel before it is dropped
	DefaultChannelTimeout = 1 * time.Second
)

// transport is the subset of *whatsapp.Client the service drives.
type transport interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendPresence(ctx context.Context, to string, state models.PresenceState) error
	Connect(ctx context.Context, onUpdate func(models.ConnectionUpdate)) error
	Disconnect()
	AddEventHandler(handler func(evt interface{})) uint32
}

// WhatsAppService implements Service on top of the whatsmeow-based client.
type WhatsAppService struct {
	client    transport
	messages  chan models.InboundMessage
	updates   chan models.ConnectionUpdate
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given client.
func NewWhatsAppService(client transport) *WhatsAppService {
	return &WhatsAppService{
		client:   client,
		messages: make(chan models.InboundMessage, DefaultChannelBufferSize),
		updates:  make(chan models.ConnectionUpdate, DefaultChannelBufferSize),
		done:     make(chan struct{}),
	}
}

// Start registers the event handler and connects.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	s.startOnce.Do(func() {
		s.client.AddEventHandler(s.handleEvent)
		slog.Debug("WhatsAppService event handler registered")
	})
	if err := s.client.Connect(ctx, s.emitUpdate); err != nil {
		return fmt.Errorf("whatsapp connect failed: %w", err)
	}
	return nil
}

// Reconnect drops the socket and connects again, restarting pairing if needed.
func (s *WhatsAppService) Reconnect(ctx context.Context) error {
	slog.Info("WhatsAppService reconnecting")
	s.client.Disconnect()
	if err := s.client.Connect(ctx, s.emitUpdate); err != nil {
		return fmt.Errorf("whatsapp reconnect failed: %w", err)
	}
	return nil
}

// Stop disconnects. Channels stay open so late whatsmeow callbacks cannot panic;
// events arriving after Stop are discarded.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("WhatsAppService Stop invoked")
		close(s.done)
		s.client.Disconnect()
	})
	return nil
}

// SendMessage sends a text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.client.SendMessage(ctx, to, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	slog.Info("WhatsAppService message sent", "to", to, "body_length", len(body))
	return nil
}

// SendPresence updates the typing indicator.
func (s *WhatsAppService) SendPresence(ctx context.Context, to string, state models.PresenceState) error {
	return s.client.SendPresence(ctx, to, state)
}

// Messages returns a channel of inbound messages.
func (s *WhatsAppService) Messages() <-chan models.InboundMessage {
	return s.messages
}

// Updates returns a channel of connection state changes.
func (s *WhatsAppService) Updates() <-chan models.ConnectionUpdate {
	return s.updates
}

// handleEvent translates whatsmeow events into transport-neutral values.
func (s *WhatsAppService) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		s.emitMessage(InboundFromEvent(v))
	default:
		if update, ok := UpdateFromEvent(evt); ok {
			s.emitUpdate(update)
			return
		}
		slog.Debug("WhatsAppService ignoring event type", "type", fmt.Sprintf("%T", evt))
	}
}

func (s *WhatsAppService) emitMessage(msg models.InboundMessage) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.messages <- msg:
		slog.Debug("WhatsAppService inbound message forwarded", "id", msg.ID, "chat", msg.Chat)
	case <-s.done:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService messages channel blocked, dropping message", "id", msg.ID, "chat", msg.Chat, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) emitUpdate(update models.ConnectionUpdate) {
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.updates <- update:
		slog.Debug("WhatsAppService connection update forwarded", "state", update.State, "reason", update.ReasonCode)
	case <-s.done:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService updates channel blocked, dropping update", "state", update.State, "timeout", DefaultChannelTimeout)
	}
}

// InboundFromEvent converts a whatsmeow message event.
func InboundFromEvent(evt *events.Message) models.InboundMessage {
	msg := models.InboundMessage{
		ID:         string(evt.Info.ID),
		Chat:       evt.Info.Chat.String(),
		Sender:     evt.Info.Sender.String(),
		FromMe:     evt.Info.IsFromMe,
		HasContent: evt.Message != nil,
		Timestamp:  evt.Info.Timestamp,
	}
	msg.Text = ExtractText(evt.Message)
	return msg
}

// ExtractText returns the plain text of a message, or "" for media and other kinds.
func ExtractText(m *waE2E.Message) string {
	if m == nil {
		return ""
	}
	if text := m.GetConversation(); text != "" {
		return text
	}
	if ext := m.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}

// UpdateFromEvent converts whatsmeow connection events. The second result is false
// for events that do not affect the connection state.
func UpdateFromEvent(evt interface{}) (models.ConnectionUpdate, bool) {
	switch v := evt.(type) {
	case *events.Connected:
		return models.ConnectionUpdate{State: models.ConnectionOpen}, true
	case *events.LoggedOut:
		slog.Warn("WhatsApp session logged out", "on_connect", v.OnConnect, "reason", int(v.Reason))
		return models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: models.ReasonLoggedOut}, true
	case *events.ConnectFailure:
		reason := int(v.Reason)
		if v.Reason.IsLoggedOut() {
			reason = models.ReasonLoggedOut
		}
		return models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: reason}, true
	case *events.StreamReplaced:
		return models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: models.ReasonConnectionReplaced}, true
	case *events.Disconnected:
		return models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: models.ReasonConnectionClosed}, true
	case *events.KeepAliveTimeout:
		// whatsmeow only forces a reconnect itself when auto-reconnect is on.
		if time.Since(v.LastSuccess) <= whatsmeow.KeepAliveMaxFailTime {
			return models.ConnectionUpdate{}, false
		}
		slog.Warn("WhatsApp keepalive failing, treating connection as closed", "error_count", v.ErrorCount, "last_success", v.LastSuccess)
		return models.ConnectionUpdate{State: models.ConnectionClosed, ReasonCode: models.ReasonConnectionClosed}, true
	default:
		return models.ConnectionUpdate{}, false
	}
}
