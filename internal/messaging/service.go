// Package messaging provides the transport-neutral message delivery abstraction and
// its WhatsApp implementation.
package messaging

import (
	"context"

	"github.com/BTreeMap/OutlineBot/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages and presence updates, and provides channels for
// inbound messages and connection state changes.
type Service interface {
	// SendMessage sends a text message to an address.
	SendMessage(ctx context.Context, to string, body string) error

	// SendPresence shows or clears the typing indicator in a chat.
	SendPresence(ctx context.Context, to string, state models.PresenceState) error

	// Start connects the transport and begins emitting events.
	Start(ctx context.Context) error

	// Reconnect drops the current connection, if any, and connects again.
	Reconnect(ctx context.Context) error

	// Stop disconnects and stops emitting events.
	Stop() error

	// Messages returns a channel of inbound messages.
	Messages() <-chan models.InboundMessage

	// Updates returns a channel of connection state changes.
	Updates() <-chan models.ConnectionUpdate
}
