// Package models defines the core data structures for OutlineBot.
//
// It includes conversation turns, inbound messages and connection updates, which are
// shared across the transport, dispatch and HTTP modules.
package models

import (
	"errors"
	"time"
)

// Role tags a conversation turn with its author.
type Role string

const (
	// RoleUser marks text written by the contact.
	RoleUser Role = "user"
	// RoleAssistant marks text generated by the bot.
	RoleAssistant Role = "assistant"
)

// IsValidRole checks if the given role is supported.
func IsValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Turn is one role-tagged unit of conversation text.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// UserTurn returns a turn authored by the contact.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn returns a turn authored by the bot.
func AssistantTurn(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// InboundMessage is a transport-neutral view of a received message.
type InboundMessage struct {
	ID         string    `json:"id"`
	Chat       string    `json:"chat"`   // conversation address replies go to
	Sender     string    `json:"sender"` // author address (differs from Chat in groups)
	FromMe     bool      `json:"from_me"`
	HasContent bool      `json:"has_content"`
	Text       string    `json:"text,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConnectionState enumerates the transport connection states the bot reacts to.
type ConnectionState string

const (
	// ConnectionPairing means a new pairing code was issued and must be scanned.
	ConnectionPairing ConnectionState = "pairing"
	// ConnectionOpen means the session is established.
	ConnectionOpen ConnectionState = "open"
	// ConnectionClosed means the session dropped; ReasonCode explains why.
	ConnectionClosed ConnectionState = "close"
)

// Close reasons, numbered like HTTP status codes.
const (
	// ReasonLoggedOut is reported when the linked device was removed or its
	// credentials were invalidated. It is terminal: reconnecting cannot succeed.
	ReasonLoggedOut = 401
	// ReasonTimedOut is reported when a pairing code expired without being scanned.
	ReasonTimedOut = 408
	// ReasonConnectionClosed is reported when the socket dropped unexpectedly.
	ReasonConnectionClosed = 428
	// ReasonConnectionReplaced is reported when another client took over the session.
	ReasonConnectionReplaced = 440
)

// ConnectionUpdate reports a change of the transport connection.
type ConnectionUpdate struct {
	State       ConnectionState `json:"state"`
	PairingCode string          `json:"pairing_code,omitempty"`
	ReasonCode  int             `json:"reason_code,omitempty"`
}

// IsTerminal reports whether the update is a close that must not be retried.
func (u ConnectionUpdate) IsTerminal() bool {
	return u.State == ConnectionClosed && u.ReasonCode == ReasonLoggedOut
}

// PresenceState is the chat presence shown to a contact.
type PresenceState string

const (
	// PresenceComposing shows the "typing..." indicator.
	PresenceComposing PresenceState = "composing"
	// PresencePaused clears the typing indicator.
	PresencePaused PresenceState = "paused"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)
