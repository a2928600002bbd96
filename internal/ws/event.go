package ws

import "github.com/converse/internal/model"

type EventType string

const (
	// Server -> client push events.
	EventMessageDelivered   EventType = "message-delivered"
	EventReadReceiptUpdated EventType = "read-receipt-updated"
	EventTypingStarted      EventType = "typing-started"
	EventTypingStopped      EventType = "typing-stopped"
	EventPresenceOnline     EventType = "presence-online"
	EventPresenceOffline    EventType = "presence-offline"
	EventError              EventType = "error"

	// Client -> server events.
	EventTyping      EventType = "typing"
	EventMessageRead EventType = "message-read"
)

// IncomingMessage is what a connected client sends to the server.
type IncomingMessage struct {
	Type                EventType `json:"type"`
	ConversationID      string    `json:"conversation_id,omitempty"`
	LatestSeenMessageID string    `json:"latest_seen_message_id,omitempty"`
}

// OutgoingMessage is what the server pushes to a client. Payloads are typed
// structs rather than map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageDeliveredPayload carries the stored message plus compact sender
// info, enough for the recipient to synthesize a conversation entry it has
// never seen.
type MessageDeliveredPayload struct {
	Message *model.Message   `json:"message"`
	Sender  model.UserPublic `json:"sender"`
}

// ReadReceiptPayload is pushed to the message author when the other
// participant acknowledges reading.
type ReadReceiptPayload struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

// TypingPayload is pushed on typing transitions.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
}

// PresencePayload is broadcast on online/offline transitions.
type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
