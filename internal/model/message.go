package model

import "time"

// Message is a single text message inside a conversation. ReadMarker is set
// on at most one message per (conversation, sender) relationship: the most
// recent message from that sender the other participant has acknowledged.
// Everything from that sender before the marked message is implicitly read,
// everything after it is unread.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Text           string      `json:"text"`
	ReadMarker     bool        `json:"read_marker"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         *UserPublic `json:"sender,omitempty"`
}
