package model

import "time"

// Conversation is the unique two-party thread between two users. The
// participant pair is canonicalized so that UserLoID < UserHiID; the database
// enforces uniqueness of the pair.
type Conversation struct {
	ID        string    `json:"id"`
	UserLoID  string    `json:"user_lo_id"`
	UserHiID  string    `json:"user_hi_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CanonicalPair orders two participant ids into the (lo, hi) form used for
// conversation lookup and storage.
func CanonicalPair(a, b string) (lo, hi string) {
	if a < b {
		return a, b
	}
	return b, a
}

// OtherParticipant returns the participant that is not userID, or "" when
// userID is not part of the conversation.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.UserLoID:
		return c.UserHiID
	case c.UserHiID:
		return c.UserLoID
	}
	return ""
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.UserLoID || userID == c.UserHiID
}

// ConversationView is the enriched shape returned by the conversation list:
// the other participant (with live online flag), messages in creation order,
// preview text, the derived unread count for the viewer and the id of the
// most recently read message from the other participant.
type ConversationView struct {
	Conversation
	OtherUser         UserPublic `json:"other_user"`
	Messages          []Message  `json:"messages"`
	LatestMessageText string     `json:"latest_message_text"`
	UnreadCount       int        `json:"unread_count"`
	MostRecentRead    string     `json:"most_recent_read,omitempty"`
}
