// Package clientstate is the receiving side's cache of conversations: it
// merges locally-initiated optimistic changes with server-pushed deltas into
// one consistent view. Every delta is applied as a pure transform of
// (current state, delta) under a single lock, producing fresh slices instead
// of mutating shared ones, so concurrent paths can never clobber each other's
// updates.
package clientstate

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/converse/internal/model"
)

const localIDPrefix = "local-"

// typingWindow mirrors the server-side debounce window; a typing flag with no
// stop event goes stale after this long.
const typingWindow = 5 * time.Second

// MarkReadFunc acknowledges a message on the server. Invoked when a message
// is delivered into the conversation the viewer is actively looking at
// (auto-read), instead of bumping the unread count.
type MarkReadFunc func(conversationID, latestSeenMessageID string)

// Conversation is one cached entry of the viewer's conversation list.
type Conversation struct {
	ID                string
	OtherUser         model.UserPublic
	Messages          []model.Message
	LatestMessageText string
	UnreadCount       int
	// MostRecentRead is the id of the last message from the other user this
	// viewer has acknowledged.
	MostRecentRead string
	// PeerLastRead is the id of the viewer's own message the other user last
	// acknowledged (drives the seen-indicator).
	PeerLastRead string

	typingUntil time.Time
}

// Typing reports whether the other participant is typing as of now.
func (c *Conversation) Typing(now time.Time) bool {
	return c.typingUntil.After(now)
}

// State owns the conversation cache of one connected user.
type State struct {
	mu       sync.Mutex
	selfID   string
	activeID string
	convos   []Conversation

	markRead MarkReadFunc
	now      func() time.Time
}

func New(selfID string, markRead MarkReadFunc) *State {
	return &State{
		selfID:   selfID,
		markRead: markRead,
		now:      time.Now,
	}
}

// Load replaces the cache with a server-fetched conversation list (initial
// load or reconnect; persisted state is the source of truth after a gap).
func (s *State) Load(views []model.ConversationView) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convos := make([]Conversation, 0, len(views))
	for i := range views {
		v := &views[i]
		convos = append(convos, Conversation{
			ID:                v.ID,
			OtherUser:         v.OtherUser,
			Messages:          append([]model.Message(nil), v.Messages...),
			LatestMessageText: v.LatestMessageText,
			UnreadCount:       v.UnreadCount,
			MostRecentRead:    v.MostRecentRead,
			PeerLastRead:      peerLastRead(v.Messages, s.selfID),
		})
	}
	s.convos = convos
}

func peerLastRead(msgs []model.Message, selfID string) string {
	id := ""
	for i := range msgs {
		if msgs[i].SenderID == selfID && msgs[i].ReadMarker {
			id = msgs[i].ID
		}
	}
	return id
}

// SetActive records which conversation the viewer is looking at ("" for
// none). Opening a conversation acknowledges its newest foreign message and
// zeroes the unread count.
func (s *State) SetActive(conversationID string) {
	s.mu.Lock()
	s.activeID = conversationID
	var ackID string
	if conversationID != "" {
		s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
			if last := latestFrom(c.Messages, s.selfID); last != "" && last != c.MostRecentRead {
				ackID = last
				c.MostRecentRead = last
			}
			c.UnreadCount = 0
			return c
		})
	}
	s.mu.Unlock()

	if ackID != "" && s.markRead != nil {
		s.markRead(conversationID, ackID)
	}
}

// latestFrom returns the id of the newest message not authored by selfID.
func latestFrom(msgs []model.Message, selfID string) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].SenderID != selfID {
			return msgs[i].ID
		}
	}
	return ""
}

// ApplyMessageDelivered merges a pushed message into the cache. A
// conversation never seen locally is synthesized from the payload's sender
// info. Delivery into the actively viewed conversation triggers an
// acknowledgment instead of incrementing the unread count. Duplicate ids
// (optimistic entry already confirmed, or replayed event) are dropped.
func (s *State) ApplyMessageDelivered(msg model.Message, sender model.UserPublic) {
	s.mu.Lock()
	if s.find(msg.ConversationID) < 0 {
		s.convos = append([]Conversation{{
			ID:        msg.ConversationID,
			OtherUser: sender,
		}}, s.convos...)
	}

	active := s.activeID == msg.ConversationID
	var ackID string
	s.convos = transform(s.convos, msg.ConversationID, func(c Conversation) Conversation {
		if containsMessage(c.Messages, msg.ID) {
			return c
		}
		c.Messages = append(append([]model.Message(nil), c.Messages...), msg)
		c.LatestMessageText = msg.Text
		if msg.SenderID != s.selfID {
			if active {
				ackID = msg.ID
				c.MostRecentRead = msg.ID
			} else {
				c.UnreadCount++
			}
		}
		return c
	})
	s.convos = moveToFront(s.convos, msg.ConversationID)
	s.mu.Unlock()

	if ackID != "" && s.markRead != nil {
		s.markRead(msg.ConversationID, ackID)
	}
}

// AddLocalMessage appends an optimistic entry for a message the viewer just
// submitted, before the server confirms it. Returns the temporary local id
// that ConfirmMessage later replaces.
func (s *State) AddLocalMessage(conversationID, text string) string {
	tempID := localIDPrefix + uuid.New().String()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
		c.Messages = append(append([]model.Message(nil), c.Messages...), model.Message{
			ID:             tempID,
			ConversationID: conversationID,
			SenderID:       s.selfID,
			Text:           text,
			CreatedAt:      s.now(),
		})
		c.LatestMessageText = text
		return c
	})
	s.convos = moveToFront(s.convos, conversationID)
	return tempID
}

// ConfirmMessage replaces the optimistic entry with the canonical stored
// message once the server write returns. If a pushed copy of the confirmed
// message already arrived, the optimistic entry is simply removed — exactly
// one canonical entry survives either way.
func (s *State) ConfirmMessage(conversationID, tempID string, msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
		out := make([]model.Message, 0, len(c.Messages))
		replaced := false
		for _, m := range c.Messages {
			switch {
			case m.ID == tempID:
				if !containsMessage(c.Messages, msg.ID) {
					out = append(out, msg)
					replaced = true
				}
			default:
				out = append(out, m)
			}
		}
		if !replaced && !containsMessage(out, msg.ID) {
			out = append(out, msg)
		}
		c.Messages = out
		if len(out) > 0 {
			c.LatestMessageText = out[len(out)-1].Text
		}
		return c
	})
}

// ApplyReadReceipt records that the other participant has acknowledged the
// viewer's message (seen-indicator update).
func (s *State) ApplyReadReceipt(conversationID, markedMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
		c.PeerLastRead = markedMessageID
		out := make([]model.Message, len(c.Messages))
		for i, m := range c.Messages {
			if m.SenderID == s.selfID {
				m.ReadMarker = m.ID == markedMessageID
			}
			out[i] = m
		}
		c.Messages = out
		return c
	})
}

// ApplyLocalMarkRead records the viewer's own acknowledgment once the server
// confirms it.
func (s *State) ApplyLocalMarkRead(conversationID, markedMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
		c.MostRecentRead = markedMessageID
		c.UnreadCount = 0
		return c
	})
}

// ApplyTyping updates the other participant's typing flag. Started sets an
// expiry so a lost stop event goes stale on its own.
func (s *State) ApplyTyping(conversationID string, started bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convos = transform(s.convos, conversationID, func(c Conversation) Conversation {
		if started {
			c.typingUntil = s.now().Add(typingWindow)
		} else {
			c.typingUntil = time.Time{}
		}
		return c
	})
}

// ApplyPresence flips the online flag on every cached conversation whose
// other participant is userID; events for users not cached anywhere are
// filtered out here, matching the server's broadcast-to-all model.
func (s *State) ApplyPresence(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.convos))
	for i, c := range s.convos {
		if c.OtherUser.ID == userID {
			c.OtherUser.Online = online
		}
		out[i] = c
	}
	s.convos = out
}

// Conversations returns a snapshot of the cached list, most recent activity
// first.
func (s *State) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Conversation, len(s.convos))
	copy(out, s.convos)
	return out
}

// Conversation returns a snapshot of one cached entry.
func (s *State) Conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.find(conversationID); i >= 0 {
		return s.convos[i], true
	}
	return Conversation{}, false
}

// IsLocalID reports whether id is an unconfirmed optimistic message id.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

func (s *State) find(conversationID string) int {
	for i := range s.convos {
		if s.convos[i].ID == conversationID {
			return i
		}
	}
	return -1
}

// transform applies fn to exactly the element with the given id, yielding a
// new slice and leaving every other element untouched.
func transform(convos []Conversation, conversationID string, fn func(Conversation) Conversation) []Conversation {
	out := make([]Conversation, len(convos))
	for i, c := range convos {
		if c.ID == conversationID {
			c = fn(c)
		}
		out[i] = c
	}
	return out
}

func moveToFront(convos []Conversation, conversationID string) []Conversation {
	for i, c := range convos {
		if c.ID == conversationID {
			out := make([]Conversation, 0, len(convos))
			out = append(out, c)
			out = append(out, convos[:i]...)
			out = append(out, convos[i+1:]...)
			return out
		}
	}
	return convos
}

func containsMessage(msgs []model.Message, id string) bool {
	for i := range msgs {
		if msgs[i].ID == id {
			return true
		}
	}
	return false
}
