// Package chat implements the conversation synchronization engine: resolving
// the canonical conversation for a participant pair, appending messages,
// reconciling read markers and deriving unread counts. Mutations are
// serialized per conversation; push delivery is best-effort and never rolls
// back a persisted write.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/converse/internal/logger"
	"github.com/converse/internal/model"
	"github.com/converse/internal/repository"
)

// Pusher delivers a named event to all live connections of one user and
// silently drops it when there are none. Implemented by ws.Hub.
type Pusher interface {
	MessageDelivered(recipientID string, msg *model.Message, sender model.UserPublic)
	ReadReceiptUpdated(recipientID, conversationID string, marked *model.Message)
}

// Presence answers whether a user has at least one live connection.
type Presence interface {
	Online(userID string) bool
}

// Notifier sends an out-of-band notification (web push) to a user. May be nil.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

type Service struct {
	convos   ConversationStore
	msgs     MessageStore
	users    UserStore
	presence Presence
	pusher   Pusher
	notifier Notifier
	locks    *keyedMutex
}

func NewService(convos ConversationStore, msgs MessageStore, users UserStore, presence Presence, pusher Pusher, notifier Notifier) *Service {
	return &Service{
		convos:   convos,
		msgs:     msgs,
		users:    users,
		presence: presence,
		pusher:   pusher,
		notifier: notifier,
		locks:    newKeyedMutex(),
	}
}

// Resolve returns the conversation between a and b, creating it when absent.
// Safe under concurrent calls for the same pair: the unique index on the
// canonical pair makes the second insert lose, and the loser re-reads the
// winning row instead of surfacing the conflict.
func (s *Service) Resolve(ctx context.Context, a, b string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("chat.Resolve", time.Now())()
	if a == "" || b == "" || a == b {
		return nil, ErrValidation
	}
	lo, hi := model.CanonicalPair(a, b)

	c, err := s.convos.FindByPair(ctx, lo, hi)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	c = &model.Conversation{
		ID:        uuid.New().String(),
		UserLoID:  lo,
		UserHiID:  hi,
		CreatedAt: time.Now().UTC(),
	}
	err = s.convos.Create(ctx, c)
	if errors.Is(err, repository.ErrDuplicate) {
		// Lost the double-submit race: the other participant created it first.
		return s.convos.FindByPair(ctx, lo, hi)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Send appends a message for senderID. When conversationID is given the
// conversation is appended to directly (the fast path once a conversation is
// known client-side); otherwise it is resolved or created for the pair. The
// stored message plus compact sender info is pushed to the recipient; a web
// push fires when the recipient has no live connection.
func (s *Service) Send(ctx context.Context, senderID, recipientID, text, conversationID string) (*model.Message, model.UserPublic, error) {
	defer logger.DeferLogDuration("chat.Send", time.Now())()
	if text == "" {
		return nil, model.UserPublic{}, ErrValidation
	}

	var convo *model.Conversation
	var err error
	if conversationID != "" {
		convo, err = s.convos.GetByID(ctx, conversationID)
		if err != nil {
			return nil, model.UserPublic{}, err
		}
		if !convo.HasParticipant(senderID) {
			return nil, model.UserPublic{}, ErrForbidden
		}
		recipientID = convo.OtherParticipant(senderID)
	} else {
		if senderID == recipientID {
			return nil, model.UserPublic{}, ErrValidation
		}
		convo, err = s.Resolve(ctx, senderID, recipientID)
		if err != nil {
			return nil, model.UserPublic{}, err
		}
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, model.UserPublic{}, err
	}
	senderPub := sender.ToPublic()
	if s.presence != nil {
		senderPub.Online = s.presence.Online(senderID)
	}

	// Held through push emission so events for one conversation reach the
	// recipient in commit order.
	unlock := s.locks.lock(convo.ID)
	defer unlock()

	msg := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: convo.ID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.msgs.Append(ctx, msg); err != nil {
		return nil, model.UserPublic{}, err
	}

	if s.pusher != nil {
		s.pusher.MessageDelivered(recipientID, msg, senderPub)
	}
	if s.notifier != nil && (s.presence == nil || !s.presence.Online(recipientID)) {
		body := msg.Text
		if len(body) > 120 {
			body = body[:117] + "..."
		}
		go s.notifier.Notify(context.Background(), recipientID, sender.Username, body,
			map[string]string{"conversation_id": convo.ID, "message_id": msg.ID})
	}
	return msg, senderPub, nil
}

// MarkRead moves viewerID's read marker in the conversation to the message
// named by latestSeenMessageID, which must have been authored by the other
// participant. The previous marker is cleared and the new one set atomically;
// an unknown message id mutates nothing. Re-marking the same message is a
// no-op in effect. The other participant is pushed a read-receipt update so
// their seen-indicator follows.
func (s *Service) MarkRead(ctx context.Context, conversationID, viewerID, latestSeenMessageID string) (*model.Message, error) {
	defer logger.DeferLogDuration("chat.MarkRead", time.Now())()
	convo, err := s.convos.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !convo.HasParticipant(viewerID) {
		return nil, ErrForbidden
	}
	author := convo.OtherParticipant(viewerID)

	unlock := s.locks.lock(convo.ID)
	defer unlock()

	if err := s.msgs.SetMarker(ctx, convo.ID, author, latestSeenMessageID); err != nil {
		return nil, err
	}
	marked, err := s.msgs.GetByID(ctx, latestSeenMessageID)
	if err != nil {
		return nil, err
	}

	if s.pusher != nil {
		s.pusher.ReadReceiptUpdated(author, convo.ID, marked)
	}
	return marked, nil
}

// Conversation returns a conversation by id.
func (s *Service) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.convos.GetByID(ctx, id)
}

// UnreadCount loads the conversation's messages and derives the viewer's
// unread count via the authoritative walk.
func (s *Service) UnreadCount(ctx context.Context, conversationID, viewerID string) (int, error) {
	msgs, err := s.msgs.ListByConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	return UnreadCount(msgs, viewerID), nil
}

// ListConversations returns the user's conversations ordered by most recent
// activity, each enriched with the other participant (live online flag),
// messages in creation order, preview text, derived unread count and the
// viewer's read marker.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	defer logger.DeferLogDuration("chat.ListConversations", time.Now())()
	convos, err := s.convos.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]model.ConversationView, 0, len(convos))
	for i := range convos {
		c := convos[i]
		otherID := c.OtherParticipant(userID)
		other, err := s.users.GetByID(ctx, otherID)
		if err != nil {
			logger.Errorf("list conversations: other user %s: %v", otherID, err)
			continue
		}
		otherPub := other.ToPublic()
		if s.presence != nil {
			otherPub.Online = s.presence.Online(otherID)
		}

		msgs, err := s.msgs.ListByConversation(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		v := model.ConversationView{
			Conversation:   c,
			OtherUser:      otherPub,
			Messages:       msgs,
			UnreadCount:    UnreadCount(msgs, userID),
			MostRecentRead: mostRecentRead(msgs, userID),
		}
		if len(msgs) > 0 {
			v.LatestMessageText = msgs[len(msgs)-1].Text
		}
		views = append(views, v)
	}
	return views, nil
}
