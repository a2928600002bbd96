package chat

import (
	"context"

	"github.com/converse/internal/model"
)

// ConversationStore is the persistence contract for conversations.
// Implemented by repository.ConversationRepository; tests use an in-memory
// fake. Absent rows surface as repository.ErrNotFound, pair collisions on
// Create as repository.ErrDuplicate.
type ConversationStore interface {
	Create(ctx context.Context, c *model.Conversation) error
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	FindByPair(ctx context.Context, lo, hi string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
}

// MessageStore is the persistence contract for messages. SetMarker must move
// the marker atomically: clear the author's previous marker and set the new
// one, or change nothing at all.
type MessageStore interface {
	Append(ctx context.Context, m *model.Message) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	SetMarker(ctx context.Context, conversationID, authorID, messageID string) error
}

// UserStore resolves participant info for enrichment.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}
