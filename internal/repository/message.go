package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/converse/internal/logger"
	"github.com/converse/internal/model"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) Append(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Append", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, text, read_marker, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.ReadMarker, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.Append: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, sender_id, text, read_marker, created_at
		 FROM messages WHERE id = $1`, id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ReadMarker, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	return m, nil
}

// ListByConversation returns all messages of a conversation in creation
// order. Unread counts are derived by walking this order, so it must be
// stable: creation time first, id as a tiebreak.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, sender_id, text, read_marker, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at ASC, id ASC`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 32)
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.ReadMarker, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByConversation scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation rows: %w", err)
	}
	return messages, nil
}

// SetMarker moves the read marker for the (conversation, author) relationship
// to messageID in one transaction: any previous marker from that author is
// cleared before the new one is set. Returns ErrNotFound — and leaves the
// previous marker untouched — when messageID does not name a message from
// authorID in this conversation.
func (r *MessageRepository) SetMarker(ctx context.Context, conversationID, authorID, messageID string) error {
	defer logger.DeferLogDuration("msg.SetMarker", time.Now())()
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("msgRepo.SetMarker begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE messages SET read_marker = false
		 WHERE conversation_id = $1 AND sender_id = $2 AND read_marker`,
		conversationID, authorID,
	); err != nil {
		return fmt.Errorf("msgRepo.SetMarker clear: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE messages SET read_marker = true
		 WHERE id = $1 AND conversation_id = $2 AND sender_id = $3`,
		messageID, conversationID, authorID,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SetMarker set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Rollback restores the previous marker.
		return ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.SetMarker commit: %w", err)
	}
	return nil
}
