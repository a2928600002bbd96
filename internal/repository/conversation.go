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

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Create inserts a conversation. The (user_lo_id, user_hi_id) pair carries a
// unique index; a concurrent insert for the same pair returns ErrDuplicate so
// the caller can re-read the winning row.
func (r *ConversationRepository) Create(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("convo.Create", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, user_lo_id, user_hi_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_lo_id, user_hi_id) DO NOTHING`,
		c.ID, c.UserLoID, c.UserHiID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("convoRepo.Create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("convo.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_lo_id, user_hi_id, created_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.UserLoID, &c.UserHiID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convoRepo.GetByID: %w", err)
	}
	return c, nil
}

// FindByPair looks up the conversation for a canonicalized participant pair.
func (r *ConversationRepository) FindByPair(ctx context.Context, lo, hi string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("convo.FindByPair", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_lo_id, user_hi_id, created_at
		 FROM conversations WHERE user_lo_id = $1 AND user_hi_id = $2`,
		lo, hi,
	).Scan(&c.ID, &c.UserLoID, &c.UserHiID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convoRepo.FindByPair: %w", err)
	}
	return c, nil
}

// ListForUser returns the user's conversations ordered by most recent
// activity (latest message time, falling back to creation time).
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("convo.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.user_lo_id, c.user_hi_id, c.created_at
		 FROM conversations c
		 WHERE c.user_lo_id = $1 OR c.user_hi_id = $1
		 ORDER BY COALESCE(
		     (SELECT MAX(m.created_at) FROM messages m WHERE m.conversation_id = c.id),
		     c.created_at
		 ) DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convoRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convos := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserLoID, &c.UserHiID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("convoRepo.ListForUser scan: %w", err)
		}
		convos = append(convos, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convoRepo.ListForUser rows: %w", err)
	}
	return convos, nil
}
