package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// ConversationPostgres implements conversation repository for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

const conversationColumns = `
	id, account_id, external_user_id, state, email, phone, reprompts,
	last_message_at, created_at, updated_at
`

// GetOrCreate returns the conversation for (accountID, externalUserID),
// creating it in the greeting state on first contact. The insert is an
// upsert on the unique key so concurrent first events cannot race into
// two rows.
func (r *ConversationPostgres) GetOrCreate(ctx context.Context, accountID, externalUserID string) (*entity.Conversation, error) {
	query := `
		INSERT INTO conversations (
			id, account_id, external_user_id, state, email, phone, reprompts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, '', '', 0, $5, $5)
		ON CONFLICT (account_id, external_user_id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at
		RETURNING ` + conversationColumns

	now := time.Now()
	row := r.pool.QueryRow(ctx, query, uuid.New().String(), accountID, externalUserID, entity.StateGreeting, now)
	return scanConversation(row)
}

// GetByKey retrieves a conversation by its (accountID, externalUserID) key
func (r *ConversationPostgres) GetByKey(ctx context.Context, accountID, externalUserID string) (*entity.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE account_id = $1 AND external_user_id = $2`

	conv, err := scanConversation(r.pool.QueryRow(ctx, query, accountID, externalUserID))
	if err == pgx.ErrNoRows {
		return nil, entity.ErrConversationNotFound
	}
	return conv, err
}

// Update persists the outcome of an engine transition: state, collected
// data, the re-prompt counter and activity timestamp.
func (r *ConversationPostgres) Update(ctx context.Context, conv *entity.Conversation) error {
	query := `
		UPDATE conversations SET
			state = $2,
			email = $3,
			phone = $4,
			reprompts = $5,
			last_message_at = $6,
			updated_at = $7
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query,
		conv.ID,
		conv.State,
		conv.Collected.Email,
		conv.Collected.Phone,
		conv.Reprompts,
		conv.LastMessageAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}
	return nil
}

// ListByAccount retrieves conversations for an account ordered by recency
func (r *ConversationPostgres) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]entity.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE account_id = $1
		ORDER BY last_message_at DESC NULLS LAST, updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []entity.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, *conv)
	}
	return conversations, nil
}

// Count returns the total count of conversations for an account
func (r *ConversationPostgres) Count(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE account_id = $1`, accountID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return count, nil
}

func scanConversation(row pgx.Row) (*entity.Conversation, error) {
	var conv entity.Conversation
	var lastMessageAt *time.Time

	err := row.Scan(
		&conv.ID,
		&conv.AccountID,
		&conv.ExternalUserID,
		&conv.State,
		&conv.Collected.Email,
		&conv.Collected.Phone,
		&conv.Reprompts,
		&lastMessageAt,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.LastMessageAt = lastMessageAt
	return &conv, nil
}
