package dao

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// MessagePostgres implements message repository for PostgreSQL
type MessagePostgres struct {
	pool *pgxpool.Pool
}

// NewMessagePostgres creates a new PostgreSQL message repository
func NewMessagePostgres(pool *pgxpool.Pool) *MessagePostgres {
	return &MessagePostgres{pool: pool}
}

// Append inserts a message at the next index for its conversation.
// Callers are serialized per conversation by the sequencer, so the
// MAX(idx)+1 assignment cannot race within one conversation.
func (r *MessagePostgres) Append(ctx context.Context, msg *entity.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, idx, role, content, delivery_status, ts)
		SELECT $1, $2, COALESCE(MAX(idx) + 1, 0), $3, $4, $5, $6
		FROM messages WHERE conversation_id = $2
		RETURNING idx
	`

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	err := r.pool.QueryRow(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.Role,
		msg.Content,
		msg.DeliveryStatus,
		msg.Timestamp,
	).Scan(&msg.Index)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// MarkDeliveryStatus records the outbound delivery outcome of a message
func (r *MessagePostgres) MarkDeliveryStatus(ctx context.Context, messageID string, status entity.DeliveryStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET delivery_status = $2 WHERE id = $1`,
		messageID, status,
	)
	if err != nil {
		return fmt.Errorf("updating delivery status: %w", err)
	}
	return nil
}

// ListByConversation retrieves messages in conversation order
func (r *MessagePostgres) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error) {
	query := `
		SELECT id, conversation_id, idx, role, content, delivery_status, ts
		FROM messages
		WHERE conversation_id = $1
		ORDER BY idx
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []entity.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

// Count returns the total count of messages in a conversation
func (r *MessagePostgres) Count(ctx context.Context, conversationID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return count, nil
}

func scanMessage(row pgx.Row) (*entity.Message, error) {
	var msg entity.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.Index,
		&msg.Role,
		&msg.Content,
		&msg.DeliveryStatus,
		&msg.Timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return &msg, nil
}
