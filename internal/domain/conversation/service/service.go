package service

import (
	"context"
	"fmt"

	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// ConversationRepository defines the interface for conversation storage
type ConversationRepository interface {
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]entity.Conversation, error)
	Count(ctx context.Context, accountID string) (int64, error)
}

// MessageRepository defines the interface for message storage
type MessageRepository interface {
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error)
}

// Service serves the dashboard read API
type Service struct {
	convRepo ConversationRepository
	msgRepo  MessageRepository
}

// New creates a new conversation read service
func New(convRepo ConversationRepository, msgRepo MessageRepository) *Service {
	return &Service{convRepo: convRepo, msgRepo: msgRepo}
}

// messagesPerConversation caps history loaded per conversation in list views
const messagesPerConversation = 200

// ConversationView is a conversation with its message history attached,
// shaped for the dashboard contract.
type ConversationView struct {
	entity.Conversation
	Messages []entity.Message `json:"messages"`
}

// GetConversationsInput represents input for listing conversations
type GetConversationsInput struct {
	AccountID string
	Limit     int
	Offset    int
}

// GetConversationsOutput represents output from listing conversations
type GetConversationsOutput struct {
	Conversations []ConversationView
	Total         int64
	HasMore       bool
}

// GetConversations lists an account's conversations with their histories
func (s *Service) GetConversations(ctx context.Context, in GetConversationsInput) (*GetConversationsOutput, error) {
	convs, err := s.convRepo.ListByAccount(ctx, in.AccountID, in.Limit, in.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	views := make([]ConversationView, 0, len(convs))
	for _, conv := range convs {
		msgs, err := s.msgRepo.ListByConversation(ctx, conv.ID, messagesPerConversation, 0)
		if err != nil {
			return nil, fmt.Errorf("loading messages for %s: %w", conv.ID, err)
		}
		views = append(views, ConversationView{Conversation: conv, Messages: msgs})
	}

	total, err := s.convRepo.Count(ctx, in.AccountID)
	if err != nil {
		return nil, fmt.Errorf("counting conversations: %w", err)
	}

	return &GetConversationsOutput{
		Conversations: views,
		Total:         total,
		HasMore:       int64(in.Offset+len(views)) < total,
	}, nil
}
