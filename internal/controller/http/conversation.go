package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/igflow/internal/domain/conversation/service"
	"github.com/vadim/igflow/internal/httpx/response"
)

// ConversationReader serves the dashboard read API
type ConversationReader interface {
	GetConversations(ctx context.Context, in service.GetConversationsInput) (*service.GetConversationsOutput, error)
}

// ConversationHandler handles HTTP requests for conversations
type ConversationHandler struct {
	svc ConversationReader
}

// NewConversationHandler creates a new conversation handler
func NewConversationHandler(svc ConversationReader) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// RegisterRoutes registers conversation routes
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations", h.GetConversations())
}

// GetConversationsResponse preserves the dashboard's data contract:
// conversations carry conversationState, collectedData and messages[].
type GetConversationsResponse struct {
	Conversations []service.ConversationView `json:"conversations"`
	Total         int64                      `json:"total"`
	HasMore       bool                       `json:"has_more"`
}

// GetConversations handles GET /conversations
func (h *ConversationHandler) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := r.URL.Query().Get("account_id")
		if accountID == "" {
			response.BadRequest(w, "account_id is required")
			return
		}

		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
				limit = parsed
				if limit > 100 {
					limit = 100
				}
			}
		}

		offset := 0
		if o := r.URL.Query().Get("offset"); o != "" {
			if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
				offset = parsed
			}
		}

		result, err := h.svc.GetConversations(r.Context(), service.GetConversationsInput{
			AccountID: accountID,
			Limit:     limit,
			Offset:    offset,
		})
		if err != nil {
			response.InternalError(w, "failed to load conversations")
			return
		}

		response.OK(w, GetConversationsResponse{
			Conversations: result.Conversations,
			Total:         result.Total,
			HasMore:       result.HasMore,
		})
	}
}
