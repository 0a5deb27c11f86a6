package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/igflow/internal/domain/account/entity"
	"github.com/vadim/igflow/internal/domain/account/service"
	"github.com/vadim/igflow/internal/httpx/response"
)

// AccountService handles account operations
type AccountService interface {
	SaveConfig(ctx context.Context, in service.SaveConfigInput) (*entity.Account, error)
	List(ctx context.Context) ([]entity.Account, error)
}

// AccountHandler handles HTTP requests for accounts
type AccountHandler struct {
	svc AccountService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

// RegisterRoutes registers account routes
func (h *AccountHandler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts", h.List())
	r.Post("/accounts/config", h.SaveConfig())
}

// SaveConfigRequest matches the dashboard's saveInstagramConfig payload
type SaveConfigRequest struct {
	AccessToken        string `json:"accessToken"`
	PageID             string `json:"pageId"`
	InstagramAccountID string `json:"instagramAccountId"`
}

// SaveConfigResponse represents the result of saving a connection
type SaveConfigResponse struct {
	Account *entity.Account `json:"account"`
	Status  string          `json:"status"`
}

// SaveConfig handles POST /accounts/config
func (h *AccountHandler) SaveConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SaveConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "invalid request body")
			return
		}

		acc, err := h.svc.SaveConfig(r.Context(), service.SaveConfigInput{
			AccessToken:        req.AccessToken,
			PageID:             req.PageID,
			InstagramAccountID: req.InstagramAccountID,
		})
		if err != nil {
			if isValidationError(err) {
				response.BadRequest(w, err.Error())
				return
			}
			response.InternalError(w, "failed to save configuration")
			return
		}

		response.OK(w, SaveConfigResponse{Account: acc, Status: "ok"})
	}
}

// ListResponse represents the accounts list
type ListResponse struct {
	Accounts []entity.Account `json:"accounts"`
}

// List handles GET /accounts
func (h *AccountHandler) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := h.svc.List(r.Context())
		if err != nil {
			response.InternalError(w, "failed to load accounts")
			return
		}
		if accounts == nil {
			accounts = []entity.Account{}
		}
		response.OK(w, ListResponse{Accounts: accounts})
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, entity.ErrMissingAccessToken) ||
		errors.Is(err, entity.ErrMissingPageID) ||
		errors.Is(err, entity.ErrMissingInstagramID)
}
