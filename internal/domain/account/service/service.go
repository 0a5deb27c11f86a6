package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vadim/igflow/internal/domain/account/entity"
)

// AccountRepository defines the interface for account storage
type AccountRepository interface {
	SaveConfig(ctx context.Context, acc *entity.Account) error
	GetByID(ctx context.Context, id string) (*entity.Account, error)
	GetByInstagramAccountID(ctx context.Context, igAccountID string) (*entity.Account, error)
	List(ctx context.Context) ([]entity.Account, error)
	MarkConnectionStatus(ctx context.Context, id string, status entity.ConnectionStatus) error
}

// Defaults are applied to accounts saved without explicit automation settings
type Defaults struct {
	CaptureEmail bool
	CapturePhone bool
	MaxReprompts int
}

// Service handles account business logic
type Service struct {
	repo     AccountRepository
	defaults Defaults
	logger   *slog.Logger
}

// New creates a new account service
func New(repo AccountRepository, defaults Defaults, logger *slog.Logger) *Service {
	return &Service{repo: repo, defaults: defaults, logger: logger}
}

// SaveConfigInput represents input for saving an Instagram connection
type SaveConfigInput struct {
	AccessToken        string
	PageID             string
	InstagramAccountID string
}

// SaveConfig validates and persists an Instagram connection.
// The credential is stored opaque; token refresh is owned externally.
func (s *Service) SaveConfig(ctx context.Context, in SaveConfigInput) (*entity.Account, error) {
	if err := entity.ValidateConfig(in.AccessToken, in.PageID, in.InstagramAccountID); err != nil {
		return nil, err
	}

	acc := &entity.Account{
		PageID:             in.PageID,
		InstagramAccountID: in.InstagramAccountID,
		AccessToken:        in.AccessToken,
		Automation: entity.AutomationConfig{
			CaptureEmail: s.defaults.CaptureEmail,
			CapturePhone: s.defaults.CapturePhone,
			MaxReprompts: s.defaults.MaxReprompts,
		},
	}

	if err := s.repo.SaveConfig(ctx, acc); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	s.logger.Info("instagram connection saved",
		"account_id", acc.ID,
		"instagram_account_id", acc.InstagramAccountID,
	)
	return acc, nil
}

// List returns all configured accounts
func (s *Service) List(ctx context.Context) ([]entity.Account, error) {
	return s.repo.List(ctx)
}

// Resolve maps a webhook routing id to a configured account
func (s *Service) Resolve(ctx context.Context, igAccountID string) (*entity.Account, error) {
	return s.repo.GetByInstagramAccountID(ctx, igAccountID)
}

// MarkExpired flags an account credential as expired after an auth failure.
// No further sends are attempted until the credential is refreshed.
func (s *Service) MarkExpired(ctx context.Context, accountID string) error {
	if err := s.repo.MarkConnectionStatus(ctx, accountID, entity.StatusExpired); err != nil {
		return err
	}
	s.logger.Warn("account credential expired", "account_id", accountID)
	return nil
}
