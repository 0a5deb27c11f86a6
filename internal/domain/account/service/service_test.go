package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/igflow/internal/domain/account/entity"
)

type fakeRepo struct {
	saved    []entity.Account
	statuses map[string]entity.ConnectionStatus
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{statuses: make(map[string]entity.ConnectionStatus)}
}

func (f *fakeRepo) SaveConfig(_ context.Context, acc *entity.Account) error {
	if acc.ID == "" {
		acc.ID = "generated-id"
	}
	acc.ConnectionStatus = entity.StatusConnected
	f.saved = append(f.saved, *acc)
	return nil
}

func (f *fakeRepo) GetByID(_ context.Context, id string) (*entity.Account, error) {
	return nil, entity.ErrAccountNotFound
}

func (f *fakeRepo) GetByInstagramAccountID(_ context.Context, igAccountID string) (*entity.Account, error) {
	return nil, entity.ErrAccountNotFound
}

func (f *fakeRepo) List(_ context.Context) ([]entity.Account, error) {
	return f.saved, nil
}

func (f *fakeRepo) MarkConnectionStatus(_ context.Context, id string, status entity.ConnectionStatus) error {
	f.statuses[id] = status
	return nil
}

func newService(repo *fakeRepo) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, Defaults{CaptureEmail: true, CapturePhone: true, MaxReprompts: 3}, logger)
}

func TestSaveConfigAppliesAutomationDefaults(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)

	acc, err := svc.SaveConfig(context.Background(), SaveConfigInput{
		AccessToken:        "tok",
		PageID:             "page-1",
		InstagramAccountID: "ig-123",
	})

	require.NoError(t, err)
	assert.Equal(t, entity.StatusConnected, acc.ConnectionStatus)
	assert.True(t, acc.Automation.CaptureEmail)
	assert.True(t, acc.Automation.CapturePhone)
	assert.Equal(t, 3, acc.Automation.MaxReprompts)
	require.Len(t, repo.saved, 1)
}

func TestSaveConfigValidation(t *testing.T) {
	svc := newService(newFakeRepo())

	tests := []struct {
		name string
		in   SaveConfigInput
		want error
	}{
		{"missing token", SaveConfigInput{PageID: "p", InstagramAccountID: "ig"}, entity.ErrMissingAccessToken},
		{"missing page", SaveConfigInput{AccessToken: "t", InstagramAccountID: "ig"}, entity.ErrMissingPageID},
		{"missing instagram id", SaveConfigInput{AccessToken: "t", PageID: "p"}, entity.ErrMissingInstagramID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SaveConfig(context.Background(), tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMarkExpired(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo)

	require.NoError(t, svc.MarkExpired(context.Background(), "acc-1"))
	assert.Equal(t, entity.StatusExpired, repo.statuses["acc-1"])
}
