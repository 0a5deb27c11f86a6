package dao

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/igflow/internal/domain/account/entity"
)

// AccountPostgres implements account repository for PostgreSQL
type AccountPostgres struct {
	pool *pgxpool.Pool
}

// NewAccountPostgres creates a new PostgreSQL account repository
func NewAccountPostgres(pool *pgxpool.Pool) *AccountPostgres {
	return &AccountPostgres{pool: pool}
}

const accountColumns = `
	id, page_id, instagram_account_id, access_token, connection_status,
	capture_email, capture_phone, max_reprompts, created_at, updated_at
`

// SaveConfig inserts or replaces the credential for an Instagram account.
// A successful save always resets the connection status to connected.
func (r *AccountPostgres) SaveConfig(ctx context.Context, acc *entity.Account) error {
	query := `
		INSERT INTO accounts (
			id, page_id, instagram_account_id, access_token, connection_status,
			capture_email, capture_phone, max_reprompts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (instagram_account_id) DO UPDATE SET
			page_id = EXCLUDED.page_id,
			access_token = EXCLUDED.access_token,
			connection_status = EXCLUDED.connection_status,
			capture_email = EXCLUDED.capture_email,
			capture_phone = EXCLUDED.capture_phone,
			max_reprompts = EXCLUDED.max_reprompts,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`

	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	now := time.Now()

	err := r.pool.QueryRow(ctx, query,
		acc.ID,
		acc.PageID,
		acc.InstagramAccountID,
		acc.AccessToken,
		entity.StatusConnected,
		acc.Automation.CaptureEmail,
		acc.Automation.CapturePhone,
		acc.Automation.MaxReprompts,
		now,
		now,
	).Scan(&acc.ID)
	if err != nil {
		return fmt.Errorf("saving account config: %w", err)
	}

	acc.ConnectionStatus = entity.StatusConnected
	return nil
}

// GetByID retrieves an account by its id
func (r *AccountPostgres) GetByID(ctx context.Context, id string) (*entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, id))
}

// GetByInstagramAccountID resolves the webhook routing field to an account
func (r *AccountPostgres) GetByInstagramAccountID(ctx context.Context, igAccountID string) (*entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE instagram_account_id = $1`
	return r.scanAccount(r.pool.QueryRow(ctx, query, igAccountID))
}

// List returns all configured accounts
func (r *AccountPostgres) List(ctx context.Context) ([]entity.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying accounts: %w", err)
	}
	defer rows.Close()

	var accounts []entity.Account
	for rows.Next() {
		acc, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *acc)
	}
	return accounts, nil
}

// MarkConnectionStatus updates the connection status for an account
func (r *AccountPostgres) MarkConnectionStatus(ctx context.Context, id string, status entity.ConnectionStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET connection_status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("updating connection status: %w", err)
	}
	return nil
}

func (r *AccountPostgres) scanAccount(row pgx.Row) (*entity.Account, error) {
	acc, err := scanAccountRow(row)
	if err == pgx.ErrNoRows {
		return nil, entity.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func scanAccountRow(row pgx.Row) (*entity.Account, error) {
	var acc entity.Account
	err := row.Scan(
		&acc.ID,
		&acc.PageID,
		&acc.InstagramAccountID,
		&acc.AccessToken,
		&acc.ConnectionStatus,
		&acc.Automation.CaptureEmail,
		&acc.Automation.CapturePhone,
		&acc.Automation.MaxReprompts,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &acc, nil
}
