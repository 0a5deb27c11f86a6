package entity

import "errors"

// Domain errors for accounts
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrMissingAccessToken = errors.New("access_token is required")
	ErrMissingPageID      = errors.New("page_id is required")
	ErrMissingInstagramID = errors.New("instagram_account_id is required")
)
