package entity

import "time"

// ConnectionStatus represents the health of an account's Instagram credential
type ConnectionStatus string

const (
	StatusConnected ConnectionStatus = "connected"
	StatusExpired   ConnectionStatus = "expired"
	StatusError     ConnectionStatus = "error"
)

// Account represents one connected Instagram Business identity
type Account struct {
	ID                 string           `json:"id"`
	PageID             string           `json:"page_id"`
	InstagramAccountID string           `json:"instagram_account_id"`
	AccessToken        string           `json:"-"`
	ConnectionStatus   ConnectionStatus `json:"connectionStatus"`
	Automation         AutomationConfig `json:"automation"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// AutomationConfig holds per-account automation flow settings
type AutomationConfig struct {
	CaptureEmail bool `json:"capture_email"`
	CapturePhone bool `json:"capture_phone"`
	MaxReprompts int  `json:"max_reprompts"`
}

// ValidateConfig checks the fields required to save an Instagram connection
func ValidateConfig(accessToken, pageID, instagramAccountID string) error {
	if accessToken == "" {
		return ErrMissingAccessToken
	}
	if pageID == "" {
		return ErrMissingPageID
	}
	if instagramAccountID == "" {
		return ErrMissingInstagramID
	}
	return nil
}
