package entity

import "errors"

// Domain errors for conversations
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrEmptyMessage         = errors.New("message text cannot be empty")
	ErrMessageTooLong       = errors.New("message exceeds maximum length")
	ErrInvalidTransition    = errors.New("invalid conversation state transition")
)
