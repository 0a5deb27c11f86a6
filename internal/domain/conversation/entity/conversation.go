package entity

import "time"

// State represents the current step of an automation flow for one user.
// Serialized as a lower_snake_case string; the dashboard reads it verbatim.
type State string

const (
	StateGreeting        State = "greeting"
	StateCollectingEmail State = "collecting_email"
	StateCollectingPhone State = "collecting_phone"
	StateAIChat          State = "ai_chat"
	StateCompleted       State = "completed"
)

// Valid reports whether s is a known conversation state
func (s State) Valid() bool {
	switch s {
	case StateGreeting, StateCollectingEmail, StateCollectingPhone, StateAIChat, StateCompleted:
		return true
	}
	return false
}

// Terminal reports whether the automation has finished for this conversation
func (s State) Terminal() bool {
	return s == StateCompleted
}

// CollectedData holds lead information captured during automation.
// Each field is written at most once; the first valid value wins.
type CollectedData struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Conversation represents one automation thread with one external user.
// Keyed by (account_id, external_user_id), unique for the thread's lifetime.
type Conversation struct {
	ID             string        `json:"id"`
	AccountID      string        `json:"account_id"`
	ExternalUserID string        `json:"external_user_id"`
	State          State         `json:"conversationState"`
	Collected      CollectedData `json:"collectedData"`
	Reprompts      int           `json:"-"`
	LastMessageAt  *time.Time    `json:"lastMessageAt,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Key returns the stable conversation key
func (c *Conversation) Key() string {
	return c.AccountID + ":" + c.ExternalUserID
}

// allowedTransitions enumerates forward edges of the automation flow.
// completed is additionally reachable from any state (opt-out abort path).
var allowedTransitions = map[State][]State{
	StateGreeting:        {StateCollectingEmail, StateCollectingPhone, StateAIChat},
	StateCollectingEmail: {StateCollectingPhone, StateAIChat},
	StateCollectingPhone: {StateAIChat},
	StateAIChat:          {StateCompleted},
	StateCompleted:       {},
}

// CanTransition reports whether moving from s to next is a legal edge
func CanTransition(s, next State) bool {
	if s == next {
		return true
	}
	if next == StateCompleted {
		return true
	}
	for _, allowed := range allowedTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
