package entity

import "time"

// Role identifies which side of the conversation produced a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryStatus tracks outbound delivery of assistant messages.
// Empty for user messages.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "delivery_failed"
)

// Message represents one turn in a conversation. Immutable once appended.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Index          int            `json:"index"`
	Role           Role           `json:"role"`
	Content        string         `json:"content"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// MaxMessageLength is the maximum length of an outbound DM text message
const MaxMessageLength = 1000

// ValidateMessageText validates the text for an outbound message
func ValidateMessageText(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	if len(text) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}
