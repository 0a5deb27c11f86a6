package entity

import "time"

// EventKind classifies the provider interaction that produced an event
type EventKind string

const (
	KindDM       EventKind = "dm"
	KindPostback EventKind = "postback"
	KindComment  EventKind = "comment"
	KindMention  EventKind = "mention"
)

// InboundEvent is a normalized provider event. Consumed exactly once per
// ProviderEventID; the idempotency filter enforces that.
type InboundEvent struct {
	ProviderEventID string
	AccountID       string
	ExternalUserID  string
	Kind            EventKind
	Text            string
	Postback        string
	ReceivedAt      time.Time
}

// Key returns the conversation key this event routes to
func (e InboundEvent) Key() string {
	return e.AccountID + ":" + e.ExternalUserID
}
