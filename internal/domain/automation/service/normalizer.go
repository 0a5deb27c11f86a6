package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	accountentity "github.com/vadim/igflow/internal/domain/account/entity"
	"github.com/vadim/igflow/internal/domain/automation/entity"
)

// AccountResolver maps the webhook routing field to a configured account
type AccountResolver interface {
	Resolve(ctx context.Context, igAccountID string) (*accountentity.Account, error)
}

// Normalizer validates raw provider envelopes and canonicalizes them
// into inbound events. Parsing only; no side effects.
type Normalizer struct {
	accounts AccountResolver
}

// NewNormalizer creates a new event normalizer
func NewNormalizer(accounts AccountResolver) *Normalizer {
	return &Normalizer{accounts: accounts}
}

// Provider envelope shapes (Meta webhook format)

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []messaging `json:"messaging"`
	Changes   []change    `json:"changes"`
}

type messaging struct {
	Sender    party  `json:"sender"`
	Recipient party  `json:"recipient"`
	Timestamp int64  `json:"timestamp"`
	Message   *struct {
		MID    string `json:"mid"`
		Text   string `json:"text"`
		IsEcho bool   `json:"is_echo"`
	} `json:"message"`
	Postback *struct {
		MID     string `json:"mid"`
		Title   string `json:"title"`
		Payload string `json:"payload"`
	} `json:"postback"`
}

type change struct {
	Field string `json:"field"`
	Value struct {
		ID   string `json:"id"`
		From party  `json:"from"`
		Text string `json:"text"`
	} `json:"value"`
}

type party struct {
	ID string `json:"id"`
}

// Normalize parses a webhook delivery into inbound events. Events that
// cannot be routed or are structurally invalid are dropped and counted;
// the delivery as a whole is still acked upstream.
func (n *Normalizer) Normalize(ctx context.Context, body []byte, receivedAt time.Time) ([]entity.InboundEvent, []error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, []error{fmt.Errorf("%w: decoding envelope: %v", entity.ErrMalformedEvent, err)}
	}
	if env.Object != "instagram" {
		return nil, []error{fmt.Errorf("%w: unsupported object %q", entity.ErrMalformedEvent, env.Object)}
	}

	var events []entity.InboundEvent
	var rejected []error

	for _, e := range env.Entry {
		acc, err := n.accounts.Resolve(ctx, e.ID)
		if err != nil {
			// Only a confirmed miss means the account is unknown; a
			// repository failure says nothing about the mapping.
			if errors.Is(err, accountentity.ErrAccountNotFound) {
				rejected = append(rejected, fmt.Errorf("%w: entry id %q", entity.ErrUnknownAccount, e.ID))
			} else {
				rejected = append(rejected, fmt.Errorf("%w: entry id %q: %v", entity.ErrAccountLookup, e.ID, err))
			}
			continue
		}

		for _, m := range e.Messaging {
			ev, err := normalizeMessaging(acc, m, receivedAt)
			if err != nil {
				rejected = append(rejected, err)
				continue
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}

		for _, c := range e.Changes {
			ev, err := normalizeChange(acc, c, receivedAt)
			if err != nil {
				rejected = append(rejected, err)
				continue
			}
			if ev != nil {
				events = append(events, *ev)
			}
		}
	}

	// Within one delivery, payload timestamps define order; ties break
	// by receipt then event id.
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].ReceivedAt.Equal(events[j].ReceivedAt) {
			return events[i].ReceivedAt.Before(events[j].ReceivedAt)
		}
		return events[i].ProviderEventID < events[j].ProviderEventID
	})

	return events, rejected
}

func normalizeMessaging(acc *accountentity.Account, m messaging, receivedAt time.Time) (*entity.InboundEvent, error) {
	if m.Sender.ID == "" {
		return nil, fmt.Errorf("%w: messaging event missing sender id", entity.ErrMalformedEvent)
	}
	// Echoes are the account's own outbound messages reflected back
	if m.Message != nil && m.Message.IsEcho {
		return nil, nil
	}
	if m.Sender.ID == acc.InstagramAccountID {
		return nil, nil
	}

	ts := receivedAt
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}

	switch {
	case m.Postback != nil:
		if m.Postback.MID == "" {
			return nil, fmt.Errorf("%w: postback missing mid", entity.ErrMalformedEvent)
		}
		return &entity.InboundEvent{
			ProviderEventID: m.Postback.MID,
			AccountID:       acc.ID,
			ExternalUserID:  m.Sender.ID,
			Kind:            entity.KindPostback,
			Text:            m.Postback.Title,
			Postback:        m.Postback.Payload,
			ReceivedAt:      ts,
		}, nil

	case m.Message != nil:
		if m.Message.MID == "" {
			return nil, fmt.Errorf("%w: message missing mid", entity.ErrMalformedEvent)
		}
		return &entity.InboundEvent{
			ProviderEventID: m.Message.MID,
			AccountID:       acc.ID,
			ExternalUserID:  m.Sender.ID,
			Kind:            entity.KindDM,
			Text:            m.Message.Text,
			ReceivedAt:      ts,
		}, nil
	}

	// Delivery receipts, read receipts and other event families we
	// don't automate on.
	return nil, nil
}

func normalizeChange(acc *accountentity.Account, c change, receivedAt time.Time) (*entity.InboundEvent, error) {
	var kind entity.EventKind
	switch c.Field {
	case "comments":
		kind = entity.KindComment
	case "mentions":
		kind = entity.KindMention
	default:
		return nil, nil
	}

	if c.Value.ID == "" {
		return nil, fmt.Errorf("%w: %s change missing id", entity.ErrMalformedEvent, c.Field)
	}
	if c.Value.From.ID == "" {
		return nil, fmt.Errorf("%w: %s change missing author", entity.ErrMalformedEvent, c.Field)
	}
	if c.Value.From.ID == acc.InstagramAccountID {
		return nil, nil
	}

	return &entity.InboundEvent{
		ProviderEventID: c.Value.ID,
		AccountID:       acc.ID,
		ExternalUserID:  c.Value.From.ID,
		Kind:            kind,
		Text:            c.Value.Text,
		ReceivedAt:      receivedAt,
	}, nil
}
