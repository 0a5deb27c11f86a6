// Package dispatch executes the side effects decided by the transition
// engine: outbound sends, AI responder calls and lead persistence.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	accountentity "github.com/vadim/igflow/internal/domain/account/entity"
	autoentity "github.com/vadim/igflow/internal/domain/automation/entity"
	"github.com/vadim/igflow/internal/domain/conversation/entity"
	"github.com/vadim/igflow/internal/httpx/upstream/ai"
	"github.com/vadim/igflow/internal/httpx/upstream/instagram"
)

// MessageSender sends outbound DMs
type MessageSender interface {
	SendMessage(ctx context.Context, in instagram.SendMessageInput) (*instagram.SendMessageOutput, error)
}

// AIResponder generates AI chat replies
type AIResponder interface {
	Respond(ctx context.Context, history []entity.Message) (*ai.Reply, error)
}

// MessageStore appends assistant turns with their delivery outcome
type MessageStore interface {
	Append(ctx context.Context, msg *entity.Message) error
}

// LeadStore persists collected lead data
type LeadStore interface {
	Update(ctx context.Context, conv *entity.Conversation) error
}

// AccountMarker flags accounts whose credential stopped working
type AccountMarker interface {
	MarkExpired(ctx context.Context, accountID string) error
}

// RetryPolicy bounds outbound retries
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Budget      time.Duration
}

// Dispatcher executes engine actions against external services. A
// failed or exhausted action never rolls back the state transition that
// produced it; the outcome is recorded on the persisted message instead.
type Dispatcher struct {
	sender        MessageSender
	responder     AIResponder
	messages      MessageStore
	leads         LeadStore
	accounts      AccountMarker
	retry         RetryPolicy
	fallbackReply string
	logger        *slog.Logger
}

// New creates a new dispatcher
func New(
	sender MessageSender,
	responder AIResponder,
	messages MessageStore,
	leads LeadStore,
	accounts AccountMarker,
	retry RetryPolicy,
	fallbackReply string,
	logger *slog.Logger,
) *Dispatcher {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 5
	}
	if retry.Base <= 0 {
		retry.Base = 500 * time.Millisecond
	}
	if retry.Budget <= 0 {
		retry.Budget = 30 * time.Second
	}
	return &Dispatcher{
		sender:        sender,
		responder:     responder,
		messages:      messages,
		leads:         leads,
		accounts:      accounts,
		retry:         retry,
		fallbackReply: fallbackReply,
		logger:        logger,
	}
}

// Result summarizes one dispatch run
type Result struct {
	AIHandoff  bool
	AuthFailed bool
}

// Execute runs the action list in order for a conversation. history is
// the message history including the event's user turn; it is extended
// in place as assistant turns are appended.
func (d *Dispatcher) Execute(
	ctx context.Context,
	acc *accountentity.Account,
	conv *entity.Conversation,
	history []entity.Message,
	actions []autoentity.Action,
) (*Result, []entity.Message, error) {
	res := &Result{}

	for _, action := range actions {
		switch action.Type {
		case autoentity.ActionSendMessage:
			msg, err := d.send(ctx, acc, conv, action.Text, res)
			if err != nil {
				return res, history, err
			}
			history = append(history, *msg)

		case autoentity.ActionCallAI:
			reply := d.callAI(ctx, history)
			res.AIHandoff = reply.Handoff
			msg, err := d.send(ctx, acc, conv, reply.Text, res)
			if err != nil {
				return res, history, err
			}
			history = append(history, *msg)

		case autoentity.ActionPersistLead:
			if err := d.persistLead(ctx, conv, action); err != nil {
				return res, history, err
			}
		}
	}

	return res, history, nil
}

// send delivers one reply with bounded retries and appends it to the
// store with its delivery outcome. Only the append error is returned:
// delivery failure is recorded, not propagated.
func (d *Dispatcher) send(
	ctx context.Context,
	acc *accountentity.Account,
	conv *entity.Conversation,
	text string,
	res *Result,
) (*entity.Message, error) {
	status := entity.DeliverySent

	if res.AuthFailed {
		// Credential already failed during this dispatch; don't burn
		// more attempts against a dead token.
		status = entity.DeliveryFailed
	} else if err := d.sendWithRetry(ctx, acc, conv.ExternalUserID, text); err != nil {
		status = entity.DeliveryFailed
		if errors.Is(err, instagram.ErrAuthExpired) {
			res.AuthFailed = true
			if markErr := d.accounts.MarkExpired(ctx, acc.ID); markErr != nil {
				d.logger.Error("marking account expired", "account_id", acc.ID, "error", markErr)
			}
		}
		d.logger.Warn("outbound send failed",
			"conversation_id", conv.ID,
			"account_id", acc.ID,
			"error", err,
		)
	}

	msg := &entity.Message{
		ConversationID: conv.ID,
		Role:           entity.RoleAssistant,
		Content:        text,
		DeliveryStatus: status,
		Timestamp:      time.Now(),
	}
	if err := d.appendWithRetry(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending assistant message: %w", err)
	}
	return msg, nil
}

// sendWithRetry retries transient and rate-limit failures with
// exponential backoff under an overall time budget
func (d *Dispatcher) sendWithRetry(ctx context.Context, acc *accountentity.Account, recipientID, text string) error {
	if err := entity.ValidateMessageText(text); err != nil {
		return err
	}

	deadline := time.Now().Add(d.retry.Budget)
	delay := d.retry.Base

	var lastErr error
	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		_, err := d.sender.SendMessage(ctx, instagram.SendMessageInput{
			IGUserID:    acc.InstagramAccountID,
			AccessToken: acc.AccessToken,
			RecipientID: recipientID,
			Text:        text,
		})
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, instagram.ErrAuthExpired) || errors.Is(err, instagram.ErrInvalidRecipient) {
			return err
		}
		if attempt == d.retry.MaxAttempts || time.Now().Add(delay).After(deadline) {
			break
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return lastErr
}

// callAI asks the responder for a reply, retrying transient failures.
// On exhaustion it degrades to the scripted fallback so the state
// machine never stalls on the AI dependency.
func (d *Dispatcher) callAI(ctx context.Context, history []entity.Message) ai.Reply {
	delay := d.retry.Base

	for attempt := 1; attempt <= d.retry.MaxAttempts; attempt++ {
		reply, err := d.responder.Respond(ctx, history)
		if err == nil {
			return *reply
		}
		d.logger.Warn("AI responder call failed", "attempt", attempt, "error", err)

		if attempt == d.retry.MaxAttempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ai.Reply{Text: d.fallbackReply}
		}
		delay *= 2
	}
	return ai.Reply{Text: d.fallbackReply}
}

// persistLead writes collected data; a local durability operation, so
// it is retried until success or context cancellation
func (d *Dispatcher) persistLead(ctx context.Context, conv *entity.Conversation, action autoentity.Action) error {
	for {
		err := d.leads.Update(ctx, conv)
		if err == nil {
			d.logger.Info("lead captured",
				"conversation_id", conv.ID,
				"field", action.Field,
			)
			return nil
		}
		d.logger.Error("persisting lead failed", "conversation_id", conv.ID, "error", err)

		select {
		case <-time.After(d.retry.Base):
		case <-ctx.Done():
			return fmt.Errorf("persisting lead: %w", ctx.Err())
		}
	}
}

// appendWithRetry stores a message, retrying local failures briefly
func (d *Dispatcher) appendWithRetry(ctx context.Context, msg *entity.Message) error {
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := d.messages.Append(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		select {
		case <-time.After(d.retry.Base):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
