// Package service wires the webhook intake pipeline: normalize,
// deduplicate, sequence per conversation, transition, dispatch.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	accountentity "github.com/vadim/igflow/internal/domain/account/entity"
	autoentity "github.com/vadim/igflow/internal/domain/automation/entity"
	"github.com/vadim/igflow/internal/domain/automation/dispatch"
	"github.com/vadim/igflow/internal/domain/automation/engine"
	"github.com/vadim/igflow/internal/domain/automation/sequencer"
	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// IdempotencyFilter is the durable seen-set of provider event ids
type IdempotencyFilter interface {
	InsertIfAbsent(ctx context.Context, eventID string) (bool, error)
	Remove(ctx context.Context, eventID string) error
}

// ConversationStore is the pipeline's view of conversation storage
type ConversationStore interface {
	GetOrCreate(ctx context.Context, accountID, externalUserID string) (*entity.Conversation, error)
	Update(ctx context.Context, conv *entity.Conversation) error
}

// MessageStore is the pipeline's view of message storage
type MessageStore interface {
	Append(ctx context.Context, msg *entity.Message) error
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]entity.Message, error)
}

// AccountStore loads accounts for processing
type AccountStore interface {
	GetByID(ctx context.Context, id string) (*accountentity.Account, error)
}

// ActionDispatcher executes engine actions
type ActionDispatcher interface {
	Execute(ctx context.Context, acc *accountentity.Account, conv *entity.Conversation, history []entity.Message, actions []autoentity.Action) (*dispatch.Result, []entity.Message, error)
}

// TranscriptArchiver exports completed conversation transcripts
type TranscriptArchiver interface {
	Archive(ctx context.Context, conv *entity.Conversation, history []entity.Message) error
}

// Texts holds the scripted reply texts shared across accounts
type Texts struct {
	Greeting    string
	EmailPrompt string
	EmailRetry  string
	PhonePrompt string
	PhoneRetry  string
	AIIntro     string
	OptOutReply string
}

// historyLimit caps the context window handed to the AI responder
const historyLimit = 100

// Pipeline consumes normalized events and drives conversations through
// the state machine. Acceptance by the idempotency filter happens
// synchronously on submission, so per-key submission order to the
// sequencer is acceptance order.
type Pipeline struct {
	normalizer *Normalizer
	filter     IdempotencyFilter
	seq        *sequencer.Sequencer
	accounts   AccountStore
	convs      ConversationStore
	msgs       MessageStore
	dispatcher ActionDispatcher
	archiver   TranscriptArchiver // nil when archiving is disabled
	texts      Texts
	logger     *slog.Logger
}

// NewPipeline creates the event pipeline
func NewPipeline(
	normalizer *Normalizer,
	filter IdempotencyFilter,
	seq *sequencer.Sequencer,
	accounts AccountStore,
	convs ConversationStore,
	msgs MessageStore,
	dispatcher ActionDispatcher,
	archiver TranscriptArchiver,
	texts Texts,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		filter:     filter,
		seq:        seq,
		accounts:   accounts,
		convs:      convs,
		msgs:       msgs,
		dispatcher: dispatcher,
		archiver:   archiver,
		texts:      texts,
		logger:     logger,
	}
}

// Submit validates and enqueues one webhook delivery. It returns once
// every event is either rejected, deduplicated or queued; processing
// happens asynchronously so the provider gets its ack promptly. The
// error is only for envelope-level decode failures.
func (p *Pipeline) Submit(ctx context.Context, body []byte) error {
	events, rejected := p.normalizer.Normalize(ctx, body, time.Now())

	for _, err := range rejected {
		switch {
		case errors.Is(err, autoentity.ErrUnknownAccount):
			p.logger.Warn("dropping unroutable event", "error", err)
		case errors.Is(err, autoentity.ErrAccountLookup):
			p.logger.Error("dropping event after account lookup failure", "error", err)
		default:
			p.logger.Warn("dropping malformed event", "error", err)
		}
	}
	if len(events) == 0 && len(rejected) > 0 {
		return nil
	}

	for _, ev := range events {
		accepted, err := p.filter.InsertIfAbsent(ctx, ev.ProviderEventID)
		if err != nil {
			// The delivery is still acked upstream, so this event is
			// dropped. The id was never recorded; a redelivery, if the
			// provider sends one, gets a clean acceptance attempt.
			p.logger.Error("idempotency filter failed, dropping event", "event_id", ev.ProviderEventID, "error", err)
			continue
		}
		if !accepted {
			// Duplicate delivery; not an error.
			continue
		}

		event := ev
		if !p.seq.Run(event.Key(), func(ctx context.Context) {
			if err := p.process(ctx, event); err != nil {
				p.logger.Error("processing event failed",
					"event_id", event.ProviderEventID,
					"conversation_key", event.Key(),
					"error", err,
				)
			}
		}) {
			// The id was recorded but the event will never run; release
			// it so a redelivery is not swallowed as a duplicate.
			if err := p.filter.Remove(ctx, event.ProviderEventID); err != nil {
				p.logger.Error("releasing event id failed", "event_id", event.ProviderEventID, "error", err)
			}
			p.logger.Warn("pipeline closed, dropping event", "event_id", event.ProviderEventID)
		}
	}

	return nil
}

// process applies one accepted event to its conversation. Runs with
// per-key exclusivity under the sequencer.
func (p *Pipeline) process(ctx context.Context, ev autoentity.InboundEvent) error {
	acc, err := p.accounts.GetByID(ctx, ev.AccountID)
	if err != nil {
		return fmt.Errorf("loading account: %w", err)
	}

	conv, err := p.convs.GetOrCreate(ctx, ev.AccountID, ev.ExternalUserID)
	if err != nil {
		return fmt.Errorf("loading conversation: %w", err)
	}

	// The user's turn is appended unconditionally, terminal states
	// included: completed conversations keep an audit trail.
	userMsg := &entity.Message{
		ConversationID: conv.ID,
		Role:           entity.RoleUser,
		Content:        eventText(ev),
		Timestamp:      ev.ReceivedAt,
	}
	if err := p.msgs.Append(ctx, userMsg); err != nil {
		return fmt.Errorf("appending user message: %w", err)
	}

	decision := engine.Transition(engine.TransitionInput{
		State:     conv.State,
		Collected: conv.Collected,
		Reprompts: conv.Reprompts,
		Config:    p.engineConfig(acc),
		Event:     ev,
	})

	if !entity.CanTransition(conv.State, decision.NextState) {
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, conv.State, decision.NextState)
	}

	// Commit the transition before dispatching: a redelivered event is
	// already filtered out, and delivery failures must not unwind an
	// applied decision.
	now := ev.ReceivedAt
	conv.State = decision.NextState
	conv.Collected = decision.Collected
	conv.Reprompts = decision.Reprompts
	conv.LastMessageAt = &now
	if err := p.convs.Update(ctx, conv); err != nil {
		return fmt.Errorf("committing transition: %w", err)
	}

	history, err := p.msgs.ListByConversation(ctx, conv.ID, historyLimit, 0)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}

	// Terminal states decide no actions; the dispatcher is not invoked
	// at all so absorbed events stay side-effect free.
	if len(decision.Actions) > 0 {
		var res *dispatch.Result
		res, history, err = p.dispatcher.Execute(ctx, acc, conv, history, decision.Actions)
		if err != nil {
			return fmt.Errorf("dispatching actions: %w", err)
		}

		if res.AIHandoff {
			if next := engine.ResolveAIReply(conv.State, true); next != conv.State {
				conv.State = next
				if err := p.convs.Update(ctx, conv); err != nil {
					return fmt.Errorf("committing handoff: %w", err)
				}
			}
		}
	}

	if conv.State == entity.StateCompleted && p.archiver != nil {
		if err := p.archiver.Archive(ctx, conv, history); err != nil {
			p.logger.Warn("archiving transcript failed", "conversation_id", conv.ID, "error", err)
		}
	}

	return nil
}

func (p *Pipeline) engineConfig(acc *accountentity.Account) engine.Config {
	return engine.Config{
		CaptureEmail: acc.Automation.CaptureEmail,
		CapturePhone: acc.Automation.CapturePhone,
		MaxReprompts: acc.Automation.MaxReprompts,
		Greeting:     p.texts.Greeting,
		EmailPrompt:  p.texts.EmailPrompt,
		EmailRetry:   p.texts.EmailRetry,
		PhonePrompt:  p.texts.PhonePrompt,
		PhoneRetry:   p.texts.PhoneRetry,
		AIIntro:      p.texts.AIIntro,
		OptOutReply:  p.texts.OptOutReply,
	}
}

func eventText(ev autoentity.InboundEvent) string {
	if ev.Kind == autoentity.KindPostback && ev.Text == "" {
		return ev.Postback
	}
	return ev.Text
}
