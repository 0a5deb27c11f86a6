// Package engine contains the conversation state transition function.
// Transition is pure: identical (state, collected data, event) inputs
// always yield identical decisions, which keeps retries after partial
// failures safe.
package engine

import (
	"regexp"
	"strings"

	autoentity "github.com/vadim/igflow/internal/domain/automation/entity"
	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// Config carries the per-account automation settings and reply texts
type Config struct {
	CaptureEmail bool
	CapturePhone bool
	MaxReprompts int

	Greeting    string
	EmailPrompt string
	EmailRetry  string
	PhonePrompt string
	PhoneRetry  string
	AIIntro     string
	OptOutReply string
}

// TransitionInput is the full input of one transition
type TransitionInput struct {
	State     entity.State
	Collected entity.CollectedData
	Reprompts int
	Config    Config
	Event     autoentity.InboundEvent
}

// Decision is the outcome of one transition
type Decision struct {
	NextState entity.State
	Collected entity.CollectedData
	Reprompts int
	Actions   []autoentity.Action
}

var (
	// RFC-5322-lite: enough to pull a plausible address out of free text
	emailRe = regexp.MustCompile(`[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)+`)

	// 7-15 digits, optional leading +, common separators tolerated
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9 ().\-]{5,18}[0-9]`)

	nonDigitRe = regexp.MustCompile(`[^0-9]`)
)

// ExtractEmail returns the first email address found in text
func ExtractEmail(text string) (string, bool) {
	m := emailRe.FindString(text)
	return m, m != ""
}

// ExtractPhone returns the first phone number found in text, normalized
// to digits with an optional leading +
func ExtractPhone(text string) (string, bool) {
	m := phoneRe.FindString(text)
	if m == "" {
		return "", false
	}
	digits := nonDigitRe.ReplaceAllString(m, "")
	if len(digits) < 7 || len(digits) > 15 {
		return "", false
	}
	if strings.HasPrefix(strings.TrimSpace(m), "+") {
		return "+" + digits, true
	}
	return digits, true
}

var optOutKeywords = []string{"stop", "unsubscribe", "cancel", "opt out"}

// isOptOut reports whether the event asks the automation to stop
func isOptOut(ev autoentity.InboundEvent) bool {
	if ev.Postback == "opt_out" {
		return true
	}
	text := strings.ToLower(strings.TrimSpace(ev.Text))
	for _, kw := range optOutKeywords {
		if text == kw {
			return true
		}
	}
	return false
}

// Transition advances the automation flow for one inbound event.
//
// Ambiguity is resolved in favor of data capture: a message that carries
// both a valid email and an opt-out keyword still captures the email,
// since losing a lead is worse than one extra turn.
func Transition(in TransitionInput) Decision {
	d := Decision{
		NextState: in.State,
		Collected: in.Collected,
		Reprompts: in.Reprompts,
	}

	switch in.State {
	case entity.StateCompleted:
		// Terminal: absorb silently so automations cannot re-trigger
		// after a human takeover. History append happens upstream.
		return d

	case entity.StateGreeting:
		if isOptOut(in.Event) {
			d.NextState = entity.StateCompleted
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.OptOutReply))
			return d
		}
		d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.Greeting))
		if in.Config.CaptureEmail {
			d.NextState = entity.StateCollectingEmail
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.EmailPrompt))
		} else if in.Config.CapturePhone {
			d.NextState = entity.StateCollectingPhone
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.PhonePrompt))
		} else {
			d.NextState = entity.StateAIChat
			d.Actions = append(d.Actions, autoentity.CallAI())
		}
		return d

	case entity.StateCollectingEmail:
		if email, ok := ExtractEmail(in.Event.Text); ok {
			// First valid value wins; the write-once rule is enforced
			// here because collected fields never re-enter capture.
			d.Collected.Email = email
			d.Reprompts = 0
			d.Actions = append(d.Actions, autoentity.PersistLead(autoentity.LeadEmail, email))
			d.advanceAfterEmail(in.Config)
			return d
		}
		if isOptOut(in.Event) {
			d.NextState = entity.StateCompleted
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.OptOutReply))
			return d
		}
		if d.Reprompts+1 > in.Config.MaxReprompts {
			// Give up on this field rather than stall the user forever
			d.Reprompts = 0
			d.advanceAfterEmail(in.Config)
			return d
		}
		d.Reprompts++
		d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.EmailRetry))
		return d

	case entity.StateCollectingPhone:
		if phone, ok := ExtractPhone(in.Event.Text); ok {
			d.Collected.Phone = phone
			d.Reprompts = 0
			d.Actions = append(d.Actions, autoentity.PersistLead(autoentity.LeadPhone, phone))
			d.enterAIChat(in.Config)
			return d
		}
		if isOptOut(in.Event) {
			d.NextState = entity.StateCompleted
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.OptOutReply))
			return d
		}
		if d.Reprompts+1 > in.Config.MaxReprompts {
			d.Reprompts = 0
			d.enterAIChat(in.Config)
			return d
		}
		d.Reprompts++
		d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.PhoneRetry))
		return d

	case entity.StateAIChat:
		if isOptOut(in.Event) {
			d.NextState = entity.StateCompleted
			d.Actions = append(d.Actions, autoentity.SendMessage(in.Config.OptOutReply))
			return d
		}
		d.Actions = append(d.Actions, autoentity.CallAI())
		return d
	}

	// Unknown state: treat as terminal rather than guess
	d.NextState = entity.StateCompleted
	return d
}

func (d *Decision) advanceAfterEmail(cfg Config) {
	if cfg.CapturePhone {
		d.NextState = entity.StateCollectingPhone
		d.Actions = append(d.Actions, autoentity.SendMessage(cfg.PhonePrompt))
		return
	}
	d.enterAIChat(cfg)
}

func (d *Decision) enterAIChat(cfg Config) {
	d.NextState = entity.StateAIChat
	d.Actions = append(d.Actions, autoentity.SendMessage(cfg.AIIntro))
}

// ResolveAIReply decides the state after an AI responder turn. The state
// stays ai_chat unless the responder signaled handoff, which completes
// the conversation.
func ResolveAIReply(state entity.State, handoff bool) entity.State {
	if state == entity.StateAIChat && handoff {
		return entity.StateCompleted
	}
	return state
}
