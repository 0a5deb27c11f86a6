package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	autoentity "github.com/vadim/igflow/internal/domain/automation/entity"
	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

func testConfig() Config {
	return Config{
		CaptureEmail: true,
		CapturePhone: true,
		MaxReprompts: 3,
		Greeting:     "hi there",
		EmailPrompt:  "what's your email?",
		EmailRetry:   "try that email again",
		PhonePrompt:  "what's your phone?",
		PhoneRetry:   "try that phone again",
		AIIntro:      "all set",
		OptOutReply:  "bye",
	}
}

func dmEvent(text string) autoentity.InboundEvent {
	return autoentity.InboundEvent{
		ProviderEventID: "mid.1",
		AccountID:       "acc-1",
		ExternalUserID:  "user-1",
		Kind:            autoentity.KindDM,
		Text:            text,
	}
}

func actionTypes(actions []autoentity.Action) []autoentity.ActionType {
	types := make([]autoentity.ActionType, 0, len(actions))
	for _, a := range actions {
		types = append(types, a.Type)
	}
	return types
}

func TestGreetingAdvancesToEmailCapture(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateGreeting,
		Config: testConfig(),
		Event:  dmEvent("hello!"),
	})

	assert.Equal(t, entity.StateCollectingEmail, d.NextState)
	require.Len(t, d.Actions, 2)
	assert.Equal(t, "hi there", d.Actions[0].Text)
	assert.Equal(t, "what's your email?", d.Actions[1].Text)
}

func TestGreetingSkipsToAIChatWhenCaptureDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureEmail = false
	cfg.CapturePhone = false

	d := Transition(TransitionInput{
		State:  entity.StateGreeting,
		Config: cfg,
		Event:  dmEvent("hello!"),
	})

	assert.Equal(t, entity.StateAIChat, d.NextState)
	assert.Equal(t,
		[]autoentity.ActionType{autoentity.ActionSendMessage, autoentity.ActionCallAI},
		actionTypes(d.Actions),
	)
}

func TestGreetingPhoneOnlyCapture(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureEmail = false

	d := Transition(TransitionInput{
		State:  entity.StateGreeting,
		Config: cfg,
		Event:  dmEvent("hello!"),
	})

	assert.Equal(t, entity.StateCollectingPhone, d.NextState)
}

func TestInvalidEmailRepromptsOnce(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateCollectingEmail,
		Config: testConfig(),
		Event:  dmEvent("not an email"),
	})

	assert.Equal(t, entity.StateCollectingEmail, d.NextState)
	assert.Empty(t, d.Collected.Email)
	assert.Equal(t, 1, d.Reprompts)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, autoentity.ActionSendMessage, d.Actions[0].Type)
	assert.Equal(t, "try that email again", d.Actions[0].Text)
}

func TestEmailExtractedFromFreeTextAdvancesToPhone(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateCollectingEmail,
		Config: testConfig(),
		Event:  dmEvent("reach me at a@b.com"),
	})

	assert.Equal(t, entity.StateCollectingPhone, d.NextState)
	assert.Equal(t, "a@b.com", d.Collected.Email)
	assert.Equal(t, 0, d.Reprompts)
	assert.Equal(t,
		[]autoentity.ActionType{autoentity.ActionPersistLead, autoentity.ActionSendMessage},
		actionTypes(d.Actions),
	)
	assert.Equal(t, autoentity.LeadEmail, d.Actions[0].Field)
	assert.Equal(t, "a@b.com", d.Actions[0].Value)
}

func TestEmailAdvancesToAIChatWhenPhoneDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.CapturePhone = false

	d := Transition(TransitionInput{
		State:  entity.StateCollectingEmail,
		Config: cfg,
		Event:  dmEvent("a@b.com"),
	})

	assert.Equal(t, entity.StateAIChat, d.NextState)
	assert.Equal(t, "a@b.com", d.Collected.Email)
}

func TestDataCaptureWinsOverOptOutKeyword(t *testing.T) {
	// A valid email and a completion keyword in the same message:
	// capture takes precedence, losing a lead is worse than one extra
	// turn.
	d := Transition(TransitionInput{
		State:  entity.StateCollectingEmail,
		Config: testConfig(),
		Event:  dmEvent("stop emailing me, use a@b.com"),
	})

	assert.Equal(t, entity.StateCollectingPhone, d.NextState)
	assert.Equal(t, "a@b.com", d.Collected.Email)
}

func TestEmailRepromptsExhaustedMovesForward(t *testing.T) {
	d := Transition(TransitionInput{
		State:     entity.StateCollectingEmail,
		Reprompts: 3,
		Config:    testConfig(),
		Event:     dmEvent("still not an email"),
	})

	assert.Equal(t, entity.StateCollectingPhone, d.NextState)
	assert.Empty(t, d.Collected.Email)
	assert.Equal(t, 0, d.Reprompts)
}

func TestPhoneCaptured(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"international", "call me on +44 20 7946 0958", "+442079460958"},
		{"dashed", "555-867-5309 works", "5558675309"},
		{"plain digits", "79161234567", "79161234567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Transition(TransitionInput{
				State:  entity.StateCollectingPhone,
				Config: testConfig(),
				Event:  dmEvent(tt.text),
			})

			assert.Equal(t, entity.StateAIChat, d.NextState)
			assert.Equal(t, tt.want, d.Collected.Phone)
		})
	}
}

func TestInvalidPhoneReprompts(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateCollectingPhone,
		Config: testConfig(),
		Event:  dmEvent("just DM me"),
	})

	assert.Equal(t, entity.StateCollectingPhone, d.NextState)
	assert.Equal(t, 1, d.Reprompts)
	require.Len(t, d.Actions, 1)
	assert.Equal(t, "try that phone again", d.Actions[0].Text)
}

func TestAIChatForwardsToResponder(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateAIChat,
		Config: testConfig(),
		Event:  dmEvent("what are your opening hours?"),
	})

	assert.Equal(t, entity.StateAIChat, d.NextState)
	assert.Equal(t, []autoentity.ActionType{autoentity.ActionCallAI}, actionTypes(d.Actions))
}

func TestOptOutAbortsFromAnyState(t *testing.T) {
	states := []entity.State{
		entity.StateGreeting,
		entity.StateCollectingEmail,
		entity.StateCollectingPhone,
		entity.StateAIChat,
	}

	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			d := Transition(TransitionInput{
				State:  state,
				Config: testConfig(),
				Event:  dmEvent("STOP"),
			})

			assert.Equal(t, entity.StateCompleted, d.NextState)
			require.Len(t, d.Actions, 1)
			assert.Equal(t, "bye", d.Actions[0].Text)
		})
	}
}

func TestOptOutPostback(t *testing.T) {
	ev := dmEvent("")
	ev.Kind = autoentity.KindPostback
	ev.Postback = "opt_out"

	d := Transition(TransitionInput{
		State:  entity.StateAIChat,
		Config: testConfig(),
		Event:  ev,
	})

	assert.Equal(t, entity.StateCompleted, d.NextState)
}

func TestCompletedAbsorbsSilently(t *testing.T) {
	d := Transition(TransitionInput{
		State:  entity.StateCompleted,
		Config: testConfig(),
		Event:  dmEvent("hello again"),
	})

	assert.Equal(t, entity.StateCompleted, d.NextState)
	assert.Empty(t, d.Actions)
}

func TestTransitionIsDeterministic(t *testing.T) {
	in := TransitionInput{
		State:     entity.StateCollectingEmail,
		Reprompts: 1,
		Config:    testConfig(),
		Event:     dmEvent("reach me at a@b.com"),
	}

	first := Transition(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Transition(in))
	}
}

func TestResolveAIReply(t *testing.T) {
	assert.Equal(t, entity.StateCompleted, ResolveAIReply(entity.StateAIChat, true))
	assert.Equal(t, entity.StateAIChat, ResolveAIReply(entity.StateAIChat, false))
	assert.Equal(t, entity.StateGreeting, ResolveAIReply(entity.StateGreeting, true))
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"a@b.com", "a@b.com", true},
		{"write to first.last+tag@sub.example.co.uk please", "first.last+tag@sub.example.co.uk", true},
		{"nothing here", "", false},
		{"broken@", "", false},
		{"@nope.com", "", false},
	}

	for _, tt := range tests {
		got, ok := ExtractEmail(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestExtractPhoneRejectsOutOfRangeDigits(t *testing.T) {
	_, ok := ExtractPhone("123456")
	assert.False(t, ok)
}
