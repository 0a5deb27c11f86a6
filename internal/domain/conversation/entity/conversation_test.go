package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from State
		to   State
		want bool
	}{
		{StateGreeting, StateCollectingEmail, true},
		{StateGreeting, StateAIChat, true},
		{StateGreeting, StateCollectingPhone, true},
		{StateCollectingEmail, StateCollectingPhone, true},
		{StateCollectingEmail, StateAIChat, true},
		{StateCollectingEmail, StateGreeting, false},
		{StateCollectingPhone, StateAIChat, true},
		{StateCollectingPhone, StateCollectingEmail, false},
		{StateAIChat, StateCompleted, true},
		{StateAIChat, StateGreeting, false},
		// Abort path: completed is reachable from anywhere
		{StateGreeting, StateCompleted, true},
		{StateCollectingEmail, StateCompleted, true},
		{StateCollectingPhone, StateCompleted, true},
		// Terminal: no way out
		{StateCompleted, StateAIChat, false},
		{StateCompleted, StateGreeting, false},
		// Staying put is always allowed
		{StateCollectingEmail, StateCollectingEmail, true},
		{StateCompleted, StateCompleted, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range []State{StateGreeting, StateCollectingEmail, StateCollectingPhone, StateAIChat, StateCompleted} {
		assert.True(t, s.Valid())
	}
	assert.False(t, State("paused").Valid())
}

func TestValidateMessageText(t *testing.T) {
	assert.NoError(t, ValidateMessageText("hi"))
	assert.ErrorIs(t, ValidateMessageText(""), ErrEmptyMessage)

	long := make([]byte, MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateMessageText(string(long)), ErrMessageTooLong)
}
