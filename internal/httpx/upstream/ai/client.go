// Package ai wraps the Anthropic Messages API as the automation's AI
// responder.
package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/vadim/igflow/internal/domain/conversation/entity"
)

// handoffMarker is the directive the system prompt asks the model to
// append when the conversation is resolved. It is stripped from the
// reply before delivery.
const handoffMarker = "[[handoff]]"

// Reply is one AI responder turn
type Reply struct {
	Text    string
	Handoff bool
}

// Client calls the Anthropic Messages API
type Client struct {
	client       anthropic.Client
	model        anthropic.Model
	maxTokens    int64
	timeout      time.Duration
	systemPrompt string
}

// Config holds AI client settings
type Config struct {
	APIKey       string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	SystemPrompt string
}

// New creates a new AI responder client
func New(cfg Config) *Client {
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		client:       anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:        anthropic.Model(cfg.Model),
		maxTokens:    maxTokens,
		timeout:      timeout,
		systemPrompt: cfg.SystemPrompt,
	}
}

// Respond generates a reply for the conversation history. The history
// must end with a user turn. Consecutive same-role turns are merged to
// satisfy the API's alternation requirement.
func (c *Client) Respond(ctx context.Context, history []entity.Message) (*Reply, error) {
	msgs, err := toAPIMessages(history)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: c.systemPrompt},
		},
		Messages: msgs,
	})
	if err != nil {
		return nil, fmt.Errorf("calling AI responder: %w", err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return nil, fmt.Errorf("AI responder returned empty response")
	}

	var sb strings.Builder
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	handoff := false
	if idx := strings.LastIndex(text, handoffMarker); idx >= 0 {
		handoff = true
		text = strings.TrimSpace(strings.ReplaceAll(text, handoffMarker, ""))
	}
	if text == "" {
		return nil, fmt.Errorf("AI responder returned empty reply")
	}

	return &Reply{Text: text, Handoff: handoff}, nil
}

// toAPIMessages converts stored history into alternating API turns
func toAPIMessages(history []entity.Message) ([]anthropic.MessageParam, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("conversation history is empty")
	}

	var msgs []anthropic.MessageParam
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		block := anthropic.NewTextBlock(m.Content)
		if len(msgs) > 0 && sameRole(msgs[len(msgs)-1].Role, m.Role) {
			last := &msgs[len(msgs)-1]
			last.Content = append(last.Content, block)
			continue
		}
		switch m.Role {
		case entity.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(block))
		case entity.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		}
	}

	// The API requires the first turn to be a user turn
	for len(msgs) > 0 && msgs[0].Role != anthropic.MessageParamRoleUser {
		msgs = msgs[1:]
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("no user turns in history")
	}
	return msgs, nil
}

func sameRole(apiRole anthropic.MessageParamRole, role entity.Role) bool {
	switch role {
	case entity.RoleUser:
		return apiRole == anthropic.MessageParamRoleUser
	case entity.RoleAssistant:
		return apiRole == anthropic.MessageParamRoleAssistant
	}
	return false
}
