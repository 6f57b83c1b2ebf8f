package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/history"
	"github.com/comigor/quotebot/internal/logger"
)

// ErrEmptyResponse is returned when the service answers without any choice.
var ErrEmptyResponse = errors.New("llm: empty response")

// Reasoner sends a system policy plus the conversation to a chat model and
// returns the raw text it produced. It does not interpret the text.
type Reasoner struct {
	client      Client
	model       string
	temperature float32
	jsonMode    bool
}

func NewReasoner(client Client, cfg config.LLMConfig) *Reasoner {
	return &Reasoner{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		jsonMode:    cfg.JSONMode,
	}
}

// Complete runs one chat completion over policy and turns.
func (r *Reasoner) Complete(ctx context.Context, policy string, turns []history.Turn) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: policy})
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == history.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	req := openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    messages,
		Temperature: r.temperature,
	}
	if r.jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := r.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	logger.L.Debug("LLM response received", "model", r.model, "finish_reason", resp.Choices[0].FinishReason, "usage", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}
