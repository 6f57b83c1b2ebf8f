package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/quotebot/internal/config"
)

// Transcriber turns a voice note into text.
type Transcriber struct {
	client AudioClient
	model  string
}

func NewTranscriber(client AudioClient, cfg config.LLMConfig) *Transcriber {
	model := cfg.TranscriptionModel
	if model == "" {
		model = openai.Whisper1
	}
	return &Transcriber{client: client, model: model}
}

// Transcribe sends audio (named filename, e.g. "voice.oga") to the speech-to-text endpoint.
func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   audio,
		Language: "es",
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
