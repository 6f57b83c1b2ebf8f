// Package delivery defines how replies reach the user.
package delivery

import (
	"context"
	"strings"

	"github.com/comigor/quotebot/internal/logger"
)

// Format selects how the channel renders a text message.
type Format string

const (
	Plain    Format = ""
	Markdown Format = "Markdown"
)

// Channel sends messages and files to a conversation. Each call may fail
// independently; callers log the failure and carry on.
type Channel interface {
	SendText(ctx context.Context, conversationID, text string, format Format) error
	SendFile(ctx context.Context, conversationID string, blob []byte, filename string) error
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// EscapeMarkdown protects user- or catalog-supplied text inside a Markdown message.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// LogChannel writes outgoing messages to the log. It stands in for a real
// channel when none is configured.
type LogChannel struct{}

func (LogChannel) SendText(_ context.Context, conversationID, text string, format Format) error {
	logger.L.Info("outgoing message", "conversation_id", conversationID, "format", string(format), "text", text)
	return nil
}

func (LogChannel) SendFile(_ context.Context, conversationID string, blob []byte, filename string) error {
	logger.L.Info("outgoing file", "conversation_id", conversationID, "filename", filename, "bytes", len(blob))
	return nil
}
