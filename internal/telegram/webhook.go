package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/logger"
)

const (
	msgTranscribing  = "🎙️ Transcribiendo tu audio..."
	msgVoiceFailed   = "Lo siento, no pude procesar tu mensaje. Por favor, intenta de nuevo."
	secretHeader     = "X-Telegram-Bot-Api-Secret-Token"
	maxUpdateBytes   = 1 << 20
	voiceStepTimeout = 60 * time.Second
)

var errNoTranscriber = errors.New("telegram: voice received but no transcriber configured")

// Update is the subset of a Bot API update the bot reacts to.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
	Voice     *Voice `json:"voice"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type Voice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
}

// Bot is the part of Client the webhook needs.
type Bot interface {
	SendText(ctx context.Context, chatID, text string, format delivery.Format) error
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Dispatcher runs tasks one at a time per key.
type Dispatcher interface {
	Dispatch(key string, task func(ctx context.Context)) error
}

// TurnHandler processes one inbound user turn to completion.
type TurnHandler interface {
	HandleTurn(ctx context.Context, conversationID, text string)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Webhook acknowledges every update immediately and queues the work on the
// dispatcher keyed by chat id, so turns of one chat run in arrival order.
type Webhook struct {
	bot         Bot
	dispatcher  Dispatcher
	turns       TurnHandler
	transcriber Transcriber
	secret      string
}

// NewWebhook creates the update handler. transcriber may be nil, in which case
// voice notes get a failure reply.
func NewWebhook(bot Bot, dispatcher Dispatcher, turns TurnHandler, transcriber Transcriber, secret string) *Webhook {
	return &Webhook{bot: bot, dispatcher: dispatcher, turns: turns, transcriber: transcriber, secret: secret}
}

func (h *Webhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.secret != "" && r.Header.Get(secretHeader) != h.secret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var u Update
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUpdateBytes)).Decode(&u); err != nil {
		logger.L.Warn("invalid telegram update", "error", err)
		http.Error(w, "invalid update", http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	h.route(u)
}

func (h *Webhook) route(u Update) {
	m := u.Message
	if m == nil || strings.HasPrefix(m.Text, "/") {
		return
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	var err error
	switch {
	case m.Voice != nil:
		voice := *m.Voice
		logger.L.Info("voice message received", "conversation_id", chatID, "duration", voice.Duration)
		err = h.dispatcher.Dispatch(chatID, func(ctx context.Context) {
			h.handleVoice(ctx, chatID, voice)
		})
	case strings.TrimSpace(m.Text) != "":
		text := m.Text
		logger.L.Info("text message received", "conversation_id", chatID, "update_id", u.UpdateID)
		err = h.dispatcher.Dispatch(chatID, func(ctx context.Context) {
			h.turns.HandleTurn(ctx, chatID, text)
		})
	default:
		return
	}
	if err != nil {
		logger.L.Error("update dropped", "conversation_id", chatID, "update_id", u.UpdateID, "error", err)
	}
}

func (h *Webhook) handleVoice(ctx context.Context, chatID string, v Voice) {
	text, err := h.transcribe(ctx, chatID, v)
	if err != nil {
		logger.L.Error("voice transcription failed", "conversation_id", chatID, "error", err)
		h.send(ctx, chatID, msgVoiceFailed, delivery.Plain)
		return
	}
	// Plain: legacy Markdown ignores escapes inside an italic entity, so a
	// transcript with "_" or "*" would be rejected.
	h.send(ctx, chatID, `Texto transcrito: "`+text+`"`, delivery.Plain)
	h.turns.HandleTurn(ctx, chatID, text)
}

func (h *Webhook) transcribe(ctx context.Context, chatID string, v Voice) (string, error) {
	if h.transcriber == nil {
		return "", errNoTranscriber
	}
	h.send(ctx, chatID, msgTranscribing, delivery.Plain)

	ctx, cancel := context.WithTimeout(ctx, voiceStepTimeout)
	defer cancel()
	audio, err := h.bot.Download(ctx, v.FileID)
	if err != nil {
		return "", err
	}
	defer audio.Close()
	return h.transcriber.Transcribe(ctx, audio, "voice.oga")
}

func (h *Webhook) send(ctx context.Context, chatID, text string, format delivery.Format) {
	if err := h.bot.SendText(ctx, chatID, text, format); err != nil {
		logger.L.Warn("send failed", "conversation_id", chatID, "error", err)
	}
}
