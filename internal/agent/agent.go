// Package agent is the entry point for inbound turns. It threads a turn
// through the conversation store, the classifier and the fulfillment pipeline
// and guarantees the user gets at least one reply.
package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/comigor/quotebot/internal/catalog"
	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/history"
	"github.com/comigor/quotebot/internal/intent"
	"github.com/comigor/quotebot/internal/logger"
	"github.com/comigor/quotebot/internal/pipeline"
)

const (
	MsgCatalogUnavailable = "⚠️ Lo siento, no puedo acceder a nuestro catálogo en este momento."
	MsgUnexpectedError    = "⚠️ Ups, ocurrió un error inesperado al procesar tu solicitud. Nuestro equipo técnico ha sido notificado."

	fallbackSendTimeout = 10 * time.Second
)

var ErrMissingDependency = errors.New("agent: missing dependency")

// Classifier turns a history into an analysis and the reply to send.
type Classifier interface {
	Classify(ctx context.Context, turns []history.Turn, entries []catalog.Entry) (intent.Analysis, string)
}

// Runner executes the fulfillment pipeline for one classified turn.
type Runner interface {
	Run(ctx context.Context, conversationID string, analysis intent.Analysis, reply string) pipeline.Result
}

type Agent struct {
	history    history.Store
	catalog    catalog.Gateway
	classifier Classifier
	pipeline   Runner
	channel    delivery.Channel
	timeouts   config.PipelineConfig
	dispatcher *Dispatcher
}

type Option func(*Agent)

func WithTimeouts(t config.PipelineConfig) Option {
	return func(a *Agent) { a.timeouts = t }
}

// WithDispatcher shares a dispatcher with other producers, such as the
// webhook's voice handling, so every turn of a conversation goes through the
// same queue.
func WithDispatcher(d *Dispatcher) Option {
	return func(a *Agent) {
		if d != nil {
			a.dispatcher = d
		}
	}
}

func New(store history.Store, cat catalog.Gateway, classifier Classifier, runner Runner, ch delivery.Channel, opts ...Option) (*Agent, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: history store", ErrMissingDependency)
	case cat == nil:
		return nil, fmt.Errorf("%w: catalog", ErrMissingDependency)
	case classifier == nil:
		return nil, fmt.Errorf("%w: classifier", ErrMissingDependency)
	case runner == nil:
		return nil, fmt.Errorf("%w: pipeline", ErrMissingDependency)
	case ch == nil:
		return nil, fmt.Errorf("%w: delivery channel", ErrMissingDependency)
	}
	a := &Agent{
		history:    store,
		catalog:    cat,
		classifier: classifier,
		pipeline:   runner,
		channel:    ch,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.dispatcher == nil {
		a.dispatcher = NewDispatcher()
	}
	return a, nil
}

// Dispatcher returns the per-conversation queue used by Submit.
func (a *Agent) Dispatcher() *Dispatcher { return a.dispatcher }

// Submit queues a turn. Turns of one conversation run in submission order;
// different conversations run in parallel.
func (a *Agent) Submit(conversationID, text string) error {
	return a.dispatcher.Dispatch(conversationID, func(ctx context.Context) {
		a.HandleTurn(ctx, conversationID, text)
	})
}

// Shutdown stops accepting turns and waits for queued ones to finish.
func (a *Agent) Shutdown(ctx context.Context) error {
	return a.dispatcher.Shutdown(ctx)
}

// HandleTurn processes one turn to completion. It never panics and never
// returns an error: anything the lower layers did not contain is logged and
// answered with MsgUnexpectedError. Callers must not run two turns of the same
// conversation concurrently; Submit takes care of that.
func (a *Agent) HandleTurn(ctx context.Context, conversationID, text string) {
	log := logger.ForConversation(conversationID)
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("turn panicked", "text", text, "panic", rec, "stack", string(debug.Stack()))
			a.apologize(ctx, conversationID)
		}
	}()

	if err := a.handle(ctx, conversationID, text); err != nil {
		log.Error("turn failed", "text", text, "error", err)
		a.apologize(ctx, conversationID)
	}
}

func (a *Agent) handle(ctx context.Context, conversationID, text string) error {
	log := logger.ForConversation(conversationID)

	entries, err := a.listCatalog(ctx)
	if err != nil || len(entries) == 0 {
		log.Warn("catalog unavailable", "error", err, "entries", len(entries))
		if err := a.channel.SendText(ctx, conversationID, MsgCatalogUnavailable, delivery.Plain); err != nil {
			return fmt.Errorf("send catalog notice: %w", err)
		}
		return nil
	}

	if err := a.history.Append(ctx, conversationID, history.Turn{Role: history.RoleUser, Text: text}); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	turns, err := a.history.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	analysis, reply := a.classify(ctx, turns, entries)
	log.Info("turn classified", "action", analysis.Action, "machine", analysis.MachineName, "turns", len(turns))

	// A degraded classification is not part of the dialogue.
	if analysis.Action != intent.ActionError {
		if err := a.history.Append(ctx, conversationID, history.Turn{Role: history.RoleAssistant, Text: reply}); err != nil {
			return fmt.Errorf("append assistant turn: %w", err)
		}
	}

	res := a.pipeline.Run(ctx, conversationID, analysis, reply)
	log.Info("turn done",
		"states", res.States,
		"lookup_miss", res.LookupMiss,
		"document_sent", res.DocumentSent,
		"booked", res.Booked,
		"failed_sends", res.FailedSends,
	)
	return nil
}

func (a *Agent) listCatalog(ctx context.Context) ([]catalog.Entry, error) {
	if a.timeouts.CatalogTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeouts.CatalogTimeout)
		defer cancel()
	}
	return a.catalog.ListAll(ctx)
}

func (a *Agent) classify(ctx context.Context, turns []history.Turn, entries []catalog.Entry) (intent.Analysis, string) {
	if a.timeouts.ClassificationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeouts.ClassificationTimeout)
		defer cancel()
	}
	return a.classifier.Classify(ctx, turns, entries)
}

func (a *Agent) apologize(ctx context.Context, conversationID string) {
	timeout := a.timeouts.SendTimeout
	if timeout <= 0 {
		timeout = fallbackSendTimeout
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := a.channel.SendText(ctx, conversationID, MsgUnexpectedError, delivery.Plain); err != nil {
		logger.ForConversation(conversationID).Error("could not deliver error notice", "error", err)
	}
}
