// Package pipeline drives the replies and side effects that follow one
// classified turn. Every step contains its own failures: a failed step is
// reported to the user and the run moves on.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/comigor/quotebot/internal/calendar"
	"github.com/comigor/quotebot/internal/catalog"
	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/delivery"
	"github.com/comigor/quotebot/internal/document"
	"github.com/comigor/quotebot/internal/intent"
	"github.com/comigor/quotebot/internal/logger"
	"github.com/comigor/quotebot/internal/outbox"
	"github.com/comigor/quotebot/internal/pricing"
)

// State is a pipeline state. Each state names the work already done.
type State string

const (
	StateStarted           State = "STARTED"
	StateReplied           State = "REPLIED"
	StateMachineResolved   State = "MACHINE_RESOLVED"
	StatePriced            State = "PRICED"
	StateQuoteSent         State = "QUOTE_SENT"
	StateDocumentAttempted State = "DOCUMENT_ATTEMPTED"
	StateBookingAttempted  State = "BOOKING_ATTEMPTED"
	StateDone              State = "DONE"
)

type Trigger string

const (
	TriggerReplied           Trigger = "Replied"
	TriggerResolved          Trigger = "Resolved"
	TriggerPriced            Trigger = "Priced"
	TriggerQuoteSent         Trigger = "QuoteSent"
	TriggerDocumentAttempted Trigger = "DocumentAttempted"
	TriggerBookingAttempted  Trigger = "BookingAttempted"
	TriggerComplete          Trigger = "Complete" // quote flow finished
	TriggerFinish            Trigger = "Finish"   // non-quote action
	TriggerAbort             Trigger = "Abort"    // lookup miss or unpriceable machine
)

const enqueueTimeout = 5 * time.Second

// Outbox accepts side effects to retry later.
type Outbox interface {
	Enqueue(ctx context.Context, kind outbox.Kind, conversationID string, q pricing.Quote) (string, error)
}

// Result describes what a run did.
type Result struct {
	States       []State
	Quote        *pricing.Quote
	LookupMiss   bool
	DocumentSent bool
	Booked       bool
	FailedSends  []string
}

// Final is the last state reached.
func (r Result) Final() State {
	if len(r.States) == 0 {
		return ""
	}
	return r.States[len(r.States)-1]
}

type Pipeline struct {
	catalog   catalog.Gateway
	channel   delivery.Channel
	documents document.Generator
	reminders calendar.Reminder
	outbox    Outbox
	timeouts  config.PipelineConfig
	filename  string
	now       func() time.Time
}

type Option func(*Pipeline)

// WithOutbox queues failed document and booking steps for retry.
func WithOutbox(o Outbox) Option {
	return func(p *Pipeline) { p.outbox = o }
}

// WithTimeouts bounds each collaborator call. Zero values mean no timeout.
func WithTimeouts(t config.PipelineConfig) Option {
	return func(p *Pipeline) { p.timeouts = t }
}

func WithDocumentName(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.filename = name
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(cat catalog.Gateway, ch delivery.Channel, docs document.Generator, reminders calendar.Reminder, opts ...Option) *Pipeline {
	p := &Pipeline{
		catalog:   cat,
		channel:   ch,
		documents: docs,
		reminders: reminders,
		filename:  "Cotizacion.pdf",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries the data of one pipeline execution.
type run struct {
	conversationID string
	analysis       intent.Analysis
	reply          string
	machine        catalog.Entry
	quote          pricing.Quote
	result         Result
	log            *slog.Logger
}

type step func(ctx context.Context, r *run) Trigger

// Run executes the pipeline for one classified turn until DONE. It never
// returns an error; failures are reported to the user and recorded in Result.
func (p *Pipeline) Run(ctx context.Context, conversationID string, analysis intent.Analysis, reply string) Result {
	r := &run{
		conversationID: conversationID,
		analysis:       analysis,
		reply:          reply,
		result:         Result{States: []State{StateStarted}},
		log:            logger.ForConversation(conversationID),
	}

	steps := map[State]step{
		StateStarted:           p.sendReply,
		StateReplied:           p.resolveMachine,
		StateMachineResolved:   p.priceQuote,
		StatePriced:            p.sendQuote,
		StateQuoteSent:         p.attemptDocument,
		StateDocumentAttempted: p.attemptBooking,
		StateBookingAttempted:  func(context.Context, *run) Trigger { return TriggerComplete },
	}

	fsm := p.machine(r)
	for {
		state := fsm.MustState().(State)
		if state == StateDone {
			break
		}
		next, ok := steps[state]
		if !ok {
			r.log.Error("pipeline has no step for state", "state", state)
			break
		}
		if err := fsm.FireCtx(ctx, next(ctx, r)); err != nil {
			r.log.Error("pipeline transition rejected", "state", state, "error", err)
			break
		}
	}
	return r.result
}

func (p *Pipeline) machine(r *run) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateStarted)

	fsm.Configure(StateStarted).
		Permit(TriggerReplied, StateReplied)

	fsm.Configure(StateReplied).
		Permit(TriggerResolved, StateMachineResolved).
		Permit(TriggerFinish, StateDone).
		Permit(TriggerAbort, StateDone)

	fsm.Configure(StateMachineResolved).
		Permit(TriggerPriced, StatePriced).
		Permit(TriggerAbort, StateDone)

	fsm.Configure(StatePriced).
		Permit(TriggerQuoteSent, StateQuoteSent)

	fsm.Configure(StateQuoteSent).
		Permit(TriggerDocumentAttempted, StateDocumentAttempted)

	fsm.Configure(StateDocumentAttempted).
		Permit(TriggerBookingAttempted, StateBookingAttempted)

	fsm.Configure(StateBookingAttempted).
		Permit(TriggerComplete, StateDone)

	fsm.Configure(StateDone).
		OnEntryFrom(TriggerComplete, func(ctx context.Context, _ ...any) error {
			p.send(ctx, r, summary(r.result.DocumentSent, r.result.Booked), delivery.Plain, "summary")
			return nil
		})

	fsm.OnTransitioned(func(_ context.Context, t stateless.Transition) {
		r.result.States = append(r.result.States, t.Destination.(State))
		r.log.Debug("pipeline transition", "trigger", t.Trigger, "from", t.Source, "to", t.Destination)
	})
	return fsm
}

func (p *Pipeline) sendReply(ctx context.Context, r *run) Trigger {
	p.send(ctx, r, r.reply, delivery.Plain, "reply")
	return TriggerReplied
}

func (p *Pipeline) resolveMachine(ctx context.Context, r *run) Trigger {
	if r.analysis.Action != intent.ActionQuote {
		return TriggerFinish
	}

	var entry catalog.Entry
	err := p.contain(ctx, p.timeouts.CatalogTimeout, func(ctx context.Context) error {
		var err error
		entry, err = p.catalog.FindByName(ctx, r.analysis.MachineName)
		return err
	})
	if err != nil {
		r.result.LookupMiss = true
		if errors.Is(err, catalog.ErrNotFound) {
			r.log.Warn("classified machine is not in the catalog", "machine", r.analysis.MachineName)
		} else {
			r.log.Error("catalog lookup failed", "machine", r.analysis.MachineName, "error", err)
		}
		p.send(ctx, r, MsgLookupMiss, delivery.Plain, "lookup_miss")
		return TriggerAbort
	}
	r.machine = entry
	return TriggerResolved
}

func (p *Pipeline) priceQuote(ctx context.Context, r *run) Trigger {
	q, err := pricing.NewQuote(r.machine, r.analysis.DurationText, r.analysis.RentalStart, r.analysis.RentalEnd, p.now())
	if err != nil {
		r.log.Error("pricing failed", "machine", r.machine.ModelName, "error", err)
		p.send(ctx, r, MsgPricingFailed, delivery.Plain, "pricing_failed")
		return TriggerAbort
	}
	r.quote = q
	r.result.Quote = &q
	r.log.Info("quote priced", "quote", q.Number, "machine", q.Machine.ModelName, "total", q.Total.StringFixed(2))
	return TriggerPriced
}

func (p *Pipeline) sendQuote(ctx context.Context, r *run) Trigger {
	p.send(ctx, r, FormatBreakdown(r.quote), delivery.Markdown, "quote")
	return TriggerQuoteSent
}

func (p *Pipeline) attemptDocument(ctx context.Context, r *run) Trigger {
	p.send(ctx, r, MsgDocumentProgress, delivery.Plain, "document_progress")

	var blob []byte
	err := p.contain(ctx, p.timeouts.DocumentTimeout, func(ctx context.Context) error {
		var err error
		blob, err = p.documents.Render(ctx, r.quote)
		return err
	})
	if err == nil {
		err = p.contain(ctx, p.timeouts.SendTimeout, func(ctx context.Context) error {
			return p.channel.SendFile(ctx, r.conversationID, blob, p.filename)
		})
	}
	if err != nil {
		r.log.Error("document step failed", "quote", r.quote.Number, "error", err)
		p.send(ctx, r, MsgDocumentFailed, delivery.Plain, "document_failed")
		p.enqueue(ctx, r, outbox.KindDocument)
	} else {
		r.result.DocumentSent = true
	}
	return TriggerDocumentAttempted
}

func (p *Pipeline) attemptBooking(ctx context.Context, r *run) Trigger {
	p.send(ctx, r, MsgBookingProgress, delivery.Plain, "booking_progress")

	var booked bool
	err := p.contain(ctx, p.timeouts.BookingTimeout, func(ctx context.Context) error {
		var err error
		booked, err = p.reminders.CreateReminder(ctx, r.quote, r.conversationID, r.analysis.RentalStart, r.analysis.RentalEnd)
		return err
	})
	switch {
	case err != nil:
		r.log.Error("booking step failed", "quote", r.quote.Number, "error", err)
	case !booked:
		r.log.Warn("booking declined by calendar", "quote", r.quote.Number)
	}
	if err != nil || !booked {
		p.send(ctx, r, MsgBookingFailed, delivery.Plain, "booking_failed")
		p.enqueue(ctx, r, outbox.KindBooking)
	} else {
		r.result.Booked = true
	}
	return TriggerBookingAttempted
}

// send delivers a text; a failure is logged and recorded but never stops the run.
func (p *Pipeline) send(ctx context.Context, r *run, text string, format delivery.Format, label string) {
	err := p.contain(ctx, p.timeouts.SendTimeout, func(ctx context.Context) error {
		return p.channel.SendText(ctx, r.conversationID, text, format)
	})
	if err != nil {
		r.result.FailedSends = append(r.result.FailedSends, label)
		r.log.Warn("send failed", "message", label, "error", err)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, r *run, kind outbox.Kind) {
	if p.outbox == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	id, err := p.outbox.Enqueue(ctx, kind, r.conversationID, r.quote)
	if err != nil {
		r.log.Error("outbox enqueue failed", "kind", kind, "error", err)
		return
	}
	r.log.Info("side effect queued for retry", "kind", kind, "job_id", id)
}

// contain runs fn under an optional timeout. An expired timeout fails the step
// even if fn ignores its context, and a panic in fn becomes an error.
func (p *Pipeline) contain(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return recovered(ctx, fn)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- recovered(ctx, fn) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("step timed out after %s: %w", timeout, ctx.Err())
	}
}

func recovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn(ctx)
}
