// Package intent turns a conversation into a validated Analysis by asking an
// external reasoning service and refusing to trust anything it cannot verify.
package intent

import (
	"context"
	"errors"
	"time"

	"github.com/comigor/quotebot/internal/catalog"
	"github.com/comigor/quotebot/internal/history"
	"github.com/comigor/quotebot/internal/logger"
)

// ApologyReply is sent whenever classification cannot be trusted.
const ApologyReply = "Lo siento, estoy teniendo problemas para procesar tu solicitud en este momento. Por favor, intenta de nuevo más tarde."

const defaultPersona = "Maquinaria Pro"

// Reasoner completes a conversation under a system policy and returns raw text.
type Reasoner interface {
	Complete(ctx context.Context, policy string, turns []history.Turn) (string, error)
}

// Classifier produces an Analysis and the reply for each turn.
type Classifier struct {
	reasoner Reasoner
	persona  string
	now      func() time.Time
}

type Option func(*Classifier)

// WithPersona sets the assistant name used in the policy.
func WithPersona(name string) Option {
	return func(c *Classifier) {
		if name != "" {
			c.persona = name
		}
	}
}

// WithClock overrides the date used to resolve relative durations.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

func NewClassifier(r Reasoner, opts ...Option) *Classifier {
	c := &Classifier{reasoner: r, persona: defaultPersona, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Degraded is the safe result used when a response cannot be trusted.
func Degraded() (Analysis, string) {
	return Analysis{Action: ActionError}, ApologyReply
}

// Classify never fails: any service, parse or validation problem is logged and
// turned into the Degraded result.
func (c *Classifier) Classify(ctx context.Context, turns []history.Turn, entries []catalog.Entry) (Analysis, string) {
	policy, err := RenderPolicy(c.persona, entries, c.now())
	if err != nil {
		logger.L.Error("policy render failed", "error", err)
		return Degraded()
	}

	raw, err := c.reasoner.Complete(ctx, policy, turns)
	if err != nil {
		logger.L.Warn("reasoning service failed", "error", &ClassificationParseError{Stage: StageService, Err: err})
		return Degraded()
	}

	a, reply, err := Decode(raw)
	if err != nil {
		var perr *ClassificationParseError
		if errors.As(err, &perr) {
			logger.L.Warn("untrusted classification", "stage", perr.Stage, "error", perr.Err, "raw", raw)
		}
		return Degraded()
	}
	if a.Action == ActionError && reply == "" {
		reply = ApologyReply
	}
	logger.L.Debug("turn classified", "action", a.Action, "machine", a.MachineName, "duration", a.DurationText)
	return a, reply
}
