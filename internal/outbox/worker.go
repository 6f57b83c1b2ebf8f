package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/logger"
)

const (
	maxBackoff        = time.Hour
	defaultJobTimeout = time.Minute
)

// Handler performs the side effect of a job. A nil error completes the job.
type Handler func(ctx context.Context, job Job) error

// Worker polls the store and runs due jobs with exponential backoff between attempts.
type Worker struct {
	store       *Store
	handlers    map[Kind]Handler
	interval    time.Duration
	maxAttempts int
	baseBackoff time.Duration
	batchSize   int
	timeouts    map[Kind]time.Duration
}

type WorkerOption func(*Worker)

// WithJobTimeout bounds one attempt of a job kind. An attempt that runs past
// it counts as failed and is rescheduled.
func WithJobTimeout(kind Kind, d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeouts[kind] = d
		}
	}
}

func NewWorker(store *Store, cfg config.OutboxConfig, handlers map[Kind]Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:       store,
		handlers:    handlers,
		interval:    cfg.PollInterval,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		batchSize:   cfg.BatchSize,
		timeouts:    make(map[Kind]time.Duration),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.interval <= 0 {
		w.interval = 30 * time.Second
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = 5
	}
	if w.baseBackoff <= 0 {
		w.baseBackoff = time.Minute
	}
	if w.batchSize <= 0 {
		w.batchSize = 20
	}
	return w
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	logger.L.Info("outbox worker started", "interval", w.interval, "max_attempts", w.maxAttempts)
	for {
		if _, err := w.RunOnce(ctx); err != nil {
			logger.L.Error("outbox poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.L.Info("outbox worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce processes the currently due jobs and returns how many it attempted.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	jobs, err := w.store.Due(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		w.process(ctx, job)
	}
	return len(jobs), nil
}

func (w *Worker) process(ctx context.Context, job Job) {
	log := logger.L.With("job_id", job.ID, "kind", job.Kind, "conversation_id", job.ConversationID)

	h, ok := w.handlers[job.Kind]
	if !ok {
		log.Error("no handler for outbox job")
		if err := w.store.Abandon(ctx, job.ID, job.Attempts, "no handler for kind"); err != nil {
			log.Error("abandon failed", "error", err)
		}
		return
	}

	err := w.safeCall(ctx, h, job)
	if err == nil {
		log.Info("outbox job completed", "attempts", job.Attempts+1)
		if err := w.store.Complete(ctx, job.ID); err != nil {
			log.Error("complete failed", "error", err)
		}
		return
	}

	attempts := job.Attempts + 1
	if attempts >= w.maxAttempts {
		log.Error("outbox job abandoned", "attempts", attempts, "error", err)
		if aerr := w.store.Abandon(ctx, job.ID, attempts, err.Error()); aerr != nil {
			log.Error("abandon failed", "error", aerr)
		}
		return
	}
	next := w.store.now().Add(Backoff(w.baseBackoff, attempts))
	log.Warn("outbox job failed; rescheduled", "attempts", attempts, "next_attempt_at", next, "error", err)
	if rerr := w.store.Reschedule(ctx, job.ID, attempts, next, err.Error()); rerr != nil {
		log.Error("reschedule failed", "error", rerr)
	}
}

// safeCall runs h under the kind's timeout. Expiry fails the attempt even if
// h ignores its context, and a panic in h becomes an error.
func (w *Worker) safeCall(ctx context.Context, h Handler, job Job) error {
	timeout, ok := w.timeouts[job.Kind]
	if !ok {
		timeout = defaultJobTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("handler panic: %v", r)
			}
		}()
		done <- h(ctx, job)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%s job timed out after %s: %w", job.Kind, timeout, ctx.Err())
	}
}

// Backoff is base doubled for every attempt after the first, capped at one hour.
func Backoff(base time.Duration, attempts int) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
