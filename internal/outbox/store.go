// Package outbox retries document and booking side effects that failed during
// a fulfillment run. Jobs live in SQLite so they survive restarts.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/quotebot/internal/logger"
	"github.com/comigor/quotebot/internal/pricing"
)

// Kind names the side effect a job retries.
type Kind string

const (
	KindDocument Kind = "document"
	KindBooking  Kind = "booking"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

var ErrJobNotFound = errors.New("outbox: job not found")

// Job is one pending side effect for a quote.
type Job struct {
	ID             string
	Kind           Kind
	ConversationID string
	Quote          pricing.Quote
	Status         Status
	Attempts       int
	NextAttemptAt  time.Time
	LastError      string
	CreatedAt      time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the outbox database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS outbox_jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		quote TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL,
		last_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS outbox_jobs_due ON outbox_jobs (status, next_attempt_at);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create outbox index: %w", err)
	}
	logger.L.Info("sqlite outbox DB initialized", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue stores a job that is due immediately and returns its id.
func (s *Store) Enqueue(ctx context.Context, kind Kind, conversationID string, q pricing.Quote) (string, error) {
	payload, err := json.Marshal(q)
	if err != nil {
		return "", fmt.Errorf("marshal quote: %w", err)
	}
	id := uuid.NewString()
	now := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx, `INSERT INTO outbox_jobs (id, kind, conversation_id, quote, status, attempts, next_attempt_at, created_at)
		VALUES (?,?,?,?,?,0,?,?);`, id, string(kind), conversationID, string(payload), string(StatusPending), now, now)
	if err != nil {
		return "", fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	return id, nil
}

const jobColumns = `id, kind, conversation_id, quote, status, attempts, next_attempt_at, last_error, created_at`

// Due returns up to limit pending jobs whose next attempt time has passed, oldest first.
func (s *Store) Due(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM outbox_jobs
		WHERE status = ? AND next_attempt_at <= ? ORDER BY next_attempt_at ASC, created_at ASC LIMIT ?;`,
		string(StatusPending), s.now().UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due jobs: %w", err)
	}
	defer rows.Close()

	var (
		out []Job
		bad []*quoteDecodeError
	)
	for rows.Next() {
		j, err := scanJob(rows)
		var derr *quoteDecodeError
		if errors.As(err, &derr) {
			bad = append(bad, derr)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	// A row that no longer decodes (e.g. written by an older build) would
	// otherwise fail every poll.
	for _, b := range bad {
		logger.L.Error("abandoning undecodable outbox job", "job_id", b.job.ID, "kind", b.job.Kind, "conversation_id", b.job.ConversationID, "error", b.err)
		if err := s.Abandon(ctx, b.job.ID, b.job.Attempts, b.Error()); err != nil {
			logger.L.Error("abandon failed", "job_id", b.job.ID, "error", err)
		}
	}
	return out, nil
}

// quoteDecodeError carries the columns that did decode so the job can still be abandoned.
type quoteDecodeError struct {
	job Job
	err error
}

func (e *quoteDecodeError) Error() string {
	return fmt.Sprintf("decode quote of job %s: %v", e.job.ID, e.err)
}

func (e *quoteDecodeError) Unwrap() error { return e.err }

// Get loads a single job.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM outbox_jobs WHERE id = ?;`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrJobNotFound
	}
	return j, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(r scanner) (Job, error) {
	var (
		j                 Job
		kind, status, raw string
		next, created     int64
	)
	if err := r.Scan(&j.ID, &kind, &j.ConversationID, &raw, &status, &j.Attempts, &next, &j.LastError, &created); err != nil {
		return Job{}, err
	}
	j.Kind = Kind(kind)
	j.Status = Status(status)
	j.NextAttemptAt = time.UnixMilli(next)
	j.CreatedAt = time.UnixMilli(created)
	if err := json.Unmarshal([]byte(raw), &j.Quote); err != nil {
		return Job{}, &quoteDecodeError{job: j, err: err}
	}
	return j, nil
}

// Complete marks a job done.
func (s *Store) Complete(ctx context.Context, id string) error {
	return s.update(ctx, `UPDATE outbox_jobs SET status = ?, last_error = '' WHERE id = ?;`, string(StatusDone), id)
}

// Reschedule records a failed attempt and the time of the next one.
func (s *Store) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	return s.update(ctx, `UPDATE outbox_jobs SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?;`,
		attempts, next.UnixMilli(), lastErr, id)
}

// Abandon marks a job failed for good.
func (s *Store) Abandon(ctx context.Context, id string, attempts int, lastErr string) error {
	return s.update(ctx, `UPDATE outbox_jobs SET status = ?, attempts = ?, last_error = ? WHERE id = ?;`,
		string(StatusFailed), attempts, lastErr, id)
}

func (s *Store) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update outbox job: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Count returns how many jobs are in status.
func (s *Store) Count(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox_jobs WHERE status = ?;`, string(status)).Scan(&n)
	return n, err
}
