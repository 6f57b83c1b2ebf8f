package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	"github.com/shopspring/decimal"

	"github.com/comigor/quotebot/internal/logger"
)

// SQLStore keeps the catalog in a SQLite database. Prices are stored as text
// so they round-trip without float drift.
type SQLStore struct {
	db *sql.DB
}

// Open opens (or creates) the catalog database at path.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_busy_timeout=10000&_fk=1")
	if err != nil {
		return nil, fmt.Errorf("open catalog db: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS machines (
		model_name TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		weekly_price TEXT NOT NULL
	);`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create machines table: %w", err)
	}
	logger.L.Info("sqlite catalog DB initialized", "path", path)
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces a machine keyed by model name.
func (s *SQLStore) Upsert(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO machines (model_name, description, weekly_price) VALUES (?,?,?)
		ON CONFLICT(model_name) DO UPDATE SET description = excluded.description, weekly_price = excluded.weekly_price;`,
		e.ModelName, e.Description, e.WeeklyPrice.String())
	if err != nil {
		return fmt.Errorf("upsert %q: %w", e.ModelName, err)
	}
	return nil
}

// ListAll returns every machine ordered by model name.
func (s *SQLStore) ListAll(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_name, description, weekly_price FROM machines ORDER BY model_name ASC;`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e     Entry
			price string
		)
		if err := rows.Scan(&e.ModelName, &e.Description, &price); err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		e.WeeklyPrice, err = decimal.NewFromString(price)
		if err != nil {
			logger.L.Warn("skipping machine with unparsable price", "model", e.ModelName, "price", price, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindByName resolves a possibly partial machine name. See Match.
func (s *SQLStore) FindByName(ctx context.Context, query string) (Entry, error) {
	entries, err := s.ListAll(ctx)
	if err != nil {
		return Entry{}, err
	}
	e, ok := Match(entries, query)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, query)
	}
	return e, nil
}
