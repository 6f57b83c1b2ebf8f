// Package catalog gives read access to the rentable machines and resolves
// loosely spelled machine names against them.
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when no catalog entry matches a lookup.
var ErrNotFound = errors.New("catalog: machine not found")

// Entry is a snapshot of one rentable machine.
type Entry struct {
	ModelName   string          `json:"model_name"`
	Description string          `json:"description"`
	WeeklyPrice decimal.Decimal `json:"weekly_price"`
}

// Gateway is the read side of the catalog consumed by the quoting flow.
type Gateway interface {
	ListAll(ctx context.Context) ([]Entry, error)
	FindByName(ctx context.Context, query string) (Entry, error)
}
