package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/comigor/quotebot/internal/config"
)

// Seed upserts the configured machines. Entries without a positive price in
// whole cents are rejected.
func Seed(ctx context.Context, s *SQLStore, seeds []config.CatalogSeedEntry) (int, error) {
	for i, seed := range seeds {
		price, err := decimal.NewFromString(seed.WeeklyPrice)
		if err != nil {
			return i, fmt.Errorf("seed %q: weekly_price %q: %w", seed.ModelName, seed.WeeklyPrice, err)
		}
		if !price.IsPositive() {
			return i, fmt.Errorf("seed %q: weekly_price must be positive, got %s", seed.ModelName, seed.WeeklyPrice)
		}
		if !price.Equal(price.Round(2)) {
			return i, fmt.Errorf("seed %q: weekly_price %s has fractions of a cent", seed.ModelName, seed.WeeklyPrice)
		}
		if err := s.Upsert(ctx, Entry{ModelName: seed.ModelName, Description: seed.Description, WeeklyPrice: price}); err != nil {
			return i, err
		}
	}
	return len(seeds), nil
}
