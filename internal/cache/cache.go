// Package cache holds the stock overview cache used by display reads.
package cache

import (
	"context"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
)

// OverviewCache stores the catalog stock overview between requests. A miss
// returns (nil, false, nil); errors are for transport failures only.
type OverviewCache interface {
	Get(ctx context.Context) ([]domain.ProductStockOverview, bool, error)
	Set(ctx context.Context, overview []domain.ProductStockOverview) error
	Invalidate(ctx context.Context) error
}

// Noop is used when no Redis address is configured. Every read misses.
type Noop struct{}

func NewNoop() Noop { return Noop{} }

func (Noop) Get(context.Context) ([]domain.ProductStockOverview, bool, error) {
	return nil, false, nil
}

func (Noop) Set(context.Context, []domain.ProductStockOverview) error { return nil }

func (Noop) Invalidate(context.Context) error { return nil }
