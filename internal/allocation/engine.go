// Package allocation turns "sell N units of product X" into concrete lot
// decrements, and puts quantity back when a sale is undone.
package allocation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/ledger"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
)

type Engine struct {
	ledger *ledger.Ledger
	log    *zap.SugaredLogger
}

func New(ledger *ledger.Ledger, log *zap.SugaredLogger) *Engine {
	return &Engine{ledger: ledger, log: log}
}

// Consume takes quantity out of the product's lots in expiration order,
// earliest-expiring first. It runs inside the caller's unit of work, so a
// later failure in the same unit rolls the decrements back with it.
func (e *Engine) Consume(ctx context.Context, tx store.Tx, productID string, quantity int) ([]domain.LotAllocation, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", store.ErrValidation, quantity)
	}

	product, err := tx.GetProductForUpdate(ctx, productID)
	if err != nil {
		return nil, err
	}
	if quantity > product.TotalStockQuantity {
		return nil, fmt.Errorf("%w for product %s: have %d, want %d",
			store.ErrInsufficientStock, productID, product.TotalStockQuantity, quantity)
	}

	lots, err := tx.ListLots(ctx, productID, store.LotsByExpirationAsc)
	if err != nil {
		return nil, err
	}
	if len(lots) == 0 {
		return nil, fmt.Errorf("%w: product %s reports total %d but has no lots",
			store.ErrInconsistent, productID, product.TotalStockQuantity)
	}

	var allocations []domain.LotAllocation
	remaining := quantity
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		if lot.Quantity == 0 {
			continue
		}
		take := min(remaining, lot.Quantity)
		if _, err := e.ledger.DecrementLot(ctx, tx, lot.ID, take); err != nil {
			return nil, err
		}
		allocations = append(allocations, domain.LotAllocation{LotID: lot.ID, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		return nil, fmt.Errorf("%w: could not allocate full quantity for product %s, stock changed concurrently",
			store.ErrConflict, productID)
	}

	e.log.Debugw("stock consumed",
		"product_id", productID, "quantity", quantity, "lots_touched", len(allocations))
	return allocations, nil
}

// Restore puts quantity back after a sale is cancelled or rewritten. Sales do
// not record which lots supplied them, so the whole quantity goes into the
// latest-expiring lot to keep it out of the next dispensing pass.
func (e *Engine) Restore(ctx context.Context, tx store.Tx, productID string, quantity int) error {
	if quantity <= 0 {
		return nil
	}

	if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
		return err
	}
	lots, err := tx.ListLots(ctx, productID, store.LotsByExpirationDesc)
	if err != nil {
		return err
	}
	if len(lots) == 0 {
		return fmt.Errorf("%w: no lot left to restore %d units of product %s into",
			store.ErrConflict, quantity, productID)
	}

	target := lots[0]
	target.Quantity += quantity
	if err := tx.UpdateLot(ctx, target); err != nil {
		return err
	}
	if _, err := e.ledger.RecomputeTotal(ctx, tx, productID); err != nil {
		return err
	}

	e.log.Debugw("stock restored",
		"product_id", productID, "quantity", quantity, "lot_id", target.ID)
	return nil
}
