// Package ledger owns every mutation of stock lots. All quantity changes go
// through it so the cached per-product total is recomputed from the lots at
// the end of each mutation, never adjusted incrementally.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
	"github.com/yassir2222/Pahrmacy-management/internal/xid"
)

const dateLayout = "2006-01-02"

type Ledger struct {
	log *zap.SugaredLogger
}

func New(log *zap.SugaredLogger) *Ledger {
	return &Ledger{log: log}
}

// AddStock receives a delivery into a lot. A delivery carrying a lot number
// the product already has merges into that lot when the expiration dates
// match and is rejected as a conflict when they differ.
func (l *Ledger) AddStock(ctx context.Context, tx store.Tx, req domain.AddStockRequest) (*domain.StockLot, error) {
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", store.ErrValidation, req.Quantity)
	}
	if req.LotNumber == "" {
		return nil, fmt.Errorf("%w: lot number is required", store.ErrValidation)
	}
	expiration, err := parseExpiration(req.ExpirationDate)
	if err != nil {
		return nil, err
	}

	if _, err := tx.GetProductForUpdate(ctx, req.ProductID); err != nil {
		return nil, err
	}

	existing, err := tx.FindLotByNumber(ctx, req.ProductID, req.LotNumber)
	switch {
	case err == nil:
		if !existing.ExpirationDate.Equal(expiration) {
			return nil, fmt.Errorf("%w: lot %q exists with expiration %s, delivery says %s",
				store.ErrConflict, req.LotNumber,
				existing.ExpirationDate.Format(dateLayout), expiration.Format(dateLayout))
		}
		existing.Quantity += req.Quantity
		if err := tx.UpdateLot(ctx, *existing); err != nil {
			return nil, err
		}
		if _, err := l.RecomputeTotal(ctx, tx, req.ProductID); err != nil {
			return nil, err
		}
		l.log.Infow("stock merged into existing lot",
			"product_id", req.ProductID, "lot_id", existing.ID, "added", req.Quantity)
		return existing, nil
	case isNotFound(err):
		lot := domain.StockLot{
			ID:             xid.New("lot"),
			ProductID:      req.ProductID,
			LotNumber:      req.LotNumber,
			ExpirationDate: expiration,
			Quantity:       req.Quantity,
			UnitCostCents:  req.UnitCostCents,
			ReceivedAt:     time.Now().UTC(),
		}
		if err := tx.InsertLot(ctx, lot); err != nil {
			return nil, err
		}
		if _, err := l.RecomputeTotal(ctx, tx, req.ProductID); err != nil {
			return nil, err
		}
		l.log.Infow("stock lot created",
			"product_id", req.ProductID, "lot_id", lot.ID, "quantity", lot.Quantity)
		return &lot, nil
	default:
		return nil, err
	}
}

// UpdateLot overwrites a lot's number, expiration, quantity and unit cost.
// Quantity zero is allowed; the lot stays on record until removed.
func (l *Ledger) UpdateLot(ctx context.Context, tx store.Tx, req domain.UpdateLotRequest) (*domain.StockLot, error) {
	if req.Quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative, got %d", store.ErrValidation, req.Quantity)
	}
	if req.LotNumber == "" {
		return nil, fmt.Errorf("%w: lot number is required", store.ErrValidation)
	}
	expiration, err := parseExpiration(req.ExpirationDate)
	if err != nil {
		return nil, err
	}

	lot, err := tx.GetLot(ctx, req.LotID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetProductForUpdate(ctx, lot.ProductID); err != nil {
		return nil, err
	}
	// Lot numbers are unique per product; renaming onto another lot's number
	// is rejected on every backend, not just the ones with a unique index.
	if req.LotNumber != lot.LotNumber {
		other, err := tx.FindLotByNumber(ctx, lot.ProductID, req.LotNumber)
		switch {
		case err == nil && other.ID != lot.ID:
			return nil, fmt.Errorf("%w: lot %q already exists for product %s",
				store.ErrConflict, req.LotNumber, lot.ProductID)
		case err != nil && !isNotFound(err):
			return nil, err
		}
	}

	lot.LotNumber = req.LotNumber
	lot.ExpirationDate = expiration
	lot.Quantity = req.Quantity
	lot.UnitCostCents = req.UnitCostCents
	if err := tx.UpdateLot(ctx, *lot); err != nil {
		return nil, err
	}
	if _, err := l.RecomputeTotal(ctx, tx, lot.ProductID); err != nil {
		return nil, err
	}
	return lot, nil
}

// DecrementLot takes quantity out of one specific lot.
func (l *Ledger) DecrementLot(ctx context.Context, tx store.Tx, lotID string, quantity int) (*domain.StockLot, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", store.ErrValidation, quantity)
	}
	lot, err := tx.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	if _, err := tx.GetProductForUpdate(ctx, lot.ProductID); err != nil {
		return nil, err
	}
	if quantity > lot.Quantity {
		return nil, fmt.Errorf("%w: insufficient stock in lot %s: have %d, want %d",
			store.ErrValidation, lot.ID, lot.Quantity, quantity)
	}
	lot.Quantity -= quantity
	if err := tx.UpdateLot(ctx, *lot); err != nil {
		return nil, err
	}
	if _, err := l.RecomputeTotal(ctx, tx, lot.ProductID); err != nil {
		return nil, err
	}
	return lot, nil
}

// RemoveLot deletes the lot outright regardless of remaining quantity.
func (l *Ledger) RemoveLot(ctx context.Context, tx store.Tx, lotID string) error {
	lot, err := tx.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if _, err := tx.GetProductForUpdate(ctx, lot.ProductID); err != nil {
		return err
	}
	if err := tx.DeleteLot(ctx, lotID); err != nil {
		return err
	}
	if _, err := l.RecomputeTotal(ctx, tx, lot.ProductID); err != nil {
		return err
	}
	l.log.Infow("stock lot removed",
		"product_id", lot.ProductID, "lot_id", lotID, "discarded", lot.Quantity)
	return nil
}

// RecomputeTotal derives the product's cached total from its lots and writes
// it back. Every lot mutation ends here.
func (l *Ledger) RecomputeTotal(ctx context.Context, tx store.Tx, productID string) (int, error) {
	total, err := tx.SumLotQuantities(ctx, productID)
	if err != nil {
		return 0, err
	}
	if err := tx.SetProductTotal(ctx, productID, total); err != nil {
		return 0, err
	}
	return total, nil
}

func parseExpiration(raw string) (time.Time, error) {
	expiration, err := time.ParseInLocation(dateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expiration date %q is not YYYY-MM-DD", store.ErrValidation, raw)
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if expiration.Before(today) {
		return time.Time{}, fmt.Errorf("%w: expiration date %s is in the past", store.ErrValidation, raw)
	}
	return expiration, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
