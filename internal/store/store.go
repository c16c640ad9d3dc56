package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
)

// The four error kinds every operation classifies its failures into.
// Callers branch with errors.Is; messages carry the detail.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInconsistent = errors.New("inconsistent state")
)

// ErrInsufficientStock is a conflict: the caller may retry after refreshing
// its view of the stock.
var ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", ErrConflict)

type LotOrder int

const (
	// LotsByExpirationAsc is the dispensing order: earliest-expiring first.
	LotsByExpirationAsc LotOrder = iota
	// LotsByExpirationDesc is the restitution order: latest-expiring first.
	LotsByExpirationDesc
)

// Tx is one unit of work over product, lot and sale records. Every method
// observes and mutates state that is invisible to other units of work until
// the enclosing WithinTx call returns nil.
type Tx interface {
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	// GetProductForUpdate locks the product row for the rest of the unit of
	// work. Any read used to authorize a stock mutation must go through it.
	GetProductForUpdate(ctx context.Context, productID string) (*domain.Product, error)
	InsertProduct(ctx context.Context, product domain.Product) error
	UpdateProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, productID string) error
	// SetProductTotal writes the cached total. Only the ledger's recompute
	// step calls this.
	SetProductTotal(ctx context.Context, productID string, total int) error

	GetLot(ctx context.Context, lotID string) (*domain.StockLot, error)
	FindLotByNumber(ctx context.Context, productID string, lotNumber string) (*domain.StockLot, error)
	ListLots(ctx context.Context, productID string, order LotOrder) ([]domain.StockLot, error)
	InsertLot(ctx context.Context, lot domain.StockLot) error
	UpdateLot(ctx context.Context, lot domain.StockLot) error
	DeleteLot(ctx context.Context, lotID string) error
	SumLotQuantities(ctx context.Context, productID string) (int, error)

	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	InsertSale(ctx context.Context, sale domain.Sale) error
	// UpdateSale rewrites the sale record and replaces all of its lines.
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, saleID string) error
}

type Repository interface {
	// WithinTx runs fn as one serializable unit of work. If fn returns an
	// error every mutation it performed is rolled back and the error is
	// returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	// Non-locking display reads. May lag behind in-flight units of work.
	ListProducts(ctx context.Context) ([]domain.Product, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)
}
