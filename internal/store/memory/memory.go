// Package memory implements store.Repository entirely in process. It backs
// the test suite and dev mode when DATABASE_URL is not set.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
	"github.com/yassir2222/Pahrmacy-management/internal/xid"
)

type state struct {
	products map[string]domain.Product
	lots     map[string]domain.StockLot
	sales    map[string]domain.Sale
}

func newState() *state {
	return &state{
		products: make(map[string]domain.Product),
		lots:     make(map[string]domain.StockLot),
		sales:    make(map[string]domain.Sale),
	}
}

func (st *state) clone() *state {
	out := &state{
		products: make(map[string]domain.Product, len(st.products)),
		lots:     make(map[string]domain.StockLot, len(st.lots)),
		sales:    make(map[string]domain.Sale, len(st.sales)),
	}
	for id, p := range st.products {
		out.products[id] = p
	}
	for id, l := range st.lots {
		out.lots[id] = l
	}
	for id, s := range st.sales {
		out.sales[id] = cloneSale(s)
	}
	return out
}

func cloneSale(s domain.Sale) domain.Sale {
	out := s
	out.Lines = make([]domain.SaleLine, len(s.Lines))
	copy(out.Lines, s.Lines)
	if s.UpdatedAt != nil {
		at := *s.UpdatedAt
		out.UpdatedAt = &at
	}
	return out
}

type Store struct {
	mu sync.RWMutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

// NewSeeded returns a store preloaded with a small pharmacy catalog for dev
// mode. Totals are consistent with the seeded lots.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	date := func(months int) time.Time {
		return now.AddDate(0, months, 0).Truncate(24 * time.Hour)
	}

	seed := []struct {
		product domain.Product
		lots    []domain.StockLot
	}{
		{
			product: domain.Product{ID: "prod-seed-doliprane", Name: "Doliprane 1000mg", EANCode: "3400935955838", Form: "comprime", Dosage: "1000mg", SalePriceCents: 250, PurchaseCostCents: 140, ReorderThreshold: 30},
			lots: []domain.StockLot{
				{ID: "lot-seed-dol-1", LotNumber: "DOL-2409", ExpirationDate: date(4), Quantity: 80, UnitCostCents: 140},
				{ID: "lot-seed-dol-2", LotNumber: "DOL-2502", ExpirationDate: date(10), Quantity: 120, UnitCostCents: 135},
			},
		},
		{
			product: domain.Product{ID: "prod-seed-amoxicilline", Name: "Amoxicilline 500mg", EANCode: "3400930214567", Form: "gelule", Dosage: "500mg", SalePriceCents: 620, PurchaseCostCents: 390, ReorderThreshold: 20},
			lots: []domain.StockLot{
				{ID: "lot-seed-amx-1", LotNumber: "AMX-2411", ExpirationDate: date(6), Quantity: 60, UnitCostCents: 390},
			},
		},
		{
			product: domain.Product{ID: "prod-seed-smecta", Name: "Smecta 3g", EANCode: "3400933672161", Form: "sachet", Dosage: "3g", SalePriceCents: 410, PurchaseCostCents: 250, ReorderThreshold: 15},
			lots: []domain.StockLot{
				{ID: "lot-seed-sme-1", LotNumber: "SME-2408", ExpirationDate: date(2), Quantity: 25, UnitCostCents: 250},
				{ID: "lot-seed-sme-2", LotNumber: "SME-2501", ExpirationDate: date(8), Quantity: 40, UnitCostCents: 245},
			},
		},
	}

	for _, entry := range seed {
		product := entry.product
		total := 0
		for _, lot := range entry.lots {
			lot.ProductID = product.ID
			lot.ReceivedAt = now
			s.st.lots[lot.ID] = lot
			total += lot.Quantity
		}
		product.TotalStockQuantity = total
		s.st.products[product.ID] = product
	}
	return s
}

// WithinTx serializes all writers on one mutex and runs fn against a deep
// copy of the state. The copy replaces the live state only when fn returns
// nil, which gives the same all-or-nothing behavior a SQL ROLLBACK does.
func (s *Store) WithinTx(_ context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.st.products))
	for _, p := range s.st.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Name == b.Name {
			return strings.Compare(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.st.sales))
	for _, sale := range s.st.sales {
		sales = append(sales, cloneSale(sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return sales, nil
}

type memTx struct {
	st *state
}

func (t *memTx) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	product, ok := t.st.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	copied := product
	return &copied, nil
}

// GetProductForUpdate is identical to GetProduct here: WithinTx already
// holds the single writer lock for the whole unit of work.
func (t *memTx) GetProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	return t.GetProduct(ctx, productID)
}

func (t *memTx) InsertProduct(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return fmt.Errorf("%w: product id is required", store.ErrValidation)
	}
	if _, exists := t.st.products[product.ID]; exists {
		return fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
	}
	t.st.products[product.ID] = product
	return nil
}

func (t *memTx) UpdateProduct(_ context.Context, product domain.Product) error {
	if _, exists := t.st.products[product.ID]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, product.ID)
	}
	t.st.products[product.ID] = product
	return nil
}

func (t *memTx) DeleteProduct(_ context.Context, productID string) error {
	if _, exists := t.st.products[productID]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	delete(t.st.products, productID)
	for id, lot := range t.st.lots {
		if lot.ProductID == productID {
			delete(t.st.lots, id)
		}
	}
	return nil
}

func (t *memTx) SetProductTotal(_ context.Context, productID string, total int) error {
	product, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	product.TotalStockQuantity = total
	t.st.products[productID] = product
	return nil
}

func (t *memTx) GetLot(_ context.Context, lotID string) (*domain.StockLot, error) {
	lot, ok := t.st.lots[lotID]
	if !ok {
		return nil, fmt.Errorf("%w: lot %s", store.ErrNotFound, lotID)
	}
	copied := lot
	return &copied, nil
}

func (t *memTx) FindLotByNumber(_ context.Context, productID string, lotNumber string) (*domain.StockLot, error) {
	for _, lot := range t.st.lots {
		if lot.ProductID == productID && lot.LotNumber == lotNumber {
			copied := lot
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: lot %q for product %s", store.ErrNotFound, lotNumber, productID)
}

func (t *memTx) ListLots(_ context.Context, productID string, order store.LotOrder) ([]domain.StockLot, error) {
	lots := make([]domain.StockLot, 0, 8)
	for _, lot := range t.st.lots {
		if lot.ProductID == productID {
			lots = append(lots, lot)
		}
	}
	slices.SortFunc(lots, compareLotsByExpiration)
	if order == store.LotsByExpirationDesc {
		slices.Reverse(lots)
	}
	return lots, nil
}

func (t *memTx) InsertLot(_ context.Context, lot domain.StockLot) error {
	if lot.ID == "" {
		lot.ID = xid.New("lot")
	}
	if _, exists := t.st.lots[lot.ID]; exists {
		return fmt.Errorf("%w: lot %s already exists", store.ErrConflict, lot.ID)
	}
	if _, exists := t.st.products[lot.ProductID]; !exists {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, lot.ProductID)
	}
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *memTx) UpdateLot(_ context.Context, lot domain.StockLot) error {
	if _, exists := t.st.lots[lot.ID]; !exists {
		return fmt.Errorf("%w: lot %s", store.ErrNotFound, lot.ID)
	}
	t.st.lots[lot.ID] = lot
	return nil
}

func (t *memTx) DeleteLot(_ context.Context, lotID string) error {
	if _, exists := t.st.lots[lotID]; !exists {
		return fmt.Errorf("%w: lot %s", store.ErrNotFound, lotID)
	}
	delete(t.st.lots, lotID)
	return nil
}

func (t *memTx) SumLotQuantities(_ context.Context, productID string) (int, error) {
	total := 0
	for _, lot := range t.st.lots {
		if lot.ProductID == productID {
			total += lot.Quantity
		}
	}
	return total, nil
}

func (t *memTx) GetSale(_ context.Context, saleID string) (*domain.Sale, error) {
	sale, ok := t.st.sales[saleID]
	if !ok {
		return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
	}
	copied := cloneSale(sale)
	return &copied, nil
}

func (t *memTx) InsertSale(_ context.Context, sale domain.Sale) error {
	if sale.ID == "" {
		return fmt.Errorf("%w: sale id is required", store.ErrValidation)
	}
	if _, exists := t.st.sales[sale.ID]; exists {
		return fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, exists := t.st.sales[sale.ID]; !exists {
		return fmt.Errorf("%w: sale %s", store.ErrNotFound, sale.ID)
	}
	t.st.sales[sale.ID] = cloneSale(sale)
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, saleID string) error {
	if _, exists := t.st.sales[saleID]; !exists {
		return fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
	}
	delete(t.st.sales, saleID)
	return nil
}

func compareLotsByExpiration(a, b domain.StockLot) int {
	if !a.ExpirationDate.Equal(b.ExpirationDate) {
		if a.ExpirationDate.Before(b.ExpirationDate) {
			return -1
		}
		return 1
	}
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		if a.ReceivedAt.Before(b.ReceivedAt) {
			return -1
		}
		return 1
	}
	return strings.Compare(a.ID, b.ID)
}
