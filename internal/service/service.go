// Package service exposes the business operations of the pharmacy backend.
// Each exposed method is one unit of work: it either fully applies or leaves
// no trace.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/allocation"
	"github.com/yassir2222/Pahrmacy-management/internal/cache"
	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/ledger"
	"github.com/yassir2222/Pahrmacy-management/internal/metrics"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
	"github.com/yassir2222/Pahrmacy-management/internal/xid"
)

type Service struct {
	repo    store.Repository
	ledger  *ledger.Ledger
	engine  *allocation.Engine
	cache   cache.OverviewCache
	metrics *metrics.Metrics
	log     *zap.SugaredLogger
}

func New(repo store.Repository, ledger *ledger.Ledger, engine *allocation.Engine, overviewCache cache.OverviewCache, m *metrics.Metrics, log *zap.SugaredLogger) *Service {
	return &Service{
		repo:    repo,
		ledger:  ledger,
		engine:  engine,
		cache:   overviewCache,
		metrics: m,
		log:     log,
	}
}

// --- product catalog ---

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.SalePriceCents < 0 || req.PurchaseCostCents < 0 {
		return nil, fmt.Errorf("%w: prices must not be negative", store.ErrValidation)
	}
	if req.ReorderThreshold < 0 {
		return nil, fmt.Errorf("%w: reorder threshold must not be negative", store.ErrValidation)
	}

	product := domain.Product{
		ID:                 xid.New("prod"),
		Name:               req.Name,
		EANCode:            req.EANCode,
		Form:               req.Form,
		Dosage:             req.Dosage,
		SalePriceCents:     req.SalePriceCents,
		PurchaseCostCents:  req.PurchaseCostCents,
		ReorderThreshold:   req.ReorderThreshold,
		TotalStockQuantity: 0,
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return tx.InsertProduct(ctx, product)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateOverview(ctx)
	s.log.Infow("product created", "product_id", product.ID, "name", product.Name, "operator", operatorName(ctx))
	return &product, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var product *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		product, err = tx.GetProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// UpdateProduct changes catalog fields only. The cached total is owned by the
// ledger and is never writable through this path.
func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	var product *domain.Product
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		product, err = tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if req.Name != nil {
			if *req.Name == "" {
				return fmt.Errorf("%w: product name must not be empty", store.ErrValidation)
			}
			product.Name = *req.Name
		}
		if req.EANCode != nil {
			product.EANCode = *req.EANCode
		}
		if req.Form != nil {
			product.Form = *req.Form
		}
		if req.Dosage != nil {
			product.Dosage = *req.Dosage
		}
		if req.SalePriceCents != nil {
			if *req.SalePriceCents < 0 {
				return fmt.Errorf("%w: sale price must not be negative", store.ErrValidation)
			}
			product.SalePriceCents = *req.SalePriceCents
		}
		if req.PurchaseCostCents != nil {
			if *req.PurchaseCostCents < 0 {
				return fmt.Errorf("%w: purchase cost must not be negative", store.ErrValidation)
			}
			product.PurchaseCostCents = *req.PurchaseCostCents
		}
		if req.ReorderThreshold != nil {
			if *req.ReorderThreshold < 0 {
				return fmt.Errorf("%w: reorder threshold must not be negative", store.ErrValidation)
			}
			product.ReorderThreshold = *req.ReorderThreshold
		}
		return tx.UpdateProduct(ctx, *product)
	})
	if err != nil {
		return nil, err
	}
	s.invalidateOverview(ctx)
	return product, nil
}

// DeleteProduct refuses while any stock remains, counted from the lots rather
// than the cached total.
func (s *Service) DeleteProduct(ctx context.Context, productID string) error {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProductForUpdate(ctx, productID); err != nil {
			return err
		}
		remaining, err := tx.SumLotQuantities(ctx, productID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("%w: product %s still has %d units in stock", store.ErrConflict, productID, remaining)
		}
		return tx.DeleteProduct(ctx, productID)
	})
	if err != nil {
		return err
	}
	s.invalidateOverview(ctx)
	s.log.Infow("product deleted", "product_id", productID, "operator", operatorName(ctx))
	return nil
}

// StockOverview is a display read: served from cache when possible and
// allowed to lag behind in-flight units of work.
func (s *Service) StockOverview(ctx context.Context) ([]domain.ProductStockOverview, error) {
	if cached, ok, err := s.cache.Get(ctx); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.log.Warnw("overview cache read failed, falling back to store", "error", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	overview := make([]domain.ProductStockOverview, 0, len(products))
	for _, p := range products {
		overview = append(overview, domain.ProductStockOverview{
			ProductID:          p.ID,
			Name:               p.Name,
			TotalStockQuantity: p.TotalStockQuantity,
			ReorderThreshold:   p.ReorderThreshold,
		})
	}
	if err := s.cache.Set(ctx, overview); err != nil {
		s.log.Warnw("overview cache write failed", "error", err)
	}
	return overview, nil
}

// --- stock ledger ---

func (s *Service) AddStock(ctx context.Context, req domain.AddStockRequest) (*domain.StockLot, error) {
	var lot *domain.StockLot
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		lot, err = s.ledger.AddStock(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StockMutations.Inc()
	s.invalidateOverview(ctx)
	return lot, nil
}

func (s *Service) UpdateLot(ctx context.Context, req domain.UpdateLotRequest) (*domain.StockLot, error) {
	var lot *domain.StockLot
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		lot, err = s.ledger.UpdateLot(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StockMutations.Inc()
	s.invalidateOverview(ctx)
	return lot, nil
}

func (s *Service) RemoveStock(ctx context.Context, req domain.RemoveStockRequest) (*domain.StockLot, error) {
	var lot *domain.StockLot
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		lot, err = s.ledger.DecrementLot(ctx, tx, req.LotID, req.Quantity)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.StockMutations.Inc()
	s.invalidateOverview(ctx)
	return lot, nil
}

func (s *Service) RemoveLot(ctx context.Context, lotID string) error {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		return s.ledger.RemoveLot(ctx, tx, lotID)
	})
	if err != nil {
		return err
	}
	s.metrics.StockMutations.Inc()
	s.invalidateOverview(ctx)
	return nil
}

func (s *Service) ListLots(ctx context.Context, productID string) ([]domain.StockLot, error) {
	var lots []domain.StockLot
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return err
		}
		var err error
		lots, err = tx.ListLots(ctx, productID, store.LotsByExpirationAsc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lots, nil
}

// --- sales ---

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (*domain.Sale, error) {
	if err := validateSaleLines(req.Lines); err != nil {
		return nil, err
	}

	sale := domain.Sale{
		ID:        xid.New("sale"),
		CreatedAt: time.Now().UTC(),
	}
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		lines, total, err := s.buildLines(ctx, tx, req.Lines)
		if err != nil {
			return err
		}
		sale.Lines = lines
		sale.TotalCents = total
		return tx.InsertSale(ctx, sale)
	})
	if err != nil {
		s.countAllocationConflict(err)
		return nil, err
	}
	s.metrics.SalesCreated.Inc()
	s.invalidateOverview(ctx)
	s.log.Infow("sale created", "sale_id", sale.ID, "lines", len(sale.Lines), "total_cents", sale.TotalCents, "operator", operatorName(ctx))
	return &sale, nil
}

// ModifySale rewrites a sale: every existing line is restored to stock, then
// the new lines are consumed as if the sale were being created. One unit of
// work covers both halves, so a failed rewrite leaves the original sale and
// its stock untouched.
func (s *Service) ModifySale(ctx context.Context, saleID string, req domain.SaleRequest) (*domain.Sale, error) {
	if err := validateSaleLines(req.Lines); err != nil {
		return nil, err
	}

	var updated *domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if err := s.engine.Restore(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		lines, total, err := s.buildLines(ctx, tx, req.Lines)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		sale.Lines = lines
		sale.TotalCents = total
		sale.UpdatedAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = sale
		return nil
	})
	if err != nil {
		s.countAllocationConflict(err)
		return nil, err
	}
	s.metrics.SalesModified.Inc()
	s.invalidateOverview(ctx)
	s.log.Infow("sale modified", "sale_id", saleID, "lines", len(updated.Lines), "total_cents", updated.TotalCents, "operator", operatorName(ctx))
	return updated, nil
}

func (s *Service) DeleteSale(ctx context.Context, saleID string) error {
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		for _, line := range sale.Lines {
			if err := s.engine.Restore(ctx, tx, line.ProductID, line.Quantity); err != nil {
				return err
			}
		}
		return tx.DeleteSale(ctx, saleID)
	})
	if err != nil {
		return err
	}
	s.metrics.SalesDeleted.Inc()
	s.invalidateOverview(ctx)
	s.log.Infow("sale deleted", "sale_id", saleID, "operator", operatorName(ctx))
	return nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale *domain.Sale
	err := s.repo.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		sale, err = tx.GetSale(ctx, saleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

// buildLines consumes stock for each requested line and returns the persisted
// line records plus the sale total. Shared by create and modify.
func (s *Service) buildLines(ctx context.Context, tx store.Tx, reqs []domain.SaleLineRequest) ([]domain.SaleLine, int64, error) {
	lines := make([]domain.SaleLine, 0, len(reqs))
	var total int64
	for _, req := range reqs {
		if _, err := s.engine.Consume(ctx, tx, req.ProductID, req.Quantity); err != nil {
			return nil, 0, err
		}
		line := domain.SaleLine{
			ID:             xid.New("line"),
			ProductID:      req.ProductID,
			Quantity:       req.Quantity,
			UnitPriceCents: req.UnitPriceCents,
		}
		lines = append(lines, line)
		total += line.LineTotalCents()
	}
	return lines, total, nil
}

func validateSaleLines(lines []domain.SaleLineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: a sale needs at least one line", store.ErrValidation)
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return fmt.Errorf("%w: line %d has no product id", store.ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive, got %d", store.ErrValidation, i, line.Quantity)
		}
		if line.UnitPriceCents < 0 {
			return fmt.Errorf("%w: line %d unit price must not be negative", store.ErrValidation, i)
		}
	}
	return nil
}

func (s *Service) countAllocationConflict(err error) {
	if errors.Is(err, store.ErrConflict) {
		s.metrics.AllocationConflicts.Inc()
	}
}

func (s *Service) invalidateOverview(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.log.Warnw("overview cache invalidation failed", "error", err)
	}
}
