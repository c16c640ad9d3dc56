// Package postgres implements store.Repository on PostgreSQL through
// database/sql with the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema. Idempotent; run at startup.
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			ean_code TEXT NOT NULL DEFAULT '',
			form TEXT NOT NULL DEFAULT '',
			dosage TEXT NOT NULL DEFAULT '',
			sale_price_cents BIGINT NOT NULL DEFAULT 0,
			purchase_cost_cents BIGINT NOT NULL DEFAULT 0,
			reorder_threshold INT NOT NULL DEFAULT 0,
			total_stock_quantity INT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS stock_lots (
			id TEXT PRIMARY KEY,
			product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
			lot_number TEXT NOT NULL,
			expiration_date DATE NOT NULL,
			quantity INT NOT NULL,
			unit_cost_cents BIGINT NOT NULL DEFAULT 0,
			received_at TIMESTAMPTZ NOT NULL,
			UNIQUE (product_id, lot_number)
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			total_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS sale_lines (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id) ON DELETE CASCADE,
			product_id TEXT NOT NULL,
			quantity INT NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			position INT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stock_lots_product ON stock_lots (product_id, expiration_date, received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sale_lines_sale ON sale_lines (sale_id, position)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&pgTx{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, ean_code, form, dosage, sale_price_cents, purchase_cost_cents,
			reorder_threshold, total_stock_quantity
		FROM products
		ORDER BY name, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.EANCode, &p.Form, &p.Dosage, &p.SalePriceCents, &p.PurchaseCostCents, &p.ReorderThreshold, &p.TotalStockQuantity); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, total_cents, created_at, updated_at
		FROM sales
		ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var sale domain.Sale
		var updatedAt sql.NullTime
		if err := rows.Scan(&sale.ID, &sale.TotalCents, &sale.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		if updatedAt.Valid {
			at := updatedAt.Time.UTC()
			sale.UpdatedAt = &at
		}
		sale.Lines = []domain.SaleLine{}
		sales = append(sales, sale)
		ids = append(ids, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return sales, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT sale_id, id, product_id, quantity, unit_price_cents
		FROM sale_lines
		WHERE sale_id = ANY($1)
		ORDER BY sale_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	bySale := make(map[string][]domain.SaleLine, len(ids))
	for lineRows.Next() {
		var saleID string
		var line domain.SaleLine
		if err := lineRows.Scan(&saleID, &line.ID, &line.ProductID, &line.Quantity, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		bySale[saleID] = append(bySale[saleID], line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}
	for i := range sales {
		if lines, ok := bySale[sales[i].ID]; ok {
			sales[i].Lines = lines
		}
	}
	return sales, nil
}

type pgTx struct {
	tx *sql.Tx
}

const productColumns = `id, name, ean_code, form, dosage, sale_price_cents, purchase_cost_cents, reorder_threshold, total_stock_quantity`

func (t *pgTx) getProduct(ctx context.Context, productID string, forUpdate bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p domain.Product
	err := t.tx.QueryRowContext(ctx, query, productID).Scan(
		&p.ID, &p.Name, &p.EANCode, &p.Form, &p.Dosage,
		&p.SalePriceCents, &p.PurchaseCostCents, &p.ReorderThreshold, &p.TotalStockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	return t.getProduct(ctx, productID, false)
}

func (t *pgTx) GetProductForUpdate(ctx context.Context, productID string) (*domain.Product, error) {
	return t.getProduct(ctx, productID, true)
}

func (t *pgTx) InsertProduct(ctx context.Context, product domain.Product) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO products (id, name, ean_code, form, dosage, sale_price_cents,
			purchase_cost_cents, reorder_threshold, total_stock_quantity)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, product.ID, product.Name, product.EANCode, product.Form, product.Dosage,
		product.SalePriceCents, product.PurchaseCostCents, product.ReorderThreshold, product.TotalStockQuantity)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: product %s already exists", store.ErrConflict, product.ID)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, product domain.Product) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET name = $2, ean_code = $3, form = $4, dosage = $5, sale_price_cents = $6,
			purchase_cost_cents = $7, reorder_threshold = $8
		WHERE id = $1
	`, product.ID, product.Name, product.EANCode, product.Form, product.Dosage,
		product.SalePriceCents, product.PurchaseCostCents, product.ReorderThreshold)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("product %s", product.ID))
}

func (t *pgTx) DeleteProduct(ctx context.Context, productID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("product %s", productID))
}

func (t *pgTx) SetProductTotal(ctx context.Context, productID string, total int) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE products SET total_stock_quantity = $2 WHERE id = $1
	`, productID, total)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("product %s", productID))
}

const lotColumns = `id, product_id, lot_number, expiration_date, quantity, unit_cost_cents, received_at`

func scanLot(row interface{ Scan(...any) error }) (*domain.StockLot, error) {
	var lot domain.StockLot
	if err := row.Scan(&lot.ID, &lot.ProductID, &lot.LotNumber, &lot.ExpirationDate, &lot.Quantity, &lot.UnitCostCents, &lot.ReceivedAt); err != nil {
		return nil, err
	}
	lot.ExpirationDate = dateUTC(lot.ExpirationDate)
	lot.ReceivedAt = lot.ReceivedAt.UTC()
	return &lot, nil
}

func (t *pgTx) GetLot(ctx context.Context, lotID string) (*domain.StockLot, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		SELECT `+lotColumns+` FROM stock_lots WHERE id = $1
	`, lotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %s", store.ErrNotFound, lotID)
		}
		return nil, err
	}
	return lot, nil
}

func (t *pgTx) FindLotByNumber(ctx context.Context, productID string, lotNumber string) (*domain.StockLot, error) {
	lot, err := scanLot(t.tx.QueryRowContext(ctx, `
		SELECT `+lotColumns+` FROM stock_lots WHERE product_id = $1 AND lot_number = $2
	`, productID, lotNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: lot %q for product %s", store.ErrNotFound, lotNumber, productID)
		}
		return nil, err
	}
	return lot, nil
}

func (t *pgTx) ListLots(ctx context.Context, productID string, order store.LotOrder) ([]domain.StockLot, error) {
	direction := "ASC"
	if order == store.LotsByExpirationDesc {
		direction = "DESC"
	}
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE product_id = $1
		ORDER BY expiration_date `+direction+`, received_at `+direction+`, id `+direction+`
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lots := make([]domain.StockLot, 0, 8)
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, *lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func (t *pgTx) InsertLot(ctx context.Context, lot domain.StockLot) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_lots (id, product_id, lot_number, expiration_date, quantity, unit_cost_cents, received_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, lot.ID, lot.ProductID, lot.LotNumber, lot.ExpirationDate, lot.Quantity, lot.UnitCostCents, lot.ReceivedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: lot %q already exists for product %s", store.ErrConflict, lot.LotNumber, lot.ProductID)
		}
		return err
	}
	return nil
}

func (t *pgTx) UpdateLot(ctx context.Context, lot domain.StockLot) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE stock_lots
		SET lot_number = $2, expiration_date = $3, quantity = $4, unit_cost_cents = $5
		WHERE id = $1
	`, lot.ID, lot.LotNumber, lot.ExpirationDate, lot.Quantity, lot.UnitCostCents)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: lot number %q already in use", store.ErrConflict, lot.LotNumber)
		}
		return err
	}
	return requireAffected(res, fmt.Sprintf("lot %s", lot.ID))
}

func (t *pgTx) DeleteLot(ctx context.Context, lotID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM stock_lots WHERE id = $1`, lotID)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("lot %s", lotID))
}

func (t *pgTx) SumLotQuantities(ctx context.Context, productID string) (int, error) {
	var total int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity), 0)::int FROM stock_lots WHERE product_id = $1
	`, productID).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (t *pgTx) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	var sale domain.Sale
	var updatedAt sql.NullTime
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, total_cents, created_at, updated_at FROM sales WHERE id = $1
	`, saleID).Scan(&sale.ID, &sale.TotalCents, &sale.CreatedAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %s", store.ErrNotFound, saleID)
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if updatedAt.Valid {
		at := updatedAt.Time.UTC()
		sale.UpdatedAt = &at
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, product_id, quantity, unit_price_cents
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.Quantity, &line.UnitPriceCents); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sale.Lines = lines
	return &sale, nil
}

func (t *pgTx) InsertSale(ctx context.Context, sale domain.Sale) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sales (id, total_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4)
	`, sale.ID, sale.TotalCents, sale.CreatedAt, nullTime(sale.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sale %s already exists", store.ErrConflict, sale.ID)
		}
		return err
	}
	return t.insertLines(ctx, sale)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE sales SET total_cents = $2, updated_at = $3 WHERE id = $1
	`, sale.ID, sale.TotalCents, nullTime(sale.UpdatedAt))
	if err != nil {
		return err
	}
	if err := requireAffected(res, fmt.Sprintf("sale %s", sale.ID)); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, sale.ID); err != nil {
		return err
	}
	return t.insertLines(ctx, sale)
}

func (t *pgTx) DeleteSale(ctx context.Context, saleID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Sprintf("sale %s", saleID))
}

func (t *pgTx) insertLines(ctx context.Context, sale domain.Sale) error {
	for i, line := range sale.Lines {
		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO sale_lines (id, sale_id, product_id, quantity, unit_price_cents, position)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, line.ID, sale.ID, line.ProductID, line.Quantity, line.UnitPriceCents, i)
		if err != nil {
			return err
		}
	}
	return nil
}

func requireAffected(res sql.Result, what string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	return time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
