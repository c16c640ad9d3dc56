package domain

import "time"

// Product is the catalog record for one medication. TotalStockQuantity is a
// cached value derived from the product's stock lots; only the ledger's
// recompute step may write it.
type Product struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	EANCode            string `json:"ean_code,omitempty"`
	Form               string `json:"form,omitempty"`
	Dosage             string `json:"dosage,omitempty"`
	SalePriceCents     int64  `json:"sale_price_cents"`
	PurchaseCostCents  int64  `json:"purchase_cost_cents"`
	ReorderThreshold   int    `json:"reorder_threshold"`
	TotalStockQuantity int    `json:"total_stock_quantity"`
}

// StockLot is one dated batch of a product. The lot number is unique per
// product; a lot keeps existing at quantity zero until removed explicitly.
type StockLot struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"product_id"`
	LotNumber      string    `json:"lot_number"`
	ExpirationDate time.Time `json:"expiration_date"`
	Quantity       int       `json:"quantity"`
	UnitCostCents  int64     `json:"unit_cost_cents"`
	ReceivedAt     time.Time `json:"received_at"`
}

type Sale struct {
	ID         string     `json:"id"`
	TotalCents int64      `json:"total_cents"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
	Lines      []SaleLine `json:"lines"`
}

// SaleLine records what was sold, not which lots supplied it. Restitution
// therefore cannot target the originally consumed lots.
type SaleLine struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

func (l SaleLine) LineTotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// LotAllocation reports how much of a consume request one lot supplied.
type LotAllocation struct {
	LotID    string `json:"lot_id"`
	Quantity int    `json:"quantity"`
}

type ProductCreateRequest struct {
	Name              string `json:"name"`
	EANCode           string `json:"ean_code"`
	Form              string `json:"form"`
	Dosage            string `json:"dosage"`
	SalePriceCents    int64  `json:"sale_price_cents"`
	PurchaseCostCents int64  `json:"purchase_cost_cents"`
	ReorderThreshold  int    `json:"reorder_threshold"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	EANCode           *string `json:"ean_code,omitempty"`
	Form              *string `json:"form,omitempty"`
	Dosage            *string `json:"dosage,omitempty"`
	SalePriceCents    *int64  `json:"sale_price_cents,omitempty"`
	PurchaseCostCents *int64  `json:"purchase_cost_cents,omitempty"`
	ReorderThreshold  *int    `json:"reorder_threshold,omitempty"`
}

type AddStockRequest struct {
	ProductID      string `json:"product_id"`
	LotNumber      string `json:"lot_number"`
	ExpirationDate string `json:"expiration_date"`
	Quantity       int    `json:"quantity"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

type UpdateLotRequest struct {
	LotID          string `json:"lot_id"`
	LotNumber      string `json:"lot_number"`
	ExpirationDate string `json:"expiration_date"`
	Quantity       int    `json:"quantity"`
	UnitCostCents  int64  `json:"unit_cost_cents"`
}

type RemoveStockRequest struct {
	LotID    string `json:"lot_id"`
	Quantity int    `json:"quantity"`
}

type SaleLineRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type SaleRequest struct {
	Lines []SaleLineRequest `json:"lines"`
}

// ProductStockOverview is the display-read projection of catalog stock.
// It may be served from cache and lag behind the ledger.
type ProductStockOverview struct {
	ProductID          string `json:"product_id"`
	Name               string `json:"name"`
	TotalStockQuantity int    `json:"total_stock_quantity"`
	ReorderThreshold   int    `json:"reorder_threshold"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}
