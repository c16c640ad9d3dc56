package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/allocation"
	"github.com/yassir2222/Pahrmacy-management/internal/cache"
	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/ledger"
	"github.com/yassir2222/Pahrmacy-management/internal/metrics"
	"github.com/yassir2222/Pahrmacy-management/internal/service"
	"github.com/yassir2222/Pahrmacy-management/internal/store/memory"
)

const (
	testSecret   = "unit-test-secret-0123456789abcdef"
	testUsername = "admin"
	testPassword = "pharmacie-secret"
)

func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	log := zap.NewNop().Sugar()
	repo := memory.New()
	ldg := ledger.New(log)
	engine := allocation.New(ldg, log)
	m := metrics.New()
	svc := service.New(repo, ldg, engine, cache.NewNoop(), m, log)
	auth, err := NewAuthManager(testSecret, time.Hour, testUsername, testPassword)
	if err != nil {
		t.Fatalf("auth manager: %v", err)
	}
	return New(svc, auth, m, "http://127.0.0.1:3000", log).Handler()
}

func login(t *testing.T, handler http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(domain.LoginRequest{Username: testUsername, Password: testPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, handler http.Handler, token string, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func futureDate(months int) string {
	return time.Now().UTC().AddDate(0, months, 0).Format("2006-01-02")
}

func TestBusinessRoutesRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t)

	rec := doJSON(t, handler, "", http.MethodGet, "/api/produits", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, "not-a-jwt", http.MethodGet, "/api/produits", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: testUsername, Password: "wrong"})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	handler := newTestAPI(t)
	rec := doJSON(t, handler, "", http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProductAndStockFlow(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, token, http.MethodPost, "/api/produits", domain.ProductCreateRequest{
		Name:           "Doliprane 1000mg",
		SalePriceCents: 250,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	productID := created.Product.ID

	rec = doJSON(t, handler, token, http.MethodPost, "/api/stock/add", domain.AddStockRequest{
		ProductID:      productID,
		LotNumber:      "DOL-2501",
		ExpirationDate: futureDate(6),
		Quantity:       25,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add stock: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, token, http.MethodGet, fmt.Sprintf("/api/stock/%s/lots", productID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list lots: expected 200, got %d", rec.Code)
	}

	// Deleting the product while stock remains is a conflict.
	rec = doJSON(t, handler, token, http.MethodDelete, "/api/produits/"+productID, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while stock remains, got %d", rec.Code)
	}
}

func TestErrorKindStatusMapping(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler)

	// Unknown product: 404.
	rec := doJSON(t, handler, token, http.MethodGet, "/api/produits/prod-missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	// Invalid payload: 400.
	rec = doJSON(t, handler, token, http.MethodPost, "/api/produits", map[string]any{"name": ""})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty name, got %d", rec.Code)
	}

	// Insufficient stock on a sale: 409.
	rec = doJSON(t, handler, token, http.MethodPost, "/api/produits", domain.ProductCreateRequest{Name: "Smecta 3g", SalePriceCents: 410})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d", rec.Code)
	}
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	rec = doJSON(t, handler, token, http.MethodPost, "/api/ventes", domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: created.Product.ID, Quantity: 3, UnitPriceCents: 410}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t)
	token := login(t, handler)

	rec := doJSON(t, handler, token, http.MethodPost, "/api/produits", domain.ProductCreateRequest{Name: "Doliprane 1000mg", SalePriceCents: 250})
	var created struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	productID := created.Product.ID

	doJSON(t, handler, token, http.MethodPost, "/api/stock/add", domain.AddStockRequest{
		ProductID: productID, LotNumber: "DOL-2501", ExpirationDate: futureDate(6), Quantity: 30,
	})

	rec = doJSON(t, handler, token, http.MethodPost, "/api/ventes", domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: productID, Quantity: 10, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var saleResp struct {
		Sale domain.Sale `json:"sale"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &saleResp); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if saleResp.Sale.TotalCents != 2500 {
		t.Fatalf("expected total 2500, got %d", saleResp.Sale.TotalCents)
	}

	rec = doJSON(t, handler, token, http.MethodPut, "/api/ventes/"+saleResp.Sale.ID, domain.SaleRequest{
		Lines: []domain.SaleLineRequest{{ProductID: productID, Quantity: 4, UnitPriceCents: 250}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("modify sale: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, token, http.MethodDelete, "/api/ventes/"+saleResp.Sale.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete sale: expected 204, got %d", rec.Code)
	}

	rec = doJSON(t, handler, token, http.MethodGet, "/api/produits/"+productID, nil)
	var after struct {
		Product domain.Product `json:"product"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decode product: %v", err)
	}
	if after.Product.TotalStockQuantity != 30 {
		t.Fatalf("expected full stock back after delete, got %d", after.Product.TotalStockQuantity)
	}
}
