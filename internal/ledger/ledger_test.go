package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/yassir2222/Pahrmacy-management/internal/domain"
	"github.com/yassir2222/Pahrmacy-management/internal/store"
	"github.com/yassir2222/Pahrmacy-management/internal/store/memory"
)

func newTestLedger() *Ledger {
	return New(zap.NewNop().Sugar())
}

func futureDate(months int) string {
	return time.Now().UTC().AddDate(0, months, 0).Format("2006-01-02")
}

func seedProduct(t *testing.T, repo *memory.Store, id string) {
	t.Helper()
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertProduct(context.Background(), domain.Product{ID: id, Name: "Ibuprofene 400mg"})
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func productTotal(t *testing.T, repo *memory.Store, id string) int {
	t.Helper()
	var total int
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		product, err := tx.GetProduct(context.Background(), id)
		if err != nil {
			return err
		}
		total = product.TotalStockQuantity
		return nil
	})
	if err != nil {
		t.Fatalf("read product: %v", err)
	}
	return total
}

func TestAddStockCreatesLotAndRecomputesTotal(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	var lot *domain.StockLot
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		var err error
		lot, err = ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID:      "prod-ibu",
			LotNumber:      "IBU-2501",
			ExpirationDate: futureDate(6),
			Quantity:       40,
			UnitCostCents:  210,
		})
		return err
	})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}
	if lot.Quantity != 40 {
		t.Fatalf("expected lot quantity 40, got %d", lot.Quantity)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 40 {
		t.Fatalf("expected total 40, got %d", got)
	}
}

func TestAddStockMergesSameLotNumberSameExpiration(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	expiration := futureDate(6)
	add := func(qty int) error {
		return repo.WithinTx(context.Background(), func(tx store.Tx) error {
			_, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
				ProductID:      "prod-ibu",
				LotNumber:      "IBU-2501",
				ExpirationDate: expiration,
				Quantity:       qty,
			})
			return err
		})
	}
	if err := add(40); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := add(25); err != nil {
		t.Fatalf("second delivery failed: %v", err)
	}

	if got := productTotal(t, repo, "prod-ibu"); got != 65 {
		t.Fatalf("expected total 65 after merge, got %d", got)
	}
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		lots, err := tx.ListLots(context.Background(), "prod-ibu", store.LotsByExpirationAsc)
		if err != nil {
			return err
		}
		if len(lots) != 1 {
			t.Fatalf("expected one merged lot, got %d", len(lots))
		}
		if lots[0].Quantity != 65 {
			t.Fatalf("expected merged quantity 65, got %d", lots[0].Quantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("inspect lots: %v", err)
	}
}

func TestAddStockRejectsSameLotNumberDifferentExpiration(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-2501", ExpirationDate: futureDate(6), Quantity: 40,
		})
		return err
	})
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-2501", ExpirationDate: futureDate(9), Quantity: 10,
		})
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on mismatched expiration, got %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 40 {
		t.Fatalf("expected total unchanged at 40, got %d", got)
	}
}

func TestAddStockValidation(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	cases := []struct {
		name string
		req  domain.AddStockRequest
	}{
		{"zero quantity", domain.AddStockRequest{ProductID: "prod-ibu", LotNumber: "L1", ExpirationDate: futureDate(3), Quantity: 0}},
		{"negative quantity", domain.AddStockRequest{ProductID: "prod-ibu", LotNumber: "L1", ExpirationDate: futureDate(3), Quantity: -5}},
		{"past expiration", domain.AddStockRequest{ProductID: "prod-ibu", LotNumber: "L1", ExpirationDate: "2020-01-01", Quantity: 10}},
		{"bad date format", domain.AddStockRequest{ProductID: "prod-ibu", LotNumber: "L1", ExpirationDate: "01/06/2027", Quantity: 10}},
		{"missing lot number", domain.AddStockRequest{ProductID: "prod-ibu", ExpirationDate: futureDate(3), Quantity: 10}},
	}
	for _, tc := range cases {
		err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
			_, err := ldg.AddStock(context.Background(), tx, tc.req)
			return err
		})
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestAddStockUnknownProduct(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()

	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-missing", LotNumber: "L1", ExpirationDate: futureDate(3), Quantity: 10,
		})
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDecrementLot(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	var lotID string
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		lot, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-2501", ExpirationDate: futureDate(6), Quantity: 30,
		})
		if err != nil {
			return err
		}
		lotID = lot.ID
		return nil
	})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		lot, err := ldg.DecrementLot(context.Background(), tx, lotID, 12)
		if err != nil {
			return err
		}
		if lot.Quantity != 18 {
			t.Fatalf("expected lot quantity 18, got %d", lot.Quantity)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 18 {
		t.Fatalf("expected total 18, got %d", got)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.DecrementLot(context.Background(), tx, lotID, 100)
		return err
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for over-decrement, got %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.DecrementLot(context.Background(), tx, lotID, 0)
		return err
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero quantity, got %v", err)
	}

	// Draining a lot to zero keeps it on record.
	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		if _, err := ldg.DecrementLot(context.Background(), tx, lotID, 18); err != nil {
			return err
		}
		lots, err := tx.ListLots(context.Background(), "prod-ibu", store.LotsByExpirationAsc)
		if err != nil {
			return err
		}
		if len(lots) != 1 || lots[0].Quantity != 0 {
			t.Fatalf("expected one lot at quantity zero, got %+v", lots)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drain failed: %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 0 {
		t.Fatalf("expected total 0, got %d", got)
	}
}

func TestUpdateLotOverwritesAndRecomputes(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	var lotID string
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		lot, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-2501", ExpirationDate: futureDate(6), Quantity: 30,
		})
		if err != nil {
			return err
		}
		lotID = lot.ID
		return nil
	})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		lot, err := ldg.UpdateLot(context.Background(), tx, domain.UpdateLotRequest{
			LotID: lotID, LotNumber: "IBU-2501-B", ExpirationDate: futureDate(12), Quantity: 55, UnitCostCents: 199,
		})
		if err != nil {
			return err
		}
		if lot.LotNumber != "IBU-2501-B" || lot.Quantity != 55 {
			t.Fatalf("unexpected lot after update: %+v", lot)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 55 {
		t.Fatalf("expected total 55, got %d", got)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.UpdateLot(context.Background(), tx, domain.UpdateLotRequest{
			LotID: lotID, LotNumber: "IBU-2501-B", ExpirationDate: futureDate(12), Quantity: -1,
		})
		return err
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}
}

func TestUpdateLotRejectsDuplicateLotNumber(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	var secondID string
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		if _, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-A", ExpirationDate: futureDate(3), Quantity: 20,
		}); err != nil {
			return err
		}
		b, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-B", ExpirationDate: futureDate(9), Quantity: 35,
		})
		if err != nil {
			return err
		}
		secondID = b.ID
		return nil
	})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.UpdateLot(context.Background(), tx, domain.UpdateLotRequest{
			LotID: secondID, LotNumber: "IBU-A", ExpirationDate: futureDate(9), Quantity: 35,
		})
		return err
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict renaming onto an existing lot number, got %v", err)
	}

	// Keeping its own number is not a rename and must still succeed.
	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		_, err := ldg.UpdateLot(context.Background(), tx, domain.UpdateLotRequest{
			LotID: secondID, LotNumber: "IBU-B", ExpirationDate: futureDate(9), Quantity: 40,
		})
		return err
	})
	if err != nil {
		t.Fatalf("expected same-number update to succeed, got %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 60 {
		t.Fatalf("expected total 60, got %d", got)
	}
}

func TestRemoveLotRecomputesTotal(t *testing.T) {
	repo := memory.New()
	ldg := newTestLedger()
	seedProduct(t, repo, "prod-ibu")

	var first string
	err := repo.WithinTx(context.Background(), func(tx store.Tx) error {
		a, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-A", ExpirationDate: futureDate(3), Quantity: 20,
		})
		if err != nil {
			return err
		}
		if _, err := ldg.AddStock(context.Background(), tx, domain.AddStockRequest{
			ProductID: "prod-ibu", LotNumber: "IBU-B", ExpirationDate: futureDate(9), Quantity: 35,
		}); err != nil {
			return err
		}
		first = a.ID
		return nil
	})
	if err != nil {
		t.Fatalf("add stock failed: %v", err)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		return ldg.RemoveLot(context.Background(), tx, first)
	})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if got := productTotal(t, repo, "prod-ibu"); got != 35 {
		t.Fatalf("expected total 35 after removal, got %d", got)
	}

	err = repo.WithinTx(context.Background(), func(tx store.Tx) error {
		return ldg.RemoveLot(context.Background(), tx, first)
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found on second removal, got %v", err)
	}
}
