package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/store"
)

func TestCheckoutDecrementsStockAllOrNothing(t *testing.T) {
	databaseURL := os.Getenv("GERAILINK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set GERAILINK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	orgID := fmt.Sprintf("org-it-%d", stamp)
	storeID := fmt.Sprintf("STOREIT%d", stamp)
	skuA := fmt.Sprintf("SKU-IT-A-%d", stamp)
	skuB := fmt.Sprintf("SKU-IT-B-%d", stamp)
	txID := fmt.Sprintf("TXN-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE transaction_id = $1`, txID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM catalogue_items WHERE organization_id = $1`, orgID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, orgID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, gst_number, status, created_at)
		VALUES ($1, 'IT Org', 'GST-IT-0001', 'active', now())
	`, orgID); err != nil {
		t.Fatalf("insert organization: %v", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stores (store_id, organization_id, name, email, gst_rate, discount_rate, status, created_at)
		VALUES ($1, $2, 'IT Store', $3, 10, 5, 'active', now())
	`, storeID, orgID, fmt.Sprintf("it-%d@example.com", stamp)); err != nil {
		t.Fatalf("insert store: %v", err)
	}
	for sku, stock := range map[string]int{skuA: 10, skuB: 1} {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO catalogue_items (sku, organization_id, item_name, price, stock, active, created_at, updated_at)
			VALUES ($1, $2, 'IT Item', '100', $3, true, now(), now())
		`, sku, orgID, stock); err != nil {
			t.Fatalf("seed catalogue: %v", err)
		}
	}

	sale := domain.Sale{
		TransactionID: txID,
		StoreID:       storeID,
		PaymentMethod: "cash",
		SubTotal:      decimal.RequireFromString("400"),
		GrandTotal:    decimal.RequireFromString("440"),
		GSTTotal:      decimal.RequireFromString("40"),
		DiscountTotal: decimal.Zero,
		CreatedAt:     time.Now().UTC(),
		Lines: []domain.SaleLine{
			{SKU: skuA, ItemName: "IT Item", Quantity: 2, PricePerUnit: decimal.RequireFromString("100"),
				Subtotal: decimal.RequireFromString("200"), GST: decimal.RequireFromString("20"), Total: decimal.RequireFromString("220")},
			{SKU: skuB, ItemName: "IT Item", Quantity: 2, PricePerUnit: decimal.RequireFromString("100"),
				Subtotal: decimal.RequireFromString("200"), GST: decimal.RequireFromString("20"), Total: decimal.RequireFromString("220")},
		},
	}

	_, err = s.CreateSale(ctx, sale)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	var stockA int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM catalogue_items WHERE organization_id = $1 AND sku = $2
	`, orgID, skuA).Scan(&stockA); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stockA != 10 {
		t.Fatalf("expected stock untouched at 10 after failed checkout, got %d", stockA)
	}

	sale.Lines[1].Quantity = 1
	if _, err := s.CreateSale(ctx, sale); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	var stockB int
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock FROM catalogue_items WHERE organization_id = $1 AND sku = $2
	`, orgID, skuB).Scan(&stockB); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if stockB != 0 {
		t.Fatalf("expected stock 0 after checkout, got %d", stockB)
	}
}
