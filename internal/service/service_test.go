package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gerailink/backend/internal/cache"
	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/mailer"
	"gerailink/backend/internal/pricing"
	"gerailink/backend/internal/store"
	"gerailink/backend/internal/store/memory"
	"gerailink/backend/internal/token"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	resolver := pricing.NewResolver(repo, cache.NoopPriceCache{}, 5*time.Second)
	tokens := token.NewIssuer("test-signup-secret", time.Hour)
	return New(repo, resolver, tokens, mailer.LogMailer{}), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func storeCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "toko1", Role: domain.RoleStore, StoreID: "STORE0001"})
}

type failingMailer struct{}

func (failingMailer) SendSignupInvite(_ context.Context, _ mailer.SignupInvite) error {
	return errors.New("smtp relay down")
}

func provisionTestStore(t *testing.T, svc *Service, email string, gstRate float64, discountRate float64) domain.ProvisionStoreResponse {
	t.Helper()
	resp, err := svc.ProvisionStore(adminCtx(), domain.ProvisionStoreRequest{
		OrganizationID: "org-demo",
		StoreName:      "Gerai Cabang",
		OwnerName:      "Pemilik Cabang",
		Email:          email,
		GSTRate:        gstRate,
		DiscountRate:   discountRate,
	})
	if err != nil {
		t.Fatalf("provision store failed: %v", err)
	}
	return resp
}

func TestCheckoutAppliesGSTAfterDiscount(t *testing.T) {
	svc, _ := newTestService()

	// A store with no default markup sells at catalogue price, which keeps
	// the arithmetic easy to verify by hand.
	prov := provisionTestStore(t, svc, "gst@gerai.example", 5, 0)

	_, err := svc.CreateCatalogueItem(adminCtx(), domain.CatalogueItemCreateRequest{
		OrganizationID: "org-demo",
		SKU:            "SKU-FLAT-01",
		ItemName:       "Barang Uji",
		Price:          "100",
		InitialStock:   10,
	})
	if err != nil {
		t.Fatalf("create catalogue item failed: %v", err)
	}

	resp, err := svc.Checkout(adminCtx(), domain.CheckoutRequest{
		StoreID:       prov.Store.StoreID,
		PaymentMethod: "cash",
		Lines: []domain.CartLine{
			{SKU: "SKU-FLAT-01", Quantity: 2, Discount: "10"},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if resp.SubTotal != "200.00" {
		t.Fatalf("expected sub total 200.00, got %s", resp.SubTotal)
	}
	if resp.GSTTotal != "9.50" {
		t.Fatalf("expected gst 9.50 on discounted base, got %s", resp.GSTTotal)
	}
	if resp.GrandTotal != "199.50" {
		t.Fatalf("expected grand total 199.50, got %s", resp.GrandTotal)
	}
	if !strings.HasPrefix(resp.TransactionID, "TXN-") {
		t.Fatalf("expected TXN- transaction id, got %s", resp.TransactionID)
	}
}

func TestCheckoutAllOrNothingKeepsStockIntact(t *testing.T) {
	svc, repo := newTestService()

	_, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: "STORE0001",
		Lines: []domain.CartLine{
			{SKU: "SKU-BERAS-01", Quantity: 1},
			{SKU: "SKU-SUSU-01", Quantity: 81},
		},
	})

	var stockErr *store.StockError
	if !errors.As(err, &stockErr) {
		t.Fatalf("expected stock error, got %v", err)
	}
	if len(stockErr.SKUs) != 1 || stockErr.SKUs[0] != "SKU-SUSU-01" {
		t.Fatalf("expected short SKU-SUSU-01, got %v", stockErr.SKUs)
	}
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected error to unwrap to ErrInsufficientStock")
	}

	item, err := repo.GetCatalogueItem(context.Background(), "org-demo", "SKU-BERAS-01")
	if err != nil {
		t.Fatalf("get catalogue item failed: %v", err)
	}
	if item.Stock != 120 {
		t.Fatalf("expected untouched stock 120 after failed checkout, got %d", item.Stock)
	}
}

func TestCheckoutRejectsUnknownSKU(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: "STORE0001",
		Lines: []domain.CartLine{
			{SKU: "SKU-ZZZ-01", Quantity: 1},
			{SKU: "SKU-AAA-01", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown SKU, got %v", err)
	}
}

func TestCheckoutRejectsDiscountAboveLineSubtotal(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: "STORE0001",
		Lines: []domain.CartLine{
			{SKU: "SKU-TEH-01", Quantity: 1, Discount: "99999999"},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckoutMergesDuplicateSKULines(t *testing.T) {
	svc, repo := newTestService()

	resp, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: "STORE0001",
		Lines: []domain.CartLine{
			{SKU: "SKU-TEH-01", Quantity: 1, Discount: "100"},
			{SKU: "sku-teh-01", Quantity: 2, Discount: "200"},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	if len(resp.Lines) != 1 {
		t.Fatalf("expected duplicate SKU lines to merge into one, got %d", len(resp.Lines))
	}
	line := resp.Lines[0]
	if line.SKU != "SKU-TEH-01" || line.Quantity != 3 {
		t.Fatalf("expected merged quantity 3 for SKU-TEH-01, got %d for %s", line.Quantity, line.SKU)
	}
	if line.Discount != "300.00" {
		t.Fatalf("expected merged discount 300.00, got %s", line.Discount)
	}
	// 3 x 10290 = 30870, minus 300 discount, plus 11 percent tax.
	if resp.GrandTotal != "33932.70" {
		t.Fatalf("expected grand total 33932.70, got %s", resp.GrandTotal)
	}

	item, err := repo.GetCatalogueItem(context.Background(), "org-demo", "SKU-TEH-01")
	if err != nil {
		t.Fatalf("get catalogue item failed: %v", err)
	}
	if item.Stock != 137 {
		t.Fatalf("expected stock decremented by the combined quantity, got %d", item.Stock)
	}
}

func TestCreateOrderMergesDuplicateSKULines(t *testing.T) {
	svc, _ := newTestService()

	order, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines: []domain.OrderLine{
			{SKU: "SKU-BERAS-01", Quantity: 1},
			{SKU: "SKU-KOPI-01", Quantity: 1},
			{SKU: "SKU-BERAS-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if len(order.Lines) != 2 {
		t.Fatalf("expected duplicate SKU lines to merge, got %d lines", len(order.Lines))
	}
	if order.Lines[0].SKU != "SKU-BERAS-01" || order.Lines[0].Quantity != 3 {
		t.Fatalf("expected merged quantity 3 for SKU-BERAS-01, got %+v", order.Lines[0])
	}
	if order.Lines[1].SKU != "SKU-KOPI-01" || order.Lines[1].Quantity != 1 {
		t.Fatalf("expected SKU-KOPI-01 quantity 1, got %+v", order.Lines[1])
	}
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	svc, repo := newTestService()

	// Seeded stock for SKU-MIE-01 is 60; ten workers demanding ten each can
	// satisfy at most six.
	const workers = 10
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, results[n] = svc.Checkout(storeCtx(), domain.CheckoutRequest{
				StoreID: "STORE0001",
				Lines: []domain.CartLine{
					{SKU: "SKU-MIE-01", Quantity: 10},
				},
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("unexpected checkout error: %v", results)
		}
	}
	if succeeded != 6 {
		t.Fatalf("expected exactly 6 checkouts to succeed, got %d", succeeded)
	}

	item, err := repo.GetCatalogueItem(context.Background(), "org-demo", "SKU-MIE-01")
	if err != nil {
		t.Fatalf("get catalogue item failed: %v", err)
	}
	if item.Stock != 0 {
		t.Fatalf("expected stock fully drained, got %d", item.Stock)
	}
}

func TestQuotePriceSourcePrecedence(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.UpsertPriceOverride(adminCtx(), domain.PriceOverrideRequest{
		StoreID:       "STORE0001",
		SKU:           "SKU-BERAS-01",
		OverridePrice: "65000",
	}); err != nil {
		t.Fatalf("set absolute override failed: %v", err)
	}
	if _, err := svc.UpsertPriceOverride(adminCtx(), domain.PriceOverrideRequest{
		StoreID:     "STORE0001",
		SKU:         "SKU-GULA-01",
		MarginType:  domain.MarginTypePercentage,
		MarginValue: "10",
	}); err != nil {
		t.Fatalf("set margin override failed: %v", err)
	}

	quote, err := svc.QuotePrice(storeCtx(), domain.PriceQuoteRequest{StoreID: "STORE0001", SKU: "SKU-BERAS-01"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.Source != domain.PriceSourceOverride || pricing.Display(quote.SellPrice) != "65000.00" {
		t.Fatalf("expected absolute override 65000.00, got %s from %s", pricing.Display(quote.SellPrice), quote.Source)
	}

	quote, err = svc.QuotePrice(storeCtx(), domain.PriceQuoteRequest{StoreID: "STORE0001", SKU: "SKU-GULA-01"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.Source != domain.PriceSourceMargin || pricing.Display(quote.SellPrice) != "19140.00" {
		t.Fatalf("expected 10%% margin 19140.00, got %s from %s", pricing.Display(quote.SellPrice), quote.Source)
	}

	quote, err = svc.QuotePrice(storeCtx(), domain.PriceQuoteRequest{StoreID: "STORE0001", SKU: "SKU-TEH-01"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if quote.Source != domain.PriceSourceDefault || pricing.Display(quote.SellPrice) != "10290.00" {
		t.Fatalf("expected store default 10290.00, got %s from %s", pricing.Display(quote.SellPrice), quote.Source)
	}
}

type recordingPriceCache struct {
	entries map[string]*domain.PriceQuote
}

func (c *recordingPriceCache) Get(_ context.Context, key string) (*domain.PriceQuote, bool, error) {
	quote, ok := c.entries[key]
	return quote, ok, nil
}

func (c *recordingPriceCache) Set(_ context.Context, key string, value *domain.PriceQuote, _ time.Duration) error {
	c.entries[key] = value
	return nil
}

func (c *recordingPriceCache) Delete(_ context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func TestUpsertPriceOverrideInvalidatesCachedQuote(t *testing.T) {
	repo := memory.NewSeeded()
	cacheStore := &recordingPriceCache{entries: make(map[string]*domain.PriceQuote)}
	resolver := pricing.NewResolver(repo, cacheStore, time.Hour)
	tokens := token.NewIssuer("test-signup-secret", time.Hour)
	svc := New(repo, resolver, tokens, mailer.LogMailer{})

	before, err := svc.QuotePrice(storeCtx(), domain.PriceQuoteRequest{StoreID: "STORE0001", SKU: "SKU-KOPI-01"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if before.Source != domain.PriceSourceDefault {
		t.Fatalf("expected store default before the override, got %s", before.Source)
	}
	if len(cacheStore.entries) != 1 {
		t.Fatalf("expected the quote to be cached")
	}

	if _, err := svc.UpsertPriceOverride(adminCtx(), domain.PriceOverrideRequest{
		StoreID:       "STORE0001",
		SKU:           "SKU-KOPI-01",
		OverridePrice: "20000",
	}); err != nil {
		t.Fatalf("set override failed: %v", err)
	}

	// With an hour-long TTL only the invalidation can make the new override
	// visible immediately.
	after, err := svc.QuotePrice(storeCtx(), domain.PriceQuoteRequest{StoreID: "STORE0001", SKU: "SKU-KOPI-01"})
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if after.Source != domain.PriceSourceOverride || pricing.Display(after.SellPrice) != "20000.00" {
		t.Fatalf("expected the fresh override price, got %s from %s", pricing.Display(after.SellPrice), after.Source)
	}
}

func TestProvisionStoreAllocatesUniqueIDsConcurrently(t *testing.T) {
	svc, _ := newTestService()

	const workers = 20
	var wg sync.WaitGroup
	ids := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := svc.ProvisionStore(adminCtx(), domain.ProvisionStoreRequest{
				OrganizationID: "org-demo",
				StoreName:      fmt.Sprintf("Gerai %d", n),
				OwnerName:      "Pemilik",
				Email:          fmt.Sprintf("owner%d@gerai.example", n),
				GSTRate:        11,
				DiscountRate:   5,
			})
			if err != nil {
				t.Errorf("provision %d failed: %v", n, err)
				return
			}
			ids[n] = resp.Store.StoreID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, workers)
	for _, id := range ids {
		if id == "" {
			continue
		}
		if seen[id] {
			t.Fatalf("duplicate store id allocated: %s", id)
		}
		if !strings.HasPrefix(id, "STORE") {
			t.Fatalf("unexpected store id format: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != workers {
		t.Fatalf("expected %d distinct store ids, got %d", workers, len(seen))
	}
}

func TestProvisionStoreRejectsActiveEmailWithConflict(t *testing.T) {
	svc, repo := newTestService()

	provisionTestStore(t, svc, "owner@gerai.example", 11, 5)

	user, err := repo.GetStoreUserByEmail(context.Background(), "owner@gerai.example")
	if err != nil {
		t.Fatalf("get store user failed: %v", err)
	}
	if _, err := svc.CompleteSignup(context.Background(), domain.SignupCompleteRequest{
		Token:    user.SignupToken,
		Password: "rahasia-aman-123",
	}); err != nil {
		t.Fatalf("complete signup failed: %v", err)
	}

	_, err = svc.ProvisionStore(adminCtx(), domain.ProvisionStoreRequest{
		OrganizationID: "org-demo",
		StoreName:      "Gerai Kedua",
		OwnerName:      "Pemilik Lain",
		Email:          "owner@gerai.example",
		GSTRate:        11,
		DiscountRate:   5,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for active email, got %v", err)
	}
}

func TestProvisionStoreRelinksPendingUser(t *testing.T) {
	svc, repo := newTestService()

	first := provisionTestStore(t, svc, "pending@gerai.example", 11, 5)
	firstUser, err := repo.GetStoreUserByEmail(context.Background(), "pending@gerai.example")
	if err != nil {
		t.Fatalf("get store user failed: %v", err)
	}
	staleToken := firstUser.SignupToken

	second := provisionTestStore(t, svc, "pending@gerai.example", 11, 5)
	if second.UserState != domain.ProvisionUserRelinked {
		t.Fatalf("expected relinked user state, got %s", second.UserState)
	}
	if second.UserID != first.UserID {
		t.Fatalf("expected relink to keep the user id %s, got %s", first.UserID, second.UserID)
	}
	if second.Store.StoreID == first.Store.StoreID {
		t.Fatalf("expected a fresh store id on relink")
	}

	relinked, err := repo.GetStoreUserByEmail(context.Background(), "pending@gerai.example")
	if err != nil {
		t.Fatalf("get store user failed: %v", err)
	}
	if relinked.StoreID != second.Store.StoreID {
		t.Fatalf("expected user pointed at %s, got %s", second.Store.StoreID, relinked.StoreID)
	}
	if relinked.SignupToken == staleToken {
		t.Fatalf("expected a fresh signup token on relink")
	}

	// The invite sent for the first store must stop working.
	if _, err := svc.CompleteSignup(context.Background(), domain.SignupCompleteRequest{
		Token:    staleToken,
		Password: "rahasia-aman-123",
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected stale token to be rejected, got %v", err)
	}
}

func TestProvisionStoreSurvivesEmailFailure(t *testing.T) {
	repo := memory.NewSeeded()
	resolver := pricing.NewResolver(repo, cache.NoopPriceCache{}, 5*time.Second)
	tokens := token.NewIssuer("test-signup-secret", time.Hour)
	svc := New(repo, resolver, tokens, failingMailer{})

	resp, err := svc.ProvisionStore(adminCtx(), domain.ProvisionStoreRequest{
		OrganizationID: "org-demo",
		StoreName:      "Gerai Tanpa Surat",
		OwnerName:      "Pemilik",
		Email:          "nomail@gerai.example",
		GSTRate:        11,
		DiscountRate:   5,
	})
	if err != nil {
		t.Fatalf("expected provisioning to survive a failed invite, got %v", err)
	}
	if resp.EmailSent {
		t.Fatalf("expected email_sent=false when the mailer fails")
	}

	if _, err := repo.GetStore(context.Background(), resp.Store.StoreID); err != nil {
		t.Fatalf("expected store to be committed despite mail failure: %v", err)
	}
}

func TestProvisionStoreRequiresAdminRole(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.ProvisionStore(storeCtx(), domain.ProvisionStoreRequest{
		OrganizationID: "org-demo",
		StoreName:      "Gerai Liar",
		OwnerName:      "Pemilik",
		Email:          "liar@gerai.example",
		GSTRate:        11,
	})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin role requirement, got %v", err)
	}
}

func TestCompleteSignupActivatesLoginAccount(t *testing.T) {
	svc, repo := newTestService()

	provisionTestStore(t, svc, "login@gerai.example", 11, 5)
	user, err := repo.GetStoreUserByEmail(context.Background(), "login@gerai.example")
	if err != nil {
		t.Fatalf("get store user failed: %v", err)
	}

	resp, err := svc.CompleteSignup(context.Background(), domain.SignupCompleteRequest{
		Token:    user.SignupToken,
		Password: "rahasia-aman-123",
	})
	if err != nil {
		t.Fatalf("complete signup failed: %v", err)
	}
	if resp.Status != domain.UserStatusActive {
		t.Fatalf("expected active status, got %s", resp.Status)
	}

	accounts, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	found := false
	for _, account := range accounts {
		if account.Username == "login@gerai.example" && account.Role == domain.RoleStore {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a store login account for the activated user")
	}

	// The token is single-use.
	if _, err := svc.CompleteSignup(context.Background(), domain.SignupCompleteRequest{
		Token:    user.SignupToken,
		Password: "rahasia-aman-123",
	}); err == nil {
		t.Fatalf("expected second signup completion to fail")
	}
}

func TestApproveOrderMintsInvoiceExactlyOnce(t *testing.T) {
	svc, repo := newTestService()

	order, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines: []domain.OrderLine{
			{SKU: "SKU-BERAS-01", Quantity: 2},
			{SKU: "SKU-KOPI-01", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	first, err := svc.ApproveOrder(adminCtx(), order.ID, "disetujui")
	if err != nil {
		t.Fatalf("approve order failed: %v", err)
	}
	if first.Order.Status != domain.OrderStatusApproved {
		t.Fatalf("expected approved status, got %s", first.Order.Status)
	}
	if first.Invoice == nil {
		t.Fatalf("expected an invoice on approval")
	}
	// Catalogue cost: 2 x 68000 + 1 x 24500.
	if pricing.Display(first.Invoice.Amount) != "160500.00" {
		t.Fatalf("expected invoice amount 160500.00, got %s", pricing.Display(first.Invoice.Amount))
	}
	if !strings.HasPrefix(first.Invoice.InvoiceNo, "BILL-") {
		t.Fatalf("expected BILL- invoice number, got %s", first.Invoice.InvoiceNo)
	}

	second, err := svc.ApproveOrder(adminCtx(), order.ID, "disetujui lagi")
	if err != nil {
		t.Fatalf("re-approval should be idempotent, got %v", err)
	}
	if second.Invoice == nil || second.Invoice.ID != first.Invoice.ID {
		t.Fatalf("expected re-approval to return the original invoice")
	}

	invoices, err := repo.ListInvoices(context.Background(), "STORE0001", 50)
	if err != nil {
		t.Fatalf("list invoices failed: %v", err)
	}
	if len(invoices) != 1 {
		t.Fatalf("expected exactly one invoice, got %d", len(invoices))
	}
}

func TestApproveOrderNamesEveryMissingSKU(t *testing.T) {
	svc, _ := newTestService()

	order, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines: []domain.OrderLine{
			{SKU: "SKU-HILANG-02", Quantity: 1},
			{SKU: "SKU-HILANG-01", Quantity: 3},
			{SKU: "SKU-BERAS-01", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	_, err = svc.ApproveOrder(adminCtx(), order.ID, "")
	var gapErr *store.CatalogueGapError
	if !errors.As(err, &gapErr) {
		t.Fatalf("expected catalogue gap error, got %v", err)
	}
	if len(gapErr.SKUs) != 2 || gapErr.SKUs[0] != "SKU-HILANG-01" || gapErr.SKUs[1] != "SKU-HILANG-02" {
		t.Fatalf("expected both missing SKUs sorted, got %v", gapErr.SKUs)
	}
}

func TestOrderLifecycleTransitions(t *testing.T) {
	svc, _ := newTestService()

	order, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines:   []domain.OrderLine{{SKU: "SKU-SABUN-01", Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// A pending order cannot be fulfilled.
	if _, err := svc.FulfillOrder(adminCtx(), order.ID, ""); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict fulfilling a pending order, got %v", err)
	}

	// Rejection requires a note.
	if _, err := svc.RejectOrder(adminCtx(), order.ID, "  "); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty rejection note, got %v", err)
	}

	rejected, err := svc.RejectOrder(adminCtx(), order.ID, "stok pusat kosong")
	if err != nil {
		t.Fatalf("reject order failed: %v", err)
	}
	if rejected.Status != domain.OrderStatusRejected || rejected.AdminNote != "stok pusat kosong" {
		t.Fatalf("expected rejected order with note, got %+v", rejected)
	}

	// A rejected order cannot be approved afterwards.
	if _, err := svc.ApproveOrder(adminCtx(), order.ID, ""); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict approving a rejected order, got %v", err)
	}

	second, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines:   []domain.OrderLine{{SKU: "SKU-SABUN-01", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.ApproveOrder(adminCtx(), second.ID, ""); err != nil {
		t.Fatalf("approve order failed: %v", err)
	}
	fulfilled, err := svc.FulfillOrder(adminCtx(), second.ID, "dikirim")
	if err != nil {
		t.Fatalf("fulfill order failed: %v", err)
	}
	if fulfilled.Status != domain.OrderStatusFulfilled {
		t.Fatalf("expected fulfilled status, got %s", fulfilled.Status)
	}
}

func TestListOrdersScopesStoreActorToOwnStore(t *testing.T) {
	svc, _ := newTestService()

	other := provisionTestStore(t, svc, "cabang@gerai.example", 11, 5)
	if _, err := svc.CreateOrder(adminCtx(), domain.OrderCreateRequest{
		StoreID: other.Store.StoreID,
		Lines:   []domain.OrderLine{{SKU: "SKU-TEH-01", Quantity: 1}},
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if _, err := svc.CreateOrder(storeCtx(), domain.OrderCreateRequest{
		StoreID: "STORE0001",
		Lines:   []domain.OrderLine{{SKU: "SKU-TEH-01", Quantity: 2}},
	}); err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	// A store actor asking for another store's orders still only sees its own.
	orders, err := svc.ListOrders(storeCtx(), other.Store.StoreID, "", 50)
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	for _, order := range orders {
		if order.StoreID != "STORE0001" {
			t.Fatalf("store actor leaked order for %s", order.StoreID)
		}
	}
	if len(orders) != 1 {
		t.Fatalf("expected one own order, got %d", len(orders))
	}

	all, err := svc.ListOrders(adminCtx(), "", "", 50)
	if err != nil {
		t.Fatalf("list orders failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected admin to see both orders, got %d", len(all))
	}
}

func TestIssueSaleInvoiceSnapshotsOrganization(t *testing.T) {
	svc, _ := newTestService()

	sale, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: "STORE0001",
		Lines:   []domain.CartLine{{SKU: "SKU-KOPI-01", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	invoice, err := svc.IssueSaleInvoice(storeCtx(), sale.TransactionID)
	if err != nil {
		t.Fatalf("issue sale invoice failed: %v", err)
	}
	if invoice.Kind != domain.InvoiceKindSale {
		t.Fatalf("expected sale invoice kind, got %s", invoice.Kind)
	}
	if !strings.HasPrefix(invoice.InvoiceNo, "INV-") {
		t.Fatalf("expected INV- invoice number, got %s", invoice.InvoiceNo)
	}
	if invoice.GSTNumber != "GST-1203-4455" || invoice.OrganizationName != "Gerai Nusantara" {
		t.Fatalf("expected organization snapshot on invoice, got %s / %s", invoice.OrganizationName, invoice.GSTNumber)
	}
}

func TestCheckoutBlocksForeignStoreActor(t *testing.T) {
	svc, _ := newTestService()

	other := provisionTestStore(t, svc, "asing@gerai.example", 11, 5)

	_, err := svc.Checkout(storeCtx(), domain.CheckoutRequest{
		StoreID: other.Store.StoreID,
		Lines:   []domain.CartLine{{SKU: "SKU-TEH-01", Quantity: 1}},
	})
	if err == nil || !strings.Contains(err.Error(), "not permitted") {
		t.Fatalf("expected store role to be blocked, got %v", err)
	}
}
