package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gerailink/backend/internal/cache"
	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/mailer"
	"gerailink/backend/internal/pricing"
	"gerailink/backend/internal/service"
	"gerailink/backend/internal/store/memory"
	"gerailink/backend/internal/token"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	resolver := pricing.NewResolver(repo, cache.NoopPriceCache{}, 5*time.Second)
	tokens := token.NewIssuer("test-signup-secret", time.Hour)
	svc := service.New(repo, resolver, tokens, mailer.LogMailer{})
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*"), repo
}

// doJSON performs a request against the handler, attaching the bearer token
// and a valid CSRF token for mutating methods.
func doJSON(t *testing.T, api *API, handler http.Handler, method, path, bearer string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func loginAs(t *testing.T, api *API, handler http.Handler, username, password string) string {
	t.Helper()

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d %s", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleCheckout_RequiresAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/checkout", "", map[string]any{
		"store_id": "STORE0001",
		"lines":    []map[string]any{{"sku": "SKU-TEH-01", "quantity": 1}},
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleCheckout_Success(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "toko1", "store123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/checkout", bearer, map[string]any{
		"store_id": "STORE0001",
		"lines":    []map[string]any{{"sku": "SKU-TEH-01", "quantity": 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// SKU-TEH-01 costs 9800 and the store default markup is 5 percent, so one
	// unit sells at 10290 plus 11 percent tax.
	if resp.SubTotal != "10290.00" {
		t.Fatalf("expected sub total 10290.00, got %s", resp.SubTotal)
	}
	if resp.GrandTotal != "11421.90" {
		t.Fatalf("expected grand total 11421.90, got %s", resp.GrandTotal)
	}
	if resp.TransactionID == "" {
		t.Fatalf("expected a transaction id")
	}

	// The sale is readable afterwards.
	get := doJSON(t, api, handler, http.MethodGet, "/api/v1/sales/"+resp.TransactionID, bearer, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching the sale, got %d (body: %s)", get.Code, get.Body.String())
	}
}

func TestHandleCheckout_InsufficientStockNamesSKUs(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "toko1", "store123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/checkout", bearer, map[string]any{
		"store_id": "STORE0001",
		"lines":    []map[string]any{{"sku": "SKU-SUSU-01", "quantity": 81}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Error string   `json:"error"`
		SKUs  []string `json:"skus"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.SKUs) != 1 || body.SKUs[0] != "SKU-SUSU-01" {
		t.Fatalf("expected short SKU-SUSU-01 in response, got %v", body.SKUs)
	}
}

func TestHandleProvisionStore_RequiresAdminRole(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "toko1", "store123")

	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/stores/provision", bearer, map[string]any{
		"organization_id": "org-demo",
		"store_name":      "Gerai Baru",
		"owner_name":      "Pemilik",
		"email":           "baru@gerai.example",
		"gst_rate":        11,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProvisionStore_ConflictBodyDoesNotLeakEmail(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "admin", "admin123")

	provision := map[string]any{
		"organization_id": "org-demo",
		"store_name":      "Gerai Baru",
		"owner_name":      "Pemilik",
		"email":           "pemilik@gerai.example",
		"gst_rate":        11,
	}
	rec := doJSON(t, api, handler, http.MethodPost, "/api/v1/stores/provision", bearer, provision)
	if rec.Code != http.StatusCreated {
		t.Fatalf("provision failed: %d %s", rec.Code, rec.Body.String())
	}

	// Activate the owner through the public signup endpoint, using the token
	// the mailer would have delivered.
	user, err := repo.GetStoreUserByEmail(context.Background(), "pemilik@gerai.example")
	if err != nil {
		t.Fatalf("get store user: %v", err)
	}
	signup := doJSON(t, api, handler, http.MethodPost, "/api/v1/auth/signup/complete", "", map[string]string{
		"token":    user.SignupToken,
		"password": "rahasia-aman-123",
	})
	if signup.Code != http.StatusOK {
		t.Fatalf("signup completion failed: %d %s", signup.Code, signup.Body.String())
	}

	// Re-provisioning the now-active email conflicts, and the body must not
	// say why.
	rec = doJSON(t, api, handler, http.MethodPost, "/api/v1/stores/provision", bearer, provision)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "conflict" {
		t.Fatalf("expected opaque conflict body, got %v", body)
	}
}

func TestHandleOrders_ApprovalMintsInvoice(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	storeBearer := loginAs(t, api, handler, "toko1", "store123")
	adminBearer := loginAs(t, api, handler, "admin", "admin123")

	created := doJSON(t, api, handler, http.MethodPost, "/api/v1/orders", storeBearer, map[string]any{
		"store_id": "STORE0001",
		"lines":    []map[string]any{{"sku": "SKU-BERAS-01", "quantity": 2}},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create order failed: %d %s", created.Code, created.Body.String())
	}
	var createdBody struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(created.Body).Decode(&createdBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	approvePath := fmt.Sprintf("/api/v1/orders/%s/approve", createdBody.Order.ID)
	approved := doJSON(t, api, handler, http.MethodPost, approvePath, adminBearer, nil)
	if approved.Code != http.StatusOK {
		t.Fatalf("approve failed: %d %s", approved.Code, approved.Body.String())
	}
	var approvedBody domain.OrderResponse
	if err := json.NewDecoder(approved.Body).Decode(&approvedBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if approvedBody.Order.Status != domain.OrderStatusApproved || approvedBody.Invoice == nil {
		t.Fatalf("expected approved order with invoice, got %+v", approvedBody)
	}

	// Approving again returns the same invoice instead of minting another.
	again := doJSON(t, api, handler, http.MethodPost, approvePath, adminBearer, nil)
	if again.Code != http.StatusOK {
		t.Fatalf("re-approve failed: %d %s", again.Code, again.Body.String())
	}
	var againBody domain.OrderResponse
	if err := json.NewDecoder(again.Body).Decode(&againBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if againBody.Invoice == nil || againBody.Invoice.ID != approvedBody.Invoice.ID {
		t.Fatalf("expected the original invoice on re-approval")
	}

	listed := doJSON(t, api, handler, http.MethodGet, "/api/v1/invoices?store_id=STORE0001", adminBearer, nil)
	if listed.Code != http.StatusOK {
		t.Fatalf("list invoices failed: %d %s", listed.Code, listed.Body.String())
	}
	var listBody domain.InvoiceListResponse
	if err := json.NewDecoder(listed.Body).Decode(&listBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(listBody.Invoices) != 1 || listBody.Invoices[0].ID != approvedBody.Invoice.ID {
		t.Fatalf("expected the minted invoice in the listing, got %+v", listBody.Invoices)
	}
}

func TestHandleOrders_MissingCatalogueEntriesListed(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	storeBearer := loginAs(t, api, handler, "toko1", "store123")
	adminBearer := loginAs(t, api, handler, "admin", "admin123")

	created := doJSON(t, api, handler, http.MethodPost, "/api/v1/orders", storeBearer, map[string]any{
		"store_id": "STORE0001",
		"lines": []map[string]any{
			{"sku": "SKU-HILANG-02", "quantity": 1},
			{"sku": "SKU-HILANG-01", "quantity": 1},
		},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create order failed: %d %s", created.Code, created.Body.String())
	}
	var createdBody struct {
		Order domain.Order `json:"order"`
	}
	if err := json.NewDecoder(created.Body).Decode(&createdBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	approved := doJSON(t, api, handler, http.MethodPost, "/api/v1/orders/"+createdBody.Order.ID+"/approve", adminBearer, nil)
	if approved.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", approved.Code, approved.Body.String())
	}
	var body struct {
		SKUs []string `json:"skus"`
	}
	if err := json.NewDecoder(approved.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.SKUs) != 2 || body.SKUs[0] != "SKU-HILANG-01" || body.SKUs[1] != "SKU-HILANG-02" {
		t.Fatalf("expected both missing SKUs sorted, got %v", body.SKUs)
	}
}

func TestHandleOrders_UnknownOrderReturns404(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "admin", "admin123")

	rec := doJSON(t, api, handler, http.MethodGet, "/api/v1/orders/ord-tidak-ada", bearer, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandlePriceQuote_ReturnsSource(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	bearer := loginAs(t, api, handler, "toko1", "store123")

	rec := doJSON(t, api, handler, http.MethodGet, "/api/v1/pricing/quote?store_id=STORE0001&sku=SKU-TEH-01", bearer, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var quote domain.PriceQuote
	if err := json.NewDecoder(rec.Body).Decode(&quote); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if quote.Source != domain.PriceSourceDefault {
		t.Fatalf("expected store default source, got %s", quote.Source)
	}
}
