package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DenisArango/DENGO-POS-sub000/internal/cache"
	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
	"github.com/DenisArango/DENGO-POS-sub000/internal/service"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store/memory"
)

const cartURL = "/api/v1/stores/main-store/terminals/t1/cart"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopCartStore{}, "main-store", time.Hour)
	auth := NewAuthManager("test-secret-key-test-secret-key!", time.Hour, repo)

	return New(svc, auth, "*")
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func quantity(n int) *int {
	return &n
}

func decodeCart(t *testing.T, rec *httptest.ResponseRecorder) domain.CartView {
	t.Helper()
	var view domain.CartView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	return view
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)

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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "admin123"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" || body.Role != domain.RoleAdmin {
		t.Fatalf("unexpected login response %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", "", nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleProducts_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/v1/products", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) != 6 {
		t.Fatalf("expected 6 active products, got %d", len(body.Products))
	}
}

func TestHandleProductByBarcode(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products/barcode/7411000311021", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/products/barcode/0000", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown barcode, got %d", rec.Code)
	}
}

func TestCartFlowCashCheckout(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, cartURL+"/items", token, domain.AddItemRequest{ProductID: "prod-coke"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add coke: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, cartURL+"/items", token, domain.AddItemRequest{Barcode: "7411000311021", Quantity: quantity(2)})
	if rec.Code != http.StatusOK {
		t.Fatalf("add chips: %d %s", rec.Code, rec.Body.String())
	}
	view := decodeCart(t, rec)
	if !view.Total.Equal(decimal.NewFromInt(52)) || view.ItemCount != 3 {
		t.Fatalf("expected total 52 and 3 units, got %s / %d", view.Total, view.ItemCount)
	}

	rec = doJSON(t, handler, http.MethodPatch, cartURL+"/items/prod-coke", token, domain.UpdateQuantityRequest{Quantity: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("update quantity: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPatch, cartURL+"/items/prod-coke", token, domain.UpdateQuantityRequest{Quantity: 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero quantity, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, cartURL+"/items/prod-chips/discount", token, domain.SetDiscountRequest{
		Discount: &domain.Discount{Kind: domain.DiscountAmount, Value: decimal.NewFromInt(7)},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set discount: %d %s", rec.Code, rec.Body.String())
	}
	view = decodeCart(t, rec)
	if !view.Total.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected discounted total 60, got %s", view.Total)
	}

	rec = doJSON(t, handler, http.MethodPost, cartURL+"/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: "http-idem-1",
		CashReceived:   decimal.NewFromInt(100),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.CheckoutResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	if !resp.Sale.Change.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected change 40, got %s", resp.Sale.Change)
	}
	if resp.Sale.CashierName != "cashier" {
		t.Fatalf("expected cashier name from token, got %q", resp.Sale.CashierName)
	}

	rec = doJSON(t, handler, http.MethodGet, cartURL, token, nil)
	if view := decodeCart(t, rec); len(view.Items) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d lines", len(view.Items))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/sales/idempotency/http-idem-1", token, nil)
	var lookup domain.SaleLookupResponse
	if err := json.NewDecoder(rec.Body).Decode(&lookup); err != nil {
		t.Fatalf("decode lookup: %v", err)
	}
	if !lookup.Found || lookup.Sale.ID != resp.Sale.ID {
		t.Fatalf("expected lookup to find sale %s, got %+v", resp.Sale.ID, lookup)
	}
}

func TestAddItemRejectsExplicitZeroAndOversizedQuantity(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, cartURL+"/items", token, map[string]any{"product_id": "prod-coke", "quantity": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for explicit zero quantity, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, cartURL+"/items", token, map[string]any{
		"product_id":   "prod-coke",
		"variation_id": "coke-box24",
		"quantity":     math.MaxInt/24 + 1,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized quantity, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, cartURL, token, nil)
	if view := decodeCart(t, rec); len(view.Items) != 0 {
		t.Fatalf("expected rejected adds to leave the cart empty, got %d lines", len(view.Items))
	}
}

func TestCheckoutErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPost, cartURL+"/checkout", token, domain.CheckoutRequest{IdempotencyKey: "e-1"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for empty cart, got %d", rec.Code)
	}

	doJSON(t, handler, http.MethodPost, cartURL+"/items", token, domain.AddItemRequest{ProductID: "prod-soap", Quantity: quantity(10)})
	rec = doJSON(t, handler, http.MethodPost, cartURL+"/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: "e-2",
		CashReceived:   decimal.NewFromInt(100),
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, cartURL+"/checkout", token, domain.CheckoutRequest{
		IdempotencyKey: "e-3",
		CashReceived:   decimal.NewFromInt(1),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for short cash, got %d", rec.Code)
	}
}

func TestCreditSaleTypeRequiresEligibleCustomer(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodPut, cartURL+"/sale-type", token, domain.SetSaleTypeRequest{SaleType: domain.SaleTypeCredit})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 without customer, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, cartURL+"/customer", token, domain.SetCustomerRequest{CustomerID: "cust-001"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set customer: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPut, cartURL+"/sale-type", token, domain.SetSaleTypeRequest{SaleType: domain.SaleTypeCredit})
	if rec.Code != http.StatusOK {
		t.Fatalf("set credit: %d %s", rec.Code, rec.Body.String())
	}
	if view := decodeCart(t, rec); view.SaleType != domain.SaleTypeCredit {
		t.Fatalf("expected CREDIT, got %s", view.SaleType)
	}

	rec = doJSON(t, handler, http.MethodPut, cartURL+"/customer", token, domain.SetCustomerRequest{CustomerID: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, cartURL, token, nil)
	if view := decodeCart(t, rec); view.SaleType != domain.SaleTypeCash || view.Customer != nil {
		t.Fatalf("expected reset cart, got %+v", view)
	}
}

func TestRemoveItemAndUnknownStore(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	doJSON(t, handler, http.MethodPost, cartURL+"/items", token, domain.AddItemRequest{ProductID: "prod-rice", Quantity: quantity(3)})
	rec := doJSON(t, handler, http.MethodDelete, cartURL+"/items/prod-rice", token, nil)
	if view := decodeCart(t, rec); len(view.Items) != 0 {
		t.Fatalf("expected item removed, got %d lines", len(view.Items))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stores/nowhere/terminals/t1/cart", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown store, got %d", rec.Code)
	}
}

func TestInventoryAndCustomersEndpoints(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	handler := api.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/stores/main-store/inventory", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("inventory: %d %s", rec.Code, rec.Body.String())
	}
	var inventory domain.InventoryResponse
	if err := json.NewDecoder(rec.Body).Decode(&inventory); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	if inventory.StoreID != "main-store" || len(inventory.Items) == 0 {
		t.Fatalf("unexpected inventory %+v", inventory)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers?q=rosa", token, nil)
	var customers struct {
		Customers []domain.Customer `json:"customers"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&customers); err != nil {
		t.Fatalf("decode customers: %v", err)
	}
	if len(customers.Customers) != 1 || customers.Customers[0].ID != "cust-002" {
		t.Fatalf("unexpected customers %+v", customers.Customers)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/customers/cust-002/credit", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("credit: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminOnlyEndpoints(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	cashierToken := loginAs(t, api, "cashier", "cashier123")
	adminToken := loginAs(t, api, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", cashierToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/audit-logs", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{Username: "cajero02", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cashier: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/users/cashiers", adminToken, domain.CashierCreateRequest{Username: "cajero02", Password: "pass1234"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate cashier, got %d", rec.Code)
	}

	if token := loginAs(t, api, "cajero02", "pass1234"); token == "" {
		t.Fatalf("expected new cashier to log in")
	}
}
