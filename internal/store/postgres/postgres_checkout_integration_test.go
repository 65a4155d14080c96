package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store"
)

func TestCommitSaleDecrementsStockAndReplays(t *testing.T) {
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stamp := time.Now().UnixNano()
	storeID := fmt.Sprintf("store-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	variationID := fmt.Sprintf("var-it-%d", stamp)
	customerID := fmt.Sprintf("cust-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id IN (SELECT id FROM sales WHERE store_id = $1)`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_stocks WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM product_variations WHERE id = $1`, variationID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, customerID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, storeID)
	})

	seed := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO stores (id, name) VALUES ($1, 'IT Store')`, []any{storeID}},
		{`INSERT INTO products (id, name, category, price) VALUES ($1, 'IT Soda', 'drinks', 15)`, []any{productID}},
		{`INSERT INTO product_variations (id, product_id, name, factor, price) VALUES ($1, $2, 'Box 24', 24, 330)`, []any{variationID, productID}},
		{`INSERT INTO inventory_stocks (store_id, product_id, qty) VALUES ($1, $2, 50)`, []any{storeID, productID}},
		{`INSERT INTO customers (id, name, nit, credit_limit, credit_used) VALUES ($1, 'IT Customer', '123', 500, 100)`, []any{customerID}},
	}
	for _, stmt := range seed {
		if _, err := s.db.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if len(p.Variations) != 1 || p.Variations[0].Factor != 24 {
		t.Fatalf("expected one box variation, got %+v", p.Variations)
	}

	sale := domain.Sale{
		StoreID:        storeID,
		TerminalID:     "T-IT",
		IdempotencyKey: idempotencyKey,
		SaleType:       domain.SaleTypeCredit,
		CustomerID:     customerID,
		CashierName:    "it",
		Total:          decimal.NewFromInt(345),
		ItemCount:      2,
		Lines: []domain.SaleLine{
			{ProductID: productID, ProductName: "IT Soda", VariationID: variationID, Factor: 24, Quantity: 1, UnitPrice: decimal.NewFromInt(330), LineTotal: decimal.NewFromInt(330)},
			{ProductID: productID, ProductName: "IT Soda", Factor: 1, Quantity: 1, UnitPrice: decimal.NewFromInt(15), LineTotal: decimal.NewFromInt(15)},
		},
	}

	saved, dup, err := s.CommitSale(ctx, sale)
	if err != nil {
		t.Fatalf("commit sale: %v", err)
	}
	if dup {
		t.Fatalf("first commit must not be a duplicate")
	}

	stock, err := s.GetStockMap(ctx, storeID, []string{productID})
	if err != nil {
		t.Fatalf("stock map: %v", err)
	}
	if stock[productID] != 25 {
		t.Fatalf("expected stock 25 after 25 base units sold, got %d", stock[productID])
	}

	c, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if !c.CreditUsed.Equal(decimal.NewFromInt(445)) {
		t.Fatalf("expected credit used 445, got %s", c.CreditUsed)
	}

	replayed, dup, err := s.CommitSale(ctx, sale)
	if err != nil {
		t.Fatalf("replay sale: %v", err)
	}
	if !dup || replayed.ID != saved.ID {
		t.Fatalf("expected replay of %s, got %s dup=%v", saved.ID, replayed.ID, dup)
	}
	if len(replayed.Lines) != 2 {
		t.Fatalf("expected 2 lines on replay, got %d", len(replayed.Lines))
	}

	over := sale
	over.IdempotencyKey = idempotencyKey + "-over"
	over.Total = decimal.NewFromInt(100)
	_, _, err = s.CommitSale(ctx, over)
	if !errors.Is(err, store.ErrInsufficientCredit) {
		t.Fatalf("expected insufficient credit, got %v", err)
	}

	over.SaleType = domain.SaleTypeCash
	over.Lines = []domain.SaleLine{{ProductID: productID, ProductName: "IT Soda", Factor: 24, Quantity: 2}}
	_, _, err = s.CommitSale(ctx, over)
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	over.Lines = []domain.SaleLine{{ProductID: productID, ProductName: "IT Soda", Factor: 24, Quantity: math.MaxInt/24 + 1}}
	_, _, err = s.CommitSale(ctx, over)
	if !errors.Is(err, store.ErrInvalidSale) {
		t.Fatalf("expected invalid sale for overflowing units, got %v", err)
	}
}
