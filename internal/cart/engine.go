// Package cart holds the in-progress sale of a single checkout session:
// its line items, the selected customer and the sale type.
package cart

import (
	"github.com/shopspring/decimal"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
)

// MaxLineQuantity is the most units a single line may hold.
const MaxLineQuantity = 100_000

var hundred = decimal.NewFromInt(100)

// Engine is the state of one sale being composed. It is not safe for
// concurrent use; callers own one Engine per checkout session.
type Engine struct {
	items    []domain.LineItem
	customer *domain.Customer
	saleType domain.SaleType
}

func New() *Engine {
	return &Engine{saleType: domain.SaleTypeCash}
}

// AddItem appends item, or increments the quantity of the line that already
// holds the same product.
func (e *Engine) AddItem(item domain.LineItem) error {
	if item.ProductID == "" {
		return ErrInvalidItem
	}
	if item.Quantity < 1 || item.Quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	if err := validateDiscount(item.Discount); err != nil {
		return err
	}

	if idx := e.indexOf(item.ProductID); idx >= 0 {
		existing := &e.items[idx]
		if variationID(existing.Variation) != variationID(item.Variation) {
			return ErrVariationConflict
		}
		if existing.Quantity > MaxLineQuantity-item.Quantity {
			return ErrInvalidQuantity
		}
		existing.Quantity += item.Quantity
		return nil
	}

	e.items = append(e.items, cloneLine(item))
	return nil
}

func (e *Engine) RemoveItem(productID string) {
	idx := e.indexOf(productID)
	if idx < 0 {
		return
	}
	e.items = append(e.items[:idx], e.items[idx+1:]...)
}

// UpdateQuantity sets the quantity of a line. Unlike AddItem it does not
// accumulate.
func (e *Engine) UpdateQuantity(productID string, quantity int) error {
	if quantity < 1 || quantity > MaxLineQuantity {
		return ErrInvalidQuantity
	}
	idx := e.indexOf(productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	e.items[idx].Quantity = quantity
	return nil
}

// SetDiscount replaces the discount of a line; nil removes it.
func (e *Engine) SetDiscount(productID string, discount *domain.Discount) error {
	if err := validateDiscount(discount); err != nil {
		return err
	}
	idx := e.indexOf(productID)
	if idx < 0 {
		return ErrItemNotFound
	}
	e.items[idx].Discount = cloneDiscount(discount)
	return nil
}

// Clear resets the cart to the state of a fresh session.
func (e *Engine) Clear() {
	e.items = nil
	e.customer = nil
	e.saleType = domain.SaleTypeCash
}

// SetCustomer selects the customer for the sale; nil means walk-in. A
// customer that cannot buy on credit forces the sale back to cash.
func (e *Engine) SetCustomer(c *domain.Customer) {
	e.customer = cloneCustomer(c)
	if !e.customer.CanBuyOnCredit() {
		e.saleType = domain.SaleTypeCash
	}
}

// RefreshCustomer swaps in a newer read of the selected customer without
// touching the sale type, so Validate sees the current credit figures.
func (e *Engine) RefreshCustomer(c *domain.Customer) {
	e.customer = cloneCustomer(c)
}

func (e *Engine) SetSaleType(t domain.SaleType) error {
	if !t.Valid() {
		return ErrInvalidSaleType
	}
	if t == domain.SaleTypeCredit && !e.customer.CanBuyOnCredit() {
		return ErrCreditNotAllowed
	}
	e.saleType = t
	return nil
}

func (e *Engine) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range e.items {
		total = total.Add(LineTotal(item))
	}
	return total
}

func (e *Engine) ItemCount() int {
	count := 0
	for _, item := range e.items {
		count += item.Quantity
	}
	return count
}

// Validate runs the checks a sale must pass before it is committed.
func (e *Engine) Validate() error {
	if len(e.items) == 0 {
		return ErrEmptyCart
	}
	if e.saleType != domain.SaleTypeCredit {
		return nil
	}
	if e.customer == nil {
		return ErrMissingCustomer
	}
	if !e.customer.CanBuyOnCredit() || e.Total().GreaterThan(e.customer.CreditAvailable) {
		return ErrCreditLimitExceeded
	}
	return nil
}

// Empty reports whether the cart holds neither items nor a customer.
func (e *Engine) Empty() bool {
	return len(e.items) == 0 && e.customer == nil
}

func (e *Engine) Items() []domain.LineItem {
	out := make([]domain.LineItem, 0, len(e.items))
	for _, item := range e.items {
		out = append(out, cloneLine(item))
	}
	return out
}

func (e *Engine) Customer() *domain.Customer {
	return cloneCustomer(e.customer)
}

func (e *Engine) SaleType() domain.SaleType {
	return e.saleType
}

// LineTotal is unit price times quantity less the line discount, never
// below zero.
func LineTotal(item domain.LineItem) decimal.Decimal {
	gross := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	if item.Discount == nil {
		return gross
	}

	net := gross
	switch item.Discount.Kind {
	case domain.DiscountAmount:
		net = gross.Sub(item.Discount.Value)
	case domain.DiscountPercent:
		net = gross.Mul(hundred.Sub(item.Discount.Value)).Div(hundred)
	}
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

func (e *Engine) indexOf(productID string) int {
	for i := range e.items {
		if e.items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func validateDiscount(d *domain.Discount) error {
	if d == nil {
		return nil
	}
	if d.Value.IsNegative() {
		return ErrInvalidDiscount
	}
	switch d.Kind {
	case domain.DiscountAmount:
		return nil
	case domain.DiscountPercent:
		if d.Value.GreaterThan(hundred) {
			return ErrInvalidDiscount
		}
		return nil
	default:
		return ErrInvalidDiscount
	}
}

func variationID(v *domain.Variation) string {
	if v == nil {
		return ""
	}
	return v.ID
}

func cloneLine(item domain.LineItem) domain.LineItem {
	if item.Variation != nil {
		v := *item.Variation
		item.Variation = &v
	}
	item.Discount = cloneDiscount(item.Discount)
	return item
}

func cloneDiscount(d *domain.Discount) *domain.Discount {
	if d == nil {
		return nil
	}
	copied := *d
	return &copied
}

func cloneCustomer(c *domain.Customer) *domain.Customer {
	if c == nil {
		return nil
	}
	copied := *c
	return &copied
}
