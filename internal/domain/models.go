package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleType string

const (
	SaleTypeCash   SaleType = "CASH"
	SaleTypeCredit SaleType = "CREDIT"
)

func (t SaleType) Valid() bool {
	return t == SaleTypeCash || t == SaleTypeCredit
}

type DiscountKind string

const (
	DiscountAmount  DiscountKind = "amount"
	DiscountPercent DiscountKind = "percent"
)

type Store struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	Active  bool   `json:"active"`
}

type Product struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Barcode    string          `json:"barcode"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	Active     bool            `json:"active"`
	Variations []Variation     `json:"variations,omitempty"`
}

// Variation returns the packaging with the given id.
func (p Product) Variation(id string) (Variation, bool) {
	for _, v := range p.Variations {
		if v.ID == id {
			return v, true
		}
	}
	return Variation{}, false
}

// Variation is an alternate packaging of a product, e.g. a box of 24.
// Factor is the number of base units it contains.
type Variation struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Factor int             `json:"factor"`
	Price  decimal.Decimal `json:"price"`
}

type Discount struct {
	Kind  DiscountKind    `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

type LineItem struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Barcode     string          `json:"barcode,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Variation   *Variation      `json:"variation,omitempty"`
	Quantity    int             `json:"quantity"`
	Discount    *Discount       `json:"discount,omitempty"`
}

// BaseUnits is the quantity expressed in units of the base product.
func (l LineItem) BaseUnits() int {
	if l.Variation != nil && l.Variation.Factor > 1 {
		return l.Quantity * l.Variation.Factor
	}
	return l.Quantity
}

type Customer struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	NIT             string          `json:"nit"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	CreditUsed      decimal.Decimal `json:"credit_used"`
	CreditAvailable decimal.Decimal `json:"credit_available"`
	FinalConsumer   bool            `json:"final_consumer"`
}

// WithComputedCredit fills CreditAvailable from limit and used amounts.
func (c Customer) WithComputedCredit() Customer {
	c.CreditAvailable = c.CreditLimit.Sub(c.CreditUsed)
	return c
}

// CanBuyOnCredit reports whether a credit sale may be opened for c.
func (c *Customer) CanBuyOnCredit() bool {
	return c != nil && !c.FinalConsumer && c.CreditAvailable.IsPositive()
}

type StockStatus string

const (
	StockOut StockStatus = "out_of_stock"
	StockLow StockStatus = "low"
	StockOK  StockStatus = "in_stock"
)

type InventoryItem struct {
	ProductID string      `json:"product_id"`
	Name      string      `json:"name"`
	Category  string      `json:"category"`
	Qty       int         `json:"qty"`
	Status    StockStatus `json:"status"`
}

type InventoryResponse struct {
	StoreID string          `json:"store_id"`
	Items   []InventoryItem `json:"items"`
}

type CartView struct {
	StoreID    string          `json:"store_id"`
	TerminalID string          `json:"terminal_id"`
	Items      []LineItem      `json:"items"`
	Customer   *Customer       `json:"customer,omitempty"`
	SaleType   SaleType        `json:"sale_type"`
	Total      decimal.Decimal `json:"total"`
	ItemCount  int             `json:"item_count"`
}

type AddItemRequest struct {
	ProductID   string    `json:"product_id"`
	Barcode     string    `json:"barcode"`
	VariationID string    `json:"variation_id"`
	Quantity    *int      `json:"quantity,omitempty"`
	Discount    *Discount `json:"discount,omitempty"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type SetDiscountRequest struct {
	Discount *Discount `json:"discount"`
}

type SetCustomerRequest struct {
	CustomerID string `json:"customer_id"`
}

type SetSaleTypeRequest struct {
	SaleType SaleType `json:"sale_type"`
}

type CheckoutRequest struct {
	IdempotencyKey string          `json:"idempotency_key"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Note           string          `json:"note"`
}

type SaleLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariationID string          `json:"variation_id,omitempty"`
	Factor      int             `json:"factor"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    *Discount       `json:"discount,omitempty"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type Sale struct {
	ID             string          `json:"id"`
	StoreID        string          `json:"store_id"`
	TerminalID     string          `json:"terminal_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	SaleType       SaleType        `json:"sale_type"`
	CustomerID     string          `json:"customer_id,omitempty"`
	CashierName    string          `json:"cashier"`
	Total          decimal.Decimal `json:"total"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Change         decimal.Decimal `json:"change"`
	ItemCount      int             `json:"item_count"`
	Note           string          `json:"note,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Lines          []SaleLine      `json:"lines"`
}

type CheckoutResponse struct {
	Sale      Sale `json:"sale"`
	Duplicate bool `json:"duplicate"`
}

type SaleLookupResponse struct {
	Found bool  `json:"found"`
	Sale  *Sale `json:"sale,omitempty"`
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

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
