package cart

import (
	"time"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
)

// Snapshot is the serializable state of an Engine.
type Snapshot struct {
	Items     []domain.LineItem `json:"items"`
	Customer  *domain.Customer  `json:"customer,omitempty"`
	SaleType  domain.SaleType   `json:"sale_type"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Items:     e.Items(),
		Customer:  e.Customer(),
		SaleType:  e.saleType,
		UpdatedAt: time.Now().UTC(),
	}
}

// Restore rebuilds an Engine from a snapshot. Lines that break the engine's
// rules are dropped and an ineligible credit sale comes back as cash.
func Restore(s Snapshot) *Engine {
	e := New()
	for _, item := range s.Items {
		_ = e.AddItem(item)
	}
	e.SetCustomer(s.Customer)
	if s.SaleType == domain.SaleTypeCredit {
		_ = e.SetSaleType(domain.SaleTypeCredit)
	}
	return e
}
