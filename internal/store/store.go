package store

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInsufficientCredit = errors.New("insufficient customer credit")
	ErrInvalidSale        = errors.New("invalid sale")
	ErrDuplicate          = errors.New("already exists")
)

// AddBaseUnits adds the base units moved by line to total. It fails with
// ErrInvalidSale when the quantity is not positive or the sum would overflow.
func AddBaseUnits(total int, line domain.SaleLine) (int, error) {
	factor := max(line.Factor, 1)
	if line.Quantity < 1 || total < 0 || line.Quantity > (math.MaxInt-total)/factor {
		return 0, ErrInvalidSale
	}
	return total + line.Quantity*factor, nil
}

type Repository interface {
	ListStores(ctx context.Context) ([]domain.Store, error)
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error)
	GetStockMap(ctx context.Context, storeID string, productIDs []string) (map[string]int, error)
	ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	// CommitSale records the sale, takes its units out of stock and, for a
	// credit sale, charges the customer. Either all of it happens or none.
	CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
