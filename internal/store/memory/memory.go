package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store"
	"github.com/DenisArango/DENGO-POS-sub000/internal/xid"
)

const FinalConsumerID = "cust-cf"

type Store struct {
	mu              sync.RWMutex
	stores          map[string]domain.Store
	products        map[string]domain.Product
	barcodes        map[string]string
	inventory       map[string]map[string]int
	customers       map[string]domain.Customer
	salesByID       map[string]*domain.Sale
	salesByIdem     map[string]*domain.Sale
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_CASHIER_PASSWORD, falling back to dev defaults with a warning.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func New() *Store {
	return &Store{
		stores:          make(map[string]domain.Store),
		products:        make(map[string]domain.Product),
		barcodes:        make(map[string]string),
		inventory:       make(map[string]map[string]int),
		customers:       make(map[string]domain.Customer),
		salesByID:       make(map[string]*domain.Sale),
		salesByIdem:     make(map[string]*domain.Sale),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()

	for _, st := range []domain.Store{
		{ID: "main-store", Name: "Tienda Central", Address: "6a Avenida 12-34, Zona 1", Active: true},
		{ID: "branch-norte", Name: "Sucursal Norte", Address: "Calzada Norte 45", Active: true},
	} {
		s.stores[st.ID] = st
		s.inventory[st.ID] = make(map[string]int)
	}

	products := []domain.Product{
		{ID: "prod-coke", Name: "Coca-Cola 600ml", Barcode: "7501055300075", Category: "beverage", Price: price("15"), Active: true,
			Variations: []domain.Variation{{ID: "coke-box24", Name: "Caja 24 unidades", Factor: 24, Price: price("330")}}},
		{ID: "prod-chips", Name: "Papalinas Clasicas", Barcode: "7411000311021", Category: "snack", Price: price("18.5"), Active: true},
		{ID: "prod-water", Name: "Agua Pura 1L", Barcode: "7401005900015", Category: "beverage", Price: price("8"), Active: true,
			Variations: []domain.Variation{{ID: "water-pack6", Name: "Paquete 6 unidades", Factor: 6, Price: price("42")}}},
		{ID: "prod-rice", Name: "Arroz 1lb", Barcode: "7401001200334", Category: "grocery", Price: price("6.75"), Active: true},
		{ID: "prod-beans", Name: "Frijol Negro 1lb", Barcode: "7401001200341", Category: "grocery", Price: price("9.25"), Active: true},
		{ID: "prod-soap", Name: "Jabon de Tocador", Barcode: "7501035911208", Category: "household", Price: price("7.5"), Active: true},
		{ID: "prod-old", Name: "Galleta Descontinuada", Barcode: "7400000000001", Category: "snack", Price: price("3"), Active: false},
	}
	for _, p := range products {
		s.products[p.ID] = p
		s.barcodes[p.Barcode] = p.ID
		for storeID := range s.inventory {
			s.inventory[storeID][p.ID] = 120
		}
	}
	s.inventory["main-store"]["prod-soap"] = 4
	s.inventory["main-store"]["prod-beans"] = 0

	for _, c := range []domain.Customer{
		{ID: FinalConsumerID, Name: "Consumidor Final", NIT: "CF", FinalConsumer: true},
		{ID: "cust-001", Name: "Abarroteria La Esperanza", NIT: "1234567-8", CreditLimit: price("1000"), CreditUsed: price("250")},
		{ID: "cust-002", Name: "Comedor Dona Rosa", NIT: "7654321-0", CreditLimit: price("500"), CreditUsed: price("500")},
		{ID: "cust-003", Name: "Juan Perez", NIT: "3456789-1"},
	} {
		s.customers[c.ID] = c.WithComputedCredit()
	}

	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListStores(_ context.Context) ([]domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Store, 0, len(s.stores))
	for _, st := range s.stores {
		if st.Active {
			result = append(result, st)
		}
	}
	slices.SortFunc(result, func(a, b domain.Store) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetStore(_ context.Context, id string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stores[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &st, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, cloneProduct(p))
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	s.mu.RLock()
	id, ok := s.barcodes[barcode]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, id)
}

func (s *Store) GetStockMap(_ context.Context, storeID string, productIDs []string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	storeStock := s.inventory[storeID]
	result := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		result[id] = storeStock[id]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context, query string, limit int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query = strings.ToLower(strings.TrimSpace(query))
	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if query != "" && !strings.Contains(strings.ToLower(c.Name), query) && !strings.Contains(strings.ToLower(c.NIT), query) {
			continue
		}
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) CommitSale(_ context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, false, store.ErrInvalidSale
	}
	if existing, ok := s.salesByIdem[sale.IdempotencyKey]; ok {
		return cloneSale(existing), true, nil
	}

	storeStock, ok := s.inventory[sale.StoreID]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	needed := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if p, exists := s.products[line.ProductID]; !exists || !p.Active {
			return nil, false, store.ErrInvalidSale
		}
		units, err := store.AddBaseUnits(needed[line.ProductID], line)
		if err != nil {
			return nil, false, err
		}
		needed[line.ProductID] = units
	}
	for productID, qty := range needed {
		if storeStock[productID] < qty {
			return nil, false, store.ErrInsufficientStock
		}
	}

	var customer domain.Customer
	if sale.SaleType == domain.SaleTypeCredit {
		c, exists := s.customers[sale.CustomerID]
		if !exists {
			return nil, false, store.ErrNotFound
		}
		if c.FinalConsumer || c.CreditUsed.Add(sale.Total).GreaterThan(c.CreditLimit) {
			return nil, false, store.ErrInsufficientCredit
		}
		customer = c
	}

	for productID, qty := range needed {
		storeStock[productID] -= qty
	}
	if sale.SaleType == domain.SaleTypeCredit {
		customer.CreditUsed = customer.CreditUsed.Add(sale.Total)
		s.customers[customer.ID] = customer.WithComputedCredit()
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	saved := cloneSale(&sale)
	s.salesByID[saved.ID] = saved
	s.salesByIdem[saved.IdempotencyKey] = saved
	return cloneSale(saved), false, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrDuplicate
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	dup.Variations = slices.Clone(src.Variations)
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Lines = make([]domain.SaleLine, len(src.Lines))
	for i, line := range src.Lines {
		if line.Discount != nil {
			d := *line.Discount
			line.Discount = &d
		}
		dup.Lines[i] = line
	}
	return &dup
}
