package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/DenisArango/DENGO-POS-sub000/internal/cache"
	"github.com/DenisArango/DENGO-POS-sub000/internal/cart"
	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store"
	"github.com/DenisArango/DENGO-POS-sub000/internal/xid"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrProductInactive  = errors.New("product is not available for sale")
	ErrUnknownVariation = errors.New("product has no such variation")
	ErrInsufficientCash = errors.New("cash received is less than the sale total")
)

const (
	lowStockThreshold  = 5
	defaultCartTTL     = 12 * time.Hour
	sessionLoadTimeout = 5 * time.Second
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// session is the open cart of one terminal. mu serializes every engine call
// and guards lastUsed and closed. A closed session has left the session map
// and must not be used again.
type session struct {
	mu         sync.Mutex
	key        string
	storeID    string
	terminalID string
	engine     *cart.Engine
	lastUsed   time.Time
	closed     bool
}

type Service struct {
	repo           store.Repository
	carts          cache.CartStore
	cartTTL        time.Duration
	defaultStoreID string

	mu       sync.Mutex
	sessions map[string]*session
	loads    singleflight.Group
	now      func() time.Time
}

func New(repo store.Repository, carts cache.CartStore, defaultStoreID string, cartTTL time.Duration) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if carts == nil {
		carts = cache.NoopCartStore{}
	}
	if cartTTL <= 0 {
		cartTTL = defaultCartTTL
	}

	return &Service{
		repo:           repo,
		carts:          carts,
		cartTTL:        cartTTL,
		defaultStoreID: defaultStoreID,
		sessions:       make(map[string]*session),
		now:            time.Now,
	}
}

func (s *Service) ListStores(ctx context.Context) ([]domain.Store, error) {
	return s.repo.ListStores(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) LookupProduct(ctx context.Context, barcode string) (domain.Product, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return domain.Product{}, ErrInvalidRequest
	}

	product, err := s.repo.GetProductByBarcode(ctx, barcode)
	if err != nil {
		return domain.Product{}, err
	}
	if !product.Active {
		return domain.Product{}, ErrProductInactive
	}
	return *product, nil
}

func (s *Service) InventoryStatus(ctx context.Context, storeID string) (domain.InventoryResponse, error) {
	storeID = defaultString(storeID, s.defaultStoreID)
	if _, err := s.repo.GetStore(ctx, storeID); err != nil {
		return domain.InventoryResponse{}, err
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.InventoryResponse{}, err
	}
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	stock, err := s.repo.GetStockMap(ctx, storeID, ids)
	if err != nil {
		return domain.InventoryResponse{}, err
	}

	items := make([]domain.InventoryItem, 0, len(products))
	for _, p := range products {
		qty := stock[p.ID]
		items = append(items, domain.InventoryItem{
			ProductID: p.ID,
			Name:      p.Name,
			Category:  p.Category,
			Qty:       qty,
			Status:    stockStatus(qty),
		})
	}
	return domain.InventoryResponse{StoreID: storeID, Items: items}, nil
}

func (s *Service) ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListCustomers(ctx, strings.TrimSpace(query), limit)
}

func (s *Service) CustomerCredit(ctx context.Context, customerID string) (domain.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Customer{}, ErrInvalidRequest
	}
	c, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *c, nil
}

func (s *Service) GetCart(ctx context.Context, storeID string, terminalID string) (domain.CartView, error) {
	sess, err := s.acquire(ctx, storeID, terminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	defer s.release(sess)
	return cartView(sess), nil
}

// AddItem resolves the product by id or barcode and adds it at the current
// catalog price. An omitted quantity counts as one scan.
func (s *Service) AddItem(ctx context.Context, storeID string, terminalID string, req domain.AddItemRequest) (domain.CartView, error) {
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	product, err := s.resolveProduct(ctx, req.ProductID, req.Barcode)
	if err != nil {
		return domain.CartView{}, err
	}

	item := domain.LineItem{
		ProductID:   product.ID,
		ProductName: product.Name,
		Barcode:     product.Barcode,
		UnitPrice:   product.Price,
		Quantity:    quantity,
		Discount:    req.Discount,
	}
	if variationID := strings.TrimSpace(req.VariationID); variationID != "" {
		v, ok := product.Variation(variationID)
		if !ok {
			return domain.CartView{}, ErrUnknownVariation
		}
		item.Variation = &v
		item.UnitPrice = v.Price
	}

	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		return e.AddItem(item)
	})
}

func (s *Service) RemoveItem(ctx context.Context, storeID string, terminalID string, productID string) (domain.CartView, error) {
	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		e.RemoveItem(productID)
		return nil
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, storeID string, terminalID string, productID string, req domain.UpdateQuantityRequest) (domain.CartView, error) {
	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		return e.UpdateQuantity(productID, req.Quantity)
	})
}

func (s *Service) SetDiscount(ctx context.Context, storeID string, terminalID string, productID string, req domain.SetDiscountRequest) (domain.CartView, error) {
	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		return e.SetDiscount(productID, req.Discount)
	})
}

func (s *Service) ClearCart(ctx context.Context, storeID string, terminalID string) (domain.CartView, error) {
	var discarded int
	view, err := s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		discarded = e.ItemCount()
		e.Clear()
		return nil
	})
	if err != nil {
		return domain.CartView{}, err
	}
	if discarded > 0 {
		s.logAudit(ctx, view.StoreID, "cart_clear", "terminal", view.TerminalID, fmt.Sprintf("units=%d", discarded))
	}
	return view, nil
}

// SetCustomer selects a customer from the directory. An empty id returns
// the cart to a walk-in sale.
func (s *Service) SetCustomer(ctx context.Context, storeID string, terminalID string, req domain.SetCustomerRequest) (domain.CartView, error) {
	var customer *domain.Customer
	if id := strings.TrimSpace(req.CustomerID); id != "" {
		c, err := s.repo.GetCustomer(ctx, id)
		if err != nil {
			return domain.CartView{}, err
		}
		customer = c
	}

	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		e.SetCustomer(customer)
		return nil
	})
}

func (s *Service) SetSaleType(ctx context.Context, storeID string, terminalID string, req domain.SetSaleTypeRequest) (domain.CartView, error) {
	saleType := domain.SaleType(strings.ToUpper(strings.TrimSpace(string(req.SaleType))))
	return s.mutate(ctx, storeID, terminalID, func(e *cart.Engine) error {
		return e.SetSaleType(saleType)
	})
}

// Checkout commits the terminal's cart as a sale. Reusing an idempotency key
// returns the sale recorded the first time.
func (s *Service) Checkout(ctx context.Context, storeID string, terminalID string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = xid.New("idem")
	}
	if req.CashReceived.IsNegative() {
		return domain.CheckoutResponse{}, ErrInvalidRequest
	}

	if replay, ok, err := s.replaySale(ctx, req.IdempotencyKey); err != nil || ok {
		return replay, err
	}

	sess, err := s.acquire(ctx, storeID, terminalID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	defer s.release(sess)

	// A retry that waited on the lock sees the sale its first attempt recorded.
	if replay, ok, err := s.replaySale(ctx, req.IdempotencyKey); err != nil || ok {
		return replay, err
	}

	e := sess.engine
	if c := e.Customer(); c != nil {
		fresh, err := s.repo.GetCustomer(ctx, c.ID)
		if err != nil {
			return domain.CheckoutResponse{}, fmt.Errorf("refresh customer %s: %w", c.ID, err)
		}
		e.RefreshCustomer(fresh)
		s.persist(ctx, sess)
	}
	if err := e.Validate(); err != nil {
		return domain.CheckoutResponse{}, err
	}

	sale := buildSale(sess, req)
	if actor, ok := ActorFromContext(ctx); ok {
		sale.CashierName = actor.Username
	}
	if sale.SaleType == domain.SaleTypeCash {
		if req.CashReceived.LessThan(sale.Total) {
			return domain.CheckoutResponse{}, ErrInsufficientCash
		}
		sale.CashReceived = req.CashReceived
		sale.Change = req.CashReceived.Sub(sale.Total)
	}

	saved, duplicate, err := s.repo.CommitSale(ctx, sale)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	e.Clear()
	s.persist(ctx, sess)

	if !duplicate {
		s.logAudit(
			ctx,
			saved.StoreID,
			"checkout",
			"sale",
			saved.ID,
			fmt.Sprintf("total=%s,type=%s,units=%d,customer=%s", saved.Total.StringFixed(2), saved.SaleType, saved.ItemCount, saved.CustomerID),
		)
	}

	return domain.CheckoutResponse{Sale: *saved, Duplicate: duplicate}, nil
}

func (s *Service) replaySale(ctx context.Context, idempotencyKey string) (domain.CheckoutResponse, bool, error) {
	existing, err := s.repo.FindSaleByIdempotency(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, false, nil
		}
		return domain.CheckoutResponse{}, false, err
	}
	return domain.CheckoutResponse{Sale: *existing, Duplicate: true}, true, nil
}

func (s *Service) LookupSale(ctx context.Context, idempotencyKey string) (domain.SaleLookupResponse, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey == "" {
		return domain.SaleLookupResponse{}, ErrInvalidRequest
	}

	sale, err := s.repo.FindSaleByIdempotency(ctx, idempotencyKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleLookupResponse{Found: false}, nil
		}
		return domain.SaleLookupResponse{}, err
	}
	return domain.SaleLookupResponse{Found: true, Sale: sale}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = defaultString(storeID, s.defaultStoreID)
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, ErrInvalidRequest
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) resolveProduct(ctx context.Context, productID string, barcode string) (*domain.Product, error) {
	productID = strings.TrimSpace(productID)
	barcode = strings.TrimSpace(barcode)

	var (
		product *domain.Product
		err     error
	)
	switch {
	case productID != "":
		product, err = s.repo.GetProduct(ctx, productID)
	case barcode != "":
		product, err = s.repo.GetProductByBarcode(ctx, barcode)
	default:
		return nil, ErrInvalidRequest
	}
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, ErrProductInactive
	}
	return product, nil
}

// session returns the open cart for a terminal, loading a saved snapshot the
// first time the terminal is seen.
func (s *Service) session(ctx context.Context, storeID string, terminalID string) (*session, error) {
	storeID = defaultString(storeID, s.defaultStoreID)
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, ErrInvalidRequest
	}
	key := cache.CartKey(storeID, terminalID)

	s.mu.Lock()
	sess, ok := s.sessions[key]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	v, err, _ := s.loads.Do(key, func() (any, error) {
		s.mu.Lock()
		if sess, ok := s.sessions[key]; ok {
			s.mu.Unlock()
			return sess, nil
		}
		s.mu.Unlock()
		s.sweepExpired(ctx)

		// Callers waiting on this load must not fail with the first caller's context.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sessionLoadTimeout)
		defer cancel()

		if _, err := s.repo.GetStore(ctx, storeID); err != nil {
			return nil, err
		}

		engine := cart.New()
		snap, found, err := s.carts.Get(ctx, key)
		if err != nil {
			log.Printf("[cart-cache] WARN: failed to load cart key=%s: %v", key, err)
		} else if found {
			engine = cart.Restore(*snap)
		}

		loaded := &session{key: key, storeID: storeID, terminalID: terminalID, engine: engine, lastUsed: s.now()}
		s.mu.Lock()
		s.sessions[key] = loaded
		s.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// acquire returns the terminal's session locked. A session idle for longer
// than the cart TTL is discarded and the terminal starts over.
func (s *Service) acquire(ctx context.Context, storeID string, terminalID string) (*session, error) {
	for {
		sess, err := s.session(ctx, storeID, terminalID)
		if err != nil {
			return nil, err
		}
		sess.mu.Lock()
		if sess.closed {
			sess.mu.Unlock()
			continue
		}
		if s.expired(sess) {
			s.evict(ctx, sess)
			sess.mu.Unlock()
			continue
		}
		return sess, nil
	}
}

// release unlocks sess. A session left without items or customer is dropped
// from the map so idle terminals hold no state.
func (s *Service) release(sess *session) {
	if sess.engine.Empty() {
		s.drop(sess)
	} else {
		sess.lastUsed = s.now()
	}
	sess.mu.Unlock()
}

func (s *Service) expired(sess *session) bool {
	return s.now().Sub(sess.lastUsed) > s.cartTTL
}

// evict drops an expired session together with its saved snapshot. The
// caller holds sess.mu.
func (s *Service) evict(ctx context.Context, sess *session) {
	s.drop(sess)
	if err := s.carts.Delete(ctx, sess.key); err != nil {
		log.Printf("[cart-cache] WARN: failed to delete expired cart key=%s: %v", sess.key, err)
	}
}

func (s *Service) drop(sess *session) {
	sess.closed = true
	s.mu.Lock()
	if s.sessions[sess.key] == sess {
		delete(s.sessions, sess.key)
	}
	s.mu.Unlock()
}

// sweepExpired evicts idle sessions that no request is holding.
func (s *Service) sweepExpired(ctx context.Context) {
	s.mu.Lock()
	candidates := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		candidates = append(candidates, sess)
	}
	s.mu.Unlock()

	for _, sess := range candidates {
		if !sess.mu.TryLock() {
			continue
		}
		if !sess.closed && s.expired(sess) {
			s.evict(ctx, sess)
		}
		sess.mu.Unlock()
	}
}

func (s *Service) mutate(ctx context.Context, storeID string, terminalID string, fn func(e *cart.Engine) error) (domain.CartView, error) {
	sess, err := s.acquire(ctx, storeID, terminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	defer s.release(sess)

	if err := fn(sess.engine); err != nil {
		return domain.CartView{}, err
	}
	s.persist(ctx, sess)
	return cartView(sess), nil
}

// persist writes the session snapshot. The cache is best effort; the
// in-process session stays authoritative when it fails.
func (s *Service) persist(ctx context.Context, sess *session) {
	var err error
	if sess.engine.Empty() {
		err = s.carts.Delete(ctx, sess.key)
	} else {
		snap := sess.engine.Snapshot()
		err = s.carts.Set(ctx, sess.key, &snap, s.cartTTL)
	}
	if err != nil {
		log.Printf("[cart-cache] WARN: failed to save cart key=%s: %v", sess.key, err)
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	storeID = defaultString(storeID, s.defaultStoreID)

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func buildSale(sess *session, req domain.CheckoutRequest) domain.Sale {
	e := sess.engine
	items := e.Items()
	lines := make([]domain.SaleLine, 0, len(items))
	for _, item := range items {
		line := domain.SaleLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Factor:      1,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Discount:    item.Discount,
			LineTotal:   cart.LineTotal(item),
		}
		if item.Variation != nil {
			line.VariationID = item.Variation.ID
			line.Factor = max(item.Variation.Factor, 1)
		}
		lines = append(lines, line)
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		StoreID:        sess.storeID,
		TerminalID:     sess.terminalID,
		IdempotencyKey: req.IdempotencyKey,
		SaleType:       e.SaleType(),
		Total:          e.Total(),
		ItemCount:      e.ItemCount(),
		Note:           strings.TrimSpace(req.Note),
		CreatedAt:      time.Now().UTC(),
		Lines:          lines,
	}
	if c := e.Customer(); c != nil {
		sale.CustomerID = c.ID
	}
	return sale
}

func cartView(sess *session) domain.CartView {
	e := sess.engine
	return domain.CartView{
		StoreID:    sess.storeID,
		TerminalID: sess.terminalID,
		Items:      e.Items(),
		Customer:   e.Customer(),
		SaleType:   e.SaleType(),
		Total:      e.Total(),
		ItemCount:  e.ItemCount(),
	}
}

func stockStatus(qty int) domain.StockStatus {
	switch {
	case qty <= 0:
		return domain.StockOut
	case qty <= lowStockThreshold:
		return domain.StockLow
	default:
		return domain.StockOK
	}
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
