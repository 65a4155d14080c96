package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/DenisArango/DENGO-POS-sub000/internal/domain"
	"github.com/DenisArango/DENGO-POS-sub000/internal/store"
	"github.com/DenisArango/DENGO-POS-sub000/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Migrate creates missing tables. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListStores(ctx context.Context) ([]domain.Store, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, active
		FROM stores
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Store, 0, 8)
	for rows.Next() {
		var st domain.Store
		if err := rows.Scan(&st.ID, &st.Name, &st.Address, &st.Active); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (s *Store) GetStore(ctx context.Context, id string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, active FROM stores WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.Address, &st.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &st, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), category, price, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	ids := make([]string, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Barcode, &p.Category, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
		ids = append(ids, p.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variations, err := s.variationsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		products[i].Variations = variations[products[i].ID]
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProductWhere(ctx, "id = $1", id)
}

func (s *Store) GetProductByBarcode(ctx context.Context, barcode string) (*domain.Product, error) {
	return s.getProductWhere(ctx, "barcode = $1", barcode)
}

func (s *Store) getProductWhere(ctx context.Context, where string, arg string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(barcode, ''), category, price, active
		FROM products
		WHERE `+where, arg).Scan(&p.ID, &p.Name, &p.Barcode, &p.Category, &p.Price, &p.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	variations, err := s.variationsFor(ctx, []string{p.ID})
	if err != nil {
		return nil, err
	}
	p.Variations = variations[p.ID]
	return &p, nil
}

func (s *Store) variationsFor(ctx context.Context, productIDs []string) (map[string][]domain.Variation, error) {
	result := make(map[string][]domain.Variation, len(productIDs))
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, id, name, factor, price
		FROM product_variations
		WHERE product_id = ANY($1)
		ORDER BY product_id, factor
	`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var productID string
		var v domain.Variation
		if err := rows.Scan(&productID, &v.ID, &v.Name, &v.Factor, &v.Price); err != nil {
			return nil, err
		}
		result[productID] = append(result[productID], v)
	}
	return result, rows.Err()
}

func (s *Store) GetStockMap(ctx context.Context, storeID string, productIDs []string) (map[string]int, error) {
	result := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		result[id] = 0
	}
	if len(productIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty
		FROM inventory_stocks
		WHERE store_id = $1 AND product_id = ANY($2)
	`, storeID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var qty int
		if err := rows.Scan(&id, &qty); err != nil {
			return nil, err
		}
		result[id] = qty
	}
	return result, rows.Err()
}

func (s *Store) ListCustomers(ctx context.Context, query string, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 50
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, nit, credit_limit, credit_used, final_consumer
		FROM customers
		WHERE name ILIKE $1 OR nit ILIKE $1
		ORDER BY name
		LIMIT $2
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.NIT, &c.CreditLimit, &c.CreditUsed, &c.FinalConsumer); err != nil {
			return nil, err
		}
		result = append(result, c.WithComputedCredit())
	}
	return result, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, nit, credit_limit, credit_used, final_consumer
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.NIT, &c.CreditLimit, &c.CreditUsed, &c.FinalConsumer)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c = c.WithComputedCredit()
	return &c, nil
}

func (s *Store) CommitSale(ctx context.Context, sale domain.Sale) (*domain.Sale, bool, error) {
	if sale.IdempotencyKey == "" || len(sale.Lines) == 0 {
		return nil, false, store.ErrInvalidSale
	}
	if existing, err := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	needed := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		units, err := store.AddBaseUnits(needed[line.ProductID], line)
		if err != nil {
			return nil, false, err
		}
		needed[line.ProductID] = units
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	for productID, qty := range needed {
		var active bool
		var available int
		err := tx.QueryRowContext(ctx, `
			SELECT p.active, COALESCE(i.qty, 0)
			FROM products p
			LEFT JOIN inventory_stocks i ON i.product_id = p.id AND i.store_id = $1
			WHERE p.id = $2
			FOR UPDATE OF p
		`, sale.StoreID, productID).Scan(&active, &available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, store.ErrInvalidSale
			}
			return nil, false, err
		}
		if !active {
			return nil, false, store.ErrInvalidSale
		}
		if available < qty {
			return nil, false, store.ErrInsufficientStock
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_stocks
			SET qty = qty - $3, updated_at = now()
			WHERE store_id = $1 AND product_id = $2 AND qty >= $3
		`, sale.StoreID, productID, qty)
		if err != nil {
			return nil, false, err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return nil, false, err
		} else if affected == 0 {
			return nil, false, store.ErrInsufficientStock
		}
	}

	if sale.SaleType == domain.SaleTypeCredit {
		var limit, used decimal.Decimal
		var finalConsumer bool
		err := tx.QueryRowContext(ctx, `
			SELECT credit_limit, credit_used, final_consumer
			FROM customers
			WHERE id = $1
			FOR UPDATE
		`, sale.CustomerID).Scan(&limit, &used, &finalConsumer)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, false, store.ErrNotFound
			}
			return nil, false, err
		}
		if finalConsumer || used.Add(sale.Total).GreaterThan(limit) {
			return nil, false, store.ErrInsufficientCredit
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET credit_used = credit_used + $2 WHERE id = $1
		`, sale.CustomerID, sale.Total); err != nil {
			return nil, false, err
		}
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, terminal_id, idempotency_key, sale_type, customer_id, cashier,
			total, cash_received, change_due, item_count, note, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.StoreID, sale.TerminalID, sale.IdempotencyKey, string(sale.SaleType),
		nullIfEmpty(sale.CustomerID), sale.CashierName, sale.Total, sale.CashReceived, sale.Change,
		sale.ItemCount, sale.Note, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	for i, line := range sale.Lines {
		discountJSON, err := marshalDiscount(line.Discount)
		if err != nil {
			return nil, false, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_lines (
				sale_id, line_no, product_id, product_name, variation_id, factor,
				quantity, unit_price, discount, line_total
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, sale.ID, i+1, line.ProductID, line.ProductName, nullIfEmpty(line.VariationID),
			max(line.Factor, 1), line.Quantity, line.UnitPrice, discountJSON, line.LineTotal)
		if err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	saved := sale
	return &saved, false, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	var sale domain.Sale
	var saleType string
	var customerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, terminal_id, idempotency_key, sale_type, customer_id, cashier,
			total, cash_received, change_due, item_count, note, created_at
		FROM sales
		WHERE idempotency_key = $1
	`, key).Scan(
		&sale.ID,
		&sale.StoreID,
		&sale.TerminalID,
		&sale.IdempotencyKey,
		&saleType,
		&customerID,
		&sale.CashierName,
		&sale.Total,
		&sale.CashReceived,
		&sale.Change,
		&sale.ItemCount,
		&sale.Note,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.SaleType = domain.SaleType(saleType)
	sale.CustomerID = customerID.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, product_name, COALESCE(variation_id, ''), factor, quantity,
			unit_price, discount, line_total
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY line_no
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		var discountRaw []byte
		if err := rows.Scan(&line.ProductID, &line.ProductName, &line.VariationID, &line.Factor,
			&line.Quantity, &line.UnitPrice, &discountRaw, &line.LineTotal); err != nil {
			return nil, err
		}
		if len(discountRaw) > 0 {
			var d domain.Discount
			if err := json.Unmarshal(discountRaw, &d); err != nil {
				return nil, err
			}
			line.Discount = &d
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action,
		entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidSale
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password = $2 WHERE username = $1`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func marshalDiscount(d *domain.Discount) (any, error) {
	if d == nil {
		return nil, nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
