package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/store"
)

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
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// readRetry reruns an idempotent read once when the first attempt fails in a
// way that is safe to retry, such as a connection dropped before the query
// reached the server. Mutations never go through it.
func readRetry[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	out, err := fn(ctx)
	if err == nil || !isTransientReadError(err) {
		return out, err
	}
	return fn(ctx)
}

func isTransientReadError(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, sql.ErrNoRows),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func (s *Store) GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.Organization, error) {
		return s.getOrganization(ctx, organizationID)
	})
}

func (s *Store) getOrganization(ctx context.Context, organizationID string) (*domain.Organization, error) {
	var org domain.Organization
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, gst_number, status, created_at
		FROM organizations
		WHERE id = $1
	`, organizationID).Scan(&org.ID, &org.Name, &org.GSTNumber, &org.Status, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	org.CreatedAt = org.CreatedAt.UTC()
	return &org, nil
}

func (s *Store) CreateCatalogueItem(ctx context.Context, item domain.CatalogueItem) (*domain.CatalogueItem, error) {
	if item.SKU == "" || item.OrganizationID == "" || item.ItemName == "" || item.Price.Sign() <= 0 || item.Stock < 0 {
		return nil, store.ErrValidation
	}

	item.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO catalogue_items (sku, organization_id, item_name, price, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now(),now())
	`, item.SKU, item.OrganizationID, item.ItemName, item.Price.String(), item.Stock, item.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetCatalogueItem(ctx context.Context, organizationID string, sku string) (*domain.CatalogueItem, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.CatalogueItem, error) {
		return s.getCatalogueItem(ctx, organizationID, sku)
	})
}

func (s *Store) getCatalogueItem(ctx context.Context, organizationID string, sku string) (*domain.CatalogueItem, error) {
	var (
		item  domain.CatalogueItem
		price string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sku, organization_id, item_name, price, stock, active
		FROM catalogue_items
		WHERE organization_id = $1 AND sku = $2 AND active = true
	`, organizationID, sku).Scan(&item.SKU, &item.OrganizationID, &item.ItemName, &price, &item.Stock, &item.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if item.Price, err = decimal.NewFromString(price); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCatalogueItems(ctx context.Context, organizationID string, skus []string) (map[string]domain.CatalogueItem, error) {
	return readRetry(ctx, func(ctx context.Context) (map[string]domain.CatalogueItem, error) {
		return s.getCatalogueItems(ctx, organizationID, skus)
	})
}

func (s *Store) getCatalogueItems(ctx context.Context, organizationID string, skus []string) (map[string]domain.CatalogueItem, error) {
	result := make(map[string]domain.CatalogueItem, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, organization_id, item_name, price, stock, active
		FROM catalogue_items
		WHERE organization_id = $1 AND active = true AND sku = ANY($2)
	`, organizationID, skus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item  domain.CatalogueItem
			price string
		)
		if err := rows.Scan(&item.SKU, &item.OrganizationID, &item.ItemName, &price, &item.Stock, &item.Active); err != nil {
			return nil, err
		}
		if item.Price, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		result[item.SKU] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) SetCatalogueStock(ctx context.Context, organizationID string, sku string, stock int) error {
	if sku == "" || stock < 0 {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE catalogue_items
		SET stock = $3, updated_at = now()
		WHERE organization_id = $1 AND sku = $2
	`, organizationID, sku, stock)
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

func (s *Store) UpsertPriceOverride(ctx context.Context, override domain.StorePriceOverride) (*domain.StorePriceOverride, error) {
	if override.StoreID == "" || override.SKU == "" {
		return nil, store.ErrValidation
	}
	if override.UpdatedAt.IsZero() {
		override.UpdatedAt = time.Now().UTC()
	}

	var overridePrice any
	if override.HasOverride {
		overridePrice = override.OverridePrice.String()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO store_price_overrides (id, store_id, sku, override_price, margin_type, margin_value, status, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (store_id, sku) DO UPDATE
		SET override_price = EXCLUDED.override_price,
		    margin_type = EXCLUDED.margin_type,
		    margin_value = EXCLUDED.margin_value,
		    status = EXCLUDED.status,
		    updated_at = EXCLUDED.updated_at
		RETURNING id
	`, override.ID, override.StoreID, override.SKU, overridePrice, nullIfEmpty(override.MarginType),
		override.MarginValue.String(), override.Status, override.UpdatedAt).Scan(&override.ID)
	if err != nil {
		return nil, err
	}

	saved := override
	return &saved, nil
}

func (s *Store) GetPriceOverride(ctx context.Context, storeID string, sku string) (*domain.StorePriceOverride, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.StorePriceOverride, error) {
		return s.getPriceOverride(ctx, storeID, sku)
	})
}

func (s *Store) getPriceOverride(ctx context.Context, storeID string, sku string) (*domain.StorePriceOverride, error) {
	var (
		override      domain.StorePriceOverride
		overridePrice sql.NullString
		marginType    sql.NullString
		marginValue   string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, sku, override_price, margin_type, margin_value, status, updated_at
		FROM store_price_overrides
		WHERE store_id = $1 AND sku = $2
	`, storeID, sku).Scan(&override.ID, &override.StoreID, &override.SKU, &overridePrice, &marginType, &marginValue, &override.Status, &override.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if overridePrice.Valid {
		override.HasOverride = true
		if override.OverridePrice, err = decimal.NewFromString(overridePrice.String); err != nil {
			return nil, err
		}
	}
	override.MarginType = marginType.String
	if override.MarginValue, err = decimal.NewFromString(marginValue); err != nil {
		return nil, err
	}
	override.UpdatedAt = override.UpdatedAt.UTC()
	return &override, nil
}

// AllocateStoreID reserves the next store id with a single atomic
// increment-and-return. A burned id from a failed provisioning stays
// reserved; ids are monotonic and never reused.
func (s *Store) AllocateStoreID(ctx context.Context) (string, error) {
	return allocateStoreID(ctx, s.db)
}

type execQueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func allocateStoreID(ctx context.Context, q execQueryRower) (string, error) {
	var current int64
	err := q.QueryRowContext(ctx, `
		UPDATE store_id_counter
		SET current = current + 1
		WHERE id = 1
		RETURNING current
	`).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrAllocation
		}
		return "", err
	}
	return fmt.Sprintf("STORE%04d", current), nil
}

func (s *Store) GetStore(ctx context.Context, storeID string) (*domain.Store, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.Store, error) {
		return s.getStore(ctx, storeID)
	})
}

func (s *Store) getStore(ctx context.Context, storeID string) (*domain.Store, error) {
	var st domain.Store
	err := s.db.QueryRowContext(ctx, `
		SELECT store_id, organization_id, name, email, COALESCE(phone,''), COALESCE(address,''),
		       gst_rate, discount_rate, status, created_at
		FROM stores
		WHERE store_id = $1
	`, storeID).Scan(&st.StoreID, &st.OrganizationID, &st.Name, &st.Email, &st.Phone, &st.Address,
		&st.GSTRate, &st.DiscountRate, &st.Status, &st.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	st.CreatedAt = st.CreatedAt.UTC()
	return &st, nil
}

// ProvisionStore creates the store and its owning user in one serializable
// transaction. An active user on the email aborts with ErrConflict; a
// pending user is relinked to the new store with a fresh signup token.
func (s *Store) ProvisionStore(ctx context.Context, prov domain.StoreProvision) (*domain.StoreProvisionResult, error) {
	if prov.Store.Email == "" || prov.Store.Name == "" || prov.Store.OrganizationID == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	st := prov.Store
	if st.StoreID == "" {
		st.StoreID, err = allocateStoreID(ctx, tx)
		if err != nil {
			return nil, err
		}
	}
	st.Status = domain.StoreStatusActive
	st.CreatedAt = prov.Now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stores (store_id, organization_id, name, email, phone, address, gst_rate, discount_rate, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, st.StoreID, st.OrganizationID, st.Name, st.Email, nullIfEmpty(st.Phone), nullIfEmpty(st.Address),
		st.GSTRate, st.DiscountRate, st.Status, st.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAllocation
		}
		return nil, err
	}

	var (
		user      domain.StoreUser
		userState = domain.ProvisionUserCreated
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, email, name, COALESCE(store_id,''), status, created_at
		FROM store_users
		WHERE email = $1
		FOR UPDATE
	`, st.Email).Scan(&user.ID, &user.Email, &user.Name, &user.StoreID, &user.Status, &user.CreatedAt)
	switch {
	case err == nil:
		if user.Status == domain.UserStatusActive {
			return nil, store.ErrConflict
		}
		userState = domain.ProvisionUserRelinked
		_, err = tx.ExecContext(ctx, `
			UPDATE store_users
			SET store_id = $2, status = $3, signup_token = $4, token_expiry = $5, updated_at = $6
			WHERE id = $1
		`, user.ID, st.StoreID, domain.UserStatusPending, prov.SignupToken, prov.TokenExpiry, prov.Now)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, sql.ErrNoRows):
		user = domain.StoreUser{
			ID:        prov.UserID,
			Email:     st.Email,
			Name:      prov.OwnerName,
			CreatedAt: prov.Now,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_users (id, email, name, store_id, status, signup_token, token_expiry, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, user.ID, user.Email, user.Name, st.StoreID, domain.UserStatusPending, prov.SignupToken, prov.TokenExpiry, prov.Now, prov.Now)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrConflict
			}
			return nil, err
		}
	default:
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	expiry := prov.TokenExpiry
	user.StoreID = st.StoreID
	user.Status = domain.UserStatusPending
	user.SignupToken = prov.SignupToken
	user.TokenExpiry = &expiry
	user.UpdatedAt = prov.Now

	return &domain.StoreProvisionResult{
		Store:     st,
		User:      user,
		UserState: userState,
	}, nil
}

func (s *Store) GetStoreUserByEmail(ctx context.Context, email string) (*domain.StoreUser, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.StoreUser, error) {
		return s.getStoreUserByEmail(ctx, email)
	})
}

func (s *Store) getStoreUserByEmail(ctx context.Context, email string) (*domain.StoreUser, error) {
	var (
		user        domain.StoreUser
		signupToken sql.NullString
		tokenExpiry sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, COALESCE(store_id,''), status, signup_token, token_expiry, created_at, updated_at
		FROM store_users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.Name, &user.StoreID, &user.Status, &signupToken, &tokenExpiry, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.SignupToken = signupToken.String
	if tokenExpiry.Valid {
		expiry := tokenExpiry.Time.UTC()
		user.TokenExpiry = &expiry
	}
	return &user, nil
}

func (s *Store) ActivateStoreUser(ctx context.Context, userID string, passwordHash string) (*domain.StoreUser, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE store_users
		SET status = $2, password_hash = $3, signup_token = NULL, token_expiry = NULL, updated_at = now()
		WHERE id = $1 AND status = $4
	`, userID, domain.UserStatusActive, passwordHash, domain.UserStatusPending)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM store_users WHERE id = $1)
		`, userID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConflict
	}

	var user domain.StoreUser
	err = s.db.QueryRowContext(ctx, `
		SELECT id, email, name, COALESCE(store_id,''), status, created_at, updated_at
		FROM store_users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.Email, &user.Name, &user.StoreID, &user.Status, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateSale persists the priced sale and decrements stock for every line in
// one serializable transaction. All failing SKUs are reported together; no
// row is touched unless every line can commit. A transaction id collision
// surfaces as ErrConflict for the caller's single re-mint.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.TransactionID == "" || sale.StoreID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var organizationID string
	err = tx.QueryRowContext(ctx, `
		SELECT organization_id FROM stores WHERE store_id = $1
	`, sale.StoreID).Scan(&organizationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	skus := make([]string, 0, len(sale.Lines))
	need := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		if _, seen := need[line.SKU]; !seen {
			skus = append(skus, line.SKU)
		}
		need[line.SKU] += line.Quantity
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT sku, stock
		FROM catalogue_items
		WHERE organization_id = $1 AND active = true AND sku = ANY($2)
		FOR UPDATE
	`, organizationID, skus)
	if err != nil {
		return nil, err
	}
	available := make(map[string]int, len(skus))
	for rows.Next() {
		var (
			sku   string
			stock int
		)
		if err := rows.Scan(&sku, &stock); err != nil {
			rows.Close()
			return nil, err
		}
		available[sku] = stock
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing, short []string
	for _, sku := range skus {
		stock, ok := available[sku]
		if !ok {
			missing = append(missing, sku)
			continue
		}
		if stock < need[sku] {
			short = append(short, sku)
		}
	}
	if len(missing) > 0 {
		return nil, store.NewCatalogueGapError(missing)
	}
	if len(short) > 0 {
		return nil, store.NewStockError(short)
	}

	// The stock >= qty guard re-checks under the row lock; a zero row count
	// means a concurrent sale got there first.
	for _, sku := range skus {
		res, err := tx.ExecContext(ctx, `
			UPDATE catalogue_items
			SET stock = stock - $3, updated_at = now()
			WHERE organization_id = $1 AND sku = $2 AND stock >= $3
		`, organizationID, sku, need[sku])
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.NewStockError([]string{sku})
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (transaction_id, store_id, payment_method, customer_name, customer_phone,
		                   sub_total, discount_total, gst_total, grand_total, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.TransactionID, sale.StoreID, sale.PaymentMethod, nullIfEmpty(sale.CustomerName), nullIfEmpty(sale.CustomerPhone),
		sale.SubTotal.String(), sale.DiscountTotal.String(), sale.GSTTotal.String(), sale.GrandTotal.String(), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range sale.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (transaction_id, sku, item_name, quantity, price_per_unit, subtotal, discount, gst, total)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.TransactionID, line.SKU, line.ItemName, line.Quantity, line.PricePerUnit.String(),
			line.Subtotal.String(), line.Discount.String(), line.GST.String(), line.Total.String())
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, transactionID string) (*domain.Sale, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.Sale, error) {
		return s.getSale(ctx, transactionID)
	})
}

func (s *Store) getSale(ctx context.Context, transactionID string) (*domain.Sale, error) {
	var sale domain.Sale
	var subTotal, discountTotal, gstTotal, grandTotal string
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, store_id, payment_method, COALESCE(customer_name,''), COALESCE(customer_phone,''),
		       sub_total, discount_total, gst_total, grand_total, created_at
		FROM sales
		WHERE transaction_id = $1
	`, transactionID).Scan(&sale.TransactionID, &sale.StoreID, &sale.PaymentMethod, &sale.CustomerName, &sale.CustomerPhone,
		&subTotal, &discountTotal, &gstTotal, &grandTotal, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if err := scanDecimals(map[*decimal.Decimal]string{
		&sale.SubTotal:      subTotal,
		&sale.DiscountTotal: discountTotal,
		&sale.GSTTotal:      gstTotal,
		&sale.GrandTotal:    grandTotal,
	}); err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, item_name, quantity, price_per_unit, subtotal, discount, gst, total
		FROM sale_items
		WHERE transaction_id = $1
		ORDER BY sku
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.SaleLine
		var pricePerUnit, subtotal, discount, gst, total string
		if err := rows.Scan(&line.SKU, &line.ItemName, &line.Quantity, &pricePerUnit, &subtotal, &discount, &gst, &total); err != nil {
			return nil, err
		}
		if err := scanDecimals(map[*decimal.Decimal]string{
			&line.PricePerUnit: pricePerUnit,
			&line.Subtotal:     subtotal,
			&line.Discount:     discount,
			&line.GST:          gst,
			&line.Total:        total,
		}); err != nil {
			return nil, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.StoreID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, store_id, status, admin_note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, order.ID, order.StoreID, order.Status, nullIfEmpty(order.AdminNote), order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range order.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, sku, item_name, quantity)
			VALUES ($1,$2,$3,$4)
		`, order.ID, line.SKU, line.ItemName, line.Quantity)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.Order, error) {
		return s.getOrder(ctx, orderID)
	})
}

func (s *Store) getOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		order     domain.Order
		invoiceID sql.NullString
		adminNote sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, store_id, status, invoice_id, admin_note, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID).Scan(&order.ID, &order.StoreID, &order.Status, &invoiceID, &adminNote, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	order.InvoiceID = invoiceID.String
	order.AdminNote = adminNote.String
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	order.Lines, err = s.loadOrderItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) loadOrderItems(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, item_name, quantity
		FROM order_items
		WHERE order_id = $1
		ORDER BY sku
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.SKU, &line.ItemName, &line.Quantity); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	return readRetry(ctx, func(ctx context.Context) ([]domain.Order, error) {
		return s.listOrders(ctx, storeID, status, limit)
	})
}

func (s *Store) listOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, status, invoice_id, admin_note, created_at, updated_at
		FROM orders
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	for rows.Next() {
		var (
			order     domain.Order
			invoiceID sql.NullString
			adminNote sql.NullString
		)
		if err := rows.Scan(&order.ID, &order.StoreID, &order.Status, &invoiceID, &adminNote, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, err
		}
		order.InvoiceID = invoiceID.String
		order.AdminNote = adminNote.String
		order.CreatedAt = order.CreatedAt.UTC()
		order.UpdatedAt = order.UpdatedAt.UTC()
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].Lines, err = s.loadOrderItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ApproveOrder locks the order row, prices every line at the organization's
// current catalogue cost and mints the invoice exactly once. The invoice_id
// column is the at-most-once guard: once set it is never overwritten, and an
// already-approved order returns unchanged.
func (s *Store) ApproveOrder(ctx context.Context, approval domain.OrderApproval) (*domain.Order, *domain.Invoice, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		order     domain.Order
		invoiceID sql.NullString
		adminNote sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, store_id, status, invoice_id, admin_note, created_at, updated_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, approval.OrderID).Scan(&order.ID, &order.StoreID, &order.Status, &invoiceID, &adminNote, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	order.InvoiceID = invoiceID.String
	order.AdminNote = adminNote.String

	if order.Status == domain.OrderStatusApproved {
		if err := tx.Commit(); err != nil {
			return nil, nil, err
		}
		invoice, err := s.GetInvoice(ctx, order.InvoiceID)
		if err != nil {
			return nil, nil, err
		}
		order.Lines, err = s.loadOrderItems(ctx, order.ID)
		if err != nil {
			return nil, nil, err
		}
		return &order, invoice, nil
	}
	if order.Status != domain.OrderStatusPending {
		return nil, nil, store.ErrConflict
	}

	var (
		storeName string
		orgName   string
		gstNumber string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT s.name, o.name, o.gst_number
		FROM stores s
		JOIN organizations o ON o.id = s.organization_id
		WHERE s.store_id = $1
	`, order.StoreID).Scan(&storeName, &orgName, &gstNumber)
	if err != nil {
		return nil, nil, err
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT oi.sku, oi.quantity, ci.item_name, ci.price
		FROM order_items oi
		LEFT JOIN catalogue_items ci
		  ON ci.sku = oi.sku
		 AND ci.active = true
		 AND ci.organization_id = (SELECT organization_id FROM stores WHERE store_id = $2)
		WHERE oi.order_id = $1
		ORDER BY oi.sku
	`, order.ID, order.StoreID)
	if err != nil {
		return nil, nil, err
	}

	var (
		missing  []string
		invLines []domain.InvoiceLine
		amount   = decimal.Zero
	)
	for itemRows.Next() {
		var (
			sku      string
			quantity int
			itemName sql.NullString
			price    sql.NullString
		)
		if err := itemRows.Scan(&sku, &quantity, &itemName, &price); err != nil {
			itemRows.Close()
			return nil, nil, err
		}
		order.Lines = append(order.Lines, domain.OrderLine{SKU: sku, ItemName: itemName.String, Quantity: quantity})
		if !price.Valid {
			missing = append(missing, sku)
			continue
		}
		unit, err := decimal.NewFromString(price.String)
		if err != nil {
			itemRows.Close()
			return nil, nil, err
		}
		total := unit.Mul(decimal.NewFromInt(int64(quantity)))
		invLines = append(invLines, domain.InvoiceLine{
			SKU:          sku,
			ItemName:     itemName.String,
			Quantity:     quantity,
			PricePerUnit: unit,
			Total:        total,
		})
		amount = amount.Add(total)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, nil, err
	}
	if len(missing) > 0 {
		return nil, nil, store.NewCatalogueGapError(missing)
	}

	invoice := domain.Invoice{
		ID:               approval.InvoiceID,
		InvoiceNo:        approval.InvoiceNo,
		Kind:             domain.InvoiceKindOrder,
		StoreID:          order.StoreID,
		OrderID:          order.ID,
		StoreName:        storeName,
		OrganizationName: orgName,
		GSTNumber:        gstNumber,
		Amount:           amount,
		Status:           domain.InvoiceStatusPending,
		Lines:            invLines,
		IssuedAt:         approval.Now,
	}

	// A pending order with an invoice already attached means a previous
	// approval was interrupted after invoicing. Keep that invoice.
	if order.InvoiceID == "" {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoices (id, invoice_no, kind, store_id, order_id, transaction_id,
			                      store_name, organization_name, gst_number, amount, status, issued_at)
			VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8,$9,$10,$11)
		`, invoice.ID, invoice.InvoiceNo, invoice.Kind, invoice.StoreID, invoice.OrderID,
			invoice.StoreName, invoice.OrganizationName, invoice.GSTNumber, invoice.Amount.String(), invoice.Status, invoice.IssuedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, nil, store.ErrConflict
			}
			return nil, nil, err
		}
		for _, line := range invoice.Lines {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO invoice_items (invoice_id, sku, item_name, quantity, price_per_unit, total)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, invoice.ID, line.SKU, line.ItemName, line.Quantity, line.PricePerUnit.String(), line.Total.String())
			if err != nil {
				return nil, nil, err
			}
		}
		order.InvoiceID = invoice.ID
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, invoice_id = $3, admin_note = $4, updated_at = $5
		WHERE id = $1
	`, order.ID, domain.OrderStatusApproved, order.InvoiceID, nullIfEmpty(approval.Note), approval.Now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	order.Status = domain.OrderStatusApproved
	order.AdminNote = approval.Note
	order.UpdatedAt = approval.Now
	return &order, &invoice, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from string, to string, note string) (*domain.Order, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $3, admin_note = COALESCE(NULLIF($4,''), admin_note), updated_at = now()
		WHERE id = $1 AND status = $2
	`, orderID, from, to, note)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.GetOrder(ctx, orderID); errors.Is(err, store.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConflict
	}
	return s.GetOrder(ctx, orderID)
}

func (s *Store) CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == "" || invoice.InvoiceNo == "" || invoice.StoreID == "" {
		return nil, store.ErrValidation
	}
	if invoice.IssuedAt.IsZero() {
		invoice.IssuedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, invoice_no, kind, store_id, order_id, transaction_id,
		                      store_name, organization_name, gst_number, amount, status, issued_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, invoice.ID, invoice.InvoiceNo, invoice.Kind, invoice.StoreID, nullIfEmpty(invoice.OrderID), nullIfEmpty(invoice.TransactionID),
		invoice.StoreName, invoice.OrganizationName, invoice.GSTNumber, invoice.Amount.String(), invoice.Status, invoice.IssuedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for _, line := range invoice.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, sku, item_name, quantity, price_per_unit, total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, invoice.ID, line.SKU, line.ItemName, line.Quantity, line.PricePerUnit.String(), line.Total.String())
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := invoice
	return &created, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return readRetry(ctx, func(ctx context.Context) (*domain.Invoice, error) {
		return s.getInvoice(ctx, invoiceID)
	})
}

func (s *Store) getInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	var (
		invoice       domain.Invoice
		orderID       sql.NullString
		transactionID sql.NullString
		amount        string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_no, kind, store_id, order_id, transaction_id,
		       store_name, organization_name, gst_number, amount, status, issued_at
		FROM invoices
		WHERE id = $1
	`, invoiceID).Scan(&invoice.ID, &invoice.InvoiceNo, &invoice.Kind, &invoice.StoreID, &orderID, &transactionID,
		&invoice.StoreName, &invoice.OrganizationName, &invoice.GSTNumber, &amount, &invoice.Status, &invoice.IssuedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoice.OrderID = orderID.String
	invoice.TransactionID = transactionID.String
	if invoice.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, err
	}
	invoice.IssuedAt = invoice.IssuedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, item_name, quantity, price_per_unit, total
		FROM invoice_items
		WHERE invoice_id = $1
		ORDER BY sku
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.InvoiceLine
		var pricePerUnit, total string
		if err := rows.Scan(&line.SKU, &line.ItemName, &line.Quantity, &pricePerUnit, &total); err != nil {
			return nil, err
		}
		if err := scanDecimals(map[*decimal.Decimal]string{
			&line.PricePerUnit: pricePerUnit,
			&line.Total:        total,
		}); err != nil {
			return nil, err
		}
		invoice.Lines = append(invoice.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, storeID string, limit int) ([]domain.Invoice, error) {
	return readRetry(ctx, func(ctx context.Context) ([]domain.Invoice, error) {
		return s.listInvoices(ctx, storeID, limit)
	})
}

func (s *Store) listInvoices(ctx context.Context, storeID string, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_no, kind, store_id, order_id, transaction_id,
		       store_name, organization_name, gst_number, amount, status, issued_at
		FROM invoices
		WHERE ($1 = '' OR store_id = $1)
		ORDER BY issued_at DESC, invoice_no DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	for rows.Next() {
		var (
			invoice       domain.Invoice
			orderID       sql.NullString
			transactionID sql.NullString
			amount        string
		)
		if err := rows.Scan(&invoice.ID, &invoice.InvoiceNo, &invoice.Kind, &invoice.StoreID, &orderID, &transactionID,
			&invoice.StoreName, &invoice.OrganizationName, &invoice.GSTNumber, &amount, &invoice.Status, &invoice.IssuedAt); err != nil {
			return nil, err
		}
		invoice.OrderID = orderID.String
		invoice.TransactionID = transactionID.String
		if invoice.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, err
		}
		invoice.IssuedAt = invoice.IssuedAt.UTC()
		invoices = append(invoices, invoice)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, store_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.StoreID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	return readRetry(ctx, func(ctx context.Context) ([]domain.UserAccount, error) {
		return s.listUsers(ctx)
	})
}

func (s *Store) listUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(store_id,''), active, created_at
		FROM app_users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.StoreID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $2 WHERE username = $1
	`, username, password)
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

func scanDecimals(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return err
		}
		*dst = parsed
	}
	return nil
}
