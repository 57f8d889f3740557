package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/store"
)

type Store struct {
	mu               sync.RWMutex
	organizations    map[string]domain.Organization
	catalogue        map[string]map[string]domain.CatalogueItem
	overrides        map[string]map[string]domain.StorePriceOverride
	stores           map[string]domain.Store
	storeUsersByID   map[string]domain.StoreUser
	storeUserByEmail map[string]string
	salesByID        map[string]*domain.Sale
	ordersByID       map[string]*domain.Order
	invoicesByID     map[string]domain.Invoice
	invoiceIDByNo    map[string]string
	usersByUsername  map[string]domain.UserAccount
	storeCounter     int64
}

// seedUsers builds the initial app accounts for dev/demo mode. Credentials
// come from SEED_ADMIN_PASSWORD and SEED_STORE_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments run on
// PostgreSQL and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	storePwd := envOr("SEED_STORE_PASSWORD", "store123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STORE_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STORE_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		storeID  string
	}{
		{"admin", adminPwd, domain.RoleAdmin, ""},
		{"toko1", storePwd, domain.RoleStore, "STORE0001"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			StoreID:   u.storeID,
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

func NewSeeded() *Store {
	now := time.Now().UTC()
	org := domain.Organization{
		ID:        "org-demo",
		Name:      "Gerai Nusantara",
		GSTNumber: "GST-1203-4455",
		Status:    "active",
		CreatedAt: now,
	}

	items := []domain.CatalogueItem{
		{SKU: "SKU-BERAS-01", ItemName: "Beras Premium 5kg", Price: dec("68000"), Stock: 120, Active: true},
		{SKU: "SKU-MINYAK-01", ItemName: "Minyak Goreng 1L", Price: dec("17500"), Stock: 200, Active: true},
		{SKU: "SKU-GULA-01", ItemName: "Gula Pasir 1kg", Price: dec("17400"), Stock: 150, Active: true},
		{SKU: "SKU-KOPI-01", ItemName: "Kopi Bubuk 200g", Price: dec("24500"), Stock: 90, Active: true},
		{SKU: "SKU-TEH-01", ItemName: "Teh Celup Isi 25", Price: dec("9800"), Stock: 140, Active: true},
		{SKU: "SKU-SUSU-01", ItemName: "Susu UHT 1L", Price: dec("18900"), Stock: 80, Active: true},
		{SKU: "SKU-MIE-01", ItemName: "Mie Instan Dus", Price: dec("105000"), Stock: 60, Active: true},
		{SKU: "SKU-SABUN-01", ItemName: "Sabun Mandi Batang", Price: dec("7400"), Stock: 180, Active: true},
	}

	catalogue := map[string]map[string]domain.CatalogueItem{org.ID: {}}
	for _, item := range items {
		item.OrganizationID = org.ID
		catalogue[org.ID][item.SKU] = item
	}

	firstStore := domain.Store{
		StoreID:        "STORE0001",
		OrganizationID: org.ID,
		Name:           "Gerai Merdeka",
		Email:          "toko1@gerainusantara.example",
		GSTRate:        11,
		DiscountRate:   5,
		Status:         domain.StoreStatusActive,
		CreatedAt:      now,
	}

	return &Store{
		organizations:    map[string]domain.Organization{org.ID: org},
		catalogue:        catalogue,
		overrides:        map[string]map[string]domain.StorePriceOverride{},
		stores:           map[string]domain.Store{firstStore.StoreID: firstStore},
		storeUsersByID:   map[string]domain.StoreUser{},
		storeUserByEmail: map[string]string{},
		salesByID:        map[string]*domain.Sale{},
		ordersByID:       map[string]*domain.Order{},
		invoicesByID:     map[string]domain.Invoice{},
		invoiceIDByNo:    map[string]string{},
		usersByUsername:  seedUsers(),
		storeCounter:     1,
	}
}

func (s *Store) GetOrganization(_ context.Context, organizationID string) (*domain.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[organizationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrg := org
	return &copyOrg, nil
}

func (s *Store) CreateCatalogueItem(_ context.Context, item domain.CatalogueItem) (*domain.CatalogueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.SKU == "" || item.OrganizationID == "" || item.ItemName == "" || item.Price.Sign() <= 0 {
		return nil, store.ErrValidation
	}
	if item.Stock < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.organizations[item.OrganizationID]; !exists {
		return nil, store.ErrNotFound
	}
	orgItems, ok := s.catalogue[item.OrganizationID]
	if !ok {
		orgItems = map[string]domain.CatalogueItem{}
		s.catalogue[item.OrganizationID] = orgItems
	}
	if _, exists := orgItems[item.SKU]; exists {
		return nil, store.ErrConflict
	}

	item.Active = true
	orgItems[item.SKU] = item
	created := item
	return &created, nil
}

func (s *Store) GetCatalogueItem(_ context.Context, organizationID string, sku string) (*domain.CatalogueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.catalogue[organizationID][sku]
	if !exists || !item.Active {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetCatalogueItems(_ context.Context, organizationID string, skus []string) (map[string]domain.CatalogueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.CatalogueItem, len(skus))
	for _, sku := range skus {
		if item, ok := s.catalogue[organizationID][sku]; ok && item.Active {
			result[sku] = item
		}
	}
	return result, nil
}

func (s *Store) SetCatalogueStock(_ context.Context, organizationID string, sku string, stock int) error {
	if sku == "" || stock < 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.catalogue[organizationID][sku]
	if !exists {
		return store.ErrNotFound
	}
	item.Stock = stock
	s.catalogue[organizationID][sku] = item
	return nil
}

func (s *Store) UpsertPriceOverride(_ context.Context, override domain.StorePriceOverride) (*domain.StorePriceOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if override.StoreID == "" || override.SKU == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.stores[override.StoreID]; !exists {
		return nil, store.ErrNotFound
	}

	byStore, ok := s.overrides[override.StoreID]
	if !ok {
		byStore = map[string]domain.StorePriceOverride{}
		s.overrides[override.StoreID] = byStore
	}
	if existing, exists := byStore[override.SKU]; exists {
		override.ID = existing.ID
	}
	if override.UpdatedAt.IsZero() {
		override.UpdatedAt = time.Now().UTC()
	}
	byStore[override.SKU] = override
	saved := override
	return &saved, nil
}

func (s *Store) GetPriceOverride(_ context.Context, storeID string, sku string) (*domain.StorePriceOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	override, exists := s.overrides[storeID][sku]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOverride := override
	return &copyOverride, nil
}

func (s *Store) AllocateStoreID(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocateStoreIDLocked(), nil
}

// allocateStoreIDLocked increments the counter and formats the id. Widths
// grow past four digits once the counter does; ids are never reused.
func (s *Store) allocateStoreIDLocked() string {
	s.storeCounter++
	return fmt.Sprintf("STORE%04d", s.storeCounter)
}

func (s *Store) GetStore(_ context.Context, storeID string) (*domain.Store, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.stores[storeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyStore := st
	return &copyStore, nil
}

func (s *Store) ProvisionStore(_ context.Context, prov domain.StoreProvision) (*domain.StoreProvisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(prov.Store.Email))
	if email == "" || prov.Store.Name == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.organizations[prov.Store.OrganizationID]; !exists {
		return nil, store.ErrNotFound
	}

	userState := domain.ProvisionUserCreated
	var user domain.StoreUser
	if userID, exists := s.storeUserByEmail[email]; exists {
		existing := s.storeUsersByID[userID]
		if existing.Status == domain.UserStatusActive {
			return nil, store.ErrConflict
		}
		user = existing
		userState = domain.ProvisionUserRelinked
	} else {
		user = domain.StoreUser{
			ID:        prov.UserID,
			Email:     email,
			Name:      prov.OwnerName,
			CreatedAt: prov.Now,
		}
	}

	st := prov.Store
	if st.StoreID == "" {
		st.StoreID = s.allocateStoreIDLocked()
	} else if _, exists := s.stores[st.StoreID]; exists {
		return nil, store.ErrAllocation
	}
	st.Email = email
	st.Status = domain.StoreStatusActive
	st.CreatedAt = prov.Now

	expiry := prov.TokenExpiry
	user.StoreID = st.StoreID
	user.Status = domain.UserStatusPending
	user.SignupToken = prov.SignupToken
	user.TokenExpiry = &expiry
	user.UpdatedAt = prov.Now

	s.stores[st.StoreID] = st
	s.storeUsersByID[user.ID] = user
	s.storeUserByEmail[email] = user.ID

	return &domain.StoreProvisionResult{
		Store:     st,
		User:      user,
		UserState: userState,
	}, nil
}

func (s *Store) GetStoreUserByEmail(_ context.Context, email string) (*domain.StoreUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	userID, exists := s.storeUserByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, store.ErrNotFound
	}
	user := s.storeUsersByID[userID]
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ActivateStoreUser(_ context.Context, userID string, passwordHash string) (*domain.StoreUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.storeUsersByID[userID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if user.Status != domain.UserStatusPending {
		return nil, store.ErrConflict
	}

	user.Status = domain.UserStatusActive
	user.PasswordHash = passwordHash
	user.SignupToken = ""
	user.TokenExpiry = nil
	user.UpdatedAt = time.Now().UTC()
	s.storeUsersByID[userID] = user

	copyUser := user
	return &copyUser, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.TransactionID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.salesByID[sale.TransactionID]; exists {
		return nil, store.ErrConflict
	}
	st, exists := s.stores[sale.StoreID]
	if !exists {
		return nil, store.ErrNotFound
	}
	orgItems := s.catalogue[st.OrganizationID]

	skus := make([]string, 0, len(sale.Lines))
	need := make(map[string]int, len(sale.Lines))
	for _, line := range sale.Lines {
		if _, seen := need[line.SKU]; !seen {
			skus = append(skus, line.SKU)
		}
		need[line.SKU] += line.Quantity
	}

	var missing []string
	var short []string
	for _, sku := range skus {
		item, ok := orgItems[sku]
		if !ok || !item.Active {
			missing = append(missing, sku)
			continue
		}
		if item.Stock < need[sku] {
			short = append(short, sku)
		}
	}
	if len(missing) > 0 {
		return nil, store.NewCatalogueGapError(missing)
	}
	if len(short) > 0 {
		return nil, store.NewStockError(short)
	}

	for _, sku := range skus {
		item := orgItems[sku]
		item.Stock -= need[sku]
		orgItems[sku] = item
	}

	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	saved := cloneSale(&sale)
	s.salesByID[sale.TransactionID] = saved
	return cloneSale(saved), nil
}

func (s *Store) GetSale(_ context.Context, transactionID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[transactionID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" || order.StoreID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.stores[order.StoreID]; !exists {
		return nil, store.ErrNotFound
	}
	if _, exists := s.ordersByID[order.ID]; exists {
		return nil, store.ErrConflict
	}

	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	saved := cloneOrder(&order)
	s.ordersByID[order.ID] = saved
	return cloneOrder(saved), nil
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (s *Store) ListOrders(_ context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if storeID != "" && order.StoreID != storeID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, *cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ApproveOrder(_ context.Context, approval domain.OrderApproval) (*domain.Order, *domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[approval.OrderID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}

	// Re-approving an approved order is a no-op: return the order and its
	// existing invoice untouched.
	if order.Status == domain.OrderStatusApproved {
		invoice := s.invoicesByID[order.InvoiceID]
		copyInvoice := cloneInvoice(invoice)
		return cloneOrder(order), &copyInvoice, nil
	}
	if order.Status != domain.OrderStatusPending {
		return nil, nil, store.ErrConflict
	}

	st, exists := s.stores[order.StoreID]
	if !exists {
		return nil, nil, store.ErrNotFound
	}
	org := s.organizations[st.OrganizationID]
	orgItems := s.catalogue[st.OrganizationID]

	var missing []string
	for _, line := range order.Lines {
		if item, ok := orgItems[line.SKU]; !ok || !item.Active {
			missing = append(missing, line.SKU)
		}
	}
	if len(missing) > 0 {
		return nil, nil, store.NewCatalogueGapError(missing)
	}

	amount := decimal.Zero
	lines := make([]domain.InvoiceLine, 0, len(order.Lines))
	for _, line := range order.Lines {
		item := orgItems[line.SKU]
		total := item.Price.Mul(decimal.NewFromInt(int64(line.Quantity)))
		lines = append(lines, domain.InvoiceLine{
			SKU:          line.SKU,
			ItemName:     item.ItemName,
			Quantity:     line.Quantity,
			PricePerUnit: item.Price,
			Total:        total,
		})
		amount = amount.Add(total)
	}

	// The invoice id check is the at-most-once guard. A pending order with an
	// invoice already attached means a previous approval got interrupted after
	// invoicing; never mint a second one.
	if order.InvoiceID == "" {
		if _, taken := s.invoiceIDByNo[approval.InvoiceNo]; taken {
			return nil, nil, store.ErrConflict
		}
		invoice := domain.Invoice{
			ID:               approval.InvoiceID,
			InvoiceNo:        approval.InvoiceNo,
			Kind:             domain.InvoiceKindOrder,
			StoreID:          order.StoreID,
			OrderID:          order.ID,
			StoreName:        st.Name,
			OrganizationName: org.Name,
			GSTNumber:        org.GSTNumber,
			Amount:           amount,
			Status:           domain.InvoiceStatusPending,
			Lines:            lines,
			IssuedAt:         approval.Now,
		}
		s.invoicesByID[invoice.ID] = invoice
		s.invoiceIDByNo[invoice.InvoiceNo] = invoice.ID
		order.InvoiceID = invoice.ID
	}

	order.Status = domain.OrderStatusApproved
	order.AdminNote = approval.Note
	order.UpdatedAt = approval.Now

	invoice := s.invoicesByID[order.InvoiceID]
	copyInvoice := cloneInvoice(invoice)
	return cloneOrder(order), &copyInvoice, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID string, from string, to string, note string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if order.Status != from {
		return nil, store.ErrConflict
	}
	order.Status = to
	if note != "" {
		order.AdminNote = note
	}
	order.UpdatedAt = time.Now().UTC()
	return cloneOrder(order), nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if invoice.ID == "" || invoice.InvoiceNo == "" {
		return nil, store.ErrValidation
	}
	if _, taken := s.invoiceIDByNo[invoice.InvoiceNo]; taken {
		return nil, store.ErrConflict
	}
	if invoice.IssuedAt.IsZero() {
		invoice.IssuedAt = time.Now().UTC()
	}
	s.invoicesByID[invoice.ID] = invoice
	s.invoiceIDByNo[invoice.InvoiceNo] = invoice.ID
	saved := cloneInvoice(invoice)
	return &saved, nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	invoice, exists := s.invoicesByID[invoiceID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyInvoice := cloneInvoice(invoice)
	return &copyInvoice, nil
}

func (s *Store) ListInvoices(_ context.Context, storeID string, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, invoice := range s.invoicesByID {
		if storeID != "" && invoice.StoreID != storeID {
			continue
		}
		result = append(result, cloneInvoice(invoice))
	}
	slices.SortFunc(result, func(a, b domain.Invoice) int {
		if a.IssuedAt.Equal(b.IssuedAt) {
			return cmpString(b.InvoiceNo, a.InvoiceNo)
		}
		if a.IssuedAt.After(b.IssuedAt) {
			return -1
		}
		return 1
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
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleStore
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
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
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneOrder(src *domain.Order) *domain.Order {
	if src == nil {
		return nil
	}
	dup := *src
	lines := make([]domain.OrderLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return &dup
}

func cloneInvoice(src domain.Invoice) domain.Invoice {
	dup := src
	lines := make([]domain.InvoiceLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
