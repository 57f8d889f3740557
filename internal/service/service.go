package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"gerailink/backend/internal/docnum"
	"gerailink/backend/internal/domain"
	"gerailink/backend/internal/mailer"
	"gerailink/backend/internal/pricing"
	"gerailink/backend/internal/store"
	"gerailink/backend/internal/token"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	resolver *pricing.Resolver
	tokens   *token.Issuer
	mail     mailer.Mailer
}

func New(repo store.Repository, resolver *pricing.Resolver, tokens *token.Issuer, mail mailer.Mailer) *Service {
	if mail == nil {
		mail = mailer.LogMailer{}
	}

	return &Service{
		repo:     repo,
		resolver: resolver,
		tokens:   tokens,
		mail:     mail,
	}
}

// ProvisionStore creates a store and its owning user atomically. The store
// id is reserved up front; a failed provisioning burns the id, which keeps
// allocation collision-free without a rollback protocol. The signup email
// goes out only after the transaction committed, and a failed send is
// logged, never rolled back.
func (s *Service) ProvisionStore(ctx context.Context, req domain.ProvisionStoreRequest) (domain.ProvisionStoreResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ProvisionStoreResponse{}, fmt.Errorf("admin role required")
	}

	req.StoreName = strings.TrimSpace(req.StoreName)
	req.OwnerName = strings.TrimSpace(req.OwnerName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.OrganizationID == "" || req.StoreName == "" || req.Email == "" || !strings.Contains(req.Email, "@") {
		return domain.ProvisionStoreResponse{}, store.ErrValidation
	}
	if req.GSTRate < 0 || req.GSTRate > 100 || req.DiscountRate < 0 || req.DiscountRate > 100 {
		return domain.ProvisionStoreResponse{}, store.ErrValidation
	}
	if _, err := s.repo.GetOrganization(ctx, req.OrganizationID); err != nil {
		return domain.ProvisionStoreResponse{}, err
	}

	storeID, err := s.repo.AllocateStoreID(ctx)
	if err != nil {
		return domain.ProvisionStoreResponse{}, err
	}

	now := time.Now().UTC()
	userID := "usr-" + uuid.NewString()
	signupToken, tokenExpiry, err := s.tokens.IssueSignup(req.Email, storeID, now)
	if err != nil {
		return domain.ProvisionStoreResponse{}, err
	}

	result, err := s.repo.ProvisionStore(ctx, domain.StoreProvision{
		Store: domain.Store{
			StoreID:        storeID,
			OrganizationID: req.OrganizationID,
			Name:           req.StoreName,
			Email:          req.Email,
			Phone:          strings.TrimSpace(req.Phone),
			Address:        strings.TrimSpace(req.Address),
			GSTRate:        req.GSTRate,
			DiscountRate:   req.DiscountRate,
		},
		UserID:      userID,
		OwnerName:   req.OwnerName,
		SignupToken: signupToken,
		TokenExpiry: tokenExpiry,
		Now:         now,
	})
	if err != nil {
		return domain.ProvisionStoreResponse{}, err
	}

	emailSent := true
	if err := s.mail.SendSignupInvite(ctx, mailer.SignupInvite{
		To:          result.User.Email,
		StoreName:   result.Store.Name,
		StoreID:     result.Store.StoreID,
		SignupToken: signupToken,
	}); err != nil {
		emailSent = false
		log.Printf("[service] WARN: signup invite failed store=%s to=%s: %v", result.Store.StoreID, result.User.Email, err)
	}

	s.logAudit(ctx, result.Store.StoreID, "store_provision", "store", result.Store.StoreID, fmt.Sprintf("user=%s,state=%s", result.User.ID, result.UserState))

	return domain.ProvisionStoreResponse{
		Store:     result.Store,
		UserID:    result.User.ID,
		UserState: result.UserState,
		EmailSent: emailSent,
	}, nil
}

// CompleteSignup activates a provisioned store user. The token must match
// the one stored for the user; a relinked user's earlier invite stops
// working the moment a fresh token is minted.
func (s *Service) CompleteSignup(ctx context.Context, req domain.SignupCompleteRequest) (domain.SignupCompleteResponse, error) {
	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" || len(req.Password) < 8 {
		return domain.SignupCompleteResponse{}, store.ErrValidation
	}

	signup, err := s.tokens.VerifySignup(req.Token)
	if err != nil {
		return domain.SignupCompleteResponse{}, store.ErrValidation
	}

	user, err := s.repo.GetStoreUserByEmail(ctx, signup.Email)
	if err != nil {
		return domain.SignupCompleteResponse{}, err
	}
	if user.SignupToken != req.Token || user.TokenExpiry == nil || time.Now().UTC().After(*user.TokenExpiry) {
		return domain.SignupCompleteResponse{}, store.ErrValidation
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.SignupCompleteResponse{}, err
	}

	activated, err := s.repo.ActivateStoreUser(ctx, user.ID, string(hash))
	if err != nil {
		return domain.SignupCompleteResponse{}, err
	}

	// The login account mirrors the store user; an existing account from an
	// earlier relink keeps its username and just gets the new password.
	account := domain.UserAccount{
		Username:  activated.Email,
		Password:  string(hash),
		Role:      domain.RoleStore,
		StoreID:   activated.StoreID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, account); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			return domain.SignupCompleteResponse{}, err
		}
		if err := s.repo.UpdateUserPassword(ctx, activated.Email, string(hash)); err != nil {
			return domain.SignupCompleteResponse{}, err
		}
	}

	s.logAudit(ctx, activated.StoreID, "signup_complete", "store_user", activated.ID, "")
	return domain.SignupCompleteResponse{
		Email:   activated.Email,
		StoreID: activated.StoreID,
		Status:  activated.Status,
	}, nil
}

func (s *Service) QuotePrice(ctx context.Context, req domain.PriceQuoteRequest) (domain.PriceQuote, error) {
	storeID := strings.TrimSpace(req.StoreID)
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	if storeID == "" || sku == "" {
		return domain.PriceQuote{}, store.ErrValidation
	}
	if err := s.authorizeStore(ctx, storeID); err != nil {
		return domain.PriceQuote{}, err
	}

	quote, err := s.resolver.Quote(ctx, storeID, sku)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	return *quote, nil
}

// Checkout prices the cart, decrements stock and persists the sale in one
// repository transaction. Nothing is written when any line fails; a
// transaction id collision triggers exactly one re-mint.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	if req.StoreID == "" || len(req.Lines) == 0 {
		return domain.CheckoutResponse{}, store.ErrValidation
	}
	if err := s.authorizeStore(ctx, req.StoreID); err != nil {
		return domain.CheckoutResponse{}, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "cash"
	}

	st, err := s.repo.GetStore(ctx, req.StoreID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	// The same SKU on two cart lines is one line at persistence time. The
	// unit price is identical either way, so quantities and discounts add up
	// and the item tables keep one row per (transaction, sku).
	type cartEntry struct {
		quantity int
		discount decimal.Decimal
	}
	skus := make([]string, 0, len(req.Lines))
	merged := make(map[string]*cartEntry, len(req.Lines))
	for _, line := range req.Lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Quantity < 1 {
			return domain.CheckoutResponse{}, store.ErrValidation
		}

		discount := decimal.Zero
		if line.Discount != "" {
			discount, err = decimal.NewFromString(line.Discount)
			if err != nil || discount.Sign() < 0 {
				return domain.CheckoutResponse{}, store.ErrValidation
			}
		}

		entry, ok := merged[sku]
		if !ok {
			entry = &cartEntry{}
			merged[sku] = entry
			skus = append(skus, sku)
		}
		entry.quantity += line.Quantity
		entry.discount = entry.discount.Add(discount)
	}

	inputs := make([]pricing.LineInput, 0, len(skus))
	for _, sku := range skus {
		entry := merged[sku]

		quote, err := s.resolver.Quote(ctx, req.StoreID, sku)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		item, err := s.repo.GetCatalogueItem(ctx, st.OrganizationID, sku)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}

		subtotal := quote.SellPrice.Mul(decimal.NewFromInt(int64(entry.quantity)))
		if entry.discount.GreaterThan(subtotal) {
			return domain.CheckoutResponse{}, store.ErrValidation
		}

		inputs = append(inputs, pricing.LineInput{
			SKU:       sku,
			ItemName:  item.ItemName,
			Quantity:  entry.quantity,
			UnitPrice: quote.SellPrice,
			Discount:  entry.discount,
		})
	}

	lines, totals := pricing.PriceCart(inputs, st.GSTRate)

	sale := domain.Sale{
		StoreID:       req.StoreID,
		PaymentMethod: req.PaymentMethod,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		SubTotal:      totals.SubTotal,
		DiscountTotal: totals.DiscountTotal,
		GSTTotal:      totals.GSTTotal,
		GrandTotal:    totals.GrandTotal,
		Lines:         lines,
		CreatedAt:     time.Now().UTC(),
	}

	var created *domain.Sale
	for attempt := 0; attempt < 2; attempt++ {
		sale.TransactionID = docnum.NewTransactionID()
		created, err = s.repo.CreateSale(ctx, sale)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			return domain.CheckoutResponse{}, err
		}
	}
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, created.StoreID, "checkout", "sale", created.TransactionID, fmt.Sprintf("lines=%d,total=%s", len(created.Lines), pricing.Display(created.GrandTotal)))
	return toCheckoutResponse(created), nil
}

func (s *Service) GetSale(ctx context.Context, transactionID string) (domain.CheckoutResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.CheckoutResponse{}, store.ErrValidation
	}
	sale, err := s.repo.GetSale(ctx, transactionID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if err := s.authorizeStore(ctx, sale.StoreID); err != nil {
		return domain.CheckoutResponse{}, err
	}
	return toCheckoutResponse(sale), nil
}

// IssueSaleInvoice mints an invoice for a completed sale, snapshotting the
// store and organization identity at issuance time.
func (s *Service) IssueSaleInvoice(ctx context.Context, transactionID string) (domain.Invoice, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.Invoice{}, store.ErrValidation
	}

	sale, err := s.repo.GetSale(ctx, transactionID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := s.authorizeStore(ctx, sale.StoreID); err != nil {
		return domain.Invoice{}, err
	}
	st, err := s.repo.GetStore(ctx, sale.StoreID)
	if err != nil {
		return domain.Invoice{}, err
	}
	org, err := s.repo.GetOrganization(ctx, st.OrganizationID)
	if err != nil {
		return domain.Invoice{}, err
	}

	invoice := domain.Invoice{
		ID:               "inv-" + uuid.NewString(),
		Kind:             domain.InvoiceKindSale,
		StoreID:          sale.StoreID,
		TransactionID:    sale.TransactionID,
		StoreName:        st.Name,
		OrganizationName: org.Name,
		GSTNumber:        org.GSTNumber,
		Amount:           sale.GrandTotal,
		Status:           domain.InvoiceStatusPending,
		IssuedAt:         time.Now().UTC(),
	}

	var created *domain.Invoice
	for attempt := 0; attempt < 2; attempt++ {
		invoice.InvoiceNo = docnum.New("INV")
		created, err = s.repo.CreateInvoice(ctx, invoice)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) {
			return domain.Invoice{}, err
		}
	}
	if err != nil {
		return domain.Invoice{}, err
	}

	s.logAudit(ctx, created.StoreID, "invoice_issue", "invoice", created.InvoiceNo, "kind=sale")
	return *created, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	req.StoreID = strings.TrimSpace(req.StoreID)
	if req.StoreID == "" || len(req.Lines) == 0 {
		return domain.Order{}, store.ErrValidation
	}
	if err := s.authorizeStore(ctx, req.StoreID); err != nil {
		return domain.Order{}, err
	}

	// Duplicate SKUs across lines collapse into one, matching the one row
	// per (order, sku) layout of the order_items table.
	lines := make([]domain.OrderLine, 0, len(req.Lines))
	index := make(map[string]int, len(req.Lines))
	for _, line := range req.Lines {
		sku := strings.ToUpper(strings.TrimSpace(line.SKU))
		if sku == "" || line.Quantity < 1 {
			return domain.Order{}, store.ErrValidation
		}
		if at, ok := index[sku]; ok {
			lines[at].Quantity += line.Quantity
			continue
		}
		index[sku] = len(lines)
		lines = append(lines, domain.OrderLine{
			SKU:      sku,
			ItemName: strings.TrimSpace(line.ItemName),
			Quantity: line.Quantity,
		})
	}

	order := domain.Order{
		ID:      "ord-" + uuid.NewString(),
		StoreID: req.StoreID,
		Status:  domain.OrderStatusPending,
		Lines:   lines,
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, created.StoreID, "order_create", "order", created.ID, fmt.Sprintf("lines=%d", len(created.Lines)))
	return *created, nil
}

// ApproveOrder moves a pending order to approved and mints its wholesale
// invoice, priced at the organization's current catalogue cost. Approving an
// already-approved order returns it with the existing invoice and creates
// nothing. A missing catalogue entry fails the whole approval and names
// every absent SKU.
func (s *Service) ApproveOrder(ctx context.Context, orderID string, note string) (domain.OrderResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.OrderResponse{}, fmt.Errorf("admin role required")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderResponse{}, store.ErrValidation
	}

	var (
		order   *domain.Order
		invoice *domain.Invoice
		err     error
	)
	// One retry with a fresh invoice number covers the rare number collision.
	// A state conflict fails identically on retry and propagates.
	for attempt := 0; attempt < 2; attempt++ {
		order, invoice, err = s.repo.ApproveOrder(ctx, domain.OrderApproval{
			OrderID:   orderID,
			InvoiceID: "inv-" + uuid.NewString(),
			InvoiceNo: docnum.New("BILL"),
			Note:      strings.TrimSpace(note),
			Now:       time.Now().UTC(),
		})
		if err == nil || !errors.Is(err, store.ErrConflict) {
			break
		}
	}
	if err != nil {
		return domain.OrderResponse{}, err
	}

	s.logAudit(ctx, order.StoreID, "order_approve", "order", order.ID, fmt.Sprintf("invoice=%s", order.InvoiceID))
	return domain.OrderResponse{Order: *order, Invoice: invoice}, nil
}

func (s *Service) RejectOrder(ctx context.Context, orderID string, note string) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Order{}, fmt.Errorf("admin role required")
	}
	orderID = strings.TrimSpace(orderID)
	note = strings.TrimSpace(note)
	if orderID == "" || note == "" {
		return domain.Order{}, store.ErrValidation
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusPending, domain.OrderStatusRejected, note)
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, order.StoreID, "order_reject", "order", order.ID, note)
	return *order, nil
}

func (s *Service) FulfillOrder(ctx context.Context, orderID string, note string) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Order{}, fmt.Errorf("admin role required")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, store.ErrValidation
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderID, domain.OrderStatusApproved, domain.OrderStatusFulfilled, strings.TrimSpace(note))
	if err != nil {
		return domain.Order{}, err
	}

	s.logAudit(ctx, order.StoreID, "order_fulfill", "order", order.ID, "")
	return *order, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.OrderResponse, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.OrderResponse{}, store.ErrValidation
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderResponse{}, err
	}
	if err := s.authorizeStore(ctx, order.StoreID); err != nil {
		return domain.OrderResponse{}, err
	}

	resp := domain.OrderResponse{Order: *order}
	if order.InvoiceID != "" {
		if invoice, err := s.repo.GetInvoice(ctx, order.InvoiceID); err == nil {
			resp.Invoice = invoice
		}
	}
	return resp, nil
}

func (s *Service) ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListOrders(ctx, strings.TrimSpace(storeID), strings.TrimSpace(status), limit)
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Invoice{}, store.ErrValidation
	}
	invoice, err := s.repo.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := s.authorizeStore(ctx, invoice.StoreID); err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) ListInvoices(ctx context.Context, storeID string, limit int) ([]domain.Invoice, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		storeID = actor.StoreID
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListInvoices(ctx, strings.TrimSpace(storeID), limit)
}

func (s *Service) CreateCatalogueItem(ctx context.Context, req domain.CatalogueItemCreateRequest) (domain.CatalogueItem, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CatalogueItem{}, fmt.Errorf("admin role required")
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	name := strings.TrimSpace(req.ItemName)
	if req.OrganizationID == "" || sku == "" || name == "" || req.InitialStock < 0 {
		return domain.CatalogueItem{}, store.ErrValidation
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || price.Sign() <= 0 {
		return domain.CatalogueItem{}, store.ErrValidation
	}

	created, err := s.repo.CreateCatalogueItem(ctx, domain.CatalogueItem{
		SKU:            sku,
		OrganizationID: req.OrganizationID,
		ItemName:       name,
		Price:          price,
		Stock:          req.InitialStock,
		Active:         true,
	})
	if err != nil {
		return domain.CatalogueItem{}, err
	}

	s.logAudit(ctx, "", "catalogue_create", "catalogue_item", created.SKU, fmt.Sprintf("price=%s,stock=%d", pricing.Display(created.Price), created.Stock))
	return *created, nil
}

func (s *Service) SetCatalogueStock(ctx context.Context, req domain.StockSetRequest) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	if req.OrganizationID == "" || sku == "" || req.Stock < 0 {
		return store.ErrValidation
	}
	if err := s.repo.SetCatalogueStock(ctx, req.OrganizationID, sku, req.Stock); err != nil {
		return err
	}

	s.logAudit(ctx, "", "stock_set", "catalogue_item", sku, fmt.Sprintf("stock=%d", req.Stock))
	return nil
}

func (s *Service) UpsertPriceOverride(ctx context.Context, req domain.PriceOverrideRequest) (domain.StorePriceOverride, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.StorePriceOverride{}, fmt.Errorf("admin role required")
	}

	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	storeID := strings.TrimSpace(req.StoreID)
	if storeID == "" || sku == "" {
		return domain.StorePriceOverride{}, store.ErrValidation
	}

	override := domain.StorePriceOverride{
		ID:      "ovr-" + uuid.NewString(),
		StoreID: storeID,
		SKU:     sku,
		Status:  domain.StoreStatusActive,
	}
	if req.Status == domain.StoreStatusInactive {
		override.Status = domain.StoreStatusInactive
	}

	switch {
	case req.OverridePrice != "":
		price, err := decimal.NewFromString(req.OverridePrice)
		if err != nil || price.Sign() <= 0 {
			return domain.StorePriceOverride{}, store.ErrValidation
		}
		override.HasOverride = true
		override.OverridePrice = price
	case req.MarginType != "":
		if req.MarginType != domain.MarginTypePercentage && req.MarginType != domain.MarginTypeAbsolute {
			return domain.StorePriceOverride{}, store.ErrValidation
		}
		value, err := decimal.NewFromString(req.MarginValue)
		if err != nil {
			return domain.StorePriceOverride{}, store.ErrValidation
		}
		override.MarginType = req.MarginType
		override.MarginValue = value
	default:
		return domain.StorePriceOverride{}, store.ErrValidation
	}

	saved, err := s.repo.UpsertPriceOverride(ctx, override)
	if err != nil {
		return domain.StorePriceOverride{}, err
	}

	if err := s.resolver.Invalidate(ctx, storeID, sku); err != nil {
		log.Printf("[service] WARN: price cache invalidation failed store=%s sku=%s: %v", storeID, sku, err)
	}

	s.logAudit(ctx, storeID, "price_override", "override", saved.SKU, saved.Status)
	return *saved, nil
}

// authorizeStore allows admins everywhere and store actors only within their
// own store.
func (s *Service) authorizeStore(ctx context.Context, storeID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	if actor.Role == domain.RoleStore && actor.StoreID == storeID {
		return nil
	}
	return fmt.Errorf("store role not permitted for store %s", storeID)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	log.Printf("[audit] actor=%s role=%s store=%s action=%s entity=%s/%s detail=%s",
		actor.Username, actor.Role, storeID, action, entityType, entityID, detail)
}

func toCheckoutResponse(sale *domain.Sale) domain.CheckoutResponse {
	lines := make([]domain.CheckoutLineView, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		lines = append(lines, domain.CheckoutLineView{
			SKU:          line.SKU,
			ItemName:     line.ItemName,
			Quantity:     line.Quantity,
			PricePerUnit: pricing.Display(line.PricePerUnit),
			Subtotal:     pricing.Display(line.Subtotal),
			Discount:     pricing.Display(line.Discount),
			GST:          pricing.Display(line.GST),
			Total:        pricing.Display(line.Total),
		})
	}

	return domain.CheckoutResponse{
		TransactionID: sale.TransactionID,
		StoreID:       sale.StoreID,
		PaymentMethod: sale.PaymentMethod,
		SubTotal:      pricing.Display(sale.SubTotal),
		DiscountTotal: pricing.Display(sale.DiscountTotal),
		GSTTotal:      pricing.Display(sale.GSTTotal),
		GrandTotal:    pricing.Display(sale.GrandTotal),
		Lines:         lines,
		CreatedAt:     sale.CreatedAt.Format(time.RFC3339),
	}
}
