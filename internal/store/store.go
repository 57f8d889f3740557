package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gerailink/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrMissingCatalogue  = errors.New("missing catalogue entries")
	ErrValidation        = errors.New("validation failed")
	ErrAllocation        = errors.New("identifier allocation failed")
	ErrUnavailable       = errors.New("persistence unavailable")
)

// StockError reports every SKU whose available stock could not cover the
// requested quantity. It unwraps to ErrInsufficientStock.
type StockError struct {
	SKUs []string
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s", strings.Join(e.SKUs, ", "))
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }

// CatalogueGapError reports every requested SKU absent from the organization
// catalogue. It unwraps to ErrMissingCatalogue.
type CatalogueGapError struct {
	SKUs []string
}

func (e *CatalogueGapError) Error() string {
	return fmt.Sprintf("catalogue has no entry for %s", strings.Join(e.SKUs, ", "))
}

func (e *CatalogueGapError) Unwrap() error { return ErrMissingCatalogue }

// NewStockError sorts the SKUs so the message is stable for callers and logs.
func NewStockError(skus []string) *StockError {
	out := append([]string(nil), skus...)
	sort.Strings(out)
	return &StockError{SKUs: out}
}

func NewCatalogueGapError(skus []string) *CatalogueGapError {
	out := append([]string(nil), skus...)
	sort.Strings(out)
	return &CatalogueGapError{SKUs: out}
}

type Repository interface {
	GetOrganization(ctx context.Context, organizationID string) (*domain.Organization, error)
	CreateCatalogueItem(ctx context.Context, item domain.CatalogueItem) (*domain.CatalogueItem, error)
	GetCatalogueItem(ctx context.Context, organizationID string, sku string) (*domain.CatalogueItem, error)
	GetCatalogueItems(ctx context.Context, organizationID string, skus []string) (map[string]domain.CatalogueItem, error)
	SetCatalogueStock(ctx context.Context, organizationID string, sku string, stock int) error

	UpsertPriceOverride(ctx context.Context, override domain.StorePriceOverride) (*domain.StorePriceOverride, error)
	GetPriceOverride(ctx context.Context, storeID string, sku string) (*domain.StorePriceOverride, error)

	AllocateStoreID(ctx context.Context) (string, error)
	GetStore(ctx context.Context, storeID string) (*domain.Store, error)
	ProvisionStore(ctx context.Context, prov domain.StoreProvision) (*domain.StoreProvisionResult, error)

	GetStoreUserByEmail(ctx context.Context, email string) (*domain.StoreUser, error)
	ActivateStoreUser(ctx context.Context, userID string, passwordHash string) (*domain.StoreUser, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, transactionID string) (*domain.Sale, error)

	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, storeID string, status string, limit int) ([]domain.Order, error)
	ApproveOrder(ctx context.Context, approval domain.OrderApproval) (*domain.Order, *domain.Invoice, error)
	UpdateOrderStatus(ctx context.Context, orderID string, from string, to string, note string) (*domain.Order, error)

	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, storeID string, limit int) ([]domain.Invoice, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
