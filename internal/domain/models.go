package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	GSTNumber string    `json:"gst_number"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type CatalogueItem struct {
	SKU            string          `json:"sku"`
	OrganizationID string          `json:"organization_id"`
	ItemName       string          `json:"item_name"`
	Price          decimal.Decimal `json:"price"`
	Stock          int             `json:"stock"`
	Active         bool            `json:"active"`
}

type CatalogueItemCreateRequest struct {
	OrganizationID string `json:"organization_id"`
	SKU            string `json:"sku"`
	ItemName       string `json:"item_name"`
	Price          string `json:"price"`
	InitialStock   int    `json:"initial_stock"`
}

type StockSetRequest struct {
	OrganizationID string `json:"organization_id"`
	SKU            string `json:"sku"`
	Stock          int    `json:"stock"`
}

type StorePriceOverride struct {
	ID            string          `json:"id"`
	StoreID       string          `json:"store_id"`
	SKU           string          `json:"sku"`
	OverridePrice decimal.Decimal `json:"override_price"`
	HasOverride   bool            `json:"has_override"`
	MarginType    string          `json:"margin_type,omitempty"`
	MarginValue   decimal.Decimal `json:"margin_value"`
	Status        string          `json:"status"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type PriceOverrideRequest struct {
	StoreID       string `json:"store_id"`
	SKU           string `json:"sku"`
	OverridePrice string `json:"override_price,omitempty"`
	MarginType    string `json:"margin_type,omitempty"`
	MarginValue   string `json:"margin_value,omitempty"`
	Status        string `json:"status,omitempty"`
}

type Store struct {
	StoreID        string    `json:"store_id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Address        string    `json:"address,omitempty"`
	GSTRate        float64   `json:"gst_rate"`
	DiscountRate   float64   `json:"discount_rate"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

type StoreUser struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	StoreID      string     `json:"store_id"`
	Status       string     `json:"status"`
	SignupToken  string     `json:"-"`
	TokenExpiry  *time.Time `json:"-"`
	PasswordHash string     `json:"-"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type ProvisionStoreRequest struct {
	OrganizationID string  `json:"organization_id"`
	StoreName      string  `json:"store_name"`
	OwnerName      string  `json:"owner_name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone,omitempty"`
	Address        string  `json:"address,omitempty"`
	GSTRate        float64 `json:"gst_rate"`
	DiscountRate   float64 `json:"discount_rate"`
}

type ProvisionStoreResponse struct {
	Store     Store  `json:"store"`
	UserID    string `json:"user_id"`
	UserState string `json:"user_state"`
	EmailSent bool   `json:"email_sent"`
}

type SignupCompleteRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type SignupCompleteResponse struct {
	Email   string `json:"email"`
	StoreID string `json:"store_id"`
	Status  string `json:"status"`
}

type PriceQuoteRequest struct {
	StoreID string `json:"store_id"`
	SKU     string `json:"sku"`
}

type PriceQuote struct {
	StoreID   string          `json:"store_id"`
	SKU       string          `json:"sku"`
	BasePrice decimal.Decimal `json:"base_price"`
	SellPrice decimal.Decimal `json:"sell_price"`
	Source    string          `json:"source"`
}

type CartLine struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Discount string `json:"discount,omitempty"`
}

type CheckoutRequest struct {
	StoreID       string     `json:"store_id"`
	PaymentMethod string     `json:"payment_method"`
	CustomerName  string     `json:"customer_name,omitempty"`
	CustomerPhone string     `json:"customer_phone,omitempty"`
	Lines         []CartLine `json:"lines"`
}

type SaleLine struct {
	SKU          string          `json:"sku"`
	ItemName     string          `json:"item_name"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	Discount     decimal.Decimal `json:"discount"`
	GST          decimal.Decimal `json:"gst"`
	Total        decimal.Decimal `json:"total"`
}

type Sale struct {
	TransactionID string          `json:"transaction_id"`
	StoreID       string          `json:"store_id"`
	PaymentMethod string          `json:"payment_method"`
	CustomerName  string          `json:"customer_name,omitempty"`
	CustomerPhone string          `json:"customer_phone,omitempty"`
	SubTotal      decimal.Decimal `json:"sub_total"`
	DiscountTotal decimal.Decimal `json:"discount_total"`
	GSTTotal      decimal.Decimal `json:"gst_total"`
	GrandTotal    decimal.Decimal `json:"grand_total"`
	Lines         []SaleLine      `json:"lines"`
	CreatedAt     time.Time       `json:"created_at"`
}

type CheckoutLineView struct {
	SKU          string `json:"sku"`
	ItemName     string `json:"item_name"`
	Quantity     int    `json:"quantity"`
	PricePerUnit string `json:"price_per_unit"`
	Subtotal     string `json:"subtotal"`
	Discount     string `json:"discount"`
	GST          string `json:"gst"`
	Total        string `json:"total"`
}

type CheckoutResponse struct {
	TransactionID string             `json:"transaction_id"`
	StoreID       string             `json:"store_id"`
	PaymentMethod string             `json:"payment_method"`
	SubTotal      string             `json:"sub_total"`
	DiscountTotal string             `json:"discount_total"`
	GSTTotal      string             `json:"gst_total"`
	GrandTotal    string             `json:"grand_total"`
	Lines         []CheckoutLineView `json:"lines"`
	CreatedAt     string             `json:"created_at"`
}

type OrderLine struct {
	SKU      string `json:"sku"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
}

type OrderCreateRequest struct {
	StoreID string      `json:"store_id"`
	Lines   []OrderLine `json:"lines"`
}

type Order struct {
	ID        string      `json:"id"`
	StoreID   string      `json:"store_id"`
	Status    string      `json:"status"`
	InvoiceID string      `json:"invoice_id,omitempty"`
	AdminNote string      `json:"admin_note,omitempty"`
	Lines     []OrderLine `json:"lines"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type OrderDecisionRequest struct {
	Note string `json:"note,omitempty"`
}

type OrderResponse struct {
	Order   Order    `json:"order"`
	Invoice *Invoice `json:"invoice,omitempty"`
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type InvoiceLine struct {
	SKU          string          `json:"sku"`
	ItemName     string          `json:"item_name"`
	Quantity     int             `json:"quantity"`
	PricePerUnit decimal.Decimal `json:"price_per_unit"`
	Total        decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID               string          `json:"id"`
	InvoiceNo        string          `json:"invoice_no"`
	Kind             string          `json:"kind"`
	StoreID          string          `json:"store_id"`
	OrderID          string          `json:"order_id,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	StoreName        string          `json:"store_name"`
	OrganizationName string          `json:"organization_name"`
	GSTNumber        string          `json:"gst_number"`
	Amount           decimal.Decimal `json:"amount"`
	Status           string          `json:"status"`
	Lines            []InvoiceLine   `json:"lines,omitempty"`
	IssuedAt         time.Time       `json:"issued_at"`
}

type InvoiceListResponse struct {
	Invoices []Invoice `json:"invoices"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StoreID     string `json:"store_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	StoreID  string
}

// StoreProvision carries everything the repository needs to create the
// store and its owning user inside one transaction. The caller normally
// reserves the store id up front so the signup token can name it; when
// StoreID is left empty the repository allocates one inside the same
// transaction.
type StoreProvision struct {
	Store       Store
	UserID      string
	OwnerName   string
	SignupToken string
	TokenExpiry time.Time
	Now         time.Time
}

type StoreProvisionResult struct {
	Store     Store
	User      StoreUser
	UserState string
}

const (
	ProvisionUserCreated  = "created"
	ProvisionUserRelinked = "relinked"
)

// OrderApproval carries the pre-minted invoice identity into the approval
// transaction. Pricing happens inside the transaction at the organization's
// current catalogue cost.
type OrderApproval struct {
	OrderID   string
	InvoiceID string
	InvoiceNo string
	Note      string
	Now       time.Time
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	StoreID   string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin = "admin"
	RoleStore = "store"
)

const (
	StoreStatusActive   = "active"
	StoreStatusInactive = "inactive"
)

const (
	UserStatusPending  = "pending"
	UserStatusActive   = "active"
	UserStatusInactive = "inactive"
)

const (
	OrderStatusPending   = "pending"
	OrderStatusApproved  = "approved"
	OrderStatusRejected  = "rejected"
	OrderStatusFulfilled = "fulfilled"
)

const (
	InvoiceKindSale  = "sale"
	InvoiceKindOrder = "order"
)

const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusPaid      = "paid"
	InvoiceStatusFulfilled = "fulfilled"
)

const (
	MarginTypePercentage = "percentage"
	MarginTypeAbsolute   = "absolute"
)

const (
	PriceSourceOverride = "override"
	PriceSourceMargin   = "margin"
	PriceSourceDefault  = "store_default"
)
