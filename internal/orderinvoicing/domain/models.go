package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// OrderDetails is one immutable version of an order placed by a restaurant
// with a supplier unit. Each version is invoiced at most once.
type OrderDetails struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	OrderID              snowflake.ID `gorm:"not null;index" json:"order_id"`
	Version              int          `gorm:"not null" json:"version"`
	SupplierBusinessID   snowflake.ID `gorm:"not null;index" json:"supplier_business_id"`
	SupplierUnitID       snowflake.ID `gorm:"not null" json:"supplier_unit_id"`
	RestaurantBusinessID snowflake.ID `gorm:"not null" json:"restaurant_business_id"`
	Status               string       `gorm:"not null" json:"status"`
	Currency             string       `gorm:"not null" json:"currency"`
	CreatedAt            time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time    `gorm:"not null" json:"updated_at"`
}

func (OrderDetails) TableName() string { return "order_details" }

type OrderItem struct {
	ID             snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderDetailsID snowflake.ID    `gorm:"not null;index" json:"order_details_id"`
	Description    string          `gorm:"not null" json:"description"`
	ProductCode    string          `json:"product_code,omitempty"`
	UnitCode       string          `json:"unit_code,omitempty"`
	Quantity       decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"quantity"`
	UnitPrice      decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"unit_price"`
	// TaxRate is nil when the configured rate applies.
	TaxRate *decimal.Decimal `gorm:"type:numeric(6,4)" json:"tax_rate,omitempty"`
}

func (OrderItem) TableName() string { return "order_items" }

// RestaurantBusiness is the buyer side of an order.
type RestaurantBusiness struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	LegalName string       `gorm:"not null" json:"legal_name"`
	TaxID     string       `gorm:"column:tax_id" json:"tax_id,omitempty"`
	TaxRegime string       `gorm:"column:tax_regime" json:"tax_regime,omitempty"`
	ZipCode   string       `gorm:"column:zip_code" json:"zip_code,omitempty"`
	CFDIUse   string       `gorm:"column:cfdi_use" json:"cfdi_use,omitempty"`
	Email     string       `json:"email,omitempty"`
}

func (RestaurantBusiness) TableName() string { return "restaurant_businesses" }

func (r RestaurantBusiness) HasTaxIdentity() bool {
	return strings.TrimSpace(r.TaxID) != "" && strings.TrimSpace(r.TaxRegime) != "" && strings.TrimSpace(r.ZipCode) != ""
}

type InvoiceStatus string

const (
	InvoiceActive   InvoiceStatus = "ACTIVE"
	InvoiceCanceled InvoiceStatus = "CANCELED"
)

// OrderInvoice is a folio stamped for an order. Billing counts these rows
// to price folio overage.
type OrderInvoice struct {
	ID                   snowflake.ID    `gorm:"primaryKey" json:"id"`
	OrderDetailsID       snowflake.ID    `gorm:"not null;index" json:"order_details_id"`
	SupplierBusinessID   snowflake.ID    `gorm:"not null;index" json:"supplier_business_id"`
	RestaurantBusinessID snowflake.ID    `gorm:"not null" json:"restaurant_business_id"`
	Status               InvoiceStatus   `gorm:"type:text;not null" json:"status"`
	Provider             string          `gorm:"not null" json:"provider"`
	ProviderDocumentID   string          `gorm:"not null" json:"provider_document_id"`
	Series               string          `json:"series,omitempty"`
	Folio                string          `json:"folio,omitempty"`
	TaxStampUUID         string          `gorm:"column:tax_stamp_uuid" json:"tax_stamp_uuid,omitempty"`
	Currency             string          `gorm:"not null" json:"currency"`
	Subtotal             decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"subtotal"`
	Tax                  decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"tax"`
	Total                decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total"`
	IssuedAt             time.Time       `gorm:"not null;index" json:"issued_at"`
	CreatedAt            time.Time       `gorm:"not null" json:"created_at"`
}

func (OrderInvoice) TableName() string { return "order_invoices" }

// Order is an order version with everything needed to invoice it.
type Order struct {
	Details    OrderDetails
	Items      []OrderItem
	Restaurant RestaurantBusiness
}
