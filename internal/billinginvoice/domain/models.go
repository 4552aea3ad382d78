package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

// BillingInvoice is the legal invoice issued for one billing period. Amounts
// are frozen once the row exists; only files, payments and cancellation move.
type BillingInvoice struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	BillingAccountID   snowflake.ID    `gorm:"not null;index" json:"billing_account_id"`
	PeriodLabel        string          `gorm:"size:16;not null;index" json:"period_label"`
	Status             Status          `gorm:"type:text;not null" json:"status"`
	PaymentTiming      string          `gorm:"not null" json:"payment_timing"`
	Provider           string          `gorm:"not null" json:"provider"`
	ProviderDocumentID string          `gorm:"not null" json:"provider_document_id"`
	Series             string          `json:"series,omitempty"`
	Folio              string          `json:"folio,omitempty"`
	TaxStampUUID       string          `gorm:"column:tax_stamp_uuid" json:"tax_stamp_uuid,omitempty"`
	Currency           string          `gorm:"not null" json:"currency"`
	Subtotal           decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"subtotal"`
	Tax                decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"tax"`
	Total              decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"total"`
	PaidAmount         decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"paid_amount"`
	UsageSnapshot      datatypes.JSON  `json:"usage_snapshot,omitempty"`
	PDFKey             string          `gorm:"column:pdf_key" json:"pdf_key,omitempty"`
	XMLKey             string          `gorm:"column:xml_key" json:"xml_key,omitempty"`
	CancelMotive       string          `json:"cancel_motive,omitempty"`
	IssuedAt           time.Time       `gorm:"not null" json:"issued_at"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"not null" json:"updated_at"`
}

func (BillingInvoice) TableName() string { return "billing_invoices" }

// Balance is what is still owed on a deferred-payment invoice.
func (i BillingInvoice) Balance() decimal.Decimal {
	return i.Total.Sub(i.PaidAmount)
}

func (i BillingInvoice) HasFiles() bool {
	return i.PDFKey != "" && i.XMLKey != ""
}

// BillingInvoiceCharge is the priced line captured when the invoice was
// issued. It does not follow later edits of the charge it came from.
type BillingInvoiceCharge struct {
	ID               snowflake.ID                    `gorm:"primaryKey" json:"id"`
	BillingInvoiceID snowflake.ID                    `gorm:"not null;index" json:"billing_invoice_id"`
	ChargeID         snowflake.ID                    `gorm:"not null" json:"charge_id"`
	Kind             billingaccountdomain.ChargeKind `gorm:"type:text;not null" json:"kind"`
	Description      string                          `json:"description"`
	Quantity         decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"quantity"`
	UnitPrice        decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"unit_price"`
	Discount         decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"discount"`
	Subtotal         decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"subtotal"`
	Tax              decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"tax"`
	Total            decimal.Decimal                 `gorm:"type:numeric(18,4);not null" json:"total"`
	CreatedAt        time.Time                       `gorm:"not null" json:"created_at"`
}

func (BillingInvoiceCharge) TableName() string { return "billing_invoice_charges" }

// BillingInvoiceComplement records one partial payment against a PPD invoice.
type BillingInvoiceComplement struct {
	ID                 snowflake.ID    `gorm:"primaryKey" json:"id"`
	BillingInvoiceID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_billing_invoice_complements_installment" json:"billing_invoice_id"`
	Installment        int             `gorm:"not null;uniqueIndex:ux_billing_invoice_complements_installment" json:"installment"`
	ProviderDocumentID string          `gorm:"not null" json:"provider_document_id"`
	TaxStampUUID       string          `gorm:"column:tax_stamp_uuid" json:"tax_stamp_uuid,omitempty"`
	PaymentForm        string          `json:"payment_form"`
	Amount             decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"amount"`
	PreviousBalance    decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"previous_balance"`
	OutstandingBalance decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"outstanding_balance"`
	PaidAt             time.Time       `gorm:"not null" json:"paid_at"`
	IssuedAt           time.Time       `gorm:"not null" json:"issued_at"`
	CreatedAt          time.Time       `gorm:"not null" json:"created_at"`
}

func (BillingInvoiceComplement) TableName() string { return "billing_invoice_complements" }

type InvoiceDetail struct {
	Invoice     BillingInvoice             `json:"invoice"`
	Charges     []BillingInvoiceCharge     `json:"charges"`
	Complements []BillingInvoiceComplement `json:"complements"`
}
