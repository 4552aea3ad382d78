package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// PlanCode identifies the subscription plan a supplier business is on.
type PlanCode string

const (
	PlanCommercialMonthly PlanCode = "commercial_monthly"
	PlanCommercialAnnual  PlanCode = "commercial_annual"
	PlanProMonthly        PlanCode = "pro_monthly"
	PlanProAnnual         PlanCode = "pro_annual"
)

func (p PlanCode) Valid() bool {
	switch p {
	case PlanCommercialMonthly, PlanCommercialAnnual, PlanProMonthly, PlanProAnnual:
		return true
	default:
		return false
	}
}

func (p PlanCode) IsAnnual() bool {
	return p == PlanCommercialAnnual || p == PlanProAnnual
}

func (p PlanCode) IsPro() bool {
	return p == PlanProMonthly || p == PlanProAnnual
}

func ParsePlanCode(raw string) (PlanCode, error) {
	plan := PlanCode(strings.ToLower(strings.TrimSpace(raw)))
	if !plan.Valid() {
		return "", ErrInvalidPlan
	}
	return plan, nil
}

type ChargeKind string

const (
	ChargeSaaSFee             ChargeKind = "SAAS_FEE"
	ChargeReports             ChargeKind = "REPORTS"
	ChargeInvoiceFolioOverage ChargeKind = "INVOICE_FOLIO_OVERAGE"
	ChargePaymentTransaction  ChargeKind = "PAYMENT_TRANSACTION"
)

func (k ChargeKind) Valid() bool {
	switch k {
	case ChargeSaaSFee, ChargeReports, ChargeInvoiceFolioOverage, ChargePaymentTransaction:
		return true
	default:
		return false
	}
}

// AmountKind tells whether an amount is a currency value or a percentage.
type AmountKind string

const (
	AmountFixed      AmountKind = "fixed"
	AmountPercentage AmountKind = "percentage"
)

func (k AmountKind) Valid() bool {
	return k == AmountFixed || k == AmountPercentage
}

// BillingAccount is the billing profile of a supplier business.
type BillingAccount struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID         snowflake.ID `gorm:"not null;uniqueIndex" json:"business_id"`
	LegalName          string       `gorm:"not null" json:"legal_name"`
	TaxID              string       `gorm:"column:tax_id" json:"tax_id,omitempty"`
	TaxRegime          string       `gorm:"column:tax_regime" json:"tax_regime,omitempty"`
	ZipCode            string       `gorm:"column:zip_code" json:"zip_code,omitempty"`
	Email              string       `json:"email,omitempty"`
	Plan               PlanCode     `gorm:"type:text;not null" json:"plan"`
	ActiveUnits        int          `gorm:"not null;default:1" json:"active_units"`
	ProviderCustomerID string       `gorm:"column:provider_customer_id" json:"provider_customer_id,omitempty"`
	PaymentMethodID    string       `gorm:"column:payment_method_id" json:"payment_method_id,omitempty"`
	ProcessorAccountID string       `gorm:"column:processor_account_id" json:"processor_account_id,omitempty"`
	CreatedAt          time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null" json:"updated_at"`
}

func (BillingAccount) TableName() string { return "billing_accounts" }

func (a BillingAccount) HasTaxIdentity() bool {
	return strings.TrimSpace(a.TaxID) != "" && strings.TrimSpace(a.TaxRegime) != "" && strings.TrimSpace(a.ZipCode) != ""
}

func (a BillingAccount) HasPaymentMethod() bool {
	return strings.TrimSpace(a.PaymentMethodID) != ""
}

// Charge is a priced line template attached to a billing account.
type Charge struct {
	ID               snowflake.ID    `gorm:"primaryKey" json:"id"`
	BillingAccountID snowflake.ID    `gorm:"not null;index" json:"billing_account_id"`
	Kind             ChargeKind      `gorm:"type:text;not null" json:"kind"`
	UnitAmount       decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"unit_amount"`
	AmountKind       AmountKind      `gorm:"type:text;not null" json:"amount_kind"`
	Currency         string          `gorm:"not null" json:"currency"`
	Active           bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt        time.Time       `gorm:"not null" json:"created_at"`
	DeactivatedAt    *time.Time      `json:"deactivated_at,omitempty"`
}

func (Charge) TableName() string { return "charges" }

// ChargeDiscount reduces the amount of one charge. Discounts of the same
// charge are applied by ascending Position.
type ChargeDiscount struct {
	ID         snowflake.ID    `gorm:"primaryKey" json:"id"`
	ChargeID   snowflake.ID    `gorm:"not null;index" json:"charge_id"`
	Amount     decimal.Decimal `gorm:"type:numeric(18,4);not null" json:"amount"`
	AmountKind AmountKind      `gorm:"type:text;not null" json:"amount_kind"`
	Position   int             `gorm:"not null" json:"position"`
	CreatedAt  time.Time       `gorm:"not null" json:"created_at"`
}

func (ChargeDiscount) TableName() string { return "charge_discounts" }

// Catalog is an account together with its active charges and their discounts.
type Catalog struct {
	Account   BillingAccount   `json:"account"`
	Charges   []Charge         `json:"charges"`
	Discounts []ChargeDiscount `json:"discounts"`
}
