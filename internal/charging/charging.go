// Package charging prices a billing period for a supplier business. It is a
// pure computation: the caller supplies the account, its active charges,
// their discounts and usage counters, and gets back priced lines and totals.
package charging

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
)

const (
	// AmountPrecision is the number of decimals kept on computed amounts.
	AmountPrecision = 4
	// DisplayPrecision is the number of decimals used on documents.
	DisplayPrecision = 2
)

var (
	ErrInvalidChargeConfig = errors.New("invalid_charge_config")
	ErrUnknownPlan         = errors.New("unknown_plan")
)

// Policy holds the numeric parameters the engine depends on.
type Policy struct {
	TaxRate               decimal.Decimal
	IncludedFoliosPerUnit int64
	Currency              string
}

func DefaultPolicy() Policy {
	return Policy{
		TaxRate:               decimal.RequireFromString("0.16"),
		IncludedFoliosPerUnit: 200,
		Currency:              "MXN",
	}
}

// Usage carries the counters observed for the billing window.
type Usage struct {
	FoliosIssued      int64
	PaymentTransfers  int64
	PaymentsAvailable bool
}

type Input struct {
	Account       domain.BillingAccount
	Charges       []domain.Charge
	Discounts     []domain.ChargeDiscount
	Usage         Usage
	ReferenceDate time.Time
	Policy        Policy
}

type LineItem struct {
	ChargeID  snowflake.ID      `json:"charge_id"`
	Kind      domain.ChargeKind `json:"kind"`
	Quantity  decimal.Decimal   `json:"quantity"`
	UnitPrice decimal.Decimal   `json:"unit_price"`
	Gross     decimal.Decimal   `json:"gross"`
	Discount  decimal.Decimal   `json:"discount"`
	Subtotal  decimal.Decimal   `json:"subtotal"`
	Tax       decimal.Decimal   `json:"tax"`
	Total     decimal.Decimal   `json:"total"`
}

type PricedInvoice struct {
	AccountID      snowflake.ID    `json:"billing_account_id"`
	Plan           domain.PlanCode `json:"plan"`
	PeriodLabel    string          `json:"period_label"`
	ReferenceDate  time.Time       `json:"reference_date"`
	Currency       string          `json:"currency"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	AnnualCheckout bool            `json:"annual_checkout"`
	Lines          []LineItem      `json:"lines"`
	SubtotalDue    decimal.Decimal `json:"subtotal_due"`
	TaxDue         decimal.Decimal `json:"tax_due"`
	TotalDue       decimal.Decimal `json:"total_due"`
}

// IsEmpty reports whether there is nothing to charge.
func (p PricedInvoice) IsEmpty() bool {
	return !p.TotalDue.IsPositive()
}

// Calculator prices one billing period under a specific plan.
type Calculator interface {
	ComputeTotalDue(in Input) (PricedInvoice, error)
}

// ForPlan returns the calculator that implements the plan's rules.
func ForPlan(plan domain.PlanCode) (Calculator, error) {
	switch plan {
	case domain.PlanCommercialMonthly:
		return CommercialMonthly{}, nil
	case domain.PlanCommercialAnnual:
		return CommercialAnnual{}, nil
	case domain.PlanProMonthly:
		return ProMonthly{}, nil
	case domain.PlanProAnnual:
		return ProAnnual{}, nil
	default:
		return nil, ErrUnknownPlan
	}
}

// ComputeTotalDue dispatches to the calculator of the account's plan.
func ComputeTotalDue(in Input) (PricedInvoice, error) {
	calc, err := ForPlan(in.Account.Plan)
	if err != nil {
		return PricedInvoice{}, err
	}
	return calc.ComputeTotalDue(in)
}

// PeriodLabel formats the calendar month of t, e.g. 2025-03.
func PeriodLabel(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Display renders an amount with document precision.
func Display(amount decimal.Decimal) string {
	return amount.StringFixed(DisplayPrecision)
}

func round(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(AmountPrecision)
}
