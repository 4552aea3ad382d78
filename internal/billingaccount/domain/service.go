package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateAccountRequest struct {
	BusinessID         string
	LegalName          string
	TaxID              string
	TaxRegime          string
	ZipCode            string
	Email              string
	Plan               string
	ActiveUnits        int
	PaymentMethodID    string
	ProcessorAccountID string
}

type UpdateBillingRequest struct {
	LegalName          *string
	TaxID              *string
	TaxRegime          *string
	ZipCode            *string
	Email              *string
	ActiveUnits        *int
	PaymentMethodID    *string
	ProcessorAccountID *string
}

type AddDiscountRequest struct {
	AccountID  string
	ChargeID   string
	Amount     string
	AmountKind string
}

type ChangePlanRequest struct {
	AccountID string
	Plan      string
}

type Service interface {
	Create(ctx context.Context, req CreateAccountRequest) (Catalog, error)
	Get(ctx context.Context, id snowflake.ID) (BillingAccount, error)
	GetByBusinessID(ctx context.Context, businessID snowflake.ID) (BillingAccount, error)
	GetCatalog(ctx context.Context, id snowflake.ID) (Catalog, error)
	ListActiveCharges(ctx context.Context, accountID snowflake.ID) ([]Charge, error)
	ListDiscounts(ctx context.Context, chargeIDs []snowflake.ID) ([]ChargeDiscount, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateBillingRequest) (BillingAccount, error)
	AddDiscount(ctx context.Context, req AddDiscountRequest) (ChargeDiscount, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (Catalog, error)
	UpdateCustomerReference(ctx context.Context, id snowflake.ID, providerCustomerID string) error
	ListDue(ctx context.Context, periodLabel string, afterID snowflake.ID, limit int) ([]BillingAccount, error)
}

var (
	ErrInvalidID          = errors.New("invalid_id")
	ErrInvalidBusiness    = errors.New("invalid_business")
	ErrInvalidLegalName   = errors.New("invalid_legal_name")
	ErrInvalidPlan        = errors.New("invalid_plan")
	ErrInvalidActiveUnits = errors.New("invalid_active_units")
	ErrInvalidDiscount    = errors.New("invalid_discount")
	ErrPlanUnchanged      = errors.New("plan_unchanged")
	ErrPlanNotConfigured  = errors.New("plan_not_configured")
	ErrAlreadyExists      = errors.New("billing_account_already_exists")
	ErrNotFound           = errors.New("not_found")
	ErrChargeNotFound     = errors.New("charge_not_found")
)
