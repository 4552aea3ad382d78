package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertAccount(ctx context.Context, db *gorm.DB, account *BillingAccount) error
	FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingAccount, error)
	FindAccountByBusinessID(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*BillingAccount, error)
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan PlanCode, now time.Time) error
	UpdateCustomerReference(ctx context.Context, db *gorm.DB, id snowflake.ID, providerCustomerID string, now time.Time) error
	UpdateBilling(ctx context.Context, db *gorm.DB, id snowflake.ID, req UpdateBillingRequest, now time.Time) error

	InsertCharges(ctx context.Context, db *gorm.DB, charges []Charge) error
	FindCharge(ctx context.Context, db *gorm.DB, accountID, chargeID snowflake.ID) (*Charge, error)
	ListActiveCharges(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]Charge, error)
	DeactivateCharges(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (int64, error)

	InsertDiscount(ctx context.Context, db *gorm.DB, discount *ChargeDiscount) error
	NextDiscountPosition(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int, error)
	ListDiscounts(ctx context.Context, db *gorm.DB, chargeIDs []snowflake.ID) ([]ChargeDiscount, error)

	ListDue(ctx context.Context, db *gorm.DB, periodLabel string, afterID snowflake.ID, limit int) ([]BillingAccount, error)
}
