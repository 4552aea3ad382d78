package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, business_id, legal_name, tax_id, tax_regime, zip_code, email, plan, active_units,
	provider_customer_id, payment_method_id, processor_account_id, created_at, updated_at`

func (r *repo) InsertAccount(ctx context.Context, db *gorm.DB, account *domain.BillingAccount) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.BusinessID,
		account.LegalName,
		account.TaxID,
		account.TaxRegime,
		account.ZipCode,
		account.Email,
		account.Plan,
		account.ActiveUnits,
		account.ProviderCustomerID,
		account.PaymentMethodID,
		account.ProcessorAccountID,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindAccountByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingAccount, error) {
	var account domain.BillingAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM billing_accounts WHERE id = ?`,
		id,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) FindAccountByBusinessID(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*domain.BillingAccount, error) {
	var account domain.BillingAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM billing_accounts WHERE business_id = ?`,
		businessID,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, plan domain.PlanCode, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_accounts SET plan = ?, updated_at = ? WHERE id = ?`,
		plan, now, id,
	).Error
}

func (r *repo) UpdateCustomerReference(ctx context.Context, db *gorm.DB, id snowflake.ID, providerCustomerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE billing_accounts SET provider_customer_id = ?, updated_at = ? WHERE id = ?`,
		providerCustomerID, now, id,
	).Error
}

func (r *repo) UpdateBilling(ctx context.Context, db *gorm.DB, id snowflake.ID, req domain.UpdateBillingRequest, now time.Time) error {
	updates := map[string]any{"updated_at": now}
	if req.LegalName != nil {
		updates["legal_name"] = *req.LegalName
	}
	if req.TaxID != nil {
		updates["tax_id"] = *req.TaxID
	}
	if req.TaxRegime != nil {
		updates["tax_regime"] = *req.TaxRegime
	}
	if req.ZipCode != nil {
		updates["zip_code"] = *req.ZipCode
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if req.ActiveUnits != nil {
		updates["active_units"] = *req.ActiveUnits
	}
	if req.PaymentMethodID != nil {
		updates["payment_method_id"] = *req.PaymentMethodID
	}
	if req.ProcessorAccountID != nil {
		updates["processor_account_id"] = *req.ProcessorAccountID
	}
	// the provider customer is bound to the tax identity it was created with
	if req.TaxID != nil || req.TaxRegime != nil || req.ZipCode != nil || req.LegalName != nil {
		updates["provider_customer_id"] = ""
	}
	return db.WithContext(ctx).
		Model(&domain.BillingAccount{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repo) InsertCharges(ctx context.Context, db *gorm.DB, charges []domain.Charge) error {
	if len(charges) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&charges).Error
}

func (r *repo) FindCharge(ctx context.Context, db *gorm.DB, accountID, chargeID snowflake.ID) (*domain.Charge, error) {
	var charge domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, billing_account_id, kind, unit_amount, amount_kind, currency, active, created_at, deactivated_at
		 FROM charges WHERE billing_account_id = ? AND id = ?`,
		accountID, chargeID,
	).Scan(&charge).Error
	if err != nil {
		return nil, err
	}
	if charge.ID == 0 {
		return nil, nil
	}
	return &charge, nil
}

func (r *repo) ListActiveCharges(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]domain.Charge, error) {
	var charges []domain.Charge
	err := db.WithContext(ctx).Raw(
		`SELECT id, billing_account_id, kind, unit_amount, amount_kind, currency, active, created_at, deactivated_at
		 FROM charges WHERE billing_account_id = ? AND active = ?
		 ORDER BY created_at ASC, id ASC`,
		accountID, true,
	).Scan(&charges).Error
	if err != nil {
		return nil, err
	}
	return charges, nil
}

func (r *repo) DeactivateCharges(ctx context.Context, db *gorm.DB, accountID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE charges SET active = ?, deactivated_at = ? WHERE billing_account_id = ? AND active = ?`,
		false, now, accountID, true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) InsertDiscount(ctx context.Context, db *gorm.DB, discount *domain.ChargeDiscount) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO charge_discounts (id, charge_id, amount, amount_kind, position, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		discount.ID,
		discount.ChargeID,
		discount.Amount,
		discount.AmountKind,
		discount.Position,
		discount.CreatedAt,
	).Error
}

func (r *repo) NextDiscountPosition(ctx context.Context, db *gorm.DB, chargeID snowflake.ID) (int, error) {
	var next int
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(position), 0) + 1 FROM charge_discounts WHERE charge_id = ?`,
		chargeID,
	).Scan(&next).Error
	return next, err
}

func (r *repo) ListDiscounts(ctx context.Context, db *gorm.DB, chargeIDs []snowflake.ID) ([]domain.ChargeDiscount, error) {
	if len(chargeIDs) == 0 {
		return nil, nil
	}
	var discounts []domain.ChargeDiscount
	err := db.WithContext(ctx).Raw(
		`SELECT id, charge_id, amount, amount_kind, position, created_at
		 FROM charge_discounts WHERE charge_id IN ?
		 ORDER BY charge_id ASC, position ASC, id ASC`,
		chargeIDs,
	).Scan(&discounts).Error
	if err != nil {
		return nil, err
	}
	return discounts, nil
}

// ListDue returns accounts without an active invoice for the period,
// paged by id.
func (r *repo) ListDue(ctx context.Context, db *gorm.DB, periodLabel string, afterID snowflake.ID, limit int) ([]domain.BillingAccount, error) {
	var accounts []domain.BillingAccount
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM billing_accounts ba
		 WHERE ba.id > ?
		   AND NOT EXISTS (
		     SELECT 1 FROM billing_invoices bi
		     WHERE bi.billing_account_id = ba.id AND bi.period_label = ? AND bi.status = 'ACTIVE'
		   )
		 ORDER BY ba.id ASC
		 LIMIT ?`,
		afterID, periodLabel, limit,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}
