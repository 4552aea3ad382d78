package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/config"
	"github.com/smallbiznis/supplyrail/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      domain.Repository
	Invoicing *config.InvoicingConfigHolder
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      domain.Repository
	invoicing *config.InvoicingConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("billingaccount.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		invoicing: p.Invoicing,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (domain.Catalog, error) {
	businessID, err := parseID(req.BusinessID)
	if err != nil {
		return domain.Catalog{}, domain.ErrInvalidBusiness
	}

	legalName := strings.TrimSpace(req.LegalName)
	if legalName == "" {
		return domain.Catalog{}, domain.ErrInvalidLegalName
	}

	plan, err := domain.ParsePlanCode(req.Plan)
	if err != nil {
		return domain.Catalog{}, err
	}

	units := req.ActiveUnits
	if units == 0 {
		units = 1
	}
	if units < 0 {
		return domain.Catalog{}, domain.ErrInvalidActiveUnits
	}

	now := s.clock.Now()
	account := domain.BillingAccount{
		ID:                 s.genID.Generate(),
		BusinessID:         businessID,
		LegalName:          legalName,
		TaxID:              strings.ToUpper(strings.TrimSpace(req.TaxID)),
		TaxRegime:          strings.TrimSpace(req.TaxRegime),
		ZipCode:            strings.TrimSpace(req.ZipCode),
		Email:              strings.TrimSpace(req.Email),
		Plan:               plan,
		ActiveUnits:        units,
		PaymentMethodID:    strings.TrimSpace(req.PaymentMethodID),
		ProcessorAccountID: strings.TrimSpace(req.ProcessorAccountID),
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	charges, err := s.defaultCharges(account.ID, plan)
	if err != nil {
		return domain.Catalog{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindAccountByBusinessID(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrAlreadyExists
		}
		if err := s.repo.InsertAccount(ctx, tx, &account); err != nil {
			// a concurrent create won the unique business_id
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrAlreadyExists
			}
			return err
		}
		return s.repo.InsertCharges(ctx, tx, charges)
	})
	if err != nil {
		return domain.Catalog{}, err
	}

	s.log.Info("billing account created",
		zap.String("billing_account_id", account.ID.String()),
		zap.String("business_id", businessID.String()),
		zap.String("plan", string(plan)),
	)

	return domain.Catalog{Account: account, Charges: charges}, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.BillingAccount, error) {
	if id == 0 {
		return domain.BillingAccount{}, domain.ErrInvalidID
	}
	account, err := s.repo.FindAccountByID(ctx, s.db, id)
	if err != nil {
		return domain.BillingAccount{}, err
	}
	if account == nil {
		return domain.BillingAccount{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) GetByBusinessID(ctx context.Context, businessID snowflake.ID) (domain.BillingAccount, error) {
	if businessID == 0 {
		return domain.BillingAccount{}, domain.ErrInvalidBusiness
	}
	account, err := s.repo.FindAccountByBusinessID(ctx, s.db, businessID)
	if err != nil {
		return domain.BillingAccount{}, err
	}
	if account == nil {
		return domain.BillingAccount{}, domain.ErrNotFound
	}
	return *account, nil
}

func (s *Service) GetCatalog(ctx context.Context, id snowflake.ID) (domain.Catalog, error) {
	return s.loadCatalog(ctx, s.db, id)
}

func (s *Service) ListActiveCharges(ctx context.Context, accountID snowflake.ID) ([]domain.Charge, error) {
	if accountID == 0 {
		return nil, domain.ErrInvalidID
	}
	return s.repo.ListActiveCharges(ctx, s.db, accountID)
}

func (s *Service) ListDiscounts(ctx context.Context, chargeIDs []snowflake.ID) ([]domain.ChargeDiscount, error) {
	return s.repo.ListDiscounts(ctx, s.db, chargeIDs)
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req domain.UpdateBillingRequest) (domain.BillingAccount, error) {
	if id == 0 {
		return domain.BillingAccount{}, domain.ErrInvalidID
	}
	if req.LegalName != nil {
		trimmed := strings.TrimSpace(*req.LegalName)
		if trimmed == "" {
			return domain.BillingAccount{}, domain.ErrInvalidLegalName
		}
		req.LegalName = &trimmed
	}
	if req.TaxID != nil {
		normalized := strings.ToUpper(strings.TrimSpace(*req.TaxID))
		req.TaxID = &normalized
	}
	if req.ActiveUnits != nil && *req.ActiveUnits < 0 {
		return domain.BillingAccount{}, domain.ErrInvalidActiveUnits
	}

	if _, err := s.Get(ctx, id); err != nil {
		return domain.BillingAccount{}, err
	}
	if err := s.repo.UpdateBilling(ctx, s.db, id, req, s.clock.Now()); err != nil {
		return domain.BillingAccount{}, err
	}
	return s.Get(ctx, id)
}

func (s *Service) AddDiscount(ctx context.Context, req domain.AddDiscountRequest) (domain.ChargeDiscount, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.ChargeDiscount{}, domain.ErrInvalidID
	}
	chargeID, err := parseID(req.ChargeID)
	if err != nil {
		return domain.ChargeDiscount{}, domain.ErrChargeNotFound
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsNegative() {
		return domain.ChargeDiscount{}, domain.ErrInvalidDiscount
	}
	kind := domain.AmountKind(strings.ToLower(strings.TrimSpace(req.AmountKind)))
	if kind == "" {
		kind = domain.AmountFixed
	}
	if !kind.Valid() {
		return domain.ChargeDiscount{}, domain.ErrInvalidDiscount
	}
	if kind == domain.AmountPercentage && amount.GreaterThan(decimal.NewFromInt(100)) {
		return domain.ChargeDiscount{}, domain.ErrInvalidDiscount
	}

	discount := domain.ChargeDiscount{
		ID:         s.genID.Generate(),
		ChargeID:   chargeID,
		Amount:     amount,
		AmountKind: kind,
		CreatedAt:  s.clock.Now(),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		charge, err := s.repo.FindCharge(ctx, tx, accountID, chargeID)
		if err != nil {
			return err
		}
		if charge == nil || !charge.Active {
			return domain.ErrChargeNotFound
		}
		position, err := s.repo.NextDiscountPosition(ctx, tx, chargeID)
		if err != nil {
			return err
		}
		discount.Position = position
		return s.repo.InsertDiscount(ctx, tx, &discount)
	})
	if err != nil {
		return domain.ChargeDiscount{}, err
	}
	return discount, nil
}

// ChangePlan swaps the account plan and replaces its active charges with the
// new plan defaults. Discounts stay attached to the retired charges.
func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (domain.Catalog, error) {
	accountID, err := parseID(req.AccountID)
	if err != nil {
		return domain.Catalog{}, domain.ErrInvalidID
	}
	plan, err := domain.ParsePlanCode(req.Plan)
	if err != nil {
		return domain.Catalog{}, err
	}

	var catalog domain.Catalog
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.repo.FindAccountByID(ctx, tx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return domain.ErrNotFound
		}
		if account.Plan == plan {
			return domain.ErrPlanUnchanged
		}

		charges, err := s.defaultCharges(account.ID, plan)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		if _, err := s.repo.DeactivateCharges(ctx, tx, account.ID, now); err != nil {
			return err
		}
		if err := s.repo.UpdatePlan(ctx, tx, account.ID, plan, now); err != nil {
			return err
		}
		if err := s.repo.InsertCharges(ctx, tx, charges); err != nil {
			return err
		}

		catalog, err = s.loadCatalog(ctx, tx, account.ID)
		return err
	})
	if err != nil {
		return domain.Catalog{}, err
	}

	s.log.Info("billing account plan changed",
		zap.String("billing_account_id", accountID.String()),
		zap.String("plan", string(plan)),
	)
	return catalog, nil
}

func (s *Service) UpdateCustomerReference(ctx context.Context, id snowflake.ID, providerCustomerID string) error {
	providerCustomerID = strings.TrimSpace(providerCustomerID)
	if id == 0 || providerCustomerID == "" {
		return domain.ErrInvalidID
	}
	return s.repo.UpdateCustomerReference(ctx, s.db, id, providerCustomerID, s.clock.Now())
}

func (s *Service) ListDue(ctx context.Context, periodLabel string, afterID snowflake.ID, limit int) ([]domain.BillingAccount, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListDue(ctx, s.db, periodLabel, afterID, limit)
}

func (s *Service) loadCatalog(ctx context.Context, db *gorm.DB, id snowflake.ID) (domain.Catalog, error) {
	if id == 0 {
		return domain.Catalog{}, domain.ErrInvalidID
	}
	account, err := s.repo.FindAccountByID(ctx, db, id)
	if err != nil {
		return domain.Catalog{}, err
	}
	if account == nil {
		return domain.Catalog{}, domain.ErrNotFound
	}

	charges, err := s.repo.ListActiveCharges(ctx, db, id)
	if err != nil {
		return domain.Catalog{}, err
	}
	chargeIDs := make([]snowflake.ID, 0, len(charges))
	for _, charge := range charges {
		chargeIDs = append(chargeIDs, charge.ID)
	}
	discounts, err := s.repo.ListDiscounts(ctx, db, chargeIDs)
	if err != nil {
		return domain.Catalog{}, err
	}

	return domain.Catalog{Account: *account, Charges: charges, Discounts: discounts}, nil
}

func (s *Service) defaultCharges(accountID snowflake.ID, plan domain.PlanCode) ([]domain.Charge, error) {
	cfg := s.invoicing.Get()
	defaults, ok := cfg.Plans[string(plan)]
	if !ok || len(defaults) == 0 {
		return nil, domain.ErrPlanNotConfigured
	}

	now := s.clock.Now()
	charges := make([]domain.Charge, 0, len(defaults))
	for _, def := range defaults {
		kind := domain.ChargeKind(strings.ToUpper(strings.TrimSpace(def.Kind)))
		if !kind.Valid() {
			return nil, domain.ErrPlanNotConfigured
		}
		if kind == domain.ChargePaymentTransaction && !plan.IsPro() {
			continue
		}
		amountKind := domain.AmountKind(strings.ToLower(strings.TrimSpace(def.AmountKind)))
		if amountKind == "" {
			amountKind = domain.AmountFixed
		}
		charges = append(charges, domain.Charge{
			ID:               s.genID.Generate(),
			BillingAccountID: accountID,
			Kind:             kind,
			UnitAmount:       decimal.NewFromFloat(def.Amount),
			AmountKind:       amountKind,
			Currency:         cfg.Currency,
			Active:           true,
			CreatedAt:        now,
		})
	}
	return charges, nil
}

func parseID(value string) (snowflake.ID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, domain.ErrInvalidID
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidID
	}
	return snowflake.ID(id), nil
}
