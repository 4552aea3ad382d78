package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/providers/payment"
	"github.com/smallbiznis/supplyrail/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Repo       domain.Repository
	Reconciler payment.Reconciler
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	repo       domain.Repository
	reconciler payment.Reconciler
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("usage.service"),
		clock:      p.Clock,
		repo:       p.Repo,
		reconciler: p.Reconciler,
	}
}

func (s *Service) FoliosIssuedSince(ctx context.Context, businessID snowflake.ID, since time.Time) (int64, error) {
	if businessID == 0 {
		return 0, domain.ErrInvalidBusiness
	}
	return s.repo.CountFoliosIssued(ctx, s.db, businessID, since, s.clock.Now())
}

// ReconciledTransfers reports false when the processor cannot be queried.
// The caller then skips transfer charges instead of failing the run.
func (s *Service) ReconciledTransfers(ctx context.Context, account billingaccountdomain.BillingAccount, from, to time.Time) (int64, bool, error) {
	if s.reconciler == nil || account.ProcessorAccountID == "" {
		return 0, false, nil
	}
	count, err := s.reconciler.CountConfirmedTransfers(ctx, account.ProcessorAccountID, from, to)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, false, ctxErr
		}
		if !errors.Is(err, payment.ErrUnavailable) {
			s.log.Warn("payment reconciliation unavailable",
				zap.String("billing_account_id", account.ID.String()),
				zap.String("reconciler", s.reconciler.Name()),
				zap.Error(err),
			)
		}
		return 0, false, nil
	}
	return count, true, nil
}

// Watermark is the issue time of the latest active billing invoice, or the
// account creation time when none exists. It only moves when an invoice is
// persisted, so a failed run recounts from the same point.
func (s *Service) Watermark(ctx context.Context, account billingaccountdomain.BillingAccount) (time.Time, error) {
	latest, err := s.repo.LatestInvoiceIssuedAt(ctx, s.db, account.ID)
	if err != nil {
		return time.Time{}, err
	}
	if latest == nil || latest.IsZero() {
		return account.CreatedAt.UTC(), nil
	}
	return latest.UTC(), nil
}

func (s *Service) Snapshot(ctx context.Context, account billingaccountdomain.BillingAccount, referenceDate time.Time) (domain.Snapshot, error) {
	if account.BusinessID == 0 {
		return domain.Snapshot{}, domain.ErrInvalidBusiness
	}
	until := referenceDate.UTC()
	since, err := s.Watermark(ctx, account)
	if err != nil {
		return domain.Snapshot{}, err
	}

	folios, err := s.repo.CountFoliosIssued(ctx, s.db, account.BusinessID, since, until)
	if err != nil {
		return domain.Snapshot{}, err
	}

	snapshot := domain.Snapshot{
		Since:        since,
		Until:        until,
		FoliosIssued: folios,
	}

	if account.Plan.IsPro() {
		transfers, available, err := s.ReconciledTransfers(ctx, account, until.AddDate(0, -1, 0), until)
		if err != nil {
			return domain.Snapshot{}, err
		}
		snapshot.PaymentTransfers = transfers
		snapshot.PaymentsAvailable = available
	}

	return snapshot, nil
}
