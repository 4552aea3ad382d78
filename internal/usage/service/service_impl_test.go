package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/providers/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type repoStub struct {
	folios      int64
	latest      *time.Time
	gotSince    time.Time
	gotUntil    time.Time
	gotBusiness snowflake.ID
}

func (r *repoStub) CountFoliosIssued(ctx context.Context, db *gorm.DB, businessID snowflake.ID, since, until time.Time) (int64, error) {
	r.gotBusiness = businessID
	r.gotSince = since
	r.gotUntil = until
	return r.folios, nil
}

func (r *repoStub) LatestInvoiceIssuedAt(ctx context.Context, db *gorm.DB, billingAccountID snowflake.ID) (*time.Time, error) {
	return r.latest, nil
}

type reconcilerStub struct {
	count int64
	err   error
	from  time.Time
}

func (r *reconcilerStub) Name() string { return "stub" }

func (r *reconcilerStub) CountConfirmedTransfers(ctx context.Context, processorAccountID string, from, to time.Time) (int64, error) {
	r.from = from
	return r.count, r.err
}

var now = time.Date(2025, time.April, 1, 6, 0, 0, 0, time.UTC)

func newService(repo *repoStub, rec payment.Reconciler) *Service {
	return New(Params{
		Log:        zap.NewNop(),
		Clock:      clock.NewFakeClock(now),
		Repo:       repo,
		Reconciler: rec,
	}).(*Service)
}

func proAccount() billingaccountdomain.BillingAccount {
	return billingaccountdomain.BillingAccount{
		ID:                 snowflake.ID(1),
		BusinessID:         snowflake.ID(2),
		Plan:               billingaccountdomain.PlanProMonthly,
		ActiveUnits:        1,
		ProcessorAccountID: "123",
		CreatedAt:          time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC),
	}
}

func TestWatermarkFallsBackToAccountCreation(t *testing.T) {
	repo := &repoStub{}
	svc := newService(repo, payment.Unavailable{})
	account := proAccount()

	mark, err := svc.Watermark(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, account.CreatedAt, mark)

	issued := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	repo.latest = &issued
	mark, err = svc.Watermark(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, issued, mark)
}

func TestSnapshotCountsFromWatermark(t *testing.T) {
	issued := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	repo := &repoStub{folios: 321, latest: &issued}
	rec := &reconcilerStub{count: 9}
	svc := newService(repo, rec)

	snap, err := svc.Snapshot(context.Background(), proAccount(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(321), snap.FoliosIssued)
	assert.Equal(t, issued, repo.gotSince)
	assert.Equal(t, now, repo.gotUntil)
	assert.Equal(t, snowflake.ID(2), repo.gotBusiness)
	assert.True(t, snap.PaymentsAvailable)
	assert.Equal(t, int64(9), snap.PaymentTransfers)
	assert.Equal(t, now.AddDate(0, -1, 0), rec.from)
}

func TestSnapshotMarksPaymentsUnavailable(t *testing.T) {
	repo := &repoStub{folios: 10}
	svc := newService(repo, &reconcilerStub{err: errors.New("timeout")})

	snap, err := svc.Snapshot(context.Background(), proAccount(), now)
	require.NoError(t, err)
	assert.False(t, snap.PaymentsAvailable)
	assert.Zero(t, snap.PaymentTransfers)

	svc = newService(repo, payment.Unavailable{})
	snap, err = svc.Snapshot(context.Background(), proAccount(), now)
	require.NoError(t, err)
	assert.False(t, snap.PaymentsAvailable)
}

func TestSnapshotSkipsTransfersOnCommercialPlans(t *testing.T) {
	rec := &reconcilerStub{count: 4}
	svc := newService(&repoStub{}, rec)
	account := proAccount()
	account.Plan = billingaccountdomain.PlanCommercialMonthly

	snap, err := svc.Snapshot(context.Background(), account, now)
	require.NoError(t, err)
	assert.False(t, snap.PaymentsAvailable)
	assert.True(t, rec.from.IsZero())
}
