package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type notifierStub struct {
	mu      sync.Mutex
	results []domain.Result
}

func (n *notifierStub) ExecutionFailed(ctx context.Context, exec domain.Execution, result domain.Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func (n *notifierStub) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.results)
}

func setup(t *testing.T) (*Service, *gorm.DB, *clock.FakeClock, *notifierStub) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Execution{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2025, time.March, 1, 8, 0, 0, 0, time.UTC))
	notifier := &notifierStub{}
	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fake,
		Repo:     repository.Provide(),
		Notifier: notifier,
	}).(*Service)
	return svc, db, fake, notifier
}

type flakyFinalizeRepo struct {
	domain.Repository
	failures int
	calls    int
}

func (r *flakyFinalizeRepo) Finalize(ctx context.Context, db *gorm.DB, subjectID string, attempts int, status domain.Status, result datatypes.JSON, endedAt time.Time) (bool, error) {
	r.calls++
	if r.calls <= r.failures {
		return false, errors.New("connection reset by peer")
	}
	return r.Repository.Finalize(ctx, db, subjectID, attempts, status, result, endedAt)
}

func ok(documentID string) domain.Func {
	return func(ctx context.Context) (domain.Confirmation, error) {
		return domain.Confirmation{DocumentID: documentID, Reference: "SR-" + documentID}, nil
	}
}

func TestRunRecordsSuccess(t *testing.T) {
	svc, _, _, notifier := setup(t)

	exec, succeeded, err := svc.Run(context.Background(), "billing_account:1:2025-03", domain.SubjectBillingAccount, ok("inv_1"))
	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, domain.StatusSuccess, exec.Status)
	assert.Equal(t, 1, exec.Attempts)
	require.NotNil(t, exec.EndedAt)

	stored, err := svc.FetchStatus(context.Background(), "billing_account:1:2025-03")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	result, err := stored.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, "inv_1", result.DocumentID)
	assert.Zero(t, notifier.count())
}

func TestRunRecordsClassifiedFailureAndRetries(t *testing.T) {
	svc, _, _, notifier := setup(t)
	ctx := context.Background()
	subject := "billing_account:2:2025-03"

	exec, succeeded, err := svc.Run(ctx, subject, domain.SubjectBillingAccount, func(ctx context.Context) (domain.Confirmation, error) {
		return domain.Confirmation{}, domain.Configuration("missing_payment_method", "no payment method on file", nil)
	})
	require.NoError(t, err)
	assert.False(t, succeeded)
	assert.Equal(t, domain.StatusFailed, exec.Status)

	result, err := exec.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorConfiguration, result.ErrorKind)
	assert.Equal(t, "missing_payment_method", result.Code)
	assert.Equal(t, 1, notifier.count())

	retried, succeeded, err := svc.Run(ctx, subject, domain.SubjectBillingAccount, ok("inv_2"))
	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, exec.ID, retried.ID)
	assert.Equal(t, 2, retried.Attempts)

	cleared, err := retried.DecodeResult()
	require.NoError(t, err)
	assert.Empty(t, cleared.ErrorKind)
}

func TestRunWarningDoesNotNotify(t *testing.T) {
	svc, _, _, notifier := setup(t)

	exec, succeeded, err := svc.Run(context.Background(), "billing_account:3:2025-03", domain.SubjectBillingAccount, func(ctx context.Context) (domain.Confirmation, error) {
		return domain.Confirmation{}, domain.Warning("nothing_to_bill", "nothing to bill", nil)
	})
	require.NoError(t, err)
	assert.False(t, succeeded)
	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Zero(t, notifier.count())
}

func TestRunRecoversPanics(t *testing.T) {
	svc, _, _, _ := setup(t)

	exec, succeeded, err := svc.Run(context.Background(), "order:9", domain.SubjectOrder, func(ctx context.Context) (domain.Confirmation, error) {
		panic("nil map")
	})
	require.NoError(t, err)
	assert.False(t, succeeded)
	result, err := exec.DecodeResult()
	require.NoError(t, err)
	assert.Equal(t, domain.ErrorInternal, result.ErrorKind)
	assert.Equal(t, "panic", result.Code)
}

func TestRunRejectsDuplicateWhileRunning(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	subject := "order:10"

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan domain.Execution, 1)
	go func() {
		exec, _, _ := svc.Run(ctx, subject, domain.SubjectOrder, func(ctx context.Context) (domain.Confirmation, error) {
			close(started)
			<-release
			return domain.Confirmation{DocumentID: "inv_10"}, nil
		})
		done <- exec
	}()
	<-started

	current, succeeded, err := svc.Run(ctx, subject, domain.SubjectOrder, ok("inv_dup"))
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
	assert.False(t, succeeded)
	assert.Equal(t, domain.StatusRunning, current.Status)
	assert.Equal(t, 1, current.Attempts)

	close(release)
	final := <-done
	assert.Equal(t, domain.StatusSuccess, final.Status)
	assert.Equal(t, 1, final.Attempts)
}

func TestRunConcurrentClaimsSingleWinner(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()
	subject := "billing_account:4:2025-03"
	const callers = 8

	var ran, rejected int32
	release := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Run(ctx, subject, domain.SubjectBillingAccount, func(ctx context.Context) (domain.Confirmation, error) {
				atomic.AddInt32(&ran, 1)
				<-release
				return domain.Confirmation{DocumentID: "inv_4"}, nil
			})
			if errors.Is(err, domain.ErrAlreadyRunning) {
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&ran)+atomic.LoadInt32(&rejected) == callers
	}, 5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ran)
	assert.Equal(t, int32(callers-1), rejected)

	stored, err := svc.FetchStatus(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
}

func TestRecoverStaleReleasesSubject(t *testing.T) {
	svc, db, fake, notifier := setup(t)
	ctx := context.Background()
	subject := "billing_account:5:2025-03"

	now := fake.Now()
	claimed, err := svc.repo.Claim(ctx, db, &domain.Execution{
		ID:          svc.genID.Generate(),
		SubjectID:   subject,
		SubjectKind: domain.SubjectBillingAccount,
		StartedAt:   now,
		Result:      []byte("{}"),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)
	require.True(t, claimed)

	recovered, err := svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Zero(t, recovered)

	fake.Advance(2 * time.Hour)
	recovered, err = svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)
	assert.Equal(t, 1, notifier.count())

	stored, err := svc.FetchStatus(ctx, subject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	exec, succeeded, err := svc.Run(ctx, subject, domain.SubjectBillingAccount, ok("inv_5"))
	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, 2, exec.Attempts)
}

func TestFetchStatusAndList(t *testing.T) {
	svc, _, fake, _ := setup(t)
	ctx := context.Background()

	_, err := svc.FetchStatus(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.FetchStatus(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)

	_, _, err = svc.Run(ctx, "order:1", domain.SubjectOrder, ok("a"))
	require.NoError(t, err)
	fake.Advance(time.Second)
	_, _, err = svc.Run(ctx, "order:2", domain.SubjectOrder, func(ctx context.Context) (domain.Confirmation, error) {
		return domain.Confirmation{}, errors.New("boom")
	})
	require.NoError(t, err)
	fake.Advance(time.Second)
	_, _, err = svc.Run(ctx, "billing_account:1:2025-03", domain.SubjectBillingAccount, ok("b"))
	require.NoError(t, err)

	failed, err := svc.List(ctx, domain.ListRequest{Status: "failed"})
	require.NoError(t, err)
	require.Len(t, failed.Executions, 1)
	assert.Equal(t, "order:2", failed.Executions[0].SubjectID)

	orders, err := svc.List(ctx, domain.ListRequest{SubjectKind: "order"})
	require.NoError(t, err)
	assert.Len(t, orders.Executions, 2)

	_, err = svc.List(ctx, domain.ListRequest{Status: "pending"})
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)
}

func TestRunValidatesSubject(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, _, err := svc.Run(context.Background(), "", domain.SubjectOrder, ok("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)
	_, _, err = svc.Run(context.Background(), "x", domain.SubjectKind("invoice"), ok("x"))
	assert.ErrorIs(t, err, domain.ErrInvalidSubject)
}

func TestRunRetriesFinalizeOnce(t *testing.T) {
	svc, _, _, _ := setup(t)
	repo := &flakyFinalizeRepo{Repository: svc.repo, failures: 1}
	svc.repo = repo
	subject := "order:9100"

	exec, succeeded, err := svc.Run(context.Background(), subject, domain.SubjectOrder, ok("inv_9100"))
	require.NoError(t, err)
	assert.True(t, succeeded)
	assert.Equal(t, domain.StatusSuccess, exec.Status)
	assert.Equal(t, 2, repo.calls)

	stored, err := svc.FetchStatus(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, stored.Status)
	require.NotNil(t, stored.EndedAt)
}

func TestRunLeavesRowRunningWhenFinalizeKeepsFailing(t *testing.T) {
	svc, _, fake, _ := setup(t)
	repo := &flakyFinalizeRepo{Repository: svc.repo, failures: 2}
	svc.repo = repo
	subject := "order:9101"

	_, succeeded, err := svc.Run(context.Background(), subject, domain.SubjectOrder, ok("inv_9101"))
	require.Error(t, err)
	assert.False(t, succeeded)
	assert.Equal(t, 2, repo.calls)

	stored, err := svc.FetchStatus(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, stored.Status)

	fake.Advance(time.Hour)
	recovered, err := svc.RecoverStale(context.Background(), 30*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	stored, err = svc.FetchStatus(context.Background(), subject)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, stored.Status)
}
