package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-co-op/gocron/v2"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/internal/clock"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobSubscriptionBilling = "subscription_billing"
	JobStaleExecutions     = "stale_executions"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type dueAccounts interface {
	ListDue(ctx context.Context, periodLabel string, afterID snowflake.ID, limit int) ([]billingaccountdomain.BillingAccount, error)
}

type billingTrigger interface {
	Trigger(ctx context.Context, req billinginvoicedomain.GenerateRequest) (execdomain.Execution, bool, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Accounts   billingaccountdomain.Service
	Invoices   billinginvoicedomain.Service
	Executions execdomain.Service
	Config     Config `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	accounts   dueAccounts
	invoices   billingTrigger
	executions execdomain.Service

	mu      sync.Mutex
	cron    gocron.Scheduler
	cancel  context.CancelFunc
	lastRun time.Time
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Accounts == nil || p.Invoices == nil || p.Executions == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		accounts:   p.Accounts,
		invoices:   p.Invoices,
		executions: p.Executions,
	}, nil
}

// Start registers RunOnce as a singleton duration job. Overlapping ticks
// are rescheduled instead of queued.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	_, err = cron.NewJob(
		gocron.DurationJob(s.cfg.RunInterval),
		gocron.NewTask(s.tick, ctx),
		gocron.WithName("supplyrail-scheduler"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		cancel()
		return err
	}

	cron.Start()
	s.cron = cron
	s.cancel = cancel
	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.RunInterval))
	return nil
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}
	s.cancel()
	err := s.cron.Shutdown()
	s.cron = nil
	s.log.Info("scheduler stopped")
	return err
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()
	if !s.lastRun.IsZero() {
		if lag := now.Sub(s.lastRun) - s.cfg.RunInterval; lag > 0 {
			obsmetrics.Invoicing().ObserveRunLoopLag(lag)
		}
	}
	s.lastRun = now

	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("scheduler run failed", zap.Error(err))
	}
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	jobMetrics := obsmetrics.Invoicing()
	jobMetrics.IncJobRun(name)

	err := fn(ctx)
	jobMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a timed out job picks up where it stopped on the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		jobMetrics.IncJobTimeout(name)
	}
	jobMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobStaleExecutions, s.StaleExecutionsJob},
		{JobSubscriptionBilling, s.SubscriptionBillingJob},
	}

	for _, job := range jobs {
		if !s.isJobEnabled(job.Name) {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// every job runs when none is listed
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), jobName) {
			return true
		}
	}
	return false
}
