package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	billinginvoicedomain "github.com/smallbiznis/supplyrail/internal/billinginvoice/domain"
	"github.com/smallbiznis/supplyrail/internal/charging"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	"go.uber.org/zap"
)

// SubscriptionBillingJob triggers the invoice of every account that has
// none for the current period. Accounts are paged by id so one slow
// account never starves the rest of the batch.
func (s *Scheduler) SubscriptionBillingJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSubscriptionBilling, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now().UTC()
	if now.Day() < s.cfg.BillingDay {
		return nil
	}
	period := charging.PeriodLabel(now)
	var (
		afterID snowflake.ID
		jobErr  error
	)

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		accounts, err := s.accounts.ListDue(ctx, period, afterID, s.cfg.BatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.billing.list_due.failed", JobSubscriptionBilling, "", err)
			return errors.Join(jobErr, err)
		}
		if len(accounts) == 0 {
			break
		}

		for _, account := range accounts {
			afterID = account.ID
			subject := billinginvoicedomain.BillingSubject(account.ID, period)

			settled, err := s.settled(ctx, subject)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.billing.status.failed", JobSubscriptionBilling, subject, err)
				continue
			}
			if settled {
				continue
			}

			exec, succeeded, err := s.invoices.Trigger(ctx, billinginvoicedomain.GenerateRequest{
				AccountID:     account.ID.String(),
				ReferenceDate: now,
			})
			switch {
			case errors.Is(err, execdomain.ErrAlreadyRunning):
				continue
			case err != nil:
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.billing.trigger.failed", JobSubscriptionBilling, subject, err)
				continue
			}
			run.AddProcessed(1)
			s.logger(ctx).Debug("scheduler.billing.triggered",
				zap.String("subject_id", subject),
				zap.String("status", string(exec.Status)),
				zap.Int("attempts", exec.Attempts),
				zap.Bool("succeeded", succeeded),
			)
		}
		obsmetrics.Invoicing().AddBatchProcessed(JobSubscriptionBilling, "billing_account", len(accounts))

		if len(accounts) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

// settled reports whether the period needs no further automatic attempt: it
// succeeded, ended with a warning such as nothing_to_bill, or failed on
// configuration that only an operator can fix. Provider and internal
// failures are retried on the next tick.
func (s *Scheduler) settled(ctx context.Context, subjectID string) (bool, error) {
	exec, err := s.executions.FetchStatus(ctx, subjectID)
	if errors.Is(err, execdomain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch exec.Status {
	case execdomain.StatusSuccess:
		return true, nil
	case execdomain.StatusFailed:
		result, err := exec.DecodeResult()
		if err != nil {
			return false, nil
		}
		return result.Warning || result.ErrorKind == execdomain.ErrorConfiguration, nil
	default:
		return false, nil
	}
}

// StaleExecutionsJob fails RUNNING executions whose owner stopped
// heartbeating so they can be triggered again.
func (s *Scheduler) StaleExecutionsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobStaleExecutions, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	recovered, err := s.executions.RecoverStale(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.executions.recover.failed", JobStaleExecutions, "", err)
		return err
	}
	run.AddProcessed(recovered)
	obsmetrics.Invoicing().AddBatchProcessed(JobStaleExecutions, "invoicing_execution", recovered)
	if recovered > 0 {
		s.logger(ctx).Warn("scheduler.executions.recovered",
			zap.Int("count", recovered),
			zap.Duration("stale_after", s.cfg.StaleAfter),
		)
	}
	return nil
}
