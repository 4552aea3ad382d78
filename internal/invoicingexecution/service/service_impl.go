package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/clock"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/invoicingexecution/lock"
	obscontext "github.com/smallbiznis/supplyrail/internal/observability/context"
	"github.com/smallbiznis/supplyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	"github.com/smallbiznis/supplyrail/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	lockTTL         = 10 * time.Minute
	finalizeTimeout = 10 * time.Second
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Locker   *lock.Locker                 `optional:"true"`
	Notifier domain.Notifier              `optional:"true"`
	Metrics  *obsmetrics.InvoicingMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	locker   *lock.Locker
	notifier domain.Notifier
	metrics  *obsmetrics.InvoicingMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("invoicingexecution.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		locker:   p.Locker,
		notifier: p.Notifier,
		metrics:  p.Metrics,
	}
}

// Run claims subjectID, runs fn and stores its outcome. Failures of fn are
// classified into the stored result and never returned. The returned error
// covers claim problems and a finalize that failed twice; in that last case
// the row stays RUNNING until RecoverStale fails it.
func (s *Service) Run(ctx context.Context, subjectID string, kind domain.SubjectKind, fn domain.Func) (domain.Execution, bool, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || !kind.Valid() || fn == nil {
		return domain.Execution{}, false, domain.ErrInvalidSubject
	}

	log := logger.WithSubject(logger.WithContext(ctx, s.log), subjectID, string(kind))
	ctx = obscontext.WithSubjectID(ctx, subjectID)

	if s.locker != nil {
		key := lock.Key(subjectID)
		token, ok, err := s.locker.TryLock(ctx, key, lockTTL)
		switch {
		case err != nil:
			log.Warn("execution lock unavailable, relying on database claim", zap.Error(err))
		case !ok:
			s.metrics.IncClaimRejected(string(kind), obsmetrics.ClaimRejectedLockHeld)
			return s.current(ctx, subjectID), false, domain.ErrAlreadyRunning
		default:
			defer func() {
				if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
					log.Warn("failed to release execution lock", zap.Error(err))
				}
			}()
		}
	}

	now := s.clock.Now()
	claim := domain.Execution{
		ID:          s.genID.Generate(),
		SubjectID:   subjectID,
		SubjectKind: kind,
		Status:      domain.StatusRunning,
		Attempts:    1,
		StartedAt:   now,
		Result:      datatypes.JSON("{}"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	claimed, err := s.repo.Claim(ctx, s.db, &claim)
	if err != nil {
		return domain.Execution{}, false, err
	}
	if !claimed {
		s.metrics.IncClaimRejected(string(kind), obsmetrics.ClaimRejectedAlreadyRunning)
		log.Info("execution already running")
		return s.current(ctx, subjectID), false, domain.ErrAlreadyRunning
	}

	exec, err := s.repo.FindBySubject(ctx, s.db, subjectID)
	if err != nil {
		return domain.Execution{}, false, err
	}
	if exec == nil {
		return domain.Execution{}, false, domain.ErrNotFound
	}

	s.metrics.IncExecutionStarted(string(kind))
	log.Info("execution started", zap.Int("attempt", exec.Attempts))

	confirmation, fnErr := invoke(ctx, fn)

	status := domain.StatusSuccess
	result := domain.Result{
		DocumentID: confirmation.DocumentID,
		Reference:  confirmation.Reference,
		Detail:     confirmation.Detail,
	}
	if fnErr != nil {
		status = domain.StatusFailed
		result = domain.ResultFor(fnErr)
		// a document may exist upstream even though the attempt failed
		result.DocumentID = confirmation.DocumentID
		result.Reference = confirmation.Reference
	}

	finalizeCtx := context.WithoutCancel(ctx)
	endedAt := s.clock.Now()
	updated, err := s.finalize(finalizeCtx, subjectID, exec.Attempts, status, result.JSON(), endedAt)
	if err != nil {
		log.Error("failed to store execution outcome",
			zap.String("status", string(status)),
			zap.Int("attempt", exec.Attempts),
			zap.Error(err),
		)
		return *exec, false, err
	}
	if !updated {
		// The attempt was taken over by stale recovery; report what is stored.
		log.Warn("execution finished after it was recovered", zap.Int("attempt", exec.Attempts))
		stored := s.current(finalizeCtx, subjectID)
		return stored, stored.Status == domain.StatusSuccess && stored.Attempts == exec.Attempts, nil
	}

	exec.Status = status
	exec.EndedAt = &endedAt
	exec.UpdatedAt = endedAt
	exec.Result = result.JSON()

	duration := endedAt.Sub(exec.StartedAt)
	s.metrics.ObserveExecutionFinished(string(kind), string(status), string(result.ErrorKind), duration)

	if status == domain.StatusSuccess {
		log.Info("execution succeeded",
			zap.String("document_id", result.DocumentID),
			zap.Duration("duration", duration),
		)
		return *exec, true, nil
	}

	fields := []zap.Field{
		zap.String("error_kind", string(result.ErrorKind)),
		zap.String("code", result.Code),
		zap.String("detail", result.Detail),
	}
	if result.Warning {
		log.Warn("execution skipped", fields...)
	} else {
		log.Error("execution failed", fields...)
		if s.notifier != nil {
			s.notifier.ExecutionFailed(finalizeCtx, *exec, result)
		}
	}
	return *exec, false, nil
}

// finalize stores the outcome, retrying once on a fresh deadline.
func (s *Service) finalize(ctx context.Context, subjectID string, attempts int, status domain.Status, result datatypes.JSON, endedAt time.Time) (bool, error) {
	var err error
	for try := 0; try < 2; try++ {
		attemptCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
		var updated bool
		updated, err = s.repo.Finalize(attemptCtx, s.db, subjectID, attempts, status, result, endedAt)
		cancel()
		if err == nil {
			return updated, nil
		}
		s.log.Warn("finalize execution failed",
			zap.String("subject_id", subjectID),
			zap.Int("try", try+1),
			zap.Error(err),
		)
	}
	return false, err
}

// invoke runs fn and turns a panic into an internal failure.
func invoke(ctx context.Context, fn domain.Func) (conf domain.Confirmation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.Internal("panic", "the execution panicked", fmt.Errorf("%v\n%s", r, debug.Stack()))
		}
	}()
	return fn(ctx)
}

func (s *Service) current(ctx context.Context, subjectID string) domain.Execution {
	exec, err := s.repo.FindBySubject(ctx, s.db, subjectID)
	if err != nil || exec == nil {
		return domain.Execution{SubjectID: subjectID}
	}
	return *exec
}

func (s *Service) FetchStatus(ctx context.Context, subjectID string) (domain.Execution, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return domain.Execution{}, domain.ErrInvalidSubject
	}
	exec, err := s.repo.FindBySubject(ctx, s.db, subjectID)
	if err != nil {
		return domain.Execution{}, err
	}
	if exec == nil {
		return domain.Execution{}, domain.ErrNotFound
	}
	return *exec, nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	filter := domain.ListFilter{
		Status:      domain.Status(strings.ToUpper(strings.TrimSpace(req.Status))),
		SubjectKind: domain.SubjectKind(strings.TrimSpace(req.SubjectKind)),
	}
	switch filter.Status {
	case "", domain.StatusRunning, domain.StatusSuccess, domain.StatusFailed:
	default:
		return domain.ListResponse{}, domain.ErrInvalidSubject
	}
	if filter.SubjectKind != "" && !filter.SubjectKind.Valid() {
		return domain.ListResponse{}, domain.ErrInvalidSubject
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	items, err := s.repo.List(ctx, s.db, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  int(pageSize),
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(exec *domain.Execution) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        exec.ID.String(),
			CreatedAt: exec.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	executions := make([]domain.Execution, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		executions = append(executions, *item)
	}

	resp := domain.ListResponse{Executions: executions}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

// RecoverStale fails RUNNING executions whose worker disappeared so the
// subject can be triggered again.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if olderThan <= 0 {
		return 0, errors.New("stale threshold must be positive")
	}
	if limit <= 0 {
		limit = 100
	}

	now := s.clock.Now()
	stale, err := s.repo.ListRunningBefore(ctx, s.db, now.Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, exec := range stale {
		result := domain.ResultFor(domain.Internal("stale_execution", "the execution did not finish in time and was abandoned", nil))
		ok, err := s.repo.Finalize(ctx, s.db, exec.SubjectID, exec.Attempts, domain.StatusFailed, result.JSON(), now)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		recovered++
		s.metrics.ObserveExecutionFinished(string(exec.SubjectKind), string(domain.StatusFailed), string(domain.ErrorInternal), now.Sub(exec.StartedAt))
		s.log.Warn("stale execution recovered",
			zap.String("subject_id", exec.SubjectID),
			zap.Int("attempt", exec.Attempts),
		)
		if s.notifier != nil {
			exec.Status = domain.StatusFailed
			exec.EndedAt = &now
			s.notifier.ExecutionFailed(ctx, exec, result)
		}
	}
	return recovered, nil
}
