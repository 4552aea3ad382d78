package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/dispatcher/domain"
	execdomain "github.com/smallbiznis/supplyrail/internal/invoicingexecution/domain"
	"github.com/smallbiznis/supplyrail/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/supplyrail/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/supplyrail/internal/orderinvoicing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	Orders     orderdomain.Service
	Executions execdomain.Service
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	orders     orderdomain.Service
	executions execdomain.Service
	metrics    *obsmetrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("dispatcher.service"),
		repo:       p.Repo,
		orders:     p.Orders,
		executions: p.Executions,
		metrics:    p.Metrics,
	}
}

func (s *Service) OnSubjectStatusChanged(ctx context.Context, subjectID string, newStatus string) (domain.Outcome, error) {
	newStatus = strings.ToUpper(strings.TrimSpace(newStatus))
	if newStatus == "" {
		return domain.Outcome{}, domain.ErrInvalidStatus
	}
	id, err := parseSubject(subjectID)
	if err != nil {
		return domain.Outcome{}, err
	}
	s.metrics.RecordLifecycleEvent(ctx, strings.ToLower(newStatus))

	log := logger.WithSubject(logger.WithContext(ctx, s.log), orderdomain.Subject(id), string(execdomain.SubjectOrder))
	if !domain.Billable(newStatus) {
		return s.noOp(ctx, domain.ReasonNotBillable, nil), nil
	}

	policy, err := s.resolve(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !policy.AutomatedInvoicing {
		return s.noOp(ctx, domain.ReasonDisabled, &policy), nil
	}
	if !policy.Fires(newStatus) {
		return s.noOp(ctx, domain.ReasonMismatch, &policy), nil
	}

	existing, err := s.executions.FetchStatus(ctx, orderdomain.Subject(id))
	switch {
	case err == nil && existing.Status == execdomain.StatusSuccess:
		outcome := s.noOp(ctx, domain.ReasonAlreadySucceeded, &policy)
		outcome.Execution = &existing
		outcome.Succeeded = true
		return outcome, nil
	case err != nil && !errors.Is(err, execdomain.ErrNotFound):
		return domain.Outcome{}, err
	}

	exec, succeeded, err := s.orders.Trigger(ctx, id)
	if errors.Is(err, execdomain.ErrAlreadyRunning) {
		return s.noOp(ctx, domain.ReasonAlreadyRunning, &policy), nil
	}
	if err != nil {
		s.metrics.RecordDispatchDecision(ctx, "rejected", "execution_error")
		return domain.Outcome{}, err
	}

	s.metrics.RecordDispatchDecision(ctx, "triggered", string(policy.TriggeredAt))
	log.Info("order invoicing triggered",
		zap.String("status", newStatus),
		zap.String("policy_source", string(policy.Source)),
		zap.String("execution_status", string(exec.Status)),
		zap.Bool("succeeded", succeeded),
	)
	return domain.Outcome{
		Triggered: true,
		Reason:    domain.ReasonTriggered,
		Policy:    &policy,
		Execution: &exec,
		Succeeded: succeeded,
	}, nil
}

func (s *Service) ResolvePolicy(ctx context.Context, subjectID string) (domain.Policy, error) {
	id, err := parseSubject(subjectID)
	if err != nil {
		return domain.Policy{}, err
	}
	return s.resolve(ctx, id)
}

// resolve layers the restaurant relation over the supplier unit default.
func (s *Service) resolve(ctx context.Context, orderDetailsID snowflake.ID) (domain.Policy, error) {
	order, err := s.orders.GetOrder(ctx, orderDetailsID)
	if err != nil {
		return domain.Policy{}, err
	}
	policy := domain.Policy{TriggeredAt: domain.TriggerAtPurchase, Source: domain.SourceDefault}

	unit, err := s.repo.FindSupplierUnit(ctx, s.db, order.Details.SupplierUnitID)
	if err != nil {
		return domain.Policy{}, err
	}
	if unit != nil {
		policy.AutomatedInvoicing = unit.AutomatedInvoicing
		if unit.TriggeredAt.Valid() {
			policy.TriggeredAt = unit.TriggeredAt
		}
		policy.Source = domain.SourceUnit
	}

	relation, err := s.repo.FindRelation(ctx, s.db, order.Details.SupplierUnitID, order.Details.RestaurantBusinessID)
	if err != nil {
		return domain.Policy{}, err
	}
	if relation != nil {
		if relation.AutomatedInvoicing != nil {
			policy.AutomatedInvoicing = *relation.AutomatedInvoicing
			policy.Source = domain.SourceRelation
		}
		if relation.TriggeredAt != nil && relation.TriggeredAt.Valid() {
			policy.TriggeredAt = *relation.TriggeredAt
			policy.Source = domain.SourceRelation
		}
	}
	return policy, nil
}

func (s *Service) noOp(ctx context.Context, reason string, policy *domain.Policy) domain.Outcome {
	s.metrics.RecordDispatchDecision(ctx, "no_op", reason)
	return domain.Outcome{Reason: reason, Policy: policy}
}

func parseSubject(subjectID string) (snowflake.ID, error) {
	subjectID = strings.TrimSpace(subjectID)
	subjectID = strings.TrimPrefix(subjectID, string(execdomain.SubjectOrder)+":")
	id, err := snowflake.ParseString(subjectID)
	if err != nil || id <= 0 {
		return 0, domain.ErrInvalidSubject
	}
	return id, nil
}
