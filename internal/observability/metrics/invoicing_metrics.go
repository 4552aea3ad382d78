package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonDB                   = "db"
	JobReasonUnknown              = "unknown"
)

const (
	ClaimRejectedAlreadyRunning = "already_running"
	ClaimRejectedLockHeld       = "lock_held"
)

// InvoicingMetrics captures execution and scheduler health signals.
type InvoicingMetrics struct {
	jobRuns            *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	jobTimeouts        *prometheus.CounterVec
	jobErrors          *prometheus.CounterVec
	batchProcessed     *prometheus.CounterVec
	runLoopLag         prometheus.Observer
	executionsStarted  *prometheus.CounterVec
	executionsFinished *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	claimRejected      *prometheus.CounterVec
}

var (
	invoicingMetricsOnce sync.Once
	invoicingMetrics     *InvoicingMetrics
)

// Invoicing returns the singleton invoicing metrics registry.
func Invoicing() *InvoicingMetrics {
	return InvoicingWithConfig(Config{})
}

// InvoicingWithConfig returns the singleton registry using config labels.
func InvoicingWithConfig(cfg Config) *InvoicingMetrics {
	invoicingMetricsOnce.Do(func() {
		invoicingMetrics = newInvoicingMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return invoicingMetrics
}

// ResetInvoicingMetricsForTest resets the singleton for tests.
func ResetInvoicingMetricsForTest() {
	invoicingMetricsOnce = sync.Once{}
	invoicingMetrics = nil
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "supplyrail"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func newInvoicingMetrics(registerer prometheus.Registerer, cfg Config) *InvoicingMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := constLabels(cfg)

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: labels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "supplyrail_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		ConstLabels: labels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_scheduler_job_timeouts_total",
		Help:        "Scheduler job timeouts.",
		ConstLabels: labels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: labels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_scheduler_batch_processed_total",
		Help:        "Scheduler items processed by job and resource.",
		ConstLabels: labels,
	}, []string{"job", "resource"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "supplyrail_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: labels,
	})
	executionsStarted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_invoicing_executions_started_total",
		Help:        "Invoicing executions claimed in RUNNING state.",
		ConstLabels: labels,
	}, []string{"subject_kind"})
	executionsFinished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_invoicing_executions_finished_total",
		Help:        "Invoicing executions finalized by terminal status and error kind.",
		ConstLabels: labels,
	}, []string{"subject_kind", "status", "error_kind"})
	executionDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "supplyrail_invoicing_execution_duration_seconds",
		Help:        "Wall time between claim and finalization.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		ConstLabels: labels,
	}, []string{"subject_kind"})
	claimRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "supplyrail_invoicing_claim_rejected_total",
		Help:        "Duplicate triggers rejected while another execution was running.",
		ConstLabels: labels,
	}, []string{"subject_kind", "reason"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		runLoopLag,
		executionsStarted,
		executionsFinished,
		executionDuration,
		claimRejected,
	)

	return &InvoicingMetrics{
		jobRuns:            jobRuns,
		jobDuration:        jobDuration,
		jobTimeouts:        jobTimeouts,
		jobErrors:          jobErrors,
		batchProcessed:     batchProcessed,
		runLoopLag:         runLoopLag,
		executionsStarted:  executionsStarted,
		executionsFinished: executionsFinished,
		executionDuration:  executionDuration,
		claimRejected:      claimRejected,
	}
}

func (m *InvoicingMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *InvoicingMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *InvoicingMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the job error counter with classification.
func (m *InvoicingMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *InvoicingMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

func (m *InvoicingMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

func (m *InvoicingMetrics) IncExecutionStarted(subjectKind string) {
	if m == nil {
		return
	}
	m.executionsStarted.WithLabelValues(subjectKind).Inc()
}

// ObserveExecutionFinished records the terminal state of one execution.
// errorKind is empty for SUCCESS.
func (m *InvoicingMetrics) ObserveExecutionFinished(subjectKind, status, errorKind string, duration time.Duration) {
	if m == nil {
		return
	}
	m.executionsFinished.WithLabelValues(subjectKind, status, errorKind).Inc()
	m.executionDuration.WithLabelValues(subjectKind).Observe(max(duration, 0).Seconds())
}

func (m *InvoicingMetrics) IncClaimRejected(subjectKind, reason string) {
	if m == nil {
		return
	}
	m.claimRejected.WithLabelValues(subjectKind, reason).Inc()
}

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	case IsDBError(err):
		return JobReasonDB
	default:
		return JobReasonUnknown
	}
}

// IsRetryable reports whether a job error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	return hasPGCode(err, "55P03") || hasPGCode(err, "40001")
}

// IsDBError reports whether err originates from the database layer.
func IsDBError(err error) bool {
	if err == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
