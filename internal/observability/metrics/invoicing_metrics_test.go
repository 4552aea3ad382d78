package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, JobReasonUnknown},
		{"deadline", fmt.Errorf("wrap: %w", context.DeadlineExceeded), JobReasonDeadlineExceeded},
		{"lock timeout", &pgconn.PgError{Code: "55P03"}, JobReasonDBLockTimeout},
		{"serialization", &pgconn.PgError{Code: "40001"}, JobReasonSerializationFailure},
		{"unique pg", &pgconn.PgError{Code: "23505"}, JobReasonUniqueViolation},
		{"unique gorm", gorm.ErrDuplicatedKey, JobReasonUniqueViolation},
		{"other pg", &pgconn.PgError{Code: "42P01"}, JobReasonDB},
		{"business", errors.New("invoice_already_exists"), JobReasonUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyJobReason(tc.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(context.Canceled))
	assert.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	assert.False(t, IsRetryable(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsRetryable(nil))
}

func TestInvoicingMetricsCountsExecutions(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newInvoicingMetrics(registry, Config{ServiceName: "supplyrail", Environment: "test"})

	m.IncExecutionStarted("order")
	m.ObserveExecutionFinished("order", "FAILED", "provider", 2*time.Second)
	m.ObserveExecutionFinished("order", "SUCCESS", "", time.Second)
	m.IncClaimRejected("order", ClaimRejectedAlreadyRunning)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.executionsStarted.WithLabelValues("order")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.executionsFinished.WithLabelValues("order", "FAILED", "provider")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.claimRejected.WithLabelValues("order", ClaimRejectedAlreadyRunning)))

	families, err := registry.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "supplyrail_invoicing_execution_duration_seconds")
}

func TestNilInvoicingMetricsAreSafe(t *testing.T) {
	var m *InvoicingMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("x")
		m.IncJobError("x", errors.New("boom"))
		m.ObserveExecutionFinished("order", "SUCCESS", "", time.Second)
	})
}
