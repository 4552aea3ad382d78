package payment

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable means the processor's reconciliation data cannot be read.
var ErrUnavailable = errors.New("reconciliation_unavailable")

// Reconciler counts bank transfers the payment processor confirmed for a
// collector account.
type Reconciler interface {
	Name() string
	CountConfirmedTransfers(ctx context.Context, processorAccountID string, from, to time.Time) (int64, error)
}

// Unavailable is used when no processor is configured.
type Unavailable struct{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) CountConfirmedTransfers(context.Context, string, time.Time, time.Time) (int64, error) {
	return 0, ErrUnavailable
}
