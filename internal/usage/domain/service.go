package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingaccountdomain "github.com/smallbiznis/supplyrail/internal/billingaccount/domain"
)

// Service reads the counters that usage-based charges are priced on.
type Service interface {
	FoliosIssuedSince(ctx context.Context, businessID snowflake.ID, since time.Time) (int64, error)
	ReconciledTransfers(ctx context.Context, account billingaccountdomain.BillingAccount, from, to time.Time) (int64, bool, error)
	Watermark(ctx context.Context, account billingaccountdomain.BillingAccount) (time.Time, error)
	Snapshot(ctx context.Context, account billingaccountdomain.BillingAccount, referenceDate time.Time) (Snapshot, error)
}

var ErrInvalidBusiness = errors.New("invalid_business")
