package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/supplyrail/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// CountFoliosIssued counts every folio stamped for the supplier business in
// (since, until]. Canceled order invoices still consumed a folio.
func (r *repo) CountFoliosIssued(ctx context.Context, db *gorm.DB, businessID snowflake.ID, since, until time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM order_invoices
		 WHERE supplier_business_id = ? AND issued_at > ? AND issued_at <= ?`,
		businessID, since, until,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) LatestInvoiceIssuedAt(ctx context.Context, db *gorm.DB, billingAccountID snowflake.ID) (*time.Time, error) {
	var row struct {
		IssuedAt *time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT issued_at FROM billing_invoices
		 WHERE billing_account_id = ? AND status = 'ACTIVE'
		 ORDER BY issued_at DESC
		 LIMIT 1`,
		billingAccountID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return row.IssuedAt, nil
}
